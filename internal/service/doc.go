package service

// Package service wires the factory core into a running program.
//
// Overview
// The Supervisor owns the job store, the registry and a container of machines
// keyed by their UUID. The first machine added is the default one, it is the
// machine the Console drives. Machine events fan out to every notifier: the
// log, optionally NATS, and the Console.
//
// The Console is a line oriented command interpreter. It reads commands from
// an io.Reader, calls the machine and the registry and writes plain text
// replies. Machine events (progress, failure, completion) are queued by the
// Console notifier and printed from the Console goroutine, so the output is
// never written concurrently.
//
// Data flow:
//
//   Console               Machine{id}            Registry         FileStore
//      |                     |                      |                 |
//   start ----------------->| Start() -> loop ----->| progress ------>| SaveAll
//      |                     |                      |                 |
//      |<------ Event -------| notify (after unlock)|                 |
//      |                     |                      |                 |
//   Supervisor.Do: serves status report triggers of a gocron scheduler and
//   closes machines, notifiers and the store on shutdown.
//
// Invariants:
//   - The Console must be created before the machine is started.
//   - A full Console event queue drops events, the loop never waits for it.
//   - Supervisor.Do waits for all production loops before closing the store.
//
// internal/service/console_test.go shows a complete operator session.
