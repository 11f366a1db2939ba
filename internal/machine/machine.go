// Package machine implements the production machine and its production loop.
//
// Overview
// A Machine owns a SignalLight and works on the current job of a
// registry.Registry. Start spawns one production loop goroutine, Stop cancels
// it. At most one loop is live per machine, because Start spawns only from
// Ready and the state stays Running for the whole life of the loop.
//
// State transitions:
//
//	Ready   --Start (job in work)-->  Running
//	Running --Stop--------------->    Ready    (loop cancelled, job stays InWork)
//	Running --loop completes----->    Ready    (job Done)
//	Running --loop fails--------->    Error    (job stays InWork)
//	Error   --Stop--------------->    Ready    (reset, no job change)
//
// Every Start increments a generation counter which is handed over to the
// loop together with a cancellable context. All loop tail actions (progress
// write, failure, completion) run under the machine lock and only when the
// generation still matches and the machine is Running. A stale loop left
// behind by a fast Stop/Start cycle can't touch the newer session.
//
// Lock order is machine -> registry. The registry never calls back.
//
// Notifiers are called after the lock is released, from the goroutine which
// caused the change.
package machine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CZERTAINLY/Factory/internal/log"
	"github.com/CZERTAINLY/Factory/internal/model"
	"github.com/CZERTAINLY/Factory/internal/registry"
)

var (
	ErrNoActiveJob    = fmt.Errorf("machine has no active job: %w", model.ErrStateConflict)
	ErrAlreadyRunning = fmt.Errorf("machine is already running: %w", model.ErrStateConflict)
	ErrInErrorState   = fmt.Errorf("machine is in error state, use stop to reset: %w", model.ErrStateConflict)
	ErrAlreadyStopped = fmt.Errorf("machine is already stopped: %w", model.ErrStateConflict)
)

// FailureFunc decides whether the tick which produced the given count broke
// the machine.
type FailureFunc func(produced int) bool

type Config struct {
	Tick        time.Duration
	FailureRate float64
}

// ConfigFrom converts the machine section of a config file.
func ConfigFrom(cfg model.Machine) (Config, error) {
	tick, err := cfg.TickDuration()
	if err != nil {
		return Config{}, err
	}
	if cfg.FailureRate < 0 || cfg.FailureRate > 1 {
		return Config{}, fmt.Errorf("machine.failure_rate must be in [0, 1], got %v", cfg.FailureRate)
	}
	return Config{Tick: tick, FailureRate: cfg.FailureRate}, nil
}

// Status is a point in time snapshot of a machine.
type Status struct {
	ID    uuid.UUID
	State model.State
	Light model.Color
	Job   *model.Job
}

type Machine struct {
	id        uuid.UUID
	registry  *registry.Registry
	tick      time.Duration
	failed    FailureFunc
	notifiers []model.Notifier

	mx         sync.Mutex
	state      model.State
	light      SignalLight
	cancelFunc context.CancelFunc
	generation uint64
	wg         sync.WaitGroup
}

func New(reg *registry.Registry, cfg Config) *Machine {
	if cfg.Tick <= 0 {
		cfg.Tick = model.DefaultTick
	}
	rate := cfg.FailureRate
	return &Machine{
		id:       uuid.New(),
		registry: reg,
		tick:     cfg.Tick,
		failed: func(int) bool {
			return rand.Float64() < rate
		},
		state: model.StateReady,
		light: NewSignalLight(),
	}
}

// WithFailureFunc replaces the random failure draw.
// This method exists for a unit testing only.
func (m *Machine) WithFailureFunc(f FailureFunc) *Machine {
	m.failed = f
	return m
}

// WithNotifiers adds notifiers called on every machine event. It must be
// called before the machine is started.
func (m *Machine) WithNotifiers(notifiers ...model.Notifier) *Machine {
	m.notifiers = append(m.notifiers, notifiers...)
	return m
}

func (m *Machine) ID() uuid.UUID {
	return m.id
}

func (m *Machine) Registry() *registry.Registry {
	return m.registry
}

func (m *Machine) State() model.State {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.state
}

func (m *Machine) Light() model.Color {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.light.Color()
}

func (m *Machine) Status() Status {
	m.mx.Lock()
	defer m.mx.Unlock()
	s := Status{
		ID:    m.id,
		State: m.state,
		Light: m.light.Color(),
	}
	if job, ok := m.registry.CurrentJob(); ok {
		s.Job = &job
	}
	return s
}

// Start spawns the production loop for the current job. It returns
// ErrAlreadyRunning, ErrInErrorState or ErrNoActiveJob, all of them wrap
// model.ErrStateConflict. Start does not wait for the loop.
func (m *Machine) Start(ctx context.Context) error {
	m.mx.Lock()
	switch m.state {
	case model.StateRunning:
		m.mx.Unlock()
		return ErrAlreadyRunning
	case model.StateError:
		m.mx.Unlock()
		return ErrInErrorState
	}

	// a current job which already reached its target completes without ticking
	job, ok := m.registry.CurrentJob()
	if !ok {
		m.mx.Unlock()
		return ErrNoActiveJob
	}

	m.generation++
	gen := m.generation
	loopCtx := log.ContextAttrs(context.WithoutCancel(ctx),
		slog.String("machine_id", m.id.String()),
		slog.Uint64("generation", gen),
	)
	loopCtx, m.cancelFunc = context.WithCancel(loopCtx)
	m.setState(model.StateRunning)
	ev := m.event(model.EventState, &job)
	m.wg.Add(1)
	m.mx.Unlock()

	go m.run(loopCtx, gen, job)
	slog.InfoContext(ctx, "machine started", "machine_id", m.id, "job_id", job.ID, "produced", job.Produced, "quantity", job.Quantity)
	m.notify(ctx, ev)
	return nil
}

// Stop cancels a running production loop, or resets the machine from Error.
// In both cases the machine ends in Ready and the current job keeps its
// progress. Stopping a Ready machine returns ErrAlreadyStopped. Stop does not wait for the loop to exit.
func (m *Machine) Stop(ctx context.Context) error {
	m.mx.Lock()
	var msg string
	switch m.state {
	case model.StateReady:
		m.mx.Unlock()
		return ErrAlreadyStopped
	case model.StateRunning:
		m.discardLoop()
		msg = "machine stopped"
	case model.StateError:
		msg = "machine reset from error state"
	}
	m.setState(model.StateReady)
	var jobp *model.Job
	if job, ok := m.registry.CurrentJob(); ok {
		jobp = &job
	}
	ev := m.event(model.EventState, jobp)
	m.mx.Unlock()

	attrs := []any{"machine_id", m.id}
	if jobp != nil {
		attrs = append(attrs, "job_id", jobp.ID, "produced", jobp.Produced, "quantity", jobp.Quantity)
	}
	slog.InfoContext(ctx, msg, attrs...)
	m.notify(ctx, ev)
	return nil
}

// Close cancels a running loop and waits until it exits.
func (m *Machine) Close() {
	m.mx.Lock()
	if m.state == model.StateRunning {
		m.discardLoop()
		m.setState(model.StateReady)
	}
	m.mx.Unlock()
	m.wg.Wait()
}

// setState refreshes the light together with the state, so both are always
// seen consistent. Must be called with m.mx held.
func (m *Machine) setState(s model.State) {
	m.state = s
	m.light.Update(s)
}

// discardLoop cancels the loop and drops the handle. Must be called with m.mx held.
func (m *Machine) discardLoop() {
	if m.cancelFunc != nil {
		m.cancelFunc()
		m.cancelFunc = nil
	}
}

// live reports whether the loop of generation gen still owns the machine.
// Must be called with m.mx held.
func (m *Machine) live(gen uint64) bool {
	return m.generation == gen && m.state == model.StateRunning
}

// event must be called with m.mx held.
func (m *Machine) event(kind model.EventKind, job *model.Job) model.Event {
	return model.Event{
		Kind:      kind,
		MachineID: m.id,
		State:     m.state,
		Light:     m.light.Color(),
		Job:       job,
		Time:      time.Now().UTC(),
	}
}

func (m *Machine) notify(ctx context.Context, events ...model.Event) {
	var errs []error
	for _, ev := range events {
		for _, n := range m.notifiers {
			if err := n.Notify(ctx, ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		slog.WarnContext(ctx, "notifying machine event failed", "machine_id", m.id, "error", err)
	}
}
