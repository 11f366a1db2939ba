package machine

import (
	"context"
	"log/slog"
	"time"

	"github.com/CZERTAINLY/Factory/internal/model"
)

// run is the production loop of generation gen. It works on a copy of the job
// captured by Start and continues from the already produced count.
func (m *Machine) run(ctx context.Context, gen uint64, job model.Job) {
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "production loop panicked", "job_id", job.ID, "panic", r)
			m.fallback(ctx, gen)
		}
	}()

	produced := job.Produced
	slog.DebugContext(ctx, "production loop started", "job_id", job.ID, "produced", produced, "quantity", job.Quantity)
	for produced < job.Quantity {
		// wait first, so a Stop right after Start records nothing
		select {
		case <-ctx.Done():
			slog.DebugContext(ctx, "production loop cancelled", "job_id", job.ID, "produced", produced)
			return
		case <-time.After(m.tick):
		}

		produced++
		if !m.advance(ctx, gen, job.ID, produced) {
			return
		}
	}
	m.finish(ctx, gen, job.ID)
}

// advance records one produced unit and draws a failure. It returns false
// when the loop must end.
func (m *Machine) advance(ctx context.Context, gen uint64, jobID, produced int) bool {
	failed := m.failed(produced)
	ev, ok := m.record(ctx, gen, jobID, produced, failed)
	if ev != nil {
		m.notify(ctx, *ev)
	}
	return ok
}

func (m *Machine) record(ctx context.Context, gen uint64, jobID, produced int, failed bool) (*model.Event, bool) {
	m.mx.Lock()
	defer m.mx.Unlock()
	if !m.live(gen) {
		slog.DebugContext(ctx, "production loop is stale: exiting", "job_id", jobID)
		return nil, false
	}

	if !m.registry.UpdateJobProgress(ctx, jobID, produced) {
		slog.WarnContext(ctx, "job is no longer active: stopping machine", "job_id", jobID)
		m.discardLoop()
		m.setState(model.StateReady)
		ev := m.event(model.EventState, nil)
		return &ev, false
	}

	if failed {
		// the last unit made the job Done, it must not stay the active one
		if cur, ok := m.registry.CurrentJob(); ok && cur.ID == jobID && cur.Status == model.JobDone {
			m.registry.CompleteJob(ctx, jobID)
		}
		m.discardLoop()
		m.setState(model.StateError)
		job, _ := m.registry.JobStatus(jobID)
		slog.ErrorContext(ctx, "machine failure", "job_id", jobID, "produced", job.Produced, "quantity", job.Quantity)
		ev := m.event(model.EventFailure, &job)
		return &ev, false
	}

	job, _ := m.registry.JobStatus(jobID)
	ev := m.event(model.EventProgress, &job)
	return &ev, true
}

// finish completes the job and returns the machine to Ready.
func (m *Machine) finish(ctx context.Context, gen uint64, jobID int) {
	events := m.complete(ctx, gen, jobID)
	m.notify(ctx, events...)
}

func (m *Machine) complete(ctx context.Context, gen uint64, jobID int) []model.Event {
	m.mx.Lock()
	defer m.mx.Unlock()
	if !m.live(gen) {
		return nil
	}
	if !m.registry.CompleteJob(ctx, jobID) {
		slog.WarnContext(ctx, "job is no longer active: nothing to complete", "job_id", jobID)
	}
	m.discardLoop()
	m.setState(model.StateReady)

	var events []model.Event
	if job, err := m.registry.JobStatus(jobID); err == nil {
		slog.InfoContext(ctx, "job finished", "job_id", jobID, "produced", job.Produced)
		events = append(events, m.event(model.EventCompleted, &job))
	}
	return append(events, m.event(model.EventState, nil))
}

// fallback returns a machine still owned by gen to Ready, so it never stays
// Running without a live loop.
func (m *Machine) fallback(ctx context.Context, gen uint64) {
	m.mx.Lock()
	if !m.live(gen) {
		m.mx.Unlock()
		return
	}
	m.discardLoop()
	m.setState(model.StateReady)
	ev := m.event(model.EventState, nil)
	m.mx.Unlock()
	slog.WarnContext(ctx, "machine returned to ready after a loop fault")
	m.notify(ctx, ev)
}
