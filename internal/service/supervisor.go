package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	gocron "github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/CZERTAINLY/Factory/internal/bus"
	"github.com/CZERTAINLY/Factory/internal/machine"
	"github.com/CZERTAINLY/Factory/internal/model"
	"github.com/CZERTAINLY/Factory/internal/parallel"
	"github.com/CZERTAINLY/Factory/internal/registry"
	"github.com/CZERTAINLY/Factory/internal/store"
)

type Supervisor struct {
	registry  *registry.Registry
	store     *store.FileStore
	notifiers []model.Notifier
	scheduler gocron.Scheduler
	report    chan struct{}

	mx       sync.Mutex
	machines map[uuid.UUID]*machine.Machine
	order    []uuid.UUID
}

// NewSupervisor opens the job store, loads the registry and creates the
// default machine. Machine events go to the log and, when enabled, to NATS.
func NewSupervisor(ctx context.Context, cfg model.Config) (*Supervisor, error) {
	if cfg.Version != 0 {
		return nil, fmt.Errorf("config version %d is not supported, expected 0", cfg.Version)
	}
	mcfg, err := machine.ConfigFrom(cfg.Machine)
	if err != nil {
		return nil, err
	}

	dir := cfg.Store.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating job store dir %s: %w", dir, err)
	}
	fs, err := store.NewFileStore(dir, cfg.Store.File)
	if err != nil {
		return nil, err
	}

	notifiers, err := notifiers(ctx, cfg.Events)
	if err != nil {
		_ = fs.Close()
		return nil, fmt.Errorf("initializing notifiers: %w", err)
	}

	var supervisor = &Supervisor{
		store:     fs,
		notifiers: notifiers,
		report:    make(chan struct{}, 1),
		machines:  make(map[uuid.UUID]*machine.Machine),
	}
	if cfg.Service.Report != nil {
		supervisor.scheduler, err = newScheduler(ctx, *cfg.Service.Report, supervisor.TriggerReport)
		if err != nil {
			supervisor.closeNotifiers(ctx)
			supervisor.closeStore(ctx)
			return nil, fmt.Errorf("status report: %w", err)
		}
	}

	supervisor.registry = registry.New(ctx, fs)

	m := machine.New(supervisor.registry, mcfg).WithNotifiers(notifiers...)
	supervisor.Add(ctx, m)
	slog.DebugContext(ctx, "supervisor initialized", "jobs_file", fs.Path(), "machine_id", m.ID())
	return supervisor, nil
}

func (s *Supervisor) Registry() *registry.Registry {
	return s.registry
}

// Add registers a machine. A machine with an already known id is ignored.
func (s *Supervisor) Add(ctx context.Context, m *machine.Machine) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if _, ok := s.machines[m.ID()]; ok {
		slog.WarnContext(ctx, "machine already added: ignoring", "machine_id", m.ID())
		return
	}
	s.machines[m.ID()] = m
	s.order = append(s.order, m.ID())
}

// Machine returns the default machine, the first one added.
func (s *Supervisor) Machine() *machine.Machine {
	s.mx.Lock()
	defer s.mx.Unlock()
	if len(s.order) == 0 {
		return nil
	}
	return s.machines[s.order[0]]
}

func (s *Supervisor) Get(id uuid.UUID) (*machine.Machine, bool) {
	s.mx.Lock()
	defer s.mx.Unlock()
	m, ok := s.machines[id]
	return m, ok
}

// Machines returns all machines in the order they were added.
func (s *Supervisor) Machines() []*machine.Machine {
	s.mx.Lock()
	defer s.mx.Unlock()
	ret := make([]*machine.Machine, 0, len(s.order))
	for _, id := range s.order {
		ret = append(ret, s.machines[id])
	}
	return ret
}

// TriggerReport asks the Do loop for a status report. It never blocks, a
// report already waiting absorbs the new one.
func (s *Supervisor) TriggerReport() {
	select {
	case s.report <- struct{}{}:
	default:
	}
}

// Report logs the status of every machine and returns the snapshots.
func (s *Supervisor) Report(ctx context.Context) []machine.Status {
	machines := s.Machines()
	ret := make([]machine.Status, 0, len(machines))
	for _, m := range machines {
		st := m.Status()
		ret = append(ret, st)
		attrs := []any{"machine_id", st.ID, "state", st.State, "light", st.Light}
		if st.Job != nil {
			attrs = append(attrs, "job_id", st.Job.ID, "produced", st.Job.Produced, "quantity", st.Job.Quantity)
		}
		slog.InfoContext(ctx, "machine status", attrs...)
	}
	return ret
}

// Do runs the supervisor event loop until ctx is cancelled. It serves status
// report triggers coming from the scheduler.
//
// Shutdown (deferred order): stop scheduler -> close machines (waits for
// production loops) -> close notifiers -> close job store.
func (s *Supervisor) Do(ctx context.Context) error {
	slog.DebugContext(ctx, "starting a supervisor")

	defer s.closeStore(ctx)
	defer s.closeNotifiers(ctx)
	defer s.closeMachines(ctx)

	if s.scheduler != nil {
		s.scheduler.Start()
		defer func() {
			err := s.scheduler.Shutdown()
			if err != nil {
				slog.ErrorContext(ctx, "shutting down gocron has failed", "error", err)
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.report:
			s.Report(ctx)
		}
	}
}

// closeMachines stops all machines at once, so the slowest production loop
// bounds the shutdown.
func (s *Supervisor) closeMachines(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	closeMachine := func(_ context.Context, m *machine.Machine) (uuid.UUID, error) {
		m.Close()
		return m.ID(), nil
	}
	machines := s.Machines()
	for id := range parallel.NewMap(ctx, len(machines), closeMachine).Iter(parallel.All(machines)) {
		slog.DebugContext(ctx, "machine closed", "machine_id", id)
	}
}

func (s *Supervisor) closeNotifiers(ctx context.Context) {
	for _, n := range s.notifiers {
		if closer, ok := n.(model.NotifyCloser); ok {
			err := closer.Close()
			if err != nil {
				slog.ErrorContext(ctx, "closing notifier have failed", "error", err)
			}
		}
	}
}

func (s *Supervisor) closeStore(ctx context.Context) {
	if err := s.store.Close(); err != nil {
		slog.ErrorContext(ctx, "closing job store have failed", "error", err)
	}
}

func newScheduler(ctx context.Context, cfg model.Report, reportFunc func()) (gocron.Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var job gocron.JobDefinition
	switch {
	case cfg.Cron != "":
		job = gocron.CronJob(cfg.Cron, false)
		slog.DebugContext(ctx, "successfully parsed", "cron", cfg.Cron)
	case cfg.Duration != "":
		d, err := model.ParseISODuration(cfg.Duration)
		if err != nil {
			return nil, err
		}
		job = gocron.DurationJob(d)
		slog.DebugContext(ctx, "successfully parsed", "duration", d.String())
	default:
		return nil, errors.New("both cron and duration are empty")
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		job,
		gocron.NewTask(reportFunc),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	return s, nil
}

func notifiers(ctx context.Context, cfg model.Events) ([]model.Notifier, error) {
	notifiers := []model.Notifier{LogNotifier{}}
	if cfg.NATS != nil && cfg.NATS.Enabled {
		n, err := bus.Dial(ctx, *cfg.NATS)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, n)
	}
	return notifiers, nil
}

// LogNotifier writes machine events to the default logger at debug level.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, e model.Event) error {
	attrs := []any{"kind", e.Kind, "machine_id", e.MachineID, "state", e.State, "light", e.Light}
	if e.Job != nil {
		attrs = append(attrs, "job_id", e.Job.ID, "produced", e.Job.Produced, "quantity", e.Job.Quantity)
	}
	slog.DebugContext(ctx, "machine event", attrs...)
	return nil
}
