// Package registry is the single owner of all jobs and of the "at most one
// job in work" rule.
//
// Every public method is a critical section guarded by one mutex. Mutating
// methods persist the full job set through Store before they return, still
// holding the lock, so writers never interleave. A failed save is logged and
// the in-memory change stays applied.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/CZERTAINLY/Factory/internal/model"
)

// Store is the persistence collaborator. LoadAll never fails, it logs and
// returns an empty slice instead.
type Store interface {
	LoadAll(ctx context.Context) []model.Job
	SaveAll(ctx context.Context, jobs []model.Job) error
}

// Listing groups jobs by status, every group is ordered by id.
type Listing struct {
	Pending []model.Job
	InWork  []model.Job
	Done    []model.Job
}

type Registry struct {
	mx      sync.Mutex
	store   Store
	jobs    []*model.Job // insertion order
	nextID  int
	current *model.Job
}

// New seeds the registry from store. The next id is max(loaded ids)+1.
func New(ctx context.Context, store Store) *Registry {
	r := &Registry{
		store:  store,
		nextID: 1,
	}
	seen := make(map[int]struct{})
	for _, job := range store.LoadAll(ctx) {
		if _, ok := seen[job.ID]; ok {
			slog.WarnContext(ctx, "duplicate job id: ignoring", "job_id", job.ID)
			continue
		}
		if job.Quantity <= 0 {
			slog.WarnContext(ctx, "job with non positive quantity: ignoring", "job_id", job.ID, "quantity", job.Quantity)
			continue
		}
		seen[job.ID] = struct{}{}
		normalize(&job)
		r.jobs = append(r.jobs, &job)
		if job.ID >= r.nextID {
			r.nextID = job.ID + 1
		}
	}

	// restore the active job, there must be at most one
	for _, job := range r.sorted() {
		if job.Status != model.JobInWork {
			continue
		}
		if r.current == nil {
			r.current = job
			continue
		}
		slog.WarnContext(ctx, "more than one job in work: moving back to pending", "job_id", job.ID, "current_job_id", r.current.ID)
		job.Status = model.JobPending
	}

	slog.DebugContext(ctx, "registry loaded", "jobs", len(r.jobs), "next_id", r.nextID)
	return r
}

// CreateJob appends a new Pending job.
func (r *Registry) CreateJob(ctx context.Context, productName string, quantity int) (model.Job, error) {
	if strings.TrimSpace(productName) == "" {
		return model.Job{}, fmt.Errorf("product name is empty: %w", model.ErrInvalidArgument)
	}
	if quantity <= 0 {
		return model.Job{}, fmt.Errorf("quantity must be positive, got %d: %w", quantity, model.ErrInvalidArgument)
	}

	r.mx.Lock()
	defer r.mx.Unlock()
	job := model.NewJob(r.nextID, productName, quantity)
	r.nextID++
	r.jobs = append(r.jobs, &job)
	slog.InfoContext(ctx, "job created", "job_id", job.ID, "product", job.ProductName, "quantity", job.Quantity)
	r.save(ctx)
	return job, nil
}

// StartJob makes the job InWork and current.
func (r *Registry) StartJob(ctx context.Context, id int) (model.Job, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	if r.current != nil && r.current.Status == model.JobInWork {
		return model.Job{}, fmt.Errorf("job %d is in work: %w", r.current.ID, model.ErrConflict)
	}
	job := r.find(id)
	if job == nil {
		return model.Job{}, fmt.Errorf("job %d: %w", id, model.ErrNotFound)
	}
	if job.Status == model.JobDone {
		return model.Job{}, fmt.Errorf("job %d: %w", id, model.ErrAlreadyCompleted)
	}

	job.Status = model.JobInWork
	r.current = job
	slog.InfoContext(ctx, "job started", "job_id", job.ID, "produced", job.Produced, "quantity", job.Quantity)
	r.save(ctx)
	return *job, nil
}

// CompleteCurrentJob forces the current job to Done and clears it. Without a
// current job it does nothing.
func (r *Registry) CompleteCurrentJob(ctx context.Context) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.complete(ctx)
}

// CompleteJob is CompleteCurrentJob applied only when id is still the
// current job. It reports whether the job was completed.
func (r *Registry) CompleteJob(ctx context.Context, id int) bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.current == nil || r.current.ID != id {
		return false
	}
	return r.complete(ctx)
}

// complete also handles a current job which reached Done through progress
// updates, it is cleared here.
func (r *Registry) complete(ctx context.Context) bool {
	if r.current == nil {
		return false
	}
	job := r.current
	job.Produce(job.Quantity)
	r.current = nil
	slog.InfoContext(ctx, "job completed", "job_id", job.ID, "produced", job.Produced)
	r.save(ctx)
	return true
}

// UpdateCurrentJobProgress records the absolute produced count of the current
// job. Reaching the target makes the job Done, but it stays current until
// CompleteCurrentJob.
func (r *Registry) UpdateCurrentJobProgress(ctx context.Context, produced int) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.progress(ctx, produced)
}

// UpdateJobProgress is UpdateCurrentJobProgress applied only when id is still
// the current job. It reports whether the job is still the current one.
func (r *Registry) UpdateJobProgress(ctx context.Context, id int, produced int) bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.current == nil || r.current.ID != id {
		return false
	}
	r.progress(ctx, produced)
	return true
}

func (r *Registry) progress(ctx context.Context, produced int) {
	job := r.current
	if job == nil || job.Status != model.JobInWork {
		return
	}
	if produced < job.Produced {
		slog.DebugContext(ctx, "progress goes backwards: ignoring", "job_id", job.ID, "produced", job.Produced, "got", produced)
		return
	}
	job.Produce(min(produced, job.Quantity))
	slog.DebugContext(ctx, "job progress", "job_id", job.ID, "produced", job.Produced, "quantity", job.Quantity)
	r.save(ctx)
}

// CancelJob removes a job which is not Done yet.
func (r *Registry) CancelJob(ctx context.Context, id int) (model.Job, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	idx := slices.IndexFunc(r.jobs, func(j *model.Job) bool { return j.ID == id })
	if idx < 0 {
		return model.Job{}, fmt.Errorf("job %d: %w", id, model.ErrNotFound)
	}
	job := r.jobs[idx]
	if job.Status == model.JobDone {
		return model.Job{}, fmt.Errorf("job %d: %w", id, model.ErrAlreadyCompleted)
	}
	if r.current == job {
		r.current = nil
	}
	r.jobs = slices.Delete(r.jobs, idx, idx+1)
	slog.InfoContext(ctx, "job cancelled", "job_id", job.ID, "produced", job.Produced)
	r.save(ctx)
	return *job, nil
}

// CurrentJob returns the job in work, if any.
func (r *Registry) CurrentJob() (model.Job, bool) {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.current == nil {
		return model.Job{}, false
	}
	return *r.current, true
}

func (r *Registry) JobStatus(id int) (model.Job, error) {
	r.mx.Lock()
	defer r.mx.Unlock()
	job := r.find(id)
	if job == nil {
		return model.Job{}, fmt.Errorf("job %d: %w", id, model.ErrNotFound)
	}
	return *job, nil
}

func (r *Registry) ListAll() Listing {
	r.mx.Lock()
	defer r.mx.Unlock()
	var l Listing
	for _, job := range r.sorted() {
		switch job.Status {
		case model.JobPending:
			l.Pending = append(l.Pending, *job)
		case model.JobInWork:
			l.InWork = append(l.InWork, *job)
		case model.JobDone:
			l.Done = append(l.Done, *job)
		}
	}
	return l
}

// Jobs returns copies of all jobs in insertion order.
func (r *Registry) Jobs() []model.Job {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.snapshot()
}

func (r *Registry) find(id int) *model.Job {
	for _, job := range r.jobs {
		if job.ID == id {
			return job
		}
	}
	return nil
}

func (r *Registry) sorted() []*model.Job {
	ret := slices.Clone(r.jobs)
	slices.SortFunc(ret, func(a, b *model.Job) int { return a.ID - b.ID })
	return ret
}

func (r *Registry) snapshot() []model.Job {
	ret := make([]model.Job, len(r.jobs))
	for i, job := range r.jobs {
		ret[i] = *job
	}
	return ret
}

func (r *Registry) save(ctx context.Context) {
	if err := r.store.SaveAll(ctx, r.snapshot()); err != nil {
		slog.ErrorContext(ctx, "saving jobs failed", "error", err)
	}
}

// normalize keeps Done iff produced >= quantity for jobs read from a store.
func normalize(job *model.Job) {
	job.Produced = max(job.Produced, 0)
	switch {
	case job.Produced >= job.Quantity:
		job.Produced = job.Quantity
		job.Status = model.JobDone
	case job.Status == model.JobDone:
		job.Produced = job.Quantity
	}
}
