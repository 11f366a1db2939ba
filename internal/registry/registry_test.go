package registry_test

import (
	"errors"
	"testing"

	"github.com/CZERTAINLY/Factory/internal/model"
	"github.com/CZERTAINLY/Factory/internal/registry"
	"github.com/CZERTAINLY/Factory/internal/store"

	"github.com/stretchr/testify/require"
)

func TestCreateJob(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	st := store.NewMemoryStore()
	reg := registry.New(ctx, st)

	for i := range 3 {
		job, err := reg.CreateJob(ctx, "Widget", i+1)
		require.NoError(t, err)
		require.Equal(t, i+1, job.ID)
		require.Equal(t, model.JobPending, job.Status)
		require.Zero(t, job.Produced)
	}
	require.Equal(t, 3, st.Saves())
	require.Len(t, st.LoadAll(ctx), 3)

	t.Run("invalid", func(t *testing.T) {
		_, err := reg.CreateJob(ctx, "Widget", 0)
		require.ErrorIs(t, err, model.ErrInvalidArgument)
		_, err = reg.CreateJob(ctx, "Widget", -1)
		require.ErrorIs(t, err, model.ErrInvalidArgument)
		_, err = reg.CreateJob(ctx, "  ", 1)
		require.ErrorIs(t, err, model.ErrInvalidArgument)
		require.Len(t, reg.Jobs(), 3)
	})

	t.Run("ids after cancel", func(t *testing.T) {
		_, err := reg.CancelJob(ctx, 3)
		require.NoError(t, err)
		job, err := reg.CreateJob(ctx, "Gear", 1)
		require.NoError(t, err)
		require.Equal(t, 4, job.ID)
	})
}

func TestIDsAfterReload(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	reg := registry.New(ctx, store.NewMemoryStore(
		model.Job{ID: 7, ProductName: "A", Quantity: 2, Status: model.JobPending},
		model.Job{ID: 3, ProductName: "B", Quantity: 2, Produced: 2, Status: model.JobDone},
	))
	job, err := reg.CreateJob(ctx, "C", 1)
	require.NoError(t, err)
	require.Equal(t, 8, job.ID)
}

func TestStartJob(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	reg := registry.New(ctx, store.NewMemoryStore())

	t.Run("empty registry", func(t *testing.T) {
		_, err := reg.StartJob(ctx, 1)
		require.ErrorIs(t, err, model.ErrNotFound)
		_, ok := reg.CurrentJob()
		require.False(t, ok)
	})

	a, err := reg.CreateJob(ctx, "A", 2)
	require.NoError(t, err)
	b, err := reg.CreateJob(ctx, "B", 2)
	require.NoError(t, err)

	started, err := reg.StartJob(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, model.JobInWork, started.Status)
	cur, ok := reg.CurrentJob()
	require.True(t, ok)
	require.Equal(t, a.ID, cur.ID)

	t.Run("second job conflicts", func(t *testing.T) {
		_, err := reg.StartJob(ctx, b.ID)
		require.ErrorIs(t, err, model.ErrConflict)
		_, err = reg.StartJob(ctx, 42)
		require.ErrorIs(t, err, model.ErrConflict)
		got, err := reg.JobStatus(b.ID)
		require.NoError(t, err)
		require.Equal(t, model.JobPending, got.Status)
	})

	t.Run("done job", func(t *testing.T) {
		reg.CompleteCurrentJob(ctx)
		_, ok := reg.CurrentJob()
		require.False(t, ok)
		_, err := reg.StartJob(ctx, a.ID)
		require.ErrorIs(t, err, model.ErrAlreadyCompleted)
		got, err := reg.JobStatus(a.ID)
		require.NoError(t, err)
		require.Equal(t, model.JobDone, got.Status)
		require.Equal(t, 2, got.Produced)
	})

	t.Run("next job", func(t *testing.T) {
		_, err := reg.StartJob(ctx, b.ID)
		require.NoError(t, err)
		require.Len(t, reg.ListAll().InWork, 1)
	})
}

func TestProgress(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	reg := registry.New(ctx, store.NewMemoryStore())

	// no current job
	reg.UpdateCurrentJobProgress(ctx, 1)
	reg.CompleteCurrentJob(ctx)

	job, err := reg.CreateJob(ctx, "Widget", 3)
	require.NoError(t, err)
	_, err = reg.StartJob(ctx, job.ID)
	require.NoError(t, err)

	reg.UpdateCurrentJobProgress(ctx, 2)
	cur, _ := reg.CurrentJob()
	require.Equal(t, 2, cur.Produced)

	// backwards progress is ignored
	reg.UpdateCurrentJobProgress(ctx, 1)
	cur, _ = reg.CurrentJob()
	require.Equal(t, 2, cur.Produced)

	// reaching the target makes the job Done but keeps it current
	reg.UpdateCurrentJobProgress(ctx, 5)
	cur, ok := reg.CurrentJob()
	require.True(t, ok)
	require.Equal(t, 3, cur.Produced)
	require.Equal(t, model.JobDone, cur.Status)

	reg.CompleteCurrentJob(ctx)
	_, ok = reg.CurrentJob()
	require.False(t, ok)
	got, err := reg.JobStatus(job.ID)
	require.NoError(t, err)
	require.Equal(t, model.JobDone, got.Status)
	require.Equal(t, 3, got.Produced)
}

func TestGuardedUpdates(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	reg := registry.New(ctx, store.NewMemoryStore())

	a, err := reg.CreateJob(ctx, "A", 3)
	require.NoError(t, err)
	b, err := reg.CreateJob(ctx, "B", 3)
	require.NoError(t, err)
	_, err = reg.StartJob(ctx, a.ID)
	require.NoError(t, err)

	require.True(t, reg.UpdateJobProgress(ctx, a.ID, 1))
	require.False(t, reg.UpdateJobProgress(ctx, b.ID, 1))
	require.False(t, reg.CompleteJob(ctx, b.ID))

	// a is replaced behind the back of a writer holding its id
	_, err = reg.CancelJob(ctx, a.ID)
	require.NoError(t, err)
	_, err = reg.StartJob(ctx, b.ID)
	require.NoError(t, err)
	require.False(t, reg.UpdateJobProgress(ctx, a.ID, 2))
	require.False(t, reg.CompleteJob(ctx, a.ID))

	got, err := reg.JobStatus(b.ID)
	require.NoError(t, err)
	require.Zero(t, got.Produced)

	require.True(t, reg.CompleteJob(ctx, b.ID))
	got, err = reg.JobStatus(b.ID)
	require.NoError(t, err)
	require.Equal(t, model.JobDone, got.Status)
}

func TestCancelJob(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	reg := registry.New(ctx, store.NewMemoryStore())

	_, err := reg.CancelJob(ctx, 1)
	require.ErrorIs(t, err, model.ErrNotFound)

	a, err := reg.CreateJob(ctx, "A", 1)
	require.NoError(t, err)
	b, err := reg.CreateJob(ctx, "B", 2)
	require.NoError(t, err)

	_, err = reg.StartJob(ctx, a.ID)
	require.NoError(t, err)
	reg.CompleteCurrentJob(ctx)
	_, err = reg.CancelJob(ctx, a.ID)
	require.ErrorIs(t, err, model.ErrAlreadyCompleted)

	_, err = reg.StartJob(ctx, b.ID)
	require.NoError(t, err)
	cancelled, err := reg.CancelJob(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, b.ID, cancelled.ID)
	_, ok := reg.CurrentJob()
	require.False(t, ok)
	_, err = reg.JobStatus(b.ID)
	require.ErrorIs(t, err, model.ErrNotFound)
	require.Len(t, reg.Jobs(), 1)
}

func TestListAll(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	reg := registry.New(ctx, store.NewMemoryStore(
		model.Job{ID: 5, ProductName: "E", Quantity: 1, Status: model.JobPending},
		model.Job{ID: 2, ProductName: "B", Quantity: 1, Produced: 1, Status: model.JobDone},
		model.Job{ID: 4, ProductName: "D", Quantity: 3, Produced: 1, Status: model.JobInWork},
		model.Job{ID: 1, ProductName: "A", Quantity: 1, Status: model.JobPending},
	))

	l := reg.ListAll()
	require.Equal(t, []int{1, 5}, ids(l.Pending))
	require.Equal(t, []int{4}, ids(l.InWork))
	require.Equal(t, []int{2}, ids(l.Done))

	require.Equal(t, []int{5, 2, 4, 1}, ids(reg.Jobs()))
	cur, ok := reg.CurrentJob()
	require.True(t, ok)
	require.Equal(t, 4, cur.ID)
}

func TestLoadNormalization(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	reg := registry.New(ctx, store.NewMemoryStore(
		model.Job{ID: 3, ProductName: "C", Quantity: 2, Status: model.JobInWork},
		model.Job{ID: 1, ProductName: "A", Quantity: 2, Produced: 1, Status: model.JobInWork},
		model.Job{ID: 1, ProductName: "dup", Quantity: 2},
		model.Job{ID: 2, ProductName: "zero", Quantity: 0},
		model.Job{ID: 4, ProductName: "D", Quantity: 2, Produced: 5, Status: model.JobPending},
		model.Job{ID: 5, ProductName: "E", Quantity: 2, Status: model.JobDone},
	))

	cur, ok := reg.CurrentJob()
	require.True(t, ok)
	require.Equal(t, 1, cur.ID)

	c, err := reg.JobStatus(3)
	require.NoError(t, err)
	require.Equal(t, model.JobPending, c.Status)

	a, err := reg.JobStatus(1)
	require.NoError(t, err)
	require.Equal(t, "A", a.ProductName)

	_, err = reg.JobStatus(2)
	require.ErrorIs(t, err, model.ErrNotFound)

	d, err := reg.JobStatus(4)
	require.NoError(t, err)
	require.Equal(t, model.JobDone, d.Status)
	require.Equal(t, 2, d.Produced)

	e, err := reg.JobStatus(5)
	require.NoError(t, err)
	require.Equal(t, 2, e.Produced)

	job, err := reg.CreateJob(ctx, "F", 1)
	require.NoError(t, err)
	require.Equal(t, 6, job.ID)
}

func TestSaveFailure(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	st := store.NewMemoryStore().WithError(errors.New("disk full"))
	reg := registry.New(ctx, st)

	job, err := reg.CreateJob(ctx, "Widget", 2)
	require.NoError(t, err)
	_, err = reg.StartJob(ctx, job.ID)
	require.NoError(t, err)

	require.Len(t, reg.Jobs(), 1)
	cur, ok := reg.CurrentJob()
	require.True(t, ok)
	require.Equal(t, model.JobInWork, cur.Status)
	require.Empty(t, st.LoadAll(ctx))
	require.Equal(t, 2, st.Saves())
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	st := store.NewMemoryStore()
	reg := registry.New(ctx, st)

	a, err := reg.CreateJob(ctx, "A", 3)
	require.NoError(t, err)
	_, err = reg.CreateJob(ctx, "B", 1)
	require.NoError(t, err)
	_, err = reg.StartJob(ctx, a.ID)
	require.NoError(t, err)
	reg.UpdateCurrentJobProgress(ctx, 2)

	reloaded := registry.New(ctx, st)
	require.Equal(t, reg.Jobs(), reloaded.Jobs())
	cur, ok := reloaded.CurrentJob()
	require.True(t, ok)
	require.Equal(t, a.ID, cur.ID)
	require.Equal(t, 2, cur.Produced)
}

func ids(jobs []model.Job) []int {
	ret := make([]int, len(jobs))
	for i, job := range jobs {
		ret[i] = job.ID
	}
	return ret
}
