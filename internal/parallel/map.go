package parallel

import (
	"context"
	"iter"

	"golang.org/x/sync/errgroup"
)

type result[D any] struct {
	d D
	e error
}

// Map runs mapFunc over the input in parallel, at most limit calls at once.
// Results are yielded in completion order, not in input order. A cancelled
// context ends the processing early.
//
//	for id, err := range parallel.NewMap(ctx, 4, closeMachine).Iter(parallel.All(machines)) {}
type Map[E, D any] struct {
	ctx     context.Context
	cancel  context.CancelFunc
	g       *errgroup.Group
	gctx    context.Context
	mapped  chan result[D]
	mapFunc func(context.Context, E) (D, error)
}

func NewMap[E, D any](ctx context.Context, limit int, mapFunc func(context.Context, E) (D, error)) *Map[E, D] {
	if limit < 1 {
		limit = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	// one extra slot for the feeding goroutine
	g.SetLimit(limit + 1)

	return &Map[E, D]{
		ctx:     ctx,
		cancel:  cancel,
		g:       g,
		gctx:    gctx,
		mapped:  make(chan result[D], limit),
		mapFunc: mapFunc,
	}
}

func (m *Map[E, D]) feed(seq iter.Seq[E]) {
	m.g.Go(func() error {
		for entry := range seq {
			if m.gctx.Err() != nil {
				return m.gctx.Err()
			}
			m.g.Go(func() error {
				d, err := m.mapFunc(m.gctx, entry)
				select {
				case <-m.gctx.Done():
					return m.gctx.Err()
				case m.mapped <- result[D]{d: d, e: err}:
				}
				return nil
			})
		}
		return nil
	})
}

// Iter starts the workers and yields their results. Breaking out of the
// loop cancels the remaining work.
func (m *Map[E, D]) Iter(seq iter.Seq[E]) iter.Seq2[D, error] {
	return func(yield func(D, error) bool) {
		defer m.cancel()
		m.feed(seq)

		go func() {
			_ = m.g.Wait()
			close(m.mapped)
		}()

		for r := range m.mapped {
			if m.ctx.Err() != nil {
				return
			}
			if !yield(r.d, r.e) {
				return
			}
		}
	}
}

// All is a sequence of the slice values.
func All[E any](s []E) iter.Seq[E] {
	return func(yield func(E) bool) {
		for _, e := range s {
			if !yield(e) {
				return
			}
		}
	}
}
