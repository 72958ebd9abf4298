// Package health holds the tracking worker's ServiceHealth in a cell with
// exactly one writer and any number of subscribed readers.
package health

import (
	"context"
	"sync"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/hanibalsk/trackd/internal/model"
)

// Persister stores the latest health value. *store.Store implements it.
type Persister interface {
	SaveHealth(ctx context.Context, h model.ServiceHealth) error
}

// Options configures a Cell.
type Options struct {
	Clock     quartz.Clock
	Logger    *zap.Logger
	Persister Persister
}

// Cell is the read side: snapshots and change notifications.
type Cell struct {
	mu    sync.Mutex
	cur   model.ServiceHealth
	subs  map[int]chan model.ServiceHealth
	next  int
	clock quartz.Clock
	log   *zap.Logger
	store Persister
}

// Writer is the only handle that can change the cell.
type Writer struct {
	cell *Cell
}

// New creates a cell holding initial and its writer.
func New(initial model.ServiceHealth, opts Options) (*Cell, *Writer) {
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if initial.Status == "" {
		initial.Status = model.HealthHealthy
	}
	c := &Cell{
		cur:   initial,
		subs:  make(map[int]chan model.ServiceHealth),
		clock: opts.Clock,
		log:   opts.Logger.Named("health"),
		store: opts.Persister,
	}
	return c, &Writer{cell: c}
}

// Get returns the current value.
func (c *Cell) Get() model.ServiceHealth {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

// Health returns the current value. It never fails; the signature matches
// readers that may also load health from the store.
func (c *Cell) Health(context.Context) (model.ServiceHealth, error) {
	return c.Get(), nil
}

// Subscribe returns a channel that receives the value after every update.
// Slow readers only see the latest value. The channel is closed by cancel.
func (c *Cell) Subscribe() (<-chan model.ServiceHealth, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.next
	c.next++
	ch := make(chan model.ServiceHealth, 1)
	ch <- c.cur
	c.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// Update applies fn to a copy of the current value, publishes the result
// and persists it. A persistence failure is returned but the in-memory
// value is still updated.
func (w *Writer) Update(ctx context.Context, fn func(h *model.ServiceHealth)) (model.ServiceHealth, error) {
	c := w.cell

	c.mu.Lock()
	next := c.cur
	fn(&next)
	next.UpdatedAt = c.clock.Now()
	c.cur = next
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- next
	}
	c.mu.Unlock()

	if c.store == nil {
		return next, nil
	}
	if err := c.store.SaveHealth(ctx, next); err != nil {
		c.log.Warn("persist health failed", zap.Error(err))
		return next, err
	}
	return next, nil
}

// Cell returns the read side of the writer's cell.
func (w *Writer) Cell() *Cell {
	return w.cell
}
