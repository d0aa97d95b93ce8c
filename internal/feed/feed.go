// Package feed keeps a local list in step with a chat API: one page fetched
// up front, then rows pushed over the websocket as they change.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Action says what a pushed event does to the list.
type Action int

const (
	Append Action = iota
	Upsert
	Remove
)

const defaultMaxRetries = 5

var ErrClosed = errors.New("feed closed")

type Event struct {
	Type string
	Data json.RawMessage
}

// Stream is one open subscription.
type Stream interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

type Source interface {
	Connect(ctx context.Context) (Stream, error)
}

type Options[T any] struct {
	Sugar *zap.SugaredLogger

	// ID identifies a row, pushed rows with a known ID are not appended twice.
	ID func(T) string
	// Fetch loads the initial page, oldest first.
	Fetch  func(ctx context.Context) ([]T, error)
	Source Source
	// Actions maps the event types this feed cares about, others are skipped.
	Actions map[string]Action
	// Keep drops pushed rows that don't belong, like messages of another channel.
	Keep func(T) bool

	MaxRetries uint64
	Backoff    func() backoff.BackOff

	// OnChange gets a copy of the list after every change.
	OnChange func([]T)
}

type Feed[T any] struct {
	opts Options[T]

	mutex  sync.Mutex
	items  []T
	index  map[string]int
	closed bool
	err    error

	cancel context.CancelFunc
	dead   chan struct{}
	done   chan struct{}
}

// Open starts the feed. It runs until Close, or until the subscription
// can't be brought back, which closes Dead.
func Open[T any](ctx context.Context, opts Options[T]) *Feed[T] {
	if opts.Sugar == nil {
		opts.Sugar = zap.NewNop().Sugar()
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.Backoff == nil {
		opts.Backoff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxInterval = 30 * time.Second
			return b
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	f := &Feed[T]{
		opts:   opts,
		index:  make(map[string]int),
		cancel: cancel,
		dead:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	go f.run(ctx)
	return f
}

// Items returns a copy of the list in arrival order.
func (f *Feed[T]) Items() []T {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]T(nil), f.items...)
}

func (f *Feed[T]) Dead() <-chan struct{} {
	return f.dead
}

// Err reports why the feed died, nil while it is alive or after a plain Close.
func (f *Feed[T]) Err() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.err
}

// Close ends the subscription and waits for it to stop. Responses still in
// flight are dropped.
func (f *Feed[T]) Close() {
	f.mutex.Lock()
	f.closed = true
	f.mutex.Unlock()

	f.cancel()
	<-f.done
}

func (f *Feed[T]) run(ctx context.Context) {
	defer close(f.done)

	for {
		stream, err := f.connect(ctx)
		if err != nil {
			if ctx.Err() == nil {
				f.die(err)
			}
			return
		}

		err = f.consume(ctx, stream)
		stream.Close()
		if ctx.Err() != nil {
			return
		}
		f.opts.Sugar.Warnf("Feed subscription dropped, reconnecting: %v", err)
	}
}

// connect opens the subscription and then loads the page, so rows created in
// between arrive as events and get deduplicated.
func (f *Feed[T]) connect(ctx context.Context) (Stream, error) {
	policy := backoff.WithContext(backoff.WithMaxRetries(f.opts.Backoff(), f.opts.MaxRetries), ctx)

	var stream Stream
	attempt := func() error {
		s, err := f.opts.Source.Connect(ctx)
		if err != nil {
			return err
		}

		rows, err := f.opts.Fetch(ctx)
		if err != nil {
			s.Close()
			return fmt.Errorf("initial fetch: %w", err)
		}

		f.merge(rows)
		stream = s
		return nil
	}
	notify := func(err error, wait time.Duration) {
		f.opts.Sugar.Debugf("Feed connect failed, retrying in %v: %v", wait, err)
	}

	if err := backoff.RetryNotify(attempt, policy, notify); err != nil {
		return nil, err
	}
	return stream, nil
}

func (f *Feed[T]) consume(ctx context.Context, stream Stream) error {
	for {
		event, err := stream.Next(ctx)
		if err != nil {
			return err
		}

		action, ok := f.opts.Actions[event.Type]
		if !ok {
			continue
		}

		var row T
		if err := json.Unmarshal(event.Data, &row); err != nil {
			f.opts.Sugar.Debugf("Skipping %s event: %v", event.Type, err)
			continue
		}
		if f.opts.Keep != nil && !f.opts.Keep(row) {
			continue
		}

		f.apply(action, row)
	}
}

// merge adds rows the list doesn't have yet, keeping the order they came in,
// and refreshes the ones it has, so edits missed while disconnected show up.
// A row deleted while disconnected stays until its next Remove event, as a
// page can't tell a deleted row from one that is just older.
func (f *Feed[T]) merge(rows []T) {
	f.mutex.Lock()
	if f.closed {
		f.mutex.Unlock()
		f.opts.Sugar.Debug("Dropping fetch that finished after close")
		return
	}

	changed := false
	for _, row := range rows {
		if pos, known := f.index[f.opts.ID(row)]; known {
			f.items[pos] = row
			changed = true
			continue
		}
		if f.add(row) {
			changed = true
		}
	}
	snapshot := f.snapshot(changed)
	f.mutex.Unlock()

	f.notify(snapshot)
}

func (f *Feed[T]) apply(action Action, row T) {
	f.mutex.Lock()
	if f.closed {
		f.mutex.Unlock()
		return
	}

	id := f.opts.ID(row)
	pos, known := f.index[id]

	changed := false
	switch action {
	case Append:
		changed = f.add(row)
	case Upsert:
		if known {
			f.items[pos] = row
			changed = true
		} else {
			changed = f.add(row)
		}
	case Remove:
		if known {
			f.items = append(f.items[:pos], f.items[pos+1:]...)
			f.reindex()
			changed = true
		}
	}
	snapshot := f.snapshot(changed)
	f.mutex.Unlock()

	f.notify(snapshot)
}

// caller holds f.mutex
func (f *Feed[T]) add(row T) bool {
	id := f.opts.ID(row)
	if _, exists := f.index[id]; exists {
		return false
	}
	f.index[id] = len(f.items)
	f.items = append(f.items, row)
	return true
}

// caller holds f.mutex
func (f *Feed[T]) reindex() {
	clear(f.index)
	for i, row := range f.items {
		f.index[f.opts.ID(row)] = i
	}
}

// caller holds f.mutex
func (f *Feed[T]) snapshot(changed bool) []T {
	if !changed || f.opts.OnChange == nil {
		return nil
	}
	snapshot := make([]T, len(f.items))
	copy(snapshot, f.items)
	return snapshot
}

func (f *Feed[T]) notify(snapshot []T) {
	if snapshot != nil {
		f.opts.OnChange(snapshot)
	}
}

func (f *Feed[T]) die(err error) {
	f.mutex.Lock()
	f.err = err
	f.mutex.Unlock()

	f.opts.Sugar.Errorf("Feed gave up reconnecting: %v", err)
	close(f.dead)
}
