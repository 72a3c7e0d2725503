package gateway

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// feedBuffer is the per-subscriber channel depth. The feed is a latency
// optimization, not a correctness dependency: a subscriber that falls this
// far behind loses notifications and is caught up by the watchdog pull.
const feedBuffer = 64

type subscriber struct {
	userID string
	ch     chan Change
}

// fanout delivers change notifications to in-process subscribers, filtered
// by user id. Sends never block the writer.
type fanout struct {
	mu      sync.Mutex
	subs    map[int]*subscriber
	nextID  int
	closed  bool
	dropped atomic.Uint64
}

func newFanout() *fanout {
	return &fanout{subs: make(map[int]*subscriber)}
}

func (f *fanout) subscribe(ctx context.Context, userID string) (<-chan Change, context.CancelFunc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, nil, context.Canceled
	}

	id := f.nextID
	f.nextID++
	sub := &subscriber{userID: userID, ch: make(chan Change, feedBuffer)}
	f.subs[id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if _, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(sub.ch)
			}
		})
	}

	stop := context.AfterFunc(ctx, cancel)
	return sub.ch, func() { stop(); cancel() }, nil
}

func (f *fanout) emit(userID string, change Change) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		if sub.userID != userID {
			continue
		}
		select {
		case sub.ch <- change:
		default:
			n := f.dropped.Add(1)
			slog.Warn("change feed subscriber lagging, notification dropped",
				"table", change.Table, "kind", change.Kind, "total_dropped", n)
		}
	}
}

// Dropped returns the number of notifications discarded because a
// subscriber's buffer was full.
func (f *fanout) Dropped() uint64 {
	return f.dropped.Load()
}

func (f *fanout) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, sub := range f.subs {
		delete(f.subs, id)
		close(sub.ch)
	}
}
