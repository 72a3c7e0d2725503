package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/elevatehq/elevate/internal/gateway"
	"github.com/elevatehq/elevate/internal/model"
)

// ChannelStatus mirrors the realtime subscription lifecycle for
// diagnostics.
type ChannelStatus string

const (
	StatusDisconnected ChannelStatus = "DISCONNECTED"
	StatusConnecting   ChannelStatus = "CONNECTING"
	StatusSubscribed   ChannelStatus = "SUBSCRIBED"
)

// DefaultWatchdogInterval is how often the reconciler falls back to a
// full pull while subscribed. The feed drops notifications under load,
// so the poller is the convergence guarantee; the feed only buys latency.
const DefaultWatchdogInterval = 5 * time.Second

// Reconciler keeps the Local Store converged with remote state while a
// session is active, by applying realtime change notifications and by
// running a periodic watchdog pull.
//
// Subscribe and Unsubscribe are idempotent; at most one subscription and
// one watchdog exist at a time regardless of how often they are called.
type Reconciler struct {
	engine   *Engine
	feed     gateway.Feed
	interval time.Duration

	mu     sync.Mutex
	status ChannelStatus
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReconciler creates a reconciler over the engine and feed. A
// non-positive interval selects DefaultWatchdogInterval.
func NewReconciler(e *Engine, feed gateway.Feed, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultWatchdogInterval
	}
	return &Reconciler{
		engine:   e,
		feed:     feed,
		interval: interval,
		status:   StatusDisconnected,
	}
}

// Status returns the current channel status.
func (r *Reconciler) Status() ChannelStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Subscribe opens the realtime subscription for the engine's current user
// and starts the watchdog. Calling it while already subscribed is a no-op.
//
// Callers must finish the initial pull first: a notification applied over
// an unloaded store would look like the whole dataset.
func (r *Reconciler) Subscribe(ctx context.Context) error {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		slog.Debug("realtime already subscribed")
		return nil
	}
	userID := r.engine.UserID()
	if userID == "" {
		r.mu.Unlock()
		slog.Debug("realtime subscribe skipped: no active session")
		return nil
	}
	r.status = StatusConnecting
	r.mu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)
	changes, feedCancel, err := r.feed.Subscribe(subCtx, userID)
	if err != nil {
		cancel()
		r.mu.Lock()
		r.status = StatusDisconnected
		r.mu.Unlock()
		return err
	}

	r.mu.Lock()
	r.cancel = func() {
		feedCancel()
		cancel()
	}
	r.status = StatusSubscribed
	epoch := r.engine.Epoch()
	r.mu.Unlock()
	slog.Info("realtime subscribed", "user", userID)

	r.wg.Add(2)
	go r.applyLoop(subCtx, changes, epoch)
	go r.watchdog(subCtx, epoch)
	return nil
}

// Unsubscribe tears down the subscription and watchdog and waits for both
// goroutines to exit. Safe to call when not subscribed.
func (r *Reconciler) Unsubscribe() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.status = StatusDisconnected
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	r.wg.Wait()
	slog.Info("realtime unsubscribed")
}

func (r *Reconciler) applyLoop(ctx context.Context, changes <-chan gateway.Change, epoch int64) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if r.engine.Epoch() != epoch {
				slog.Debug("realtime change discarded: session changed",
					"table", change.Table, "kind", change.Kind)
				continue
			}
			r.Apply(ctx, change)
		}
	}
}

func (r *Reconciler) watchdog(ctx context.Context, epoch int64) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.engine.Epoch() != epoch {
				return
			}
			slog.Debug("watchdog pull")
			r.engine.Pull(ctx)
		}
	}
}

// Apply merges one change notification into the Local Store.
//
// Per-table rules differ on how much of the payload to trust. Goal
// notifications are treated as a hint: the row is refetched so a payload
// with a missing default_duration never overwrites a known value. Event,
// settings, journal, memo and score payloads are applied directly.
// Inserts for rows already present locally (our own optimistic write
// echoed back) are no-ops, as are deletes for absent rows.
func (r *Reconciler) Apply(ctx context.Context, change gateway.Change) {
	switch change.Table {
	case gateway.TableGoals:
		r.applyGoal(ctx, change)
	case gateway.TableEvents:
		r.applyEvent(change)
	case gateway.TableSettings:
		r.applySettings(change)
	case gateway.TableJournal:
		r.applyEntry(change, r.engine.store.SetJournal, r.engine.store.RemoveJournal)
	case gateway.TableMemos:
		r.applyEntry(change, r.engine.store.SetMemo, r.engine.store.RemoveMemo)
	case gateway.TableScores:
		r.applyScore(change)
	default:
		slog.Warn("realtime change for unknown table ignored", "table", change.Table)
	}
}

func (r *Reconciler) applyGoal(ctx context.Context, change gateway.Change) {
	if change.Kind == gateway.ChangeDelete {
		r.engine.store.RemoveGoal(change.OldID)
		return
	}
	if change.Goal == nil {
		slog.Warn("goal change without payload ignored", "kind", change.Kind)
		return
	}
	id := change.Goal.ID
	prior, present := r.engine.store.GoalByID(id)
	if change.Kind == gateway.ChangeInsert && present {
		return
	}

	row, err := r.engine.gw.GetGoal(ctx, r.engine.UserID(), id)
	if err != nil {
		// The watchdog pull picks the row up; applying a possibly partial
		// payload here could wipe the duration.
		slog.Warn("goal refetch failed, change skipped", "id", id, "error", err)
		return
	}
	r.engine.store.UpsertGoal(gateway.GoalFromRow(row, prior.DefaultDuration))
}

func (r *Reconciler) applyEvent(change gateway.Change) {
	if change.Kind == gateway.ChangeDelete {
		r.engine.store.RemoveEvent(change.OldID)
		return
	}
	if change.Event == nil {
		slog.Warn("event change without payload ignored", "kind", change.Kind)
		return
	}
	if change.Kind == gateway.ChangeInsert {
		if _, present := r.engine.store.EventByID(change.Event.ID); present {
			return
		}
	}
	r.engine.store.UpsertEvent(gateway.EventFromRow(*change.Event))
}

func (r *Reconciler) applySettings(change gateway.Change) {
	if change.Kind == gateway.ChangeDelete {
		r.engine.store.ReplaceObjective(model.Objective{})
		return
	}
	if change.Settings == nil {
		slog.Warn("settings change without payload ignored", "kind", change.Kind)
		return
	}
	r.engine.store.ReplaceObjective(gateway.ObjectiveFromRow(*change.Settings))
}

func (r *Reconciler) applyEntry(change gateway.Change, set func(string, string), remove func(string)) {
	if change.Kind == gateway.ChangeDelete {
		remove(change.OldID)
		return
	}
	if change.Entry == nil {
		slog.Warn("entry change without payload ignored",
			"table", change.Table, "kind", change.Kind)
		return
	}
	set(change.Entry.Date, change.Entry.Content)
}

func (r *Reconciler) applyScore(change gateway.Change) {
	if change.Kind == gateway.ChangeDelete {
		r.engine.store.RemoveScore(change.OldID)
		return
	}
	if change.Score == nil {
		slog.Warn("score change without payload ignored", "kind", change.Kind)
		return
	}
	r.engine.store.SetScore(change.Score.Date, change.Score.Score)
}
