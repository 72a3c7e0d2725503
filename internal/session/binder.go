// Package session binds auth state changes to sync lifecycle actions.
package session

import (
	"context"
	"log/slog"

	"github.com/elevatehq/elevate/internal/engine"
	"github.com/elevatehq/elevate/internal/gateway"
)

// Binder translates auth events into engine and reconciler transitions.
// Sign-in order is fixed: bind the session, complete the initial sync,
// then subscribe to realtime. Sign-out runs the reverse: unsubscribe,
// then clear the session.
type Binder struct {
	auth       gateway.AuthSource
	engine     *engine.Engine
	reconciler *engine.Reconciler

	// user is the session bound by this binder in this process. The
	// store's persisted user id is deliberately not consulted here: after
	// a crash the mirror still holds the previous session's id, and
	// deduping against it would swallow the first sign-in on restart.
	// Only touched from the Run goroutine.
	user string
}

// New creates a Binder over the given collaborators.
func New(auth gateway.AuthSource, e *engine.Engine, r *engine.Reconciler) *Binder {
	return &Binder{auth: auth, engine: e, reconciler: r}
}

// Run consumes auth events until the context is cancelled or the auth
// source closes its event stream. On exit the realtime subscription is
// torn down and the session cleared, so no remote traffic survives the
// binder.
func (b *Binder) Run(ctx context.Context) error {
	defer b.teardown()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-b.auth.Events():
			if !ok {
				return nil
			}
			b.handle(ctx, ev)
		}
	}
}

func (b *Binder) handle(ctx context.Context, ev gateway.SessionEvent) {
	switch ev.Kind {
	case gateway.SessionFound, gateway.SignedIn:
		if ev.UserID == "" {
			slog.Warn("session event without user id ignored", "kind", ev.Kind)
			return
		}
		if b.user == ev.UserID {
			slog.Debug("session event for current user ignored", "kind", ev.Kind, "user", ev.UserID)
			return
		}
		// Switching users goes through a full sign-out first so the old
		// subscription cannot deliver into the new user's store.
		if b.user != "" {
			b.signOut()
		}
		b.signIn(ctx, ev.UserID)
	case gateway.SignedOut:
		b.signOut()
	default:
		slog.Warn("unknown session event ignored", "kind", ev.Kind)
	}
}

func (b *Binder) signIn(ctx context.Context, userID string) {
	b.user = userID
	b.engine.SetSession(userID)
	stats := b.engine.InitialSync(ctx)
	if len(stats.Failed) > 0 {
		slog.Warn("initial sync incomplete", "user", userID, "failed_tables", stats.Failed)
	}
	if err := b.reconciler.Subscribe(ctx); err != nil {
		slog.Error("realtime subscribe failed", "user", userID, "error", err)
	}
}

func (b *Binder) signOut() {
	if b.user == "" {
		return
	}
	b.user = ""
	b.reconciler.Unsubscribe()
	b.engine.ClearSession()
}

func (b *Binder) teardown() {
	b.reconciler.Unsubscribe()
	if b.user != "" {
		b.user = ""
		b.engine.ClearSession()
	}
}
