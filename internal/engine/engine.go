// Package engine moves data between the Local Store and the Remote
// Gateway.
//
// The sync model is server-authoritative pull with optimistic local
// writes: UI-facing mutations apply to the Local Store synchronously,
// then a remote write is queued and executed by the single-writer Run
// loop. Remote write failures are logged and surfaced on a result
// channel; they are never rolled back locally and never interrupt the
// caller. Full pulls replace local collections with remote rows, and a
// realtime reconciler plus a watchdog poller keep the store converged
// between pulls.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/elevatehq/elevate/internal/gateway"
	"github.com/elevatehq/elevate/internal/model"
	"github.com/elevatehq/elevate/internal/store"
)

// Policy decides who wins on session start after an offline period.
type Policy string

const (
	// PolicyRemoteWins runs a pull only: the remote store supersedes the
	// local cache. This is the default; pushing a stale cache after a
	// multi-device edit clobbers server data.
	PolicyRemoteWins Policy = "remote-wins"

	// PolicyLocalWins pushes the local cache before pulling, for
	// deployments where offline edits on one device are the norm.
	PolicyLocalWins Policy = "local-wins"
)

// ValidPolicy reports whether p is a known sync policy.
func ValidPolicy(p Policy) bool {
	return p == PolicyRemoteWins || p == PolicyLocalWins
}

// WriteResult reports the outcome of one queued remote write. Err is nil
// on success. Seq matches the value returned to the mutating caller via
// logs, so a retry layer can correlate failures with specific mutations.
type WriteResult struct {
	Seq   int64
	Table string
	Op    WriteOp
	Err   error
}

// PullStats summarizes one pull: tables replaced and tables that failed
// to fetch (and therefore kept their local data).
type PullStats struct {
	Fetched int
	Failed  []string
}

// PushStats summarizes one push.
type PushStats struct {
	Written int
	Failed  []string
}

const resultBuffer = 128

// Engine owns the sync between a Local Store and a Remote Gateway.
type Engine struct {
	store *store.Store
	gw    gateway.Gateway
	ids   IDGenerator
	clock *Clock
	queue *writeQueue

	policy Policy
	now    func() time.Time

	// epoch identifies the current session. It is bumped on every session
	// change; async completions stamped with an older epoch are discarded
	// so a stale in-flight pull or write from a previous session can never
	// land after sign-out.
	epoch atomic.Int64

	results        chan WriteResult
	resultsDropped atomic.Uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy sets the session-start sync policy.
func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithIDGenerator overrides the entity id generator (tests).
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithNow overrides the time source (tests).
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine over the given store and gateway.
func New(s *store.Store, gw gateway.Gateway, opts ...Option) *Engine {
	e := &Engine{
		store:   s,
		gw:      gw,
		ids:     UUIDv7Generator{},
		clock:   NewClock(),
		queue:   newWriteQueue(),
		policy:  PolicyRemoteWins,
		now:     time.Now,
		results: make(chan WriteResult, resultBuffer),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the underlying Local Store for read access.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Policy returns the configured session-start policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// UserID returns the active user id, "" when signed out.
func (e *Engine) UserID() string {
	return e.store.UserID()
}

// Epoch returns the current session epoch.
func (e *Engine) Epoch() int64 {
	return e.epoch.Load()
}

// SetSession binds the engine to a user session and invalidates all async
// work issued under the previous one.
func (e *Engine) SetSession(userID string) {
	e.epoch.Add(1)
	e.store.SetUser(userID)
	slog.Info("session bound", "user", userID, "epoch", e.epoch.Load())
}

// ClearSession unbinds the current user session. Cached local data is
// kept; the next session's pull replaces it before any read can cross
// users.
func (e *Engine) ClearSession() {
	old := e.store.UserID()
	e.epoch.Add(1)
	e.store.SetUser("")
	slog.Info("session cleared", "user", old, "epoch", e.epoch.Load())
}

// InitialSync runs the session-start synchronization per policy. Callers
// must complete this before subscribing to realtime: a change notification
// applied to a store that has not loaded its initial snapshot would be
// mistaken for the entire dataset.
func (e *Engine) InitialSync(ctx context.Context) PullStats {
	if e.policy == PolicyLocalWins {
		e.Push(ctx)
	}
	return e.Pull(ctx)
}

// Pull fetches all rows for the current user, table by table, and
// replaces the corresponding local collections.
//
// Zero rows is authoritative empty state and replaces the collection; a
// fetch error keeps the local collection for that table, logs it, and
// moves on to the next table, so the store stays usable with whatever
// loaded. A goal row missing its default_duration keeps the previously
// known local value rather than resetting a known duration.
func (e *Engine) Pull(ctx context.Context) PullStats {
	userID := e.store.UserID()
	if userID == "" {
		slog.Debug("pull skipped: no active session")
		return PullStats{}
	}
	epoch := e.epoch.Load()

	var stats PullStats
	fail := func(table string, err error) {
		stats.Failed = append(stats.Failed, table)
		slog.Error("pull failed, keeping local data", "table", table, "user", userID, "error", err)
	}
	stale := func() bool {
		if e.epoch.Load() != epoch {
			slog.Debug("pull result discarded: session changed", "user", userID)
			return true
		}
		return false
	}

	if rows, err := e.gw.ListGoals(ctx, userID); err != nil {
		fail(gateway.TableGoals, err)
	} else if !stale() {
		prior := make(map[string]int)
		for _, g := range e.store.Goals() {
			prior[g.ID] = g.DefaultDuration
		}
		goals := make([]model.Goal, 0, len(rows))
		for _, row := range rows {
			goals = append(goals, gateway.GoalFromRow(row, prior[row.ID]))
		}
		e.store.ReplaceGoals(goals)
		stats.Fetched++
	}

	if rows, err := e.gw.ListEvents(ctx, userID); err != nil {
		fail(gateway.TableEvents, err)
	} else if !stale() {
		events := make([]model.CalendarEvent, 0, len(rows))
		for _, row := range rows {
			events = append(events, gateway.EventFromRow(row))
		}
		e.store.ReplaceEvents(events)
		stats.Fetched++
	}

	if row, err := e.gw.GetSettings(ctx, userID); err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			if !stale() {
				e.store.ReplaceObjective(model.Objective{})
				stats.Fetched++
			}
		} else {
			fail(gateway.TableSettings, err)
		}
	} else if !stale() {
		e.store.ReplaceObjective(gateway.ObjectiveFromRow(row))
		stats.Fetched++
	}

	if rows, err := e.gw.ListEntries(ctx, gateway.TableJournal, userID); err != nil {
		fail(gateway.TableJournal, err)
	} else if !stale() {
		e.store.ReplaceJournal(entryMap(rows))
		stats.Fetched++
	}

	if rows, err := e.gw.ListEntries(ctx, gateway.TableMemos, userID); err != nil {
		fail(gateway.TableMemos, err)
	} else if !stale() {
		e.store.ReplaceMemos(entryMap(rows))
		stats.Fetched++
	}

	if rows, err := e.gw.ListScores(ctx, userID); err != nil {
		fail(gateway.TableScores, err)
	} else if !stale() {
		scores := make(map[string]int, len(rows))
		for _, row := range rows {
			scores[row.Date] = row.Score
		}
		e.store.ReplaceScores(scores)
		stats.Fetched++
	}

	if digest, err := e.store.Digest(); err == nil {
		slog.Info("pull complete", "user", userID,
			"tables", stats.Fetched, "failed", len(stats.Failed), "digest", digest[:12])
	}
	return stats
}

// Push upserts every local row for every table, a blunt whole-state
// overwrite rather than a diff. Running it after a pull that may have loaded
// stale local data clobbers newer server rows; callers must only invoke
// it when local data is known to be newer (offline edits before the first
// pull, or the local-wins policy).
func (e *Engine) Push(ctx context.Context) PushStats {
	userID := e.store.UserID()
	if userID == "" {
		slog.Debug("push skipped: no active session")
		return PushStats{}
	}
	snap := e.store.Snapshot()

	var stats PushStats
	fail := func(table string, err error) {
		stats.Failed = append(stats.Failed, table)
		slog.Error("push failed", "table", table, "user", userID, "error", err)
	}

	goalsOK := true
	for _, g := range snap.Goals {
		if err := e.gw.UpsertGoal(ctx, gateway.GoalToRow(userID, g)); err != nil {
			if goalsOK {
				fail(gateway.TableGoals, err)
				goalsOK = false
			}
			continue
		}
		stats.Written++
	}

	eventsOK := true
	for _, ev := range snap.Events {
		if err := e.gw.UpsertEvent(ctx, gateway.EventToRow(userID, ev)); err != nil {
			if eventsOK {
				fail(gateway.TableEvents, err)
				eventsOK = false
			}
			continue
		}
		stats.Written++
	}

	if err := e.gw.UpsertSettings(ctx, gateway.ObjectiveToRow(userID, snap.Objective)); err != nil {
		fail(gateway.TableSettings, err)
	} else {
		stats.Written++
	}

	stats.Written += e.pushEntries(ctx, gateway.TableJournal, userID, snap.Journal, fail)
	stats.Written += e.pushEntries(ctx, gateway.TableMemos, userID, snap.Memos, fail)

	scoresOK := true
	for date, score := range snap.Scores {
		if err := e.gw.UpsertScore(ctx, gateway.ScoreRow{UserID: userID, Date: date, Score: score}); err != nil {
			if scoresOK {
				fail(gateway.TableScores, err)
				scoresOK = false
			}
			continue
		}
		stats.Written++
	}

	slog.Info("push complete", "user", userID, "rows", stats.Written, "failed", len(stats.Failed))
	return stats
}

func (e *Engine) pushEntries(ctx context.Context, table, userID string, entries map[string]string, fail func(string, error)) int {
	written := 0
	ok := true
	for date, content := range entries {
		if err := e.gw.UpsertEntry(ctx, table, gateway.EntryRow{UserID: userID, Date: date, Content: content}); err != nil {
			if ok {
				fail(table, err)
				ok = false
			}
			continue
		}
		written++
	}
	return written
}

func entryMap(rows []gateway.EntryRow) map[string]string {
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.Date] = row.Content
	}
	return out
}

// GoalInput holds the caller-supplied fields of a new goal.
type GoalInput struct {
	Title           string
	Color           string
	Icon            string
	Description     string
	DefaultDuration int
	Deadline        string
}

// AddGoal creates a goal with a fresh id, applies it locally and queues
// the remote insert. The goal is visible to readers before the remote
// write is attempted.
func (e *Engine) AddGoal(in GoalInput) model.Goal {
	g := model.Goal{
		ID:              e.ids.NewID(),
		Title:           in.Title,
		Color:           in.Color,
		Icon:            in.Icon,
		Description:     in.Description,
		DefaultDuration: in.DefaultDuration,
		Deadline:        in.Deadline,
		CreatedAt:       e.now().UTC().Format(time.RFC3339),
	}
	e.store.UpsertGoal(g)
	e.enqueueGoal(g)
	return g
}

// UpdateGoal merges the patch into the goal locally (cascading a title
// change to dependent events) and queues remote upserts for the goal and
// every retitled event, so other devices converge on the cascade too.
// Unknown ids are a no-op.
func (e *Engine) UpdateGoal(id string, patch store.GoalPatch) bool {
	if !e.store.UpdateGoal(id, patch) {
		return false
	}
	if g, ok := e.store.GoalByID(id); ok {
		e.enqueueGoal(g)
	}
	if patch.Title != nil {
		for _, ev := range e.store.Events() {
			if ev.GoalID == id {
				e.enqueueEvent(ev)
			}
		}
	}
	return true
}

// DeleteGoal removes the goal locally and queues the remote delete.
// Dependent events keep their dangling reference on both sides.
func (e *Engine) DeleteGoal(id string) {
	e.store.RemoveGoal(id)
	e.enqueueDelete(gateway.TableGoals, id)
}

// EventInput holds the caller-supplied fields of a new calendar event.
type EventInput struct {
	Title     string
	StartTime string
	EndTime   string
	GoalID    string
}

// AddEvent schedules an event with a fresh id and zero completed
// duration, applies it locally and queues the remote insert.
func (e *Engine) AddEvent(in EventInput) model.CalendarEvent {
	ev := model.CalendarEvent{
		ID:        e.ids.NewID(),
		Title:     in.Title,
		StartTime: in.StartTime,
		EndTime:   in.EndTime,
		GoalID:    in.GoalID,
	}
	e.store.UpsertEvent(ev)
	e.enqueueEvent(ev)
	return ev
}

// UpdateEvent merges the patch into the event locally and queues the
// remote upsert. Unknown ids are a no-op.
func (e *Engine) UpdateEvent(id string, patch store.EventPatch) bool {
	if !e.store.UpdateEvent(id, patch) {
		return false
	}
	if ev, ok := e.store.EventByID(id); ok {
		e.enqueueEvent(ev)
	}
	return true
}

// SetProgress records completed minutes for an event locally and queues
// the remote upsert. Unknown ids are a no-op.
func (e *Engine) SetProgress(id string, minutes int) bool {
	if !e.store.SetProgress(id, minutes) {
		return false
	}
	if ev, ok := e.store.EventByID(id); ok {
		e.enqueueEvent(ev)
	}
	return true
}

// DeleteEvent removes the event locally and queues the remote delete.
func (e *Engine) DeleteEvent(id string) {
	e.store.RemoveEvent(id)
	e.enqueueDelete(gateway.TableEvents, id)
}

// SetMainGoal overwrites the objective statement locally and queues the
// settings upsert.
func (e *Engine) SetMainGoal(text string) {
	e.store.SetMainGoal(text)
	e.enqueueSettings()
}

// SetMainGoalDeadline overwrites the objective deadline locally and
// queues the settings upsert.
func (e *Engine) SetMainGoalDeadline(date string) {
	e.store.SetMainGoalDeadline(date)
	e.enqueueSettings()
}

// SetMainGoalStartDate overwrites the objective start date locally and
// queues the settings upsert.
func (e *Engine) SetMainGoalStartDate(date string) {
	e.store.SetMainGoalStartDate(date)
	e.enqueueSettings()
}

// SetJournal upserts the journal entry for a date locally and queues the
// remote upsert.
func (e *Engine) SetJournal(date, content string) {
	e.store.SetJournal(date, content)
	e.enqueueEntry(gateway.TableJournal, date, content)
}

// SetMemo upserts the memo entry for a date locally and queues the remote
// upsert.
func (e *Engine) SetMemo(date, content string) {
	e.store.SetMemo(date, content)
	e.enqueueEntry(gateway.TableMemos, date, content)
}

// SetScore upserts the daily score for a date locally and queues the
// remote upsert.
func (e *Engine) SetScore(date string, score int) {
	e.store.SetScore(date, score)
	userID := e.store.UserID()
	if userID == "" {
		return
	}
	row := gateway.ScoreRow{UserID: userID, Date: date, Score: score}
	e.enqueue(pendingWrite{Table: gateway.TableScores, Op: OpUpsert, Score: &row})
}

// AddMessage appends a chat message locally. Messages never sync.
func (e *Engine) AddMessage(role, content string) model.ChatMessage {
	msg := model.ChatMessage{ID: e.ids.NewID(), Role: role, Content: content}
	e.store.AppendMessage(msg)
	return msg
}

func (e *Engine) enqueueGoal(g model.Goal) {
	userID := e.store.UserID()
	if userID == "" {
		return
	}
	row := gateway.GoalToRow(userID, g)
	e.enqueue(pendingWrite{Table: gateway.TableGoals, Op: OpUpsert, Goal: &row})
}

func (e *Engine) enqueueEvent(ev model.CalendarEvent) {
	userID := e.store.UserID()
	if userID == "" {
		return
	}
	row := gateway.EventToRow(userID, ev)
	e.enqueue(pendingWrite{Table: gateway.TableEvents, Op: OpUpsert, Event: &row})
}

func (e *Engine) enqueueSettings() {
	userID := e.store.UserID()
	if userID == "" {
		return
	}
	row := gateway.ObjectiveToRow(userID, e.store.Objective())
	e.enqueue(pendingWrite{Table: gateway.TableSettings, Op: OpUpsert, Settings: &row})
}

func (e *Engine) enqueueEntry(table, date, content string) {
	userID := e.store.UserID()
	if userID == "" {
		return
	}
	row := gateway.EntryRow{UserID: userID, Date: date, Content: content}
	e.enqueue(pendingWrite{Table: table, Op: OpUpsert, Entry: &row})
}

func (e *Engine) enqueueDelete(table, id string) {
	userID := e.store.UserID()
	if userID == "" {
		return
	}
	e.enqueue(pendingWrite{Table: table, Op: OpDelete, ID: id})
}

func (e *Engine) enqueue(w pendingWrite) {
	w.Seq = e.clock.Next()
	w.Epoch = e.epoch.Load()
	w.UserID = e.store.UserID()
	if !e.queue.Enqueue(w) {
		slog.Warn("write dropped: engine stopped", "table", w.Table, "op", w.Op, "seq", w.Seq)
	}
}

// QueueLen returns the number of pending remote writes.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Results exposes remote write outcomes. The channel is buffered and
// never blocks the write loop; unconsumed results are dropped and
// counted. A retry-with-backoff layer can be attached here without
// touching any mutation call site.
func (e *Engine) Results() <-chan WriteResult {
	return e.results
}

// ResultsDropped returns the number of write results discarded because no
// consumer kept up.
func (e *Engine) ResultsDropped() uint64 {
	return e.resultsDropped.Load()
}

// Run drains the pending-write queue until the context is cancelled or
// Stop is called. Must be called from exactly one goroutine: single-writer
// execution keeps remote writes in issue order.
//
// Failures are logged with full context and reported on Results; the loop
// never stops over an individual write failure.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("write loop starting")
	for {
		w, ok := e.queue.TryDequeue()
		if ok {
			e.execute(ctx, w)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("write loop stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()
		case _, open := <-e.queue.Wait():
			// A received token is only a wakeup hint: it may be left over
			// from a write that was already drained above. Closure is
			// signalled by the channel closing, never by an empty queue.
			if !open {
				slog.Info("write loop stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue, which makes Run return after the backlog drains.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Flush synchronously executes all currently queued writes. Used by
// one-shot CLI commands that exit before a Run loop would drain them.
func (e *Engine) Flush(ctx context.Context) {
	for {
		w, ok := e.queue.TryDequeue()
		if !ok {
			return
		}
		e.execute(ctx, w)
	}
}

func (e *Engine) execute(ctx context.Context, w pendingWrite) {
	if w.Epoch != e.epoch.Load() {
		slog.Debug("stale write discarded", "table", w.Table, "op", w.Op, "seq", w.Seq)
		return
	}

	err := e.executeWrite(ctx, w)
	if err != nil {
		slog.Error("remote write failed",
			"table", w.Table, "op", w.Op, "seq", w.Seq, "user", w.UserID, "error", err)
	} else {
		slog.Debug("remote write ok", "table", w.Table, "op", w.Op, "seq", w.Seq)
	}

	select {
	case e.results <- WriteResult{Seq: w.Seq, Table: w.Table, Op: w.Op, Err: err}:
	default:
		e.resultsDropped.Add(1)
	}
}

func (e *Engine) executeWrite(ctx context.Context, w pendingWrite) error {
	if w.Op == OpDelete {
		switch w.Table {
		case gateway.TableGoals:
			return e.gw.DeleteGoal(ctx, w.UserID, w.ID)
		case gateway.TableEvents:
			return e.gw.DeleteEvent(ctx, w.UserID, w.ID)
		case gateway.TableJournal, gateway.TableMemos:
			return e.gw.DeleteEntry(ctx, w.Table, w.UserID, w.ID)
		case gateway.TableScores:
			return e.gw.DeleteScore(ctx, w.UserID, w.ID)
		default:
			return fmt.Errorf("delete on unknown table %q", w.Table)
		}
	}

	switch w.Table {
	case gateway.TableGoals:
		return e.gw.UpsertGoal(ctx, *w.Goal)
	case gateway.TableEvents:
		return e.gw.UpsertEvent(ctx, *w.Event)
	case gateway.TableSettings:
		return e.gw.UpsertSettings(ctx, *w.Settings)
	case gateway.TableJournal, gateway.TableMemos:
		return e.gw.UpsertEntry(ctx, w.Table, *w.Entry)
	case gateway.TableScores:
		return e.gw.UpsertScore(ctx, *w.Score)
	default:
		return fmt.Errorf("upsert on unknown table %q", w.Table)
	}
}
