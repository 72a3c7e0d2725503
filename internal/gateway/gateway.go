// Package gateway defines the row-oriented interface to the remote
// relational backend, the realtime change feed, and the auth event source.
//
// The sync engine only ever talks to these interfaces. The bundled SQLite
// implementation is a reference backend for local use and tests; a hosted
// backend slots in behind the same contract.
package gateway

import (
	"context"
	"errors"

	"github.com/elevatehq/elevate/internal/model"
)

// ErrNotFound is returned by single-row fetches when no row exists.
// Zero rows is valid empty state, not a transport failure; callers must
// distinguish the two with errors.Is.
var ErrNotFound = errors.New("gateway: not found")

// Wire table names.
const (
	TableGoals    = "goals"
	TableEvents   = "events"
	TableSettings = "user_settings"
	TableJournal  = "journal_entries"
	TableMemos    = "memo_entries"
	TableScores   = "daily_scores"
)

// Tables lists every synced table in pull order.
func Tables() []string {
	return []string{TableGoals, TableEvents, TableSettings, TableJournal, TableMemos, TableScores}
}

// GoalRow is the wire shape of a goals row.
//
// DefaultDuration is a pointer: a backend mid schema migration can serve
// rows without the column, and that absence must stay distinguishable from
// an explicit zero so the client can fall back to its last known value.
type GoalRow struct {
	ID              string `json:"id"`
	UserID          string `json:"user_id"`
	Title           string `json:"title"`
	Color           string `json:"color"`
	Icon            string `json:"icon"`
	DefaultDuration *int   `json:"default_duration"`
	Description     string `json:"description"`
	Deadline        string `json:"deadline"`
	CreatedAt       string `json:"created_at"`
}

// EventRow is the wire shape of an events row.
type EventRow struct {
	ID                string  `json:"id"`
	UserID            string  `json:"user_id"`
	Title             string  `json:"title"`
	StartTime         string  `json:"start_time"`
	EndTime           string  `json:"end_time"`
	GoalID            *string `json:"goal_id"`
	CompletedDuration int     `json:"completed_duration"`
}

// SettingsRow is the wire shape of the singleton user_settings row.
type SettingsRow struct {
	UserID            string  `json:"user_id"`
	MainGoal          string  `json:"main_goal"`
	MainGoalDeadline  *string `json:"main_goal_deadline"`
	MainGoalStartDate *string `json:"main_goal_start_date"`
}

// EntryRow is the wire shape of a journal_entries or memo_entries row,
// unique on (user_id, date).
type EntryRow struct {
	UserID  string `json:"user_id"`
	Date    string `json:"date"` // YYYY-MM-DD
	Content string `json:"content"`
}

// ScoreRow is the wire shape of a daily_scores row, unique on
// (user_id, date).
type ScoreRow struct {
	UserID string `json:"user_id"`
	Date   string `json:"date"` // YYYY-MM-DD
	Score  int    `json:"score"` // 0..10
}

// Gateway is the row-oriented CRUD and upsert surface of the remote store.
// Every method is scoped to a user id; implementations must never return
// another user's rows.
type Gateway interface {
	ListGoals(ctx context.Context, userID string) ([]GoalRow, error)
	GetGoal(ctx context.Context, userID, id string) (GoalRow, error)
	UpsertGoal(ctx context.Context, row GoalRow) error
	DeleteGoal(ctx context.Context, userID, id string) error

	ListEvents(ctx context.Context, userID string) ([]EventRow, error)
	UpsertEvent(ctx context.Context, row EventRow) error
	DeleteEvent(ctx context.Context, userID, id string) error

	GetSettings(ctx context.Context, userID string) (SettingsRow, error)
	UpsertSettings(ctx context.Context, row SettingsRow) error

	// ListEntries and UpsertEntry serve both journal_entries and
	// memo_entries; table selects which.
	ListEntries(ctx context.Context, table, userID string) ([]EntryRow, error)
	UpsertEntry(ctx context.Context, table string, row EntryRow) error
	DeleteEntry(ctx context.Context, table, userID, date string) error

	ListScores(ctx context.Context, userID string) ([]ScoreRow, error)
	UpsertScore(ctx context.Context, row ScoreRow) error
	DeleteScore(ctx context.Context, userID, date string) error
}

// ChangeKind is the realtime notification kind.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "INSERT"
	ChangeUpdate ChangeKind = "UPDATE"
	ChangeDelete ChangeKind = "DELETE"
)

// Change is one row-level notification from the realtime feed. Exactly one
// of the row pointers is set for INSERT/UPDATE, matching Table; DELETE
// carries only OldID (the row id, or the date key for date-keyed tables).
type Change struct {
	Table string
	Kind  ChangeKind

	Goal     *GoalRow
	Event    *EventRow
	Settings *SettingsRow
	Entry    *EntryRow
	Score    *ScoreRow

	OldID string
}

// Feed is the realtime change subscription. One logical channel carries
// notifications for all six tables, filtered server-side to the given
// user id. The returned cancel function tears the subscription down and
// is safe to call more than once.
type Feed interface {
	Subscribe(ctx context.Context, userID string) (<-chan Change, context.CancelFunc, error)
}

// SessionEventKind tags auth provider events.
type SessionEventKind string

const (
	SessionFound SessionEventKind = "SESSION_FOUND"
	SignedIn     SessionEventKind = "SIGNED_IN"
	SignedOut    SessionEventKind = "SIGNED_OUT"
)

// SessionEvent is one auth state change. UserID is empty for SignedOut.
type SessionEvent struct {
	Kind   SessionEventKind
	UserID string
}

// AuthSource is the auth collaborator: a stream of session events.
type AuthSource interface {
	Events() <-chan SessionEvent
}

// StaticAuth is an AuthSource that announces a single fixed user session.
// It backs the CLI, where the user id comes from configuration.
type StaticAuth struct {
	ch chan SessionEvent
}

// NewStaticAuth returns an AuthSource that emits one SessionFound event for
// the given user and then stays silent until Close.
func NewStaticAuth(userID string) *StaticAuth {
	ch := make(chan SessionEvent, 1)
	ch <- SessionEvent{Kind: SessionFound, UserID: userID}
	return &StaticAuth{ch: ch}
}

func (a *StaticAuth) Events() <-chan SessionEvent {
	return a.ch
}

// SignOut emits a SignedOut event.
func (a *StaticAuth) SignOut() {
	a.ch <- SessionEvent{Kind: SignedOut}
}

// Close ends the event stream.
func (a *StaticAuth) Close() {
	close(a.ch)
}

// GoalFromRow maps a wire row to the entity. A missing default_duration
// maps to fallback, which callers set to the previously known local value
// (or zero when there is none).
func GoalFromRow(r GoalRow, fallback int) model.Goal {
	duration := fallback
	if r.DefaultDuration != nil {
		duration = *r.DefaultDuration
	}
	return model.Goal{
		ID:              r.ID,
		Title:           r.Title,
		Color:           r.Color,
		Icon:            r.Icon,
		Description:     r.Description,
		DefaultDuration: duration,
		Deadline:        r.Deadline,
		CreatedAt:       r.CreatedAt,
	}
}

// GoalToRow maps the entity to its wire row for the given user.
func GoalToRow(userID string, g model.Goal) GoalRow {
	duration := g.DefaultDuration
	return GoalRow{
		ID:              g.ID,
		UserID:          userID,
		Title:           g.Title,
		Color:           g.Color,
		Icon:            g.Icon,
		DefaultDuration: &duration,
		Description:     g.Description,
		Deadline:        g.Deadline,
		CreatedAt:       g.CreatedAt,
	}
}

// EventFromRow maps a wire row to the entity; a NULL goal_id becomes the
// empty (unlinked) reference.
func EventFromRow(r EventRow) model.CalendarEvent {
	goalID := ""
	if r.GoalID != nil {
		goalID = *r.GoalID
	}
	return model.CalendarEvent{
		ID:                r.ID,
		Title:             r.Title,
		StartTime:         r.StartTime,
		EndTime:           r.EndTime,
		GoalID:            goalID,
		CompletedDuration: r.CompletedDuration,
	}
}

// EventToRow maps the entity to its wire row for the given user; an
// unlinked event writes a NULL goal_id.
func EventToRow(userID string, e model.CalendarEvent) EventRow {
	var goalID *string
	if e.GoalID != "" {
		g := e.GoalID
		goalID = &g
	}
	return EventRow{
		ID:                e.ID,
		UserID:            userID,
		Title:             e.Title,
		StartTime:         e.StartTime,
		EndTime:           e.EndTime,
		GoalID:            goalID,
		CompletedDuration: e.CompletedDuration,
	}
}

// ObjectiveFromRow maps the settings row to the entity; NULL dates map to
// empty strings.
func ObjectiveFromRow(r SettingsRow) model.Objective {
	obj := model.Objective{MainGoal: r.MainGoal}
	if r.MainGoalDeadline != nil {
		obj.Deadline = *r.MainGoalDeadline
	}
	if r.MainGoalStartDate != nil {
		obj.StartDate = *r.MainGoalStartDate
	}
	return obj
}

// ObjectiveToRow maps the entity to its settings row; empty dates write
// NULL.
func ObjectiveToRow(userID string, obj model.Objective) SettingsRow {
	row := SettingsRow{UserID: userID, MainGoal: obj.MainGoal}
	if obj.Deadline != "" {
		d := obj.Deadline
		row.MainGoalDeadline = &d
	}
	if obj.StartDate != "" {
		d := obj.StartDate
		row.MainGoalStartDate = &d
	}
	return row
}
