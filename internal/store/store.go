// Package store holds the canonical in-process application state.
//
// The Store is the single writer of the durable mirror: every mutation
// updates memory and rewrites the mirror blob before the mutating call
// returns, so a reader never observes a half-applied change and a restart
// never silently loses acknowledged local edits.
package store

import (
	"log/slog"
	"math"
	"sync"

	"github.com/elevatehq/elevate/internal/mirror"
	"github.com/elevatehq/elevate/internal/model"
)

// Store is the Local Store: all domain entities for at most one user
// session, guarded by a single lock so each mutation is atomic with
// respect to concurrent reads.
type Store struct {
	mu     sync.RWMutex
	snap   model.Snapshot
	mirror mirror.Mirror
}

// Open loads the persisted snapshot from the mirror and returns a store
// over it. A missing blob yields an empty store, not an error.
func Open(m mirror.Mirror) (*Store, error) {
	snap, _, err := m.Load()
	if err != nil {
		return nil, err
	}
	return &Store{snap: snap, mirror: m}, nil
}

// persistLocked rewrites the mirror blob with the current state.
// Mirror failures are logged and do not undo the in-memory mutation: the
// mirror is a cache, and dropping a local edit over a disk hiccup would
// regress data the user already saw applied.
func (s *Store) persistLocked() {
	if err := s.mirror.Save(s.snap); err != nil {
		slog.Error("mirror write failed", "error", err)
	}
}

// SetUser records the active user id. Sign-out passes the empty string;
// cached data is kept so unsynced work survives an auth blip, and the next
// pull replaces every collection before any cross-user read can happen.
func (s *Store) SetUser(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.UserID = id
	s.persistLocked()
}

// UserID returns the active user id, or "" when signed out.
func (s *Store) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.UserID
}

// Snapshot returns a deep copy of the full state.
func (s *Store) Snapshot() model.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone()
}

// Digest returns the canonical digest of the current state.
func (s *Store) Digest() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Digest()
}

// UpsertGoal inserts the goal or replaces an existing goal with the same id.
func (s *Store) UpsertGoal(g model.Goal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.snap.Goals {
		if s.snap.Goals[i].ID == g.ID {
			s.snap.Goals[i] = g
			s.persistLocked()
			return
		}
	}
	s.snap.Goals = append(s.snap.Goals, g)
	s.persistLocked()
}

// GoalPatch carries the fields of an UpdateGoal call. Nil fields are left
// untouched.
type GoalPatch struct {
	Title           *string
	Color           *string
	Icon            *string
	Description     *string
	DefaultDuration *int
	Deadline        *string
}

// UpdateGoal merges the supplied fields into the goal with the given id.
// A title change also rewrites the denormalized title of every event
// referencing the goal, inside the same critical section, so no reader can
// observe some events renamed and others not.
//
// Returns false (and changes nothing) when the id is unknown; duplicate
// updates arriving after a delete are tolerated as no-ops.
func (s *Store) UpdateGoal(id string, patch GoalPatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i := range s.snap.Goals {
		if s.snap.Goals[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	g := &s.snap.Goals[idx]
	if patch.Title != nil {
		g.Title = *patch.Title
		for i := range s.snap.Events {
			if s.snap.Events[i].GoalID == id {
				s.snap.Events[i].Title = *patch.Title
			}
		}
	}
	if patch.Color != nil {
		g.Color = *patch.Color
	}
	if patch.Icon != nil {
		g.Icon = *patch.Icon
	}
	if patch.Description != nil {
		g.Description = *patch.Description
	}
	if patch.DefaultDuration != nil {
		g.DefaultDuration = *patch.DefaultDuration
	}
	if patch.Deadline != nil {
		g.Deadline = *patch.Deadline
	}

	s.persistLocked()
	return true
}

// RemoveGoal deletes the goal with the given id. Events referencing it are
// left in place with a dangling GoalID; that is a documented, normal state.
// Removing an unknown id is a no-op.
func (s *Store) RemoveGoal(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.snap.Goals {
		if s.snap.Goals[i].ID == id {
			s.snap.Goals = append(s.snap.Goals[:i], s.snap.Goals[i+1:]...)
			s.persistLocked()
			return
		}
	}
}

// GoalByID returns the goal and whether it exists.
func (s *Store) GoalByID(id string) (model.Goal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.snap.Goals {
		if g.ID == id {
			return g, true
		}
	}
	return model.Goal{}, false
}

// Goals returns a copy of all goals.
func (s *Store) Goals() []model.Goal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Goal(nil), s.snap.Goals...)
}

// UpsertEvent inserts the event or replaces an existing event with the
// same id.
func (s *Store) UpsertEvent(e model.CalendarEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.snap.Events {
		if s.snap.Events[i].ID == e.ID {
			s.snap.Events[i] = e
			s.persistLocked()
			return
		}
	}
	s.snap.Events = append(s.snap.Events, e)
	s.persistLocked()
}

// EventPatch carries the fields of an UpdateEvent call. Nil fields are left
// untouched. A non-nil GoalID pointing at the empty string unlinks the
// event from its goal.
type EventPatch struct {
	Title     *string
	StartTime *string
	EndTime   *string
	GoalID    *string
}

// UpdateEvent merges the supplied fields into the event with the given id.
// Returns false when the id is unknown.
func (s *Store) UpdateEvent(id string, patch EventPatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.snap.Events {
		if s.snap.Events[i].ID != id {
			continue
		}
		e := &s.snap.Events[i]
		if patch.Title != nil {
			e.Title = *patch.Title
		}
		if patch.StartTime != nil {
			e.StartTime = *patch.StartTime
		}
		if patch.EndTime != nil {
			e.EndTime = *patch.EndTime
		}
		if patch.GoalID != nil {
			e.GoalID = *patch.GoalID
		}
		s.persistLocked()
		return true
	}
	return false
}

// SetProgress sets the completed duration of an event in minutes.
// The store does not clamp the value to the event's scheduled length; the
// upper bound is a UI concern. Returns false when the id is unknown.
func (s *Store) SetProgress(id string, minutes int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.snap.Events {
		if s.snap.Events[i].ID == id {
			s.snap.Events[i].CompletedDuration = minutes
			s.persistLocked()
			return true
		}
	}
	return false
}

// RemoveEvent deletes the event with the given id; unknown ids are a no-op.
func (s *Store) RemoveEvent(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.snap.Events {
		if s.snap.Events[i].ID == id {
			s.snap.Events = append(s.snap.Events[:i], s.snap.Events[i+1:]...)
			s.persistLocked()
			return
		}
	}
}

// EventByID returns the event and whether it exists.
func (s *Store) EventByID(id string) (model.CalendarEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.snap.Events {
		if e.ID == id {
			return e, true
		}
	}
	return model.CalendarEvent{}, false
}

// Events returns a copy of all events.
func (s *Store) Events() []model.CalendarEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.CalendarEvent(nil), s.snap.Events...)
}

// DayEvents returns the events whose start time falls on the given date key.
func (s *Store) DayEvents(dateKey string) []model.CalendarEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.CalendarEvent, 0)
	for _, e := range s.snap.Events {
		if e.StartsOn(dateKey) {
			out = append(out, e)
		}
	}
	return out
}

// SetMainGoal overwrites the main objective statement.
func (s *Store) SetMainGoal(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Objective.MainGoal = text
	s.persistLocked()
}

// SetMainGoalDeadline overwrites the objective deadline date.
func (s *Store) SetMainGoalDeadline(date string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Objective.Deadline = date
	s.persistLocked()
}

// SetMainGoalStartDate overwrites the objective start date.
func (s *Store) SetMainGoalStartDate(date string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Objective.StartDate = date
	s.persistLocked()
}

// Objective returns the singleton main objective.
func (s *Store) Objective() model.Objective {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Objective
}

// SetJournal upserts the journal entry for a date key.
func (s *Store) SetJournal(dateKey, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Journal[dateKey] = content
	s.persistLocked()
}

// RemoveJournal deletes the journal entry for a date key. Absent keys are
// a no-op.
func (s *Store) RemoveJournal(dateKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snap.Journal[dateKey]; !ok {
		return
	}
	delete(s.snap.Journal, dateKey)
	s.persistLocked()
}

// Journal returns the journal entry for a date key, "" when absent.
func (s *Store) Journal(dateKey string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Journal[dateKey]
}

// SetMemo upserts the memo entry for a date key.
func (s *Store) SetMemo(dateKey, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Memos[dateKey] = content
	s.persistLocked()
}

// RemoveMemo deletes the memo entry for a date key. Absent keys are a
// no-op.
func (s *Store) RemoveMemo(dateKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snap.Memos[dateKey]; !ok {
		return
	}
	delete(s.snap.Memos, dateKey)
	s.persistLocked()
}

// Memo returns the memo entry for a date key, "" when absent.
func (s *Store) Memo(dateKey string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Memos[dateKey]
}

// SetScore upserts the daily score for a date key.
func (s *Store) SetScore(dateKey string, score int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Scores[dateKey] = score
	s.persistLocked()
}

// RemoveScore deletes the daily score for a date key. Absent keys are a
// no-op.
func (s *Store) RemoveScore(dateKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snap.Scores[dateKey]; !ok {
		return
	}
	delete(s.snap.Scores, dateKey)
	s.persistLocked()
}

// Score returns the daily score for a date key and whether one was set.
func (s *Store) Score(dateKey string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.snap.Scores[dateKey]
	return v, ok
}

// AppendMessage appends a chat message to the local transcript.
// Messages are never synced remotely.
func (s *Store) AppendMessage(msg model.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Messages = append(s.snap.Messages, msg)
	s.persistLocked()
}

// Messages returns a copy of the chat transcript.
func (s *Store) Messages() []model.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.ChatMessage(nil), s.snap.Messages...)
}

// ReplaceGoals swaps the entire goal collection in one atomic transition.
// Used by pull: remote data replaces, never merges.
func (s *Store) ReplaceGoals(goals []model.Goal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Goals = append([]model.Goal(nil), goals...)
	s.persistLocked()
}

// ReplaceEvents swaps the entire event collection in one atomic transition.
func (s *Store) ReplaceEvents(events []model.CalendarEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Events = append([]model.CalendarEvent(nil), events...)
	s.persistLocked()
}

// ReplaceObjective swaps the main objective in one atomic transition.
func (s *Store) ReplaceObjective(obj model.Objective) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Objective = obj
	s.persistLocked()
}

// ReplaceJournal swaps the journal map in one atomic transition.
func (s *Store) ReplaceJournal(entries map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Journal = cloneOrEmpty(entries)
	s.persistLocked()
}

// ReplaceMemos swaps the memo map in one atomic transition.
func (s *Store) ReplaceMemos(entries map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Memos = cloneOrEmpty(entries)
	s.persistLocked()
}

// ReplaceScores swaps the score map in one atomic transition.
func (s *Store) ReplaceScores(scores map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(scores))
	for k, v := range scores {
		out[k] = v
	}
	s.snap.Scores = out
	s.persistLocked()
}

func cloneOrEmpty(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// DayProgress returns the completion percentage for a calendar date over
// the goal-linked events scheduled that day:
//
//	round(min(100, 100 * sum(completed) / sum(scheduled)))
//
// Days with no goal-linked events, or whose scheduled minutes sum to zero,
// score 0 rather than dividing by zero.
func (s *Store) DayProgress(dateKey string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var scheduled, completed int
	for _, e := range s.snap.Events {
		if e.GoalID == "" || !e.StartsOn(dateKey) {
			continue
		}
		scheduled += e.ScheduledMinutes()
		completed += e.CompletedDuration
	}
	if scheduled == 0 {
		return 0
	}
	return roundPercent(completed, scheduled)
}

// GoalProgress returns the completion percentage of a goal against its
// default duration, summed over every event referencing it:
//
//	round(min(100, 100 * sum(completed) / goal.defaultDuration))
//
// Unknown goals and goals with a zero default duration score 0.
func (s *Store) GoalProgress(goalID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var goal *model.Goal
	for i := range s.snap.Goals {
		if s.snap.Goals[i].ID == goalID {
			goal = &s.snap.Goals[i]
			break
		}
	}
	if goal == nil || goal.DefaultDuration <= 0 {
		return 0
	}

	var completed int
	for _, e := range s.snap.Events {
		if e.GoalID == goalID {
			completed += e.CompletedDuration
		}
	}
	return roundPercent(completed, goal.DefaultDuration)
}

func roundPercent(num, den int) int {
	pct := 100 * float64(num) / float64(den)
	if pct > 100 {
		pct = 100
	}
	return int(math.Round(pct))
}
