package model

// Goal is a user-defined target activity with a default session length.
// IDs are generated client-side at creation time and never reused.
type Goal struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Color           string `json:"color,omitempty"`
	Icon            string `json:"icon,omitempty"`
	Description     string `json:"description,omitempty"`
	DefaultDuration int    `json:"defaultDuration"` // minutes, >= 0
	Deadline        string `json:"deadline,omitempty"`
	CreatedAt       string `json:"createdAt,omitempty"` // RFC 3339
}

// CalendarEvent is a scheduled time block, optionally linked to a Goal.
//
// GoalID is a weak reference: deleting a goal does not delete or rewrite
// dependent events, and consumers must treat "goal not found" as a normal
// state. Times are kept as RFC 3339 strings so the snapshot round-trips
// through JSON without precision surprises.
type CalendarEvent struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	StartTime         string `json:"startTime"` // RFC 3339
	EndTime           string `json:"endTime"`   // RFC 3339
	GoalID            string `json:"goalId,omitempty"`
	CompletedDuration int    `json:"completedDuration"` // minutes, >= 0
}

// Objective is the singleton per-user main goal statement.
// It is overwritten in place; no history is retained.
type Objective struct {
	MainGoal  string `json:"mainGoal,omitempty"`
	Deadline  string `json:"deadline,omitempty"`  // YYYY-MM-DD
	StartDate string `json:"startDate,omitempty"` // YYYY-MM-DD
}

// Chat message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is an append-only chat transcript entry.
// Messages live in the local snapshot only and are never synced remotely.
type ChatMessage struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Snapshot is the full Local Store state. It is the unit of persistence for
// the durable mirror: read once at startup, rewritten after every mutation.
type Snapshot struct {
	UserID    string            `json:"userId,omitempty"`
	Goals     []Goal            `json:"goals"`
	Events    []CalendarEvent   `json:"events"`
	Objective Objective         `json:"objective"`
	Journal   map[string]string `json:"journal"`
	Memos     map[string]string `json:"memos"`
	Scores    map[string]int    `json:"scores"`
	Messages  []ChatMessage     `json:"messages"`
}

// NewSnapshot returns an empty snapshot with all collections allocated.
func NewSnapshot() Snapshot {
	return Snapshot{
		Goals:    make([]Goal, 0),
		Events:   make([]CalendarEvent, 0),
		Journal:  make(map[string]string),
		Memos:    make(map[string]string),
		Scores:   make(map[string]int),
		Messages: make([]ChatMessage, 0),
	}
}

// Clone returns a deep copy of the snapshot. Mutating the copy never
// affects the original.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Goals = append([]Goal(nil), s.Goals...)
	out.Events = append([]CalendarEvent(nil), s.Events...)
	out.Messages = append([]ChatMessage(nil), s.Messages...)
	out.Journal = cloneStringMap(s.Journal)
	out.Memos = cloneStringMap(s.Memos)
	out.Scores = cloneIntMap(s.Scores)
	return out
}

func cloneStringMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneIntMap(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
