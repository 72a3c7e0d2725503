package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/elevatehq/elevate/internal/gateway"
)

// fakeGateway is an in-memory Gateway and Feed with per-table failure
// injection and call counting.
type fakeGateway struct {
	mu sync.Mutex

	goals    map[string]gateway.GoalRow
	events   map[string]gateway.EventRow
	settings map[string]gateway.SettingsRow
	journal  map[string]gateway.EntryRow
	memos    map[string]gateway.EntryRow
	scores   map[string]gateway.ScoreRow

	// failing tables return an error from every operation.
	failing map[string]bool

	// calls counts operations per "op table" key, e.g. "list goals".
	calls map[string]int

	subs []chan gateway.Change
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		goals:    make(map[string]gateway.GoalRow),
		events:   make(map[string]gateway.EventRow),
		settings: make(map[string]gateway.SettingsRow),
		journal:  make(map[string]gateway.EntryRow),
		memos:    make(map[string]gateway.EntryRow),
		scores:   make(map[string]gateway.ScoreRow),
		failing:  make(map[string]bool),
		calls:    make(map[string]int),
	}
}

func (f *fakeGateway) fail(table string)    { f.mu.Lock(); f.failing[table] = true; f.mu.Unlock() }
func (f *fakeGateway) recover(table string) { f.mu.Lock(); delete(f.failing, table); f.mu.Unlock() }

func (f *fakeGateway) callCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeGateway) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// check records the call and returns an error when the table is failing.
func (f *fakeGateway) check(op, table string) error {
	f.calls[op+" "+table]++
	if f.failing[table] {
		return fmt.Errorf("injected %s failure", table)
	}
	return nil
}

func (f *fakeGateway) emit(c gateway.Change) {
	f.mu.Lock()
	subs := append([]chan gateway.Change(nil), f.subs...)
	f.mu.Unlock()
	for _, ch := range subs {
		ch <- c
	}
}

func (f *fakeGateway) Subscribe(ctx context.Context, userID string) (<-chan gateway.Change, context.CancelFunc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("subscribe", "feed"); err != nil {
		return nil, nil, err
	}
	ch := make(chan gateway.Change, 16)
	f.subs = append(f.subs, ch)
	return ch, func() {}, nil
}

func (f *fakeGateway) ListGoals(ctx context.Context, userID string) ([]gateway.GoalRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("list", gateway.TableGoals); err != nil {
		return nil, err
	}
	out := make([]gateway.GoalRow, 0)
	for _, r := range f.goals {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeGateway) GetGoal(ctx context.Context, userID, id string) (gateway.GoalRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("get", gateway.TableGoals); err != nil {
		return gateway.GoalRow{}, err
	}
	r, ok := f.goals[id]
	if !ok || r.UserID != userID {
		return gateway.GoalRow{}, gateway.ErrNotFound
	}
	return r, nil
}

func (f *fakeGateway) UpsertGoal(ctx context.Context, row gateway.GoalRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("upsert", gateway.TableGoals); err != nil {
		return err
	}
	f.goals[row.ID] = row
	return nil
}

func (f *fakeGateway) DeleteGoal(ctx context.Context, userID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("delete", gateway.TableGoals); err != nil {
		return err
	}
	delete(f.goals, id)
	return nil
}

func (f *fakeGateway) ListEvents(ctx context.Context, userID string) ([]gateway.EventRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("list", gateway.TableEvents); err != nil {
		return nil, err
	}
	out := make([]gateway.EventRow, 0)
	for _, r := range f.events {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeGateway) UpsertEvent(ctx context.Context, row gateway.EventRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("upsert", gateway.TableEvents); err != nil {
		return err
	}
	f.events[row.ID] = row
	return nil
}

func (f *fakeGateway) DeleteEvent(ctx context.Context, userID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("delete", gateway.TableEvents); err != nil {
		return err
	}
	delete(f.events, id)
	return nil
}

func (f *fakeGateway) GetSettings(ctx context.Context, userID string) (gateway.SettingsRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("get", gateway.TableSettings); err != nil {
		return gateway.SettingsRow{}, err
	}
	r, ok := f.settings[userID]
	if !ok {
		return gateway.SettingsRow{}, gateway.ErrNotFound
	}
	return r, nil
}

func (f *fakeGateway) UpsertSettings(ctx context.Context, row gateway.SettingsRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("upsert", gateway.TableSettings); err != nil {
		return err
	}
	f.settings[row.UserID] = row
	return nil
}

func (f *fakeGateway) entryTable(table string) map[string]gateway.EntryRow {
	if table == gateway.TableMemos {
		return f.memos
	}
	return f.journal
}

func (f *fakeGateway) ListEntries(ctx context.Context, table, userID string) ([]gateway.EntryRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("list", table); err != nil {
		return nil, err
	}
	out := make([]gateway.EntryRow, 0)
	for _, r := range f.entryTable(table) {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeGateway) UpsertEntry(ctx context.Context, table string, row gateway.EntryRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("upsert", table); err != nil {
		return err
	}
	f.entryTable(table)[row.Date] = row
	return nil
}

func (f *fakeGateway) DeleteEntry(ctx context.Context, table, userID, date string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("delete", table); err != nil {
		return err
	}
	delete(f.entryTable(table), date)
	return nil
}

func (f *fakeGateway) ListScores(ctx context.Context, userID string) ([]gateway.ScoreRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("list", gateway.TableScores); err != nil {
		return nil, err
	}
	out := make([]gateway.ScoreRow, 0)
	for _, r := range f.scores {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeGateway) UpsertScore(ctx context.Context, row gateway.ScoreRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("upsert", gateway.TableScores); err != nil {
		return err
	}
	f.scores[row.Date] = row
	return nil
}

func (f *fakeGateway) DeleteScore(ctx context.Context, userID, date string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("delete", gateway.TableScores); err != nil {
		return err
	}
	delete(f.scores, date)
	return nil
}
