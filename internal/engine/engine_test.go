package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elevatehq/elevate/internal/gateway"
	"github.com/elevatehq/elevate/internal/mirror"
	"github.com/elevatehq/elevate/internal/model"
	"github.com/elevatehq/elevate/internal/store"
	"github.com/elevatehq/elevate/internal/testutil"
)

func newTestEngine(t *testing.T, fake *fakeGateway) *Engine {
	t.Helper()
	st, err := store.Open(mirror.NewMemory())
	require.NoError(t, err)
	return New(st, fake,
		WithIDGenerator(NewSequenceGenerator("id")),
		WithNow(func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) }),
	)
}

func strPtr(v string) *string { return &v }
func intPtr(v int) *int       { return &v }

func TestAddGoal_OptimisticLocalThenQueued(t *testing.T) {
	fake := newFakeGateway()
	e := newTestEngine(t, fake)
	e.SetSession("user-1")

	g := e.AddGoal(GoalInput{Title: "Read", DefaultDuration: 30})

	assert.Equal(t, "id-1", g.ID)
	got, found := e.Store().GoalByID("id-1")
	require.True(t, found, "the goal is visible before any remote work")
	assert.Equal(t, "Read", got.Title)
	assert.Equal(t, 1, e.QueueLen())
	assert.Equal(t, 0, fake.callCount("upsert "+gateway.TableGoals), "no remote call until the queue drains")
}

func TestFlush_ExecutesQueuedWrites(t *testing.T) {
	fake := newFakeGateway()
	e := newTestEngine(t, fake)
	e.SetSession("user-1")

	e.AddGoal(GoalInput{Title: "Read"})
	e.SetScore("2026-03-01", 7)
	e.Flush(context.Background())

	assert.Equal(t, 0, e.QueueLen())
	assert.Equal(t, 1, fake.callCount("upsert "+gateway.TableGoals))
	assert.Equal(t, 1, fake.callCount("upsert "+gateway.TableScores))
	assert.Equal(t, "Read", fake.goals["id-1"].Title)
}

func TestMutations_WithoutSessionStayLocal(t *testing.T) {
	fake := newFakeGateway()
	e := newTestEngine(t, fake)

	e.AddGoal(GoalInput{Title: "Offline"})
	e.SetJournal("2026-03-01", "entry")

	assert.Equal(t, 0, e.QueueLen(), "signed-out edits are local-only")
	_, found := e.Store().GoalByID("id-1")
	assert.True(t, found)
}

func TestUpdateGoal_TitleCascadeQueuesEventUpserts(t *testing.T) {
	fake := newFakeGateway()
	e := newTestEngine(t, fake)
	e.SetSession("user-1")

	g := e.AddGoal(GoalInput{Title: "Read"})
	e.AddEvent(EventInput{Title: "Read", StartTime: "2026-03-01T08:00:00Z", EndTime: "2026-03-01T09:00:00Z", GoalID: g.ID})
	e.AddEvent(EventInput{Title: "Read", StartTime: "2026-03-02T08:00:00Z", EndTime: "2026-03-02T09:00:00Z", GoalID: g.ID})
	e.Flush(context.Background())

	require.True(t, e.UpdateGoal(g.ID, store.GoalPatch{Title: strPtr("Deep reading")}))
	e.Flush(context.Background())

	assert.Equal(t, "Deep reading", fake.goals[g.ID].Title)
	assert.Equal(t, "Deep reading", fake.events["id-2"].Title, "retitled events are pushed remotely too")
	assert.Equal(t, "Deep reading", fake.events["id-3"].Title)
}

func TestDeleteGoal_QueuesRemoteDelete(t *testing.T) {
	fake := newFakeGateway()
	e := newTestEngine(t, fake)
	e.SetSession("user-1")

	g := e.AddGoal(GoalInput{Title: "Read"})
	e.Flush(context.Background())
	require.Contains(t, fake.goals, g.ID)

	e.DeleteGoal(g.ID)
	e.Flush(context.Background())

	assert.NotContains(t, fake.goals, g.ID)
	_, found := e.Store().GoalByID(g.ID)
	assert.False(t, found)
}

func TestPull_ReplacesLocalCollections(t *testing.T) {
	fake := newFakeGateway()
	fake.goals["g-remote"] = gateway.GoalRow{ID: "g-remote", UserID: "user-1", Title: "Remote", DefaultDuration: intPtr(30)}
	fake.scores["2026-03-01"] = gateway.ScoreRow{UserID: "user-1", Date: "2026-03-01", Score: 8}

	e := newTestEngine(t, fake)
	e.Store().UpsertGoal(model.Goal{ID: "g-local", Title: "Local"})
	e.SetSession("user-1")

	stats := e.Pull(context.Background())

	assert.Equal(t, 6, stats.Fetched)
	assert.Empty(t, stats.Failed)
	goals := e.Store().Goals()
	require.Len(t, goals, 1)
	assert.Equal(t, "g-remote", goals[0].ID, "pull replaces, never merges")
	score, ok := e.Store().Score("2026-03-01")
	require.True(t, ok)
	assert.Equal(t, 8, score)
}

func TestPull_EmptyRemoteIsAuthoritative(t *testing.T) {
	fake := newFakeGateway()
	e := newTestEngine(t, fake)
	e.Store().UpsertGoal(model.Goal{ID: "g-local", Title: "Local"})
	e.SetSession("user-1")

	e.Pull(context.Background())

	assert.Empty(t, e.Store().Goals(), "zero remote rows clear the collection")
}

func TestPull_FailedTableKeepsLocalData(t *testing.T) {
	fake := newFakeGateway()
	fake.scores["2026-03-01"] = gateway.ScoreRow{UserID: "user-1", Date: "2026-03-01", Score: 8}
	fake.fail(gateway.TableGoals)

	e := newTestEngine(t, fake)
	e.Store().UpsertGoal(model.Goal{ID: "g-local", Title: "Local"})
	e.SetSession("user-1")

	stats := e.Pull(context.Background())

	assert.Equal(t, []string{gateway.TableGoals}, stats.Failed)
	assert.Equal(t, 5, stats.Fetched, "the remaining tables still load")
	require.Len(t, e.Store().Goals(), 1, "a fetch error must not clear local data")
	score, ok := e.Store().Score("2026-03-01")
	require.True(t, ok)
	assert.Equal(t, 8, score)
}

func TestPull_Idempotent(t *testing.T) {
	fake := newFakeGateway()
	fake.goals["g-1"] = gateway.GoalRow{ID: "g-1", UserID: "user-1", Title: "Read", DefaultDuration: intPtr(30)}
	fake.journal["2026-03-01"] = gateway.EntryRow{UserID: "user-1", Date: "2026-03-01", Content: "entry"}
	fake.settings["user-1"] = gateway.SettingsRow{UserID: "user-1", MainGoal: "Ship"}

	e := newTestEngine(t, fake)
	e.SetSession("user-1")

	e.Pull(context.Background())
	d1, err := e.Store().Digest()
	require.NoError(t, err)

	e.Pull(context.Background())
	d2, err := e.Store().Digest()
	require.NoError(t, err)

	assert.Equal(t, d1, d2, "pulling unchanged remote state is a no-op")
}

func TestPull_NullDurationKeepsLocalValue(t *testing.T) {
	fake := newFakeGateway()
	fake.goals["g-1"] = gateway.GoalRow{ID: "g-1", UserID: "user-1", Title: "Read"}

	e := newTestEngine(t, fake)
	e.Store().UpsertGoal(model.Goal{ID: "g-1", Title: "Read", DefaultDuration: 45})
	e.SetSession("user-1")

	e.Pull(context.Background())

	g, found := e.Store().GoalByID("g-1")
	require.True(t, found)
	assert.Equal(t, 45, g.DefaultDuration, "a null wire duration must not wipe the known target")
}

func TestPull_MissingSettingsClearsObjective(t *testing.T) {
	fake := newFakeGateway()
	e := newTestEngine(t, fake)
	e.Store().SetMainGoal("Stale objective")
	e.SetSession("user-1")

	e.Pull(context.Background())

	assert.Equal(t, model.Objective{}, e.Store().Objective())
}

func TestPull_WithoutSessionIsNoOp(t *testing.T) {
	fake := newFakeGateway()
	e := newTestEngine(t, fake)

	stats := e.Pull(context.Background())

	assert.Equal(t, 0, stats.Fetched)
	assert.Equal(t, 0, fake.totalCalls())
}

func TestPush_WritesWholeState(t *testing.T) {
	fake := newFakeGateway()
	e := newTestEngine(t, fake)
	e.SetSession("user-1")
	e.Store().UpsertGoal(model.Goal{ID: "g-1", Title: "Read", DefaultDuration: 30})
	e.Store().UpsertEvent(model.CalendarEvent{ID: "e-1", Title: "Read", GoalID: "g-1"})
	e.Store().SetMainGoal("Ship")
	e.Store().SetJournal("2026-03-01", "entry")
	e.Store().SetMemo("2026-03-01", "memo")
	e.Store().SetScore("2026-03-01", 7)

	stats := e.Push(context.Background())

	assert.Equal(t, 6, stats.Written)
	assert.Empty(t, stats.Failed)
	assert.Equal(t, "Read", fake.goals["g-1"].Title)
	assert.Equal(t, "Ship", fake.settings["user-1"].MainGoal)
	assert.Equal(t, "memo", fake.memos["2026-03-01"].Content)
	assert.Equal(t, 7, fake.scores["2026-03-01"].Score)
}

func TestPush_FailedTableIsReported(t *testing.T) {
	fake := newFakeGateway()
	fake.fail(gateway.TableEvents)

	e := newTestEngine(t, fake)
	e.SetSession("user-1")
	e.Store().UpsertGoal(model.Goal{ID: "g-1", Title: "Read"})
	e.Store().UpsertEvent(model.CalendarEvent{ID: "e-1", Title: "Read"})

	stats := e.Push(context.Background())

	assert.Contains(t, stats.Failed, gateway.TableEvents)
	assert.Equal(t, "Read", fake.goals["g-1"].Title, "other tables still push")
}

func TestInitialSync_RemoteWinsNeverPushes(t *testing.T) {
	fake := newFakeGateway()
	e := newTestEngine(t, fake)
	e.SetSession("user-1")
	e.Store().UpsertGoal(model.Goal{ID: "g-local", Title: "Local"})

	e.InitialSync(context.Background())

	assert.Equal(t, 0, fake.callCount("upsert "+gateway.TableGoals))
	assert.Empty(t, e.Store().Goals(), "remote state won")
}

func TestInitialSync_LocalWinsPushesThenPulls(t *testing.T) {
	fake := newFakeGateway()
	st, err := store.Open(mirror.NewMemory())
	require.NoError(t, err)
	e := New(st, fake, WithPolicy(PolicyLocalWins), WithIDGenerator(NewSequenceGenerator("id")))
	e.SetSession("user-1")
	e.Store().UpsertGoal(model.Goal{ID: "g-local", Title: "Local", DefaultDuration: 30})

	e.InitialSync(context.Background())

	assert.Equal(t, 1, fake.callCount("upsert "+gateway.TableGoals))
	goals := e.Store().Goals()
	require.Len(t, goals, 1)
	assert.Equal(t, "g-local", goals[0].ID, "the pushed state comes back on the pull")
}

func TestStaleWrite_DiscardedAfterSessionChange(t *testing.T) {
	fake := newFakeGateway()
	e := newTestEngine(t, fake)
	e.SetSession("user-1")

	e.AddGoal(GoalInput{Title: "Read"})
	require.Equal(t, 1, e.QueueLen())

	e.ClearSession()
	e.Flush(context.Background())

	assert.Equal(t, 0, fake.callCount("upsert "+gateway.TableGoals),
		"a write from a previous session must never land")
}

func TestRun_DrainsQueueAndReportsResults(t *testing.T) {
	fake := newFakeGateway()
	e := newTestEngine(t, fake)
	e.SetSession("user-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	e.AddGoal(GoalInput{Title: "Read"})
	e.SetScore("2026-03-01", 7)

	for i := 0; i < 2; i++ {
		select {
		case res := <-e.Results():
			assert.NoError(t, res.Err)
		case <-time.After(time.Second):
			t.Fatal("write result not delivered")
		}
	}
	assert.Equal(t, "Read", fake.goals["id-1"].Title)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
}

func TestRun_StaysAliveAfterDrainingBacklog(t *testing.T) {
	fake := newFakeGateway()
	e := newTestEngine(t, fake)
	e.SetSession("user-1")

	// Writes queued before the loop starts leave a wakeup token behind
	// once drained; the loop must not mistake it for queue closure.
	e.AddGoal(GoalInput{Title: "A"})
	e.AddGoal(GoalInput{Title: "B"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	testutil.WaitFor(t, func() bool { return e.QueueLen() == 0 }, "backlog never drained")

	select {
	case err := <-done:
		t.Fatalf("Run returned before cancellation: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	e.AddGoal(GoalInput{Title: "C"})
	testutil.WaitFor(t, func() bool {
		return fake.callCount("upsert "+gateway.TableGoals) == 3
	}, "a write after the backlog drained was never executed")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
}

func TestRun_FailedWriteReportsErrorAndContinues(t *testing.T) {
	fake := newFakeGateway()
	fake.fail(gateway.TableGoals)

	e := newTestEngine(t, fake)
	e.SetSession("user-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	e.AddGoal(GoalInput{Title: "Read"})
	e.SetScore("2026-03-01", 7)

	var sawError, sawSuccess bool
	for i := 0; i < 2; i++ {
		select {
		case res := <-e.Results():
			if res.Err != nil {
				sawError = true
				assert.Equal(t, gateway.TableGoals, res.Table)
			} else {
				sawSuccess = true
				assert.Equal(t, gateway.TableScores, res.Table)
			}
		case <-time.After(time.Second):
			t.Fatal("write result not delivered")
		}
	}
	assert.True(t, sawError)
	assert.True(t, sawSuccess, "one failed write must not stall the queue")

	g, found := e.Store().GoalByID("id-1")
	require.True(t, found)
	assert.Equal(t, "Read", g.Title, "local state is never rolled back on remote failure")
}

func TestSequenceNumbers_StrictlyIncrease(t *testing.T) {
	fake := newFakeGateway()
	e := newTestEngine(t, fake)
	e.SetSession("user-1")

	e.AddGoal(GoalInput{Title: "A"})
	e.AddGoal(GoalInput{Title: "B"})
	e.AddGoal(GoalInput{Title: "C"})

	var last int64
	for {
		w, ok := e.queue.TryDequeue()
		if !ok {
			break
		}
		assert.Greater(t, w.Seq, last)
		last = w.Seq
	}
	assert.Equal(t, int64(3), last)
}

func TestEpoch_BumpsOnEverySessionChange(t *testing.T) {
	fake := newFakeGateway()
	e := newTestEngine(t, fake)

	before := e.Epoch()
	e.SetSession("user-1")
	afterSignIn := e.Epoch()
	e.ClearSession()
	afterSignOut := e.Epoch()

	assert.Greater(t, afterSignIn, before)
	assert.Greater(t, afterSignOut, afterSignIn)
	assert.Equal(t, "", e.UserID())
}
