package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elevatehq/elevate/internal/gateway"
)

// testEnv writes a config file over a fresh database and mirror path and
// returns the config path and a gateway handle for seeding rows.
func testEnv(t *testing.T) (string, *gateway.SQLite) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "elevate.db")
	cfgPath := writeConfig(t, fmt.Sprintf(`
database: %s
mirror: %s
user_id: user-1
`, dbPath, filepath.Join(dir, "state.json")))

	gw, err := gateway.OpenSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { gw.Close() })
	return cfgPath, gw
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestPullCommand_LoadsRemoteRows(t *testing.T) {
	cfgPath, gw := testEnv(t)
	require.NoError(t, gw.UpsertGoal(context.Background(), gateway.GoalRow{
		ID: "g-1", UserID: "user-1", Title: "Read", CreatedAt: "2026-03-01T08:00:00Z",
	}))

	out, err := runCommand(t, "--config", cfgPath, "--format", "json", "pull")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), data["goals"])
	assert.Equal(t, float64(6), data["tables"])
}

func TestPushCommand_RefusesWithoutForceUnderRemoteWins(t *testing.T) {
	cfgPath, _ := testEnv(t)

	_, err := runCommand(t, "--config", cfgPath, "push")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGoalAddAndList_RoundTrip(t *testing.T) {
	cfgPath, gw := testEnv(t)

	out, err := runCommand(t, "--config", cfgPath, "goal", "add", "Read", "--duration", "30")
	require.NoError(t, err)
	assert.Contains(t, out, "Created goal Read")

	rows, err := gw.ListGoals(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, rows, 1, "the add must reach the remote store before exit")
	assert.Equal(t, "Read", rows[0].Title)

	out, err = runCommand(t, "--config", cfgPath, "goal", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Read")
}

func TestStatusCommand_ReportsDigestAndProgress(t *testing.T) {
	cfgPath, _ := testEnv(t)

	out, err := runCommand(t, "--config", cfgPath, "--format", "json", "status", "--date", "2026-03-01")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "user-1", data["user"])
	assert.Equal(t, "DISCONNECTED", data["channel"])
	assert.Equal(t, float64(0), data["day_progress"])
	assert.NotEmpty(t, data["digest"])
}

func TestStatusCommand_RejectsBadDate(t *testing.T) {
	cfgPath, _ := testEnv(t)

	_, err := runCommand(t, "--config", cfgPath, "status", "--date", "March 1st")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestJournalSetAndShow(t *testing.T) {
	cfgPath, gw := testEnv(t)

	_, err := runCommand(t, "--config", cfgPath, "journal", "set", "2026-03-01", "good session")
	require.NoError(t, err)

	rows, err := gw.ListEntries(context.Background(), gateway.TableJournal, "user-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "good session", rows[0].Content)

	out, err := runCommand(t, "--config", cfgPath, "journal", "show", "2026-03-01")
	require.NoError(t, err)
	assert.Contains(t, out, "good session")
}

func TestScoreSetAndShow(t *testing.T) {
	cfgPath, gw := testEnv(t)

	_, err := runCommand(t, "--config", cfgPath, "score", "set", "2026-03-01", "8")
	require.NoError(t, err)

	rows, err := gw.ListScores(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 8, rows[0].Score)

	out, err := runCommand(t, "--config", cfgPath, "score", "show", "2026-03-01")
	require.NoError(t, err)
	assert.Contains(t, out, "8")
}
