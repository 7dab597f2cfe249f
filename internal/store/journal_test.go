package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestProcesses(t *testing.T) {
	j := openTest(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, status := range []string{"ok", "timed_out", "ok"} {
		require.NoError(t, j.RecordProcess(ctx, ProcessEntry{
			ProcessID:      "p" + string(rune('a'+i)),
			RequestID:      "r",
			Source:         "user_text",
			Status:         "completed",
			TerminalStatus: status,
			Cost:           0.1,
			StartedAt:      base.Add(time.Duration(i) * time.Minute),
			EndedAt:        base.Add(time.Duration(i)*time.Minute + time.Second),
		}))
	}

	list, err := j.Processes(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "pc", list[0].ProcessID)
	assert.Equal(t, "pb", list[1].ProcessID)
	assert.Equal(t, "timed_out", list[1].TerminalStatus)
	assert.True(t, list[1].StartedAt.Equal(base.Add(time.Minute)))

	totals, err := j.ProcessTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, totals.Count)
	assert.Equal(t, 1, totals.Failed)
	assert.InDelta(t, 0.3, totals.Cost, 1e-9)

	err = j.RecordProcess(ctx, ProcessEntry{})
	assert.Error(t, err)
}

func TestRecordProcessReplaces(t *testing.T) {
	j := openTest(t)
	ctx := context.Background()
	e := ProcessEntry{ProcessID: "p1", RequestID: "r", Source: "user_text", Status: "running", StartedAt: time.Now()}
	require.NoError(t, j.RecordProcess(ctx, e))
	e.Status = "killed"
	e.Cause = "interrupt"
	require.NoError(t, j.RecordProcess(ctx, e))

	list, err := j.Processes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "killed", list[0].Status)
	assert.Equal(t, "interrupt", list[0].Cause)
}

func TestErrors(t *testing.T) {
	j := openTest(t)
	ctx := context.Background()

	require.NoError(t, j.RecordError(ctx, ErrorEntry{Kind: "timeout", Message: "too slow", Origin: "telegram:1:1"}))
	require.NoError(t, j.RecordError(ctx, ErrorEntry{Kind: "network", Message: "down"}))
	require.NoError(t, j.RecordError(ctx, ErrorEntry{Kind: "timeout", Message: "again"}))

	list, err := j.Errors(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "again", list[0].Message)
	assert.False(t, list[0].At.IsZero())

	counts, err := j.ErrorCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"timeout": 2, "network": 1}, counts)
}

func TestState(t *testing.T) {
	j := openTest(t)
	ctx := context.Background()

	_, ok, err := j.State(ctx, KeyPaused)
	require.NoError(t, err)
	assert.False(t, ok)

	paused, err := j.BoolState(ctx, KeyPaused)
	require.NoError(t, err)
	assert.False(t, paused)

	require.NoError(t, j.SetState(ctx, KeyPaused, "true"))
	paused, err = j.BoolState(ctx, KeyPaused)
	require.NoError(t, err)
	assert.True(t, paused)

	require.NoError(t, j.SetState(ctx, KeyPaused, "false"))
	v, ok, err := j.State(ctx, KeyPaused)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "false", v)
}

func TestPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "journal.db")
	ctx := context.Background()

	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.SetState(ctx, KeyPaused, "true"))
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()
	paused, err := j.BoolState(ctx, KeyPaused)
	require.NoError(t, err)
	assert.True(t, paused)
}

func TestPruneBefore(t *testing.T) {
	j := openTest(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	require.NoError(t, j.RecordProcess(ctx, ProcessEntry{ProcessID: "old", RequestID: "r", Source: "s", Status: "completed", StartedAt: old}))
	require.NoError(t, j.RecordProcess(ctx, ProcessEntry{ProcessID: "new", RequestID: "r", Source: "s", Status: "completed", StartedAt: time.Now()}))
	require.NoError(t, j.RecordError(ctx, ErrorEntry{At: old, Kind: "generic", Message: "x"}))

	n, err := j.PruneBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	list, err := j.Processes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "new", list[0].ProcessID)
}

func TestOpenMemory(t *testing.T) {
	j, err := Open(":memory:")
	require.NoError(t, err)
	defer j.Close()
	require.NoError(t, j.SetState(context.Background(), "k", "v"))
}
