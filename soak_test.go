package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TxnLab/stakeshadow/internal/lib/accounts"
	"github.com/TxnLab/stakeshadow/internal/lib/params"
	"github.com/TxnLab/stakeshadow/internal/lib/scenario"
	"github.com/TxnLab/stakeshadow/internal/lib/shadow"
)

// offlineApp points the command layer at a temp config dir and the offline chain.
func offlineApp(t *testing.T) *ShadowApp {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	App = &ShadowApp{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		network: OfflineNetwork,
		cfg:     params.Defaults(),
	}
	return App
}

func TestSoakSeed(t *testing.T) {
	testCases := []struct {
		base, i, want uint64
	}{
		{10, 0, 10},
		{10, 5, 15},
		{0, 0, 1},
		{^uint64(0), 1, 1},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%d+%d", tc.base, tc.i), func(t *testing.T) {
			assert.Equal(t, tc.want, soakSeed(tc.base, tc.i))
		})
	}
}

func TestTruncateScenario(t *testing.T) {
	f := &scenario.File{InitRound: 7, Seed: 3}
	f.Add(0, &scenario.RegisterCandidate{Candidate: "P0", Commission: 10})
	f.Add(2, &scenario.ClaimReward{Delegator: "U0"})
	f.Add(5, &scenario.TurnRound{})

	got := truncateScenario(f, 2)
	assert.Equal(t, []uint64{0, 2}, got.Rounds())
	assert.Equal(t, uint64(3), got.Seed)
	assert.Equal(t, 3, f.NumTasks(), "original untouched")
	assert.Equal(t, 3, truncateScenario(f, ^uint64(0)).NumTasks())
}

func TestLastFailureRoundTrip(t *testing.T) {
	offlineApp(t)
	_, err := LoadLastFailure()
	require.ErrorIs(t, err, os.ErrNotExist)

	failure := &scenario.Failure{Round: 4, Index: 2, Task: &scenario.UnstakeCore{Delegator: "U0", Candidate: "P0", Amount: 5}, Err: shadow.ErrInsufficientBalance}
	last := newLastFailure("s.json", OfflineNetwork, 9, fmt.Errorf("run: %w", failure))
	last.RunID = "abc"
	require.NoError(t, SaveLastFailure(last))

	loaded, err := LoadLastFailure()
	require.NoError(t, err)
	assert.Equal(t, "s.json", loaded.Scenario)
	assert.Equal(t, uint64(9), loaded.Seed)
	assert.Equal(t, uint64(4), loaded.Round)
	assert.Equal(t, 2, loaded.Index)
	assert.Equal(t, `["UnstakeCore","U0","P0",5]`, loaded.Task)
	assert.Equal(t, shadow.ErrInsufficientBalance.Error(), loaded.Error)
	assert.Equal(t, "abc", loaded.RunID)

	path, err := ConfigFilename()
	require.NoError(t, err)
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestSoakIteration(t *testing.T) {
	app := offlineApp(t)
	s := &Soaker{
		app:    app,
		gen:    scenario.GeneratorOptions{Seed: 5, Rounds: 2, TasksPerRound: 5, Candidates: 2, Delegators: 3},
		opts:   scenario.DefaultOptions(),
		outDir: t.TempDir(),
	}
	require.NoError(t, s.iteration(context.Background(), 5))
	runs, failures := s.stats()
	assert.Equal(t, uint64(1), runs)
	assert.Equal(t, uint64(0), failures)

	entries, err := os.ReadDir(s.outDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "passing scenarios are not kept")
}

func TestRenderState(t *testing.T) {
	app := offlineApp(t)
	f := &scenario.File{InitRound: app.cfg.InitRound}
	f.Add(0, &scenario.RegisterCandidate{Candidate: "P0", Commission: 100})
	f.Add(0, &scenario.StakeCore{Delegator: "U0", Candidate: "P0", Amount: 250})
	f.Add(1, &scenario.GenerateBlock{Candidate: "P0", Count: 1})

	drv, err := app.runScenario(context.Background(), "", f, scenario.DefaultOptions())
	require.NoError(t, err)
	out := renderState(drv)
	assert.Contains(t, out, "Round 8")
	assert.Contains(t, out, "P0")
	assert.Contains(t, out, "U0")
	assert.NotContains(t, out, "BTC tx", "no btc stakes to show")
}

func TestDefaultAccountNames(t *testing.T) {
	names := defaultAccountNames()
	assert.Contains(t, names, scenario.GovernorAccount)
	assert.Contains(t, names, "P0")
	assert.Contains(t, names, "U7")

	book := accounts.NewBook(slog.New(slog.NewTextHandler(io.Discard, nil)), 1)
	assert.NotEqual(t, book.Address("P0"), book.Address("P1"))
}
