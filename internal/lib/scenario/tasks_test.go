package scenario

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TxnLab/stakeshadow/internal/lib/params"
)

func TestParseTask(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Task
		wantErr error
	}{
		{"stake core", `["StakeCore", "U0", "P1", 250]`, &StakeCore{Delegator: "U0", Candidate: "P1", Amount: 250}, nil},
		{"no arguments", `["TurnRound"]`, &TurnRound{}, nil},
		{"grade rows", `["UpdateCoreStakeGrades", [[0, 1000], [5000, 10000]]]`, &UpdateCoreStakeGrades{Rows: [][2]uint64{{0, 1000}, {5000, 10000}}}, nil},
		{"param value", `["UpdateParam", "validatorCount", "25"]`, &UpdateParam{Key: "validatorCount", Value: "25"}, nil},
		{"unknown task", `["MintCoins", "U0"]`, nil, ErrUnknownTask},
		{"empty entry", `[]`, nil, ErrUnknownTask},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseTask(json.RawMessage(tc.raw))
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseTaskRejectsMalformedArguments(t *testing.T) {
	for _, raw := range []string{
		`{"task": "TurnRound"}`,
		`["StakeCore", "U0", "P1"]`,
		`["StakeCore", "U0", "P1", 250, 1]`,
		`["StakeCore", "U0", "P1", "lots"]`,
		`[7, "U0"]`,
	} {
		_, err := ParseTask(json.RawMessage(raw))
		assert.Error(t, err, raw)
	}
}

func TestEncodeTaskMatchesFileForm(t *testing.T) {
	raw, err := EncodeTask(&CreateStakeLockTx{Tx: "btc1", Delegator: "U0", Candidate: "P0", Amount: 1_000_000, LockRounds: 10, ScriptType: "p2wsh", Fee: 1})
	require.NoError(t, err)
	assert.JSONEq(t, `["CreateStakeLockTx", "btc1", "U0", "P0", 1000000, 10, "p2wsh", 1]`, string(raw))
	assert.Equal(t, `["ClaimReward","U3"]`, Describe(&ClaimReward{Delegator: "U3"}))
}

func TestTaskRegistry(t *testing.T) {
	names := TaskNames()
	assert.Len(t, names, 31)
	for _, name := range names {
		task := registry[name]()
		assert.Equal(t, name, task.Name())
	}
	assert.True(t, IsGovernance(&UpdateParam{}))
	assert.True(t, IsGovernance(&AddSystemRewardOperator{}))
	assert.False(t, IsGovernance(&StakeCore{}))
}

func TestFileSaveAndLoad(t *testing.T) {
	f := &File{InitRound: 7, Seed: 42}
	f.Add(0, &RegisterCandidate{Candidate: "P0", Commission: 100})
	f.Add(0, &StakeCore{Delegator: "U0", Candidate: "P0", Amount: 10})
	f.Add(3, &ClaimReward{Delegator: "U0"})

	path := filepath.Join(t.TempDir(), "scenario.json")
	require.NoError(t, Save(path, f))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), loaded.InitRound)
	assert.Equal(t, uint64(42), loaded.Seed)
	assert.Equal(t, []uint64{0, 3}, loaded.Rounds())
	assert.Equal(t, 3, loaded.NumTasks())
	assert.Equal(t, f.RoundTasks, loaded.RoundTasks)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestFileValidation(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"init round too low", `{"init_round": 3, "round_tasks": {}}`, params.ErrInvalid},
		{"unknown task", `{"init_round": 7, "round_tasks": {"0": [["Nope"]]}}`, ErrUnknownTask},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var f File
			assert.ErrorIs(t, json.Unmarshal([]byte(tc.raw), &f), tc.wantErr)
		})
	}

	var f File
	require.Error(t, json.Unmarshal([]byte(`{"init_round": 7, "round_tasks": {"first": []}}`), &f))
	require.NoError(t, json.Unmarshal([]byte(`{"init_round": 9, "round_tasks": {"2": [["TurnRound"]]}}`), &f))
	assert.Equal(t, uint64(0), f.Seed)
	assert.Equal(t, []Task{&TurnRound{}}, f.RoundTasks[2])
}
