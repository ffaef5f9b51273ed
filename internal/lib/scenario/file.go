package scenario

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/TxnLab/stakeshadow/internal/lib/params"
)

// File is a scenario. Keys of RoundTasks count rounds advanced past InitRound.
type File struct {
	InitRound  uint64
	Seed       uint64
	RoundTasks map[uint64][]Task
}

type fileJSON struct {
	InitRound  uint64                       `json:"init_round"`
	Seed       uint64                       `json:"seed,omitempty"`
	RoundTasks map[string][]json.RawMessage `json:"round_tasks"`
}

// Rounds returns the round keys in execution order.
func (f *File) Rounds() []uint64 {
	rounds := make([]uint64, 0, len(f.RoundTasks))
	for r := range f.RoundTasks {
		rounds = append(rounds, r)
	}
	slices.Sort(rounds)
	return rounds
}

// NumTasks counts tasks over all rounds.
func (f *File) NumTasks() int {
	var n int
	for _, tasks := range f.RoundTasks {
		n += len(tasks)
	}
	return n
}

// Add appends t to the tasks of round key.
func (f *File) Add(key uint64, t Task) {
	if f.RoundTasks == nil {
		f.RoundTasks = map[uint64][]Task{}
	}
	f.RoundTasks[key] = append(f.RoundTasks[key], t)
}

func (f *File) UnmarshalJSON(data []byte) error {
	var raw fileJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.InitRound < params.MinInitRound {
		return fmt.Errorf("init_round %d below %d: %w", raw.InitRound, params.MinInitRound, params.ErrInvalid)
	}
	out := File{InitRound: raw.InitRound, Seed: raw.Seed, RoundTasks: map[uint64][]Task{}}
	for key, entries := range raw.RoundTasks {
		round, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			return fmt.Errorf("round key %q: %w", key, err)
		}
		for i, entry := range entries {
			t, err := ParseTask(entry)
			if err != nil {
				return fmt.Errorf("round %d task %d: %w", round, i, err)
			}
			out.RoundTasks[round] = append(out.RoundTasks[round], t)
		}
	}
	*f = out
	return nil
}

func (f File) MarshalJSON() ([]byte, error) {
	raw := fileJSON{InitRound: f.InitRound, Seed: f.Seed, RoundTasks: map[string][]json.RawMessage{}}
	for round, tasks := range f.RoundTasks {
		entries := make([]json.RawMessage, 0, len(tasks))
		for _, t := range tasks {
			entry, err := EncodeTask(t)
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
		}
		raw.RoundTasks[strconv.FormatUint(round, 10)] = entries
	}
	return json.Marshal(raw)
}

func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("loading scenario %s: %w", path, err)
	}
	return &f, nil
}

// Save writes f to path through a temp file that replaces path only once fully written.
func Save(path string, f *File) error {
	temp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(temp)
	encoder.SetIndent("", "  ")
	err = encoder.Encode(f)
	if err != nil {
		_ = temp.Close()
		_ = os.Remove(temp.Name())
		return fmt.Errorf("error saving scenario: %w", err)
	}
	if err = temp.Close(); err != nil {
		return err
	}
	return os.Rename(temp.Name(), path)
}
