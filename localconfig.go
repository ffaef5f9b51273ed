package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/TxnLab/stakeshadow/internal/lib/scenario"
)

// LastFailure records the most recent failed run so it can be replayed.
type LastFailure struct {
	Scenario string    `json:"scenario,omitempty"`
	Network  string    `json:"network"`
	Seed     uint64    `json:"seed"`
	RunID    string    `json:"run_id,omitempty"`
	Round    uint64    `json:"round"`
	Index    int       `json:"index"`
	Task     string    `json:"task,omitempty"`
	Error    string    `json:"error"`
	Time     time.Time `json:"time"`
}

func newLastFailure(path, network string, seed uint64, err error) *LastFailure {
	last := &LastFailure{Scenario: path, Network: network, Seed: seed, Error: err.Error(), Time: time.Now().UTC()}
	var failure *scenario.Failure
	if errors.As(err, &failure) {
		last.Round = failure.Round
		last.Index = failure.Index
		last.Task = scenario.Describe(failure.Task)
		last.Error = failure.Err.Error()
	}
	return last
}

func ConfigFilename() (string, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	cfgPath := filepath.Join(cfgDir, "stakeshadow", "last.json")
	err = os.MkdirAll(filepath.Dir(cfgPath), 0775) // user+group RWX, others RX
	if err != nil {
		return "", fmt.Errorf("error making directory:%s, error:%w", cfgDir, err)
	}
	return cfgPath, nil
}

func SaveLastFailure(last *LastFailure) error {
	// Save into a temp file first and only replace the existing record if fully written.
	cfgName, err := ConfigFilename()
	if err != nil {
		return err
	}
	temp, err := os.CreateTemp(filepath.Dir(cfgName), filepath.Base(cfgName)+".*")
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(temp)
	encoder.SetIndent("", "  ")
	err = encoder.Encode(last)
	if err != nil {
		_ = temp.Close()
		_ = os.Remove(temp.Name())
		return fmt.Errorf("error saving last failure: %w", err)
	}

	err = temp.Close()
	if err != nil {
		return err
	}

	err = os.Rename(temp.Name(), cfgName)
	if err != nil {
		return err
	}
	slog.Info("failure saved", "file", cfgName)
	return nil
}

func LoadLastFailure() (*LastFailure, error) {
	cfgName, err := ConfigFilename()
	if err != nil {
		return nil, err
	}
	file, err := os.Open(cfgName)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var last LastFailure
	if err := json.NewDecoder(file).Decode(&last); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", cfgName, err)
	}
	return &last, nil
}
