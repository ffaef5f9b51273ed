// Package scenario loads, generates and replays operation sequences against a chain while
// keeping the shadow model in lock step with it.
package scenario

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
)

var ErrUnknownTask = errors.New("unknown task")

// Task is one scenario operation. Its exported fields are its positional arguments, in
// file order.
type Task interface {
	Name() string
	// args returns pointers to the positional arguments.
	args() []any
}

type SponsorFund struct {
	Sponsor string
	Amount  uint64
}

// RegisterCandidate registers with Margin whole coins; zero means the required margin.
type RegisterCandidate struct {
	Candidate  string
	Commission uint64
	Margin     uint64
}

type UnregisterCandidate struct{ Candidate string }

type SlashValidator struct {
	Candidate string
	Count     uint64
}

type AddMargin struct {
	Candidate string
	Amount    uint64
}

type RefuseDelegate struct{ Candidate string }

type AcceptDelegate struct{ Candidate string }

type GenerateBlock struct {
	Candidate string
	Count     uint64
}

type TurnRound struct{}

type StakeCore struct {
	Delegator string
	Candidate string
	Amount    uint64
}

type UnstakeCore struct {
	Delegator string
	Candidate string
	Amount    uint64
}

type TransferCore struct {
	Delegator string
	From      string
	To        string
	Amount    uint64
}

type StakePower struct {
	Miner     string
	Candidate string
}

// CreateStakeLockTx builds a time-locked stake of Amount satoshis unlocking LockRounds
// after the current round. It only touches the local BTC ledger.
type CreateStakeLockTx struct {
	Tx         string
	Delegator  string
	Candidate  string
	Amount     uint64
	LockRounds uint64
	ScriptType string
	Fee        uint64
}

type ConfirmBtcTx struct{ Tx string }

type StakeBtc struct {
	Tx      string
	Relayer string
}

type TransferBtc struct {
	Tx     string
	Target string
}

type AddWallet struct{ ScriptType string }

type CreateLSTLockTx struct {
	Tx         string
	Delegator  string
	Amount     uint64
	WalletType string
}

type StakeLSTBtc struct {
	Tx      string
	Relayer string
}

type TransferLSTBtc struct {
	From   string
	To     string
	Amount uint64
}

// UnstakeLSTBtc files a redeem request; zero Amount redeems everything.
type UnstakeLSTBtc struct {
	Delegator  string
	Amount     uint64
	ScriptType string
}

// BurnLSTBtcAndPayBtcToRedeemer redeems and then relays the custodian's payout.
type BurnLSTBtcAndPayBtcToRedeemer struct {
	Delegator  string
	Amount     uint64
	ScriptType string
}

type ClaimReward struct{ Delegator string }

type UpdateCoreStakeGrades struct{ Rows [][2]uint64 }

type UpdateCoreStakeGradeFlag struct{ Enabled uint64 }

type UpdateBtcStakeGrades struct{ Rows [][2]uint64 }

type UpdateBtcStakeGradeFlag struct{ Enabled uint64 }

type UpdateBtcLstStakeGradePercent struct{ Percent uint64 }

// AddSystemRewardOperator takes an account name or a system contract name.
type AddSystemRewardOperator struct{ Account string }

// UpdateParam sets a governed parameter; Value is a decimal integer.
type UpdateParam struct {
	Key   string
	Value string
}

func (*SponsorFund) Name() string                   { return "SponsorFund" }
func (*RegisterCandidate) Name() string             { return "RegisterCandidate" }
func (*UnregisterCandidate) Name() string           { return "UnregisterCandidate" }
func (*SlashValidator) Name() string                { return "SlashValidator" }
func (*AddMargin) Name() string                     { return "AddMargin" }
func (*RefuseDelegate) Name() string                { return "RefuseDelegate" }
func (*AcceptDelegate) Name() string                { return "AcceptDelegate" }
func (*GenerateBlock) Name() string                 { return "GenerateBlock" }
func (*TurnRound) Name() string                     { return "TurnRound" }
func (*StakeCore) Name() string                     { return "StakeCore" }
func (*UnstakeCore) Name() string                   { return "UnstakeCore" }
func (*TransferCore) Name() string                  { return "TransferCore" }
func (*StakePower) Name() string                    { return "StakePower" }
func (*CreateStakeLockTx) Name() string             { return "CreateStakeLockTx" }
func (*ConfirmBtcTx) Name() string                  { return "ConfirmBtcTx" }
func (*StakeBtc) Name() string                      { return "StakeBtc" }
func (*TransferBtc) Name() string                   { return "TransferBtc" }
func (*AddWallet) Name() string                     { return "AddWallet" }
func (*CreateLSTLockTx) Name() string               { return "CreateLSTLockTx" }
func (*StakeLSTBtc) Name() string                   { return "StakeLSTBtc" }
func (*TransferLSTBtc) Name() string                { return "TransferLSTBtc" }
func (*UnstakeLSTBtc) Name() string                 { return "UnstakeLSTBtc" }
func (*BurnLSTBtcAndPayBtcToRedeemer) Name() string { return "BurnLSTBtcAndPayBtcToRedeemer" }
func (*ClaimReward) Name() string                   { return "ClaimReward" }
func (*UpdateCoreStakeGrades) Name() string         { return "UpdateCoreStakeGrades" }
func (*UpdateCoreStakeGradeFlag) Name() string      { return "UpdateCoreStakeGradeFlag" }
func (*UpdateBtcStakeGrades) Name() string          { return "UpdateBtcStakeGrades" }
func (*UpdateBtcStakeGradeFlag) Name() string       { return "UpdateBtcStakeGradeFlag" }
func (*UpdateBtcLstStakeGradePercent) Name() string { return "UpdateBtcLstStakeGradePercent" }
func (*AddSystemRewardOperator) Name() string       { return "AddSystemRewardOperator" }
func (*UpdateParam) Name() string                   { return "UpdateParam" }

func (t *SponsorFund) args() []any         { return []any{&t.Sponsor, &t.Amount} }
func (t *RegisterCandidate) args() []any   { return []any{&t.Candidate, &t.Commission, &t.Margin} }
func (t *UnregisterCandidate) args() []any { return []any{&t.Candidate} }
func (t *SlashValidator) args() []any      { return []any{&t.Candidate, &t.Count} }
func (t *AddMargin) args() []any           { return []any{&t.Candidate, &t.Amount} }
func (t *RefuseDelegate) args() []any      { return []any{&t.Candidate} }
func (t *AcceptDelegate) args() []any      { return []any{&t.Candidate} }
func (t *GenerateBlock) args() []any       { return []any{&t.Candidate, &t.Count} }
func (t *TurnRound) args() []any           { return nil }
func (t *StakeCore) args() []any           { return []any{&t.Delegator, &t.Candidate, &t.Amount} }
func (t *UnstakeCore) args() []any         { return []any{&t.Delegator, &t.Candidate, &t.Amount} }
func (t *TransferCore) args() []any        { return []any{&t.Delegator, &t.From, &t.To, &t.Amount} }
func (t *StakePower) args() []any          { return []any{&t.Miner, &t.Candidate} }
func (t *CreateStakeLockTx) args() []any {
	return []any{&t.Tx, &t.Delegator, &t.Candidate, &t.Amount, &t.LockRounds, &t.ScriptType, &t.Fee}
}
func (t *ConfirmBtcTx) args() []any    { return []any{&t.Tx} }
func (t *StakeBtc) args() []any        { return []any{&t.Tx, &t.Relayer} }
func (t *TransferBtc) args() []any     { return []any{&t.Tx, &t.Target} }
func (t *AddWallet) args() []any       { return []any{&t.ScriptType} }
func (t *CreateLSTLockTx) args() []any { return []any{&t.Tx, &t.Delegator, &t.Amount, &t.WalletType} }
func (t *StakeLSTBtc) args() []any     { return []any{&t.Tx, &t.Relayer} }
func (t *TransferLSTBtc) args() []any  { return []any{&t.From, &t.To, &t.Amount} }
func (t *UnstakeLSTBtc) args() []any   { return []any{&t.Delegator, &t.Amount, &t.ScriptType} }
func (t *BurnLSTBtcAndPayBtcToRedeemer) args() []any {
	return []any{&t.Delegator, &t.Amount, &t.ScriptType}
}
func (t *ClaimReward) args() []any                   { return []any{&t.Delegator} }
func (t *UpdateCoreStakeGrades) args() []any         { return []any{&t.Rows} }
func (t *UpdateCoreStakeGradeFlag) args() []any      { return []any{&t.Enabled} }
func (t *UpdateBtcStakeGrades) args() []any          { return []any{&t.Rows} }
func (t *UpdateBtcStakeGradeFlag) args() []any       { return []any{&t.Enabled} }
func (t *UpdateBtcLstStakeGradePercent) args() []any { return []any{&t.Percent} }
func (t *AddSystemRewardOperator) args() []any       { return []any{&t.Account} }
func (t *UpdateParam) args() []any                   { return []any{&t.Key, &t.Value} }

var registry = map[string]func() Task{}

func init() {
	for _, t := range []Task{
		&SponsorFund{}, &RegisterCandidate{}, &UnregisterCandidate{}, &SlashValidator{},
		&AddMargin{}, &RefuseDelegate{}, &AcceptDelegate{}, &GenerateBlock{}, &TurnRound{},
		&StakeCore{}, &UnstakeCore{}, &TransferCore{}, &StakePower{},
		&CreateStakeLockTx{}, &ConfirmBtcTx{}, &StakeBtc{}, &TransferBtc{},
		&AddWallet{}, &CreateLSTLockTx{}, &StakeLSTBtc{}, &TransferLSTBtc{},
		&UnstakeLSTBtc{}, &BurnLSTBtcAndPayBtcToRedeemer{}, &ClaimReward{},
		&UpdateCoreStakeGrades{}, &UpdateCoreStakeGradeFlag{}, &UpdateBtcStakeGrades{},
		&UpdateBtcStakeGradeFlag{}, &UpdateBtcLstStakeGradePercent{},
		&AddSystemRewardOperator{}, &UpdateParam{},
	} {
		proto := t
		registry[t.Name()] = func() Task {
			return newLike(proto)
		}
	}
}

func newLike(proto Task) Task {
	return reflect.New(reflect.TypeOf(proto).Elem()).Interface().(Task)
}

// TaskNames lists every known task name, sorted.
func TaskNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsGovernance reports whether t goes through the governance hub.
func IsGovernance(t Task) bool {
	switch t.(type) {
	case *UpdateCoreStakeGrades, *UpdateCoreStakeGradeFlag, *UpdateBtcStakeGrades,
		*UpdateBtcStakeGradeFlag, *UpdateBtcLstStakeGradePercent, *AddSystemRewardOperator, *UpdateParam:
		return true
	}
	return false
}

// ParseTask decodes one `[name, arg, ...]` entry.
func ParseTask(raw json.RawMessage) (Task, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, fmt.Errorf("task %s is not an array: %w", string(raw), err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty task entry: %w", ErrUnknownTask)
	}
	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return nil, fmt.Errorf("task name %s: %w", string(parts[0]), err)
	}
	mk, found := registry[name]
	if !found {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownTask)
	}
	t := mk()
	fields := t.args()
	if len(parts)-1 != len(fields) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", name, len(fields), len(parts)-1)
	}
	for i, field := range fields {
		if err := json.Unmarshal(parts[i+1], field); err != nil {
			return nil, fmt.Errorf("%s argument %d: %w", name, i+1, err)
		}
	}
	return t, nil
}

// EncodeTask is the inverse of ParseTask.
func EncodeTask(t Task) (json.RawMessage, error) {
	entry := append([]any{t.Name()}, t.args()...)
	return json.Marshal(entry)
}

// Describe renders a task the way it appears in scenario files.
func Describe(t Task) string {
	raw, err := EncodeTask(t)
	if err != nil {
		return t.Name()
	}
	return string(raw)
}
