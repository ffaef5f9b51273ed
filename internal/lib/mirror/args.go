package mirror

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeshadow/internal/lib/chain"
	"github.com/TxnLab/stakeshadow/internal/lib/grade"
)

type argKind int

const (
	argAddr argKind = iota
	argUint
	argHash
	argBool
	argBytes
	argString
	argRows
)

// checkArgs validates arity and types up front so no operation runs on half-read input.
func checkArgs(method string, kinds []argKind, args []any) error {
	if len(args) != len(kinds) {
		return &chain.RevertError{Method: method, Reason: fmt.Sprintf("expected %d arguments, got %d", len(kinds), len(args))}
	}
	r := &argReader{method: method, args: args}
	for i, k := range kinds {
		switch k {
		case argAddr:
			r.addr(i)
		case argUint:
			r.amount(i)
		case argHash:
			r.hash(i)
		case argBool:
			r.flag(i)
		case argBytes:
			r.bytes(i)
		case argString:
			r.str(i)
		case argRows:
			r.rows(i)
		}
	}
	return r.err
}

// argReader converts positional call arguments, keeping the first error.
type argReader struct {
	method string
	args   []any
	err    error
}

func (r *argReader) at(i int) any {
	if i >= len(r.args) {
		r.keep(fmt.Errorf("%s: missing argument %d", r.method, i))
		return nil
	}
	return r.args[i]
}

func (r *argReader) keep(err error) {
	if r.err == nil && err != nil {
		r.err = &chain.RevertError{Method: r.method, Reason: err.Error()}
	}
}

func (r *argReader) addr(i int) common.Address {
	v, err := chain.Address(r.at(i))
	r.keep(err)
	return v
}

func (r *argReader) amount(i int) *uint256.Int {
	v, err := chain.Uint(r.at(i))
	r.keep(err)
	return v
}

func (r *argReader) u64(i int) uint64 {
	v, err := chain.Uint64(r.at(i))
	r.keep(err)
	return v
}

func (r *argReader) hash(i int) common.Hash {
	v, err := chain.Hash(r.at(i))
	r.keep(err)
	return v
}

func (r *argReader) flag(i int) bool {
	v, err := chain.Bool(r.at(i))
	r.keep(err)
	return v
}

func (r *argReader) bytes(i int) []byte {
	switch v := r.at(i).(type) {
	case []byte:
		return v
	case nil:
	default:
		r.keep(fmt.Errorf("argument %d: type %T is not bytes", i, v))
	}
	return nil
}

func (r *argReader) str(i int) string {
	switch v := r.at(i).(type) {
	case string:
		return v
	case nil:
	default:
		r.keep(fmt.Errorf("argument %d: type %T is not a string", i, v))
	}
	return ""
}

func (r *argReader) rows(i int) []grade.Row {
	switch v := r.at(i).(type) {
	case []grade.Row:
		return v
	case nil:
	default:
		r.keep(fmt.Errorf("argument %d: type %T is not a grade table", i, v))
	}
	return nil
}
