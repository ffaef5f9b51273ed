package evm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"reflect"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeshadow/internal/lib/grade"
	"github.com/TxnLab/stakeshadow/internal/lib/units"
)

// LoadABIs reads <dir>/<name>.json for every name. A file holds either the bare ABI array
// or a compiler artifact with an "abi" member.
func LoadABIs(dir string, names []string) (map[string]abi.ABI, error) {
	abis := make(map[string]abi.ABI, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name+".json"))
		if err != nil {
			return nil, fmt.Errorf("loading abi for %s: %w", name, err)
		}
		parsed, err := parseABI(data)
		if err != nil {
			return nil, fmt.Errorf("parsing abi for %s: %w", name, err)
		}
		abis[name] = parsed
	}
	return abis, nil
}

func parseABI(data []byte) (abi.ABI, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var artifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		if err := json.Unmarshal(data, &artifact); err != nil {
			return abi.ABI{}, err
		}
		if len(artifact.ABI) == 0 {
			return abi.ABI{}, fmt.Errorf("artifact has no abi member")
		}
		data = artifact.ABI
	}
	return abi.JSON(bytes.NewReader(data))
}

var bigIntType = reflect.TypeOf(&big.Int{})

// packArgs converts the harness' argument values (uint256 amounts, hashes, grade rows) into
// the Go types the abi encoder expects for method's inputs.
func packArgs(method abi.Method, args []any) ([]any, error) {
	if len(args) != len(method.Inputs) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", method.Name, len(method.Inputs), len(args))
	}
	out := make([]any, len(args))
	for i, arg := range args {
		v, err := convertArg(method.Inputs[i].Type, arg)
		if err != nil {
			return nil, fmt.Errorf("%s argument %d (%s): %w", method.Name, i, method.Inputs[i].Name, err)
		}
		out[i] = v
	}
	return out, nil
}

func convertArg(typ abi.Type, arg any) (any, error) {
	switch typ.T {
	case abi.UintTy, abi.IntTy:
		amount, err := asAmount(arg)
		if err != nil {
			return nil, err
		}
		return numeric(amount, typ.GetType())
	case abi.FixedBytesTy:
		if h, ok := arg.(common.Hash); ok && typ.Size == common.HashLength {
			return [32]byte(h), nil
		}
	case abi.SliceTy:
		if rows, ok := arg.([]grade.Row); ok {
			return gradeRows(typ, rows)
		}
	}
	return arg, nil
}

func asAmount(arg any) (*uint256.Int, error) {
	switch v := arg.(type) {
	case *uint256.Int:
		return units.Clone(v), nil
	case uint64:
		return uint256.NewInt(v), nil
	case uint32:
		return uint256.NewInt(uint64(v)), nil
	case int:
		if v < 0 {
			return nil, fmt.Errorf("negative amount %d", v)
		}
		return uint256.NewInt(uint64(v)), nil
	case *big.Int:
		return units.FromBig(v)
	}
	return nil, fmt.Errorf("type %T is not an integer", arg)
}

func numeric(amount *uint256.Int, target reflect.Type) (any, error) {
	if target == bigIntType {
		return amount.ToBig(), nil
	}
	if !amount.IsUint64() {
		return nil, fmt.Errorf("%s does not fit %s", amount.Dec(), target)
	}
	return reflect.ValueOf(amount.Uint64()).Convert(target).Interface(), nil
}

// gradeRows encodes rows either as a tuple[] of (threshold, percent) or as uint[2][].
func gradeRows(typ abi.Type, rows []grade.Row) (any, error) {
	elem := typ.Elem
	if elem == nil || (elem.T != abi.TupleTy && elem.T != abi.ArrayTy) {
		return nil, fmt.Errorf("grade table cannot be encoded as %s", typ.String())
	}
	elemType := elem.GetType()
	out := reflect.MakeSlice(reflect.SliceOf(elemType), len(rows), len(rows))
	for i, row := range rows {
		item := out.Index(i)
		for j, v := range []uint64{row.Threshold, row.Percent} {
			var field reflect.Value
			if elem.T == abi.TupleTy {
				if elemType.NumField() != 2 {
					return nil, fmt.Errorf("grade tuple has %d fields", elemType.NumField())
				}
				field = item.Field(j)
			} else {
				if elem.Size != 2 {
					return nil, fmt.Errorf("grade row array has %d elements", elem.Size)
				}
				field = item.Index(j)
			}
			n, err := numeric(uint256.NewInt(v), field.Type())
			if err != nil {
				return nil, err
			}
			field.Set(reflect.ValueOf(n))
		}
	}
	return out.Interface(), nil
}

// flatten turns a single struct return into its fields so callers always see the
// positional values of the method's outputs.
func flatten(vals []any) []any {
	if len(vals) != 1 {
		return vals
	}
	v := reflect.ValueOf(vals[0])
	if v.Kind() != reflect.Struct {
		return vals
	}
	out := make([]any, v.NumField())
	for i := range out {
		out[i] = v.Field(i).Interface()
	}
	return out
}
