// Package interp executes the subset of the machine that generated code
// uses. It exists to check compiled functions by running them: storage,
// memory, calldata, logs and calls are modelled, gas is not.
package interp

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
)

// Storage is a contract's word-addressed storage.
type Storage map[uint256.Int]uint256.Int

func (s Storage) Get(key *uint256.Int) *uint256.Int {
	v := s[*key]
	return &v
}

func (s Storage) Set(key, value *uint256.Int) {
	if value.IsZero() {
		delete(s, *key)
		return
	}
	s[*key] = *value
}

func (s Storage) Clone() Storage {
	out := make(Storage, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Keys returns the occupied slots in ascending order.
func (s Storage) Keys() []uint256.Int {
	keys := make([]uint256.Int, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Lt(&keys[j]) })
	return keys
}

func (s Storage) String() string {
	out := "{"
	for i, k := range s.Keys() {
		if i > 0 {
			out += ", "
		}
		v := s[k]
		out += fmt.Sprintf("%s: %s", k.Hex(), v.Hex())
	}
	return out + "}"
}

// Log is an emitted event.
type Log struct {
	Topics []uint256.Int
	Data   []byte
}

// Call describes an outgoing call for the Env hook.
type Call struct {
	Kind  vm.OpCode
	To    *uint256.Int
	Value *uint256.Int
	Input []byte
}

// CallHook answers an outgoing call. It may modify storage to model
// re-entrancy. A nil hook makes every call succeed with no return data.
type CallHook func(call Call, storage Storage) (success bool, ret []byte)

// Env is the execution context of a run.
type Env struct {
	Calldata  []byte
	Caller    *uint256.Int
	CallValue *uint256.Int
	Storage   Storage
	OnCall    CallHook
	// MaxSteps bounds the number of executed instructions. Zero means
	// DefaultMaxSteps.
	MaxSteps int
}

const DefaultMaxSteps = 1_000_000

// Result is the observable outcome of a run.
type Result struct {
	ReturnData []byte
	Reverted   bool
	Storage    Storage
	Logs       []Log
	Calls      []Call
	OpCounts   map[vm.OpCode]int
	Steps      int
}

// Word returns the i-th 32-byte word of the return data.
func (r *Result) Word(i int) *uint256.Int {
	start := 32 * i
	if start+32 > len(r.ReturnData) {
		return nil
	}
	return new(uint256.Int).SetBytes(r.ReturnData[start : start+32])
}

// Calldata encodes a call: the 4-byte selector followed by one word per
// argument.
func Calldata(selector [4]byte, args ...*uint256.Int) []byte {
	out := append([]byte(nil), selector[:]...)
	for _, a := range args {
		word := a.Bytes32()
		out = append(out, word[:]...)
	}
	return out
}
