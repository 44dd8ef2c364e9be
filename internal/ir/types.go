package ir

import "sort"

// Op is the operation kind of a Value.
type Op int

const (
	OpInvalid Op = iota

	// Leaves
	OpConst
	OpArg
	OpParam
	OpCaller
	OpCallValue

	// Wrapping arithmetic
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpSDiv
	OpMod
	OpSMod
	OpExp
	OpAddMod
	OpMulMod

	// Comparison and bitwise
	OpLt
	OpGt
	OpSlt
	OpSgt
	OpEq
	OpIsZero
	OpAnd
	OpOr
	OpXor
	OpNot
	OpShl
	OpShr
	OpSar
	OpByte

	// Arithmetic that reverts on overflow or a zero divisor
	OpCheckedAdd
	OpCheckedSub
	OpCheckedMul
	OpCheckedDiv

	OpKeccak
	OpKeccakWord

	// Storage
	OpSLoad
	OpSStore

	// Memory
	OpMLoad
	OpMStore

	// Calls
	OpCall
	OpStaticCall
	OpDelegateCall
	OpRawCall

	// Logs
	OpLog0
	OpLog1
	OpLog2

	opCount
)

// OpInfo is the static description of an Op. Operand order follows the
// machine: Args[0] is the operand that sits on top of the stack when the
// operation executes, so sub(a, b) computes a - b.
type OpInfo struct {
	Name        string
	Arity       int
	Results     int
	Commutative bool
	MayRevert   bool
	Effect      EffectClass
}

var opTable = [opCount]OpInfo{
	OpInvalid:   {Name: "invalid"},
	OpConst:     {Name: "const", Results: 1},
	OpArg:       {Name: "arg", Results: 1},
	OpParam:     {Name: "param", Results: 1},
	OpCaller:    {Name: "caller", Results: 1},
	OpCallValue: {Name: "callvalue", Results: 1},

	OpAdd:    {Name: "add", Arity: 2, Results: 1, Commutative: true},
	OpSub:    {Name: "sub", Arity: 2, Results: 1},
	OpMul:    {Name: "mul", Arity: 2, Results: 1, Commutative: true},
	OpDiv:    {Name: "div", Arity: 2, Results: 1},
	OpSDiv:   {Name: "sdiv", Arity: 2, Results: 1},
	OpMod:    {Name: "mod", Arity: 2, Results: 1},
	OpSMod:   {Name: "smod", Arity: 2, Results: 1},
	OpExp:    {Name: "exp", Arity: 2, Results: 1},
	OpAddMod: {Name: "addmod", Arity: 3, Results: 1},
	OpMulMod: {Name: "mulmod", Arity: 3, Results: 1},

	OpLt:     {Name: "lt", Arity: 2, Results: 1},
	OpGt:     {Name: "gt", Arity: 2, Results: 1},
	OpSlt:    {Name: "slt", Arity: 2, Results: 1},
	OpSgt:    {Name: "sgt", Arity: 2, Results: 1},
	OpEq:     {Name: "eq", Arity: 2, Results: 1, Commutative: true},
	OpIsZero: {Name: "iszero", Arity: 1, Results: 1},
	OpAnd:    {Name: "and", Arity: 2, Results: 1, Commutative: true},
	OpOr:     {Name: "or", Arity: 2, Results: 1, Commutative: true},
	OpXor:    {Name: "xor", Arity: 2, Results: 1, Commutative: true},
	OpNot:    {Name: "not", Arity: 1, Results: 1},
	OpShl:    {Name: "shl", Arity: 2, Results: 1},
	OpShr:    {Name: "shr", Arity: 2, Results: 1},
	OpSar:    {Name: "sar", Arity: 2, Results: 1},
	OpByte:   {Name: "byte", Arity: 2, Results: 1},

	OpCheckedAdd: {Name: "cadd", Arity: 2, Results: 1, Commutative: true, MayRevert: true},
	OpCheckedSub: {Name: "csub", Arity: 2, Results: 1, MayRevert: true},
	OpCheckedMul: {Name: "cmul", Arity: 2, Results: 1, Commutative: true, MayRevert: true},
	OpCheckedDiv: {Name: "cdiv", Arity: 2, Results: 1, MayRevert: true},

	OpKeccak:     {Name: "keccak", Arity: 2, Results: 1},
	OpKeccakWord: {Name: "keccak1", Arity: 1, Results: 1},

	OpSLoad:  {Name: "sload", Arity: 1, Results: 1, Effect: EffectStorageRead},
	OpSStore: {Name: "sstore", Arity: 2, Effect: EffectStorageWrite},
	OpMLoad:  {Name: "mload", Arity: 1, Results: 1, Effect: EffectMemoryRead},
	OpMStore: {Name: "mstore", Arity: 2, Effect: EffectMemoryWrite},

	OpCall:         {Name: "call", Arity: 3, Results: 1, Effect: EffectCall},
	OpStaticCall:   {Name: "staticcall", Arity: 2, Results: 1, Effect: EffectStaticCall},
	OpDelegateCall: {Name: "delegatecall", Arity: 2, Results: 1, Effect: EffectCall},
	OpRawCall:      {Name: "rawcall", Arity: 3, Results: 1, Effect: EffectCall},

	OpLog0: {Name: "log0", Arity: 1, Effect: EffectLog},
	OpLog1: {Name: "log1", Arity: 2, Effect: EffectLog},
	OpLog2: {Name: "log2", Arity: 3, Effect: EffectLog},
}

var opsByName = func() map[string]Op {
	m := make(map[string]Op, opCount)
	for op := OpInvalid + 1; op < opCount; op++ {
		m[opTable[op].Name] = op
	}
	return m
}()

func (op Op) Info() OpInfo {
	if op <= OpInvalid || op >= opCount {
		return opTable[OpInvalid]
	}
	return opTable[op]
}

func (op Op) String() string {
	return op.Info().Name
}

// IsLeaf reports ops without operands that the scheduler materializes on demand.
func (op Op) IsLeaf() bool {
	switch op {
	case OpConst, OpArg, OpParam, OpCaller, OpCallValue:
		return true
	}
	return false
}

func (op Op) IsCall() bool {
	e := op.Info().Effect
	return e == EffectCall || e == EffectStaticCall
}

// LookupOp finds an operation by its mnemonic.
func LookupOp(name string) (Op, bool) {
	op, ok := opsByName[name]
	return op, ok
}

// OpNames lists every mnemonic, sorted.
func OpNames() []string {
	names := make([]string, 0, len(opsByName))
	for name := range opsByName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
