package interp

import (
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

var (
	ErrStackUnderflow = errors.New("stack underflow")
	ErrInvalidJump    = errors.New("invalid jump destination")
	ErrStepLimit      = errors.New("step limit reached")
	ErrMemoryLimit    = errors.New("memory access out of bounds")
)

// maxMemory bounds memory growth, generated code only touches a few words.
const maxMemory = 1 << 20

type machine struct {
	code   []byte
	dests  []bool
	stack  []uint256.Int
	memory []byte
	env    Env
	res    *Result
}

// Run executes code from offset zero against env.
func Run(code []byte, env Env) (*Result, error) {
	if env.Caller == nil {
		env.Caller = new(uint256.Int)
	}
	if env.CallValue == nil {
		env.CallValue = new(uint256.Int)
	}
	storage := env.Storage.Clone()
	if storage == nil {
		storage = make(Storage)
	}
	m := &machine{
		code:  code,
		dests: jumpDests(code),
		env:   env,
		res:   &Result{Storage: storage, OpCounts: make(map[vm.OpCode]int)},
	}
	if err := m.run(); err != nil {
		return m.res, err
	}
	return m.res, nil
}

// jumpDests marks JUMPDEST bytes that are not push data.
func jumpDests(code []byte) []bool {
	dests := make([]bool, len(code))
	for pc := 0; pc < len(code); pc++ {
		op := vm.OpCode(code[pc])
		if op == vm.JUMPDEST {
			dests[pc] = true
		}
		if op >= vm.PUSH1 && op <= vm.PUSH32 {
			pc += int(op - vm.PUSH1 + 1)
		}
	}
	return dests
}

func (m *machine) push(x *uint256.Int) {
	m.stack = append(m.stack, *x)
}

func (m *machine) pop() (uint256.Int, error) {
	if len(m.stack) == 0 {
		return uint256.Int{}, ErrStackUnderflow
	}
	x := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return x, nil
}

// popN pops n words, the top first.
func (m *machine) popN(n int) ([]uint256.Int, error) {
	if len(m.stack) < n {
		return nil, ErrStackUnderflow
	}
	out := make([]uint256.Int, n)
	for i := 0; i < n; i++ {
		out[i] = m.stack[len(m.stack)-1-i]
	}
	m.stack = m.stack[:len(m.stack)-n]
	return out, nil
}

// span validates a memory range and grows memory to cover it.
func (m *machine) span(offset, size *uint256.Int) (uint64, uint64, error) {
	if size.IsZero() {
		return 0, 0, nil
	}
	if !offset.IsUint64() || !size.IsUint64() || offset.Uint64()+size.Uint64() > maxMemory {
		return 0, 0, ErrMemoryLimit
	}
	off, n := offset.Uint64(), size.Uint64()
	if end := off + n; end > uint64(len(m.memory)) {
		words := (end + 31) / 32
		grown := make([]byte, words*32)
		copy(grown, m.memory)
		m.memory = grown
	}
	return off, n, nil
}

func (m *machine) run() error {
	limit := m.env.MaxSteps
	if limit == 0 {
		limit = DefaultMaxSteps
	}
	pc := uint64(0)
	for {
		if pc >= uint64(len(m.code)) {
			return nil
		}
		if m.res.Steps >= limit {
			return ErrStepLimit
		}
		m.res.Steps++
		op := vm.OpCode(m.code[pc])
		m.res.OpCounts[op]++

		switch {
		case op == vm.PUSH0:
			m.push(new(uint256.Int))
			pc++
			continue
		case op >= vm.PUSH1 && op <= vm.PUSH32:
			n := uint64(op-vm.PUSH1) + 1
			end := min(pc+1+n, uint64(len(m.code)))
			data := make([]byte, n)
			copy(data, m.code[pc+1:end])
			m.push(new(uint256.Int).SetBytes(data))
			pc += 1 + n
			continue
		case op >= vm.DUP1 && op <= vm.DUP16:
			n := int(op-vm.DUP1) + 1
			if len(m.stack) < n {
				return errors.Wrapf(ErrStackUnderflow, "%s at %d", op, pc)
			}
			m.push(&m.stack[len(m.stack)-n])
			pc++
			continue
		case op >= vm.SWAP1 && op <= vm.SWAP16:
			n := int(op-vm.SWAP1) + 1
			if len(m.stack) < n+1 {
				return errors.Wrapf(ErrStackUnderflow, "%s at %d", op, pc)
			}
			top := len(m.stack) - 1
			m.stack[top], m.stack[top-n] = m.stack[top-n], m.stack[top]
			pc++
			continue
		}

		next, done, err := m.step(op, pc)
		if err != nil {
			return errors.Wrapf(err, "%s at %d", op, pc)
		}
		if done {
			return nil
		}
		pc = next
	}
}

// step executes one non-stack-manipulation instruction.
func (m *machine) step(op vm.OpCode, pc uint64) (next uint64, done bool, err error) {
	next = pc + 1
	if a, ok := binary[op]; ok {
		args, err := m.popN(2)
		if err != nil {
			return 0, false, err
		}
		m.push(a(&args[0], &args[1]))
		return next, false, nil
	}

	switch op {
	case vm.STOP:
		return 0, true, nil
	case vm.JUMPDEST:
	case vm.POP:
		_, err = m.pop()
	case vm.ISZERO, vm.NOT:
		var x uint256.Int
		if x, err = m.pop(); err != nil {
			return
		}
		if op == vm.ISZERO {
			m.push(boolWord(x.IsZero()))
		} else {
			m.push(new(uint256.Int).Not(&x))
		}
	case vm.ADDMOD, vm.MULMOD:
		var args []uint256.Int
		if args, err = m.popN(3); err != nil {
			return
		}
		r := new(uint256.Int)
		if op == vm.ADDMOD {
			r.AddMod(&args[0], &args[1], &args[2])
		} else {
			r.MulMod(&args[0], &args[1], &args[2])
		}
		m.push(r)
	case vm.KECCAK256:
		var args []uint256.Int
		if args, err = m.popN(2); err != nil {
			return
		}
		var off, n uint64
		if off, n, err = m.span(&args[0], &args[1]); err != nil {
			return
		}
		m.push(new(uint256.Int).SetBytes(crypto.Keccak256(m.memory[off : off+n])))
	case vm.CALLER:
		m.push(m.env.Caller)
	case vm.CALLVALUE:
		m.push(m.env.CallValue)
	case vm.CALLDATASIZE:
		m.push(uint256.NewInt(uint64(len(m.env.Calldata))))
	case vm.CALLDATALOAD:
		var off uint256.Int
		if off, err = m.pop(); err != nil {
			return
		}
		m.push(new(uint256.Int).SetBytes(calldataWord(m.env.Calldata, &off)))
	case vm.CODESIZE:
		m.push(uint256.NewInt(uint64(len(m.code))))
	case vm.CODECOPY:
		var args []uint256.Int
		if args, err = m.popN(3); err != nil {
			return
		}
		var dst, n uint64
		if dst, n, err = m.span(&args[0], &args[2]); err != nil {
			return
		}
		src := args[1].Uint64()
		for i := uint64(0); i < n; i++ {
			m.memory[dst+i] = 0
			if args[1].IsUint64() && src+i < uint64(len(m.code)) {
				m.memory[dst+i] = m.code[src+i]
			}
		}
	case vm.GAS:
		m.push(uint256.NewInt(1 << 40))
	case vm.PC:
		m.push(uint256.NewInt(pc))
	case vm.MLOAD:
		var off uint256.Int
		if off, err = m.pop(); err != nil {
			return
		}
		var o uint64
		if o, _, err = m.span(&off, uint256.NewInt(32)); err != nil {
			return
		}
		m.push(new(uint256.Int).SetBytes(m.memory[o : o+32]))
	case vm.MSTORE:
		var args []uint256.Int
		if args, err = m.popN(2); err != nil {
			return
		}
		var o uint64
		if o, _, err = m.span(&args[0], uint256.NewInt(32)); err != nil {
			return
		}
		word := args[1].Bytes32()
		copy(m.memory[o:o+32], word[:])
	case vm.SLOAD:
		var key uint256.Int
		if key, err = m.pop(); err != nil {
			return
		}
		m.push(m.res.Storage.Get(&key))
	case vm.SSTORE:
		var args []uint256.Int
		if args, err = m.popN(2); err != nil {
			return
		}
		m.res.Storage.Set(&args[0], &args[1])
	case vm.JUMP:
		var dest uint256.Int
		if dest, err = m.pop(); err != nil {
			return
		}
		return m.jump(&dest)
	case vm.JUMPI:
		var args []uint256.Int
		if args, err = m.popN(2); err != nil {
			return
		}
		if args[1].IsZero() {
			return next, false, nil
		}
		return m.jump(&args[0])
	case vm.LOG0, vm.LOG1, vm.LOG2, vm.LOG3, vm.LOG4:
		topics := int(op - vm.LOG0)
		var args []uint256.Int
		if args, err = m.popN(2 + topics); err != nil {
			return
		}
		var off, n uint64
		if off, n, err = m.span(&args[0], &args[1]); err != nil {
			return
		}
		m.res.Logs = append(m.res.Logs, Log{
			Topics: append([]uint256.Int(nil), args[2:]...),
			Data:   append([]byte(nil), m.memory[off:off+n]...),
		})
	case vm.CALL, vm.STATICCALL, vm.DELEGATECALL:
		err = m.call(op)
	case vm.RETURN, vm.REVERT:
		var args []uint256.Int
		if args, err = m.popN(2); err != nil {
			return
		}
		var off, n uint64
		if off, n, err = m.span(&args[0], &args[1]); err != nil {
			return
		}
		m.res.ReturnData = append([]byte(nil), m.memory[off:off+n]...)
		m.res.Reverted = op == vm.REVERT
		return 0, true, nil
	default:
		return 0, false, errors.Errorf("unsupported instruction %s", op)
	}
	return next, false, err
}

func (m *machine) jump(dest *uint256.Int) (uint64, bool, error) {
	if !dest.IsUint64() || dest.Uint64() >= uint64(len(m.code)) || !m.dests[dest.Uint64()] {
		return 0, false, errors.Wrapf(ErrInvalidJump, "%s", dest.Hex())
	}
	return dest.Uint64(), false, nil
}

func (m *machine) call(op vm.OpCode) error {
	n := 7
	if op != vm.CALL {
		n = 6
	}
	args, err := m.popN(n)
	if err != nil {
		return err
	}
	c := Call{Kind: op, To: args[1].Clone(), Value: new(uint256.Int)}
	rest := args[2:]
	if op == vm.CALL {
		c.Value = args[2].Clone()
		rest = args[3:]
	}
	inOff, inSize, err := m.span(&rest[0], &rest[1])
	if err != nil {
		return err
	}
	outOff, outSize, err := m.span(&rest[2], &rest[3])
	if err != nil {
		return err
	}
	c.Input = append([]byte(nil), m.memory[inOff:inOff+inSize]...)
	m.res.Calls = append(m.res.Calls, c)

	ok, ret := true, []byte(nil)
	if m.env.OnCall != nil {
		ok, ret = m.env.OnCall(c, m.res.Storage)
	}
	copy(m.memory[outOff:outOff+outSize], ret)
	m.push(boolWord(ok))
	return nil
}

func calldataWord(data []byte, off *uint256.Int) []byte {
	word := make([]byte, 32)
	if !off.IsUint64() || off.Uint64() >= uint64(len(data)) {
		return word
	}
	copy(word, data[off.Uint64():])
	return word
}

func boolWord(b bool) *uint256.Int {
	if b {
		return uint256.NewInt(1)
	}
	return new(uint256.Int)
}

// binary holds two-operand instructions; x is the top of the stack.
var binary = map[vm.OpCode]func(x, y *uint256.Int) *uint256.Int{
	vm.ADD:  func(x, y *uint256.Int) *uint256.Int { return new(uint256.Int).Add(x, y) },
	vm.SUB:  func(x, y *uint256.Int) *uint256.Int { return new(uint256.Int).Sub(x, y) },
	vm.MUL:  func(x, y *uint256.Int) *uint256.Int { return new(uint256.Int).Mul(x, y) },
	vm.DIV:  func(x, y *uint256.Int) *uint256.Int { return new(uint256.Int).Div(x, y) },
	vm.SDIV: func(x, y *uint256.Int) *uint256.Int { return new(uint256.Int).SDiv(x, y) },
	vm.MOD:  func(x, y *uint256.Int) *uint256.Int { return new(uint256.Int).Mod(x, y) },
	vm.SMOD: func(x, y *uint256.Int) *uint256.Int { return new(uint256.Int).SMod(x, y) },
	vm.EXP:  func(x, y *uint256.Int) *uint256.Int { return new(uint256.Int).Exp(x, y) },
	vm.LT:   func(x, y *uint256.Int) *uint256.Int { return boolWord(x.Lt(y)) },
	vm.GT:   func(x, y *uint256.Int) *uint256.Int { return boolWord(x.Gt(y)) },
	vm.SLT:  func(x, y *uint256.Int) *uint256.Int { return boolWord(x.Slt(y)) },
	vm.SGT:  func(x, y *uint256.Int) *uint256.Int { return boolWord(x.Sgt(y)) },
	vm.EQ:   func(x, y *uint256.Int) *uint256.Int { return boolWord(x.Eq(y)) },
	vm.AND:  func(x, y *uint256.Int) *uint256.Int { return new(uint256.Int).And(x, y) },
	vm.OR:   func(x, y *uint256.Int) *uint256.Int { return new(uint256.Int).Or(x, y) },
	vm.XOR:  func(x, y *uint256.Int) *uint256.Int { return new(uint256.Int).Xor(x, y) },
	vm.BYTE: func(x, y *uint256.Int) *uint256.Int { return y.Clone().Byte(x) },
	vm.SHL: func(x, y *uint256.Int) *uint256.Int {
		if !x.LtUint64(256) {
			return new(uint256.Int)
		}
		return new(uint256.Int).Lsh(y, uint(x.Uint64()))
	},
	vm.SHR: func(x, y *uint256.Int) *uint256.Int {
		if !x.LtUint64(256) {
			return new(uint256.Int)
		}
		return new(uint256.Int).Rsh(y, uint(x.Uint64()))
	},
	vm.SAR: func(x, y *uint256.Int) *uint256.Int {
		if !x.LtUint64(256) {
			if y.Sign() >= 0 {
				return new(uint256.Int)
			}
			return new(uint256.Int).SetAllOne()
		}
		return new(uint256.Int).SRsh(y, uint(x.Uint64()))
	},
}
