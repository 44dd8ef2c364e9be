package opt

import (
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/stackgen-lang/stackgen/internal/ir"
)

// Fold evaluates a pure op on constant operands with the machine's 256-bit
// wrapping semantics. ok is false when op cannot be folded, including when
// a checked op would revert at run time.
func Fold(op ir.Op, args []*uint256.Int) (result *uint256.Int, ok bool) {
	z := new(uint256.Int)
	arg := func(i int) *uint256.Int { return args[i] }
	switch op {
	case ir.OpAdd:
		return z.Add(arg(0), arg(1)), true
	case ir.OpSub:
		return z.Sub(arg(0), arg(1)), true
	case ir.OpMul:
		return z.Mul(arg(0), arg(1)), true
	case ir.OpDiv:
		return z.Div(arg(0), arg(1)), true
	case ir.OpSDiv:
		return z.SDiv(arg(0), arg(1)), true
	case ir.OpMod:
		return z.Mod(arg(0), arg(1)), true
	case ir.OpSMod:
		return z.SMod(arg(0), arg(1)), true
	case ir.OpExp:
		return z.Exp(arg(0), arg(1)), true
	case ir.OpAddMod:
		return z.AddMod(arg(0), arg(1), arg(2)), true
	case ir.OpMulMod:
		return z.MulMod(arg(0), arg(1), arg(2)), true
	case ir.OpLt:
		return boolWord(arg(0).Lt(arg(1))), true
	case ir.OpGt:
		return boolWord(arg(0).Gt(arg(1))), true
	case ir.OpSlt:
		return boolWord(arg(0).Slt(arg(1))), true
	case ir.OpSgt:
		return boolWord(arg(0).Sgt(arg(1))), true
	case ir.OpEq:
		return boolWord(arg(0).Eq(arg(1))), true
	case ir.OpIsZero:
		return boolWord(arg(0).IsZero()), true
	case ir.OpAnd:
		return z.And(arg(0), arg(1)), true
	case ir.OpOr:
		return z.Or(arg(0), arg(1)), true
	case ir.OpXor:
		return z.Xor(arg(0), arg(1)), true
	case ir.OpNot:
		return z.Not(arg(0)), true
	case ir.OpShl:
		if n, small := shiftAmount(arg(0)); small {
			return z.Lsh(arg(1), n), true
		}
		return z, true
	case ir.OpShr:
		if n, small := shiftAmount(arg(0)); small {
			return z.Rsh(arg(1), n), true
		}
		return z, true
	case ir.OpSar:
		if n, small := shiftAmount(arg(0)); small {
			return z.SRsh(arg(1), n), true
		}
		if arg(1).Sign() < 0 {
			return z.Not(z), true
		}
		return z, true
	case ir.OpByte:
		return z.Set(arg(1)).Byte(arg(0)), true
	case ir.OpCheckedAdd:
		if _, overflow := z.AddOverflow(arg(0), arg(1)); overflow {
			return nil, false
		}
		return z, true
	case ir.OpCheckedSub:
		if arg(0).Lt(arg(1)) {
			return nil, false
		}
		return z.Sub(arg(0), arg(1)), true
	case ir.OpCheckedMul:
		if _, overflow := z.MulOverflow(arg(0), arg(1)); overflow {
			return nil, false
		}
		return z, true
	case ir.OpCheckedDiv:
		if arg(1).IsZero() {
			return nil, false
		}
		return z.Div(arg(0), arg(1)), true
	case ir.OpKeccak:
		a, b := arg(0).Bytes32(), arg(1).Bytes32()
		return z.SetBytes(crypto.Keccak256(a[:], b[:])), true
	case ir.OpKeccakWord:
		a := arg(0).Bytes32()
		return z.SetBytes(crypto.Keccak256(a[:])), true
	}
	return nil, false
}

func boolWord(b bool) *uint256.Int {
	if b {
		return uint256.NewInt(1)
	}
	return new(uint256.Int)
}

func shiftAmount(x *uint256.Int) (uint, bool) {
	if !x.IsUint64() || x.Uint64() >= 256 {
		return 0, false
	}
	return uint(x.Uint64()), true
}

// log2Exact returns k when x == 2**k.
func log2Exact(x *uint256.Int) (uint, bool) {
	if x.IsZero() {
		return 0, false
	}
	minus := new(uint256.Int).Sub(x, uint256.NewInt(1))
	if !new(uint256.Int).And(x, minus).IsZero() {
		return 0, false
	}
	return uint(x.BitLen() - 1), true
}
