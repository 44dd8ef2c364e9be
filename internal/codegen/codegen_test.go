package codegen

import (
	"context"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackgen-lang/stackgen/internal/asm"
	cerrors "github.com/stackgen-lang/stackgen/internal/errors"
	"github.com/stackgen-lang/stackgen/internal/interp"
	"github.com/stackgen-lang/stackgen/internal/ir"
)

var (
	alice = uint256.NewInt(0xca11)
	bob   = uint256.NewInt(0xb0b)
)

func u(n uint64) *uint256.Int { return uint256.NewInt(n) }

func unoptimized() Config {
	cfg := DefaultConfig()
	cfg.Optimize = false
	cfg.Peephole = false
	return cfg
}

func compile(t *testing.T, cfg Config, fns ...*ir.Function) *ProgramResult {
	t.Helper()
	c, err := NewCompiler(cfg)
	require.NoError(t, err)
	res, err := c.CompileProgram(context.Background(), &ir.Program{Name: "test", Functions: fns})
	require.NoError(t, err)
	return res
}

func call(t *testing.T, res *ProgramResult, env interp.Env, fn string, args ...*uint256.Int) *interp.Result {
	t.Helper()
	var sel [4]byte
	found := false
	for _, f := range res.Functions {
		if f.Name == fn {
			sel, found = f.Selector, true
		}
	}
	require.True(t, found, "no function %s", fn)
	env.Calldata = interp.Calldata(sel, args...)
	if env.Caller == nil {
		env.Caller = alice
	}
	out, err := interp.Run(res.Runtime, env)
	require.NoError(t, err)
	return out
}

// mapKey is the storage address of m[key] for a mapping at slot m.
func mapKey(key *uint256.Int, m uint64) *uint256.Int {
	k, s := key.Bytes32(), u(m).Bytes32()
	return new(uint256.Int).SetBytes(crypto.Keccak256(k[:], s[:]))
}

func panicData(code uint64) []byte {
	out := make([]byte, 36)
	sel := uint256.NewInt(asm.PanicSelector).Bytes32()
	copy(out, sel[28:])
	word := u(code).Bytes32()
	copy(out[4:], word[:])
	return out
}

func TestCounter(t *testing.T) {
	res := compile(t, DefaultConfig(), counterFn())
	store := interp.Storage{}
	store.Set(u(0), u(41))

	out := call(t, res, interp.Env{Storage: store}, "bump")
	require.False(t, out.Reverted)
	assert.Equal(t, u(42), out.Word(0))
	assert.Equal(t, u(42), out.Storage.Get(u(0)))
	assert.Equal(t, 1, out.OpCounts[vm.SLOAD])
	assert.Equal(t, 1, out.OpCounts[vm.SSTORE])
	assert.Equal(t, u(41), store.Get(u(0)), "input storage is not modified")
}

func TestCounterOverflowReverts(t *testing.T) {
	res := compile(t, DefaultConfig(), counterFn())
	store := interp.Storage{}
	store.Set(u(0), new(uint256.Int).SetAllOne())

	out := call(t, res, interp.Env{Storage: store}, "bump")
	assert.True(t, out.Reverted)
	assert.Equal(t, panicData(asm.PanicOverflow), out.ReturnData)
	assert.Equal(t, store, out.Storage)
}

func TestOverwritesCoalesce(t *testing.T) {
	res := compile(t, DefaultConfig(), overwriteFn())
	out := call(t, res, interp.Env{}, "overwrite")
	assert.Equal(t, 1, out.OpCounts[vm.SSTORE])
	assert.Equal(t, u(3), out.Storage.Get(u(0)))
	assert.Equal(t, 2, res.Functions[0].Storage.DeadStores)

	res = compile(t, unoptimized(), overwriteFn())
	out = call(t, res, interp.Env{}, "overwrite")
	assert.Equal(t, 3, out.OpCounts[vm.SSTORE])
	assert.Equal(t, u(3), out.Storage.Get(u(0)))
}

func TestTransfer(t *testing.T) {
	res := compile(t, DefaultConfig(), transferFn())
	store := interp.Storage{}
	store.Set(mapKey(alice, 1), u(100))

	out := call(t, res, interp.Env{Storage: store}, "transfer", bob, u(30))
	require.False(t, out.Reverted)
	assert.Equal(t, u(70), out.Word(0))
	assert.Equal(t, u(70), out.Storage.Get(mapKey(alice, 1)))
	assert.Equal(t, u(30), out.Storage.Get(mapKey(bob, 1)))

	out = call(t, res, interp.Env{Storage: store}, "transfer", bob, u(101))
	assert.True(t, out.Reverted)
	assert.Equal(t, panicData(asm.PanicOverflow), out.ReturnData)
}

func TestTransferToSelf(t *testing.T) {
	// The destination load may alias the stored source entry.
	res := compile(t, DefaultConfig(), transferFn())
	store := interp.Storage{}
	store.Set(mapKey(alice, 1), u(100))

	out := call(t, res, interp.Env{Storage: store}, "transfer", alice, u(30))
	require.False(t, out.Reverted)
	assert.Equal(t, u(100), out.Storage.Get(mapKey(alice, 1)))
}

func TestLoop(t *testing.T) {
	res := compile(t, DefaultConfig(), sumFn())
	for n, want := range map[uint64]uint64{0: 0, 1: 0, 5: 10, 100: 4950} {
		out := call(t, res, interp.Env{}, "sum", u(n))
		require.False(t, out.Reverted)
		assert.Equal(t, u(want), out.Word(0), "sum(%d)", n)
	}
}

func TestDivisionByZero(t *testing.T) {
	res := compile(t, DefaultConfig(), divFn())
	out := call(t, res, interp.Env{}, "div", u(17), u(5))
	require.False(t, out.Reverted)
	assert.Equal(t, u(3), out.Word(0))
	assert.Equal(t, u(2), out.Word(1))

	out = call(t, res, interp.Env{}, "div", u(17), u(0))
	assert.True(t, out.Reverted)
	assert.Equal(t, panicData(asm.PanicDivisionByZero), out.ReturnData)
}

func TestLoadAfterCallIsNotCached(t *testing.T) {
	res := compile(t, DefaultConfig(), reloadFn(ir.OpCall))
	store := interp.Storage{}
	store.Set(u(2), u(5))
	env := interp.Env{
		Storage: store,
		OnCall: func(c interp.Call, s interp.Storage) (bool, []byte) {
			s.Set(u(2), u(7))
			return true, nil
		},
	}

	out := call(t, res, env, "reload", bob)
	require.False(t, out.Reverted)
	assert.Equal(t, 2, out.OpCounts[vm.SLOAD])
	assert.Equal(t, u(12), out.Word(0))
	require.Len(t, out.Calls, 1)
	assert.Equal(t, vm.CALL, out.Calls[0].Kind)
	assert.Equal(t, bob, out.Calls[0].To)
}

func TestStaticCallPolicy(t *testing.T) {
	store := interp.Storage{}
	store.Set(u(2), u(5))

	tests := []struct {
		policy string
		sloads int
	}{
		{"conservative", 2},
		{"precise", 1},
	}
	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.StaticCalls = tt.policy
			res := compile(t, cfg, reloadFn(ir.OpStaticCall))
			out := call(t, res, interp.Env{Storage: store}, "reload", bob)
			require.False(t, out.Reverted)
			assert.Equal(t, tt.sloads, out.OpCounts[vm.SLOAD])
			assert.Equal(t, u(10), out.Word(0))
		})
	}
}

// Optimized and unoptimized builds must be observably identical.
func TestOptimizationPreservesBehavior(t *testing.T) {
	store := interp.Storage{}
	store.Set(u(0), u(9))
	store.Set(u(2), u(5))
	store.Set(mapKey(alice, 1), u(100))
	reenter := func(c interp.Call, s interp.Storage) (bool, []byte) {
		s.Set(u(2), new(uint256.Int).Add(s.Get(u(2)), u(1)))
		return true, nil
	}

	cases := []struct {
		fn   string
		args []*uint256.Int
	}{
		{"bump", nil},
		{"overwrite", nil},
		{"transfer", []*uint256.Int{bob, u(60)}},
		{"transfer", []*uint256.Int{alice, u(60)}},
		{"transfer", []*uint256.Int{bob, u(1000)}},
		{"sum", []*uint256.Int{u(12)}},
		{"reload", []*uint256.Int{bob}},
		{"div", []*uint256.Int{u(100), u(7)}},
		{"div", []*uint256.Int{u(100), u(0)}},
	}
	fns := func() []*ir.Function {
		return []*ir.Function{counterFn(), overwriteFn(), transferFn(), sumFn(), reloadFn(ir.OpCall), divFn()}
	}
	fast := compile(t, DefaultConfig(), fns()...)
	slow := compile(t, unoptimized(), fns()...)
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s%v", tc.fn, tc.args), func(t *testing.T) {
			env := interp.Env{Storage: store, OnCall: reenter}
			a := call(t, fast, env, tc.fn, tc.args...)
			b := call(t, slow, env, tc.fn, tc.args...)
			assert.Equal(t, b.Reverted, a.Reverted)
			assert.Equal(t, b.ReturnData, a.ReturnData)
			assert.Equal(t, b.Storage, a.Storage)
			assert.Equal(t, b.Logs, a.Logs)
		})
	}
}

func TestProgramKeepsOrder(t *testing.T) {
	var fns []*ir.Function
	for i := 0; i < 32; i++ {
		fns = append(fns, constFn(fmt.Sprintf("f%d", i), uint64(i*i)))
	}
	cfg := DefaultConfig()
	cfg.Workers = 4
	res := compile(t, cfg, fns...)

	require.Len(t, res.Functions, 32)
	for i, f := range res.Functions {
		assert.Equal(t, fmt.Sprintf("f%d", i), f.Name)
		assert.Contains(t, res.Labels, f.Name)
	}
	for _, i := range []int{0, 7, 31} {
		out := call(t, res, interp.Env{}, fmt.Sprintf("f%d", i))
		assert.Equal(t, u(uint64(i*i)), out.Word(0))
	}
}

func TestUnknownSelectorReverts(t *testing.T) {
	res := compile(t, DefaultConfig(), counterFn())
	out, err := interp.Run(res.Runtime, interp.Env{Calldata: interp.Calldata([4]byte{1, 2, 3, 4})})
	require.NoError(t, err)
	assert.True(t, out.Reverted)
	assert.Empty(t, out.ReturnData)
}

func TestSelector(t *testing.T) {
	fn := transferFn()
	assert.Equal(t, "transfer(uint256,uint256)", Signature(fn))
	sel := Selector(fn)
	assert.Equal(t, crypto.Keccak256([]byte("transfer(uint256,uint256)"))[:4], sel[:])
}

func TestStackTooDeep(t *testing.T) {
	c, err := NewCompiler(DefaultConfig())
	require.NoError(t, err)
	_, err = c.CompileProgram(context.Background(), &ir.Program{Name: "test", Functions: []*ir.Function{counterFn(), wideFn()}})
	require.Error(t, err)
	diag, ok := cerrors.AsCompilerError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, cerrors.ErrorStackDepthExceeded, diag.Code)
}

func TestVerifyFailure(t *testing.T) {
	b := ir.NewBuilder("broken", nil, 0)
	b.SetBlock(b.NewBlock("entry"))
	b.Emit(ir.OpCaller)
	c, err := NewCompiler(DefaultConfig())
	require.NoError(t, err)
	_, err = c.CompileFunction(b.Function())
	diag, ok := cerrors.AsCompilerError(err)
	require.True(t, ok)
	assert.Equal(t, cerrors.ErrorMissingTerminator, diag.Code)
}

func TestCompileFunctionCaches(t *testing.T) {
	c, err := NewCompiler(DefaultConfig())
	require.NoError(t, err)
	fn := counterFn()
	a, err := c.CompileFunction(fn)
	require.NoError(t, err)
	b, err := c.CompileFunction(counterFn())
	require.NoError(t, err)
	assert.Same(t, a, b)

	other, err := NewCompiler(unoptimized())
	require.NoError(t, err)
	d, err := other.CompileFunction(fn)
	require.NoError(t, err)
	assert.NotSame(t, a, d)
}

func TestCacheSeparatesSourcePositions(t *testing.T) {
	c, err := NewCompiler(DefaultConfig())
	require.NoError(t, err)
	first, err := c.CompileFunction(placedCounterFn(3))
	require.NoError(t, err)
	second, err := c.CompileFunction(placedCounterFn(20))
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, first.Code, second.Code)
	assert.Empty(t, second.SourceMap.OffsetsForLine(3))
	assert.NotEmpty(t, second.SourceMap.OffsetsForLine(20))
}

func TestMemorySurvivesHashing(t *testing.T) {
	for name, cfg := range map[string]Config{"optimized": DefaultConfig(), "unoptimized": unoptimized()} {
		t.Run(name, func(t *testing.T) {
			res := compile(t, cfg, scratchFn())
			out := call(t, res, interp.Env{}, "scratch", u(77))
			require.False(t, out.Reverted)
			assert.Equal(t, u(5), out.Word(0))

			w := u(77).Bytes32()
			k := new(uint256.Int).SetBytes(crypto.Keccak256(w[:]))
			assert.Equal(t, new(uint256.Int).Add(k, k), out.Word(1))
		})
	}
}

func TestHashUsedTwiceAcrossStores(t *testing.T) {
	for name, cfg := range map[string]Config{"optimized": DefaultConfig(), "unoptimized": unoptimized()} {
		t.Run(name, func(t *testing.T) {
			res := compile(t, cfg, hashStoreFn())
			store := interp.Storage{}
			store.Set(u(0), u(41))
			out := call(t, res, interp.Env{Storage: store}, "hashStore")
			require.False(t, out.Reverted)

			w := u(41).Bytes32()
			k := new(uint256.Int).SetBytes(crypto.Keccak256(w[:]))
			assert.Equal(t, new(uint256.Int).Add(k, u(9)), out.Storage.Get(u(1)))
			assert.Equal(t, k, out.Storage.Get(u(2)))
		})
	}
}

func TestCompileDoesNotModifyInput(t *testing.T) {
	fn := transferFn()
	before := ir.Print(fn)
	c, err := NewCompiler(DefaultConfig())
	require.NoError(t, err)
	_, err = c.CompileFunction(fn)
	require.NoError(t, err)
	assert.Equal(t, before, ir.Print(fn))
}

func TestCancelledContext(t *testing.T) {
	c, err := NewCompiler(DefaultConfig())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.CompileProgram(ctx, &ir.Program{Name: "test", Functions: []*ir.Function{counterFn()}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDeploy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Deploy = true
	res := compile(t, cfg, counterFn())
	require.NotEmpty(t, res.Deploy)

	out, err := interp.Run(res.Deploy, interp.Env{})
	require.NoError(t, err)
	assert.Equal(t, res.Runtime, out.ReturnData)
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte("workers = 2\nstatic_calls = \"precise\"\npeephole = false\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, "precise", cfg.StaticCalls)
	assert.False(t, cfg.Peephole)
	assert.True(t, cfg.Optimize)
	assert.Equal(t, 8, cfg.MaxRounds)

	_, err = ParseConfig([]byte("static_calls = \"sometimes\"\n"))
	assert.ErrorContains(t, err, "static_calls")

	_, err = ParseConfig([]byte("workers = 0\n"))
	assert.ErrorContains(t, err, "workers")

	_, err = NewCompiler(Config{})
	assert.Error(t, err)
}
