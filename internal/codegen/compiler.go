// Package codegen drives compilation: it runs the IR passes, the storage
// optimizer, the stack scheduler and the assembler for every function and
// links the results behind a selector dispatcher.
package codegen

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/stackgen-lang/stackgen/internal/asm"
	cerrors "github.com/stackgen-lang/stackgen/internal/errors"
	"github.com/stackgen-lang/stackgen/internal/ir"
	"github.com/stackgen-lang/stackgen/internal/opt"
	"github.com/stackgen-lang/stackgen/internal/stack"
	"github.com/stackgen-lang/stackgen/internal/storage"
)

// FunctionResult is the compiled form of one function. It is shared through
// the cache and must not be modified.
type FunctionResult struct {
	Name      string
	Selector  [4]byte
	IR        string // after optimization
	Stream    asm.Stream
	Code      []byte // the function body assembled on its own
	SourceMap asm.SourceMap
	Metrics   stack.Metrics
	Opt       opt.Stats
	Storage   storage.Stats
	Peephole  map[string]int
}

type ProgramResult struct {
	Name      string
	Functions []*FunctionResult
	Runtime   []byte
	// Deploy is the runtime behind a constructor, when configured.
	Deploy    []byte
	Labels    map[string]uint64
	SourceMap asm.SourceMap
	Metrics   stack.Metrics
}

// Compiler holds no per-function state; one Compiler may compile many
// functions concurrently.
type Compiler struct {
	cfg   Config
	log   commonlog.Logger
	cache *lru.Cache[common.Hash, *FunctionResult]
}

func NewCompiler(cfg Config) (*Compiler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Compiler{
		cfg:   cfg,
		log:   commonlog.GetLogger("stackgen.codegen"),
		cache: lru.NewCache[common.Hash, *FunctionResult](cfg.CacheSize),
	}, nil
}

func (c *Compiler) Config() Config {
	return c.cfg
}

// CompileFunction compiles fn without modifying it. Invariant violations
// inside the backend come back as *errors.InternalError.
func (c *Compiler) CompileFunction(fn *ir.Function) (*FunctionResult, error) {
	key := crypto.Keccak256Hash([]byte(ir.Print(fn)), positions(fn), []byte(c.cfg.fingerprint()))
	if res, ok := c.cache.Get(key); ok {
		c.log.Debugf("%s: cache hit", fn.Name)
		return res, nil
	}

	var res *FunctionResult
	err := cerrors.RecoverInternal(func() error {
		var err error
		res, err = c.compile(fn)
		return err
	})
	if err != nil {
		var ice *cerrors.InternalError
		if stderrors.As(err, &ice) {
			return nil, errors.Wrapf(err, "compiling %s", fn.Name)
		}
		return nil, err
	}
	c.cache.Add(key, res)
	return res, nil
}

// positions covers what the printed IR leaves out but the source map uses.
func positions(fn *ir.Function) []byte {
	var b strings.Builder
	b.WriteString(fn.Pos.String())
	for _, v := range fn.Values {
		b.WriteByte(';')
		b.WriteString(v.Pos.String())
	}
	for _, blk := range fn.Blocks {
		if blk.Term != nil {
			b.WriteByte('|')
			b.WriteString(blk.Term.Pos.String())
		}
	}
	return []byte(b.String())
}

func (c *Compiler) compile(fn *ir.Function) (*FunctionResult, error) {
	for _, d := range ir.Verify(fn) {
		if !cerrors.IsWarning(d.Code) {
			return nil, d
		}
	}
	work := fn.Clone()
	res := &FunctionResult{Name: fn.Name, Selector: Selector(fn), Opt: make(opt.Stats)}

	if c.cfg.Optimize {
		c.optimize(work, res)
	} else {
		// Packed fields have no machine-level access of their own.
		res.Storage.PackedLowered = storage.LowerPacked(work)
	}
	res.IR = ir.Print(work)

	sched := stack.NewScheduler(work)
	stream, err := sched.ScheduleFunction()
	if err != nil {
		return nil, err
	}
	if c.cfg.Peephole {
		stream, res.Peephole = asm.Optimize(stream)
	}
	res.Stream = stream
	res.Metrics = stack.Measure(stream)
	res.Metrics.MaxDepth = sched.MaxDepth()

	bc, err := asm.Assemble(stream)
	if err != nil {
		return nil, err
	}
	res.Code = bc.Code
	res.SourceMap = bc.SourceMap
	c.log.Debugf("%s: %d bytes, %d dups, %d swaps, max depth %d",
		fn.Name, len(bc.Code), res.Metrics.TotalDups(), res.Metrics.TotalSwaps(), res.Metrics.MaxDepth)
	return res, nil
}

// optimize alternates the IR passes and the storage optimizer until neither
// finds anything more to do.
func (c *Compiler) optimize(fn *ir.Function, res *FunctionResult) {
	pipeline := opt.NewPipeline()
	so := storage.NewOptimizer(storage.Options{StaticCalls: c.cfg.staticCalls(), MaxRounds: c.cfg.MaxRounds})
	merge := func(s opt.Stats) int {
		n := 0
		for k, v := range s {
			res.Opt[k] += v
			n += v
		}
		return n
	}
	merge(pipeline.Run(fn))
	for round := 0; round < c.cfg.MaxRounds; round++ {
		st := so.Run(fn)
		res.Storage.Add(st)
		if merge(pipeline.Run(fn)) == 0 && st.Changed() == 0 {
			break
		}
	}
}

// CompileProgram compiles every function of prog with at most cfg.Workers
// in flight and links them. Results keep declaration order. ctx is checked
// before each function starts.
func (c *Compiler) CompileProgram(ctx context.Context, prog *ir.Program) (*ProgramResult, error) {
	results := make([]*FunctionResult, len(prog.Functions))
	var g errgroup.Group
	g.SetLimit(c.cfg.Workers)
	for i, fn := range prog.Functions {
		if ctx.Err() != nil {
			break
		}
		i, fn := i, fn
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := c.CompileFunction(fn)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := c.link(prog, results)
	if err != nil {
		return nil, err
	}
	c.log.Infof("%s: %d functions, %d bytes of runtime code", prog.Name, len(results), len(out.Runtime))
	return out, nil
}
