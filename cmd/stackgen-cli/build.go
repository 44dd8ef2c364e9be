package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/stackgen-lang/stackgen/internal/codegen"
	cerrors "github.com/stackgen-lang/stackgen/internal/errors"
	"github.com/stackgen-lang/stackgen/internal/ir"
	"github.com/stackgen-lang/stackgen/internal/irtext"
)

const defaultConfigFile = "stackgen.toml"

// build is one loaded and compiled source file.
type build struct {
	path   string
	source string
	prog   *ir.Program
	res    *codegen.ProgramResult
}

func loadConfig(ctx *cli.Context) (codegen.Config, error) {
	cfg := codegen.DefaultConfig()
	var err error
	switch path := ctx.String(configFlag.Name); {
	case path != "":
		cfg, err = codegen.LoadConfig(path)
	default:
		if _, statErr := os.Stat(defaultConfigFile); statErr == nil {
			cfg, err = codegen.LoadConfig(defaultConfigFile)
		}
	}
	if err != nil {
		return cfg, err
	}
	if ctx.IsSet(workersFlag.Name) {
		cfg.Workers = ctx.Int(workersFlag.Name)
	}
	if ctx.Bool(noOptFlag.Name) {
		cfg.Optimize = false
	}
	if ctx.Bool(noPeepholeFlag.Name) {
		cfg.Peephole = false
	}
	if ctx.IsSet(staticCallsFlag.Name) {
		cfg.StaticCalls = ctx.String(staticCallsFlag.Name)
	}
	if ctx.IsSet(deployFlag.Name) {
		cfg.Deploy = ctx.Bool(deployFlag.Name)
	}
	return cfg, cfg.Validate()
}

// report prints diagnostics and tells whether any of them is an error.
func report(path, source string, diags []cerrors.CompilerError) bool {
	if len(diags) > 0 {
		fmt.Fprint(os.Stderr, cerrors.NewErrorReporter(path, source).FormatAll(diags))
	}
	return irtext.HasErrors(diags)
}

func loadSource(path string) (string, *ir.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to read file")
	}
	source := string(data)
	prog, diags := irtext.Load(path, source)
	if report(path, source, diags) {
		return source, nil, cli.Exit(color.RedString("%s has errors", path), 1)
	}
	return source, prog, nil
}

// compileFile loads the file named by the first argument and compiles it.
// Code generation diagnostics are printed against the source; internal
// compiler errors exit with status 2.
func compileFile(ctx *cli.Context) (*build, error) {
	if ctx.NArg() < 1 {
		return nil, errors.Errorf("required arguments: %v", ctx.Command.ArgsUsage)
	}
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	path := ctx.Args().First()
	source, prog, err := loadSource(path)
	if err != nil {
		return nil, err
	}
	compiler, err := codegen.NewCompiler(cfg)
	if err != nil {
		return nil, err
	}
	res, err := compiler.CompileProgram(ctx.Context, prog)
	if err != nil {
		if d, ok := cerrors.AsCompilerError(err); ok {
			report(path, source, []cerrors.CompilerError{d})
			return nil, cli.Exit(color.RedString("compilation of %s failed", path), 1)
		}
		var ice *cerrors.InternalError
		if errors.As(err, &ice) {
			return nil, cli.Exit(color.RedString("%s", err), 2)
		}
		return nil, err
	}
	return &build{path: path, source: source, prog: prog, res: res}, nil
}
