// SPDX-License-Identifier: Apache-2.0
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"github.com/urfave/cli/v2"
)

var version = "0.1.0"

var (
	verboseFlag = &cli.IntFlag{
		Name:  "verbose",
		Usage: "log verbosity (0 quiet, 1 info, 2 debug)",
	}
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file (defaults to ./stackgen.toml when present)",
	}
	workersFlag = &cli.IntFlag{
		Name:  "workers",
		Usage: "number of functions compiled in parallel",
	}
	noOptFlag = &cli.BoolFlag{
		Name:  "no-opt",
		Usage: "skip the IR passes and the storage optimizer",
	}
	noPeepholeFlag = &cli.BoolFlag{
		Name:  "no-peephole",
		Usage: "skip the instruction stream peephole",
	}
	staticCallsFlag = &cli.StringFlag{
		Name:  "static-calls",
		Usage: "storage cache policy across static calls: conservative or precise",
	}
	deployFlag = &cli.BoolFlag{
		Name:  "deploy",
		Usage: "emit the runtime behind a constructor",
	}
	outFlag = &cli.StringFlag{
		Name:    "out",
		Aliases: []string{"o"},
		Usage:   "write the hex bytecode to this file instead of stdout",
	}
	irFlag = &cli.BoolFlag{
		Name:  "ir",
		Usage: "print the optimized IR of every function",
	}
	asmFlag = &cli.BoolFlag{
		Name:  "asm",
		Usage: "print the instruction stream of every function",
	}
	writeFlag = &cli.BoolFlag{
		Name:    "write",
		Aliases: []string{"w"},
		Usage:   "rewrite the file in place",
	}
	callerFlag = &cli.StringFlag{
		Name:  "caller",
		Usage: "caller address word",
		Value: "0xca11",
	}
	valueFlag = &cli.StringFlag{
		Name:  "value",
		Usage: "call value",
		Value: "0",
	}
	storageFlag = &cli.StringSliceFlag{
		Name:  "storage",
		Usage: "initial storage entry slot=value, repeatable",
	}
)

var compileFlags = []cli.Flag{configFlag, workersFlag, noOptFlag, noPeepholeFlag, staticCallsFlag}

func main() {
	app := &cli.App{
		Name:    "stackgen",
		Usage:   "stack machine code generator for the textual IR",
		Version: version,
		Flags:   []cli.Flag{verboseFlag},
		Before: func(ctx *cli.Context) error {
			commonlog.Configure(ctx.Int(verboseFlag.Name), nil)
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "compile",
				Usage:     "Compile a .sir file and print the bytecode as hex",
				ArgsUsage: "<file.sir>",
				Flags:     append([]cli.Flag{deployFlag, outFlag, irFlag, asmFlag}, compileFlags...),
				Action:    compileCmd,
			},
			{
				Name:      "run",
				Usage:     "Compile a .sir file and execute one function in the interpreter",
				ArgsUsage: "<file.sir> <function> [args...]",
				Flags:     append([]cli.Flag{callerFlag, valueFlag, storageFlag}, compileFlags...),
				Action:    runCmd,
			},
			{
				Name:      "stats",
				Usage:     "Print per-function stack and optimizer statistics",
				ArgsUsage: "<file.sir>",
				Flags:     compileFlags,
				Action:    statsCmd,
			},
			{
				Name:      "disasm",
				Usage:     "Compile a .sir file and disassemble the runtime code",
				ArgsUsage: "<file.sir>",
				Flags:     compileFlags,
				Action:    disasmCmd,
			},
			{
				Name:      "fmt",
				Usage:     "Print a .sir file in canonical layout",
				ArgsUsage: "<file.sir>",
				Flags:     []cli.Flag{writeFlag},
				Action:    fmtCmd,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		color.Red("%s", err)
		os.Exit(1)
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Minute:
		return fmt.Sprintf("%.2fmin", d.Minutes())
	case d >= time.Second:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d >= time.Millisecond:
		return fmt.Sprintf("%.1fms", float64(d.Nanoseconds())/1000000.0)
	case d >= time.Microsecond:
		return fmt.Sprintf("%.1fμs", float64(d.Nanoseconds())/1000.0)
	default:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	}
}
