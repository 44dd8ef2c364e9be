package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/fatih/color"
	"github.com/holiman/uint256"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/stackgen-lang/stackgen/internal/asm"
	"github.com/stackgen-lang/stackgen/internal/codegen"
	cerrors "github.com/stackgen-lang/stackgen/internal/errors"
	"github.com/stackgen-lang/stackgen/internal/interp"
	"github.com/stackgen-lang/stackgen/internal/irtext"
)

func compileCmd(ctx *cli.Context) error {
	start := time.Now()
	b, err := compileFile(ctx)
	if err != nil {
		return err
	}
	for _, fn := range b.res.Functions {
		if ctx.Bool(irFlag.Name) {
			fmt.Print(fn.IR)
		}
		if ctx.Bool(asmFlag.Name) {
			fmt.Printf("%s:\n", fn.Name)
			for _, ins := range fn.Stream {
				fmt.Printf("    %s\n", ins)
			}
		}
	}

	code := b.res.Runtime
	if b.res.Deploy != nil {
		code = b.res.Deploy
	}
	out := common.Bytes2Hex(code)
	if path := ctx.String(outFlag.Name); path != "" {
		if err := os.WriteFile(path, []byte(out+"\n"), 0o644); err != nil {
			return errors.Wrapf(err, "writing %s", path)
		}
	} else {
		fmt.Println(out)
	}
	color.Green("Successfully compiled %s (%d bytes) in %s", b.path, len(code), formatDuration(time.Since(start)))
	return nil
}

func runCmd(ctx *cli.Context) error {
	if ctx.NArg() < 2 {
		return errors.Errorf("required arguments: %v", ctx.Command.ArgsUsage)
	}
	b, err := compileFile(ctx)
	if err != nil {
		return err
	}
	name := ctx.Args().Get(1)
	fn := b.prog.Function(name)
	if fn == nil {
		return errors.Errorf("no function %s in %s", name, b.path)
	}

	var args []*uint256.Int
	for _, a := range ctx.Args().Slice()[2:] {
		x, err := parseWord(a)
		if err != nil {
			return err
		}
		args = append(args, x)
	}
	caller, err := parseWord(ctx.String(callerFlag.Name))
	if err != nil {
		return err
	}
	value, err := parseWord(ctx.String(valueFlag.Name))
	if err != nil {
		return err
	}
	store := interp.Storage{}
	for _, kv := range ctx.StringSlice(storageFlag.Name) {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return errors.Errorf("storage entry %q is not slot=value", kv)
		}
		slot, err := parseWord(k)
		if err != nil {
			return err
		}
		word, err := parseWord(v)
		if err != nil {
			return err
		}
		store.Set(slot, word)
	}

	res, err := interp.Run(b.res.Runtime, interp.Env{
		Calldata:  interp.Calldata(codegen.Selector(fn), args...),
		Caller:    caller,
		CallValue: value,
		Storage:   store,
	})
	if err != nil {
		return errors.Wrapf(err, "running %s", name)
	}

	if res.Reverted {
		color.Red("%s reverted after %d steps", name, res.Steps)
	} else {
		color.Green("%s returned after %d steps", name, res.Steps)
	}
	var rows [][]string
	for i := 0; i*32 < len(res.ReturnData); i++ {
		if w := res.Word(i); w != nil {
			rows = append(rows, []string{fmt.Sprintf("return[%d]", i), w.Hex()})
		}
	}
	if len(res.ReturnData)%32 != 0 {
		rows = append(rows, []string{"return data", hexutil.Encode(res.ReturnData)})
	}
	keys := res.Storage.Keys()
	sort.Slice(keys, func(i, j int) bool { return keys[i].Lt(&keys[j]) })
	for i := range keys {
		rows = append(rows, []string{"storage " + keys[i].Hex(), res.Storage.Get(&keys[i]).Hex()})
	}
	rows = append(rows, []string{"logs", fmt.Sprint(len(res.Logs))}, []string{"calls", fmt.Sprint(len(res.Calls))})

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Field", "Value"})
	table.AppendBulk(rows)
	table.Render()
	return nil
}

func statsCmd(ctx *cli.Context) error {
	b, err := compileFile(ctx)
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Function", "Bytes", "Dups", "Swaps", "Pops", "Deep dups", "Max depth", "Stack gas", "Loads removed", "Dead stores", "Peephole"})
	for _, fn := range b.res.Functions {
		m := fn.Metrics
		peep := 0
		for _, n := range fn.Peephole {
			peep += n
		}
		table.Append([]string{
			fn.Name,
			fmt.Sprint(len(fn.Code)),
			fmt.Sprint(m.TotalDups()),
			fmt.Sprint(m.TotalSwaps()),
			fmt.Sprint(m.Pops),
			fmt.Sprint(m.DeepDups),
			fmt.Sprint(m.MaxDepth),
			fmt.Sprint(m.StackGas),
			fmt.Sprint(fn.Storage.LoadsRemoved),
			fmt.Sprint(fn.Storage.DeadStores),
			fmt.Sprint(peep),
		})
	}
	m := b.res.Metrics
	table.SetFooter([]string{
		"total", fmt.Sprint(len(b.res.Runtime)), fmt.Sprint(m.TotalDups()), fmt.Sprint(m.TotalSwaps()),
		fmt.Sprint(m.Pops), fmt.Sprint(m.DeepDups), fmt.Sprint(m.MaxDepth), fmt.Sprint(m.StackGas), "", "", "",
	})
	table.Render()
	return nil
}

func disasmCmd(ctx *cli.Context) error {
	b, err := compileFile(ctx)
	if err != nil {
		return err
	}
	labels := make(map[uint64][]string)
	for name, off := range b.res.Labels {
		labels[off] = append(labels[off], name)
	}
	for _, line := range asm.Disassemble(b.res.Runtime) {
		var off uint64
		fmt.Sscanf(line, "%x:", &off)
		if names, ok := labels[off]; ok {
			sort.Strings(names)
			color.Cyan("%s:", strings.Join(names, ", "))
		}
		fmt.Println(line)
	}
	return nil
}

func fmtCmd(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return errors.Errorf("required arguments: %v", ctx.Command.ArgsUsage)
	}
	path := ctx.Args().First()
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "failed to read file")
	}
	f, err := irtext.Parse(path, string(data))
	if err != nil {
		report(path, string(data), []cerrors.CompilerError{irtext.SyntaxDiagnostic(path, err)})
		return cli.Exit(color.RedString("%s does not parse", path), 1)
	}
	out := irtext.Format(f)
	if !ctx.Bool(writeFlag.Name) {
		fmt.Print(out)
		return nil
	}
	if out == string(data) {
		return nil
	}
	return errors.Wrapf(os.WriteFile(path, []byte(out), 0o644), "writing %s", path)
}

func parseWord(s string) (*uint256.Int, error) {
	var (
		x   *uint256.Int
		err error
	)
	if strings.HasPrefix(s, "0x") {
		x, err = uint256.FromHex(s)
	} else {
		x, err = uint256.FromDecimal(s)
	}
	return x, errors.Wrapf(err, "invalid word %q", s)
}
