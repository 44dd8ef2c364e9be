// SPDX-License-Identifier: Apache-2.0
package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"github.com/tliron/glsp/server"
	"github.com/urfave/cli/v2"

	"github.com/stackgen-lang/stackgen/internal/codegen"
	"github.com/stackgen-lang/stackgen/internal/lsp"
)

const lsName = "stackgen"

var (
	version = "0.1.0"
	handler protocol.Handler
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	verboseFlag = &cli.IntFlag{
		Name:  "verbose",
		Value: 1,
		Usage: "log verbosity",
	}
)

func main() {
	app := &cli.App{
		Name:    "stackgen-lsp",
		Usage:   "language server for stackgen IR files",
		Version: version,
		Flags:   []cli.Flag{configFlag, verboseFlag},
		Action:  serve,
	}
	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func serve(ctx *cli.Context) error {
	commonlog.Configure(ctx.Int(verboseFlag.Name), nil)
	log := commonlog.GetLogger("stackgen.lsp")

	cfg := codegen.DefaultConfig()
	if path := ctx.String(configFlag.Name); path != "" {
		var err error
		if cfg, err = codegen.LoadConfig(path); err != nil {
			log.Errorf("%s", err)
			return err
		}
	}
	h, err := lsp.NewHandler(cfg)
	if err != nil {
		log.Errorf("%s", err)
		return err
	}

	handler = protocol.Handler{
		Initialize:                     h.Initialize,
		Initialized:                    h.Initialized,
		Shutdown:                       h.Shutdown,
		SetTrace:                       h.SetTrace,
		TextDocumentDidOpen:            h.TextDocumentDidOpen,
		TextDocumentDidClose:           h.TextDocumentDidClose,
		TextDocumentDidChange:          h.TextDocumentDidChange,
		TextDocumentFormatting:         h.TextDocumentFormatting,
		TextDocumentSemanticTokensFull: h.TextDocumentSemanticTokensFull,
	}

	s := server.NewServer(&handler, lsName, false)
	log.Infof("starting %s language server %s", lsName, version)
	if err := s.RunStdio(); err != nil {
		log.Errorf("language server stopped: %s", err)
		return errors.Wrap(err, "language server stopped")
	}
	return nil
}
