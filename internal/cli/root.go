// Package cli implements tokenctl's command dispatch and interactive REPL.
package cli

import (
	"context"
	"fmt"
	"os"

	"tokenforge/internal/config"
	"tokenforge/internal/logging"
	"tokenforge/internal/modeladapter"
	"tokenforge/internal/rctx"
	"tokenforge/internal/token"
)

// Execute is the entry point for the tokenctl CLI.
func Execute() int {
	ctx := context.Background()
	args := os.Args[1:]

	if len(args) > 0 {
		switch args[0] {
		case "help", "-h", "--help":
			printHelp()
			return 0
		}
	}

	cfg, err := config.Resolve()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	if err := logging.Init(cfg.Logging.ToFile); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logging: %v\n", err)
		return 1
	}
	defer logging.Close()

	factory, err := adapterFactory(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	env := rctx.NewEnvironment(factory, envConfigFrom(cfg))

	return RunRepl(ctx, cfg, env)
}

// adapterFactory builds the Model Adapter factory an Environment uses to
// equip each newly allocated Context Node, selected by cfg.Model.Backend.
func adapterFactory(cfg config.Config) (rctx.AdapterFactory, error) {
	switch cfg.Model.Backend {
	case "native":
		if cfg.Model.Path == "" {
			return nil, fmt.Errorf("cli: model.path is required for the native backend")
		}
		return func(rctx.NodeConfig) (token.Adapter, error) {
			return modeladapter.NewNative(cfg.Model.Path)
		}, nil
	case "stub", "":
		vocab := cfg.Model.VocabSize
		return func(rctx.NodeConfig) (token.Adapter, error) {
			return modeladapter.NewStub(vocab), nil
		}, nil
	default:
		return nil, fmt.Errorf("cli: unknown model backend %q", cfg.Model.Backend)
	}
}

func envConfigFrom(cfg config.Config) rctx.EnvConfig {
	return rctx.EnvConfig{
		MaxDepth:        uint32(cfg.Environment.MaxDepth),
		MaxContexts:     uint32(cfg.Environment.MaxContexts),
		DefaultNCtx:     uint32(cfg.Environment.DefaultNCtx),
		DefaultNBatch:   uint32(cfg.Environment.DefaultNBatch),
		DefaultNThreads: uint32(cfg.Environment.DefaultNThreads),
		EnableMetrics:   cfg.Environment.EnableMetrics,
		MailboxCapacity: cfg.Environment.MailboxCapacity,
	}
}

func completionParamsFrom(g config.GenerationConfig) rctx.CompletionParams {
	return rctx.CompletionParams{
		NPredict:      uint32(g.NPredict),
		Temperature:   float32(g.Temperature),
		TopP:          float32(g.TopP),
		TopK:          g.TopK,
		RepeatPenalty: float32(g.RepeatPenalty),
		TimeoutMs:     uint32(g.TimeoutMs),
	}
}

func printHelp() {
	fmt.Println(`tokenctl — interactive Recursive Context Environment inspector

Usage:
  tokenctl          start the interactive REPL
  tokenctl help     show this message

Set TOKENFORGE_CONFIG to point at a YAML config file, or TOKENFORGE_MODEL_BACKEND=native
plus TOKENFORGE_MODEL_PATH=/path/to/model.gguf to run against a real model.

Inside the REPL, type text to append it to the current context and generate a
completion. Type /help once running for the list of slash commands.`)
}
