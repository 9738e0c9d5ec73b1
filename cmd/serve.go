package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"billchat/internal/agent"
	"billchat/internal/config"
	"billchat/internal/llm"
	"billchat/internal/server"
	"billchat/internal/store"
	"billchat/internal/tools"
)

const serveUsage = `Usage:
  billchat serve --config <path> [--port <port>]

Flags:
  --config string   Path to YAML configuration file (required)
  --port   int      Override server port from configuration`

const backendRequestTimeout = 30 * time.Second

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, serveUsage)
	}

	var cfgPath string
	var overridePort int
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.IntVar(&overridePort, "port", 0, "override server port")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse serve flags: %w", err)
	}

	if cfgPath == "" {
		return errors.New("serve command requires --config <path>")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if overridePort != 0 {
		if overridePort <= 0 || overridePort > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
		}
		cfg.Server.Port = overridePort
	}

	backend, err := store.New(cfg.Supabase, &http.Client{Timeout: backendRequestTimeout})
	if err != nil {
		return err
	}

	// No client timeout: streamed completions run as long as the turn
	// budget allows, bounded per request by context.
	model, err := llm.New(cfg.Model, &http.Client{})
	if err != nil {
		return err
	}

	bills, err := tools.NewBills(backend, model)
	if err != nil {
		return err
	}
	registry := tools.NewRegistry()
	bills.Register(registry)

	ag, err := agent.New(model, registry, backend, agent.Options{
		MaxSteps:   cfg.Agent.Steps(),
		PostFormat: cfg.Agent.PostFormat,
	})
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, ag, backend)
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}
