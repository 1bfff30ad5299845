package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/sharedstate/internal/agent"
	"github.com/mattjoyce/sharedstate/internal/api"
	"github.com/mattjoyce/sharedstate/internal/config"
	"github.com/mattjoyce/sharedstate/internal/document"
	"github.com/mattjoyce/sharedstate/internal/provider"
	"github.com/mattjoyce/sharedstate/internal/storage"
	"github.com/mattjoyce/sharedstate/internal/store"
)

// agentEndpoints maps each document kind to the path its runs stream on.
var agentEndpoints = []struct {
	Path string
	Kind document.Kind
}{
	{Path: "/shared_state", Kind: document.RecipeKind},
	{Path: "/theme_state", Kind: document.ThemeKind},
}

func endpointFor(kindName string) (document.Kind, string, error) {
	for _, ep := range agentEndpoints {
		if ep.Kind.Name == kindName {
			return ep.Kind, ep.Path, nil
		}
	}
	return document.Kind{}, "", fmt.Errorf("unknown agent %q (supported: recipe, theme)", kindName)
}

func newStartCmd() *cobra.Command {
	var configPath string
	c := &cobra.Command{
		Use:   "start",
		Short: "Start the agent API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context(), configPath)
		},
	}
	c.Flags().StringVar(&configPath, "config", "config.yaml", "path to config file")
	return c
}

func newLogger(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}

func runStart(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Service.LogLevel)
	slog.SetDefault(logger)
	logger.Info("starting sharedstate",
		"version", version,
		"config", configPath,
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.OpenSQLite(ctx, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	journal := store.NewJournal(db)

	chatModel, err := provider.NewChatModel(ctx, cfg.LLM)
	if err != nil {
		return fmt.Errorf("create llm provider: %w", err)
	}

	var policy *agent.Policy
	if cfg.Agent.PolicyFile != "" {
		policy, err = agent.LoadPolicy(ctx, cfg.Agent.PolicyFile)
	} else {
		policy, err = agent.NewPolicy(ctx, "")
	}
	if err != nil {
		return fmt.Errorf("load tool policy: %w", err)
	}

	opts := agent.Options{
		RunTimeout: cfg.Agent.RunTimeout,
		Reconcile:  cfg.Agent.Reconcile,
		Policy:     policy,
		Journal:    journal,
	}
	endpoints := make([]api.Endpoint, 0, len(agentEndpoints))
	for _, ep := range agentEndpoints {
		a, err := agent.New(ep.Kind, chatModel, opts, logger)
		if err != nil {
			return fmt.Errorf("create %s agent: %w", ep.Kind.Name, err)
		}
		endpoints = append(endpoints, api.Endpoint{Path: ep.Path, Agent: a})
		logger.Info("agent mounted", "agent", ep.Kind.Name, "path", ep.Path)
	}

	srv := api.New(api.Config{
		ServiceName:             cfg.Service.Name,
		Listen:                  cfg.API.Listen,
		StreamHeartbeatInterval: cfg.API.StreamHeartbeatInterval,
	}, endpoints, journal, logger)

	err = srv.Start(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("shutdown complete")
		return nil
	}
	return err
}
