package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/docker/docker/client"

	"github.com/agentmarketbot/minimal-provider-agent-market/internal/agent"
	"github.com/agentmarketbot/minimal-provider-agent-market/internal/config"
	"github.com/agentmarketbot/minimal-provider-agent-market/internal/container"
	"github.com/agentmarketbot/minimal-provider-agent-market/internal/forge"
	"github.com/agentmarketbot/minimal-provider-agent-market/internal/market"
	"github.com/agentmarketbot/minimal-provider-agent-market/internal/orchestrator"
	"github.com/agentmarketbot/minimal-provider-agent-market/internal/repo"
	"github.com/agentmarketbot/minimal-provider-agent-market/internal/resolver"
	"github.com/agentmarketbot/minimal-provider-agent-market/internal/store"
)

func main() {
	cfg, err := config.LoadRuntime()
	if err != nil {
		slog.Error("load runtime", "err", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("runner stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("runner exited")
}

func run(cfg config.Runtime, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	overrides, err := config.LoadAgentOverrides(cfg.AgentsFile)
	if err != nil {
		return err
	}
	adapter, err := agent.FromConfig(cfg, overrides)
	if err != nil {
		return err
	}

	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return err
	}
	defer docker.Close()
	if _, err := docker.Ping(ctx); err != nil {
		return err
	}

	journal, err := openJournal(ctx, cfg)
	if err != nil {
		return err
	}
	defer journal.Close(context.Background())

	gh := forge.New(forge.NewClient(ctx, cfg.GitHubToken), logger)
	if login, err := gh.AuthenticatedLogin(ctx); err != nil {
		logger.Warn("could not determine token owner", "err", err)
	} else if login != cfg.BotLogin {
		logger.Warn("token owner differs from bot login; own PR comments are matched against the bot login only",
			"token_login", login, "bot_login", cfg.BotLogin)
	}

	mc := market.NewClient(cfg.MarketURL, cfg.MarketAPIKey, cfg.HTTPTimeout, logger)
	workspaces := repo.NewManager(gh, cfg.GitHubToken,
		repo.Identity{Name: cfg.GitHubUsername, Email: cfg.GitHubEmail},
		filepath.Join(cfg.WorkDir, "workspaces"), logger)
	solver := orchestrator.NewSolver(
		orchestrator.RepoWorkspaces(workspaces),
		adapter,
		container.NewExecutor(docker, logger),
		gh,
		journal,
		cfg.ExecutionTimeout,
		logger,
	)
	res := resolver.New(mc, gh, cfg.ResolvedInstanceCode, cfg.BotLogin, logger)
	app := orchestrator.New(cfg, mc, res, solver, gh, logger)

	logger.Info("runner started", "config", cfg.String(), "scan_interval", cfg.ScanInterval, "solve_interval", cfg.SolveInterval)
	return app.Run(ctx)
}

func openJournal(ctx context.Context, cfg config.Runtime) (store.Journal, error) {
	if cfg.JournalBackend == config.JournalMongo {
		return store.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDB, cfg.MongoCollection)
	}
	return store.OpenFileJournal(filepath.Join(cfg.WorkDir, "attempts.json"))
}
