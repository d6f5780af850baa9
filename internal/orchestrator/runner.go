package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentmarketbot/minimal-provider-agent-market/internal/config"
	"github.com/agentmarketbot/minimal-provider-agent-market/internal/model"
	"github.com/agentmarketbot/minimal-provider-agent-market/internal/parser"
)

type Marketplace interface {
	AwardedProposals(ctx context.Context, awardedCode int, since time.Time) ([]model.Proposal, error)
	ListProposals(ctx context.Context) ([]model.Proposal, error)
	ListInstances(ctx context.Context, status int) ([]model.Instance, error)
	CreateProposal(ctx context.Context, instanceID string, maxBid float64) error
	SendMessage(ctx context.Context, instanceID, message string) error
}

type Resolver interface {
	Resolve(ctx context.Context, instanceID string) (*model.InstanceToSolve, error)
}

type InstanceSolver interface {
	Solve(ctx context.Context, view model.InstanceToSolve) (Outcome, error)
}

type Invitations interface {
	AcceptInvitations(ctx context.Context) (int, error)
}

// scanParallelism bounds concurrent proposal creation within one scan.
const scanParallelism = 4

// App drives the scan and solve loops.
type App struct {
	cfg      config.Runtime
	market   Marketplace
	resolver Resolver
	solver   InstanceSolver
	invites  Invitations
	log      *slog.Logger
	now      func() time.Time
}

func New(cfg config.Runtime, market Marketplace, resolver Resolver, solver InstanceSolver, invites Invitations, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		cfg:      cfg,
		market:   market,
		resolver: resolver,
		solver:   solver,
		invites:  invites,
		log:      logger.With("component", "orchestrator"),
		now:      time.Now,
	}
}

// Run runs both loops until ctx is cancelled. A loop that stops for any
// other reason takes the whole app down with an error.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.loop(gctx, "scan", a.cfg.ScanInterval, a.ScanCycle) })
	g.Go(func() error { return a.loop(gctx, "solve", a.cfg.SolveInterval, a.SolveCycle) })
	err := g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		err = errors.New("poll loop exited")
	}
	return err
}

func (a *App) loop(ctx context.Context, name string, interval time.Duration, cycle func(context.Context) error) error {
	log := a.log.With("loop", name)
	log.Info("loop started", "interval", interval)
	for {
		if err := a.safely(ctx, cycle); err != nil && ctx.Err() == nil {
			log.Error("cycle failed", "err", err)
		}
		select {
		case <-ctx.Done():
			log.Info("loop stopped")
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// safely turns a panic inside one cycle into an error.
func (a *App) safely(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}

// SolveCycle resolves and solves every recently awarded instance, one at a
// time, then accepts pending repository invitations.
func (a *App) SolveCycle(ctx context.Context) error {
	since := a.now().Add(-a.cfg.AwardedWindow)
	proposals, err := a.market.AwardedProposals(ctx, a.cfg.AwardedProposalCode, since)
	if err != nil {
		return fmt.Errorf("list awarded proposals: %w", err)
	}
	a.log.Info("awarded proposals", "count", len(proposals))
	seen := make(map[string]struct{}, len(proposals))
	for _, p := range proposals {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, dup := seen[p.InstanceID]; dup {
			continue
		}
		seen[p.InstanceID] = struct{}{}
		if err := a.safely(ctx, func(ctx context.Context) error { return a.handleInstance(ctx, p.InstanceID) }); err != nil {
			a.log.Error("instance failed", "instance_id", p.InstanceID, "err", err)
		}
	}

	if a.invites != nil {
		n, err := a.invites.AcceptInvitations(ctx)
		if err != nil {
			a.log.Warn("accept invitations failed", "err", err)
		} else if n > 0 {
			a.log.Info("invitations accepted", "count", n)
		}
	}
	return nil
}

func (a *App) handleInstance(ctx context.Context, instanceID string) error {
	view, err := a.resolver.Resolve(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}
	if view == nil {
		return nil
	}
	out, err := a.solver.Solve(ctx, *view)
	if err != nil {
		return fmt.Errorf("solve (%s): %w", out.State, err)
	}
	if out.Message == "" {
		return nil
	}
	if err := a.market.SendMessage(ctx, instanceID, out.Message); err != nil {
		return err
	}
	return nil
}

// ScanCycle places a proposal on every open instance that links a GitHub
// repository and has no proposal yet.
func (a *App) ScanCycle(ctx context.Context) error {
	instances, err := a.market.ListInstances(ctx, a.cfg.OpenInstanceCode)
	if err != nil {
		return fmt.Errorf("list open instances: %w", err)
	}
	if len(instances) == 0 {
		return nil
	}
	proposals, err := a.market.ListProposals(ctx)
	if err != nil {
		return fmt.Errorf("list proposals: %w", err)
	}
	have := make(map[string]struct{}, len(proposals))
	for _, p := range proposals {
		have[p.InstanceID] = struct{}{}
	}

	var g errgroup.Group
	g.SetLimit(scanParallelism)
	var created, attempted int
	results := make(chan bool, len(instances))
	for _, inst := range instances {
		if _, ok := have[inst.ID]; ok {
			continue
		}
		if parser.FindRepoURL(inst.Background) == "" {
			a.log.Debug("instance skipped, no github url", "instance_id", inst.ID)
			continue
		}
		attempted++
		g.Go(func() error {
			if err := a.market.CreateProposal(ctx, inst.ID, a.cfg.MaxBid); err != nil {
				a.log.Warn("create proposal failed", "instance_id", inst.ID, "err", err)
				results <- false
				return nil
			}
			a.log.Info("proposal created", "instance_id", inst.ID, "max_bid", a.cfg.MaxBid)
			results <- true
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	for ok := range results {
		if ok {
			created++
		}
	}
	if attempted > 0 {
		a.log.Info("scan finished", "created", created, "attempted", attempted)
	}
	return nil
}
