package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentmarketbot/minimal-provider-agent-market/internal/agent"
	"github.com/agentmarketbot/minimal-provider-agent-market/internal/container"
	"github.com/agentmarketbot/minimal-provider-agent-market/internal/forge"
	"github.com/agentmarketbot/minimal-provider-agent-market/internal/model"
	"github.com/agentmarketbot/minimal-provider-agent-market/internal/prompt"
	"github.com/agentmarketbot/minimal-provider-agent-market/internal/repo"
	"github.com/agentmarketbot/minimal-provider-agent-market/internal/report"
	"github.com/agentmarketbot/minimal-provider-agent-market/internal/store"
)

// Workspace is one attempt's clone of the fork.
type Workspace interface {
	Dir() string
	Branch() string
	Fork() forge.ForkInfo
	WriteFiles(files map[string]string) error
	CommitAll(ctx context.Context, message string, exclude []string) (bool, error)
	Push(ctx context.Context) (bool, error)
	DiffStat(ctx context.Context) string
	Close() error
}

type Workspaces interface {
	Prepare(ctx context.Context, repoURL, branch string) (Workspace, error)
}

type Executor interface {
	Run(ctx context.Context, attemptID string, p agent.LaunchParams, timeout time.Duration) (string, error)
	Sweep(ctx context.Context, attemptID string) error
}

type PullRequests interface {
	Comment(ctx context.Context, prURL, body string) error
	CreatePullRequest(ctx context.Context, spec forge.PullRequestSpec) (string, bool, error)
}

// RepoWorkspaces adapts a repo.Manager to Workspaces.
func RepoWorkspaces(m *repo.Manager) Workspaces {
	return repoWorkspaces{m: m}
}

type repoWorkspaces struct{ m *repo.Manager }

func (r repoWorkspaces) Prepare(ctx context.Context, repoURL, branch string) (Workspace, error) {
	ws, err := r.m.Prepare(ctx, repoURL, branch)
	if err != nil {
		return nil, err
	}
	return ws, nil
}

// Outcome is the result of one Solve call. An empty Message means there is
// nothing to tell the requester.
type Outcome struct {
	State   model.AttemptState
	Message string
	PRURL   string
}

type Solver struct {
	workspaces Workspaces
	adapter    agent.Adapter
	exec       Executor
	prs        PullRequests
	journal    store.Journal
	templates  prompt.Templates
	timeout    time.Duration
	log        *slog.Logger

	newID func() string
	now   func() time.Time
}

func NewSolver(ws Workspaces, adapter agent.Adapter, exec Executor, prs PullRequests, journal store.Journal, timeout time.Duration, logger *slog.Logger) *Solver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Solver{
		workspaces: ws,
		adapter:    adapter,
		exec:       exec,
		prs:        prs,
		journal:    journal,
		templates:  prompt.DefaultTemplates(),
		timeout:    timeout,
		log:        logger.With("component", "solver"),
		newID:      uuid.NewString,
		now:        time.Now,
	}
}

// WithTemplates replaces the instruction templates.
func (s *Solver) WithTemplates(t prompt.Templates) *Solver {
	s.templates = t
	return s
}

// Solve runs one attempt for view. Views without a repository or without new
// input since the last engagement return before any side effect.
func (s *Solver) Solve(ctx context.Context, view model.InstanceToSolve) (Outcome, error) {
	id := view.Instance.ID
	if view.RepoURL == "" {
		return Outcome{State: model.StateOutOfScope}, nil
	}
	if view.NeedsAttention() {
		s.log.Debug("no new input, skipping", "instance_id", id)
		return Outcome{State: model.StateSkipped}, nil
	}

	s.reapInterrupted(ctx, id)

	now := s.now().UTC()
	at := &model.Attempt{ID: s.newID(), InstanceID: id, StartedAt: now}
	log := s.log.With("instance_id", id, "attempt_id", at.ID)
	s.record(ctx, at, model.StatePending, "")

	out, err := s.run(ctx, log, view, at)
	if err != nil {
		state := model.StateFailed
		var timeout *container.TimeoutError
		if errors.As(err, &timeout) {
			state = model.StateTimedOut
		}
		s.record(context.WithoutCancel(ctx), at, state, err.Error())
		log.Error("attempt failed", "state", state, "err", err)
		return Outcome{State: state}, err
	}
	at.PRURL = out.PRURL
	s.record(context.WithoutCancel(ctx), at, out.State, "")
	log.Info("attempt closed", "state", out.State, "pr_url", out.PRURL)
	return out, nil
}

func (s *Solver) run(ctx context.Context, log *slog.Logger, view model.InstanceToSolve, at *model.Attempt) (Outcome, error) {
	instructions, err := s.templates.Compose(view.Instance.Background, view.PRComments, view.MessagesWithRequester)
	if err != nil {
		return Outcome{}, fmt.Errorf("compose instructions: %w", err)
	}

	ws, err := s.workspaces.Prepare(ctx, view.RepoURL, view.Instance.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("prepare workspace: %w", err)
	}
	defer func() {
		cleanup := context.WithoutCancel(ctx)
		if err := s.exec.Sweep(cleanup, at.ID); err != nil {
			log.Warn("container sweep failed", "err", err)
		}
		if err := ws.Close(); err != nil {
			log.Warn("workspace cleanup failed", "dir", ws.Dir(), "err", err)
		}
	}()
	s.record(ctx, at, model.StateWorkspaceReady, ws.Dir())

	params, err := s.adapter.BuildLaunchParams(ws.Dir(), instructions)
	if err != nil {
		return Outcome{}, fmt.Errorf("build launch params: %w", err)
	}
	if err := ws.WriteFiles(params.Scaffold); err != nil {
		return Outcome{}, fmt.Errorf("write scaffold: %w", err)
	}

	s.record(ctx, at, model.StateContainerRunning, params.Image)
	raw, err := s.exec.Run(ctx, at.ID, params, s.timeout)
	if err != nil {
		return Outcome{}, fmt.Errorf("run agent: %w", err)
	}
	logs := report.CleanLogs(raw)
	s.record(ctx, at, model.StateSucceeded, "")
	log.Info("agent finished", "changes", ws.DiffStat(ctx))

	if _, err := ws.CommitAll(ctx, report.CommitMessage(view.Instance.Background), params.Exclude); err != nil {
		return Outcome{}, fmt.Errorf("commit: %w", err)
	}
	pushed, err := ws.Push(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("push: %w", err)
	}

	if view.PRURL != "" {
		if err := s.prs.Comment(ctx, view.PRURL, report.PRComment(s.adapter.Name(), logs)); err != nil {
			return Outcome{}, err
		}
		msg := logs
		if pushed {
			msg = report.PRUpdated(view.PRURL)
		}
		return Outcome{State: model.StateClosedPRComment, Message: msg, PRURL: view.PRURL}, nil
	}

	if !pushed {
		return Outcome{State: model.StateClosedNoOp, Message: logs}, nil
	}
	fork := ws.Fork()
	url, created, err := s.prs.CreatePullRequest(ctx, forge.PullRequestSpec{
		Upstream:  fork.Upstream,
		HeadOwner: fork.Owner,
		Branch:    ws.Branch(),
		Title:     report.PRTitle(view.Instance.Background),
		Body:      report.PRBody(view.Instance.Background, logs),
	})
	if err != nil {
		return Outcome{}, err
	}
	if !created {
		return Outcome{State: model.StateClosedNoOp, Message: report.NoChangesNeeded}, nil
	}
	return Outcome{State: model.StateClosedPROpened, Message: report.Solved(view.Instance.ID, url), PRURL: url}, nil
}

// reapInterrupted closes out a previous attempt that never reached a terminal
// state, e.g. because the process died mid-run, and removes its containers.
func (s *Solver) reapInterrupted(ctx context.Context, instanceID string) {
	if s.journal == nil {
		return
	}
	prev, ok, err := s.journal.Get(ctx, instanceID)
	if err != nil {
		s.log.Warn("journal read failed", "instance_id", instanceID, "err", err)
		return
	}
	if !ok || prev.State.IsTerminal() {
		return
	}
	log := s.log.With("instance_id", instanceID, "attempt_id", prev.ID)
	log.Warn("reaping interrupted attempt", "state", prev.State)
	if err := s.exec.Sweep(context.WithoutCancel(ctx), prev.ID); err != nil {
		log.Warn("container sweep failed", "err", err)
	}
	s.record(ctx, &prev, model.StateFailed, "interrupted in state "+prev.State.String())
}

// record writes the transition to the journal. Journal failures are logged
// and do not affect the attempt.
func (s *Solver) record(ctx context.Context, at *model.Attempt, state model.AttemptState, detail string) {
	at.State = state
	at.Detail = detail
	at.UpdatedAt = s.now().UTC()
	if s.journal == nil {
		return
	}
	if err := s.journal.Record(ctx, *at); err != nil {
		s.log.Warn("journal write failed", "instance_id", at.InstanceID, "state", state, "err", err)
	}
}
