package repo

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/agentmarketbot/minimal-provider-agent-market/internal/forge"
)

var ErrDetachedHead = errors.New("workspace is in detached HEAD state")

// gitTimeout bounds a single git invocation. Clones of large repositories
// dominate.
var gitTimeout = 5 * time.Minute

// Forker creates or finds this account's fork of a repository.
type Forker interface {
	Fork(ctx context.Context, repoURL string) (forge.ForkInfo, error)
}

// Identity is the commit author configured in every workspace.
type Identity struct {
	Name  string
	Email string
}

// Manager prepares one workspace per solve attempt.
type Manager struct {
	forker   Forker
	token    string
	identity Identity
	tempRoot string
	log      *slog.Logger
}

func NewManager(forker Forker, token string, identity Identity, tempRoot string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		forker:   forker,
		token:    token,
		identity: identity,
		tempRoot: tempRoot,
		log:      logger.With("component", "repo"),
	}
}

// Prepare forks repoURL, clones the fork into a fresh temporary directory,
// syncs it with upstream (best effort) and checks out branch. The caller
// owns the returned workspace and must Close it.
func (m *Manager) Prepare(ctx context.Context, repoURL, branch string) (*Workspace, error) {
	info, err := m.forker.Fork(ctx, repoURL)
	if err != nil {
		return nil, err
	}
	if m.tempRoot != "" {
		if err := os.MkdirAll(m.tempRoot, 0o755); err != nil {
			return nil, err
		}
	}
	dir, err := os.MkdirTemp(m.tempRoot, "workspace-*")
	if err != nil {
		return nil, fmt.Errorf("create workspace dir: %w", err)
	}
	ws := &Workspace{dir: dir, branch: branch, fork: info, token: m.token, log: m.log.With("branch", branch)}

	if err := ws.setup(ctx, m.identity); err != nil {
		ws.Close()
		return nil, err
	}
	return ws, nil
}

func (w *Workspace) setup(ctx context.Context, id Identity) error {
	if _, err := w.git(ctx, filepath.Dir(w.dir), "clone", w.fork.CloneURL, w.dir); err != nil {
		return fmt.Errorf("clone fork: %w", err)
	}
	if _, err := w.git(ctx, w.dir, "config", "user.name", id.Name); err != nil {
		return err
	}
	if _, err := w.git(ctx, w.dir, "config", "user.email", id.Email); err != nil {
		return err
	}
	if err := w.syncUpstream(ctx); err != nil {
		w.log.Warn("upstream sync failed", "upstream", w.fork.Upstream.CloneURL, "err", err)
	}
	return w.checkoutBranch(ctx)
}

// syncUpstream merges the upstream default branch into the fork's default
// branch and pushes it.
func (w *Workspace) syncUpstream(ctx context.Context) error {
	up := w.fork.Upstream
	if up.CloneURL == "" || up.DefaultBranch == "" {
		return errors.New("upstream unknown")
	}
	if _, err := w.git(ctx, w.dir, "remote", "add", "upstream", up.CloneURL); err != nil {
		if _, err := w.git(ctx, w.dir, "remote", "set-url", "upstream", up.CloneURL); err != nil {
			return err
		}
	}
	if _, err := w.git(ctx, w.dir, "fetch", "upstream", up.DefaultBranch); err != nil {
		return err
	}
	if _, err := w.git(ctx, w.dir, "checkout", up.DefaultBranch); err != nil {
		if _, err := w.git(ctx, w.dir, "checkout", "-b", up.DefaultBranch, "upstream/"+up.DefaultBranch); err != nil {
			return err
		}
	}
	if _, err := w.git(ctx, w.dir, "merge", "--no-edit", "upstream/"+up.DefaultBranch); err != nil {
		_, _ = w.git(ctx, w.dir, "merge", "--abort")
		return err
	}
	if _, err := w.git(ctx, w.dir, "push", "origin", up.DefaultBranch); err != nil {
		return err
	}
	w.log.Info("fork synced with upstream", "default_branch", up.DefaultBranch)
	return nil
}

func (w *Workspace) checkoutBranch(ctx context.Context) error {
	b := w.branch
	if _, err := w.git(ctx, w.dir, "rev-parse", "--verify", "--quiet", "refs/heads/"+b); err == nil {
		_, err := w.git(ctx, w.dir, "checkout", b)
		return err
	}
	if _, err := w.git(ctx, w.dir, "ls-remote", "--exit-code", "--heads", "origin", b); err == nil {
		if _, err := w.git(ctx, w.dir, "fetch", "origin", b); err != nil {
			return err
		}
		_, err := w.git(ctx, w.dir, "checkout", "-b", b, "--track", "origin/"+b)
		return err
	}
	if _, err := w.git(ctx, w.dir, "checkout", "-b", b); err != nil {
		return err
	}
	_, err := w.git(ctx, w.dir, "push", "-u", "origin", b)
	return err
}

// Workspace is a disposable clone of a fork checked out on one branch.
type Workspace struct {
	dir    string
	branch string
	fork   forge.ForkInfo
	token  string
	log    *slog.Logger
}

func (w *Workspace) Dir() string { return w.dir }

func (w *Workspace) Branch() string { return w.branch }

func (w *Workspace) Fork() forge.ForkInfo { return w.fork }

// WriteFiles writes files relative to the workspace root.
func (w *Workspace) WriteFiles(files map[string]string) error {
	for name, content := range files {
		path := filepath.Join(w.dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

// CommitAll removes the excluded files, stages everything else and commits.
// It reports whether a commit was made.
func (w *Workspace) CommitAll(ctx context.Context, message string, exclude []string) (bool, error) {
	for _, name := range exclude {
		if err := os.RemoveAll(filepath.Join(w.dir, name)); err != nil {
			return false, err
		}
	}
	if _, err := w.git(ctx, w.dir, "add", "-A"); err != nil {
		return false, err
	}
	if _, err := w.git(ctx, w.dir, "diff", "--cached", "--quiet"); err == nil {
		return false, nil
	}
	if _, err := w.git(ctx, w.dir, "commit", "-m", message); err != nil {
		return false, err
	}
	return true, nil
}

// Push pushes the branch when it has commits the remote lacks. It reports
// whether anything was pushed.
func (w *Workspace) Push(ctx context.Context) (bool, error) {
	head, err := w.git(ctx, w.dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return false, err
	}
	head = strings.TrimSpace(head)
	if head == "HEAD" {
		return false, ErrDetachedHead
	}
	_, _ = w.git(ctx, w.dir, "fetch", "origin")
	rangeSpec := "HEAD"
	if _, err := w.git(ctx, w.dir, "rev-parse", "--verify", "--quiet", "refs/remotes/origin/"+head); err == nil {
		rangeSpec = "origin/" + head + "..HEAD"
	}
	out, err := w.git(ctx, w.dir, "rev-list", "--count", rangeSpec)
	if err != nil {
		return false, err
	}
	ahead, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return false, fmt.Errorf("parse ahead count %q: %w", out, err)
	}
	if ahead == 0 {
		w.log.Info("nothing to push")
		return false, nil
	}
	if _, err := w.git(ctx, w.dir, "push", "-u", "origin", head); err != nil {
		return false, err
	}
	w.log.Info("pushed", "commits", ahead)
	return true, nil
}

// DiffStat lists changed and untracked paths in the working tree.
func (w *Workspace) DiffStat(ctx context.Context) string {
	out, err := w.git(ctx, w.dir, "status", "--short")
	if err != nil {
		return "(failed to gather diff stat)"
	}
	if strings.TrimSpace(out) == "" {
		return "(no changes)"
	}
	return out
}

// Close deletes the workspace directory.
func (w *Workspace) Close() error {
	return os.RemoveAll(w.dir)
}

func (w *Workspace) git(ctx context.Context, workdir string, args ...string) (string, error) {
	return runGit(ctx, workdir, w.token, args...)
}

// runGit runs git with the token supplied as a per-invocation HTTP header.
// Remote URLs stay credential-free, so nothing in .git/config can leak the
// token to processes that later read the workspace.
func runGit(ctx context.Context, workdir, token string, args ...string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()
	header := authHeader(token)
	full := args
	if header != "" {
		full = append([]string{"-c", "http.extraHeader=" + header}, args...)
	}
	cmd := exec.CommandContext(cctx, "git", full...)
	cmd.Dir = workdir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := fmt.Sprintf("git %s: %v: %s", strings.Join(args, " "), err, string(out))
		return string(out), errors.New(redact(msg, token, header))
	}
	return string(out), nil
}

func authHeader(token string) string {
	if token == "" {
		return ""
	}
	return "Authorization: Basic " + base64.StdEncoding.EncodeToString([]byte("x-access-token:"+token))
}

func redact(s string, secrets ...string) string {
	for _, secret := range secrets {
		if secret != "" {
			s = strings.ReplaceAll(s, secret, "***")
		}
	}
	return s
}
