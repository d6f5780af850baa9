package forge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/go-github/v58/github"
	"golang.org/x/oauth2"

	"github.com/agentmarketbot/minimal-provider-agent-market/internal/parser"
)

var (
	ErrRepoNotFound       = errors.New("repository not found")
	ErrBaseBranchNotFound = errors.New("neither main nor master exists on base repository")
)

// Gateway wraps the GitHub REST calls the runner needs. It is stateless
// beyond the underlying client and safe to share.
type Gateway struct {
	gh    *github.Client
	retry RetryConfig
	log   *slog.Logger
}

// NewClient returns a go-github client authenticated with a personal access
// token.
func NewClient(ctx context.Context, token string) *github.Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return github.NewClient(oauth2.NewClient(ctx, ts))
}

func New(gh *github.Client, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{gh: gh, retry: DefaultRetryConfig(), log: logger.With("component", "forge")}
}

// WithRetry replaces the retry policy used for invitation calls.
func (g *Gateway) WithRetry(cfg RetryConfig) *Gateway {
	g.retry = cfg
	return g
}

// AuthenticatedLogin returns the login that owns the token.
func (g *Gateway) AuthenticatedLogin(ctx context.Context) (string, error) {
	u, _, err := g.gh.Users.Get(ctx, "")
	if err != nil {
		return "", fmt.Errorf("get authenticated user: %w", err)
	}
	return u.GetLogin(), nil
}

// Upstream describes the repository a fork was made from.
type Upstream struct {
	Owner         string
	Name          string
	CloneURL      string
	DefaultBranch string
}

// ForkInfo describes this account's fork of an upstream repository.
type ForkInfo struct {
	Owner    string
	Name     string
	FullName string
	CloneURL string
	Upstream Upstream
}

// Fork creates (or finds) this account's fork of repoURL. GitHub answers an
// already existing fork with the same repository, so repeated calls are safe.
func (g *Gateway) Fork(ctx context.Context, repoURL string) (ForkInfo, error) {
	owner, name, err := parser.ParseRepoURL(repoURL)
	if err != nil {
		return ForkInfo{}, err
	}
	up, resp, err := g.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		if isStatus(resp, http.StatusNotFound) {
			return ForkInfo{}, fmt.Errorf("%s/%s: %w", owner, name, ErrRepoNotFound)
		}
		return ForkInfo{}, fmt.Errorf("get repository %s/%s: %w", owner, name, err)
	}
	fork, resp, err := g.gh.Repositories.CreateFork(ctx, owner, name, &github.RepositoryCreateForkOptions{})
	if err != nil {
		var accepted *github.AcceptedError
		if !errors.As(err, &accepted) {
			if isStatus(resp, http.StatusNotFound) {
				return ForkInfo{}, fmt.Errorf("fork %s/%s: %w", owner, name, ErrRepoNotFound)
			}
			return ForkInfo{}, fmt.Errorf("fork %s/%s: %w", owner, name, err)
		}
		// 202: fork scheduled, body already describes it.
	}
	info := ForkInfo{
		Owner:    fork.GetOwner().GetLogin(),
		Name:     fork.GetName(),
		FullName: fork.GetFullName(),
		CloneURL: fork.GetCloneURL(),
		Upstream: Upstream{
			Owner:         owner,
			Name:          name,
			CloneURL:      up.GetCloneURL(),
			DefaultBranch: up.GetDefaultBranch(),
		},
	}
	if info.Upstream.DefaultBranch == "" {
		info.Upstream.DefaultBranch = "main"
	}
	g.log.Info("fork ready", "fork", info.FullName, "upstream", owner+"/"+name)
	return info, nil
}

func isStatus(resp *github.Response, code int) bool {
	return resp != nil && resp.Response != nil && resp.StatusCode == code
}
