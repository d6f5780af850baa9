package forge

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v58/github"
)

// RetryConfig bounds retries of transient GitHub failures.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
	}
}

func retryable(resp *github.Response) bool {
	if resp == nil || resp.Response == nil {
		return false
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
}

func (g *Gateway) withRetry(ctx context.Context, op string, call func() (*github.Response, error)) error {
	backoff := g.retry.InitialBackoff
	var lastErr error
	for attempt := 0; attempt <= g.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			g.log.Debug("retrying github call", "op", op, "attempt", attempt, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
			if backoff > g.retry.MaxBackoff {
				backoff = g.retry.MaxBackoff
			}
		}
		resp, err := call()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(resp) {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return fmt.Errorf("%s: max retries exceeded: %w", op, lastErr)
}

// AcceptInvitations accepts every pending repository invitation for the
// token's account and returns how many were accepted. A failing invitation
// does not stop the others.
func (g *Gateway) AcceptInvitations(ctx context.Context) (int, error) {
	var pending []*github.RepositoryInvitation
	opts := &github.ListOptions{PerPage: perPage}
	for {
		var page []*github.RepositoryInvitation
		var resp *github.Response
		err := g.withRetry(ctx, "list invitations", func() (*github.Response, error) {
			var err error
			page, resp, err = g.gh.Users.ListInvitations(ctx, opts)
			return resp, err
		})
		if err != nil {
			return 0, err
		}
		pending = append(pending, page...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	accepted := 0
	for _, inv := range pending {
		id := inv.GetID()
		err := g.withRetry(ctx, "accept invitation", func() (*github.Response, error) {
			return g.gh.Users.AcceptInvitation(ctx, id)
		})
		if err != nil {
			g.log.Warn("accept invitation failed", "invitation_id", id, "repo", inv.GetRepo().GetFullName(), "err", err)
			continue
		}
		accepted++
		g.log.Info("invitation accepted", "invitation_id", id, "repo", inv.GetRepo().GetFullName())
	}
	return accepted, nil
}
