package forge

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v58/github"

	"github.com/agentmarketbot/minimal-provider-agent-market/internal/parser"
)

const perPage = 100

// Comment is a pull request issue comment or review comment.
type Comment struct {
	Author    string
	Body      string
	CreatedAt time.Time
	// Path and Line are set for review comments only.
	Path string
	Line int
}

type FileChange struct {
	Filename  string
	Status    string
	Additions int
	Deletions int
	Patch     string
}

// Activity is the raw state of a pull request as seen by the resolver.
type Activity struct {
	IssueComments  []Comment
	ReviewComments []Comment
	Files          []FileChange
	LastCommitAt   time.Time
}

// PRActivity collects comments, changed files and the latest commit time of
// the pull request at prURL.
func (g *Gateway) PRActivity(ctx context.Context, prURL string) (Activity, error) {
	owner, name, number, err := parser.ParsePullRequestURL(prURL)
	if err != nil {
		return Activity{}, err
	}
	var act Activity

	issueOpts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: perPage}}
	for {
		page, resp, err := g.gh.Issues.ListComments(ctx, owner, name, number, issueOpts)
		if err != nil {
			return Activity{}, fmt.Errorf("list issue comments: %w", err)
		}
		for _, c := range page {
			act.IssueComments = append(act.IssueComments, Comment{
				Author:    c.GetUser().GetLogin(),
				Body:      c.GetBody(),
				CreatedAt: c.GetCreatedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		issueOpts.Page = resp.NextPage
	}

	reviewOpts := &github.PullRequestListCommentsOptions{ListOptions: github.ListOptions{PerPage: perPage}}
	for {
		page, resp, err := g.gh.PullRequests.ListComments(ctx, owner, name, number, reviewOpts)
		if err != nil {
			return Activity{}, fmt.Errorf("list review comments: %w", err)
		}
		for _, c := range page {
			act.ReviewComments = append(act.ReviewComments, Comment{
				Author:    c.GetUser().GetLogin(),
				Body:      c.GetBody(),
				CreatedAt: c.GetCreatedAt().Time,
				Path:      c.GetPath(),
				Line:      c.GetLine(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		reviewOpts.Page = resp.NextPage
	}

	listOpts := &github.ListOptions{PerPage: perPage}
	for {
		page, resp, err := g.gh.PullRequests.ListFiles(ctx, owner, name, number, listOpts)
		if err != nil {
			return Activity{}, fmt.Errorf("list files: %w", err)
		}
		for _, f := range page {
			act.Files = append(act.Files, FileChange{
				Filename:  f.GetFilename(),
				Status:    f.GetStatus(),
				Additions: f.GetAdditions(),
				Deletions: f.GetDeletions(),
				Patch:     f.GetPatch(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		listOpts.Page = resp.NextPage
	}

	commitOpts := &github.ListOptions{PerPage: perPage}
	for {
		page, resp, err := g.gh.PullRequests.ListCommits(ctx, owner, name, number, commitOpts)
		if err != nil {
			return Activity{}, fmt.Errorf("list commits: %w", err)
		}
		for _, c := range page {
			ts := c.GetCommit().GetCommitter().GetDate().Time
			if ts.IsZero() {
				ts = c.GetCommit().GetAuthor().GetDate().Time
			}
			if ts.After(act.LastCommitAt) {
				act.LastCommitAt = ts
			}
		}
		if resp.NextPage == 0 {
			break
		}
		commitOpts.Page = resp.NextPage
	}
	return act, nil
}

// Comment posts body as an issue comment on the pull request at prURL.
func (g *Gateway) Comment(ctx context.Context, prURL, body string) error {
	owner, name, number, err := parser.ParsePullRequestURL(prURL)
	if err != nil {
		return err
	}
	if _, _, err := g.gh.Issues.CreateComment(ctx, owner, name, number, &github.IssueComment{Body: github.String(body)}); err != nil {
		return fmt.Errorf("comment on %s: %w", prURL, err)
	}
	g.log.Info("pr comment added", "pr", prURL)
	return nil
}

// PullRequestSpec describes a pull request from a fork branch into upstream.
type PullRequestSpec struct {
	Upstream  Upstream
	HeadOwner string
	Branch    string
	Title     string
	Body      string
}

// CreatePullRequest opens a pull request against main, or master when main
// does not exist. It returns created=false without error when the head has
// no commits ahead of the base.
func (g *Gateway) CreatePullRequest(ctx context.Context, spec PullRequestSpec) (url string, created bool, err error) {
	owner, name := spec.Upstream.Owner, spec.Upstream.Name
	base, err := g.baseBranch(ctx, owner, name)
	if err != nil {
		return "", false, err
	}
	head := spec.HeadOwner + ":" + spec.Branch
	cmp, _, err := g.gh.Repositories.CompareCommits(ctx, owner, name, base, head, nil)
	if err != nil {
		return "", false, fmt.Errorf("compare %s...%s: %w", base, head, err)
	}
	if cmp.GetAheadBy() == 0 {
		g.log.Info("no commits ahead of base", "repo", owner+"/"+name, "base", base, "head", head)
		return "", false, nil
	}
	pr, _, err := g.gh.PullRequests.Create(ctx, owner, name, &github.NewPullRequest{
		Title: github.String(spec.Title),
		Head:  github.String(head),
		Base:  github.String(base),
		Body:  github.String(spec.Body),
	})
	if err != nil {
		return "", false, fmt.Errorf("create pull request: %w", err)
	}
	g.log.Info("pull request created", "url", pr.GetHTMLURL(), "base", base, "head", head)
	return pr.GetHTMLURL(), true, nil
}

func (g *Gateway) baseBranch(ctx context.Context, owner, name string) (string, error) {
	for _, candidate := range []string{"main", "master"} {
		_, resp, err := g.gh.Repositories.GetBranch(ctx, owner, name, candidate, 1)
		if err == nil {
			return candidate, nil
		}
		if !isStatus(resp, http.StatusNotFound) {
			return "", fmt.Errorf("get branch %s: %w", candidate, err)
		}
	}
	return "", fmt.Errorf("%s/%s: %w", owner, name, ErrBaseBranchNotFound)
}
