package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/agentmarketbot/minimal-provider-agent-market/internal/forge"
	"github.com/agentmarketbot/minimal-provider-agent-market/internal/model"
	"github.com/agentmarketbot/minimal-provider-agent-market/internal/parser"
)

type Market interface {
	GetInstance(ctx context.Context, instanceID string) (model.Instance, error)
	GetChat(ctx context.Context, instanceID string) ([]model.ChatMessage, error)
}

type PullRequests interface {
	PRActivity(ctx context.Context, prURL string) (forge.Activity, error)
}

// Resolver rebuilds the view of an instance from the marketplace chat and
// the pull request linked in it.
type Resolver struct {
	market       Market
	prs          PullRequests
	resolvedCode int
	botLogin     string
	log          *slog.Logger
}

// New returns a resolver. botLogin is compared exactly against PR comment
// authors to recognise this account's own comments.
func New(market Market, prs PullRequests, resolvedCode int, botLogin string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		market:       market,
		prs:          prs,
		resolvedCode: resolvedCode,
		botLogin:     botLogin,
		log:          logger.With("component", "resolver"),
	}
}

// Resolve returns nil without error when the instance is not resolved yet or
// its chat cannot be read. Only a failed instance fetch is an error; a failed
// PR activity fetch leaves PRComments empty.
func (r *Resolver) Resolve(ctx context.Context, instanceID string) (*model.InstanceToSolve, error) {
	inst, err := r.market.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status != r.resolvedCode {
		return nil, nil
	}
	log := r.log.With("instance_id", instanceID)
	view := &model.InstanceToSolve{Instance: inst}

	view.RepoURL = parser.FindRepoURL(inst.Background)
	if view.RepoURL == "" {
		log.Info("instance has no github repository url")
		return view, nil
	}

	chat, err := r.market.GetChat(ctx, instanceID)
	if err != nil {
		// Engagement state is unknown without the chat.
		log.Warn("fetch chat failed, skipping instance", "err", err)
		return nil, nil
	}
	if len(chat) == 0 {
		return view, nil
	}

	for _, m := range chat {
		if m.Sender == model.SenderProvider {
			view.StartedSolving = true
			break
		}
	}
	sorted := parser.SortMessages(chat)
	transcript := parser.FormatMessages(sorted)
	if sorted[len(sorted)-1].Sender == model.SenderRequester {
		view.MessagesWithRequester = transcript
	}

	view.PRURL = parser.FindPullRequestURL(transcript)
	log.Info("chat resolved",
		"messages", len(chat),
		"started_solving", view.StartedSolving,
		"requester_last", view.MessagesWithRequester != "",
		"pr_url", view.PRURL,
	)
	if view.PRURL == "" {
		return view, nil
	}

	act, err := r.prs.PRActivity(ctx, view.PRURL)
	if err != nil {
		log.Warn("fetch pr activity failed", "pr_url", view.PRURL, "err", err)
		return view, nil
	}
	view.PRComments = r.feedback(act)
	log.Info("pr feedback resolved", "pr_url", view.PRURL, "actionable", view.PRComments != "")
	return view, nil
}

// feedback renders the pull request state when its latest comment is someone
// else's and no commit followed it. It returns "" otherwise.
func (r *Resolver) feedback(act forge.Activity) string {
	last, ok := latest(act.IssueComments)
	if review, rok := latest(act.ReviewComments); rok && (!ok || review.CreatedAt.After(last.CreatedAt)) {
		last, ok = review, true
	}
	if !ok {
		return ""
	}
	if last.Author == r.botLogin {
		return ""
	}
	if act.LastCommitAt.After(last.CreatedAt) {
		return ""
	}
	return render(act)
}

func latest(cs []forge.Comment) (forge.Comment, bool) {
	if len(cs) == 0 {
		return forge.Comment{}, false
	}
	out := cs[0]
	for _, c := range cs[1:] {
		if !c.CreatedAt.Before(out.CreatedAt) {
			out = c
		}
	}
	return out, true
}

func render(act forge.Activity) string {
	var b strings.Builder
	b.WriteString("DIFF\n")
	for _, f := range act.Files {
		patch := f.Patch
		if patch == "" {
			patch = "No patch available"
		}
		fmt.Fprintf(&b, "File: %s\nStatus: %s\nChanges: +%d -%d\nPatch:\n%s\n\n", f.Filename, f.Status, f.Additions, f.Deletions, patch)
	}
	b.WriteString("COMMENTS\n")
	for _, c := range act.IssueComments {
		fmt.Fprintf(&b, "Comment by %s at %s:\n%s\n---\n", c.Author, c.CreatedAt.UTC().Format("2006-01-02 15:04:05"), c.Body)
	}
	for _, c := range act.ReviewComments {
		fmt.Fprintf(&b, "Review comment by %s at %s:\nFile: %s, Line: %d\n%s\n---\n", c.Author, c.CreatedAt.UTC().Format("2006-01-02 15:04:05"), c.Path, c.Line, c.Body)
	}
	return strings.TrimRight(b.String(), "\n")
}
