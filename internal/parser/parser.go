package parser

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/agentmarketbot/minimal-provider-agent-market/internal/model"
)

var (
	repoURLPattern  = regexp.MustCompile(`https://github\.com/[^\s]+`)
	pullURLPattern  = regexp.MustCompile(`https://github\.com/[^/\s]+/[^/\s]+/pull/\d+`)
	anyURLPattern   = regexp.MustCompile(`https?://[^\s]+`)
	issueNumPattern = regexp.MustCompile(`Issue Number:\s*(\d+)`)
)

// Labels the marketplace puts in front of links inside an instance background.
var urlLabels = []string{"Repository URL:", "Issue URL:"}

const trailingPunct = ".,;:!?)]}>\"'`"

// FindRepoURL returns the first GitHub URL in text, or "" if there is none.
func FindRepoURL(text string) string {
	m := repoURLPattern.FindString(text)
	return strings.TrimRight(m, trailingPunct)
}

// FindPullRequestURL returns the last pull-request URL in text. Transcripts
// are rendered oldest first, so the last match is the most recent PR.
func FindPullRequestURL(text string) string {
	all := pullURLPattern.FindAllString(text, -1)
	if len(all) == 0 {
		return ""
	}
	return all[len(all)-1]
}

// ParseRepoURL extracts owner and repository name from an https or ssh GitHub
// URL. Extra path segments (issues, pull, tree) are ignored.
func ParseRepoURL(raw string) (owner, name string, err error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimRight(s, "/")
	switch {
	case strings.HasPrefix(s, "git@github.com:"):
		s = strings.TrimPrefix(s, "git@github.com:")
	case strings.Contains(s, "github.com/"):
		s = s[strings.Index(s, "github.com/")+len("github.com/"):]
	default:
		return "", "", fmt.Errorf("not a github url: %q", raw)
	}
	parts := strings.Split(s, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository url: %q", raw)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}

// ParsePullRequestURL splits https://github.com/{owner}/{repo}/pull/{n}.
func ParsePullRequestURL(raw string) (owner, name string, number int, err error) {
	m := pullURLPattern.FindString(raw)
	if m == "" {
		return "", "", 0, fmt.Errorf("not a pull request url: %q", raw)
	}
	owner, name, err = ParseRepoURL(m)
	if err != nil {
		return "", "", 0, err
	}
	idx := strings.LastIndex(m, "/pull/")
	number, err = strconv.Atoi(m[idx+len("/pull/"):])
	if err != nil {
		return "", "", 0, fmt.Errorf("pull request number: %w", err)
	}
	return owner, name, number, nil
}

// IssueNumber returns the number following "Issue Number:" in a background.
func IssueNumber(background string) (int, bool) {
	m := issueNumPattern.FindStringSubmatch(background)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// StripURLs removes every http(s) link and the labels that introduce them.
func StripURLs(text string) string {
	for _, label := range urlLabels {
		text = strings.ReplaceAll(text, label, "")
	}
	return anyURLPattern.ReplaceAllString(text, "")
}

// SortMessages orders a transcript oldest first. Equal timestamps keep their
// original order.
func SortMessages(msgs []model.ChatMessage) []model.ChatMessage {
	out := make([]model.ChatMessage, len(msgs))
	copy(out, msgs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp.Time)
	})
	return out
}

// FormatMessages renders a transcript as one line per message.
func FormatMessages(msgs []model.ChatMessage) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Sender, strings.TrimSpace(m.Message)))
	}
	return strings.Join(lines, "\n")
}
