package report

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/agentmarketbot/minimal-provider-agent-market/internal/parser"
)

var ansiEscape = regexp.MustCompile(`\x1B[@-_][0-?]*[ -/]*[@-~]`)

const (
	usageFooter   = "Tokens:"
	providerBlurb = "Provider List:  "
	// NoChangesNeeded is sent when the branch carries no commits ahead of base.
	NoChangesNeeded = "No changes needed"
	defaultCommit   = "agent bot commit"
	maxTitle        = 72
)

// CleanLogs strips terminal escape sequences and everything from the token
// usage footer on.
func CleanLogs(raw string) string {
	s := ansiEscape.ReplaceAllString(raw, "")
	if i := strings.Index(s, usageFooter); i >= 0 {
		s = s[:i]
	}
	s = strings.ReplaceAll(s, providerBlurb, "")
	return strings.TrimSpace(s)
}

// CommitMessage is a summary line from the background plus a Fixes trailer
// when an issue number is known.
func CommitMessage(background string) string {
	summary := firstLine(parser.StripURLs(background))
	if summary == "" {
		summary = defaultCommit
	}
	msg := truncate(summary, maxTitle)
	if n, ok := parser.IssueNumber(background); ok {
		msg += fmt.Sprintf("\n\nFixes #%d", n)
	}
	return msg
}

func PRTitle(background string) string {
	title := firstLine(parser.StripURLs(background))
	if title == "" {
		return "Automated changes"
	}
	return truncate(title, maxTitle)
}

func PRBody(background, logs string) string {
	parts := []string{
		"## Background",
		strings.TrimSpace(background),
		"",
		"## Agent log",
		truncateLines(blankAs(logs, "(no output)"), 80),
	}
	body := strings.Join(parts, "\n")
	if n, ok := parser.IssueNumber(background); ok && !strings.Contains(strings.ToLower(body), fmt.Sprintf("fixes #%d", n)) {
		body += fmt.Sprintf("\n\nFixes #%d", n)
	}
	return body
}

// PRComment wraps logs posted on an existing pull request.
func PRComment(agentName, logs string) string {
	return fmt.Sprintf("## %s:\n%s\n", agentName, blankAs(logs, "(no output)"))
}

func Solved(instanceID, prURL string) string {
	return fmt.Sprintf("Solved instance %s with PR %s", instanceID, prURL)
}

func PRUpdated(prURL string) string {
	return "Added comments to PR " + prURL
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}

// truncate shortens s to at most max runes.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max-3])) + "..."
}

func truncateLines(s string, max int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) <= max {
		return strings.TrimSpace(s)
	}
	return strings.Join(lines[:max], "\n") + "\n... (truncated)"
}

func blankAs(v, d string) string {
	if strings.TrimSpace(v) == "" {
		return d
	}
	return v
}
