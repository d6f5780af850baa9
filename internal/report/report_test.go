package report

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncateLines(t *testing.T) {
	in := strings.Repeat("a\n", 10)
	out := truncateLines(in, 3)
	assert.Contains(t, out, "truncated")
}

func TestCleanLogs(t *testing.T) {
	raw := "\x1b[32mApplied edit\x1b[0m to main.go\nProvider List:  https://docs\nTokens: 1.2k sent, 300 received\nCost: $0.01"
	got := CleanLogs(raw)
	assert.Equal(t, "Applied edit to main.go\nhttps://docs", got)
	assert.NotContains(t, got, "Cost")
}

func TestCommitMessageAndTitle(t *testing.T) {
	bg := "\nRepository URL: https://github.com/acme/widgets\nIssue Number: 12\n"
	assert.Equal(t, "Issue Number: 12\n\nFixes #12", CommitMessage(bg))

	bg = "Add retries to the uploader\nhttps://github.com/acme/widgets"
	assert.Equal(t, "Add retries to the uploader", CommitMessage(bg))
	assert.Equal(t, "Add retries to the uploader", PRTitle(bg))

	long := strings.Repeat("x", 100)
	assert.Len(t, PRTitle(long), maxTitle)
	assert.Equal(t, "Automated changes", PRTitle("https://github.com/a/b"))
}

func TestTitleTruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("é", 100)
	title := PRTitle(long)
	assert.True(t, utf8.ValidString(title))
	assert.Equal(t, maxTitle, utf8.RuneCountInString(title))
	assert.True(t, strings.HasSuffix(title, "..."))

	subject := firstLine(CommitMessage(strings.Repeat("修复", 60)))
	assert.True(t, utf8.ValidString(subject))
	assert.LessOrEqual(t, utf8.RuneCountInString(subject), maxTitle)
}

func TestPRBodyAddsFixesOnce(t *testing.T) {
	body := PRBody("Fix it\nIssue Number: 4", "done")
	assert.Equal(t, 1, strings.Count(strings.ToLower(body), "fixes #4"))
	assert.Contains(t, body, "## Agent log\ndone")

	body = PRBody("Fix it", "")
	assert.NotContains(t, body, "Fixes")
	assert.Contains(t, body, "(no output)")
}

func TestOutcomeMessages(t *testing.T) {
	assert.Equal(t, "Solved instance i1 with PR https://github.com/a/b/pull/1", Solved("i1", "https://github.com/a/b/pull/1"))
	assert.Equal(t, "Added comments to PR https://github.com/a/b/pull/1", PRUpdated("https://github.com/a/b/pull/1"))
	assert.Equal(t, "## aider:\nlog\n", PRComment("aider", "log"))
}
