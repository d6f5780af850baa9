package prompt

import (
	"strings"
	"testing"
	"text/template"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bg = "Fix the flaky test.\nRepository URL: https://github.com/acme/widgets\nIssue Number: 7"

func TestComposePrecedence(t *testing.T) {
	tests := []struct {
		name       string
		pr, chat   string
		wantPR     bool
		wantChat   bool
		wantString []string
	}{
		{name: "pr and chat", pr: "DIFF x COMMENTS please rename", chat: "requester: also add docs", wantPR: true, wantChat: true, wantString: []string{"please rename", "also add docs"}},
		{name: "pr only", pr: "DIFF x COMMENTS please rename", wantPR: true, wantString: []string{"please rename"}},
		{name: "chat only", chat: "requester: also add docs", wantChat: true, wantString: []string{"also add docs"}},
		{name: "background only", wantString: []string{"Fix the flaky test."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Compose(bg, tt.pr, tt.chat)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPR, strings.Contains(out, PullRequestMarker))
			assert.Equal(t, tt.wantChat, strings.Contains(out, ConversationMarker))
			for _, s := range tt.wantString {
				assert.Contains(t, out, s)
			}
			assert.Contains(t, out, "Fix the flaky test.")
			assert.Contains(t, out, NoCommitRequirement)
		})
	}
}

func TestComposeStripsURLs(t *testing.T) {
	out, err := Compose(bg, "see https://github.com/acme/widgets/pull/3", "requester: look at http://example.com/x")
	require.NoError(t, err)
	assert.NotContains(t, out, "http")
	assert.NotContains(t, out, "Repository URL:")
}

func TestCustomTemplates(t *testing.T) {
	tpls := DefaultTemplates()
	tpls.Background = template.Must(template.New("bg").Parse("DO: {{.Background}}"))
	out, err := tpls.Compose("task", "", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "DO: task"))
	assert.Contains(t, out, NoCommitRequirement)
}
