package prompt

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/agentmarketbot/minimal-provider-agent-market/internal/parser"
)

// Section markers. A marker appears in the instructions only when its
// source is present.
const (
	PullRequestMarker  = "PULL REQUEST DETAILS"
	ConversationMarker = "CONVERSATION WITH THE USER"
)

// NoCommitRequirement is appended to every instruction. Committing and
// pushing belong to the runner.
const NoCommitRequirement = "=== SYSTEM REQUIREMENTS ===\n" +
	"DO NOT COMMIT OR PUSH ANY CHANGES. LEAVE ALL EDITS IN THE WORKING TREE. " +
	"ALWAYS STAY IN THE SAME REPOSITORY BRANCH."

type input struct {
	Background string
	PRComments string
	Messages   string
}

// Templates holds one template per input combination. Fields are rendered
// with .Background, .PRComments and .Messages.
type Templates struct {
	PRAndChat  *template.Template
	PR         *template.Template
	Chat       *template.Template
	Background *template.Template
}

const prAndChatText = `=== SYSTEM INSTRUCTIONS ===
You are an AI assistant that implements code changes from feedback given on a pull request and in a chat. Address the LAST comment on the pull request together with the latest requests from the user.
=== CONTEXT ===
ISSUE DESCRIPTION
{{.Background}}
` + PullRequestMarker + `
{{.PRComments}}
` + ConversationMarker + `
{{.Messages}}
=== REQUIRED ACTIONS ===
1. Review the issue description to understand the context
2. Analyze the pull request diff and comments
3. Analyze the messages from the user
4. Implement the changes requested in the last pull request comment and in the chat
5. Keep code quality consistent with the project's standards`

const prText = `=== SYSTEM INSTRUCTIONS ===
You are an AI assistant that implements code changes. Address the LAST comment on the pull request and focus only on the changes it requests.
=== CONTEXT ===
ISSUE DESCRIPTION
{{.Background}}
` + PullRequestMarker + `
{{.PRComments}}
=== REQUIRED ACTIONS ===
1. Review the issue description to understand the context
2. Analyze the pull request diff and comments
3. Implement the changes requested in the last pull request comment
4. Keep code quality consistent with the project's standards`

const chatText = `=== SYSTEM INSTRUCTIONS ===
You are an AI assistant that implements code changes. Address the requests the user made in the chat and focus only on those.
=== CONTEXT ===
ISSUE DESCRIPTION
{{.Background}}
` + ConversationMarker + `
{{.Messages}}
=== REQUIRED ACTIONS ===
1. Review the issue description to understand the context
2. Analyze the messages from the user
3. Implement the changes the user asked for
4. Keep code quality consistent with the project's standards`

const backgroundText = `=== SYSTEM INSTRUCTIONS ===
You are an AI assistant that implements code changes. Solve the issue described below.
=== CONTEXT ===
ISSUE DESCRIPTION
{{.Background}}
=== REQUIRED ACTIONS ===
1. Review the issue description to understand the context
2. Implement the code changes that solve the issue
3. Keep code quality consistent with the project's standards`

// DefaultTemplates returns the built-in instruction templates.
func DefaultTemplates() Templates {
	return Templates{
		PRAndChat:  template.Must(template.New("pr_chat").Parse(prAndChatText)),
		PR:         template.Must(template.New("pr").Parse(prText)),
		Chat:       template.Must(template.New("chat").Parse(chatText)),
		Background: template.Must(template.New("background").Parse(backgroundText)),
	}
}

var defaults = DefaultTemplates()

// Compose renders instructions with the default templates.
func Compose(background, prComments, messages string) (string, error) {
	return defaults.Compose(background, prComments, messages)
}

// Compose picks the template by precedence: PR feedback with chat, PR
// feedback alone, chat alone, then the background alone. Every URL is
// removed from the result.
func (t Templates) Compose(background, prComments, messages string) (string, error) {
	in := input{
		Background: strings.TrimSpace(background),
		PRComments: strings.TrimSpace(prComments),
		Messages:   strings.TrimSpace(messages),
	}
	tpl := t.Background
	switch {
	case in.PRComments != "" && in.Messages != "":
		tpl = t.PRAndChat
	case in.PRComments != "":
		tpl = t.PR
	case in.Messages != "":
		tpl = t.Chat
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, in); err != nil {
		return "", err
	}
	buf.WriteString("\n\n")
	buf.WriteString(NoCommitRequirement)
	return parser.StripURLs(buf.String()), nil
}
