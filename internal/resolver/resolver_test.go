package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmarketbot/minimal-provider-agent-market/internal/forge"
	"github.com/agentmarketbot/minimal-provider-agent-market/internal/model"
)

const resolved = 3

type fakeMarket struct {
	inst    model.Instance
	instErr error
	chat    []model.ChatMessage
	chatErr error
	chats   int
}

func (f *fakeMarket) GetInstance(ctx context.Context, id string) (model.Instance, error) {
	return f.inst, f.instErr
}

func (f *fakeMarket) GetChat(ctx context.Context, id string) ([]model.ChatMessage, error) {
	f.chats++
	return f.chat, f.chatErr
}

type fakePRs struct {
	act   forge.Activity
	err   error
	calls []string
}

func (f *fakePRs) PRActivity(ctx context.Context, prURL string) (forge.Activity, error) {
	f.calls = append(f.calls, prURL)
	return f.act, f.err
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func msg(sender, text string, minutes int) model.ChatMessage {
	return model.ChatMessage{Sender: sender, Message: text, Timestamp: model.Timestamp{Time: t0.Add(time.Duration(minutes) * time.Minute)}}
}

func instance(id, bg string) model.Instance {
	return model.Instance{ID: id, Background: bg, Status: resolved}
}

func TestNotResolvedReturnsNil(t *testing.T) {
	m := &fakeMarket{inst: model.Instance{ID: "i0", Background: "https://github.com/acme/widgets", Status: 0}, chat: []model.ChatMessage{msg("requester", "hi", 0)}}
	view, err := New(m, &fakePRs{}, resolved, "bot", nil).Resolve(context.Background(), "i0")
	require.NoError(t, err)
	assert.Nil(t, view)
	assert.Zero(t, m.chats)
}

func TestInstanceFetchErrorAborts(t *testing.T) {
	m := &fakeMarket{instErr: errors.New("502")}
	_, err := New(m, &fakePRs{}, resolved, "bot", nil).Resolve(context.Background(), "i0")
	assert.Error(t, err)
}

func TestNoRepoURL(t *testing.T) {
	m := &fakeMarket{inst: instance("i9", "write me a poem")}
	view, err := New(m, &fakePRs{}, resolved, "bot", nil).Resolve(context.Background(), "i9")
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Empty(t, view.RepoURL)
	assert.Zero(t, m.chats)
}

func TestScenarioAEmptyChat(t *testing.T) {
	m := &fakeMarket{inst: instance("i1", "Fix it https://github.com/acme/widgets")}
	view, err := New(m, &fakePRs{}, resolved, "bot", nil).Resolve(context.Background(), "i1")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/widgets", view.RepoURL)
	assert.Empty(t, view.PRURL)
	assert.Empty(t, view.PRComments)
	assert.Empty(t, view.MessagesWithRequester)
	assert.False(t, view.StartedSolving)
	assert.False(t, view.NeedsAttention())
}

func TestScenarioBProviderSpokeLast(t *testing.T) {
	m := &fakeMarket{
		inst: instance("i2", "https://github.com/acme/widgets"),
		chat: []model.ChatMessage{msg("provider", "working on it", 0)},
	}
	view, err := New(m, &fakePRs{}, resolved, "bot", nil).Resolve(context.Background(), "i2")
	require.NoError(t, err)
	assert.True(t, view.StartedSolving)
	assert.Empty(t, view.MessagesWithRequester)
	assert.True(t, view.NeedsAttention())
}

func TestRequesterLastUsesTimestampOrder(t *testing.T) {
	m := &fakeMarket{
		inst: instance("i3", "https://github.com/acme/widgets"),
		// Delivered out of order: the requester message is the newest.
		chat: []model.ChatMessage{msg("requester", "please add tests", 10), msg("provider", "done", 5)},
	}
	view, err := New(m, &fakePRs{}, resolved, "bot", nil).Resolve(context.Background(), "i3")
	require.NoError(t, err)
	assert.Equal(t, "provider: done\nrequester: please add tests", view.MessagesWithRequester)
	assert.True(t, view.StartedSolving)
}

func TestChatErrorSkipsInstance(t *testing.T) {
	m := &fakeMarket{inst: instance("i4", "https://github.com/acme/widgets"), chatErr: errors.New("503")}
	prs := &fakePRs{}
	view, err := New(m, prs, resolved, "bot", nil).Resolve(context.Background(), "i4")
	require.NoError(t, err)
	assert.Nil(t, view, "unknown engagement state must not reach the solver")
	assert.Empty(t, prs.calls)
}

func prChat() []model.ChatMessage {
	return []model.ChatMessage{
		msg("provider", "Solved instance i5 with PR https://github.com/acme/widgets/pull/3", 0),
		msg("provider", "Solved instance i5 with PR https://github.com/acme/widgets/pull/7", 1),
	}
}

func TestPRFeedbackFromOthers(t *testing.T) {
	prs := &fakePRs{act: forge.Activity{
		IssueComments:  []forge.Comment{{Author: "alice", Body: "nice", CreatedAt: t0.Add(time.Hour)}},
		ReviewComments: []forge.Comment{{Author: "bob", Body: "rename foo", CreatedAt: t0.Add(2 * time.Hour), Path: "a.go", Line: 4}},
		Files:          []forge.FileChange{{Filename: "a.go", Status: "modified", Additions: 1, Deletions: 2}},
		LastCommitAt:   t0,
	}}
	m := &fakeMarket{inst: instance("i5", "https://github.com/acme/widgets"), chat: prChat()}
	view, err := New(m, prs, resolved, "bot", nil).Resolve(context.Background(), "i5")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://github.com/acme/widgets/pull/7"}, prs.calls)
	assert.Equal(t, "https://github.com/acme/widgets/pull/7", view.PRURL)
	assert.Contains(t, view.PRComments, "DIFF\nFile: a.go")
	assert.Contains(t, view.PRComments, "No patch available")
	assert.Contains(t, view.PRComments, "Review comment by bob")
	assert.Contains(t, view.PRComments, "File: a.go, Line: 4\nrename foo")
	assert.False(t, view.NeedsAttention())
}

func TestPRFeedbackSuppressed(t *testing.T) {
	tests := []struct {
		name string
		act  forge.Activity
	}{
		{name: "no comments", act: forge.Activity{}},
		{name: "own comment last", act: forge.Activity{
			IssueComments:  []forge.Comment{{Author: "bot", CreatedAt: t0.Add(3 * time.Hour)}},
			ReviewComments: []forge.Comment{{Author: "bob", CreatedAt: t0.Add(time.Hour)}},
		}},
		{name: "commit after comment", act: forge.Activity{
			IssueComments: []forge.Comment{{Author: "alice", CreatedAt: t0.Add(time.Hour)}},
			LastCommitAt:  t0.Add(2 * time.Hour),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &fakeMarket{inst: instance("i6", "https://github.com/acme/widgets"), chat: prChat()}
			view, err := New(m, &fakePRs{act: tt.act}, resolved, "bot", nil).Resolve(context.Background(), "i6")
			require.NoError(t, err)
			assert.Empty(t, view.PRComments)
			assert.True(t, view.NeedsAttention())
		})
	}
}

func TestBotLoginComparedExactly(t *testing.T) {
	act := forge.Activity{IssueComments: []forge.Comment{{Author: "Bot", Body: "hi", CreatedAt: t0.Add(time.Hour)}}}
	m := &fakeMarket{inst: instance("i7", "https://github.com/acme/widgets"), chat: prChat()}
	view, err := New(m, &fakePRs{act: act}, resolved, "bot", nil).Resolve(context.Background(), "i7")
	require.NoError(t, err)
	assert.NotEmpty(t, view.PRComments)
}

func TestPRErrorDegrades(t *testing.T) {
	m := &fakeMarket{inst: instance("i8", "https://github.com/acme/widgets"), chat: prChat()}
	view, err := New(m, &fakePRs{err: errors.New("403")}, resolved, "bot", nil).Resolve(context.Background(), "i8")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/widgets/pull/7", view.PRURL)
	assert.Empty(t, view.PRComments)
}
