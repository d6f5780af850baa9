package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmarketbot/minimal-provider-agent-market/internal/config"
)

func fixedNow() time.Time { return time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC) }

func baseSettings() Settings {
	return Settings{
		Model:         "gpt-4o",
		OpenAIAPIKey:  "sk-test",
		LiteLLMAPIKey: "dummy",
		LiteLLMBase:   "http://host.docker.internal:4000",
		UID:           1000,
		GID:           1001,
		Now:           fixedNow,
	}
}

func TestNewUnknownKind(t *testing.T) {
	_, err := New("cursor", baseSettings())
	assert.Error(t, err)
}

func TestAiderParams(t *testing.T) {
	a, err := New(KindAider, baseSettings())
	require.NoError(t, err)
	assert.Equal(t, "aider", a.Name())

	p, err := a.BuildLaunchParams("/tmp/ws", "fix the bug")
	require.NoError(t, err)
	assert.Equal(t, "paulgauthier/aider", p.Image)
	assert.Equal(t, []string{"/tmp/ws:/app"}, p.Binds)
	assert.Equal(t, "1000:1001", p.User)
	assert.Equal(t, "fix the bug", p.Scaffold[InstructionsFile])
	assert.Contains(t, p.Exclude, InstructionsFile)
	assert.Contains(t, p.Cmd, "--no-auto-commits")
	assert.Contains(t, p.Cmd, "/app/"+InstructionsFile)
	assert.NotContains(t, p.Cmd, "fix the bug")
	assert.Equal(t, "sk-test", p.Env["OPENAI_API_KEY"])
	_, hasRouter := p.Env["OPENROUTER_API_KEY"]
	assert.False(t, hasRouter)
}

func TestOpenHandsParams(t *testing.T) {
	a, err := New(KindOpenHands, baseSettings())
	require.NoError(t, err)
	p, err := a.BuildLaunchParams("/tmp/ws", "do it")
	require.NoError(t, err)
	assert.Equal(t, "docker.all-hands.dev/all-hands-ai/openhands:0.15", p.Image)
	assert.Equal(t, "openhands-app-20240304050607", p.NamePrefix)
	assert.Equal(t, []string{"python", "-m", "openhands.core.main"}, p.Entrypoint)
	assert.Equal(t, []string{"-t", "do it", "--no-auto-continue"}, p.Cmd)
	assert.Contains(t, p.Binds, "/var/run/docker.sock:/var/run/docker.sock")
	assert.Contains(t, p.Binds, "/tmp/ws:/opt/workspace_base")
	assert.Equal(t, []string{"host.docker.internal:host-gateway"}, p.ExtraHosts)
	assert.Equal(t, "1000", p.Env["SANDBOX_USER_ID"])
	assert.Equal(t, "/tmp/ws", p.Env["WORKSPACE_MOUNT_PATH"])
	assert.Empty(t, p.Scaffold)
}

func TestRaAidParams(t *testing.T) {
	a, err := New(KindRaAid, baseSettings())
	require.NoError(t, err)
	p, err := a.BuildLaunchParams("/tmp/ws", "do it")
	require.NoError(t, err)
	assert.Equal(t, "http://host.docker.internal:4000", p.Env["OPENAI_API_BASE"])
	assert.Equal(t, []string{"-m", "do it"}, p.Cmd[len(p.Cmd)-2:])

	s := baseSettings()
	s.LiteLLMBase = ""
	a, err = New(KindRaAid, s)
	require.NoError(t, err)
	_, err = a.BuildLaunchParams("/tmp/ws", "do it")
	assert.Error(t, err)
}

func TestOverridesApply(t *testing.T) {
	s := baseSettings()
	s.Override = config.AgentOverride{
		Image:        "registry.local/aider:pinned",
		RuntimeImage: "registry.local/runtime:1",
		Env:          map[string]string{"AIDER_DARK_MODE": "true"},
		ExtraArgs:    []string{"--map-tokens", "0"},
	}
	a, err := New(KindAider, s)
	require.NoError(t, err)
	p, err := a.BuildLaunchParams("/tmp/ws", "x")
	require.NoError(t, err)
	assert.Equal(t, "registry.local/aider:pinned", p.Image)
	assert.Equal(t, "true", p.Env["AIDER_DARK_MODE"])
	assert.Equal(t, []string{"--map-tokens", "0"}, p.Cmd[len(p.Cmd)-2:])

	o, err := New(KindOpenHands, s)
	require.NoError(t, err)
	p, err = o.BuildLaunchParams("/tmp/ws", "x")
	require.NoError(t, err)
	assert.Equal(t, "registry.local/runtime:1", p.Env["SANDBOX_RUNTIME_CONTAINER_IMAGE"])
}

func TestEmptyWorkspaceRejected(t *testing.T) {
	for _, k := range []Kind{KindAider, KindOpenHands, KindRaAid} {
		a, err := New(k, baseSettings())
		require.NoError(t, err)
		_, err = a.BuildLaunchParams(" ", "x")
		assert.Error(t, err, string(k))
	}
}

func TestEnvListSorted(t *testing.T) {
	p := LaunchParams{Env: map[string]string{"B": "2", "A": "1"}}
	assert.Equal(t, []string{"A=1", "B=2"}, p.EnvList())
}

func TestFromConfig(t *testing.T) {
	cfg := config.Runtime{AgentType: config.AgentOpenHands, FoundationModel: "openai/gpt-4o"}
	a, err := FromConfig(cfg, map[string]config.AgentOverride{"open-hands": {Image: "custom"}})
	require.NoError(t, err)
	p, err := a.BuildLaunchParams("/w", "x")
	require.NoError(t, err)
	assert.Equal(t, "custom", p.Image)
	assert.Equal(t, "openai/gpt-4o", p.Env["LLM_MODEL"])
}
