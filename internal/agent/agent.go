package agent

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/agentmarketbot/minimal-provider-agent-market/internal/config"
)

// Kind selects an agent backend.
type Kind string

const (
	KindAider     Kind = config.AgentAider
	KindOpenHands Kind = config.AgentOpenHands
	KindRaAid     Kind = config.AgentRaAid
)

// InstructionsFile is written into the workspace for agents that read their
// task from disk. It never reaches a commit.
const InstructionsFile = ".agent-instructions.md"

// LaunchParams is everything the container executor needs for one run.
type LaunchParams struct {
	Image string
	// NamePrefix is completed with a unique suffix by the executor.
	NamePrefix string
	Entrypoint []string
	Cmd        []string
	Env        map[string]string
	Binds      []string
	User       string
	ExtraHosts []string
	WorkingDir string
	// Scaffold files are written into the workspace before the run.
	Scaffold map[string]string
	// Exclude lists workspace paths removed before committing: scaffold
	// files plus anything the agent leaves behind for itself.
	Exclude []string
}

// EnvList renders Env as sorted KEY=VALUE pairs.
func (p LaunchParams) EnvList() []string {
	out := make([]string, 0, len(p.Env))
	for k, v := range p.Env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Adapter turns a workspace and instructions into launch parameters.
type Adapter interface {
	Name() string
	BuildLaunchParams(workspacePath, instructions string) (LaunchParams, error)
}

// Settings carries the per-agent configuration. It is copied into the
// adapter and never mutated.
type Settings struct {
	Model            string
	OpenAIAPIKey     string
	OpenRouterAPIKey string
	LiteLLMAPIKey    string
	LiteLLMBase      string
	UID              int
	GID              int
	Override         config.AgentOverride
	Now              func() time.Time
}

func New(kind Kind, s Settings) (Adapter, error) {
	if s.Now == nil {
		s.Now = time.Now
	}
	switch kind {
	case KindAider:
		return aider{s: s}, nil
	case KindOpenHands:
		return openHands{s: s}, nil
	case KindRaAid:
		return raAid{s: s}, nil
	default:
		return nil, fmt.Errorf("unknown agent kind %q", kind)
	}
}

// FromConfig builds the adapter selected by cfg.AgentType.
func FromConfig(cfg config.Runtime, overrides map[string]config.AgentOverride) (Adapter, error) {
	return New(Kind(cfg.AgentType), Settings{
		Model:            cfg.FoundationModel,
		OpenAIAPIKey:     cfg.OpenAIAPIKey,
		OpenRouterAPIKey: cfg.OpenRouterAPIKey,
		LiteLLMAPIKey:    cfg.LiteLLMAPIKey,
		LiteLLMBase:      cfg.LiteLLMDockerAPIBase,
		UID:              os.Getuid(),
		GID:              os.Getgid(),
		Override:         overrides[cfg.AgentType],
	})
}

func (s Settings) user() string {
	return fmt.Sprintf("%d:%d", s.UID, s.GID)
}

func (s Settings) image(fallback string) string {
	if s.Override.Image != "" {
		return s.Override.Image
	}
	return fallback
}

// apply layers the override env and extra args on top of p.
func (s Settings) apply(p LaunchParams) LaunchParams {
	for k, v := range s.Override.Env {
		p.Env[k] = v
	}
	p.Cmd = append(p.Cmd, s.Override.ExtraArgs...)
	return p
}

func requireWorkspace(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("workspace path is empty")
	}
	return nil
}

func putIf(env map[string]string, key, val string) {
	if val != "" {
		env[key] = val
	}
}
