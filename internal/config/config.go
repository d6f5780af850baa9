package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Journal backends.
const (
	JournalFile  = "file"
	JournalMongo = "mongo"
)

// Agent types accepted in AGENT_TYPE.
const (
	AgentAider     = "aider"
	AgentOpenHands = "open-hands"
	AgentRaAid     = "raaid"
)

// Runtime is built once at start and handed to every component constructor.
type Runtime struct {
	MarketURL    string
	MarketAPIKey string

	OpenInstanceCode     int
	ResolvedInstanceCode int
	AwardedProposalCode  int
	MaxBid               float64
	AwardedWindow        time.Duration

	GitHubToken    string
	GitHubUsername string
	GitHubEmail    string
	// BotLogin is the GitHub login whose PR comments count as our own.
	BotLogin string

	AgentType            string
	FoundationModel      string
	OpenAIAPIKey         string
	OpenRouterAPIKey     string
	LiteLLMAPIKey        string
	LiteLLMDockerAPIBase string
	AgentsFile           string

	ScanInterval     time.Duration
	SolveInterval    time.Duration
	ExecutionTimeout time.Duration
	HTTPTimeout      time.Duration

	WorkDir         string
	JournalBackend  string
	MongoURI        string
	MongoDB         string
	MongoCollection string

	LogLevel slog.Level
}

// AgentOverride customises one agent type from the agents file.
type AgentOverride struct {
	Image        string            `yaml:"image"`
	RuntimeImage string            `yaml:"runtime_image,omitempty"`
	Env          map[string]string `yaml:"env,omitempty"`
	ExtraArgs    []string          `yaml:"extra_args,omitempty"`
}

type agentsFile struct {
	Agents map[string]AgentOverride `yaml:"agents"`
}

// LoadRuntime reads the environment after applying any .env files. Missing
// .env files are ignored.
func LoadRuntime(envFiles ...string) (Runtime, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Runtime{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := Runtime{
		MarketURL:            strings.TrimRight(getenvDefault("MARKET_URL", "https://api.agent.market"), "/"),
		MarketAPIKey:         os.Getenv("MARKET_API_KEY"),
		OpenInstanceCode:     readIntEnv("MARKET_OPEN_INSTANCE_CODE", 0),
		ResolvedInstanceCode: readIntEnv("MARKET_RESOLVED_INSTANCE_CODE", 3),
		AwardedProposalCode:  readIntEnv("MARKET_AWARDED_PROPOSAL_CODE", 1),
		MaxBid:               readFloatEnv("MAX_BID", 0.01),
		AwardedWindow:        time.Duration(readIntEnv("MARKET_AWARDED_WINDOW_HOURS", 24)) * time.Hour,
		GitHubToken:          os.Getenv("GITHUB_PAT"),
		GitHubUsername:       os.Getenv("GITHUB_USERNAME"),
		GitHubEmail:          os.Getenv("GITHUB_EMAIL"),
		BotLogin:             os.Getenv("GITHUB_BOT_LOGIN"),
		AgentType:            strings.ToLower(strings.TrimSpace(os.Getenv("AGENT_TYPE"))),
		FoundationModel:      os.Getenv("FOUNDATION_MODEL_NAME"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		OpenRouterAPIKey:     os.Getenv("OPENROUTER_API_KEY"),
		LiteLLMAPIKey:        getenvDefault("LITELLM_API_KEY", "dummy"),
		LiteLLMDockerAPIBase: os.Getenv("LITELLM_DOCKER_INTERNAL_API_BASE"),
		AgentsFile:           os.Getenv("AGENTS_FILE"),
		ScanInterval:         time.Duration(readIntEnv("RUNNER_SCAN_INTERVAL_SEC", 10)) * time.Second,
		SolveInterval:        time.Duration(readIntEnv("RUNNER_SOLVE_INTERVAL_SEC", 30)) * time.Second,
		ExecutionTimeout:     time.Duration(readIntEnv("RUNNER_EXEC_TIMEOUT_MIN", 30)) * time.Minute,
		HTTPTimeout:          time.Duration(readIntEnv("RUNNER_HTTP_TIMEOUT_SEC", 10)) * time.Second,
		WorkDir:              getenvDefault("RUNNER_WORK_DIR", "./runner-data"),
		JournalBackend:       strings.ToLower(getenvDefault("JOURNAL_BACKEND", JournalFile)),
		MongoURI:             getenvDefault("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:              getenvDefault("MONGO_DB", "provider_agent"),
		MongoCollection:      getenvDefault("MONGO_COLLECTION_ATTEMPTS", "attempts"),
		LogLevel:             parseLevel(os.Getenv("LOG_LEVEL")),
	}
	if cfg.BotLogin == "" {
		cfg.BotLogin = cfg.GitHubUsername
	}
	if err := cfg.Validate(); err != nil {
		return Runtime{}, err
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return Runtime{}, fmt.Errorf("create workdir: %w", err)
	}
	if absWD, err := filepath.Abs(cfg.WorkDir); err == nil {
		cfg.WorkDir = absWD
	}
	return cfg, nil
}

// Validate checks required settings and the per-agent requirements.
func (c Runtime) Validate() error {
	var missing []string
	for key, val := range map[string]string{
		"MARKET_API_KEY":  c.MarketAPIKey,
		"GITHUB_PAT":      c.GitHubToken,
		"GITHUB_USERNAME": c.GitHubUsername,
		"GITHUB_EMAIL":    c.GitHubEmail,
		"AGENT_TYPE":      c.AgentType,
	} {
		if strings.TrimSpace(val) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	switch c.AgentType {
	case AgentAider, AgentOpenHands:
		if c.FoundationModel == "" {
			return fmt.Errorf("FOUNDATION_MODEL_NAME is required when AGENT_TYPE is %s", c.AgentType)
		}
	case AgentRaAid:
		if c.LiteLLMDockerAPIBase == "" {
			return errors.New("LITELLM_DOCKER_INTERNAL_API_BASE is required when AGENT_TYPE is raaid")
		}
	default:
		return fmt.Errorf("unknown AGENT_TYPE %q", c.AgentType)
	}
	switch c.JournalBackend {
	case JournalFile, JournalMongo:
	default:
		return fmt.Errorf("unknown JOURNAL_BACKEND %q", c.JournalBackend)
	}
	if c.ExecutionTimeout <= 0 {
		return errors.New("RUNNER_EXEC_TIMEOUT_MIN must be positive")
	}
	return nil
}

// String keeps secrets out of logs.
func (c Runtime) String() string {
	return fmt.Sprintf("Runtime(market=%s agent=%s model=%s bot=%s journal=%s)",
		c.MarketURL, c.AgentType, c.FoundationModel, c.BotLogin, c.JournalBackend)
}

// LoadAgentOverrides reads the optional agents YAML file. An empty path
// yields no overrides.
func LoadAgentOverrides(path string) (map[string]AgentOverride, error) {
	if strings.TrimSpace(path) == "" {
		return map[string]AgentOverride{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	var parsed agentsFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	out := make(map[string]AgentOverride, len(parsed.Agents))
	for name, o := range parsed.Agents {
		out[strings.ToLower(strings.TrimSpace(name))] = o
	}
	return out, nil
}

func parseLevel(v string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func readIntEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func readFloatEnv(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}
