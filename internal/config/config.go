package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"

	"github.com/signalnine/riskarena/internal/catalog"
	"github.com/signalnine/riskarena/internal/scoring"
)

const (
	BackendHardhat = "hardhat"
	BackendLambda  = "lambda"
)

type Config struct {
	LogLevel    string                          `yaml:"log_level"`
	Server      Server                          `yaml:"server"`
	Dispatch    Dispatch                        `yaml:"dispatch"`
	Sandbox     Sandbox                         `yaml:"sandbox"`
	Scoring     Scoring                         `yaml:"scoring"`
	Catalog     []catalog.ExpectedVulnerability `yaml:"catalog"`
	Narrative   Narrative                       `yaml:"narrative"`
	Leaderboard Leaderboard                     `yaml:"leaderboard"`
	Archive     Archive                         `yaml:"archive"`
	Secrets     Secrets                         `yaml:"secrets"`
	Results     Results                         `yaml:"results"`
}

type Server struct {
	Addr string `yaml:"addr"`
	// PublicURL is advertised in the agent card.
	PublicURL string `yaml:"public_url"`
}

type Dispatch struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

type Sandbox struct {
	Backend               string  `yaml:"backend"`
	ProjectDir            string  `yaml:"project_dir"`
	ProjectRepo           string  `yaml:"project_repo"`
	ProjectRef            string  `yaml:"project_ref"`
	Image                 string  `yaml:"image"`
	ScratchDir            string  `yaml:"scratch_dir"`
	StartupTimeoutSeconds int     `yaml:"startup_timeout_seconds"`
	ExecTimeoutSeconds    int     `yaml:"exec_timeout_seconds"`
	ChainID               int64   `yaml:"chain_id"`
	SeedEther             int64   `yaml:"seed_ether"`
	CPULimit              float64 `yaml:"cpu_limit"`
	MemoryLimitMB         int64   `yaml:"memory_limit_mb"`
	Lambda                Lambda  `yaml:"lambda"`
}

type Lambda struct {
	Function string `yaml:"function"`
	Region   string `yaml:"region"`
}

type Scoring struct {
	Weights       scoring.Weights `yaml:"weights"`
	LineTolerance int             `yaml:"line_tolerance"`
}

type Narrative struct {
	Enabled     bool   `yaml:"enabled"`
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	MaxTokens   int    `yaml:"max_tokens"`
	PricingFile string `yaml:"pricing_file"`
}

type Leaderboard struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type Archive struct {
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
	Prefix string `yaml:"prefix"`
}

type Secrets struct {
	EnvFile string `yaml:"env_file"`
}

type Results struct {
	Dir string `yaml:"dir"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadOrDefault behaves like Load but returns Default when path does not
// exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

func Default() *Config {
	var cfg Config
	if err := validate(&cfg); err != nil {
		panic(err)
	}
	return &cfg
}

func validate(cfg *Config) error {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if hclog.LevelFromString(cfg.LogLevel) == hclog.NoLevel {
		return fmt.Errorf("unknown log_level %q", cfg.LogLevel)
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":9009"
	}
	if cfg.Dispatch.TimeoutSeconds < 0 {
		return fmt.Errorf("dispatch.timeout_seconds must not be negative")
	}
	if cfg.Dispatch.TimeoutSeconds == 0 {
		cfg.Dispatch.TimeoutSeconds = 300
	}

	sb := &cfg.Sandbox
	if sb.Backend == "" {
		sb.Backend = BackendHardhat
	}
	switch sb.Backend {
	case BackendHardhat:
		if sb.ProjectDir == "" {
			sb.ProjectDir = "hardhat"
		}
		if sb.ProjectRepo != "" && sb.ProjectRef == "" {
			return fmt.Errorf("sandbox.project_ref is required with sandbox.project_repo")
		}
	case BackendLambda:
		if sb.Lambda.Function == "" {
			sb.Lambda.Function = "defi-exploit-simulator"
		}
		if sb.Lambda.Region == "" {
			sb.Lambda.Region = "us-west-2"
		}
	default:
		return fmt.Errorf("unknown sandbox.backend %q", sb.Backend)
	}
	if sb.Image == "" {
		sb.Image = "node:20-bookworm"
	}
	if sb.StartupTimeoutSeconds <= 0 {
		sb.StartupTimeoutSeconds = 5
	}
	if sb.ExecTimeoutSeconds <= 0 {
		sb.ExecTimeoutSeconds = 60
	}
	if sb.ChainID == 0 {
		sb.ChainID = 31337
	}
	if sb.SeedEther == 0 {
		sb.SeedEther = 10
	}

	if err := cfg.Scoring.Weights.Validate(); err != nil {
		return err
	}
	if cfg.Scoring.Weights.IsZero() {
		cfg.Scoring.Weights = scoring.DefaultWeights
	}
	if cfg.Scoring.LineTolerance <= 0 {
		cfg.Scoring.LineTolerance = catalog.DefaultLineTolerance
	}
	if len(cfg.Catalog) > 0 {
		if _, err := catalog.New(cfg.Catalog); err != nil {
			return err
		}
	}

	n := &cfg.Narrative
	if n.Provider == "" {
		n.Provider = "openai"
	}
	if n.Model == "" {
		n.Model = "gpt-4o-mini"
	}
	if n.APIKeyEnv == "" {
		n.APIKeyEnv = "OPENAI_API_KEY"
	}
	if n.MaxTokens <= 0 {
		n.MaxTokens = 1024
	}

	if cfg.Results.Dir == "" {
		cfg.Results.Dir = "results"
	}
	if cfg.Leaderboard.Dir == "" {
		cfg.Leaderboard.Dir = cfg.Results.Dir + "/leaderboard"
	}
	if cfg.Archive.Bucket != "" && cfg.Archive.Region == "" {
		cfg.Archive.Region = "us-west-2"
	}
	return nil
}

// BuildCatalog returns the configured catalog, or the built-in one when the
// config lists no entries.
func (c *Config) BuildCatalog() (*catalog.Catalog, error) {
	if len(c.Catalog) == 0 {
		return catalog.Default(), nil
	}
	return catalog.New(c.Catalog)
}

func (c *Config) DispatchTimeout() time.Duration {
	return time.Duration(c.Dispatch.TimeoutSeconds) * time.Second
}

func (s Sandbox) StartupTimeout() time.Duration {
	return time.Duration(s.StartupTimeoutSeconds) * time.Second
}

func (s Sandbox) ExecTimeout() time.Duration {
	return time.Duration(s.ExecTimeoutSeconds) * time.Second
}
