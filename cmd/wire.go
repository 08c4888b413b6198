package cmd

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	"github.com/signalnine/riskarena/internal/archive"
	"github.com/signalnine/riskarena/internal/config"
	"github.com/signalnine/riskarena/internal/dispatch"
	"github.com/signalnine/riskarena/internal/evaluation"
	"github.com/signalnine/riskarena/internal/events"
	"github.com/signalnine/riskarena/internal/leaderboard"
	"github.com/signalnine/riskarena/internal/narrative"
	"github.com/signalnine/riskarena/internal/pricing"
	"github.com/signalnine/riskarena/internal/sandbox"
	"github.com/signalnine/riskarena/internal/scoring"
	"github.com/signalnine/riskarena/internal/workspace"
)

var weiPerEther = big.NewInt(1e18)

// harness is an orchestrator plus the resources that must be released with
// it.
type harness struct {
	Orchestrator *evaluation.Orchestrator
	Leaderboard  *leaderboard.Store
}

func (h *harness) Close() {
	if h.Leaderboard != nil {
		h.Leaderboard.Close()
	}
}

// buildHarness wires every collaborator named in cfg. runDir receives
// per-evaluation records.
func buildHarness(cfg *config.Config, log hclog.Logger, runDir string) (*harness, error) {
	cat, err := cfg.BuildCatalog()
	if err != nil {
		return nil, err
	}
	factory, err := sandboxFactory(cfg, cat.Contracts(), log)
	if err != nil {
		return nil, err
	}

	o := &evaluation.Orchestrator{
		Catalog:    cat,
		Dispatcher: dispatch.NewHTTP(log, cfg.DispatchTimeout()),
		Sandboxes:  factory,
		Observers:  []events.Observer{events.LogObserver{Logger: log.Named("events")}},
		Scoring: scoring.Options{
			Weights:       cfg.Scoring.Weights,
			LineTolerance: cfg.Scoring.LineTolerance,
		},
		DispatchTimeout: cfg.DispatchTimeout(),
		RunDir:          runDir,
		Logger:          log.Named("evaluation"),
	}
	h := &harness{Orchestrator: o}

	if cfg.Narrative.Enabled {
		table := pricing.Default()
		if cfg.Narrative.PricingFile != "" {
			if table, err = pricing.Load(cfg.Narrative.PricingFile); err != nil {
				return nil, err
			}
		}
		analyzer, err := narrative.New(narrative.Options{
			Provider:  cfg.Narrative.Provider,
			Model:     cfg.Narrative.Model,
			BaseURL:   cfg.Narrative.BaseURL,
			APIKeyEnv: cfg.Narrative.APIKeyEnv,
			MaxTokens: cfg.Narrative.MaxTokens,
			Pricing:   table,
			Logger:    log,
		})
		if err != nil {
			log.Warn("narrative analysis disabled", "error", err)
		} else {
			o.Analyzer = analyzer
		}
	}

	if cfg.Leaderboard.Enabled {
		store, err := leaderboard.Open(leaderboard.Options{Dir: cfg.Leaderboard.Dir, Logger: log})
		if err != nil {
			return nil, fmt.Errorf("opening leaderboard: %w", err)
		}
		h.Leaderboard = store
		o.Sink = store
	}

	if cfg.Archive.Bucket != "" {
		arch, err := archive.NewS3(cfg.Archive.Bucket, cfg.Archive.Region, cfg.Archive.Prefix)
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("creating archive: %w", err)
		}
		o.Archiver = arch
	}
	return h, nil
}

func sandboxFactory(cfg *config.Config, contracts []string, log hclog.Logger) (sandbox.Factory, error) {
	sb := cfg.Sandbox
	if sb.Backend == config.BackendLambda {
		return sandbox.LambdaFactory(sandbox.LambdaOptions{
			FunctionName: sb.Lambda.Function,
			Region:       sb.Lambda.Region,
			Logger:       log,
		}), nil
	}

	project, err := hardhatProject(cfg, log)
	if err != nil {
		return nil, err
	}
	return sandbox.HardhatFactory(sandbox.HardhatOptions{
		ProjectDir:     project,
		ScratchRoot:    sb.ScratchDir,
		Image:          sb.Image,
		Contracts:      contracts,
		ChainID:        sb.ChainID,
		SeedWei:        new(big.Int).Mul(big.NewInt(sb.SeedEther), weiPerEther),
		StartupTimeout: sb.StartupTimeout(),
		ExecTimeout:    sb.ExecTimeout(),
		CPULimit:       sb.CPULimit,
		MemoryLimit:    sb.MemoryLimitMB * 1024 * 1024,
		Logger:         log,
	}), nil
}

// hardhatProject returns the project directory, cloning project_repo at
// project_ref into the results dir once when configured.
func hardhatProject(cfg *config.Config, log hclog.Logger) (string, error) {
	sb := cfg.Sandbox
	if sb.ProjectRepo == "" {
		return filepath.Abs(sb.ProjectDir)
	}
	dest, err := filepath.Abs(filepath.Join(cfg.Results.Dir, "projects", filepath.Base(sb.ProjectRepo)+"@"+sb.ProjectRef))
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}
	log.Info("cloning hardhat project", "repo", sb.ProjectRepo, "ref", sb.ProjectRef)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}
	if err := workspace.CloneAndCheckout(sb.ProjectRepo, sb.ProjectRef, dest); err != nil {
		return "", fmt.Errorf("cloning hardhat project: %w", err)
	}
	return dest, nil
}
