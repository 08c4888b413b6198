package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-hclog"

	"github.com/signalnine/riskarena/internal/docker"
	"github.com/signalnine/riskarena/internal/workspace"
)

const (
	DefaultStartupTimeout = 5 * time.Second
	DefaultExecTimeout    = 60 * time.Second
	DefaultImage          = "node:20-bookworm"
	DefaultChainID        = 31337
	outputTail            = 4000
)

// DefaultSeedWei is the balance given to every deployed target (10 ether).
var DefaultSeedWei = new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18))

type HardhatOptions struct {
	// ProjectDir is a Hardhat project with the target contracts and a
	// "sandbox" network reading SANDBOX_RPC_URL.
	ProjectDir     string
	ScratchRoot    string
	Image          string
	Contracts      []string
	ChainID        int64
	SeedWei        *big.Int
	StartupTimeout time.Duration
	ExecTimeout    time.Duration
	CPULimit       float64
	MemoryLimit    int64
	RunID          string
	Logger         hclog.Logger
}

type nodeHandle interface {
	Stop() error
	Logs() string
}

type containerEngine interface {
	Start(ctx context.Context, opts *docker.RunOpts) (nodeHandle, error)
	Run(ctx context.Context, opts *docker.RunOpts) (*docker.RunResult, error)
}

type dockerEngine struct{}

func (dockerEngine) Start(ctx context.Context, opts *docker.RunOpts) (nodeHandle, error) {
	c, err := docker.StartContainer(ctx, opts)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (dockerEngine) Run(ctx context.Context, opts *docker.RunOpts) (*docker.RunResult, error) {
	return docker.RunContainer(ctx, opts)
}

// HardhatSandbox runs a private Hardhat node in a container. One instance
// serves exactly one evaluation run.
type HardhatSandbox struct {
	opts   HardhatOptions
	log    hclog.Logger
	engine containerEngine
	dial   dialFunc
	poll   time.Duration

	mu          sync.Mutex
	initialized bool
	scratch     string
	node        nodeHandle
	client      chainClient
	rpcURL      string
	addresses   map[string]string
}

func NewHardhat(opts HardhatOptions) *HardhatSandbox {
	if opts.Image == "" {
		opts.Image = DefaultImage
	}
	if opts.ChainID == 0 {
		opts.ChainID = DefaultChainID
	}
	if opts.SeedWei == nil {
		opts.SeedWei = DefaultSeedWei
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = DefaultStartupTimeout
	}
	if opts.ExecTimeout <= 0 {
		opts.ExecTimeout = DefaultExecTimeout
	}
	log := opts.Logger
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &HardhatSandbox{
		opts:   opts,
		log:    log.Named("hardhat").With("run_id", opts.RunID),
		engine: dockerEngine{},
		dial:   dialEthereum,
		poll:   250 * time.Millisecond,
	}
}

// HardhatFactory returns a Factory building one HardhatSandbox per run.
func HardhatFactory(opts HardhatOptions) Factory {
	return func(runID string) (Sandbox, error) {
		o := opts
		o.RunID = runID
		return NewHardhat(o), nil
	}
}

func (s *HardhatSandbox) runOpts(cmd []string, timeout time.Duration) *docker.RunOpts {
	ro := &docker.RunOpts{
		Image:       s.opts.Image,
		Command:     cmd,
		WorkDir:     s.scratch,
		Env:         map[string]string{"SANDBOX_RPC_URL": s.rpcURL},
		Timeout:     timeout,
		HostNetwork: true,
		CPULimit:    s.opts.CPULimit,
		MemoryLimit: s.opts.MemoryLimit,
		RunID:       s.opts.RunID,
		Logger:      s.log,
	}
	modules := filepath.Join(s.opts.ProjectDir, "node_modules")
	if info, err := os.Stat(modules); err == nil && info.IsDir() {
		abs, _ := filepath.Abs(modules)
		ro.ExtraMounts = append(ro.ExtraMounts, docker.Mount{
			Source:   abs,
			Target:   "/workspace/node_modules",
			ReadOnly: true,
		})
	}
	return ro
}

func (s *HardhatSandbox) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}

	scratch, err := workspace.Scratch(s.opts.ScratchRoot, s.opts.ProjectDir)
	if err != nil {
		return &StartupError{Stage: "workspace", Err: err}
	}
	s.scratch = scratch

	port, err := FindFreePort()
	if err != nil {
		return &StartupError{Stage: "port", Err: err}
	}
	s.rpcURL = fmt.Sprintf("http://127.0.0.1:%d", port)

	node, err := s.engine.Start(ctx, s.runOpts(
		[]string{"npx", "hardhat", "node", "--hostname", "127.0.0.1", "--port", strconv.Itoa(port)}, 0))
	if err != nil {
		return &StartupError{Stage: "node", Err: err}
	}
	s.node = node
	s.log.Debug("chain node started", "rpc", s.rpcURL)

	client, chainID, err := waitForChain(ctx, s.dial, s.rpcURL, s.opts.StartupTimeout, s.poll)
	if err != nil {
		return &StartupError{Stage: "node", Err: err}
	}
	s.client = client
	if chainID.Cmp(big.NewInt(s.opts.ChainID)) != 0 {
		return &StartupError{Stage: "node", Err: fmt.Errorf("chain id %s, want %d", chainID, s.opts.ChainID)}
	}

	addresses, err := s.deploy(ctx)
	if err != nil {
		return &StartupError{Stage: "deploy", Err: err}
	}
	s.addresses = addresses
	s.initialized = true
	s.log.Info("sandbox ready", "rpc", s.rpcURL, "contracts", len(addresses))
	return nil
}

func (s *HardhatSandbox) deploy(ctx context.Context) (map[string]string, error) {
	script, err := deployScript(s.opts.Contracts, s.opts.SeedWei)
	if err != nil {
		return nil, err
	}
	scriptPath := filepath.Join(s.scratch, deployScriptPath)
	resultPath := filepath.Join(s.scratch, deployResultPath)
	defer os.Remove(scriptPath)
	defer os.Remove(resultPath)

	if err := writeFile(scriptPath, script); err != nil {
		return nil, err
	}
	res, err := s.engine.Run(ctx, s.runOpts(
		[]string{"npx", "hardhat", "run", "--network", networkName, deployScriptPath}, s.opts.ExecTimeout))
	if err != nil {
		return nil, err
	}
	if res.TimedOut {
		return nil, fmt.Errorf("deploy timed out after %s", s.opts.ExecTimeout)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("deploy exited with code %d: %s", res.ExitCode, tail(res.Logs))
	}

	data, err := os.ReadFile(resultPath)
	if err != nil {
		return nil, fmt.Errorf("reading deploy output: %w", err)
	}
	var addresses map[string]string
	if err := json.Unmarshal(data, &addresses); err != nil {
		return nil, fmt.Errorf("parsing deploy output: %w", err)
	}
	for _, c := range s.opts.Contracts {
		if !common.IsHexAddress(addresses[c]) {
			return nil, fmt.Errorf("contract %s missing from deploy output", c)
		}
	}
	return addresses, nil
}

func (s *HardhatSandbox) Address(contract string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr, ok := s.addresses[contract]
	return addr, ok
}

func (s *HardhatSandbox) SimulateExploit(ctx context.Context, p Payload, target string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, &ExecutionError{Err: errors.New("sandbox not initialized")}
	}

	if p.Code == "" {
		return failed("exploit payload has no code"), nil
	}
	if addr, ok := s.addresses[target]; ok {
		target = addr
	}
	if !common.IsHexAddress(target) {
		return failed("unknown exploit target %q", target), nil
	}
	test, err := exploitTest(p, target)
	if err != nil {
		return failed("%v", err), nil
	}

	account := common.HexToAddress(target)
	before, err := s.balance(ctx, account)
	if err != nil {
		return nil, &ExecutionError{Err: fmt.Errorf("reading target balance: %w", err)}
	}

	sourcePath := filepath.Join(s.scratch, exploitSourceDir, p.ContractName+".sol")
	testPath := filepath.Join(s.scratch, exploitTestPath)
	resultPath := filepath.Join(s.scratch, exploitResultPath)
	defer os.Remove(sourcePath)
	defer os.Remove(testPath)
	defer os.Remove(resultPath)

	if err := writeFile(sourcePath, p.Code); err != nil {
		return nil, &ExecutionError{Err: err}
	}
	if err := writeFile(testPath, test); err != nil {
		return nil, &ExecutionError{Err: err}
	}

	res, err := s.engine.Run(ctx, s.runOpts(
		[]string{"npx", "hardhat", "test", "--network", networkName, exploitTestPath}, s.opts.ExecTimeout))
	if err != nil {
		return nil, &ExecutionError{Err: err}
	}
	if res.TimedOut {
		r := failed("exploit timed out after %s", s.opts.ExecTimeout)
		r.Output = tail(res.Logs)
		return r, nil
	}

	result := &Result{Steps: []string{}, Output: tail(res.Logs)}
	data, readErr := os.ReadFile(resultPath)
	var out exploitOutput
	switch {
	case readErr != nil && res.ExitCode != 0:
		result.Error = fmt.Sprintf("exploit exited with code %d", res.ExitCode)
		return result, nil
	case readErr != nil:
		result.Error = "exploit produced no result"
		return result, nil
	case json.Unmarshal(data, &out) != nil:
		result.Error = "malformed exploit output"
		return result, nil
	}
	if out.Steps != nil {
		result.Steps = out.Steps
	}
	result.Success = out.Success && res.ExitCode == 0
	result.Error = out.Error
	if !result.Success {
		if result.Error == "" {
			result.Error = fmt.Sprintf("exploit exited with code %d", res.ExitCode)
		}
		return result, nil
	}

	after, err := s.balance(ctx, account)
	if err != nil {
		return nil, &ExecutionError{Err: fmt.Errorf("reading target balance: %w", err)}
	}
	drained := after.Cmp(before) < 0
	result.Verified = &drained
	if drained {
		profit := new(big.Int).Sub(before, after).String()
		result.Profit = &profit
	}
	s.log.Info("exploit simulated", "target", target, "success", result.Success, "verified", drained)
	return result, nil
}

// balance reads one account balance, bounded by the startup timeout.
func (s *HardhatSandbox) balance(ctx context.Context, account common.Address) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StartupTimeout)
	defer cancel()
	return s.client.BalanceAt(ctx, account, nil)
}

// Cleanup stops the node and removes the scratch project. Errors from each
// step are joined; every step runs regardless.
func (s *HardhatSandbox) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
	if s.node != nil {
		if err := s.node.Stop(); err != nil {
			errs = append(errs, err)
		}
		s.node = nil
	}
	if s.scratch != "" {
		if err := os.RemoveAll(s.scratch); err != nil {
			errs = append(errs, fmt.Errorf("removing scratch dir: %w", err))
		}
		s.scratch = ""
	}
	s.initialized = false
	s.addresses = nil
	return errors.Join(errs...)
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func tail(s string) string {
	if len(s) <= outputTail {
		return s
	}
	return s[len(s)-outputTail:]
}
