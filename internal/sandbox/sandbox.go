// Package sandbox runs submitted exploit code against a disposable local
// chain and reports whether it reproduced.
package sandbox

import (
	"context"
	"fmt"
)

// Result is the outcome of one exploit simulation. A failed exploit is a
// Result with Success=false, not an error.
type Result struct {
	Success  bool     `json:"success"`
	Steps    []string `json:"steps"`
	Verified *bool    `json:"verified,omitempty"`
	Profit   *string  `json:"profit,omitempty"`
	Error    string   `json:"error,omitempty"`
	Output   string   `json:"output,omitempty"`
}

func (r *Result) IsVerified() bool {
	return r != nil && r.Verified != nil && *r.Verified
}

func failed(format string, args ...any) *Result {
	return &Result{Steps: []string{}, Error: fmt.Sprintf(format, args...)}
}

// Payload is the exploit submitted by the agent.
type Payload struct {
	Code            string
	ContractName    string
	EntryPoint      string
	ContractAddress string
	TargetContract  string
}

const (
	DefaultContractName = "ExploitContract"
	DefaultEntryPoint   = "executeExploit"
)

// PayloadFromMap reads the loosely typed exploit_simulation mapping.
func PayloadFromMap(m map[string]any) Payload {
	p := Payload{
		Code:            stringField(m, "code"),
		ContractName:    stringField(m, "contract_name"),
		EntryPoint:      stringField(m, "entry_point"),
		ContractAddress: stringField(m, "contract_address"),
		TargetContract:  stringField(m, "target_contract"),
	}
	if p.ContractName == "" {
		p.ContractName = DefaultContractName
	}
	if p.EntryPoint == "" {
		p.EntryPoint = DefaultEntryPoint
	}
	return p
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// Sandbox is one isolated chain instance owned by a single evaluation run.
type Sandbox interface {
	// Initialize starts the chain and deploys the target contracts.
	// Calling it again after success is a no-op.
	Initialize(ctx context.Context) error
	// SimulateExploit runs the payload against target. Exploit failures are
	// reported in the Result; only infrastructure problems return an error.
	SimulateExploit(ctx context.Context, payload Payload, target string) (*Result, error)
	// Address returns the deployed address of a contract, if known.
	Address(contract string) (string, bool)
	// Cleanup releases everything Initialize acquired. It is idempotent.
	Cleanup() error
}

// Factory creates a fresh sandbox per run.
type Factory func(runID string) (Sandbox, error)

// StartupError means the chain or the deployment never became usable.
type StartupError struct {
	Stage string
	Err   error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("sandbox startup failed (%s): %v", e.Stage, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// ExecutionError means the chain became unusable while an exploit ran.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("sandbox execution failed: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
