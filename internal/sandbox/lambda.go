package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/lambda"
	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-hclog"
)

const DefaultLambdaFunction = "defi-exploit-simulator"

type LambdaOptions struct {
	FunctionName string
	Region       string
	Network      string
	RunID        string
	Logger       hclog.Logger
}

type invoker interface {
	InvokeWithContext(ctx aws.Context, input *lambda.InvokeInput, opts ...request.Option) (*lambda.InvokeOutput, error)
}

// LambdaSimulator delegates exploit simulation to a remote function. The
// remote side owns its own chain, so Address never resolves locally and
// targets are passed through as given.
type LambdaSimulator struct {
	opts LambdaOptions
	log  hclog.Logger

	mu     sync.Mutex
	client invoker
}

func NewLambda(opts LambdaOptions) *LambdaSimulator {
	if opts.FunctionName == "" {
		opts.FunctionName = DefaultLambdaFunction
	}
	if opts.Network == "" {
		opts.Network = "hardhat"
	}
	log := opts.Logger
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &LambdaSimulator{opts: opts, log: log.Named("lambda").With("run_id", opts.RunID)}
}

func LambdaFactory(opts LambdaOptions) Factory {
	return func(runID string) (Sandbox, error) {
		o := opts
		o.RunID = runID
		return NewLambda(o), nil
	}
}

func (l *LambdaSimulator) Initialize(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client != nil {
		return nil
	}
	cfg := &aws.Config{}
	if l.opts.Region != "" {
		cfg.Region = aws.String(l.opts.Region)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return &StartupError{Stage: "aws session", Err: err}
	}
	l.client = lambda.New(sess)
	return nil
}

type lambdaRequest struct {
	Action          string `json:"action"`
	Network         string `json:"network"`
	ExploitCode     string `json:"exploit_code"`
	ContractName    string `json:"contract_name"`
	EntryPoint      string `json:"entry_point"`
	ContractAddress string `json:"contract_address,omitempty"`
	TargetContract  string `json:"target_contract,omitempty"`
	RunID           string `json:"run_id,omitempty"`
}

func (l *LambdaSimulator) SimulateExploit(ctx context.Context, p Payload, target string) (*Result, error) {
	l.mu.Lock()
	client := l.client
	l.mu.Unlock()
	if client == nil {
		return nil, &ExecutionError{Err: fmt.Errorf("lambda simulator not initialized")}
	}
	if p.Code == "" {
		return failed("exploit payload has no code"), nil
	}

	req := lambdaRequest{
		Action:       "simulate_exploit",
		Network:      l.opts.Network,
		ExploitCode:  p.Code,
		ContractName: p.ContractName,
		EntryPoint:   p.EntryPoint,
		RunID:        l.opts.RunID,
	}
	// Contract names are resolved by the remote side.
	if common.IsHexAddress(target) {
		req.ContractAddress = target
	} else {
		req.TargetContract = target
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &ExecutionError{Err: err}
	}

	out, err := client.InvokeWithContext(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(l.opts.FunctionName),
		InvocationType: aws.String(lambda.InvocationTypeRequestResponse),
		Payload:        body,
	})
	if err != nil {
		l.log.Warn("lambda invocation failed", "function", l.opts.FunctionName, "error", err)
		return failed("remote simulation failed: %v", err), nil
	}
	if out.FunctionError != nil {
		return &Result{
			Steps:  []string{},
			Error:  fmt.Sprintf("remote simulation error (%s)", aws.StringValue(out.FunctionError)),
			Output: tail(string(out.Payload)),
		}, nil
	}

	var res Result
	if err := json.Unmarshal(out.Payload, &res); err != nil {
		return failed("malformed remote simulation output: %v", err), nil
	}
	if res.Steps == nil {
		res.Steps = []string{}
	}
	return &res, nil
}

func (l *LambdaSimulator) Address(string) (string, bool) {
	return "", false
}

func (l *LambdaSimulator) Cleanup() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.client = nil
	return nil
}
