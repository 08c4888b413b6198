package evaluation_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/riskarena/internal/catalog"
	"github.com/signalnine/riskarena/internal/dispatch"
	"github.com/signalnine/riskarena/internal/evaluation"
	"github.com/signalnine/riskarena/internal/events"
	"github.com/signalnine/riskarena/internal/leaderboard"
	"github.com/signalnine/riskarena/internal/result"
	"github.com/signalnine/riskarena/internal/sandbox"
)

const auditorURL = "http://auditor.test/a2a"

type fakeDispatcher struct {
	mu       sync.Mutex
	response string
	err      error
	panics   bool
	calls    int
	endpoint string
	task     dispatch.Task
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, endpoint string, task dispatch.Task) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.endpoint = endpoint
	d.task = task
	if d.panics {
		panic("auditor client exploded")
	}
	if d.err != nil {
		return nil, d.err
	}
	return []byte(d.response), nil
}

type fakeSandbox struct {
	initErr   error
	simErr    error
	result    *sandbox.Result
	addresses map[string]string

	initCalls int
	cleanups  int
	target    string
	payload   sandbox.Payload
}

func (s *fakeSandbox) Initialize(ctx context.Context) error {
	s.initCalls++
	return s.initErr
}

func (s *fakeSandbox) SimulateExploit(ctx context.Context, p sandbox.Payload, target string) (*sandbox.Result, error) {
	s.payload = p
	s.target = target
	if s.simErr != nil {
		return nil, s.simErr
	}
	return s.result, nil
}

func (s *fakeSandbox) Address(contract string) (string, bool) {
	addr, ok := s.addresses[contract]
	return addr, ok
}

func (s *fakeSandbox) Cleanup() error {
	s.cleanups++
	return nil
}

type fakeSink struct {
	entries []leaderboard.Entry
}

func (s *fakeSink) Record(ctx context.Context, e leaderboard.Entry) error {
	s.entries = append(s.entries, e)
	return nil
}

type failingSink struct{}

func (failingSink) Record(ctx context.Context, e leaderboard.Entry) error {
	return errors.New("disk full")
}

type panickingSink struct{}

func (panickingSink) Record(context.Context, leaderboard.Entry) error {
	panic("sink exploded")
}

type countingArchiver struct{ calls int }

func (a *countingArchiver) Archive(context.Context, *result.Artifact) (string, error) {
	a.calls++
	return "s3://bucket/key", nil
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Observe(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) states() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.To)
	}
	return out
}

const plainSubmission = `{
  "agent_id": "purple-1",
  "findings": [
    {"contract": "ReentrancyVault", "vulnerability_type": "reentrancy", "severity": 0.9,
     "line_number": 15, "description": "external call before state update"}
  ],
  "fixes": [
    {"line_number": 15, "original_code": "msg.sender.call{value: amount}(\"\");",
     "fixed_code": "balances[msg.sender] = 0;", "explanation": "checks-effects-interactions"}
  ],
  "metadata": {}
}`

const exploitSubmission = `{
  "agent_id": "purple-1",
  "findings": [
    {"contract": "ReentrancyVault", "vulnerability_type": "reentrancy", "severity": 0.9,
     "line_number": 15, "description": "external call before state update"}
  ],
  "fixes": [
    {"line_number": 15, "original_code": "a", "fixed_code": "b", "explanation": "c"}
  ],
  "exploit_simulation": {"code": "contract ExploitContract {}", "target_contract": "ReentrancyVault"},
  "metadata": {}
}`

func validRequest() *evaluation.Request {
	return &evaluation.Request{
		Participants: map[string]string{"auditor": auditorURL},
		Config: map[string]any{
			"contract_files":     []any{"ReentrancyVault.sol", "FlashLoanPool.sol", "OracleManipulation.sol"},
			"max_execution_time": 60,
		},
	}
}

func newOrchestrator(d dispatch.Dispatcher, sb *fakeSandbox) (*evaluation.Orchestrator, *int) {
	created := 0
	o := &evaluation.Orchestrator{
		Catalog:    catalog.Default(),
		Dispatcher: d,
	}
	if sb != nil {
		o.Sandboxes = func(runID string) (sandbox.Sandbox, error) {
			created++
			return sb, nil
		}
	}
	return o, &created
}

func TestMissingAuditorIsRejectedWithoutDispatch(t *testing.T) {
	d := &fakeDispatcher{response: plainSubmission}
	o, _ := newOrchestrator(d, nil)
	req := validRequest()
	req.Participants = map[string]string{"reviewer": auditorURL}

	out := o.Evaluate(context.Background(), req)

	assert.Equal(t, "Rejected", out.State)
	assert.Contains(t, out.Message, "auditor")
	assert.Nil(t, out.Artifact)
	assert.Equal(t, 0, d.calls)
}

func TestMissingConfigKeyIsRejected(t *testing.T) {
	d := &fakeDispatcher{response: plainSubmission}
	o, _ := newOrchestrator(d, nil)
	req := validRequest()
	req.Config = map[string]any{"max_execution_time": 10}

	out := o.Evaluate(context.Background(), req)

	assert.Equal(t, "Rejected", out.State)
	assert.Contains(t, out.Message, "contract_files")
	assert.Equal(t, 0, d.calls)
}

func TestNegativeWeightsAreRejected(t *testing.T) {
	d := &fakeDispatcher{response: plainSubmission}
	o, _ := newOrchestrator(d, nil)
	req := validRequest()
	req.Config["scoring_weights"] = map[string]any{"detection": -1.0}

	out := o.Evaluate(context.Background(), req)

	assert.Equal(t, "Rejected", out.State)
	assert.Contains(t, out.Message, "detection")
	assert.Equal(t, 0, d.calls)
}

func TestOmittedConfigUsesDefaults(t *testing.T) {
	d := &fakeDispatcher{response: plainSubmission}
	o, _ := newOrchestrator(d, nil)
	req := &evaluation.Request{Participants: map[string]string{"auditor": auditorURL}}

	out := o.Evaluate(context.Background(), req)

	require.Equal(t, "Completed", out.State, out.Message)
	assert.Equal(t, auditorURL, d.endpoint)
	assert.Equal(t, dispatch.TaskName, d.task.Task)
	assert.Equal(t, catalog.Default().ContractFiles(), d.task.Contracts)
	assert.Contains(t, d.task.Config, "scoring_weights")
}

func TestOutOfRangeSeverityIsRejectedBeforeScoring(t *testing.T) {
	d := &fakeDispatcher{response: `{"agent_id": "p", "findings": [{"contract": "ReentrancyVault",
		"vulnerability_type": "reentrancy", "severity": 1.5, "line_number": 15, "description": "x"}],
		"fixes": [], "metadata": {}}`}
	o, _ := newOrchestrator(d, nil)
	sink := &fakeSink{}
	o.Sink = sink

	out := o.Evaluate(context.Background(), validRequest())

	assert.Equal(t, "Rejected", out.State)
	assert.Contains(t, out.Message, "findings[0].severity")
	assert.Nil(t, out.Artifact)
	assert.Empty(t, sink.entries)
}

func TestDispatchFailureFails(t *testing.T) {
	d := &fakeDispatcher{err: &dispatch.Error{Endpoint: auditorURL, Timeout: true, Err: context.DeadlineExceeded}}
	o, _ := newOrchestrator(d, nil)

	out := o.Evaluate(context.Background(), validRequest())

	assert.Equal(t, "Failed", out.State)
	assert.Contains(t, out.Message, "timed out")
	assert.Nil(t, out.Artifact)
	assert.Equal(t, 1, d.calls)
}

func TestSandboxStartupFailureCleansUpOnce(t *testing.T) {
	d := &fakeDispatcher{response: exploitSubmission}
	sb := &fakeSandbox{initErr: &sandbox.StartupError{Stage: "node", Err: errors.New("connection refused")}}
	o, created := newOrchestrator(d, sb)

	out := o.Evaluate(context.Background(), validRequest())

	assert.Equal(t, "Failed", out.State)
	assert.Contains(t, out.Message, "sandbox")
	assert.Nil(t, out.Artifact)
	assert.Equal(t, 1, *created)
	assert.Equal(t, 1, sb.cleanups)
}

func TestSandboxExecutionErrorFails(t *testing.T) {
	d := &fakeDispatcher{response: exploitSubmission}
	sb := &fakeSandbox{simErr: &sandbox.ExecutionError{Err: errors.New("chain gone")}}
	o, _ := newOrchestrator(d, sb)

	out := o.Evaluate(context.Background(), validRequest())

	assert.Equal(t, "Failed", out.State)
	assert.Nil(t, out.Artifact)
	assert.Equal(t, 1, sb.cleanups)
}

func TestNoExploitSkipsSandbox(t *testing.T) {
	d := &fakeDispatcher{response: plainSubmission}
	sb := &fakeSandbox{}
	o, created := newOrchestrator(d, sb)

	out := o.Evaluate(context.Background(), validRequest())

	require.Equal(t, "Completed", out.State, out.Message)
	require.NotNil(t, out.Artifact)
	assert.Equal(t, 0.0, out.Artifact.Scores.Reproducibility)
	assert.Equal(t, 0, *created)
	assert.Equal(t, 0, sb.cleanups)
}

func TestCompletedRunWithVerifiedExploit(t *testing.T) {
	verified := true
	d := &fakeDispatcher{response: exploitSubmission}
	sb := &fakeSandbox{
		result:    &sandbox.Result{Success: true, Steps: []string{"deploy", "attack"}, Verified: &verified},
		addresses: map[string]string{"ReentrancyVault": "0x5FbDB2315678afecb367f032d93F642f64180aa3"},
	}
	o, _ := newOrchestrator(d, sb)
	sink := &fakeSink{}
	rec := &recorder{}
	o.Sink = sink
	o.Observers = []events.Observer{rec}

	out := o.Evaluate(context.Background(), validRequest())

	require.Equal(t, "Completed", out.State, out.Message)
	require.NotNil(t, out.Artifact)
	a := out.Artifact
	assert.Equal(t, "purple-1", a.Metadata.AgentID)
	assert.Equal(t, out.RunID, a.Metadata.RunID)
	assert.Equal(t, evaluation.Version, a.Metadata.Version)
	assert.InDelta(t, 1.0/3, a.Scores.Detection, 1e-9)
	assert.InDelta(t, 1.0/3, a.Scores.SeverityAccuracy, 1e-9)
	assert.InDelta(t, 1.0, a.Scores.FixQuality, 1e-9)
	assert.InDelta(t, 1.0, a.Scores.Reproducibility, 1e-9)
	assert.InDelta(t, 0.6, a.Scores.Overall, 1e-9)

	assert.Equal(t, "0x5FbDB2315678afecb367f032d93F642f64180aa3", sb.target)
	assert.Equal(t, sandbox.DefaultEntryPoint, sb.payload.EntryPoint)
	assert.Equal(t, 1, sb.cleanups)

	require.Len(t, sink.entries, 1)
	assert.Equal(t, out.RunID, sink.entries[0].RunID)

	assert.Equal(t, []string{"Received", "RequestValidated", "Dispatched", "SubmissionParsed",
		"Simulated", "Scored", "Completed"}, rec.states())
	last := rec.events[len(rec.events)-1]
	assert.True(t, last.Terminal)
	require.NotNil(t, last.Score)
	assert.InDelta(t, 0.6, *last.Score, 1e-9)
}

func TestTargetFallsBackToFirstContract(t *testing.T) {
	d := &fakeDispatcher{response: `{"agent_id": "p", "findings": [], "fixes": [],
		"exploit_simulation": {"code": "contract X {}"}, "metadata": {}}`}
	sb := &fakeSandbox{
		result:    &sandbox.Result{Success: false, Steps: []string{}, Error: "reverted"},
		addresses: map[string]string{"FlashLoanPool": "0xabc"},
	}
	o, _ := newOrchestrator(d, sb)
	req := validRequest()
	req.Config["contract_files"] = []any{"contracts/FlashLoanPool.sol"}

	out := o.Evaluate(context.Background(), req)

	require.Equal(t, "Completed", out.State, out.Message)
	assert.Equal(t, "0xabc", sb.target)
	assert.Equal(t, 0.0, out.Artifact.Scores.Reproducibility)
}

func TestPanicBecomesFailed(t *testing.T) {
	d := &fakeDispatcher{panics: true}
	o, _ := newOrchestrator(d, nil)
	rec := &recorder{}
	o.Observers = []events.Observer{rec}

	out := o.Evaluate(context.Background(), validRequest())

	assert.Equal(t, "Failed", out.State)
	assert.Contains(t, out.Message, "auditor client exploded")
	assert.Nil(t, out.Artifact)
	states := rec.states()
	assert.Equal(t, "Failed", states[len(states)-1])
}

func TestPanicAfterSandboxAcquiredStillCleansUp(t *testing.T) {
	d := &fakeDispatcher{response: exploitSubmission}
	sb := &panickySandbox{}
	o := &evaluation.Orchestrator{
		Catalog:    catalog.Default(),
		Dispatcher: d,
		Sandboxes:  func(string) (sandbox.Sandbox, error) { return sb, nil },
	}

	out := o.Evaluate(context.Background(), validRequest())

	assert.Equal(t, "Failed", out.State)
	assert.Equal(t, 1, sb.cleanups)
}

type panickySandbox struct {
	fakeSandbox
}

func (s *panickySandbox) SimulateExploit(ctx context.Context, p sandbox.Payload, target string) (*sandbox.Result, error) {
	panic("evm trap")
}

func TestRequestWeightsOverrideDefaults(t *testing.T) {
	d := &fakeDispatcher{response: plainSubmission}
	o, _ := newOrchestrator(d, nil)
	req := validRequest()
	// Normalized to detection 1.0.
	req.Config["scoring_weights"] = map[string]any{"detection": 2.0}

	out := o.Evaluate(context.Background(), req)

	require.Equal(t, "Completed", out.State, out.Message)
	assert.InDelta(t, 1.0/3, out.Artifact.Scores.Overall, 1e-9)
}

func TestCollaboratorFailureDoesNotChangeOutcome(t *testing.T) {
	d := &fakeDispatcher{response: plainSubmission}
	o, _ := newOrchestrator(d, nil)
	o.Sink = failingSink{}

	out := o.Evaluate(context.Background(), validRequest())

	assert.Equal(t, "Completed", out.State)
	assert.NotNil(t, out.Artifact)
}

func TestCollaboratorPanicDoesNotFailRun(t *testing.T) {
	d := &fakeDispatcher{response: plainSubmission}
	o, _ := newOrchestrator(d, nil)
	o.Sink = panickingSink{}
	arch := &countingArchiver{}
	o.Archiver = arch

	out := o.Evaluate(context.Background(), validRequest())

	require.Equal(t, "Completed", out.State, out.Message)
	require.NotNil(t, out.Artifact)
	assert.Greater(t, out.Artifact.Scores.Overall, 0.0)
	assert.Equal(t, 1, arch.calls, "later collaborators still run")
}

func TestRunRecordsAndRescore(t *testing.T) {
	runDir := t.TempDir()
	d := &fakeDispatcher{response: plainSubmission}
	o, _ := newOrchestrator(d, nil)
	o.RunDir = runDir

	out := o.Evaluate(context.Background(), validRequest())
	require.Equal(t, "Completed", out.State, out.Message)

	dir := result.EvaluationDir(runDir, out.RunID)
	stored, err := result.ReadOutcome(filepath.Join(dir, result.OutcomeFile))
	require.NoError(t, err)
	assert.Equal(t, "Completed", stored.State)
	assert.FileExists(t, filepath.Join(dir, result.ArtifactFile))
	assert.FileExists(t, filepath.Join(dir, result.SubmissionFile))
	assert.NoFileExists(t, filepath.Join(dir, result.SandboxFile))

	// Same catalog and weights give the same score.
	rescored, err := o.Rescore(dir)
	require.NoError(t, err)
	assert.InDelta(t, out.Artifact.Scores.Overall, rescored.Scores.Overall, 1e-9)
	assert.Equal(t, out.RunID, rescored.Metadata.RunID)

	// A smaller catalog changes detection without touching the auditor.
	small, err := catalog.New([]catalog.ExpectedVulnerability{
		{Contract: "ReentrancyVault", Type: "reentrancy", Severity: 0.9, Line: 15},
	})
	require.NoError(t, err)
	o.Catalog = small
	rescored, err = o.Rescore(dir)
	require.NoError(t, err)
	assert.Equal(t, 1.0, rescored.Scores.Detection)
	assert.Equal(t, 1, d.calls)
}

func TestRejectedRunIsNotRescored(t *testing.T) {
	runDir := t.TempDir()
	d := &fakeDispatcher{response: `not json at all`}
	o, _ := newOrchestrator(d, nil)
	o.RunDir = runDir

	out := o.Evaluate(context.Background(), validRequest())
	require.Equal(t, "Rejected", out.State)

	dir := result.EvaluationDir(runDir, out.RunID)
	assert.NoFileExists(t, filepath.Join(dir, result.ArtifactFile))
	_, err := o.Rescore(dir)
	assert.ErrorIs(t, err, evaluation.ErrNotCompleted)
}

func TestConcurrentRunsUseSeparateSandboxes(t *testing.T) {
	verified := true
	d := &fakeDispatcher{response: exploitSubmission}
	var mu sync.Mutex
	var boxes []*fakeSandbox
	o := &evaluation.Orchestrator{
		Catalog:    catalog.Default(),
		Dispatcher: d,
		Sandboxes: func(runID string) (sandbox.Sandbox, error) {
			sb := &fakeSandbox{result: &sandbox.Result{Success: true, Steps: []string{"x"}, Verified: &verified}}
			mu.Lock()
			boxes = append(boxes, sb)
			mu.Unlock()
			return sb, nil
		},
	}

	var wg sync.WaitGroup
	outs := make([]*result.Outcome, 4)
	for i := range outs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outs[i] = o.Evaluate(context.Background(), validRequest())
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, out := range outs {
		assert.Equal(t, "Completed", out.State)
		seen[out.RunID] = true
	}
	assert.Len(t, seen, 4)
	require.Len(t, boxes, 4)
	for _, sb := range boxes {
		assert.Equal(t, 1, sb.initCalls)
		assert.Equal(t, 1, sb.cleanups)
	}
}
