// Package evaluation runs one audit evaluation from request to artifact:
// validate the request, dispatch the task to the auditor, parse its
// submission, simulate the exploit, score, and emit the result.
package evaluation

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalnine/riskarena/internal/archive"
	"github.com/signalnine/riskarena/internal/catalog"
	"github.com/signalnine/riskarena/internal/dispatch"
	"github.com/signalnine/riskarena/internal/events"
	"github.com/signalnine/riskarena/internal/leaderboard"
	"github.com/signalnine/riskarena/internal/narrative"
	"github.com/signalnine/riskarena/internal/result"
	"github.com/signalnine/riskarena/internal/sandbox"
	"github.com/signalnine/riskarena/internal/scoring"
	"github.com/signalnine/riskarena/internal/submission"
)

const Version = "1.0.0"

const collaboratorTimeout = 30 * time.Second

var tracer = otel.Tracer("github.com/signalnine/riskarena/internal/evaluation")

// Orchestrator holds the collaborators shared by every run. It is safe for
// concurrent use; each Evaluate call owns its own sandbox.
type Orchestrator struct {
	Catalog    *catalog.Catalog
	Dispatcher dispatch.Dispatcher
	Sandboxes  sandbox.Factory

	// Optional. Their failures are logged and never change an outcome.
	Analyzer narrative.Analyzer
	Sink     leaderboard.Sink
	Archiver archive.Archiver

	Observers []events.Observer

	// Scoring holds the server defaults; request weights override them.
	Scoring scoring.Options
	// DispatchTimeout applies when the request sets no max_execution_time.
	DispatchTimeout time.Duration
	// RunDir receives per-evaluation records when set.
	RunDir string
	Logger hclog.Logger

	now func() time.Time
}

func (o *Orchestrator) clock() time.Time {
	if o.now != nil {
		return o.now()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) logger() hclog.Logger {
	if o.Logger == nil {
		return hclog.NewNullLogger()
	}
	return o.Logger
}

// run is the mutable state of one evaluation.
type run struct {
	o       *Orchestrator
	id      string
	agentID string
	log     hclog.Logger
	dir     string

	state   State
	started time.Time
	entered time.Time

	sandbox     sandbox.Sandbox
	releaseOnce sync.Once
}

// advance moves the run to the next state and notifies observers. It panics
// on a transition the table does not allow; Evaluate recovers that as an
// UnexpectedError.
func (r *run) advance(to State, message string) {
	r.transition(to, message, nil)
}

func (r *run) transition(to State, message string, score *float64) {
	if !CanTransition(r.state, to) {
		panic(fmt.Errorf("illegal transition %s -> %s", r.state, to))
	}
	if to.Terminal() {
		r.releaseSandbox()
	}
	now := r.o.clock()
	e := events.Event{
		RunID:     r.id,
		AgentID:   r.agentID,
		From:      r.state.String(),
		To:        to.String(),
		Message:   message,
		Time:      now,
		ElapsedMS: now.Sub(r.entered).Milliseconds(),
		Terminal:  to.Terminal(),
		Score:     score,
	}
	r.state = to
	r.entered = now
	r.notify(e)
}

func (r *run) notify(e events.Event) {
	for _, obs := range r.o.Observers {
		obs.Observe(e)
	}
}

// releaseSandbox runs Cleanup at most once, and only if a sandbox was
// acquired.
func (r *run) releaseSandbox() {
	r.releaseOnce.Do(func() {
		if r.sandbox == nil {
			return
		}
		if err := r.sandbox.Cleanup(); err != nil {
			r.log.Warn("sandbox cleanup failed", "error", err)
		}
	})
}

func (r *run) outcome(message string) *result.Outcome {
	return &result.Outcome{
		RunID:      r.id,
		AgentID:    r.agentID,
		State:      r.state.String(),
		Message:    message,
		StartedAt:  r.started,
		DurationMS: r.o.clock().Sub(r.started).Milliseconds(),
	}
}

// end moves the run into the terminal state matching err.
func (r *run) end(err error) *result.Outcome {
	to := terminalFor(err)
	msg := err.Error()
	if to == Failed {
		msg = failureMessage(err)
		r.log.Error("evaluation failed", "state", r.state, "error", err)
	} else {
		r.log.Info("evaluation rejected", "state", r.state, "reason", msg)
	}
	r.advance(to, msg)
	return r.outcome(msg)
}

// Evaluate runs req to a terminal state. It never returns nil, and the
// outcome carries an Artifact only when the run Completed.
func (o *Orchestrator) Evaluate(ctx context.Context, req *Request) (out *result.Outcome) {
	now := o.clock()
	r := &run{
		o:       o,
		id:      uuid.NewString(),
		state:   Received,
		started: now,
		entered: now,
	}
	r.log = o.logger().With("run_id", r.id)
	if o.RunDir != "" {
		r.dir = result.EvaluationDir(o.RunDir, r.id)
		if err := result.WriteRequest(r.dir, req); err != nil {
			r.log.Warn("could not store request", "error", err)
		}
	}
	r.notify(events.Event{RunID: r.id, To: Received.String(), Time: now})

	ctx, span := tracer.Start(ctx, "evaluation", trace.WithAttributes(attribute.String("run_id", r.id)))
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			err := &UnexpectedError{Value: p, Stack: debug.Stack()}
			r.log.Error("evaluation panicked", "panic", p, "stack", string(err.Stack))
			r.releaseSandbox()
			if r.state.Terminal() {
				out = r.outcome(err.Error())
			} else {
				out = r.end(err)
			}
		}
		span.SetAttributes(attribute.String("state", out.State))
		if out.State != Completed.String() {
			span.SetStatus(codes.Error, out.Message)
		}
		o.record(r, out)
	}()

	return r.execute(ctx, req)
}

func (r *run) execute(ctx context.Context, req *Request) *result.Outcome {
	o := r.o
	if req == nil {
		return r.end(&RequestInvalidError{Reason: "empty request"})
	}
	cfg, err := req.Validate(o.Catalog)
	if err != nil {
		return r.end(err)
	}
	r.advance(RequestValidated, "")

	raw, err := r.dispatch(ctx, req.Participants[RoleAuditor], cfg)
	if err != nil {
		return r.end(err)
	}
	r.advance(Dispatched, "")

	sub, err := r.parse(ctx, raw)
	if err != nil {
		return r.end(err)
	}
	r.agentID = sub.AgentID
	r.log = r.log.With("agent_id", sub.AgentID)
	if r.dir != "" {
		if err := result.WriteSubmission(r.dir, sub); err != nil {
			r.log.Warn("could not store submission", "error", err)
		}
	}
	r.advance(SubmissionParsed, fmt.Sprintf("%d findings, %d fixes", len(sub.Findings), len(sub.Fixes)))

	simulated, err := r.simulate(ctx, sub, cfg)
	if err != nil {
		return r.end(err)
	}
	r.advance(Simulated, "")

	opts := o.Scoring
	if !cfg.Weights.IsZero() {
		opts.Weights = cfg.Weights
	}
	report, err := r.score(ctx, sub, simulated, opts)
	if err != nil {
		return r.end(err)
	}
	r.advance(Scored, "")

	artifact := &result.Artifact{
		Scores: *report,
		Metadata: result.Metadata{
			AgentID:   sub.AgentID,
			RunID:     r.id,
			Timestamp: o.clock(),
			Version:   Version,
		},
		DetailedFeedback: scoring.BuildFeedback(o.Catalog, sub, report),
	}
	r.collaborate(ctx, sub, artifact)

	overall := report.Overall
	msg := fmt.Sprintf("overall score %.3f", overall)
	r.transition(Completed, msg, &overall)
	r.log.Info("evaluation completed", "overall", report.Overall, "detection", report.Detection,
		"false_positives", report.FalsePositives)

	out := r.outcome(msg)
	out.Artifact = artifact
	return out
}

func (r *run) dispatch(ctx context.Context, endpoint string, cfg *Config) ([]byte, error) {
	timeout := cfg.MaxExecutionTime
	if timeout <= 0 {
		timeout = r.o.DispatchTimeout
	}
	if timeout <= 0 {
		timeout = dispatch.DefaultTimeout
	}
	ctx, span := tracer.Start(ctx, "dispatch", trace.WithAttributes(attribute.String("endpoint", endpoint)))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r.log.Info("dispatching audit task", "endpoint", endpoint, "contracts", len(cfg.ContractFiles), "timeout", timeout)
	raw, err := r.o.Dispatcher.Dispatch(ctx, endpoint, dispatch.Task{
		Task:      dispatch.TaskName,
		Contracts: cfg.ContractFiles,
		Config:    cfg.Raw,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return raw, nil
}

func (r *run) parse(ctx context.Context, raw []byte) (*submission.Submission, error) {
	_, span := tracer.Start(ctx, "parse_submission")
	defer span.End()
	sub, err := submission.Parse(raw)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return sub, nil
}

// simulate returns nil when the submission carries no exploit.
func (r *run) simulate(ctx context.Context, sub *submission.Submission, cfg *Config) (*sandbox.Result, error) {
	if !sub.HasExploit() {
		r.log.Debug("no exploit payload, skipping simulation")
		return nil, nil
	}
	if r.o.Sandboxes == nil {
		return nil, fmt.Errorf("exploit submitted but no sandbox backend is configured")
	}
	ctx, span := tracer.Start(ctx, "simulate_exploit")
	defer span.End()

	sb, err := r.o.Sandboxes(r.id)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("creating sandbox: %w", err)
	}
	r.sandbox = sb
	defer r.releaseSandbox()

	if err := sb.Initialize(ctx); err != nil {
		span.RecordError(err)
		return nil, err
	}

	payload := sandbox.PayloadFromMap(sub.ExploitSimulation)
	target := resolveTarget(sb, payload, cfg)
	span.SetAttributes(attribute.String("target", target))
	r.log.Info("simulating exploit", "target", target, "contract", payload.ContractName)

	res, err := sb.SimulateExploit(ctx, payload, target)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if r.dir != "" {
		if err := result.WriteSandboxResult(r.dir, res); err != nil {
			r.log.Warn("could not store sandbox result", "error", err)
		}
	}
	r.log.Info("simulation finished", "success", res.Success, "verified", res.IsVerified(), "error", res.Error)
	return res, nil
}

// resolveTarget picks the payload address, then the named target contract,
// then the first requested contract.
func resolveTarget(sb sandbox.Sandbox, p sandbox.Payload, cfg *Config) string {
	if p.ContractAddress != "" {
		return p.ContractAddress
	}
	name := p.TargetContract
	if name == "" {
		if contracts := cfg.Contracts(); len(contracts) > 0 {
			name = contracts[0]
		}
	}
	if addr, ok := sb.Address(name); ok {
		return addr
	}
	return name
}

func (r *run) score(ctx context.Context, sub *submission.Submission, simulated *sandbox.Result, opts scoring.Options) (*scoring.Report, error) {
	_, span := tracer.Start(ctx, "score")
	defer span.End()
	report, err := scoring.Compute(r.o.Catalog, sub, simulated, opts)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Float64("overall", report.Overall))
	return report, nil
}

// collaborate runs the optional collaborators. Nothing they do affects the
// scores already in artifact.
func (r *run) collaborate(ctx context.Context, sub *submission.Submission, artifact *result.Artifact) {
	o := r.o
	ctx, cancel := context.WithTimeout(ctx, collaboratorTimeout)
	defer cancel()

	if o.Analyzer != nil {
		r.guard("narrative", func() {
			n := o.Analyzer.Analyze(ctx, sub)
			if n != nil && n.Error != "" {
				r.log.Warn("narrative analysis incomplete", "error", n.Error)
			}
			artifact.Narrative = n
		})
	}
	if o.Sink != nil {
		r.guard("leaderboard", func() { r.recordEntry(ctx, artifact) })
	}
	if o.Archiver != nil {
		r.guard("archive", func() { r.archive(ctx, artifact) })
	}
}

// guard runs one optional collaborator. A panic is logged and dropped so it
// cannot reach the run's own recovery.
func (r *run) guard(name string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Warn("collaborator panicked", "collaborator", name, "panic", p)
		}
	}()
	fn()
}

func (r *run) recordEntry(ctx context.Context, artifact *result.Artifact) {
	err := r.o.Sink.Record(ctx, leaderboard.Entry{
		AgentID:        artifact.Metadata.AgentID,
		RunID:          r.id,
		Scores:         artifact.Scores,
		FindingsCount:  artifact.Scores.FindingsCount,
		FalsePositives: artifact.Scores.FalsePositives,
		SubmittedAt:    artifact.Metadata.Timestamp,
	})
	if err != nil {
		r.log.Warn("leaderboard record failed", "error", err)
	}
}

func (r *run) archive(ctx context.Context, artifact *result.Artifact) {
	loc, err := r.o.Archiver.Archive(ctx, artifact)
	if err != nil {
		r.log.Warn("artifact archive failed", "error", err)
		return
	}
	r.log.Debug("artifact archived", "location", loc)
}

func (o *Orchestrator) record(r *run, out *result.Outcome) {
	if r.dir == "" {
		return
	}
	if out.Artifact != nil {
		if err := result.WriteArtifact(r.dir, out.Artifact); err != nil {
			r.log.Warn("could not store artifact", "error", err)
		}
	}
	if err := result.WriteOutcome(r.dir, out); err != nil {
		r.log.Warn("could not store outcome", "error", err)
	}
}
