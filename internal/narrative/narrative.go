// Package narrative asks an OpenAI-compatible model for a free-text review of
// a submission. The output is an annotation only and never feeds a score.
package narrative

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/sashabaranov/go-openai"

	"github.com/signalnine/riskarena/internal/pricing"
	"github.com/signalnine/riskarena/internal/result"
	"github.com/signalnine/riskarena/internal/submission"
)

const (
	findingsSystemPrompt = "You are a smart contract security expert specializing in DeFi vulnerabilities."
	fixesSystemPrompt    = "You are a Solidity security auditor validating fix proposals."
)

// Analyzer produces a narrative for a submission. Failures are reported in
// Narrative.Error rather than returned.
type Analyzer interface {
	Analyze(ctx context.Context, sub *submission.Submission) *result.Narrative
}

type completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Options struct {
	Provider  string
	Model     string
	BaseURL   string
	APIKeyEnv string
	MaxTokens int
	Pricing   *pricing.Table
	Logger    hclog.Logger
}

type OpenAIAnalyzer struct {
	client    completer
	provider  string
	model     string
	maxTokens int
	pricing   *pricing.Table
	log       hclog.Logger
}

// New builds an analyzer. The API key is read from the environment variable
// named by opts.APIKeyEnv.
func New(opts Options) (*OpenAIAnalyzer, error) {
	apiKey := os.Getenv(opts.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("%s is not set", opts.APIKeyEnv)
	}
	cfg := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	log := opts.Logger
	if log == nil {
		log = hclog.NewNullLogger()
	}
	table := opts.Pricing
	if table == nil {
		table = pricing.Default()
	}
	return &OpenAIAnalyzer{
		client:    openai.NewClientWithConfig(cfg),
		provider:  opts.Provider,
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
		pricing:   table,
		log:       log.Named("narrative"),
	}, nil
}

func (a *OpenAIAnalyzer) Analyze(ctx context.Context, sub *submission.Submission) *result.Narrative {
	n := &result.Narrative{Model: a.model}
	if sub == nil {
		return n
	}
	var errs []error

	if len(sub.Findings) > 0 {
		text, err := a.complete(ctx, n, findingsSystemPrompt, findingsPrompt(sub.Findings))
		if err != nil {
			errs = append(errs, fmt.Errorf("findings analysis: %w", err))
		}
		n.Findings = text
	}
	if len(sub.Fixes) > 0 {
		text, err := a.complete(ctx, n, fixesSystemPrompt, fixesPrompt(sub.Fixes))
		if err != nil {
			errs = append(errs, fmt.Errorf("fix validation: %w", err))
		}
		n.Fixes = text
	}

	n.CostUSD = a.pricing.Cost(a.provider, a.model, n.InputTokens, n.OutputTokens)
	if err := errors.Join(errs...); err != nil {
		n.Error = err.Error()
		a.log.Warn("narrative analysis incomplete", "error", err)
	}
	return n
}

func (a *OpenAIAnalyzer) complete(ctx context.Context, n *result.Narrative, system, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if a.maxTokens > 0 {
		req.MaxTokens = a.maxTokens
	}
	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	n.InputTokens += resp.Usage.PromptTokens
	n.OutputTokens += resp.Usage.CompletionTokens
	if len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	a.log.Debug("completion received", "finish_reason", resp.Choices[0].FinishReason)
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func findingsPrompt(findings []submission.Finding) string {
	var b strings.Builder
	b.WriteString("Analyze these DeFi vulnerability findings for correctness and completeness.\n\nFindings:\n")
	for _, f := range findings {
		fmt.Fprintf(&b, "- %s: %s (severity %.2f, line %d) %s\n",
			f.Contract, f.VulnerabilityType, f.Severity, f.LineNumber, f.Description)
	}
	b.WriteString(`
Please provide:
1. Overall assessment of findings quality
2. Potential false positives
3. Missing vulnerabilities to check
4. Severity scoring accuracy
5. Recommendations for improvement
`)
	return b.String()
}

func fixesPrompt(fixes []submission.FixProposal) string {
	var b strings.Builder
	b.WriteString("Validate these Solidity fix proposals.\n\n")
	for _, f := range fixes {
		fmt.Fprintf(&b, "Line %d:\nOriginal: %s\nFixed: %s\nExplanation: %s\n\n",
			f.LineNumber, f.OriginalCode, f.FixedCode, f.Explanation)
	}
	b.WriteString(`For each fix, assess:
1. Correctness of the fix
2. Potential side effects
3. Whether it fully addresses the vulnerability
4. Alternative approaches
5. Security implications
`)
	return b.String()
}
