// Package pricing estimates the dollar cost of narrative analysis calls.
package pricing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ModelPricing is the price per 1K tokens.
type ModelPricing struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

type Table struct {
	Providers map[string]map[string]ModelPricing
}

// Default covers the models the narrative analyzer is usually pointed at.
func Default() *Table {
	return &Table{Providers: map[string]map[string]ModelPricing{
		"openai": {
			"gpt-4o-mini": {Input: 0.00015, Output: 0.0006},
			"gpt-4o":      {Input: 0.0025, Output: 0.01},
		},
		"nebius": {
			"meta-llama/Meta-Llama-3.1-70B-Instruct": {Input: 0.00013, Output: 0.0004},
			"meta-llama/Meta-Llama-3.1-8B-Instruct":  {Input: 0.00002, Output: 0.00006},
		},
	}}
}

// Load reads a pricing file and layers it over Default. Entries in the file
// win.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pricing file: %w", err)
	}
	var providers map[string]map[string]ModelPricing
	if err := yaml.Unmarshal(data, &providers); err != nil {
		return nil, fmt.Errorf("parsing pricing file: %w", err)
	}
	t := Default()
	for provider, models := range providers {
		if t.Providers[provider] == nil {
			t.Providers[provider] = map[string]ModelPricing{}
		}
		for model, p := range models {
			t.Providers[provider][model] = p
		}
	}
	return t, nil
}

// Cost calculates total cost for a request. Unknown models cost nothing.
func (t *Table) Cost(provider, model string, inputTokens, outputTokens int) float64 {
	if t == nil || t.Providers == nil {
		return 0
	}
	models, ok := t.Providers[provider]
	if !ok {
		return 0
	}
	p, ok := models[model]
	if !ok {
		return 0
	}
	return (float64(inputTokens)/1000.0)*p.Input + (float64(outputTokens)/1000.0)*p.Output
}
