package api

import "github.com/signalnine/riskarena/internal/evaluation"

type AgentSkill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Examples    []string `json:"examples"`
}

type AgentCapabilities struct {
	Streaming bool `json:"streaming"`
}

// AgentCard describes this evaluator to the platform.
type AgentCard struct {
	Name               string            `json:"name"`
	Description        string            `json:"description"`
	URL                string            `json:"url"`
	Version            string            `json:"version"`
	DefaultInputModes  []string          `json:"default_input_modes"`
	DefaultOutputModes []string          `json:"default_output_modes"`
	Capabilities       AgentCapabilities `json:"capabilities"`
	Skills             []AgentSkill      `json:"skills"`
}

func NewAgentCard(url string) AgentCard {
	return AgentCard{
		Name: "DeFi Risk Arena",
		Description: "Green agent that evaluates DeFi security agents on detecting smart contract " +
			"vulnerabilities including reentrancy, flash loan exploits, and oracle manipulation.",
		URL:                url,
		Version:            evaluation.Version,
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text"},
		Capabilities:       AgentCapabilities{Streaming: true},
		Skills: []AgentSkill{
			{
				ID:          "smart-contract-auditing",
				Name:        "Smart Contract Auditing",
				Description: "Evaluate smart contracts for security vulnerabilities",
				Tags:        []string{"solidity", "security", "audit"},
				Examples:    []string{"Detect reentrancy bugs", "Identify flash loan vulnerabilities"},
			},
			{
				ID:          "exploit-simulation",
				Name:        "Exploit Simulation",
				Description: "Simulate attacks to verify vulnerabilities",
				Tags:        []string{"exploit", "simulation", "hardhat"},
				Examples:    []string{"Test reentrancy attacks", "Verify oracle manipulation"},
			},
			{
				ID:          "risk-scoring",
				Name:        "Risk Scoring",
				Description: "Calculate risk scores based on vulnerability severity",
				Tags:        []string{"scoring", "risk-assessment", "metrics"},
				Examples:    []string{"Severity scoring", "Overall risk calculation"},
			},
		},
	}
}
