// Package catalog holds the ground-truth vulnerabilities of the target
// contracts. A Catalog is built once and only read afterwards, so it is safe
// to share between concurrent evaluation runs.
package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// VulnerabilityType names a class of defect. Values are matched exactly.
type VulnerabilityType string

const (
	Reentrancy         VulnerabilityType = "reentrancy"
	FlashLoan          VulnerabilityType = "flash_loan"
	OracleManipulation VulnerabilityType = "oracle_manipulation"
)

// DefaultLineTolerance is the half-width of the vulnerable range used when an
// entry does not declare one explicitly.
const DefaultLineTolerance = 3

type ExpectedVulnerability struct {
	Contract    string            `yaml:"contract" json:"contract"`
	Type        VulnerabilityType `yaml:"type" json:"type"`
	Severity    float64           `yaml:"severity" json:"severity"`
	Line        int               `yaml:"line" json:"line"`
	LineStart   int               `yaml:"line_start,omitempty" json:"line_start,omitempty"`
	LineEnd     int               `yaml:"line_end,omitempty" json:"line_end,omitempty"`
	Description string            `yaml:"description" json:"description"`
}

// Range returns the inclusive line range considered vulnerable.
func (e ExpectedVulnerability) Range(tolerance int) (int, int) {
	if e.LineStart > 0 && e.LineEnd >= e.LineStart {
		return e.LineStart, e.LineEnd
	}
	if tolerance < 0 {
		tolerance = 0
	}
	start := e.Line - tolerance
	if start < 1 {
		start = 1
	}
	return start, e.Line + tolerance
}

// Key identifies a (contract, vulnerability type) pair.
type Key struct {
	Contract string
	Type     VulnerabilityType
}

func (k Key) String() string {
	return k.Contract + ":" + string(k.Type)
}

type Catalog struct {
	entries []ExpectedVulnerability
	index   map[Key]int
}

// New validates entries and builds a catalog. Entries are kept in the given
// order; duplicate (contract, type) pairs are rejected.
func New(entries []ExpectedVulnerability) (*Catalog, error) {
	c := &Catalog{index: make(map[Key]int, len(entries))}
	for i, e := range entries {
		if strings.TrimSpace(e.Contract) == "" {
			return nil, fmt.Errorf("catalog entry %d: contract is required", i)
		}
		if e.Type == "" {
			return nil, fmt.Errorf("catalog entry %q: type is required", e.Contract)
		}
		if e.Severity < 0 || e.Severity > 1 {
			return nil, fmt.Errorf("catalog entry %q: severity %.2f outside [0,1]", e.Contract, e.Severity)
		}
		if e.Line < 0 {
			return nil, fmt.Errorf("catalog entry %q: negative line", e.Contract)
		}
		k := Key{Contract: e.Contract, Type: e.Type}
		if _, dup := c.index[k]; dup {
			return nil, fmt.Errorf("catalog entry %q: duplicate %s", e.Contract, k)
		}
		c.index[k] = len(c.entries)
		c.entries = append(c.entries, e)
	}
	return c, nil
}

// Default returns the catalog of the three bundled target contracts.
func Default() *Catalog {
	c, err := New(DefaultEntries())
	if err != nil {
		panic(err)
	}
	return c
}

func DefaultEntries() []ExpectedVulnerability {
	return []ExpectedVulnerability{
		{
			Contract:    "ReentrancyVault",
			Type:        Reentrancy,
			Severity:    0.9,
			Line:        15,
			Description: "Reentrancy vulnerability allows recursive calls to drain contract",
		},
		{
			Contract:    "FlashLoanPool",
			Type:        FlashLoan,
			Severity:    0.8,
			Line:        20,
			Description: "Price can be manipulated during flash loan execution",
		},
		{
			Contract:    "OracleManipulation",
			Type:        OracleManipulation,
			Severity:    0.7,
			Line:        18,
			Description: "Single source oracle controlled by owner",
		},
	}
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Entries returns a copy of the catalog entries in declaration order.
func (c *Catalog) Entries() []ExpectedVulnerability {
	if c == nil {
		return nil
	}
	out := make([]ExpectedVulnerability, len(c.entries))
	copy(out, c.entries)
	return out
}

func (c *Catalog) Lookup(contract string, typ VulnerabilityType) (ExpectedVulnerability, bool) {
	if c == nil {
		return ExpectedVulnerability{}, false
	}
	i, ok := c.index[Key{Contract: contract, Type: typ}]
	if !ok {
		return ExpectedVulnerability{}, false
	}
	return c.entries[i], true
}

func (c *Catalog) Contains(contract string, typ VulnerabilityType) bool {
	_, ok := c.Lookup(contract, typ)
	return ok
}

func (c *Catalog) Has(k Key) bool {
	return c.Contains(k.Contract, k.Type)
}

// Contracts returns the distinct contract identifiers, sorted.
func (c *Catalog) Contracts() []string {
	if c == nil {
		return nil
	}
	seen := make(map[string]bool)
	var names []string
	for _, e := range c.entries {
		if !seen[e.Contract] {
			seen[e.Contract] = true
			names = append(names, e.Contract)
		}
	}
	sort.Strings(names)
	return names
}

// ContractFiles returns the Solidity file name for each contract.
func (c *Catalog) ContractFiles() []string {
	names := c.Contracts()
	files := make([]string, len(names))
	for i, n := range names {
		files[i] = n + ".sol"
	}
	return files
}

// ContractName strips a ".sol" suffix and any directory from a contract file
// reference.
func ContractName(file string) string {
	if i := strings.LastIndexAny(file, `/\`); i >= 0 {
		file = file[i+1:]
	}
	return strings.TrimSuffix(file, ".sol")
}

// InVulnerableRange reports whether line falls inside the vulnerable range of
// any entry.
func (c *Catalog) InVulnerableRange(line, tolerance int) bool {
	if c == nil || line <= 0 {
		return false
	}
	for _, e := range c.entries {
		start, end := e.Range(tolerance)
		if line >= start && line <= end {
			return true
		}
	}
	return false
}
