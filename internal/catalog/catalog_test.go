package catalog_test

import (
	"testing"

	"github.com/signalnine/riskarena/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := catalog.Default()
	require.Equal(t, 3, c.Len())
	assert.True(t, c.Contains("ReentrancyVault", catalog.Reentrancy))
	assert.False(t, c.Contains("ReentrancyVault", catalog.FlashLoan))
	assert.Equal(t, []string{"FlashLoanPool", "OracleManipulation", "ReentrancyVault"}, c.Contracts())
	assert.Equal(t, []string{"FlashLoanPool.sol", "OracleManipulation.sol", "ReentrancyVault.sol"}, c.ContractFiles())

	e, ok := c.Lookup("FlashLoanPool", catalog.FlashLoan)
	require.True(t, ok)
	assert.Equal(t, 0.8, e.Severity)
	assert.Equal(t, 20, e.Line)
}

func TestNewRejectsInvalidEntries(t *testing.T) {
	tests := []struct {
		name  string
		entry catalog.ExpectedVulnerability
	}{
		{"missing contract", catalog.ExpectedVulnerability{Type: catalog.Reentrancy, Severity: 0.5}},
		{"missing type", catalog.ExpectedVulnerability{Contract: "A", Severity: 0.5}},
		{"severity above one", catalog.ExpectedVulnerability{Contract: "A", Type: catalog.Reentrancy, Severity: 1.2}},
		{"negative severity", catalog.ExpectedVulnerability{Contract: "A", Type: catalog.Reentrancy, Severity: -0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := catalog.New([]catalog.ExpectedVulnerability{tt.entry})
			assert.Error(t, err)
		})
	}
}

func TestNewRejectsDuplicatePairs(t *testing.T) {
	e := catalog.ExpectedVulnerability{Contract: "A", Type: catalog.Reentrancy, Severity: 0.5}
	_, err := catalog.New([]catalog.ExpectedVulnerability{e, e})
	assert.ErrorContains(t, err, "duplicate")
}

func TestEmptyCatalog(t *testing.T) {
	c, err := catalog.New(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.Contracts())
	assert.False(t, c.InVulnerableRange(10, 3))
}

func TestRange(t *testing.T) {
	e := catalog.ExpectedVulnerability{Line: 15}
	start, end := e.Range(3)
	assert.Equal(t, 12, start)
	assert.Equal(t, 18, end)

	e = catalog.ExpectedVulnerability{Line: 2}
	start, _ = e.Range(5)
	assert.Equal(t, 1, start)

	e = catalog.ExpectedVulnerability{Line: 15, LineStart: 10, LineEnd: 30}
	start, end = e.Range(3)
	assert.Equal(t, 10, start)
	assert.Equal(t, 30, end)
}

func TestInVulnerableRange(t *testing.T) {
	c := catalog.Default()
	assert.True(t, c.InVulnerableRange(15, catalog.DefaultLineTolerance))
	assert.True(t, c.InVulnerableRange(21, catalog.DefaultLineTolerance))
	assert.False(t, c.InVulnerableRange(100, catalog.DefaultLineTolerance))
	assert.False(t, c.InVulnerableRange(0, catalog.DefaultLineTolerance))
}

func TestContractName(t *testing.T) {
	assert.Equal(t, "ReentrancyVault", catalog.ContractName("ReentrancyVault.sol"))
	assert.Equal(t, "FlashLoanPool", catalog.ContractName("contracts/FlashLoanPool.sol"))
	assert.Equal(t, "Oracle", catalog.ContractName("Oracle"))
}
