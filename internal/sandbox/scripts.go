package sandbox

import (
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
)

const (
	deployScriptPath  = "scripts/riskarena-deploy.js"
	deployResultPath  = "riskarena-deploy.json"
	exploitSourceDir  = "contracts/exploit"
	exploitTestPath   = "test/riskarena-exploit.js"
	exploitResultPath = "riskarena-exploit.json"
	networkName       = "sandbox"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// deployScript deploys contracts in order, seeds each with seedWei and
// writes {name: address} to deployResultPath.
func deployScript(contracts []string, seedWei *big.Int) (string, error) {
	for _, c := range contracts {
		if !identifier.MatchString(c) {
			return "", fmt.Errorf("invalid contract name %q", c)
		}
	}
	names, err := json.Marshal(contracts)
	if err != nil {
		return "", err
	}
	seed := "0x0"
	if seedWei != nil && seedWei.Sign() > 0 {
		seed = "0x" + seedWei.Text(16)
	}
	return fmt.Sprintf(`const hre = require("hardhat");
const fs = require("fs");

async function main() {
  const addresses = {};
  for (const name of %s) {
    const factory = await hre.ethers.getContractFactory(name);
    const contract = await factory.deploy();
    await contract.waitForDeployment();
    const address = await contract.getAddress();
    if (%s !== "0x0") {
      await hre.network.provider.send("hardhat_setBalance", [address, %s]);
    }
    addresses[name] = address;
  }
  fs.writeFileSync(%s, JSON.stringify(addresses));
}

main().catch((error) => {
  console.error(error);
  process.exitCode = 1;
});
`, names, jsString(seed), jsString(seed), jsString(deployResultPath)), nil
}

// exploitTest deploys the exploit contract against target, calls the entry
// point and writes {success, steps, error} to exploitResultPath.
func exploitTest(p Payload, target string) (string, error) {
	if !identifier.MatchString(p.ContractName) {
		return "", fmt.Errorf("invalid exploit contract name %q", p.ContractName)
	}
	if !identifier.MatchString(p.EntryPoint) {
		return "", fmt.Errorf("invalid exploit entry point %q", p.EntryPoint)
	}
	return fmt.Sprintf(`const hre = require("hardhat");
const fs = require("fs");

describe("riskarena exploit", function () {
  it("executes the exploit", async function () {
    const out = { success: false, steps: [] };
    try {
      const factory = await hre.ethers.getContractFactory(%s);
      const exploit = await factory.deploy(%s);
      await exploit.waitForDeployment();
      out.steps.push("deployed");
      const tx = await exploit[%s]();
      if (tx && typeof tx.wait === "function") {
        await tx.wait();
      }
      out.steps.push("executed");
      out.success = true;
    } catch (error) {
      out.error = String(error && error.message ? error.message : error);
    }
    fs.writeFileSync(%s, JSON.stringify(out));
    if (!out.success) {
      throw new Error(out.error);
    }
  });
});
`, jsString(p.ContractName), jsString(target), jsString(p.EntryPoint), jsString(exploitResultPath)), nil
}

type exploitOutput struct {
	Success bool     `json:"success"`
	Steps   []string `json:"steps"`
	Error   string   `json:"error"`
}
