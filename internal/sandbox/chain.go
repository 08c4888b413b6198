package sandbox

import (
	"context"
	"fmt"
	"math/big"
	"net"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// chainClient is the subset of ethclient.Client the sandbox needs.
type chainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	Close()
}

type dialFunc func(ctx context.Context, rawurl string) (chainClient, error)

func dialEthereum(ctx context.Context, rawurl string) (chainClient, error) {
	c, err := ethclient.DialContext(ctx, rawurl)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// FindFreePort asks the kernel for an unused TCP port.
func FindFreePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("finding free port: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port, nil
}

// waitForChain polls the node until it answers eth_chainId or timeout elapses.
// The returned client stays open.
func waitForChain(ctx context.Context, dial dialFunc, rpcURL string, timeout, interval time.Duration) (chainClient, *big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for {
		c, err := dial(ctx, rpcURL)
		if err == nil {
			probeCtx, probeCancel := context.WithTimeout(ctx, time.Second)
			id, idErr := c.ChainID(probeCtx)
			probeCancel()
			if idErr == nil {
				return c, id, nil
			}
			c.Close()
			err = idErr
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, nil, fmt.Errorf("chain at %s not ready after %s: %w", rpcURL, timeout, lastErr)
		case <-time.After(interval):
		}
	}
}
