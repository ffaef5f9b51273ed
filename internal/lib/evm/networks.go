package evm

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeshadow/internal/lib/misc"
)

type NetworkConfig struct {
	NodeURL string
	// ChainID of 0 means ask the node.
	ChainID uint64
	ABIDir  string

	// GasPrice of nil means use the node's suggestion.
	GasPrice *uint256.Int
	// GasLimit of 0 means estimate per transaction.
	GasLimit uint64

	RequestsPerSecond float64
	Burst             int
	ReceiptTimeout    time.Duration
}

func (n NetworkConfig) String() string {
	gasPrice := "node"
	if n.GasPrice != nil {
		gasPrice = n.GasPrice.Dec()
	}
	return fmt.Sprintf("NodeURL: %s, ChainID: %d, ABIDir: %s, GasPrice: %s, GasLimit: %d, RequestsPerSecond: %.1f, ReceiptTimeout: %s",
		n.NodeURL, n.ChainID, n.ABIDir, gasPrice, n.GasLimit, n.RequestsPerSecond, n.ReceiptTimeout)
}

// GetNetworkConfig starts from the network's defaults and applies SHADOW_* overrides.
func GetNetworkConfig(network string) (NetworkConfig, error) {
	cfg := getDefaults(network)

	if nodeURL := misc.GetSecret("SHADOW_RPC_URL"); nodeURL != "" {
		cfg.NodeURL = nodeURL
	}
	if abiDir := os.Getenv("SHADOW_ABI_DIR"); abiDir != "" {
		cfg.ABIDir = abiDir
	}
	var err error
	if v := os.Getenv("SHADOW_CHAIN_ID"); v != "" {
		if cfg.ChainID, err = strconv.ParseUint(v, 10, 64); err != nil {
			return cfg, fmt.Errorf("SHADOW_CHAIN_ID %q: %w", v, err)
		}
	}
	if v := os.Getenv("SHADOW_GAS_PRICE"); v != "" {
		if cfg.GasPrice, err = uint256.FromDecimal(v); err != nil {
			return cfg, fmt.Errorf("SHADOW_GAS_PRICE %q: %w", v, err)
		}
	}
	if v := os.Getenv("SHADOW_GAS_LIMIT"); v != "" {
		if cfg.GasLimit, err = strconv.ParseUint(v, 10, 64); err != nil {
			return cfg, fmt.Errorf("SHADOW_GAS_LIMIT %q: %w", v, err)
		}
	}
	if v := os.Getenv("SHADOW_RPS"); v != "" {
		if cfg.RequestsPerSecond, err = strconv.ParseFloat(v, 64); err != nil {
			return cfg, fmt.Errorf("SHADOW_RPS %q: %w", v, err)
		}
	}
	if v := os.Getenv("SHADOW_RECEIPT_TIMEOUT"); v != "" {
		if cfg.ReceiptTimeout, err = time.ParseDuration(v); err != nil {
			return cfg, fmt.Errorf("SHADOW_RECEIPT_TIMEOUT %q: %w", v, err)
		}
	}
	return cfg, nil
}

func getDefaults(network string) NetworkConfig {
	cfg := NetworkConfig{
		ABIDir:            "build/contracts",
		RequestsPerSecond: 50,
		Burst:             10,
		ReceiptTimeout:    30 * time.Second,
	}
	switch network {
	case "devnet":
		cfg.NodeURL = "http://localhost:8545"
		cfg.ChainID = 1112
		cfg.GasPrice = uint256.NewInt(1)
		cfg.GasLimit = 10_000_000
		cfg.RequestsPerSecond = 500
		cfg.Burst = 100
	case "testnet":
		cfg.NodeURL = "https://rpc.test2.btcs.network"
		cfg.ChainID = 1114
		cfg.RequestsPerSecond = 10
		cfg.ReceiptTimeout = 2 * time.Minute
	}
	return cfg
}
