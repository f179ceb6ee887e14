package config

import (
	"fmt"
	"math/big"
	"strings"

	"basketpool/crypto"
	"basketpool/native/pool"
	"basketpool/storage"
)

// Validate checks the configuration can build a pool.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.StorageBackend)) {
	case "", storage.BackendLevelDB, storage.BackendBolt, storage.BackendMemory:
	default:
		return fmt.Errorf("storage: unknown backend %q", c.StorageBackend)
	}
	for name, value := range map[string]string{
		"pool.Custody": c.Pool.Custody,
		"pool.Admin":   c.Pool.Admin,
		"pool.Factory": c.Pool.Factory,
	} {
		if _, err := parseAddress(value); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	if n := len(c.Pool.Assets); n < pool.MinAssets || n > pool.MaxAssets {
		return fmt.Errorf("pool: basket needs %d-%d assets, got %d", pool.MinAssets, pool.MaxAssets, n)
	}
	seen := make(map[string]bool, len(c.Pool.Assets))
	for i, asset := range c.Pool.Assets {
		addr, err := parseAddress(asset.Address)
		if err != nil {
			return fmt.Errorf("invalid pool.assets[%d].Address: %w", i, err)
		}
		if seen[addr.Key()] {
			return fmt.Errorf("pool: duplicate asset %s", asset.Address)
		}
		seen[addr.Key()] = true
		if strings.TrimSpace(asset.Symbol) == "" {
			return fmt.Errorf("pool.assets[%d]: symbol required", i)
		}
		ratio, err := parseUintAmount(asset.Ratio)
		if err != nil {
			return fmt.Errorf("invalid pool.assets[%d].Ratio: %w", i, err)
		}
		if ratio.Sign() == 0 {
			return fmt.Errorf("pool.assets[%d]: ratio must be positive", i)
		}
	}
	if strings.TrimSpace(c.Pool.Share.Admin) != "" {
		if _, err := parseAddress(c.Pool.Share.Admin); err != nil {
			return fmt.Errorf("invalid pool.share.Admin: %w", err)
		}
	}
	if _, err := c.Pool.Params(); err != nil {
		return err
	}
	for i, bal := range c.Genesis {
		if _, err := parseAddress(bal.Account); err != nil {
			return fmt.Errorf("invalid genesis[%d].Account: %w", i, err)
		}
		addr, err := parseAddress(bal.Asset)
		if err != nil {
			return fmt.Errorf("invalid genesis[%d].Asset: %w", i, err)
		}
		if !seen[addr.Key()] {
			return fmt.Errorf("genesis[%d]: asset %s is not in the basket", i, bal.Asset)
		}
		if _, err := parseUintAmount(bal.Amount); err != nil {
			return fmt.Errorf("invalid genesis[%d].Amount: %w", i, err)
		}
	}
	return nil
}

// Params converts the pool section into engine parameters.
func (p Pool) Params() (pool.Params, error) {
	params := pool.Params{
		CollateralRatio:  p.CollateralRatio,
		MinimumFeeBps:    p.MinimumFeeBps,
		LoanAdminFeeBps:  p.LoanAdminFeeBps,
		FlashAdminFeeBps: p.FlashAdminFeeBps,
		FlashFeeBps:      p.FlashFeeBps,
		TimeUnitsPerYear: p.TimeUnitsPerYear,
		Terms:            make(map[pool.Term]pool.Terms, len(p.Terms)),
	}
	for name, row := range p.Terms {
		term, err := pool.ParseTerm(name)
		if err != nil {
			return pool.Params{}, err
		}
		params.Terms[term] = pool.Terms{Duration: row.DurationUnits, RateBps: row.RateBps}
	}
	if err := params.Validate(); err != nil {
		return pool.Params{}, err
	}
	return params, nil
}

// Ratios parses the per-unit basket composition in asset order.
func (p Pool) Ratios() ([]*big.Int, error) {
	out := make([]*big.Int, len(p.Assets))
	for i, asset := range p.Assets {
		ratio, err := parseUintAmount(asset.Ratio)
		if err != nil {
			return nil, fmt.Errorf("pool.assets[%d].Ratio: %w", i, err)
		}
		out[i] = ratio
	}
	return out, nil
}

// ParseAddress decodes a bech32 address and rejects the zero address.
func ParseAddress(value string) (crypto.Address, error) {
	return parseAddress(value)
}

func parseAddress(value string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return crypto.Address{}, fmt.Errorf("address required")
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return crypto.Address{}, err
	}
	if addr.IsZero() {
		return crypto.Address{}, fmt.Errorf("zero address")
	}
	return addr, nil
}

// ParseAmount parses a non-negative base-10 integer amount.
func ParseAmount(value string) (*big.Int, error) {
	return parseUintAmount(value)
}

func parseUintAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}
