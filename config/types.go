package config

// AssetConfig describes one basket asset. Ratio is the amount of the asset in
// one basket unit, as a base-10 integer string.
type AssetConfig struct {
	Address  string `toml:"Address"`
	Symbol   string `toml:"Symbol"`
	Decimals uint8  `toml:"Decimals"`
	Ratio    string `toml:"Ratio"`
}

// ShareConfig names the share token bound at genesis.
type ShareConfig struct {
	Name   string `toml:"Name"`
	Symbol string `toml:"Symbol"`
	Admin  string `toml:"Admin"`
}

// TermConfig is one row of the loan terms table.
type TermConfig struct {
	DurationUnits uint64 `toml:"DurationUnits"`
	RateBps       uint64 `toml:"RateBps"`
}

// Pool captures the economic configuration of the basket pool.
type Pool struct {
	Custody          string                `toml:"Custody"`
	Admin            string                `toml:"Admin"`
	Factory          string                `toml:"Factory"`
	CollateralRatio  uint64                `toml:"CollateralRatio"`
	MinimumFeeBps    uint64                `toml:"MinimumFeeBps"`
	LoanAdminFeeBps  uint64                `toml:"LoanAdminFeeBps"`
	FlashAdminFeeBps uint64                `toml:"FlashAdminFeeBps"`
	FlashFeeBps      uint64                `toml:"FlashFeeBps"`
	TimeUnitsPerYear uint64                `toml:"TimeUnitsPerYear"`
	Assets           []AssetConfig         `toml:"assets"`
	Share            ShareConfig           `toml:"share"`
	Terms            map[string]TermConfig `toml:"terms"`
}

// Balance seeds an asset balance at genesis.
type Balance struct {
	Account string `toml:"Account"`
	Asset   string `toml:"Asset"`
	Amount  string `toml:"Amount"`
}

type Pauses struct {
	Pool bool `toml:"Pool"`
}
