package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"basketpool/crypto"
	"basketpool/native/pool"
	"basketpool/storage"
)

type Config struct {
	DataDir        string    `toml:"DataDir"`
	StorageBackend string    `toml:"StorageBackend"`
	Pool           Pool      `toml:"pool"`
	Genesis        []Balance `toml:"genesis,omitempty"`
	Pauses         Pauses    `toml:"pauses"`
}

// Load loads the configuration from the given path. A missing file is
// replaced by the default configuration, which is written to path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./pool-data"
	}
	if strings.TrimSpace(c.StorageBackend) == "" {
		c.StorageBackend = storage.BackendLevelDB
	}
	defaults := pool.DefaultParams()
	if c.Pool.CollateralRatio == 0 {
		c.Pool.CollateralRatio = defaults.CollateralRatio
	}
	if c.Pool.TimeUnitsPerYear == 0 {
		c.Pool.TimeUnitsPerYear = defaults.TimeUnitsPerYear
	}
	if len(c.Pool.Terms) == 0 {
		c.Pool.Terms = defaultTerms()
	}
}

func defaultTerms() map[string]TermConfig {
	out := make(map[string]TermConfig, 4)
	for term, row := range pool.DefaultTerms() {
		out[strings.ToLower(term.String())] = TermConfig{DurationUnits: row.Duration, RateBps: row.RateBps}
	}
	return out
}

func fixtureAddress(prefix crypto.AddressPrefix, b byte) string {
	return crypto.MustNewAddress(prefix, bytes.Repeat([]byte{b}, crypto.AddressLength)).String()
}

// Default returns a two-asset development configuration.
func Default() *Config {
	defaults := pool.DefaultParams()
	admin := fixtureAddress(crypto.AccountPrefix, 0xAD)
	return &Config{
		DataDir:        "./pool-data",
		StorageBackend: storage.BackendLevelDB,
		Pool: Pool{
			Custody:          fixtureAddress(crypto.AccountPrefix, 0xC0),
			Admin:            admin,
			Factory:          fixtureAddress(crypto.AccountPrefix, 0xFA),
			CollateralRatio:  defaults.CollateralRatio,
			MinimumFeeBps:    defaults.MinimumFeeBps,
			LoanAdminFeeBps:  defaults.LoanAdminFeeBps,
			FlashAdminFeeBps: defaults.FlashAdminFeeBps,
			FlashFeeBps:      defaults.FlashFeeBps,
			TimeUnitsPerYear: defaults.TimeUnitsPerYear,
			Assets: []AssetConfig{
				{Address: fixtureAddress(crypto.AssetPrefix, 0x11), Symbol: "USDX", Decimals: 6, Ratio: "100"},
				{Address: fixtureAddress(crypto.AssetPrefix, 0x12), Symbol: "ETHX", Decimals: 18, Ratio: "200"},
			},
			Share: ShareConfig{Name: "Basket Pool Share", Symbol: "BPS", Admin: admin},
			Terms: defaultTerms(),
		},
		Genesis: []Balance{},
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path in TOML form.
func Save(path string, cfg *Config) error {
	return persist(path, cfg)
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
