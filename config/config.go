// Package config loads the process configuration of the auction house daemon
// from a YAML file with ESCROWHOUSE_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/cloudx-io/escrowhouse/core"
	"github.com/cloudx-io/escrowhouse/engine"
)

const envPrefix = "ESCROWHOUSE_"

// Listen modes of the daemon.
const (
	ListenVsock = "vsock"
	ListenTCP   = "tcp"
)

type Config struct {
	CreationFee       string `yaml:"creation_fee"`
	CommissionPercent int    `yaml:"commission_percent"`

	Owner           string `yaml:"owner"`
	PlatformAccount string `yaml:"platform_account"`
	HouseIdentity   string `yaml:"house_identity"`

	AntiSnipeWindow         Duration `yaml:"anti_snipe_window"`
	AntiSnipeMaxExtensions  int      `yaml:"anti_snipe_max_extensions"`
	UnrevealedDepositPolicy string   `yaml:"unrevealed_deposit_policy"`

	Listen     string `yaml:"listen"`
	VsockPort  uint32 `yaml:"vsock_port"`
	TCPAddress string `yaml:"tcp_address"`
	MaxWorkers int    `yaml:"max_workers"`

	JournalPath string `yaml:"journal_path"`
}

// Duration is a time.Duration written as "5m" or "90s" in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Default returns the configuration used when no file or variable overrides it.
func Default() Config {
	return Config{
		CreationFee:             core.Ether("0.01").String(),
		CommissionPercent:       5,
		Owner:                   "owner",
		PlatformAccount:         "platform",
		HouseIdentity:           "auction-house",
		AntiSnipeWindow:         Duration(5 * time.Minute),
		UnrevealedDepositPolicy: string(engine.UnrevealedRefund),
		Listen:                  ListenVsock,
		VsockPort:               5000,
		TCPAddress:              "127.0.0.1:5000",
		MaxWorkers:              8,
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from ESCROWHOUSE_<YAML_KEY> variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(envPrefix + key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = n
		return nil
	}

	str("CREATION_FEE", &c.CreationFee)
	str("OWNER", &c.Owner)
	str("PLATFORM_ACCOUNT", &c.PlatformAccount)
	str("HOUSE_IDENTITY", &c.HouseIdentity)
	str("UNREVEALED_DEPOSIT_POLICY", &c.UnrevealedDepositPolicy)
	str("LISTEN", &c.Listen)
	str("TCP_ADDRESS", &c.TCPAddress)
	str("JOURNAL_PATH", &c.JournalPath)

	for key, dst := range map[string]*int{
		"COMMISSION_PERCENT":        &c.CommissionPercent,
		"ANTI_SNIPE_MAX_EXTENSIONS": &c.AntiSnipeMaxExtensions,
		"MAX_WORKERS":               &c.MaxWorkers,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}

	if v, ok := lookup(envPrefix + "VSOCK_PORT"); ok {
		port, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32)
		if err != nil {
			return fmt.Errorf("%sVSOCK_PORT: %w", envPrefix, err)
		}
		c.VsockPort = uint32(port)
	}
	if v, ok := lookup(envPrefix + "ANTI_SNIPE_WINDOW"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sANTI_SNIPE_WINDOW: %w", envPrefix, err)
		}
		c.AntiSnipeWindow = Duration(d)
	}
	return nil
}

func (c Config) Validate() error {
	if _, err := core.ParseAmount(c.CreationFee); err != nil {
		return fmt.Errorf("creation_fee: %w", err)
	}
	if c.CommissionPercent < 0 || c.CommissionPercent > 100 {
		return fmt.Errorf("commission_percent must be within 0-100, got %d", c.CommissionPercent)
	}
	if c.Owner == "" {
		return fmt.Errorf("owner is required")
	}
	if c.PlatformAccount == "" {
		return fmt.Errorf("platform_account is required")
	}
	if c.HouseIdentity == "" {
		return fmt.Errorf("house_identity is required")
	}
	if c.AntiSnipeWindow < 0 {
		return fmt.Errorf("anti_snipe_window must not be negative")
	}
	if c.AntiSnipeMaxExtensions < 0 {
		return fmt.Errorf("anti_snipe_max_extensions must not be negative")
	}
	switch engine.UnrevealedPolicy(c.UnrevealedDepositPolicy) {
	case engine.UnrevealedRefund, engine.UnrevealedForfeit:
	default:
		return fmt.Errorf("unrevealed_deposit_policy must be refund or forfeit, got %q", c.UnrevealedDepositPolicy)
	}
	switch c.Listen {
	case ListenVsock:
		if c.VsockPort == 0 {
			return fmt.Errorf("vsock_port is required when listen is vsock")
		}
	case ListenTCP:
		if c.TCPAddress == "" {
			return fmt.Errorf("tcp_address is required when listen is tcp")
		}
	default:
		return fmt.Errorf("listen must be vsock or tcp, got %q", c.Listen)
	}
	if c.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be at least 1, got %d", c.MaxWorkers)
	}
	return nil
}

// Engine converts c into the house configuration. c must be valid.
func (c Config) Engine() engine.Config {
	fee, err := decimal.NewFromString(c.CreationFee)
	if err != nil {
		fee = decimal.Zero
	}
	return engine.Config{
		CreationFee:            fee,
		CommissionPercent:      c.CommissionPercent,
		Owner:                  c.Owner,
		PlatformAccount:        c.PlatformAccount,
		AntiSnipeWindow:        time.Duration(c.AntiSnipeWindow),
		AntiSnipeMaxExtensions: c.AntiSnipeMaxExtensions,
		UnrevealedDeposits:     engine.UnrevealedPolicy(c.UnrevealedDepositPolicy),
	}
}
