package ledger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Deployment identifies the on-chain artifacts this client talks to. All of
// these are deployment-specific configuration; nothing in the client layer
// hardcodes them.
type Deployment struct {
	PackageID          string `yaml:"package_id"`
	ProtocolStateID    string `yaml:"protocol_state_id"`
	CollateralConfigID string `yaml:"collateral_config_id"`
	CollateralVaultID  string `yaml:"collateral_vault_id"`
	Module             string `yaml:"module"`

	StableCoinType     string `yaml:"stable_coin_type"`
	CollateralCoinType string `yaml:"collateral_coin_type"`
	PositionType       string `yaml:"position_type"`

	Decimals int `yaml:"decimals"`
}

// Config describes how to construct a ledger client.
type Config struct {
	Type       string     `yaml:"type"`
	RPCURL     string     `yaml:"rpc_url"`
	Deployment Deployment `yaml:"deployment"`

	TimeoutRaw string        `yaml:"timeout"`
	Timeout    time.Duration `yaml:"-"`

	// RateLimit caps outbound requests per second; zero disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
}

// ClientBuilder constructs a Reader implementation from configuration.
type ClientBuilder func(cfg *Config) (Reader, error)

var (
	builderRegistry   = make(map[string]ClientBuilder)
	builderRegistryMu sync.RWMutex
)

// RegisterClient associates a builder with a ledger client type.
func RegisterClient(typeName string, builder ClientBuilder) {
	builderRegistryMu.Lock()
	defer builderRegistryMu.Unlock()
	builderRegistry[strings.ToLower(strings.TrimSpace(typeName))] = builder
}

func lookupBuilder(typeName string) (ClientBuilder, bool) {
	builderRegistryMu.RLock()
	defer builderRegistryMu.RUnlock()
	builder, ok := builderRegistry[strings.ToLower(strings.TrimSpace(typeName))]
	return builder, ok
}

// LoadConfig reads ledger configuration from disk.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ledger config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader constructs a Config from an io.Reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read ledger config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal ledger config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalise() error {
	c.Type = strings.TrimSpace(os.ExpandEnv(c.Type))
	c.RPCURL = strings.TrimSpace(os.ExpandEnv(c.RPCURL))
	c.TimeoutRaw = strings.TrimSpace(os.ExpandEnv(c.TimeoutRaw))
	d := &c.Deployment
	for _, field := range []*string{
		&d.PackageID, &d.ProtocolStateID, &d.CollateralConfigID, &d.CollateralVaultID,
		&d.Module, &d.StableCoinType, &d.CollateralCoinType, &d.PositionType,
	} {
		*field = strings.TrimSpace(os.ExpandEnv(*field))
	}
	if c.TimeoutRaw != "" {
		parsed, err := time.ParseDuration(c.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("ledger config: invalid timeout %q: %w", c.TimeoutRaw, err)
		}
		if parsed <= 0 {
			return fmt.Errorf("ledger config: timeout must be positive, got %s", parsed)
		}
		c.Timeout = parsed
	}
	return nil
}

// Validate ensures the configuration is complete enough to build a client.
func (c *Config) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("ledger config: type is required")
	}
	if _, ok := lookupBuilder(c.Type); !ok {
		return fmt.Errorf("ledger config: unsupported type %q", c.Type)
	}
	if strings.EqualFold(c.Type, "jsonrpc") && c.RPCURL == "" {
		return fmt.Errorf("ledger config: jsonrpc client requires rpc_url")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("ledger config: rate_limit cannot be negative")
	}
	d := &c.Deployment
	if d.PackageID == "" || d.ProtocolStateID == "" || d.CollateralConfigID == "" || d.CollateralVaultID == "" {
		return fmt.Errorf("ledger config: deployment ids are required")
	}
	if d.Module == "" {
		return fmt.Errorf("ledger config: deployment module is required")
	}
	if d.StableCoinType == "" || d.CollateralCoinType == "" || d.PositionType == "" {
		return fmt.Errorf("ledger config: deployment asset types are required")
	}
	if d.Decimals <= 0 {
		return fmt.Errorf("ledger config: deployment decimals must be positive")
	}
	return nil
}

// BuildClient instantiates the configured ledger client.
func (c *Config) BuildClient() (Reader, error) {
	builder, ok := lookupBuilder(c.Type)
	if !ok {
		return nil, fmt.Errorf("ledger client: unsupported type %q", c.Type)
	}
	client, err := builder(c)
	if err != nil {
		return nil, fmt.Errorf("ledger client %s: %w", c.Type, err)
	}
	return client, nil
}
