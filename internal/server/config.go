package server

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/feltworks/cardroom/internal/engine"
)

// Config is the full server configuration, decoded from HCL.
type Config struct {
	Server     *ServerSettings     `hcl:"server,block"`
	Store      *StoreSettings      `hcl:"store,block"`
	Kafka      *KafkaSettings      `hcl:"kafka,block"`
	ClickHouse *ClickHouseSettings `hcl:"clickhouse,block"`
	Variants   []VariantConfig     `hcl:"variant,block"`
}

// ServerSettings contains transport-level configuration.
type ServerSettings struct {
	Listen         string   `hcl:"listen,optional"`
	AllowedOrigins []string `hcl:"allowed_origins,optional"`
	LogLevel       string   `hcl:"log_level,optional"`
	ReturnURL      string   `hcl:"return_url,optional"`
}

// StoreSettings selects the persistence backend.
type StoreSettings struct {
	Driver string `hcl:"driver,optional"`
	DSN    string `hcl:"dsn,optional"`
}

// KafkaSettings configures hand-summary publishing. Disabled by default;
// the registry falls back to a no-op publisher.
type KafkaSettings struct {
	Enabled bool     `hcl:"enabled,optional"`
	Brokers []string `hcl:"brokers,optional"`
	Topic   string   `hcl:"topic,optional"`
	Group   string   `hcl:"group,optional"`
}

// ClickHouseSettings configures the analytics worker's sink.
type ClickHouseSettings struct {
	Addr     []string `hcl:"addr,optional"`
	Database string   `hcl:"database,optional"`
	Username string   `hcl:"username,optional"`
	Password string   `hcl:"password,optional"`
}

// VariantConfig defines one queueable table configuration. Delay fields are
// milliseconds.
type VariantConfig struct {
	Name              string `hcl:"name,label"`
	SmallBlind        int    `hcl:"small_blind"`
	BigBlind          int    `hcl:"big_blind"`
	StartingStack     int    `hcl:"starting_stack"`
	MaxPlayers        int    `hcl:"max_players,optional"`
	BuyIn             int    `hcl:"buy_in,optional"`
	TurnTimerMs       int    `hcl:"turn_timer_ms,optional"`
	PhaseTransitionMs int    `hcl:"phase_transition_delay_ms,optional"`
	RunoutDelayMs     int    `hcl:"runout_delay_ms,optional"`
	ShowdownDelayMs   int    `hcl:"showdown_delay_ms,optional"`
	BotFillAfterMs    int    `hcl:"bot_fill_after_ms,optional"`
	Category          string `hcl:"category,optional"`
}

// DefaultConfig returns the configuration used when no file is present: an
// in-memory store and a single casual six-max variant.
func DefaultConfig() *Config {
	return &Config{
		Server: &ServerSettings{
			Listen:         ":8080",
			AllowedOrigins: []string{"*"},
			LogLevel:       "info",
		},
		Store: &StoreSettings{Driver: "memory"},
		Kafka: &KafkaSettings{},
		ClickHouse: &ClickHouseSettings{
			Addr:     []string{"localhost:9000"},
			Database: "cardroom",
		},
		Variants: []VariantConfig{
			{
				Name:          "six-max",
				SmallBlind:    5,
				BigBlind:      10,
				StartingStack: 1000,
				MaxPlayers:    6,
				Category:      "casual",
			},
		},
	}
}

// LoadConfig reads an HCL config file. A missing file yields DefaultConfig;
// a present file is decoded and missing values filled in.
func LoadConfig(filename string) (*Config, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyDefaults()
		return cfg, nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var config Config
	diags = gohcl.DecodeBody(file.Body, nil, &config)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	config.applyDefaults()
	return &config, nil
}

// applyDefaults fills in anything the file left out.
func (c *Config) applyDefaults() {
	if c.Server == nil {
		c.Server = &ServerSettings{}
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Store == nil {
		c.Store = &StoreSettings{}
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Kafka == nil {
		c.Kafka = &KafkaSettings{}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "cardroom.hands"
	}
	if c.Kafka.Group == "" {
		c.Kafka.Group = "cardroom-analytics"
	}
	if c.ClickHouse == nil {
		c.ClickHouse = &ClickHouseSettings{}
	}
	if len(c.ClickHouse.Addr) == 0 {
		c.ClickHouse.Addr = []string{"localhost:9000"}
	}
	if c.ClickHouse.Database == "" {
		c.ClickHouse.Database = "cardroom"
	}
	if len(c.Variants) == 0 {
		c.Variants = DefaultConfig().Variants
	}
	for i := range c.Variants {
		v := &c.Variants[i]
		if v.MaxPlayers == 0 {
			v.MaxPlayers = 6
		}
		if v.TurnTimerMs == 0 {
			v.TurnTimerMs = 30000
		}
		if v.PhaseTransitionMs == 0 {
			v.PhaseTransitionMs = 1000
		}
		if v.RunoutDelayMs == 0 {
			v.RunoutDelayMs = 2000
		}
		if v.ShowdownDelayMs == 0 {
			v.ShowdownDelayMs = 5000
		}
		if v.Category == "" {
			v.Category = "casual"
		}
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server listen address must be set")
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("postgres store requires a dsn")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka is enabled but no brokers are configured")
	}
	if len(c.Variants) == 0 {
		return fmt.Errorf("at least one variant must be configured")
	}
	seen := make(map[string]bool, len(c.Variants))
	for _, v := range c.Variants {
		if seen[v.Name] {
			return fmt.Errorf("variant %s: duplicate name", v.Name)
		}
		seen[v.Name] = true
		if v.SmallBlind <= 0 {
			return fmt.Errorf("variant %s: small blind must be positive", v.Name)
		}
		if v.BigBlind <= v.SmallBlind {
			return fmt.Errorf("variant %s: big blind must be greater than small blind", v.Name)
		}
		if v.MaxPlayers < 2 || v.MaxPlayers > 10 {
			return fmt.Errorf("variant %s: max players must be between 2 and 10", v.Name)
		}
		if v.StartingStack < v.BigBlind*2 {
			return fmt.Errorf("variant %s: starting stack must cover at least two big blinds", v.Name)
		}
		switch engine.Category(v.Category) {
		case engine.CategoryCash:
			// Stacks are funded one-for-one from balances, so the ledger
			// stays consistent with chips in play.
			if v.BuyIn != v.StartingStack {
				return fmt.Errorf("variant %s: cash games require buy_in equal to starting_stack", v.Name)
			}
		case engine.CategoryCasual:
			if v.BuyIn != 0 {
				return fmt.Errorf("variant %s: casual games cannot charge a buy_in", v.Name)
			}
		default:
			return fmt.Errorf("variant %s: unknown category %q", v.Name, v.Category)
		}
	}
	return nil
}

// EngineVariants converts the variant blocks into engine configurations
// keyed by name, ready for the registry and the queue.
func (c *Config) EngineVariants() map[string]engine.Config {
	out := make(map[string]engine.Config, len(c.Variants))
	for _, v := range c.Variants {
		out[v.Name] = engine.Config{
			Variant:              v.Name,
			SmallBlind:           v.SmallBlind,
			BigBlind:             v.BigBlind,
			StartingStack:        v.StartingStack,
			MaxPlayers:           v.MaxPlayers,
			BuyIn:                v.BuyIn,
			TurnTimer:            time.Duration(v.TurnTimerMs) * time.Millisecond,
			PhaseTransitionDelay: time.Duration(v.PhaseTransitionMs) * time.Millisecond,
			RunoutDelay:          time.Duration(v.RunoutDelayMs) * time.Millisecond,
			ShowdownDelay:        time.Duration(v.ShowdownDelayMs) * time.Millisecond,
			BotFillAfter:         time.Duration(v.BotFillAfterMs) * time.Millisecond,
			Category:             engine.Category(v.Category),
		}
	}
	return out
}
