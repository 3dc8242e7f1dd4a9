package serialscope

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// SerialConfig holds the serial port settings.
type SerialConfig struct {
	Port string
	Baud int
}

// TriggerSettings is the stored form of a TriggerConfig, with names in place
// of the enumerated values.
type TriggerSettings struct {
	Threshold float64
	Edge      string
	Policy    string
	Tolerance float64
	Position  string
	Index     int
	Channel   int
}

// Config is everything serialscope reads from its configuration file.
type Config struct {
	Source          string
	Serial          SerialConfig
	Channels        int
	Capacity        int
	CapacityStep    int `mapstructure:"capacity_step"`
	CapacityMin     int `mapstructure:"capacity_min"`
	CapacityMax     int `mapstructure:"capacity_max"`
	Rate            float64
	Tick            time.Duration
	MaxLinesPerTick int    `mapstructure:"max_lines_per_tick"`
	RollStyle       string `mapstructure:"roll_style"`
	StoppedPolicy   string `mapstructure:"stopped_policy"`
	NormalTriggered bool   `mapstructure:"normal_triggered"`
	InitialMode     string `mapstructure:"initial_mode"`
	Trigger         TriggerSettings
	Ports           struct{ Base int }
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	LogInterval     time.Duration `mapstructure:"log_interval"`
}

// SetDefaults registers the default of every configuration key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("source", "serial")
	v.SetDefault("serial.port", "/dev/ttyUSB0")
	v.SetDefault("serial.baud", 115200)
	v.SetDefault("channels", 1)
	v.SetDefault("capacity", 1024)
	v.SetDefault("capacity_step", 32)
	v.SetDefault("capacity_min", 32)
	v.SetDefault("capacity_max", 2048)
	v.SetDefault("rate", 1000.0)
	v.SetDefault("tick", 10*time.Millisecond)
	v.SetDefault("max_lines_per_tick", 4096)
	v.SetDefault("roll_style", "batch")
	v.SetDefault("stopped_policy", "discard")
	v.SetDefault("normal_triggered", false)
	v.SetDefault("initial_mode", "roll")
	v.SetDefault("trigger.threshold", 2048.0)
	v.SetDefault("trigger.edge", "rising")
	v.SetDefault("trigger.policy", "edge")
	v.SetDefault("trigger.tolerance", 100.0)
	v.SetDefault("trigger.position", "midpoint")
	v.SetDefault("trigger.index", 0)
	v.SetDefault("trigger.channel", 0)
	v.SetDefault("ports.base", 5600)
	v.SetDefault("metrics_addr", ":9560")
	v.SetDefault("log_interval", 10*time.Second)
}

// LoadConfig reads the configuration held by v and checks that every named
// value can be parsed.
func LoadConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("reading configuration: %w", err)
	}
	if _, err := cfg.EngineConfig(); err != nil {
		return cfg, err
	}
	if _, err := ParseMode(cfg.InitialMode); err != nil {
		return cfg, err
	}
	if cfg.Tick <= 0 {
		return cfg, fmt.Errorf("tick %v must be positive", cfg.Tick)
	}
	return cfg, nil
}

// TriggerConfig converts the stored trigger settings.
func (ts TriggerSettings) TriggerConfig() (TriggerConfig, error) {
	tc := TriggerConfig{
		Threshold: ts.Threshold,
		Tolerance: ts.Tolerance,
		Index:     ts.Index,
		Channel:   ts.Channel,
	}
	var err error
	if tc.Edge, err = ParseEdge(ts.Edge); err != nil {
		return tc, err
	}
	if tc.Policy, err = ParseTriggerPolicy(ts.Policy); err != nil {
		return tc, err
	}
	if tc.Position, err = ParseTriggerPosition(ts.Position); err != nil {
		return tc, err
	}
	return tc, nil
}

// EngineConfig builds the Engine configuration, with the capacity quantized.
func (c Config) EngineConfig() (EngineConfig, error) {
	tc, err := c.Trigger.TriggerConfig()
	if err != nil {
		return EngineConfig{}, err
	}
	ec := EngineConfig{
		Channels:        c.Channels,
		Capacity:        c.QuantizeCapacity(c.Capacity),
		Trigger:         tc,
		NormalTriggered: c.NormalTriggered,
	}
	if ec.RollStyle, err = ParseRollStyle(c.RollStyle); err != nil {
		return ec, err
	}
	if ec.StoppedPolicy, err = ParseStoppedPolicy(c.StoppedPolicy); err != nil {
		return ec, err
	}
	return ec, ec.Validate()
}

// QuantizeCapacity rounds n down to a multiple of CapacityStep and clamps it
// to [CapacityMin, CapacityMax]. Zero settings disable the matching rule.
func (c Config) QuantizeCapacity(n int) int {
	if c.CapacityStep > 0 {
		n -= n % c.CapacityStep
	}
	if c.CapacityMax > 0 && n > c.CapacityMax {
		n = c.CapacityMax
	}
	if n < c.CapacityMin {
		n = c.CapacityMin
	}
	if n < 1 {
		n = 1
	}
	return n
}

// SourceOptions returns the settings needed to open the configured source.
func (c Config) SourceOptions() SourceOptions {
	return SourceOptions{
		Port:     c.Serial.Port,
		Baud:     c.Serial.Baud,
		MaxLines: c.MaxLinesPerTick,
		Channels: c.Channels,
		Rate:     c.Rate,
	}
}

// StoreTrigger records tc in v and writes the configuration file, so the
// next session starts with it.
func StoreTrigger(v *viper.Viper, tc TriggerConfig) error {
	v.Set("trigger.threshold", tc.Threshold)
	v.Set("trigger.edge", tc.Edge.String())
	v.Set("trigger.policy", tc.Policy.String())
	v.Set("trigger.tolerance", tc.Tolerance)
	v.Set("trigger.position", tc.Position.String())
	v.Set("trigger.index", tc.Index)
	v.Set("trigger.channel", tc.Channel)
	return v.WriteConfig()
}

// StoreCapacity records the buffer capacity in v and writes the configuration file.
func StoreCapacity(v *viper.Viper, capacity int) error {
	v.Set("capacity", capacity)
	return v.WriteConfig()
}
