package serialscope

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(defaultViper())
	require.NoError(t, err)
	assert.Equal(t, "serial", cfg.Source)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
	assert.Equal(t, 115200, cfg.Serial.Baud)
	assert.Equal(t, 10*time.Millisecond, cfg.Tick)
	assert.Equal(t, 4096, cfg.MaxLinesPerTick)
	assert.Equal(t, 5600, cfg.Ports.Base)
	assert.Equal(t, 10*time.Second, cfg.LogInterval)

	ec, err := cfg.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultEngineConfig(), ec)
}

func TestLoadConfigOverrides(t *testing.T) {
	v := defaultViper()
	v.Set("channels", 3)
	v.Set("capacity", 1000)
	v.Set("tick", "25ms")
	v.Set("roll_style", "sliding")
	v.Set("trigger.edge", "negedge")
	v.Set("trigger.policy", "band")
	v.Set("trigger.channel", 2)
	cfg, err := LoadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, 25*time.Millisecond, cfg.Tick)

	ec, err := cfg.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, 3, ec.Channels)
	assert.Equal(t, 992, ec.Capacity, "capacity is rounded down to a multiple of 32")
	assert.Equal(t, WindowSliding, ec.RollStyle)
	assert.Equal(t, Falling, ec.Trigger.Edge)
	assert.Equal(t, PolicyBand, ec.Trigger.Policy)
	assert.Equal(t, 2, ec.Trigger.Channel)
}

func TestLoadConfigRejects(t *testing.T) {
	for key, value := range map[string]interface{}{
		"trigger.edge":     "sideways",
		"trigger.position": "last",
		"roll_style":       "zigzag",
		"stopped_policy":   "explode",
		"initial_mode":     "dancing",
		"channels":         4,
		"trigger.channel":  1,
		"tick":             "0s",
	} {
		v := defaultViper()
		v.Set(key, value)
		if _, err := LoadConfig(v); err == nil {
			t.Errorf("LoadConfig accepted %s=%v", key, value)
		}
	}
}

func TestQuantizeCapacity(t *testing.T) {
	cfg := Config{CapacityStep: 32, CapacityMin: 32, CapacityMax: 2048}
	var tests = []struct {
		in, out int
	}{
		{1024, 1024},
		{1055, 1024},
		{1056, 1056},
		{31, 32},
		{0, 32},
		{-5, 32},
		{5000, 2048},
	}
	for _, test := range tests {
		if got := cfg.QuantizeCapacity(test.in); got != test.out {
			t.Errorf("QuantizeCapacity(%d) = %d, want %d", test.in, got, test.out)
		}
	}
	assert.Equal(t, 7, Config{}.QuantizeCapacity(7), "zero settings do not quantize")
	assert.Equal(t, 1, Config{}.QuantizeCapacity(0), "capacity never drops below 1")
}

func TestStoreTriggerAndCapacity(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "config.yaml")
	v := defaultViper()
	v.SetConfigFile(fname)

	tc := TriggerConfig{Threshold: 1500, Edge: Falling, Policy: PolicyBand, Tolerance: 40, Position: PositionIndex, Index: 12}
	require.NoError(t, StoreTrigger(v, tc))
	require.NoError(t, StoreCapacity(v, 512))

	v2 := defaultViper()
	v2.SetConfigFile(fname)
	require.NoError(t, v2.ReadInConfig())
	cfg, err := LoadConfig(v2)
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.Capacity)
	got, err := cfg.Trigger.TriggerConfig()
	require.NoError(t, err)
	assert.Equal(t, tc, got)
}
