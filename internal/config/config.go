// Package config handles service and tool configuration loading.
package config

import (
	"time"

	"github.com/Faultbox/midgard-nav/internal/navgraph"
	"github.com/Faultbox/midgard-nav/internal/zonemap"
)

// Config holds all settings.
type Config struct {
	Data    DataConfig    `yaml:"data"`
	Nav     NavConfig     `yaml:"nav"`
	Logging LoggingConfig `yaml:"logging"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
}

// DataConfig holds zone data file locations.
type DataConfig struct {
	Dir string `yaml:"dir"` // Directory holding <zone>.map and <zone>.wtr
}

// NavConfig holds the nav graph build thresholds.
type NavConfig struct {
	StepSizeLand      float32 `yaml:"step_size_land"`
	StepSizeWater     float32 `yaml:"step_size_water"`
	MaxSlopeOnLand    float32 `yaml:"max_slope_on_land"` // degrees
	ConnectRangeLand  float32 `yaml:"connect_range_land"`
	ConnectRangeWater float32 `yaml:"connect_range_water"`
	AgentHeight       float32 `yaml:"agent_height"`
	HazardStep        float32 `yaml:"hazard_step"`
	MaxHazardDiff     float32 `yaml:"max_hazard_diff"`
	FloorRange        float32 `yaml:"floor_range"`
	Workers           int     `yaml:"workers"` // 0 = GOMAXPROCS
}

// Settings converts the thresholds for the graph builder.
func (n NavConfig) Settings() navgraph.Settings {
	return navgraph.Settings{
		StepSizeLand:      n.StepSizeLand,
		StepSizeWater:     n.StepSizeWater,
		MaxSlopeOnLand:    n.MaxSlopeOnLand,
		ConnectRangeLand:  n.ConnectRangeLand,
		ConnectRangeWater: n.ConnectRangeWater,
		AgentHeight:       n.AgentHeight,
		HazardStep:        n.HazardStep,
		MaxHazardDiff:     n.MaxHazardDiff,
		Workers:           n.Workers,
	}
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
	JSON    bool   `yaml:"json"`
}

// ServerConfig holds zone-info service settings.
type ServerConfig struct {
	Listen       string        `yaml:"listen"`
	CacheEntries int64         `yaml:"cache_entries"` // best_z results kept
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	BuildOnLoad  bool          `yaml:"build_on_load"`
}

// StorageConfig holds the nav graph cache settings.
type StorageConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	nav := navgraph.DefaultSettings()
	return &Config{
		Data: DataConfig{
			Dir: "maps",
		},
		Nav: NavConfig{
			StepSizeLand:      nav.StepSizeLand,
			StepSizeWater:     nav.StepSizeWater,
			MaxSlopeOnLand:    nav.MaxSlopeOnLand,
			ConnectRangeLand:  nav.ConnectRangeLand,
			ConnectRangeWater: nav.ConnectRangeWater,
			AgentHeight:       nav.AgentHeight,
			HazardStep:        nav.HazardStep,
			MaxHazardDiff:     nav.MaxHazardDiff,
			FloorRange:        zonemap.DefaultFloorRange,
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
		Server: ServerConfig{
			Listen:       ":8080",
			CacheEntries: 100_000,
			CacheTTL:     5 * time.Minute,
		},
		Storage: StorageConfig{
			Enabled: false,
			Dir:     "navcache",
		},
	}
}
