// Package config loads the YAML configuration tree described in the
// configuration reference, expanding ${data_dir} in nested string values
// and filling per-section defaults, following the style of netscope's
// internal/config/defaults.go (section banners, a Default() constructor).
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// General holds node identity and filesystem/log layout.
type General struct {
	NodeID   string `yaml:"node_id"`
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`
}

// Database configures the store's primary file and at-rest encryption gate.
type Database struct {
	Path               string `yaml:"path"`
	EncryptionEnabled  bool   `yaml:"encryption_enabled"`
	BackupDir          string `yaml:"backup_dir"`
	MaxRetries         int    `yaml:"max_retries"`
}

// GPS configures the GPS service (§4.1).
type GPS struct {
	Host         string  `yaml:"host"`
	Port         int     `yaml:"port"`
	PollInterval float64 `yaml:"poll_interval"`
	MinHDOP      float64 `yaml:"min_hdop"`
	MinSatellites int    `yaml:"min_satellites"`
	WaitForFix   bool    `yaml:"wait_for_fix"`
	FixTimeout   float64 `yaml:"fix_timeout"`
	Mode         string  `yaml:"mode"`
	SerialDevice string  `yaml:"serial_device"`
	SerialBaud   int     `yaml:"serial_baud"`
	HistorySize  int     `yaml:"history_size"`
}

// Kismet configures the upstream capture-daemon poller (§4.2). The section
// name matches the upstream daemon's own name, per the configuration
// reference table.
type Kismet struct {
	Host         string  `yaml:"host"`
	Port         int     `yaml:"port"`
	User         string  `yaml:"user"`
	Pass         string  `yaml:"pass"`
	PollInterval float64 `yaml:"poll_interval"`
}

// Capture configures the external packet-capture tool spawn (§6.3).
type Capture struct {
	Enabled      bool   `yaml:"enabled"`
	Interface    string `yaml:"interface"`
	MaxFileSizeMB int   `yaml:"max_file_size_mb"`
	FilesToKeep  int    `yaml:"files_to_keep"`
	Filter       string `yaml:"filter"`
}

// ChannelHopping configures the channel-hop policy (§4.3).
type ChannelHopping struct {
	DefaultMode string  `yaml:"default_mode"`
	FastRate    float64 `yaml:"fast_rate"`
	SlowRate    float64 `yaml:"slow_rate"`
}

// Power configures the power monitor (§4.7).
type Power struct {
	MonitorEnabled bool    `yaml:"monitor_enabled"`
	VoltageSource  string  `yaml:"voltage_source"`
	SourcePath     string  `yaml:"source_path"`
	PollInterval   float64 `yaml:"poll_interval"`
	Warn           float64 `yaml:"warn"`
	Critical       float64 `yaml:"critical"`
	Shutdown       float64 `yaml:"shutdown"`
}

type Config struct {
	General        General        `yaml:"general"`
	Database       Database       `yaml:"database"`
	GPS            GPS            `yaml:"gps"`
	Kismet         Kismet         `yaml:"kismet"`
	Capture        Capture        `yaml:"capture"`
	ChannelHopping ChannelHopping `yaml:"channel_hopping"`
	Power          Power          `yaml:"power"`
}

// Default returns a config with every field set to a sane, documented
// default, matching the defaults named throughout spec §4/§6.5.
func Default() Config {
	return Config{
		General: General{
			NodeID:   "airdump-node",
			DataDir:  "./data",
			LogLevel: "INFO",
		},
		Database: Database{
			Path:              "${data_dir}/database/airdump.db",
			EncryptionEnabled: false,
			BackupDir:         "${data_dir}/backup",
			MaxRetries:        3,
		},
		GPS: GPS{
			Host:          "127.0.0.1",
			Port:          2947,
			PollInterval:  1.0,
			MinHDOP:       4.0,
			MinSatellites: 4,
			WaitForFix:    false,
			FixTimeout:    10.0,
			Mode:          "auto",
			SerialBaud:    9600,
			HistorySize:   100,
		},
		Kismet: Kismet{
			Host:         "127.0.0.1",
			Port:         2501,
			PollInterval: 2.0,
		},
		Capture: Capture{
			Enabled:       false,
			MaxFileSizeMB: 50,
			FilesToKeep:   10,
		},
		ChannelHopping: ChannelHopping{
			DefaultMode: "adaptive",
			FastRate:    5.0,
			SlowRate:    1.0,
		},
		Power: Power{
			MonitorEnabled: false,
			VoltageSource:  "sysfs",
			PollInterval:   5.0,
			Warn:           3.5,
			Critical:       3.3,
			Shutdown:       3.1,
		},
	}
}

// Load reads a YAML file, merging over Default(), then expands ${data_dir}
// in every nested string field that references it.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		expand(&cfg)
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	expand(&cfg)
	return cfg, nil
}

func expand(cfg *Config) {
	dd := cfg.General.DataDir
	cfg.Database.Path = expandOne(cfg.Database.Path, dd)
	cfg.Database.BackupDir = expandOne(cfg.Database.BackupDir, dd)
	cfg.General.NodeID = expandOne(cfg.General.NodeID, dd)
	cfg.General.LogLevel = expandOne(cfg.General.LogLevel, dd)
	cfg.GPS.Host = expandOne(cfg.GPS.Host, dd)
	cfg.GPS.Mode = expandOne(cfg.GPS.Mode, dd)
	cfg.GPS.SerialDevice = expandOne(cfg.GPS.SerialDevice, dd)
	cfg.Kismet.Host = expandOne(cfg.Kismet.Host, dd)
	cfg.Kismet.User = expandOne(cfg.Kismet.User, dd)
	cfg.Kismet.Pass = expandOne(cfg.Kismet.Pass, dd)
	cfg.Capture.Interface = expandOne(cfg.Capture.Interface, dd)
	cfg.Capture.Filter = expandOne(cfg.Capture.Filter, dd)
	cfg.ChannelHopping.DefaultMode = expandOne(cfg.ChannelHopping.DefaultMode, dd)
	cfg.Power.VoltageSource = expandOne(cfg.Power.VoltageSource, dd)
	cfg.Power.SourcePath = expandOne(cfg.Power.SourcePath, dd)
}

func expandOne(s, dataDir string) string {
	return strings.ReplaceAll(s, "${data_dir}", dataDir)
}
