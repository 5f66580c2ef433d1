package iris

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hhcho/irismpc/mpc"
)

type Config struct {
	BindingIP string `toml:"binding_ipaddr"`
	Servers   map[string]mpc.Server

	SharedKeysPath string `toml:"shared_keys_path"`
	RefreshPrfKeys bool   `toml:"refresh_prf_keys"`
	PeerTimeoutSec int    `toml:"peer_timeout_sec"`

	NumDevices        int   `toml:"num_devices"`
	DeviceMemoryLimit int64 `toml:"device_memory_limit"`
	ChunkSize         int   `toml:"chunk_size"`

	MatchThresholdRatio float64 `toml:"match_threshold_ratio"`
	BBits               uint    `toml:"b_bits"`

	LocalNumThreads int    `toml:"local_num_threads"`
	MemoryLimit     uint64 `toml:"memory_limit"`

	DebugLevel int    `toml:"debug_level"`
	TimerTag   string `toml:"timer_tag"`
}

// DefaultConfig is used for in-process simulation.
func DefaultConfig() *Config {
	return &Config{
		PeerTimeoutSec:      30,
		NumDevices:          2,
		MatchThresholdRatio: mpc.MatchThresholdRatio,
		BBits:               mpc.DefaultBBits,
		DebugLevel:          1,
	}
}

// LoadConfig reads configGlobal.toml and then configLocal.Party<pid>.toml
// from dir, the local file overriding the global one.
func LoadConfig(dir string, pid mpc.PartyID) (*Config, error) {
	config := DefaultConfig()

	// Import global parameters
	if _, err := toml.DecodeFile(filepath.Join(dir, "configGlobal.toml"), config); err != nil {
		return nil, err
	}

	// Import local parameters
	if _, err := toml.DecodeFile(filepath.Join(dir, fmt.Sprintf("configLocal.Party%d.toml", int(pid))), config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects configurations that would fail later during setup.
func (config *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return &mpc.ConfigError{Op: "config", Msg: fmt.Sprintf(format, args...)}
	}
	if config.NumDevices <= 0 {
		return invalid("num_devices must be positive, got %d", config.NumDevices)
	}
	if config.ChunkSize < 0 {
		return invalid("chunk_size must not be negative, got %d", config.ChunkSize)
	}
	if config.PeerTimeoutSec <= 0 {
		return invalid("peer_timeout_sec must be positive, got %d", config.PeerTimeoutSec)
	}
	if _, err := mpc.NewThresholdParams(config.MatchThresholdRatio, config.BBits); err != nil {
		return err
	}
	return nil
}

func (config *Config) PeerTimeout() time.Duration {
	return time.Duration(config.PeerTimeoutSec) * time.Second
}

func (config *Config) ThresholdParams() (mpc.ThresholdParams, error) {
	return mpc.NewThresholdParams(config.MatchThresholdRatio, config.BBits)
}
