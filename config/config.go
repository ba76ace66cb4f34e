// Package config loads environment configuration for the storage engine,
// grounded on the teacher's server/conf.Cfg: an ini.File-backed struct with
// typed, defaulted fields. This module additionally accepts TOML files
// (github.com/pelletier/go-toml) since the teacher's go.mod carries that
// dependency too but never exercises it for anything storage-engine
// relevant; here it is the alternate config format.
package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
	"gopkg.in/ini.v1"

	"github.com/dbforge/bdbcore/errs"
)

// EnvConfig mirrors the environment region's configuration knobs from
// spec.md §3.1/§4.1, plus the mpool/lock sizing spec.md §3.3/§3.4 name.
type EnvConfig struct {
	Home string `ini:"home" toml:"home"`

	// mpool
	CacheSize    uint64 `ini:"cache_size" toml:"cache_size"`
	PageSize     uint32 `ini:"page_size" toml:"page_size"`
	NumCaches    int    `ini:"num_caches" toml:"num_caches"`
	MaxOpenFD    int    `ini:"mp_maxopenfd" toml:"mp_maxopenfd"`
	MaxWrite     int    `ini:"mp_maxwrite" toml:"mp_maxwrite"`
	MaxWriteSleepMS int `ini:"mp_maxwrite_sleep_ms" toml:"mp_maxwrite_sleep_ms"`

	// lock manager
	MaxLockers int           `ini:"max_lockers" toml:"max_lockers"`
	MaxLocks   int           `ini:"max_locks" toml:"max_locks"`
	MaxObjects int           `ini:"max_objects" toml:"max_objects"`
	LockTimeout   time.Duration `ini:"-" toml:"-"`
	TxnTimeout    time.Duration `ini:"-" toml:"-"`
	LockTimeoutMS int64         `ini:"lock_timeout_ms" toml:"lock_timeout_ms"`
	TxnTimeoutMS  int64         `ini:"txn_timeout_ms" toml:"txn_timeout_ms"`

	// recovery
	CheckpointIntervalSec int `ini:"checkpoint_interval_sec" toml:"checkpoint_interval_sec"`

	LogLevel string `ini:"log_level" toml:"log_level"`
}

// Default returns the configuration the teacher's NewCfg() applies: sane,
// small defaults suitable for an embedded single-process deployment.
func Default() *EnvConfig {
	return &EnvConfig{
		Home:                  "./envhome",
		CacheSize:             64 * 1024 * 1024,
		PageSize:              4096,
		NumCaches:             1,
		MaxOpenFD:             32,
		MaxWrite:              128,
		MaxWriteSleepMS:       10,
		MaxLockers:            1000,
		MaxLocks:              10000,
		MaxObjects:            10000,
		LockTimeoutMS:         0,
		TxnTimeoutMS:          0,
		CheckpointIntervalSec: 60,
		LogLevel:              "info",
	}
}

// Load reads an .ini or .toml file (chosen by extension) into a config that
// starts from Default(), so a partial file only overrides what it sets.
func Load(path string) (*EnvConfig, error) {
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := loadTOML(path, cfg); err != nil {
			return nil, err
		}
	default:
		if err := loadINI(path, cfg); err != nil {
			return nil, err
		}
	}
	cfg.LockTimeout = time.Duration(cfg.LockTimeoutMS) * time.Millisecond
	cfg.TxnTimeout = time.Duration(cfg.TxnTimeoutMS) * time.Millisecond
	return cfg, nil
}

func loadINI(path string, cfg *EnvConfig) error {
	raw, err := ini.Load(path)
	if err != nil {
		return errs.Wrap(errs.ErrIO, "config: load ini %s: %v", path, err)
	}
	if err := raw.Section("env").MapTo(cfg); err != nil {
		return errs.Wrap(errs.ErrInvalidArgument, "config: decode ini %s: %v", path, err)
	}
	return nil
}

func loadTOML(path string, cfg *EnvConfig) error {
	tree, err := toml.LoadFile(path)
	if err != nil {
		return errs.Wrap(errs.ErrIO, "config: load toml %s: %v", path, err)
	}
	if err := tree.Unmarshal(cfg); err != nil {
		return errs.Wrap(errs.ErrInvalidArgument, "config: decode toml %s: %v", path, err)
	}
	return nil
}
