// Copyright 2019 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap-incubator/tinymvcc/kv/storage/undo"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
)

// Duration is a time.Duration that reads from and writes to TOML as a string such as "10ms".
type Duration struct {
	time.Duration
}

func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return errors.WithStack(err)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

const (
	PolicyFailFast = "fail-fast"
	PolicyWait     = "wait"
)

type BufferConfig struct {
	// Undo records per segment.
	SegmentSize int `toml:"segment-size" json:"segment-size"`
	// Maximum number of segments checked out at once.
	PoolCapacity int `toml:"pool-capacity" json:"pool-capacity"`
	// Released segments kept for reuse; the rest give their memory back. Zero means the default.
	ReuseLimit       int      `toml:"reuse-limit" json:"reuse-limit"`
	ExhaustionPolicy string   `toml:"exhaustion-policy" json:"exhaustion-policy"`
	WaitTimeout      Duration `toml:"wait-timeout" json:"wait-timeout"`
}

type GCConfig struct {
	Enabled  bool     `toml:"enabled" json:"enabled"`
	Interval Duration `toml:"interval" json:"interval"`
}

type TableConfig struct {
	// Tuple slots per block.
	BlockSize int `toml:"block-size" json:"block-size"`
}

type Config struct {
	Buffer BufferConfig `toml:"buffer" json:"buffer"`
	GC     GCConfig     `toml:"gc" json:"gc"`
	Table  TableConfig  `toml:"table" json:"table"`
	Log    log.Config   `toml:"log" json:"log"`
}

const (
	defaultSegmentSize  = 64
	defaultPoolCapacity = 100000
	defaultReuseLimit   = 10000
	defaultGCInterval   = 10 * time.Millisecond
	defaultBlockSize    = 1024
)

func getLogLevel() (logLevel string) {
	logLevel = "info"
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		logLevel = l
	}
	return
}

func NewDefaultConfig() *Config {
	return &Config{
		Buffer: BufferConfig{
			SegmentSize:      defaultSegmentSize,
			PoolCapacity:     defaultPoolCapacity,
			ReuseLimit:       defaultReuseLimit,
			ExhaustionPolicy: PolicyFailFast,
		},
		GC: GCConfig{
			Enabled:  true,
			Interval: NewDuration(defaultGCInterval),
		},
		Table: TableConfig{BlockSize: defaultBlockSize},
		Log:   log.Config{Level: getLogLevel()},
	}
}

func NewTestConfig() *Config {
	return &Config{
		Buffer: BufferConfig{
			SegmentSize:      8,
			PoolCapacity:     1024,
			ReuseLimit:       64,
			ExhaustionPolicy: PolicyFailFast,
		},
		GC: GCConfig{
			Enabled:  true,
			Interval: NewDuration(time.Millisecond),
		},
		Table: TableConfig{BlockSize: 64},
		Log:   log.Config{Level: getLogLevel()},
	}
}

// LoadFile reads a TOML file over the defaults. Keys the file sets but Config does not know are an error.
func LoadFile(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, errors.Annotatef(err, "load config %s", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, errors.Errorf("config contains undefined item: %s", strings.Join(keys, ", "))
	}
	cfg.Adjust()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func adjustInt(v *int, defValue int) {
	if *v == 0 {
		*v = defValue
	}
}

func adjustDuration(v *Duration, defValue time.Duration) {
	if v.Duration == 0 {
		v.Duration = defValue
	}
}

// Adjust fills in defaults for the values left at zero.
func (c *Config) Adjust() {
	adjustInt(&c.Buffer.SegmentSize, defaultSegmentSize)
	adjustInt(&c.Buffer.PoolCapacity, defaultPoolCapacity)
	adjustInt(&c.Buffer.ReuseLimit, defaultReuseLimit)
	if c.Buffer.ExhaustionPolicy == "" {
		c.Buffer.ExhaustionPolicy = PolicyFailFast
	}
	adjustDuration(&c.GC.Interval, defaultGCInterval)
	adjustInt(&c.Table.BlockSize, defaultBlockSize)
	if c.Log.Level == "" {
		c.Log.Level = getLogLevel()
	}
}

func (c *Config) Validate() error {
	if c.Buffer.SegmentSize <= 0 {
		return fmt.Errorf("segment size must be greater than 0")
	}
	if c.Buffer.PoolCapacity <= 0 {
		return fmt.Errorf("pool capacity must be greater than 0")
	}
	if c.Buffer.ReuseLimit < 0 {
		return fmt.Errorf("reuse limit must not be negative")
	}
	if c.Buffer.ReuseLimit > c.Buffer.PoolCapacity {
		log.Warn("reuse limit exceeds pool capacity, surplus is never used")
	}
	switch c.Buffer.ExhaustionPolicy {
	case PolicyFailFast, PolicyWait:
	default:
		return fmt.Errorf("unknown exhaustion policy %q", c.Buffer.ExhaustionPolicy)
	}
	if c.Buffer.WaitTimeout.Duration < 0 {
		return fmt.Errorf("wait timeout must not be negative")
	}
	if c.GC.Enabled && c.GC.Interval.Duration <= 0 {
		return fmt.Errorf("gc interval must be greater than 0")
	}
	if c.Table.BlockSize <= 0 {
		return fmt.Errorf("block size must be greater than 0")
	}
	return nil
}

// PoolOptions translates the buffer section for undo.NewSegmentPool.
func (c *Config) PoolOptions() undo.PoolOptions {
	policy := undo.FailFast
	if c.Buffer.ExhaustionPolicy == PolicyWait {
		policy = undo.Wait
	}
	return undo.PoolOptions{
		SegmentSize: c.Buffer.SegmentSize,
		Capacity:    c.Buffer.PoolCapacity,
		ReuseLimit:  c.Buffer.ReuseLimit,
		Policy:      policy,
		WaitTimeout: c.Buffer.WaitTimeout.Duration,
	}
}
