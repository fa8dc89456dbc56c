// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package config is the ambient TOML configuration layer every component
// loads its tunables from (SPEC_FULL.md §1): scratchpad DSN, bucket
// credentials, cache sizing, and the buffer/compaction thresholds spec.md
// §4.5/§4.6 name as parameters. Its Duration/Decrypt shape is carried over
// from pkg/serve/config.go and pkg/serve/httpserver/config.go's
// NewServerConfig, reinterpreted around one coordinator's full dependency
// set instead of the teacher's HTTP-server-only config.
package config

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/antgroup/zeta-edge/modules/streamio"
)

const miByte = 1 << 20

// newExpandReader mirrors pkg/serve/config.go's NewExpandReader: an
// optional os.ExpandEnv pass over the file before TOML decoding, so a
// deployment can reference $ZETA_DB_PASSWD etc. in its config file.
func newExpandReader(file string, expandEnv bool) (io.ReadCloser, error) {
	fd, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	if !expandEnv {
		return fd, nil
	}
	defer fd.Close() // nolint
	buf, err := streamio.GrowReadMax(fd, 64*miByte, 4096)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(os.ExpandEnv(string(buf)))), nil
}

// Duration decodes a TOML string like "30s" into a time.Duration, the same
// UnmarshalText hook pkg/serve/config.go's Duration implements.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// Database configures the scratchpad's go-sql-driver/mysql connection.
type Database struct {
	Name    string   `toml:"name"`
	User    string   `toml:"user"`
	Host    string   `toml:"host"`
	Port    int      `toml:"port"`
	Passwd  string   `toml:"passwd"`
	Timeout Duration `toml:"timeout,omitempty"`
}

func (d *Database) Decrypt(dec *Decrypter) {
	if dec == nil {
		return
	}
	if passwd, err := dec.Decrypt(d.Passwd); err == nil {
		d.Passwd = passwd
	}
}

// DSN renders the go-sql-driver/mysql data source name.
func (d *Database) DSN() string {
	timeout := d.Timeout.Duration
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return d.User + ":" + d.Passwd + "@tcp(" + d.Host + ":" + portString(d.Port) + ")/" + d.Name +
		"?parseTime=true&interpolateParams=true&timeout=" + timeout.String()
}

// DSNTemplate renders a DSN with a literal "%s" placeholder for the
// database name, for callers (like a multi-namespace coordinator registry)
// that substitute a per-repo schema name per connection.
func (d *Database) DSNTemplate() string {
	timeout := d.Timeout.Duration
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return d.User + ":" + d.Passwd + "@tcp(" + d.Host + ":" + portString(d.Port) + ")/%s" +
		"?parseTime=true&interpolateParams=true&timeout=" + timeout.String()
}

func portString(port int) string {
	if port == 0 {
		port = 3306
	}
	digits := [6]byte{}
	i := len(digits)
	for port > 0 {
		i--
		digits[i] = byte('0' + port%10)
		port /= 10
	}
	return string(digits[i:])
}

// Bucket configures the shared S3-compatible object store backing C4.
type Bucket struct {
	Endpoint        string `toml:"endpoint,omitempty"`
	Name            string `toml:"bucket"`
	AccessKeyID     string `toml:"access_key_id"`
	AccessKeySecret string `toml:"access_key_secret"`
	Region          string `toml:"region,omitempty"`
	UsePathStyle    bool   `toml:"use_path_style,omitempty"`
}

func (b *Bucket) Decrypt(d *Decrypter) {
	if d == nil {
		return
	}
	if accessKeyID, err := d.Decrypt(b.AccessKeyID); err == nil {
		b.AccessKeyID = accessKeyID
	}
	if accessKeySecret, err := d.Decrypt(b.AccessKeySecret); err == nil {
		b.AccessKeySecret = accessKeySecret
	}
}

// Cache configures the C3 ristretto-backed exact cache.
type Cache struct {
	NumCounters int64 `toml:"num_counters"`
	MaxCost     int64 `toml:"max_cost"`
	BufferItems int64 `toml:"buffer_items"`
}

// Buffer configures C5's back-pressure and flush thresholds.
type Buffer struct {
	MaxBufferedObjects int   `toml:"max_buffered_objects"`
	MaxBufferedBytes   int64 `toml:"max_buffered_bytes"`
	FlushObjects       int   `toml:"flush_objects"`
	FlushBytes         int64 `toml:"flush_bytes"`
}

// Compaction holds C6's trigger threshold and retry settings as read from
// the config file. The compaction package does not read them: it uses its
// own Threshold and MaxConsecutiveFailures constants.
type Compaction struct {
	SegmentThreshold int `toml:"segment_threshold,omitempty"`
	MaxRetries       int `toml:"max_retries,omitempty"`
}

// Config is the full per-coordinator configuration (SPEC_FULL.md §1/§2).
type Config struct {
	Listen       string      `toml:"listen"`
	Repositories string      `toml:"repositories"`
	IdleTimeout  Duration    `toml:"idle_timeout,omitempty"`
	DecryptedKey string      `toml:"decrypted_key,omitempty"`
	DB           *Database   `toml:"database"`
	Bucket       *Bucket     `toml:"bucket"`
	Cache        *Cache      `toml:"cache,omitempty"`
	Buffer       *Buffer     `toml:"buffer,omitempty"`
	Compaction   *Compaction `toml:"compaction,omitempty"`
}

// Load reads and decodes a TOML config file, applying the teacher's
// NewExpandReader-style default values before overlaying the file's
// contents.
func Load(path string, expandEnv bool) (*Config, error) {
	r, err := newExpandReader(path, expandEnv)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	cfg := &Config{
		Listen:      "127.0.0.1:21000",
		IdleTimeout: Duration{Duration: 5 * time.Minute},
		Cache:       &Cache{NumCounters: 1_000_000_000, MaxCost: 1, BufferItems: 64},
		Buffer:      &Buffer{MaxBufferedObjects: 20000, MaxBufferedBytes: 512 << 20, FlushObjects: 2000, FlushBytes: 64 << 20},
		Compaction:  &Compaction{SegmentThreshold: 16, MaxRetries: 3},
	}
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, err
	}
	dec := NewDecrypter(cfg.DecryptedKey)
	if cfg.DB != nil {
		cfg.DB.Decrypt(dec)
	}
	if cfg.Bucket != nil {
		cfg.Bucket.Decrypt(dec)
	}
	return cfg, nil
}
