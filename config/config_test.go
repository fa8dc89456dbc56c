// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("30s")))
	require.Equal(t, 30*time.Second, d.Duration)
}

func TestDurationUnmarshalTextInvalid(t *testing.T) {
	var d Duration
	require.Error(t, d.UnmarshalText([]byte("not-a-duration")))
}

func TestDatabaseDSN(t *testing.T) {
	db := &Database{Name: "zeta_main", User: "zeta", Host: "127.0.0.1", Port: 3306, Passwd: "secret"}
	require.Equal(t, "zeta:secret@tcp(127.0.0.1:3306)/zeta_main?parseTime=true&interpolateParams=true&timeout=30s", db.DSN())
}

func TestDatabaseDSNDefaultPort(t *testing.T) {
	db := &Database{Name: "zeta_main", User: "zeta", Host: "127.0.0.1", Passwd: "secret"}
	require.Contains(t, db.DSN(), "tcp(127.0.0.1:3306)")
}

func TestDatabaseDSNTemplate(t *testing.T) {
	db := &Database{User: "zeta", Host: "127.0.0.1", Port: 3306, Passwd: "secret"}
	tmpl := db.DSNTemplate()
	require.Contains(t, tmpl, "/%s?")
}

func TestDecrypterPassthroughWithoutEncMarker(t *testing.T) {
	dec := NewDecrypter("")
	out, err := dec.Decrypt("plain-value")
	require.NoError(t, err)
	require.Equal(t, "plain-value", out)
}

func TestNewDecrypterNilForEmptyKey(t *testing.T) {
	require.Nil(t, NewDecrypter(""))
}

func TestDatabaseDecryptNilDecrypterNoop(t *testing.T) {
	db := &Database{Passwd: "ENC(deadbeef)"}
	db.Decrypt(nil)
	require.Equal(t, "ENC(deadbeef)", db.Passwd)
}

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
listen = "0.0.0.0:9000"

[database]
name = "zeta_ns"
user = "root"
host = "db.internal"
port = 3306
passwd = "plain"

[bucket]
bucket = "zeta-objects"
access_key_id = "AKID"
access_key_secret = "SECRET"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path, false)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9000", cfg.Listen)
	require.Equal(t, "zeta_ns", cfg.DB.Name)
	require.Equal(t, "zeta-objects", cfg.Bucket.Name)
	require.Equal(t, 16, cfg.Compaction.SegmentThreshold)
	require.Equal(t, 5*time.Minute, cfg.IdleTimeout.Duration)
}

func TestLoadExpandsEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("listen = \"$ZETA_TEST_LISTEN\"\n"), 0o600))
	t.Setenv("ZETA_TEST_LISTEN", "10.0.0.1:21000")

	cfg, err := Load(path, true)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1:21000", cfg.Listen)
}
