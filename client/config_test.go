package main

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) string {
	path := filepath.Join(dir, "lottery.toml")
	require.NoError(t, ioutil.WriteFile(path, []byte(content), 0644))
	return path
}

func TestReadConfig(t *testing.T) {
	dir, err := ioutil.TempDir("", "config")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	cfg, err := readConfig("")
	require.NoError(t, err)
	require.Equal(t, defaultConfig(), cfg)
	require.Equal(t, 24*time.Hour, cfg.registryConfig().DrawTimeout)

	cfg, err = readConfig(writeConfig(t, dir, `
Database = "/tmp/other.db"
Oracle = "beacon"
DrawTimeout = "90m"
`))
	require.NoError(t, err)
	require.Equal(t, "/tmp/other.db", cfg.Database)
	require.Equal(t, "lottery:custody", cfg.Custodian)
	rc := cfg.registryConfig()
	require.Equal(t, "beacon", string(rc.Oracle))
	require.Equal(t, 90*time.Minute, rc.DrawTimeout)

	_, err = readConfig(writeConfig(t, dir, `DrawTimeout = "soon"`))
	require.Error(t, err)
	_, err = readConfig(writeConfig(t, dir, `Oracle = "lottery:custody"`))
	require.Error(t, err)
	_, err = readConfig(filepath.Join(dir, "missing.toml"))
	require.Error(t, err)
}
