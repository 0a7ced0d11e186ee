// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenNoFileOrEnv(t *testing.T) {
	loader := NewLoader("")
	cfg, err := loader.Load()
	require.NoError(t, err)

	require.Equal(t, []string{"dummy"}, cfg.Manager.Plugins)
	require.Equal(t, 60, cfg.Manager.MinutesBeforeEndLease)
	require.Equal(t, 1, cfg.Manager.EventMaxRetries)
	require.Equal(t, 10*time.Second, cfg.Manager.EventInterval)
	require.Equal(t, "file:leasecore.db", cfg.Store.DSN)
	require.Equal(t, ":8080", cfg.RPC.ListenAddr)
	require.Equal(t, 300, cfg.RPC.RateLimitPerMin)
	require.Equal(t, 50.0, cfg.Manager.PluginRate)
	require.Equal(t, 100, cfg.Manager.PluginBurst)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
manager:
  plugins: ["dummy", "vm"]
  minutesBeforeEndLease: 30
store:
  dsn: "file:other.db"
`), 0o644))

	loader := NewLoader(path)
	cfg, err := loader.Load()
	require.NoError(t, err)

	require.Equal(t, []string{"dummy", "vm"}, cfg.Manager.Plugins)
	require.Equal(t, 30, cfg.Manager.MinutesBeforeEndLease)
	require.Equal(t, "file:other.db", cfg.Store.DSN)
	// Untouched sections keep their defaults.
	require.Equal(t, ":8080", cfg.RPC.ListenAddr)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	cfg, err := loader.Load()
	require.NoError(t, err)
	require.Equal(t, []string{"dummy"}, cfg.Manager.Plugins)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  dsn: "file:from-file.db"
`), 0o644))

	t.Setenv("LEASECORE_STORE_DSN", "file:from-env.db")
	t.Setenv("LEASECORE_MANAGER_PLUGINS", "dummy,vm,gpu")

	loader := NewLoader(path)
	cfg, err := loader.Load()
	require.NoError(t, err)

	require.Equal(t, "file:from-env.db", cfg.Store.DSN)
	require.Equal(t, []string{"dummy", "vm", "gpu"}, cfg.Manager.Plugins)
}

func TestValidateRejectsNonPositiveSchedulerConcurrency(t *testing.T) {
	cfg := Defaults()
	cfg.Manager.SchedulerConcurrency = 0
	require.Error(t, Validate(cfg))
}

func TestValidateRejectsEmptyDSN(t *testing.T) {
	cfg := Defaults()
	cfg.Store.DSN = ""
	require.Error(t, Validate(cfg))
}

func TestHolderReloadPicksUpFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
manager:
  minutesBeforeEndLease: 10
`), 0o644))

	holder, err := NewHolder(NewLoader(path))
	require.NoError(t, err)
	require.Equal(t, 10, holder.Get().Manager.MinutesBeforeEndLease)

	require.NoError(t, os.WriteFile(path, []byte(`
manager:
  minutesBeforeEndLease: 20
`), 0o644))

	require.NoError(t, holder.Reload())
	require.Equal(t, 20, holder.Get().Manager.MinutesBeforeEndLease)
}

func TestHolderReloadKeepsOldConfigOnValidationFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  dsn: "file:good.db"
`), 0o644))

	holder, err := NewHolder(NewLoader(path))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`
store:
  dsn: ""
`), 0o644))

	err = holder.Reload()
	require.Error(t, err)
	require.Equal(t, "file:good.db", holder.Get().Store.DSN)
}

func TestHolderNotifiesListenersOnReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`logLevel: info`), 0o644))

	holder, err := NewHolder(NewLoader(path))
	require.NoError(t, err)

	ch := make(chan AppConfig, 1)
	holder.RegisterListener(ch)

	require.NoError(t, os.WriteFile(path, []byte(`logLevel: debug`), 0o644))
	require.NoError(t, holder.Reload())

	select {
	case cfg := <-ch:
		require.Equal(t, "debug", cfg.LogLevel)
	default:
		t.Fatal("expected reload notification")
	}
}
