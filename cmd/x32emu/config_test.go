package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/x32emu/internal/dispatch"
	"github.com/danmuck/x32emu/internal/server"
	"github.com/danmuck/x32emu/internal/store"
	"github.com/danmuck/x32emu/internal/testutil/testlog"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "x32emu.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadServeConfigDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadServeConfig("")
	require.NoError(t, err)
	require.Equal(t, server.DefaultListenAddr, cfg.Listen)
	require.Equal(t, server.DefaultReadTimeout, cfg.ReadTimeout)
	require.Empty(t, cfg.SeedFile)
	require.Empty(t, cfg.AdminListen)
	require.Equal(t, dispatch.DefaultIdentity(), cfg.Identity)
}

func TestLoadServeConfigExampleFile(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadServeConfig("ex.config.toml")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:10023", cfg.Listen)
	require.Equal(t, 50*time.Millisecond, cfg.ReadTimeout)
	require.Equal(t, "seed.txt", cfg.SeedFile)
	require.Equal(t, "127.0.0.1:7023", cfg.AdminListen)
	require.Empty(t, cfg.AdminToken)
	require.Equal(t, []string{"http://localhost:3000"}, cfg.CORSOrigins)
	require.Equal(t, "FOH Emulator", cfg.Identity.Name)
	require.Equal(t, "192.168.1.62", cfg.Identity.IP)
	require.Equal(t, dispatch.InfoModel, cfg.Identity.Model)
	require.Equal(t, dispatch.InfoFirmware, cfg.Identity.Firmware)
}

func TestLoadServeConfigEnvOverridesFile(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, "listen = \"127.0.0.1:1\"\nadmin_listen = \"127.0.0.1:2\"\n")
	t.Setenv("X32EMU_LISTEN", "127.0.0.1:20023")
	t.Setenv("X32EMU_READ_TIMEOUT", "250ms")
	t.Setenv("X32EMU_SEED_FILE", "/tmp/scene.txt")
	t.Setenv("X32EMU_ADMIN_TOKEN", "desk")

	cfg, err := loadServeConfig(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:20023", cfg.Listen)
	require.Equal(t, 250*time.Millisecond, cfg.ReadTimeout)
	require.Equal(t, "/tmp/scene.txt", cfg.SeedFile)
	require.Equal(t, "127.0.0.1:2", cfg.AdminListen)
	require.Equal(t, "desk", cfg.AdminToken)
}

func TestLoadServeConfigErrors(t *testing.T) {
	testlog.Start(t)
	_, err := loadServeConfig(writeConfig(t, "read_timeout = \"soon\"\n"))
	require.ErrorContains(t, err, "read_timeout")

	_, err = loadServeConfig(writeConfig(t, "listen = [\n"))
	require.ErrorContains(t, err, "load x32emu config")

	_, err = loadServeConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)

	t.Setenv("X32EMU_READ_TIMEOUT", "later")
	_, err = loadServeConfig("")
	require.ErrorContains(t, err, "parse environment")
}

func TestServeFlagsWinOverConfig(t *testing.T) {
	testlog.Start(t)
	cmd := newServeCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--listen", "127.0.0.1:30023", "--read-timeout", "10ms"}))

	cfg := defaultServeConfig()
	cfg.SeedFile = "from-file.txt"
	cfg.AdminListen = "127.0.0.1:7023"
	f := serveFlags{listen: "127.0.0.1:30023", readTimeout: 10 * time.Millisecond, seed: "ignored"}
	applyServeFlags(cmd, f, &cfg)

	require.Equal(t, "127.0.0.1:30023", cfg.Listen)
	require.Equal(t, 10*time.Millisecond, cfg.ReadTimeout)
	require.Equal(t, "from-file.txt", cfg.SeedFile)
	require.Equal(t, "127.0.0.1:7023", cfg.AdminListen)
}

func TestNormalizeList(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, normalizeList([]string{" a ", "", "\tb", "  "}))
	require.Empty(t, normalizeList(nil))
}

func TestBuildDispatcherAppliesSeed(t *testing.T) {
	testlog.Start(t)
	seed := filepath.Join(t.TempDir(), "seed.txt")
	require.NoError(t, os.WriteFile(seed, []byte(strings.Join([]string{
		"/ch/01/mix/fader,f 0.75",
		"/ch/01/config/name,s Kick",
	}, "\n")), 0o600))

	cfg := defaultServeConfig()
	cfg.SeedFile = seed
	cfg.Identity.Name = "Bench"
	d, err := buildDispatcher(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, "Bench", d.Identity().Name)

	var fader float32
	require.NoError(t, d.Guard().View(func(r store.Reader) error {
		got, ok := r.Get("/ch/01/mix/fader")
		require.True(t, ok)
		var err error
		fader, err = got.Float()
		return err
	}))
	require.InDelta(t, 0.75, fader, 1e-6)

	bad := filepath.Join(t.TempDir(), "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte("/ch/01/mix/fader,x 1\n"), 0o600))
	cfg.SeedFile = bad
	_, err = buildDispatcher(cfg, zerolog.Nop())
	require.ErrorIs(t, err, store.ErrMalformedSeed)

	// An int at a float fader must not reach the session.
	wrongKind := filepath.Join(t.TempDir(), "kind.txt")
	require.NoError(t, os.WriteFile(wrongKind, []byte("/ch/01/mix/fader,i 5\n"), 0o600))
	cfg.SeedFile = wrongKind
	_, err = buildDispatcher(cfg, zerolog.Nop())
	require.ErrorIs(t, err, store.ErrKindConflict)
}
