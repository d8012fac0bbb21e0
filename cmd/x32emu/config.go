package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/danmuck/x32emu/internal/dispatch"
	"github.com/danmuck/x32emu/internal/server"
)

type serveConfig struct {
	Listen      string
	ReadTimeout time.Duration
	SeedFile    string
	AdminListen string
	CORSOrigins []string
	AdminToken  string
	Identity    dispatch.Identity
}

type fileConfig struct {
	Listen      string            `toml:"listen"`
	ReadTimeout string            `toml:"read_timeout"`
	SeedFile    string            `toml:"seed_file"`
	AdminListen string            `toml:"admin_listen"`
	CORSOrigins []string          `toml:"cors_origins"`
	AdminToken  string            `toml:"admin_token"`
	Identity    dispatch.Identity `toml:"identity"`
}

type envConfig struct {
	Listen      string        `env:"X32EMU_LISTEN"`
	ReadTimeout time.Duration `env:"X32EMU_READ_TIMEOUT"`
	SeedFile    string        `env:"X32EMU_SEED_FILE"`
	AdminListen string        `env:"X32EMU_ADMIN_LISTEN"`
	AdminToken  string        `env:"X32EMU_ADMIN_TOKEN"`
}

func defaultServeConfig() serveConfig {
	return serveConfig{
		Listen:      server.DefaultListenAddr,
		ReadTimeout: server.DefaultReadTimeout,
		Identity:    dispatch.DefaultIdentity(),
	}
}

// loadServeConfig overlays the TOML file at path (if any) and then the
// environment on the defaults.
func loadServeConfig(path string) (serveConfig, error) {
	cfg := defaultServeConfig()
	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return serveConfig{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return serveConfig{}, err
	}
	return cfg, nil
}

func applyFile(cfg *serveConfig, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load x32emu config: %w", err)
	}

	if meta.IsDefined("listen") {
		cfg.Listen = strings.TrimSpace(raw.Listen)
	}
	if meta.IsDefined("read_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ReadTimeout))
		if err != nil {
			return fmt.Errorf("parse read_timeout: %w", err)
		}
		cfg.ReadTimeout = d
	}
	if meta.IsDefined("seed_file") {
		cfg.SeedFile = strings.TrimSpace(raw.SeedFile)
	}
	if meta.IsDefined("admin_listen") {
		cfg.AdminListen = strings.TrimSpace(raw.AdminListen)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeList(raw.CORSOrigins)
	}
	if meta.IsDefined("identity", "name") {
		cfg.Identity.Name = strings.TrimSpace(raw.Identity.Name)
	}
	if meta.IsDefined("identity", "model") {
		cfg.Identity.Model = strings.TrimSpace(raw.Identity.Model)
	}
	if meta.IsDefined("identity", "firmware") {
		cfg.Identity.Firmware = strings.TrimSpace(raw.Identity.Firmware)
	}
	if meta.IsDefined("identity", "ip") {
		cfg.Identity.IP = strings.TrimSpace(raw.Identity.IP)
	}
	return nil
}

func applyEnv(cfg *serveConfig) error {
	var e envConfig
	if err := env.Parse(&e); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	if e.Listen != "" {
		cfg.Listen = e.Listen
	}
	if e.ReadTimeout > 0 {
		cfg.ReadTimeout = e.ReadTimeout
	}
	if e.SeedFile != "" {
		cfg.SeedFile = e.SeedFile
	}
	if e.AdminListen != "" {
		cfg.AdminListen = e.AdminListen
	}
	if e.AdminToken != "" {
		cfg.AdminToken = e.AdminToken
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
