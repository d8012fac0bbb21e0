package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/x32emu/internal/admin"
	"github.com/danmuck/x32emu/internal/auth"
	"github.com/danmuck/x32emu/internal/catalog"
	"github.com/danmuck/x32emu/internal/client"
	"github.com/danmuck/x32emu/internal/dispatch"
	"github.com/danmuck/x32emu/internal/observability"
	"github.com/danmuck/x32emu/internal/protocol"
	"github.com/danmuck/x32emu/internal/server"
	"github.com/danmuck/x32emu/internal/store"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "x32emu: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "x32emu",
		Short:         "Digital mixing console emulator and protocol tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newSendCmd(), newCatalogCmd(), newVersionCmd())
	return root
}

type serveFlags struct {
	config      string
	listen      string
	seed        string
	admin       string
	readTimeout time.Duration
}

func newServeCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the console emulator on a UDP port",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadServeConfig(f.config)
			if err != nil {
				return err
			}
			applyServeFlags(cmd, f, &cfg)
			logger := observability.InitLogger("x32emu")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringVarP(&f.config, "config", "c", "", "TOML config file")
	cmd.Flags().StringVarP(&f.listen, "listen", "l", server.DefaultListenAddr, "UDP listen address")
	cmd.Flags().StringVar(&f.seed, "seed", "", "seed file applied before serving")
	cmd.Flags().StringVar(&f.admin, "admin", "", "admin HTTP listen address (disabled when empty)")
	cmd.Flags().DurationVar(&f.readTimeout, "read-timeout", server.DefaultReadTimeout, "socket read timeout")
	return cmd
}

// applyServeFlags lets explicitly set flags win over file and environment.
func applyServeFlags(cmd *cobra.Command, f serveFlags, cfg *serveConfig) {
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Listen = f.listen
	}
	if flags.Changed("seed") {
		cfg.SeedFile = f.seed
	}
	if flags.Changed("admin") {
		cfg.AdminListen = f.admin
	}
	if flags.Changed("read-timeout") {
		cfg.ReadTimeout = f.readTimeout
	}
}

// buildDispatcher assembles catalog, builtins, seeded store and identity.
func buildDispatcher(cfg serveConfig, logger zerolog.Logger) (*dispatch.Dispatcher, error) {
	defs, err := catalog.Default()
	if err != nil {
		return nil, err
	}
	reg, err := dispatch.NewRegistry(append(defs, dispatch.Builtins()...)...)
	if err != nil {
		return nil, err
	}
	st := store.New()
	if cfg.SeedFile != "" {
		n, err := store.LoadSeedFile(st, cfg.SeedFile)
		if err != nil {
			return nil, err
		}
		if err := reg.Verify(st); err != nil {
			return nil, fmt.Errorf("seed %s: %w", cfg.SeedFile, err)
		}
		logger.Info().Str("file", cfg.SeedFile).Int("params", n).Msg("seed applied")
	}
	return dispatch.New(reg, store.NewGuard(st),
		dispatch.WithIdentity(cfg.Identity),
		dispatch.WithLogger(logger.With().Str("component", "dispatch").Logger()),
	), nil
}

func serve(ctx context.Context, cfg serveConfig, logger zerolog.Logger) error {
	d, err := buildDispatcher(cfg, logger)
	if err != nil {
		return err
	}
	srv := server.New(server.Config{ListenAddr: cfg.Listen, ReadTimeout: cfg.ReadTimeout}, d,
		server.WithLogger(logger.With().Str("component", "server").Logger()))
	if err := srv.Start(ctx); err != nil {
		return err
	}
	logger.Info().
		Str("listen", srv.Addr().String()).
		Int("params", d.Registry().Len()).
		Str("session", srv.ID()).
		Msg("console ready")

	var adm *admin.Admin
	adminErr := make(chan error, 1)
	if cfg.AdminListen != "" {
		var opts []admin.Option
		if cfg.AdminToken != "" {
			opts = append(opts, admin.WithToken(auth.StaticToken{Token: cfg.AdminToken}))
		}
		adm = admin.New(cfg.AdminListen, d, srv, cfg.CORSOrigins, opts...)
		go func() { adminErr <- adm.Serve() }()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case <-srv.Done():
		runErr = errors.New("service loop exited")
	case err := <-adminErr:
		if err != nil {
			runErr = fmt.Errorf("admin: %w", err)
		}
	}

	if err := srv.Stop(); err != nil {
		logger.Warn().Err(err).Msg("stop session")
	}
	if adm != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := adm.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("stop admin")
		}
	}
	return runErr
}

type sendFlags struct {
	target   string
	timeout  time.Duration
	attempts int
	wait     bool
	follow   time.Duration
}

func newSendCmd() *cobra.Command {
	var f sendFlags
	cmd := &cobra.Command{
		Use:   "send <command>...",
		Short: "Send textual commands, e.g. '/ch/01/mix/fader ,f 0.75'",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd.Context(), cmd.OutOrStdout(), f, args)
		},
	}
	cmd.Flags().StringVarP(&f.target, "target", "t", "127.0.0.1:10023", "console address")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 500*time.Millisecond, "reply timeout per attempt")
	cmd.Flags().IntVar(&f.attempts, "attempts", 3, "query attempts before giving up")
	cmd.Flags().BoolVarP(&f.wait, "wait", "w", false, "wait for a reply even when arguments are present")
	cmd.Flags().DurationVar(&f.follow, "follow", 0, "keep printing unsolicited messages for this long")
	return cmd
}

func runSend(ctx context.Context, out io.Writer, f sendFlags, commands []string) error {
	cfg := client.DefaultConfig()
	cfg.ReplyTimeout = f.timeout
	cfg.Attempts = f.attempts
	c, err := client.Dial(f.target, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	for _, line := range commands {
		msg, err := protocol.Parse(line)
		if err != nil {
			return err
		}
		if !msg.IsQuery() && !f.wait {
			if err := c.Send(ctx, msg); err != nil {
				return err
			}
			continue
		}
		reply, err := c.Query(ctx, msg)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, protocol.Render(reply))
	}

	if f.follow <= 0 {
		return nil
	}
	followCtx, cancel := context.WithTimeout(ctx, f.follow)
	defer cancel()
	for followCtx.Err() == nil {
		msg, err := c.Receive(followCtx)
		if errors.Is(err, client.ErrNoReply) {
			continue
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(out, protocol.Render(msg))
	}
	return nil
}

func newCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog [prefix]",
		Short: "List the parameters the emulator answers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			return printCatalog(cmd.OutOrStdout(), prefix)
		},
	}
}

func printCatalog(out io.Writer, prefix string) error {
	defs, err := catalog.Default()
	if err != nil {
		return err
	}
	reg, err := dispatch.NewRegistry(defs...)
	if err != nil {
		return err
	}
	var sb strings.Builder
	for _, addr := range reg.Addresses(prefix) {
		g, _ := reg.Generic(addr)
		fmt.Fprintf(&sb, "%s\t%c\t%s\n", addr, g.Kind, g.Access)
	}
	_, err = io.WriteString(out, sb.String())
	return err
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the x32emu version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "x32emu %s (firmware %s)\n", admin.Version, dispatch.InfoFirmware)
		},
	}
}
