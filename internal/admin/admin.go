// Package admin serves the read-only HTTP side port of a console session.
package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/x32emu/internal/auth"
	"github.com/danmuck/x32emu/internal/dispatch"
	"github.com/danmuck/x32emu/internal/observability"
	"github.com/danmuck/x32emu/internal/protocol"
	"github.com/danmuck/x32emu/internal/server"
	"github.com/danmuck/x32emu/internal/store"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const Version = "0.1.0"

// Session is the slice of server.Server the admin port reports on.
type Session interface {
	ID() string
	State() server.State
	Stats() server.Stats
}

// Option configures an Admin.
type Option func(*Admin)

// WithToken requires a bearer token accepted by v on every route except /health.
func WithToken(v auth.Validator) Option {
	return func(a *Admin) { a.validator = v }
}

type Admin struct {
	Addr    string
	Started time.Time

	d       *dispatch.Dispatcher
	session Session
	router  *gin.Engine
	httpSrv *http.Server

	validator auth.Validator
}

func New(addr string, d *dispatch.Dispatcher, session Session, corsOrigins []string, opts ...Option) *Admin {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestID())
	r.Use(observability.RequestLogger(observability.Component("admin")))
	r.Use(observability.RequestMetricsMiddleware("admin"))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization", observability.RequestIDHeader},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{
		Addr:    addr,
		Started: time.Now(),
		d:       d,
		session: session,
		router:  r,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.validator != nil {
		r.Use(auth.Require(a.validator, "/health"))
	}
	a.RegisterRoutes()
	return a
}

func (a *Admin) Router() *gin.Engine {
	return a.router
}

type paramView struct {
	Address string `json:"address"`
	Kind    string `json:"kind"`
	Value   string `json:"value"`
	Text    string `json:"text"`
}

type catalogView struct {
	Address string `json:"address"`
	Kind    string `json:"kind"`
	Access  string `json:"access"`
}

func (a *Admin) RegisterRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.Started).String(),
			"session": a.session.ID(),
			"version": Version,
		})
	})

	a.router.GET("/ready", func(c *gin.Context) {
		state := a.session.State()
		status := http.StatusOK
		if state != server.StateRunning {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   state == server.StateRunning,
			"state":   state.String(),
			"session": a.session.ID(),
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"stats":   a.session.Stats(),
			"remotes": a.d.Subscriptions().RemoteCount(time.Now()),
		})
	})

	a.router.GET("/params", func(c *gin.Context) {
		var list []paramView
		_ = a.d.Guard().View(func(r store.Reader) error {
			entries := r.Enumerate(c.Query("prefix"))
			list = make([]paramView, 0, len(entries))
			for _, e := range entries {
				list = append(list, viewOf(e.Address, e.Value))
			}
			return nil
		})
		c.JSON(http.StatusOK, gin.H{"count": len(list), "params": list})
	})

	a.router.GET("/param/*address", func(c *gin.Context) {
		addr := c.Param("address")
		var (
			value protocol.Argument
			ok    bool
		)
		_ = a.d.Guard().View(func(r store.Reader) error {
			value, ok = r.Get(addr)
			return nil
		})
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "parameter not set", "address": addr})
			return
		}
		c.JSON(http.StatusOK, viewOf(addr, value))
	})

	a.router.GET("/catalog", func(c *gin.Context) {
		reg := a.d.Registry()
		addrs := reg.Addresses(c.Query("prefix"))
		list := make([]catalogView, 0, len(addrs))
		for _, addr := range addrs {
			g, _ := reg.Generic(addr)
			list = append(list, catalogView{Address: addr, Kind: string(g.Kind), Access: g.Access.String()})
		}
		c.JSON(http.StatusOK, gin.H{"count": len(list), "params": list})
	})
}

func viewOf(address string, v protocol.Argument) paramView {
	return paramView{
		Address: address,
		Kind:    string(v.Kind()),
		Value:   v.Text(),
		Text:    protocol.Render(protocol.NewMessage(address, v)),
	}
}

// Serve blocks until Shutdown or a listener failure.
func (a *Admin) Serve() error {
	a.httpSrv = &http.Server{
		Addr:              a.Addr,
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info().Str("addr", a.Addr).Msg("admin listening")
	if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *Admin) Shutdown(ctx context.Context) error {
	if a.httpSrv == nil {
		return nil
	}
	return a.httpSrv.Shutdown(ctx)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
