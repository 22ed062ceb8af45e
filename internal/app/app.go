package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirebus/internal/config"
	"github.com/vovakirdan/wirebus/internal/core"
	transporthttp "github.com/vovakirdan/wirebus/internal/transport/http"
	unixtransport "github.com/vovakirdan/wirebus/internal/transport/unix"
)

// App wires the hub to its listening socket and admin server.
type App struct {
	hub             *core.Hub
	listener        *unixtransport.Listener
	admin           *stdhttp.Server
	adminLn         net.Listener
	shutdownTimeout time.Duration
	log             *zerolog.Logger
}

// New binds the hub socket and, when configured, the admin address.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	mode, err := cfg.FileMode()
	if err != nil {
		return nil, err
	}

	listener, err := unixtransport.Listen(unixtransport.Options{
		Mode:             mode,
		HandshakeTimeout: cfg.HandshakeTimeout,
		Wire:             cfg.WireOptions(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init listener: %w", err)
	}
	logger.Info().Str("socket", listener.Path()).Msg("hub socket bound")

	hub := core.NewHub(core.Options{QueueCapacity: cfg.QueueCapacity}, logger)

	a := &App{
		hub:             hub,
		listener:        listener,
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             logger,
	}

	if cfg.AdminAddr != "" {
		ln, err := net.Listen("tcp", cfg.AdminAddr)
		if err != nil {
			_ = listener.Close()
			return nil, fmt.Errorf("listen admin %s: %w", cfg.AdminAddr, err)
		}
		a.adminLn = ln
		a.admin = transporthttp.NewServer(hub, cfg, logger)
		logger.Info().Str("addr", ln.Addr().String()).Msg("admin server bound")
	}

	return a, nil
}

// Hub returns the running hub.
func (a *App) Hub() *core.Hub {
	return a.hub
}

// SocketPath returns the path clients connect to.
func (a *App) SocketPath() string {
	return a.listener.Path()
}

// AdminAddr returns the bound admin address, or nil when the admin server is disabled.
func (a *App) AdminAddr() net.Addr {
	if a.adminLn == nil {
		return nil
	}
	return a.adminLn.Addr()
}

// Run serves until ctx is cancelled or a component fails, then stops everything.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.hub.Run(gctx, a.listener)
	})

	if a.admin != nil {
		g.Go(func() error {
			if err := a.admin.Serve(a.adminLn); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
			defer cancel()

			a.log.Info().Msg("shutting down admin server")
			return a.admin.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	return multierr.Append(err, a.cleanup())
}

// cleanup releases the socket file even if the hub never ran.
func (a *App) cleanup() error {
	err := a.listener.Close()
	if err != nil {
		a.log.Warn().Err(err).Msg("failed to close listener")
	} else {
		a.log.Info().Msg("hub socket removed")
	}
	return err
}
