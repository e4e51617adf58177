package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/MinBZK/par-dpia-form/internal/config"
	"github.com/MinBZK/par-dpia-form/internal/session"
	"github.com/MinBZK/par-dpia-form/internal/web"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func (c *cli) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if addr != "" {
				a.cfg.Server.Addr = addr
			}

			fxApp := fx.New(
				fx.NopLogger,
				fx.Supply(a.cfg, a.session),
				fx.Provide(web.NewServer, newHTTPServer),
				fx.Invoke(func(*http.Server) {}),
				fx.StopTimeout(shutdownTimeout(a.cfg)),
			)
			if err := fxApp.Err(); err != nil {
				return err
			}
			if err := fxApp.Start(cmd.Context()); err != nil {
				return err
			}
			select {
			case <-cmd.Context().Done():
			case sig := <-fxApp.Wait():
				log.Info().Str("signal", sig.String()).Msg("dpia: shutting down")
			}
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(a.cfg))
			defer cancel()
			return fxApp.Stop(stopCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func shutdownTimeout(cfg config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout <= 0 {
		return 5 * time.Second
	}
	return cfg.Server.ShutdownTimeout
}

func newHTTPServer(lc fx.Lifecycle, cfg config.Config, s *session.Session, api *web.Server) *http.Server {
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info().Str("addr", ln.Addr().String()).Strs("namespaces", s.Names()).Msg("dpia: serving API")
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error().Err(err).Msg("dpia: server stopped")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
	return srv
}
