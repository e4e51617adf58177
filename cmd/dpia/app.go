package main

import (
	"fmt"

	"github.com/MinBZK/par-dpia-form/internal/config"
	"github.com/MinBZK/par-dpia-form/internal/db"
	"github.com/MinBZK/par-dpia-form/internal/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// app is a started session with its config and optional store.
type app struct {
	cfg     config.Config
	session *session.Session
	store   *db.Store
	closeFn func()
}

func (a *app) Close() {
	a.closeFn()
}

func (c *cli) openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	docs, err := session.LoadDocuments(cfg.Namespaces)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, closeFn: func() {}}
	opts := session.Options{RiskMatrix: cfg.RiskMatrix}
	if cfg.Storage.Autosave {
		conn, err := db.Open(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		a.store = db.NewStore(conn)
		a.closeFn = func() { _ = conn.Close() }
		opts.Store = a.store
	} else {
		log.Warn().Msg("dpia: autosave disabled, changes are kept in memory only")
	}

	s, err := session.New(docs, opts)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := s.Start(cmd.Context()); err != nil {
		a.Close()
		return nil, fmt.Errorf("start session: %w", err)
	}
	if cfg.ActiveNamespace != "" {
		if err := s.SetActive(cfg.ActiveNamespace); err != nil {
			log.Warn().Err(err).Str("namespace", cfg.ActiveNamespace).Msg("dpia: keeping default active namespace")
		}
	}
	a.session = s
	return a, nil
}

// withApp opens the app, runs fn and closes it.
func (c *cli) withApp(cmd *cobra.Command, fn func(a *app) error) error {
	a, err := c.openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
