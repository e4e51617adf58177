package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/MinBZK/par-dpia-form/internal/config"
	"github.com/MinBZK/par-dpia-form/internal/logging"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type cli struct {
	v         *viper.Viper
	cfgFile   string
	debug     bool
	namespace string
	dotenv    string
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}
	cmd := &cobra.Command{
		Use:          "dpia",
		Short:        "dpia fills in and assesses Data Protection Impact Assessment forms",
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			logging.Init(c.debug)
			if err := godotenv.Load(c.dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", c.dotenv, err)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&c.cfgFile, "config", config.DefaultPath, "config file path")
	cmd.PersistentFlags().BoolVar(&c.debug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().StringVarP(&c.namespace, "namespace", "n", "", "namespace to operate on (defaults to the active one)")
	cmd.PersistentFlags().StringVar(&c.dotenv, "env-file", ".env", "environment file loaded before the config")
	if err := c.v.BindPFlag("active_namespace", cmd.PersistentFlags().Lookup("namespace")); err != nil {
		log.Warn().Err(err).Msg("dpia: failed to bind namespace flag")
	}

	cmd.AddCommand(
		c.validateCmd(),
		c.showCmd(),
		c.answerCmd(),
		c.addCmd(),
		c.removeCmd(),
		c.syncCmd(),
		c.pruneCmd(),
		c.navCmd(),
		c.assessCmd(),
		c.exportCmd(),
		c.importCmd(),
		c.historyCmd(),
		c.serveCmd(),
	)
	return cmd
}

func (c *cli) loadConfig(cmd *cobra.Command) (config.Config, error) {
	required := cmd.Flags().Changed("config")
	return config.Load(c.v, c.cfgFile, required)
}
