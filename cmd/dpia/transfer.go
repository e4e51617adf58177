package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MinBZK/par-dpia-form/internal/snapshot"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func (c *cli) exportCmd() *cobra.Command {
	var embedded bool
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the active namespace as a snapshot file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(a *app) error {
				var (
					data []byte
					err  error
				)
				if embedded {
					var env snapshot.Envelope
					env, err = a.session.ExportEmbedded()
					if err == nil {
						data, err = marshalIndent(env)
					}
				} else {
					data, err = a.session.Export().Marshal()
				}
				if err != nil {
					return err
				}

				if output == "-" {
					_, err := cmd.OutOrStdout().Write(append(data, '\n'))
					return err
				}
				path := output
				if path == "" {
					path = filepath.Join(a.cfg.Export.Dir, snapshot.Filename("json", time.Now()))
				}
				if err := os.WriteFile(path, data, 0o644); err != nil {
					return fmt.Errorf("write export: %w", err)
				}
				log.Info().Str("path", path).Bool("embedded", embedded).Msg("dpia: exported")
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&embedded, "embedded", false, "write the checksummed embedded form (DPIAData/DPIAChecksum)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (- for stdout; defaults to a timestamped file in export.dir)")
	return cmd
}

func (c *cli) importCmd() *cobra.Command {
	var embedded bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a snapshot file, replacing the state of the namespaces it contains",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return snapshot.NewValidationError(snapshot.CodeUnreadable, err)
			}
			return c.withApp(cmd, func(a *app) error {
				var applied []string
				if embedded {
					env, err := snapshot.ReadEnvelope(raw)
					if err != nil {
						return err
					}
					if applied, err = a.session.ImportEmbedded(cmd.Context(), env); err != nil {
						return err
					}
				} else if applied, err = a.session.Import(cmd.Context(), raw); err != nil {
					return err
				}
				for _, ns := range applied {
					fmt.Fprintf(cmd.OutOrStdout(), "imported %s\n", ns)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&embedded, "embedded", false, "read the checksummed embedded form")
	return cmd
}
