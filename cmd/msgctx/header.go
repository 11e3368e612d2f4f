package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fxsml/msgctx"
)

func newHeaderCmd(a *app) *cobra.Command {
	var (
		id     string
		source string
	)

	cmd := &cobra.Command{
		Use:   "header",
		Short: "Print the outbound context header for a correlation",
		Long: `Print the serialized context header for a correlation id.

Without --id a new correlation is started. An id already registered in the
store yields its registered context; otherwise a new context is created.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cid, err := msgctx.ParseCorrelationID(id)
			if err != nil {
				return fmt.Errorf("invalid --id: %w", err)
			}
			if source != "" {
				a.cfg.Source = source
			}

			p, closeStore, err := a.openProvider(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			header, err := p.OutboundHeader(cmd.Context(), cid)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(header))
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "correlation id (default: new id)")
	cmd.Flags().StringVar(&source, "source", "", "source recorded in created contexts")
	return cmd
}
