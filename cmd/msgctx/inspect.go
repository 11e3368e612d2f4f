package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fxsml/msgctx"
)

type inspection struct {
	CorrelationID uuid.UUID     `json:"correlationId"`
	Context       msgctx.Basic  `json:"context"`
	Registered    *msgctx.Basic `json:"registered,omitempty"`
}

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [HEADER|-]",
		Short: "Extract a context header and print its contents",
		Long: `Extract a context header, register it in the store and print the decoded
context. With no argument or "-", the header is read from stdin.

When the store already held a context for the id, the registered one is
printed as well. Malformed headers exit with a non-zero status.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readHeader(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			p, closeStore, err := a.openProvider(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			_, mc, err := p.Extract(cmd.Context(), raw)
			if err != nil {
				return err
			}

			out := inspection{CorrelationID: mc.ID, Context: mc}
			registered, ok, err := p.Lookup(cmd.Context(), mc.ID)
			if err != nil {
				return err
			}
			if ok && !equalBasic(registered, mc) {
				out.Registered = &registered
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newLookupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup ID",
		Short: "Print the context registered for a correlation id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := msgctx.ParseCorrelationID(args[0])
			if err != nil {
				return fmt.Errorf("invalid id: %w", err)
			}

			p, closeStore, err := a.openProvider(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			mc, ok, err := p.Lookup(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no context registered for %s", id)
			}
			return writeJSON(cmd.OutOrStdout(), mc)
		},
	}
}

func newCompleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "complete ID",
		Short: "Release the context of a finished flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := msgctx.ParseCorrelationID(args[0])
			if err != nil {
				return fmt.Errorf("invalid id: %w", err)
			}

			p, closeStore, err := a.openProvider(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			return p.Complete(cmd.Context(), id)
		},
	}
}

func readHeader(stdin io.Reader, args []string) ([]byte, error) {
	if len(args) == 1 && args[0] != "-" {
		return []byte(args[0]), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("read header from stdin: %w", err)
	}
	return []byte(strings.TrimSpace(string(data))), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func equalBasic(a, b msgctx.Basic) bool {
	x, _ := json.Marshal(a)
	y, _ := json.Marshal(b)
	return string(x) == string(y)
}
