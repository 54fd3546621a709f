package main

import (
	"fmt"
	"strconv"

	"github.com/25x8/localseo-fulfillment/internal/fulfillment/catalog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [service]",
		Short: "Print the onboarding fields of a service as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := map[string]any{
				"service": args[0],
				"fields":  catalog.Default().Schema(args[0]),
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(out); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func packageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "package [amount-cents]",
		Short: "Resolve a checkout amount to its package and project template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cents, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[0], err)
			}

			cat := catalog.Default()
			name := cat.PackageForAmount(cents)
			tmpl := cat.Template(name)

			out := map[string]any{
				"amountCents": cents,
				"package":     name,
				"known":       !cat.IsUnknown(name),
				"template":    tmpl,
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(out); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
