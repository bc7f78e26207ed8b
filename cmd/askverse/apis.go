package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"askverse/internal/adapter/openapi"
	"askverse/internal/infra/logger"
)

var indexAPIsCmd = &cobra.Command{
	Use:   "index-apis",
	Short: "List the endpoints parsed from the API spec directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := initRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		dir := openapi.NewDirectory(0, logger.Component(rt.Logger, "openapi"))
		if err := dir.Load(rt.Config.OpenAPI.SpecsDir); err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SPEC\tMETHOD\tURL\tSUMMARY")
		eps := dir.List()
		for _, ep := range eps {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ep.SpecID, ep.Method, ep.URL, ep.Summary)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d endpoints from %d specs\n", len(eps), len(dir.Specs()))
		return nil
	},
}
