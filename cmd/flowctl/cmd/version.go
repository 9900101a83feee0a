package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"flowsight/pkg/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.GetInfo()
			if output == "json" {
				payload, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(payload))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "flowctl %s (commit %s, built %s)\n",
				info.Version, version.GetShortCommit(), info.BuildDate)
			return nil
		},
	}
}
