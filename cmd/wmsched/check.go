package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"wmsched/internal/app"
)

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the service config and the jobs file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, jobs, problems, err := app.Check(opts.configPath, opts.logger())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range problems {
				fmt.Fprintln(out, p.String())
			}
			fmt.Fprintf(out, "%s: %d jobs, %d problems\n", path, len(jobs), len(problems))
			if len(problems) > 0 {
				return fmt.Errorf("%d problems found", len(problems))
			}
			return nil
		},
	}
}
