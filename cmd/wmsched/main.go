package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"wmsched/internal/config"
	logx "wmsched/pkg/logx"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func (o *rootOptions) logger() logx.Logger {
	return logx.NewConsole(o.logLevel)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "wmsched",
		Short:         "Job scheduler for the welding controller",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath(config.BaseDir()), "service config file (JSON or YAML; optional)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level for offline commands")

	root.AddCommand(
		newRunCmd(opts),
		newCheckCmd(opts),
		newJobsCmd(opts),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "wmsched:", err)
		os.Exit(1)
	}
}
