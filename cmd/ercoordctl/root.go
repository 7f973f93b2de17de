package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nmm0/ercoord/config"
)

// globalFlags mirrors the teacher's pattern of a handful of persistent
// flags bound once on the root command and read by every subcommand.
type globalFlags struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	gf := &globalFlags{}

	root := &cobra.Command{
		Use:           "ercoordctl",
		Short:         "Operate and inspect the ER coordinator's tracked sets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if gf.configPath == "" {
				gf.cfg = &config.Config{Global: config.NewGlobal()}
				return nil
			}
			cfg, err := config.ParseConfig(gf.configPath)
			if err != nil {
				return err
			}
			gf.cfg = cfg
			return nil
		},
	}

	flags := pflag.NewFlagSet("ercoordctl", pflag.ExitOnError)
	flags.StringVarP(&gf.configPath, "config", "c", "", "path to ercoordctl config file")
	root.PersistentFlags().AddFlagSet(flags)

	root.AddCommand(
		newSchemeCmd(gf),
		newSetCmd(gf),
		newCheckCmd(gf),
		newDiagnoseCmd(gf),
		newStatsCmd(gf),
		newFindCmd(gf),
		newWatchCmd(gf),
		newServeCmd(gf),
	)
	return root
}
