package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nmm0/ercoord"
	"github.com/nmm0/ercoord/internal/procgroup"
)

func newSchemeCmd(gf *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheme",
		Short: "Inspect the scheme a configured set is bound to",
	}

	var name string
	inspect := &cobra.Command{
		Use:   "show",
		Short: "Create and free a configured set's scheme and print its id (the codec variant is not printed)",
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := findSetConfig(gf, name)
			if err != nil {
				return err
			}
			lib, err := openLibrary(gf)
			if err != nil {
				return err
			}
			view := procgroup.Views(1)[0]
			id, err := lib.CreateScheme(cmd.Context(), ercoord.SchemeParams{
				Group: view, FailureDomain: set.FailureDomain,
				DataBlocks: set.DataBlocks, ErasureBlocks: set.ErasureBlocks,
			})
			if err != nil {
				return err
			}
			defer lib.FreeScheme(cmd.Context(), id)
			fmt.Printf("%s: scheme id %s %d\n", color.CyanString(set.Name), color.GreenString("created"), id)
			return nil
		},
	}
	inspect.Flags().StringVarP(&name, "name", "n", "", "configured set name")
	cmd.AddCommand(inspect)
	return cmd
}
