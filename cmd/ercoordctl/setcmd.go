package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nmm0/ercoord"
	"github.com/nmm0/ercoord/internal/procgroup"
)

func newSetCmd(gf *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Drive a configured set's encode/rebuild/remove pipeline by hand",
	}
	cmd.AddCommand(
		newSetDirectionCmd(gf, "encode", ercoord.Encode),
		newSetDirectionCmd(gf, "rebuild", ercoord.Rebuild),
		newSetDirectionCmd(gf, "remove", ercoord.Remove),
	)
	return cmd
}

func newSetDirectionCmd(gf *globalFlags, use string, direction ercoord.Direction) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Dispatch %s for a configured set", use),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := findSetConfig(gf, name)
			if err != nil {
				return err
			}
			lib, err := openLibrary(gf)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			view := procgroup.Views(1)[0]

			var schemeID int
			if direction == ercoord.Encode {
				schemeID, err = lib.CreateScheme(ctx, ercoord.SchemeParams{
					Group: view, FailureDomain: set.FailureDomain,
					DataBlocks: set.DataBlocks, ErasureBlocks: set.ErasureBlocks,
				})
				if err != nil {
					return err
				}
				defer lib.FreeScheme(ctx, schemeID)
			}

			setID, err := lib.CreateSet(set.Name, direction, view, view, schemeID)
			if err != nil {
				return err
			}
			defer lib.FreeSet(setID)

			if direction == ercoord.Encode {
				for _, f := range set.Files {
					if err := lib.AddFile(setID, f); err != nil {
						return err
					}
				}
			}

			if err := lib.Dispatch(ctx, setID); err != nil {
				return err
			}
			fmt.Printf("%s %s: %s\n", color.CyanString(set.Name), use, color.GreenString("ok"))
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "configured set name")
	return cmd
}
