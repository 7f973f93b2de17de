package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"
)

func newFindCmd(gf *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "find <query>",
		Short: "Fuzzy-match a partial name against the configured sets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			names := make([]string, len(gf.cfg.Sets))
			for i, s := range gf.cfg.Sets {
				names[i] = s.Name
			}
			matches := fuzzy.Find(args[0], names)
			if len(matches) == 0 {
				fmt.Println("no matches")
				return nil
			}
			for _, m := range matches {
				line := []rune(m.Str)
				highlighted := make([]byte, 0, len(line)*2)
				matched := make(map[int]bool, len(m.MatchedIndexes))
				for _, idx := range m.MatchedIndexes {
					matched[idx] = true
				}
				for i, r := range line {
					if matched[i] {
						highlighted = append(highlighted, []byte(color.YellowString(string(r)))...)
					} else {
						highlighted = append(highlighted, []byte(string(r))...)
					}
				}
				fmt.Printf("%s  (score %d)\n", highlighted, m.Score)
			}
			return nil
		},
	}
	return cmd
}
