package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/muesli/reflow/wordwrap"
	"github.com/spf13/cobra"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
	yaml "go.yaml.in/yaml/v4"
)

// loadAsJSON reads a kvtree-backed YAML file (a state file replica) and
// re-encodes it as JSON, since gojsondiff operates on JSON documents.
func loadAsJSON(path string) (map[string]any, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("diagnose: read %s: %w", path, err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, nil, fmt.Errorf("diagnose: unmarshal %s: %w", path, err)
	}
	out, err := json.Marshal(m)
	if err != nil {
		return nil, nil, fmt.Errorf("diagnose: marshal %s: %w", path, err)
	}
	return m, out, nil
}

func newDiagnoseCmd(gf *globalFlags) *cobra.Command {
	var left, right string
	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Pretty-print the difference between two state file replicas",
		Long: "diagnose compares two copies of a set's .er.er state file " +
			"directly (one per storage group), for debugging the divergent-" +
			"replica scenario reconciliation is meant to resolve.",
		RunE: func(cmd *cobra.Command, args []string) error {
			leftMap, leftJSON, err := loadAsJSON(left)
			if err != nil {
				return err
			}
			_, rightJSON, err := loadAsJSON(right)
			if err != nil {
				return err
			}

			differ := gojsondiff.New()
			diff, err := differ.Compare(leftJSON, rightJSON)
			if err != nil {
				return fmt.Errorf("diagnose: compare: %w", err)
			}
			if !diff.Modified() {
				fmt.Println("replicas agree")
				return nil
			}

			f := formatter.NewAsciiFormatter(leftMap, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
			out, err := f.Format(diff)
			if err != nil {
				return fmt.Errorf("diagnose: format: %w", err)
			}
			fmt.Println(wordwrap.String(out, 100))
			return nil
		},
	}
	cmd.Flags().StringVar(&left, "a", "", "path to the first replica's state file")
	cmd.Flags().StringVar(&right, "b", "", "path to the second replica's state file")
	_ = cmd.MarkFlagRequired("a")
	_ = cmd.MarkFlagRequired("b")
	return cmd
}
