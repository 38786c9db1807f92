package main

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/cuemby/paramd/pkg/client"
	"github.com/cuemby/paramd/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply parameters from a YAML file",
	Long: `Apply a set of parameters from a YAML file.

Examples:
  # Apply a parameter set
  paramd apply -f params.yaml

params.yaml:
  parameters:
    persist.sys.locale: en-US
    const.product.model: edge-1
    net.dhcp.enabled: true`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// ParamSet is a YAML document of parameters to set
type ParamSet struct {
	Parameters map[string]interface{} `yaml:"parameters"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	// Read YAML file
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}

	// Parse YAML
	var set ParamSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return fmt.Errorf("failed to parse YAML: %v", err)
	}
	if len(set.Parameters) == 0 {
		return fmt.Errorf("no parameters in %s", filename)
	}

	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	applied, failed := applyParams(c, set.Parameters)
	fmt.Printf("✓ Applied %d parameters\n", applied)
	if failed > 0 {
		return fmt.Errorf("%d parameters failed", failed)
	}
	return nil
}

func applyParams(c *client.Client, params map[string]interface{}) (applied, failed int) {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := formatValue(params[name])
		if _, err := c.Set(name, value); err != nil {
			if errors.Is(err, types.ErrReadOnly) {
				fmt.Printf("Parameter already set: %s (skipping)\n", name)
				continue
			}
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", name, err)
			failed++
			continue
		}
		applied++
	}
	return applied, failed
}

// formatValue renders a YAML scalar the way it would appear in a parameter
// file
func formatValue(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
