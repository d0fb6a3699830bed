package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/strategy"
)

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "Print the preset cascade in PRESETS_FILE format",
	Long: `Print the presets the pipeline would use, in the YAML format PRESETS_FILE
accepts. Redirect the output to start a custom preset file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		presets, err := cfg.LoadPresets()
		if err != nil {
			return err
		}
		data, err := strategy.MarshalPresets(presets)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var dictionaryCmd = &cobra.Command{
	Use:   "dictionary",
	Short: "Show the correction dictionary in use",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dict, err := cfg.LoadDictionary()
		if err != nil {
			return err
		}
		stats := dict.Stats()
		source := cfg.DictionaryFile
		if source == "" {
			source = "built-in"
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "source:      %s\n", source)
		fmt.Fprintf(out, "version:     %s\n", stats.Version)
		fmt.Fprintf(out, "terms:       %d\n", stats.Terms)
		fmt.Fprintf(out, "corrections: %d\n", stats.Corrections)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(presetsCmd, dictionaryCmd)
}
