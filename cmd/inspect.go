package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"scoreplay/importer"
)

func init() {
	rootCmd.AddCommand(inspectCmd)
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Decodes a music file and prints its contents",
	Long:  `Decodes a music file and prints its contents`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		inspect(args[0])
	},
}

func inspect(path string) {
	score, warnings, err := importer.Load(path)
	cobra.CheckErr(err)

	fmt.Printf("Title:    %v\n", score.Title)
	fmt.Printf("Composer: %v\n", score.Composer)
	fmt.Printf("Tempo:    %.1f BPM\n", score.Tempo)
	fmt.Printf("Duration: %.2fs\n", score.TotalDuration())
	for i, p := range score.Parts {
		fmt.Printf("Part %v: %v (channel %v, program %v, %v notes)\n",
			i+1, p.Name, p.Channel, p.Program, len(p.Notes))
	}
	for _, warning := range warnings {
		fmt.Printf("warning: %v\n", warning)
	}
}
