package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "scoreplay",
	Short: "Music file decode and playback pipeline",
	Long: `Decodes compressed notation archives, MusicXML documents and MIDI
files into a common score model, and plays them against a MIDI output.`,
}

func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}
