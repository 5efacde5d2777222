package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // autoregisters driver

	"scoreplay/db"
	"scoreplay/importer"
	"scoreplay/player"
	"scoreplay/sink"
)

var (
	playTempo    float64
	playLoop     bool
	playPort     int
	playMetadata bool
)

func init() {
	playCmd.Flags().Float64Var(&playTempo, "tempo", 0, "override tempo in BPM (30-300)")
	playCmd.Flags().BoolVar(&playLoop, "loop", false, "restart from the top at the end")
	playCmd.Flags().IntVar(&playPort, "port", 0, "MIDI output port number")
	playCmd.Flags().BoolVar(&playMetadata, "metadata", false, "fill missing title/composer from the metadata table")
	rootCmd.AddCommand(playCmd)
}

var playCmd = &cobra.Command{
	Use:   "play <file>",
	Short: "Plays a music file on a MIDI output port",
	Long:  `Plays a music file on a MIDI output port`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		play(args[0])
	},
}

func play(path string) {
	defer midi.CloseDriver()

	var lookup importer.MetadataLookup
	if playMetadata {
		lookup = db.Lookup
	}
	score, warnings, err := importer.LoadWithMetadata(path, lookup)
	cobra.CheckErr(err)
	for _, warning := range warnings {
		fmt.Printf("warning: %v\n", warning)
	}

	out, err := sink.NewMIDIOut(playPort)
	cobra.CheckErr(err)

	sch := player.NewScheduler(out)
	defer sch.Close()

	sch.Load(score)
	if playTempo != 0 {
		sch.SetTempo(playTempo)
	}
	sch.SetLoop(playLoop)
	sch.Play()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-sig:
			fmt.Println()
			sch.Stop()
			out.AllNotesOff()
			return
		case <-ticker.C:
			if sch.State() == player.Stopped {
				fmt.Println()
				out.AllNotesOff()
				return
			}
			fmt.Printf("\r%6.2fs / %6.2fs", sch.Position(), sch.TotalDuration())
		}
	}
}
