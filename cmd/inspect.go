package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/jsphweid/abcxml/abc"
	"github.com/jsphweid/abcxml/convert"
	"github.com/jsphweid/abcxml/midi"
	"github.com/jsphweid/abcxml/model"
	"github.com/jsphweid/abcxml/musicxml"
	"github.com/jsphweid/abcxml/normalize"
	"github.com/jsphweid/abcxml/util"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(inspectCmd)
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Prints what the parser sees in a score or MIDI file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.EqualFold(filepath.Ext(args[0]), ".mid") {
			return inspectMidi(cmd.OutOrStdout(), args[0])
		}
		return inspect(cmd.OutOrStdout(), args[0], cmd.InOrStdin())
	},
}

func inspect(w io.Writer, path string, stdin io.Reader) error {
	text, err := readSource(path, stdin)
	if err != nil {
		return err
	}
	var tune *model.Tune
	var diags []model.Diagnostic
	if convert.Detect(text) == convert.MusicXML {
		tune, diags, err = musicxml.Parse(text)
	} else {
		tune, diags, err = abc.Parse(text)
	}
	if err != nil {
		return err
	}
	norm, rep, err := normalize.Normalize(tune, normalize.ForMarkup)
	if err != nil {
		return err
	}
	diags = append(diags, rep.Diagnostics...)

	fmt.Fprintf(w, "X: %d\n", norm.Reference)
	fmt.Fprintf(w, "title: %s\n", norm.Title)
	if norm.Composer != "" {
		fmt.Fprintf(w, "composer: %s\n", norm.Composer)
	}
	fmt.Fprintf(w, "key: %s\n", norm.Key)
	fmt.Fprintf(w, "meter: %s\n", norm.Meter)
	if norm.Tempo != nil {
		fmt.Fprintf(w, "tempo: %s=%d\n", norm.Tempo.Beat, norm.Tempo.BPM)
	}
	fmt.Fprintf(w, "divisions: %d\n", rep.Divisions)
	var counts []int
	for _, v := range norm.Voices {
		counts = append(counts, v.NoteCount())
		fmt.Fprintf(w, "voice %s", v.ID)
		if v.Name != "" {
			fmt.Fprintf(w, " (%s)", v.Name)
		}
		fmt.Fprintf(w, ": %d measures, %d notes, %d ties, %d slurs, clef %s\n",
			len(v.Measures), v.NoteCount(), len(v.Ties), len(v.Slurs), v.Clef.Name())
	}
	fmt.Fprintf(w, "notes: %d\n", util.Sum(counts))
	for _, d := range diags {
		fmt.Fprintf(w, "%s\n", d)
	}
	return nil
}

func inspectMidi(w io.Writer, path string) error {
	s, err := midi.ReadMidiFile(path)
	if err != nil {
		return err
	}
	info := midi.Describe(s)
	fmt.Fprintf(w, "ticks per quarter: %d\n", info.TicksPerQuarter)
	fmt.Fprintf(w, "tempo: %.2f\n", info.BPM)
	fmt.Fprintf(w, "meter: %s\n", info.Meter)
	for i, name := range info.Tracks {
		fmt.Fprintf(w, "track %d: %s\n", i, name)
	}
	for _, p := range midi.Notes(s) {
		fmt.Fprintf(w, "%s\n", p)
	}
	return nil
}
