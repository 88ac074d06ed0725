package cmd

import (
	"os"

	"github.com/jsphweid/abcxml/config"
	"github.com/jsphweid/abcxml/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     = config.Default()
	logger  = zerolog.Nop()
)

var rootCmd = &cobra.Command{
	Use:   "abcxml",
	Short: "Converts between ABC notation and MusicXML",
	Long: `abcxml converts tunes written in ABC notation to MusicXML and back,
and can render ABC tunes as Standard MIDI Files.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}
		cfg = loaded
		logger, err = logging.New(cfg.LogLevel, os.Stderr)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./abcxml.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "debug, info, warn or error")
}

func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}
