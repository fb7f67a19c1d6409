package main

import (
	"os"

	"github.com/spf13/cobra"

	cfgpkg "github.com/local/djvupdf/internal/config"
	logpkg "github.com/local/djvupdf/internal/logger"
)

type rootFlags struct {
	logLevel string
	pretty   bool
}

func newRootCmd() *cobra.Command {
	var flags rootFlags
	cfg := cfgpkg.FromEnv()

	root := &cobra.Command{
		Use:   "djvupdf",
		Short: "Convert DjVu documents to compact PDFs",
		Long: `djvupdf renders every page of a DjVu document, stores bitonal pages as
JBIG2 and everything else as JPEG2000, and writes a PDF next to the source.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("log-level") {
				cfg.Logging.Level = flags.logLevel
			}
			if cmd.Flags().Changed("pretty") {
				cfg.Logging.Pretty = flags.pretty
			}
			opts := logpkg.FromConfig(cfg)
			opts.Console = os.Stderr
			return logpkg.Init(opts)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logpkg.Close()
		},
	}
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", cfg.Logging.Level, "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&flags.pretty, "pretty", cfg.Logging.Pretty, "human readable console logs")

	root.AddCommand(newConvertCmd(&cfg), newWatchCmd(&cfg))
	return root
}
