package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	cfgpkg "github.com/local/djvupdf/internal/config"
	"github.com/local/djvupdf/internal/orchestrator"
)

func newConvertCmd(cfg *cfgpkg.Config) *cobra.Command {
	var output string
	var quiet bool
	cmd := &cobra.Command{
		Use:   "convert <file.djvu>",
		Short: "Convert one DjVu file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := args[0]
			dest := output
			if dest == "" {
				dest = orchestrator.Destination(src)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc := newServices(ctx, *cfg)
			defer svc.close()
			orch := orchestrator.New(orchestrator.Config{TempMaxAge: cfg.Worker.TempMaxAge}, svc.deps)

			var bar *progressbar.ProgressBar
			progress := func(done, total int) {
				if quiet {
					return
				}
				if bar == nil {
					bar = newPageBar(total, filepath.Base(src))
				}
				_ = bar.Set(done)
			}
			stats, err := orch.ConvertFile(ctx, src, dest, progress)
			if bar != nil {
				_ = bar.Finish()
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d pages (%d jbig2, %d gray, %d color, %d blank), %d bytes\n",
				dest, stats.Pages, stats.JBIG2, stats.JP2Gray, stats.JP2Color, stats.Blank, stats.Bytes)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output PDF path (default: next to the source)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "no progress bar")
	return cmd
}

func newPageBar(total int, name string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(name),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("pages"),
		progressbar.OptionShowIts(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}

