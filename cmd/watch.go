package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tslateman/lore-sub001/internal/watch"
)

var watchEmbed bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the graph and index in step with the source logs until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openWorkspace()
		if err != nil {
			return err
		}
		defer w.Close()

		store, err := w.Graph()
		if err != nil {
			return err
		}
		projector := w.Projector(store)
		rebuilder := w.IndexRebuilder(watchEmbed)

		watcher, err := watch.New(w.sources.Paths(), func(ctx context.Context, changed []string) error {
			rep, err := projector.Sync(ctx)
			if err != nil {
				return err
			}
			printProjection(cmd, rep)
			ir, err := rebuilder.Rebuild(ctx)
			if err != nil {
				return err
			}
			w.log.Info("index refreshed", zap.Int("records", ir.Records), zap.Strings("changed", changed))
			return nil
		}, watch.DefaultDebounce, w.log)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		fmt.Fprintln(cmd.OutOrStdout(), styles.Muted.Render("watching source logs, press Ctrl-C to stop"))
		return watcher.Run(ctx)
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchEmbed, "embed", false, "Also refresh the vector index")
	rootCmd.AddCommand(watchCmd)
}
