package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tslateman/lore-sub001/internal/retrieval"
	"github.com/tslateman/lore-sub001/internal/server"
	"github.com/tslateman/lore-sub001/internal/watch"
)

var (
	serveAddr  string
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve search and graph queries over HTTP",
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
		rebuilder := w.IndexRebuilder(false)
		refresher := retrieval.NewFuncRefresher(func(ctx context.Context) error {
			_, err := rebuilder.Rebuild(ctx)
			return err
		}, w.log)

		engine, err := w.LiveEngine(refresher)
		if err != nil {
			return err
		}
		srv := server.New(store, engine, w.cfg.Retrieval.MaxGraphDepth, w.log)

		addr := serveAddr
		if addr == "" {
			addr = w.cfg.Server.Addr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.Run(ctx, addr) })
		if serveWatch {
			projector := w.Projector(store)
			watcher, err := watch.New(w.sources.Paths(), func(ctx context.Context, changed []string) error {
				err := srv.Exclusive(func() error {
					_, err := projector.Sync(ctx)
					return err
				})
				refresher.Refresh()
				return err
			}, watch.DefaultDebounce, w.log)
			if err != nil {
				return err
			}
			g.Go(func() error { return watcher.Run(ctx) })
		}

		w.log.Info("serving", zap.String("addr", addr), zap.Bool("watch", serveWatch))
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Re-project the graph and refresh the index when source logs change")
	rootCmd.AddCommand(serveCmd)
}
