package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	resetCursor bool
	resetFailed bool
	resetAll    bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear crawl progress so the next run starts over",
	Long: `Clear the crawl cursor and/or the failed-page queue. Tracked records
are never deleted: after a cursor reset the next run re-walks the listing
from page 1 and merges what it finds into the existing state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("reset"); err != nil {
			return err
		}
		if !resetCursor && !resetFailed && !resetAll {
			return eris.New("nothing to reset: pass --cursor, --failed or --all")
		}

		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if resetCursor || resetAll {
			if err := st.ResetCursor(ctx); err != nil {
				return eris.Wrap(err, "reset cursor")
			}
			zap.L().Info("cursor cleared, next run starts a fresh baseline sweep")
		}
		if resetFailed || resetAll {
			if err := st.ResetFailedPages(ctx); err != nil {
				return eris.Wrap(err, "reset failed pages")
			}
			zap.L().Info("failed-page queue cleared")
		}
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetCursor, "cursor", false, "clear the crawl cursor")
	resetCmd.Flags().BoolVar(&resetFailed, "failed", false, "clear the failed-page queue")
	resetCmd.Flags().BoolVar(&resetAll, "all", false, "clear both")
	rootCmd.AddCommand(resetCmd)
}
