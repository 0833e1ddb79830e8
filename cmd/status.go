package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/biswatch/internal/monitoring"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tracker position and state summary",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("status"); err != nil {
			return err
		}

		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, err := monitoring.NewCollector(st).Collect(ctx)
		if err != nil {
			return eris.Wrap(err, "collect status")
		}

		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}

		formatStatus(os.Stdout, snap)
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print status as JSON")
	rootCmd.AddCommand(statusCmd)
}

// formatStatus writes a human-readable status summary to w.
func formatStatus(out io.Writer, snap *monitoring.StatusSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	phase := "building baseline"
	if snap.BaselineComplete {
		phase = "steady state"
	}

	_, _ = fmt.Fprintf(w, "Phase:\t%s\n", phase)
	_, _ = fmt.Fprintf(w, "Next page:\t%d\n", snap.NextPage)
	_, _ = fmt.Fprintf(w, "Tracked records:\t%d\n", snap.StateSize)
	_, _ = fmt.Fprintf(w, "Failed pages:\t%s\n", formatFailedPages(snap.FailedPages))

	if snap.LastRun != nil {
		r := snap.LastRun
		_, _ = fmt.Fprintf(w, "Last run:\t%s\n", r.StartedAt.Format("2006-01-02 15:04"))
		_, _ = fmt.Fprintf(w, "  Stopped:\t%s\n", r.Crawl.Stopped)
		_, _ = fmt.Fprintf(w, "  Duration:\t%s\n", r.Elapsed().Round(time.Second))
		_, _ = fmt.Fprintf(w, "  Changes:\t%d new, %d updated\n", r.NewCount, r.UpdatedCount)
	} else {
		_, _ = fmt.Fprintf(w, "Last run:\tnever\n")
	}

	_ = w.Flush()
}

// formatFailedPages renders the queue as "none" or "3 (7, 31, 112)".
func formatFailedPages(pages []int) string {
	if len(pages) == 0 {
		return "none"
	}
	strs := make([]string, len(pages))
	for i, p := range pages {
		strs[i] = strconv.Itoa(p)
	}
	return fmt.Sprintf("%d (%s)", len(pages), strings.Join(strs, ", "))
}
