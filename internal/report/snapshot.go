package report

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/biswatch/internal/model"
)

// ExportCSV writes the tracked state as a CSV file with a fixed column
// order, one row per entry.
func ExportCSV(state map[string]model.StateEntry, outputPath string) error {
	f, err := os.Create(outputPath)
	if err != nil {
		return eris.Wrap(err, "report: create csv")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write(snapshotColumns); err != nil {
		return eris.Wrap(err, "report: write csv header")
	}
	for _, e := range sortedEntries(state) {
		if err := w.Write(snapshotRow(e)); err != nil {
			return eris.Wrap(err, "report: write csv row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrap(err, "report: flush csv")
	}
	return nil
}

// WriteSnapshots writes the state to dir twice: latest.csv, always
// overwritten, and a dated copy named after the run day so history
// accumulates one file per day.
func WriteSnapshots(dir string, state map[string]model.StateEntry, ts time.Time) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrap(err, "report: create snapshot dir")
	}
	if err := ExportCSV(state, filepath.Join(dir, "latest.csv")); err != nil {
		return err
	}
	return ExportCSV(state, filepath.Join(dir, ts.Format("2006-01-02")+".csv"))
}
