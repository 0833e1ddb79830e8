package report

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/biswatch/internal/model"
)

// ExportXLSX writes the tracked state as a single-sheet workbook using the
// same column order as the CSV export.
func ExportXLSX(state map[string]model.StateEntry, outputPath string) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Plānotie būvdarbi")
	if err != nil {
		return eris.Wrap(err, "report: add xlsx sheet")
	}

	header := sheet.AddRow()
	for _, col := range snapshotColumns {
		header.AddCell().SetString(col)
	}
	for _, e := range sortedEntries(state) {
		row := sheet.AddRow()
		for _, v := range snapshotRow(e) {
			row.AddCell().SetString(v)
		}
	}

	if err := f.Save(outputPath); err != nil {
		return eris.Wrap(err, "report: save xlsx")
	}
	return nil
}
