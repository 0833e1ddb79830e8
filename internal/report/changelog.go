package report

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/biswatch/internal/model"
)

const changelogTimeLayout = "2006-01-02 15:04"

// RenderChangelog builds the markdown change report for a single run. New
// records get a full summary line with a details link, updated records get
// their summary plus one line per changed field. State is append-only, so
// there is no removals section.
func RenderChangelog(changes []model.Change, ts time.Time) []byte {
	var added, updated []model.Change
	for _, c := range changes {
		switch c.Kind {
		case model.ChangeNew:
			added = append(added, c)
		case model.ChangeUpdated:
			updated = append(updated, c)
		}
	}
	sortChanges(added)
	sortChanges(updated)

	var b strings.Builder
	fmt.Fprintf(&b, "# BIS Plānotie būvdarbi — izmaiņu atskaite (%s)\n\n", ts.Format(changelogTimeLayout))
	fmt.Fprintf(&b, "- Jauni ieraksti: %d\n", len(added))
	fmt.Fprintf(&b, "- Atjaunināti: %d\n", len(updated))

	if len(added) > 0 {
		b.WriteString("\n## Jaunie\n")
		for _, c := range added {
			b.WriteString(newEntryLine(c.Record))
			b.WriteByte('\n')
		}
	}
	if len(updated) > 0 {
		b.WriteString("\n## Atjaunināti\n")
		for _, c := range updated {
			b.WriteString(updatedEntryLine(c.Record))
			b.WriteByte('\n')
			for _, d := range c.Diffs {
				fmt.Fprintf(&b, "  - %s: `%s` → `%s`\n", d.Field, d.Before, d.After)
			}
		}
	}
	return []byte(b.String())
}

// WriteChangelog renders the change report and writes it to path.
func WriteChangelog(path string, changes []model.Change, ts time.Time) error {
	if err := os.WriteFile(path, RenderChangelog(changes, ts), 0o644); err != nil {
		return eris.Wrap(err, "report: write changelog")
	}
	return nil
}

func newEntryLine(rec model.Record) string {
	line := fmt.Sprintf("- **%s** — %s — %s — %s — %s — %s — %s",
		fieldOr(rec, model.FieldAuthority),
		fieldOr(rec, model.FieldCaseNumber),
		fieldOr(rec, model.FieldAddress),
		fieldOr(rec, model.FieldObject),
		fieldOr(rec, model.FieldPhase),
		fieldOr(rec, model.FieldConstructionType),
		fieldOr(rec, model.FieldPublished),
	)
	if url := rec.Field(model.FieldDetailsURL); url != "" {
		line += fmt.Sprintf("  [Saite](%s)", url)
	}
	return line
}

func updatedEntryLine(rec model.Record) string {
	return fmt.Sprintf("- **%s** — %s — %s — %s",
		fieldOr(rec, model.FieldAuthority),
		fieldOr(rec, model.FieldCaseNumber),
		fieldOr(rec, model.FieldAddress),
		fieldOr(rec, model.FieldObject),
	)
}

func fieldOr(rec model.Record, name string) string {
	if v := rec.Field(name); v != "" {
		return v
	}
	return "?"
}

func sortChanges(changes []model.Change) {
	sort.Slice(changes, func(i, j int) bool {
		a, b := changes[i].Record, changes[j].Record
		if x, y := a.Field(model.FieldAuthority), b.Field(model.FieldAuthority); x != y {
			return x < y
		}
		if x, y := a.Field(model.FieldCaseNumber), b.Field(model.FieldCaseNumber); x != y {
			return x < y
		}
		return a.ID < b.ID
	})
}
