// Package extract parses BIS listing pages into records. The portal serves
// the listing either as a header table or, on some layouts, as a card list;
// both shapes are handled, table first.
package extract

import (
	"bytes"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/biswatch/internal/model"
)

const defaultBaseHost = "https://bis.gov.lv"

// headerFields maps the portal's Latvian column headers (all spellings seen
// so far) onto canonical field names. Order matters: the first alias hit
// claims the column.
var headerFields = []struct {
	field   string
	aliases []string
}{
	{model.FieldCaseNumber, []string{"Lietas numurs", "BIS lietas numurs", "Lietas Nr."}},
	{model.FieldAuthority, []string{"Būvniecības kontroles institūcija", "Institūcija", "Būvvalde"}},
	{model.FieldAddress, []string{"Adrese", "Būvobjekta adrese"}},
	{model.FieldObject, []string{"Būvobjekts", "Nosaukums", "Objekts"}},
	{model.FieldPhase, []string{"Būvniecības lietas stadija", "Stadija", "Statuss"}},
	{model.FieldConstructionType, []string{"Būvniecības veids", "Veids"}},
	{model.FieldIntentionType, []string{"Ieceres veids", "Būvniecības ieceres veids"}},
	{model.FieldUsageCode, []string{"Būves lietošanas veids", "Lietošanas veids", "Lietošanas kods"}},
	{model.FieldPublished, []string{"Publicēts", "Datums"}},
}

// cardLabels are the label-prefix patterns for the card fallback layout.
var cardLabels = []struct {
	field string
	re    *regexp.Regexp
}{
	{model.FieldCaseNumber, regexp.MustCompile(`(?i)(?:Lietas\s*nr\.?|Lietas numurs|BIS lietas numurs)\s*[:\-]\s*([^|]+)`)},
	{model.FieldAuthority, regexp.MustCompile(`(?i)(?:Būvniecības kontroles institūcija|Institūcija|Būvvalde)\s*[:\-]\s*([^|]+)`)},
	{model.FieldAddress, regexp.MustCompile(`(?i)(?:Adrese|Būvobjekta adrese)\s*[:\-]\s*([^|]+)`)},
	{model.FieldObject, regexp.MustCompile(`(?i)(?:Būvobjekts|Nosaukums|Objekts)\s*[:\-]\s*([^|]+)`)},
	{model.FieldPhase, regexp.MustCompile(`(?i)(?:Būvniecības lietas stadija|Stadija|Statuss)\s*[:\-]\s*([^|]+)`)},
	{model.FieldConstructionType, regexp.MustCompile(`(?i)(?:Būvniecības veids|Veids)\s*[:\-]\s*([^|]+)`)},
	{model.FieldIntentionType, regexp.MustCompile(`(?i)(?:Būvniecības ieceres veids|Ieceres veids)\s*[:\-]\s*([^|]+)`)},
	{model.FieldUsageCode, regexp.MustCompile(`(?i)(?:Būves lietošanas veids|Lietošanas veids|Lietošanas kods)\s*[:\-]\s*([^|]+)`)},
	{model.FieldPublished, regexp.MustCompile(`(?i)(?:Publicēts|Datums)\s*[:\-]\s*([^|]+)`)},
}

// minCardTextLen filters out navigation chrome that matches the card
// selectors but carries no record.
const minCardTextLen = 40

// Options configures an Extractor.
type Options struct {
	// BaseHost absolutizes relative details links. Default: the BIS host.
	BaseHost string
}

// Extractor turns one listing page into records.
type Extractor struct {
	baseHost string
	nowFunc  func() time.Time
}

// New creates an Extractor.
func New(opts Options) *Extractor {
	if opts.BaseHost == "" {
		opts.BaseHost = defaultBaseHost
	}
	return &Extractor{
		baseHost: strings.TrimRight(opts.BaseHost, "/"),
		nowFunc:  time.Now,
	}
}

// Extract parses the page and returns its records, deduplicated by
// identity (the portal repeats rows across layout fragments; the last
// observation wins, the first position is kept). A parseable page with no
// records returns (nil, nil) — emptiness is the caller's signal, not an
// error.
func (e *Extractor) Extract(content []byte) ([]model.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, eris.Wrap(err, "extract: parse html")
	}

	rows := e.tableRows(doc)
	if len(rows) == 0 {
		rows = e.cardRows(doc)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	now := e.nowFunc()
	seen := make(map[string]int, len(rows))
	var records []model.Record
	for _, fields := range rows {
		id := model.Identity(fields)
		rec := model.Record{ID: id, Fields: fields, ExtractedAt: now}
		if i, ok := seen[id]; ok {
			records[i] = rec
			continue
		}
		seen[id] = len(records)
		records = append(records, rec)
	}
	return records, nil
}

// tableRows handles the primary layout: a table with Latvian headers.
func (e *Extractor) tableRows(doc *goquery.Document) []map[string]string {
	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil
	}

	var headers []string
	table.Find("th").Each(func(_ int, th *goquery.Selection) {
		headers = append(headers, model.CanonicalValue(th.Text()))
	})
	colField := make(map[int]string)
	claimed := make(map[string]bool)
	for _, hf := range headerFields {
		for _, alias := range hf.aliases {
			if claimed[hf.field] {
				break
			}
			for i, h := range headers {
				if _, taken := colField[i]; taken {
					continue
				}
				if h == alias {
					colField[i] = hf.field
					claimed[hf.field] = true
					break
				}
			}
		}
	}
	if len(colField) == 0 {
		return nil
	}

	var rows []map[string]string
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		tds := tr.Find("td")
		if tds.Length() == 0 {
			return
		}
		fields := make(map[string]string)
		tds.Each(func(i int, td *goquery.Selection) {
			field, ok := colField[i]
			if !ok {
				return
			}
			if v := model.CanonicalValue(td.Text()); v != "" {
				fields[field] = v
			}
		})
		if len(fields) == 0 {
			return
		}
		if link := e.detailsLink(tr, true); link != "" {
			fields[model.FieldDetailsURL] = link
		}
		rows = append(rows, fields)
	})
	return rows
}

// cardRows is the fallback for card/list layouts: label-prefixed text
// segments, matched per card.
func (e *Extractor) cardRows(doc *goquery.Document) []map[string]string {
	var rows []map[string]string
	doc.Find("article, li, div.card, div.row, div.item").Each(func(_ int, card *goquery.Selection) {
		text := cardText(card)
		if utf8.RuneCountInString(text) < minCardTextLen {
			return
		}

		fields := make(map[string]string)
		for _, cl := range cardLabels {
			if m := cl.re.FindStringSubmatch(text); m != nil {
				if v := model.CanonicalValue(m[1]); v != "" {
					fields[cl.field] = v
				}
			}
		}
		if len(fields) == 0 {
			return
		}
		if link := e.detailsLink(card, false); link != "" {
			fields[model.FieldDetailsURL] = link
		}
		rows = append(rows, fields)
	})
	return rows
}

// cardText flattens a card into "label: value | label: value" form so the
// label patterns stop at segment boundaries.
func cardText(card *goquery.Selection) string {
	var segments []string
	card.Find("span, div, p, dt, dd, li, td, strong, b, a, h1, h2, h3").Each(func(_ int, el *goquery.Selection) {
		if el.Children().Length() > 0 {
			return
		}
		if t := model.CanonicalValue(el.Text()); t != "" {
			segments = append(segments, t)
		}
	})
	if len(segments) == 0 {
		return model.CanonicalValue(card.Text())
	}
	return strings.Join(segments, " | ")
}

// detailsLink finds the case-details link within a row or card.
// requireBISPath restricts the match to BIS case paths, which the table
// layout guarantees; cards take the first link they have.
func (e *Extractor) detailsLink(s *goquery.Selection, requireBISPath bool) string {
	link := ""
	s.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, ok := a.Attr("href")
		if !ok || href == "" {
			return true
		}
		if requireBISPath && !strings.Contains(href, "bisp") {
			return true
		}
		link = e.absolutize(href)
		return false
	})
	return link
}

func (e *Extractor) absolutize(href string) string {
	if strings.HasPrefix(href, "/") {
		return e.baseHost + href
	}
	return href
}
