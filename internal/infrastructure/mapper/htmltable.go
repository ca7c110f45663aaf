package mapper

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"DataHarvester/internal/domain"
	"DataHarvester/internal/ports"
)

// HTMLTable maps the first <table> of an HTML payload into records, one per
// body row, using the header cells as field names. Some harvestable sources
// publish tabular data only as rendered HTML.
type HTMLTable struct{}

var _ ports.RecordMapper = (*HTMLTable)(nil)

// NewHTMLTable builds the mapper; it takes no options.
func NewHTMLTable(options map[string]string) (ports.RecordMapper, error) {
	return &HTMLTable{}, nil
}

// MapRaw extracts one record per table body row. HTML pages carry no
// last-page signal.
func (m *HTMLTable) MapRaw(payload []byte) ([]domain.Record, domain.PageMeta, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload))
	if err != nil {
		return nil, domain.PageMeta{}, fmt.Errorf("parse document: %w", err)
	}

	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, domain.PageMeta{}, fmt.Errorf("payload contains no table")
	}

	var headers []string
	ownedBy(table, table.Find("th")).Each(func(_ int, th *goquery.Selection) {
		headers = append(headers, strings.TrimSpace(th.Text()))
	})
	if len(headers) == 0 {
		return nil, domain.PageMeta{}, fmt.Errorf("table has no header cells")
	}

	var records []domain.Record
	ownedBy(table, table.Find("tr")).Each(func(_ int, tr *goquery.Selection) {
		cells := ownedBy(table, tr.Find("td"))
		if cells.Length() == 0 {
			return
		}
		rec := make(domain.Record, 0, len(headers))
		cells.EachWithBreak(func(i int, td *goquery.Selection) bool {
			if i >= len(headers) {
				return false
			}
			rec = append(rec, domain.Field{Name: headers[i], Value: strings.TrimSpace(td.Text())})
			return true
		})
		records = append(records, rec)
	})

	return records, domain.PageMeta{}, nil
}

// ownedBy keeps only elements whose enclosing table is the given one, so a
// nested table's rows and cells never leak into the outer table's records.
func ownedBy(table *goquery.Selection, sel *goquery.Selection) *goquery.Selection {
	return sel.FilterFunction(func(_ int, s *goquery.Selection) bool {
		closest := s.Closest("table")
		return len(closest.Nodes) > 0 && closest.Nodes[0] == table.Nodes[0]
	})
}
