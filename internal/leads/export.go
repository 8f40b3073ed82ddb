package leads

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ExportFilename names an export produced at t.
func ExportFilename(t time.Time) string {
	return fmt.Sprintf("buyer-leads-%s.csv", t.UTC().Format("2006-01-02"))
}

// WriteCSV writes buyers using the import column layout so an export can be
// re-imported. Tags are comma joined; absent or zero optional values are empty.
func WriteCSV(w io.Writer, buyers []*Buyer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, b := range buyers {
		record := []string{
			b.FullName,
			deref(b.Email),
			b.Phone,
			b.City,
			b.PropertyType,
			deref(b.BHK),
			b.Purpose,
			budgetCell(b.BudgetMin),
			budgetCell(b.BudgetMax),
			b.Timeline,
			b.Source,
			deref(b.Notes),
			strings.Join(b.Tags, ","),
			b.Status,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func budgetCell(p *int) string {
	if p == nil || *p == 0 {
		return ""
	}
	return strconv.Itoa(*p)
}
