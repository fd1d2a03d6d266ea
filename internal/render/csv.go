package render

import (
	"encoding/csv"
	"io"
)

// WriteCSV serializes a panel view as CSV: one header row and one data row
// per table row, sections concatenated in order with the section title in the
// first column of a separator row. Output is deterministic for a given view.
func WriteCSV(w io.Writer, v View) error {
	cw := csv.NewWriter(w)
	for i, s := range v.Sections {
		if len(v.Sections) > 1 {
			if i > 0 {
				if err := cw.Write([]string{}); err != nil {
					return err
				}
			}
			if err := cw.Write([]string{s.Title}); err != nil {
				return err
			}
		}
		if err := cw.Write(s.Headers); err != nil {
			return err
		}
		for _, row := range s.Rows {
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
