// Package export serializes labeled rows into the flat CSV layout consumed by
// downstream training jobs.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/iati-climate-dataset/internal/dataset"
)

// ContentType is the MIME type of the exported file.
const ContentType = "text/csv; charset=utf-8"

// Header is the fixed column order of the exported file.
var Header = []string{"iati_identifier", "text", "label"}

// EncodeCSV renders rows with a header line and no index column.
func EncodeCSV(rows []dataset.Row) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range rows {
		if err := w.Write([]string{r.IATIIdentifier, r.Text, string(r.Label)}); err != nil {
			return nil, fmt.Errorf("write csv row %s: %w", r.IATIIdentifier, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// ObjectName returns "<prefix>/<publisherRef>.csv", or "<publisherRef>.csv"
// without a prefix.
func ObjectName(prefix, publisherRef string) string {
	name := publisherRef + ".csv"
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}
