package upstream

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/okian/kpisync/internal/domain/geo"
)

// SheetSource locates a tenant's reference spreadsheet export.
type SheetSource struct {
	URL         string
	CitiesTab   string
	CountiesTab string
}

// SheetLoader reads the city and county tabs of a CSV-exported spreadsheet.
type SheetLoader struct {
	exec    Executor
	sources map[string]SheetSource
}

// NewSheetLoader creates a loader for the given tenant sources.
func NewSheetLoader(exec Executor, sources map[string]SheetSource) *SheetLoader {
	return &SheetLoader{exec: exec, sources: sources}
}

// LoadReference implements geo.ReferenceLoader.
func (s *SheetLoader) LoadReference(ctx context.Context, tenantID string) (geo.Reference, error) {
	src, ok := s.sources[tenantID]
	if !ok || src.URL == "" {
		return geo.Reference{}, fmt.Errorf("%w: no sheet for tenant %s", ErrReferenceSheet, tenantID)
	}

	cities, err := s.readTab(ctx, src.URL, src.CitiesTab, "city", "state", "county")
	if err != nil {
		return geo.Reference{}, fmt.Errorf("cities tab: %w", err)
	}
	counties, err := s.readTab(ctx, src.URL, src.CountiesTab, "county", "state")
	if err != nil {
		return geo.Reference{}, fmt.Errorf("counties tab: %w", err)
	}

	var ref geo.Reference
	for _, r := range cities {
		ref.Cities = append(ref.Cities, geo.CityRow{City: r[0], State: r[1], County: r[2]})
	}
	for _, r := range counties {
		ref.Counties = append(ref.Counties, geo.CountyRow{County: r[0], State: r[1]})
	}
	return ref, nil
}

// readTab returns the requested columns of every data row, in order.
func (s *SheetLoader) readTab(ctx context.Context, base, tab string, columns ...string) ([][]string, error) {
	target := base
	if tab != "" {
		sep := "?"
		if strings.Contains(base, "?") {
			sep = "&"
		}
		target += sep + "gid=" + tab
	}
	body, err := s.exec.Execute(ctx, RequestSpec{
		Endpoint: "reference_sheet",
		Method:   http.MethodGet,
		URL:      target,
	})
	if err != nil {
		return nil, err
	}
	return ParseSheet(body, columns...)
}

// ParseSheet locates columns by header name (case-insensitive substring)
// and returns their trimmed values for every row with a non-empty first column.
func ParseSheet(body []byte, columns ...string) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrReferenceSheet, err)
	}
	idx := make([]int, len(columns))
	for i, col := range columns {
		idx[i] = -1
		for j, h := range header {
			if strings.Contains(strings.ToLower(h), col) {
				idx[i] = j
				break
			}
		}
		if idx[i] < 0 {
			return nil, fmt.Errorf("%w: missing %q column", ErrReferenceSheet, col)
		}
	}

	var out [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrReferenceSheet, err)
		}
		row := make([]string, len(idx))
		for i, j := range idx {
			if j < len(rec) {
				row[i] = strings.TrimSpace(rec[j])
			}
		}
		if row[0] == "" {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}
