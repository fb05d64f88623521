// Package csvsource is a concrete bars.BarSource reading the plain
// CSV/JSON bar fixtures used in tests and local ingestion, grounded on the
// teacher's explicit-struct, no-reflection parsing style for native
// exchange clients.
package csvsource

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/aristath/fishbro/internal/bars"
)

// Source reads raw bars from local CSV or JSON files. CSV files must have
// a header row: timestamp,open,high,low,close,volume.
type Source struct{}

// ReadRawBars implements bars.BarSource.
func (Source) ReadRawBars(ctx context.Context, path string) ([]bars.RawBar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, ".json") {
		return readJSON(path)
	}
	return readCSV(path)
}

func readJSON(path string) ([]bars.RawBar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("csvsource: read %s: %w", path, err)
	}
	var out []bars.RawBar
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("csvsource: parse %s: %w", path, err)
	}
	return out, nil
}

func readCSV(path string) ([]bars.RawBar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("csvsource: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csvsource: parse %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	out := make([]bars.RawBar, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) < 6 {
			return nil, fmt.Errorf("csvsource: %s: short row %v", path, row)
		}
		ts, err := strconv.ParseInt(strings.TrimSpace(row[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("csvsource: %s: bad timestamp %q: %w", path, row[0], err)
		}
		open, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("csvsource: %s: bad open %q: %w", path, row[1], err)
		}
		high, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("csvsource: %s: bad high %q: %w", path, row[2], err)
		}
		low, err := strconv.ParseFloat(strings.TrimSpace(row[3]), 64)
		if err != nil {
			return nil, fmt.Errorf("csvsource: %s: bad low %q: %w", path, row[3], err)
		}
		closeP, err := strconv.ParseFloat(strings.TrimSpace(row[4]), 64)
		if err != nil {
			return nil, fmt.Errorf("csvsource: %s: bad close %q: %w", path, row[4], err)
		}
		vol, err := strconv.ParseFloat(strings.TrimSpace(row[5]), 64)
		if err != nil {
			return nil, fmt.Errorf("csvsource: %s: bad volume %q: %w", path, row[5], err)
		}
		out = append(out, bars.RawBar{TimestampUnix: ts, Open: open, High: high, Low: low, Close: closeP, Volume: vol})
	}
	return out, nil
}
