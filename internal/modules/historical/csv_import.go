package historical

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/fundsim/internal/domain"
)

// priceColumns are accepted price headers, in order of preference
var priceColumns = []string{"adj close", "close", "price"}

// ParseCSV reads dated closing prices and converts them to price points with
// percent-change returns. Rows are sorted by date; the first row has no
// previous price and is dropped. Dates may carry a time suffix
// ("2024-01-05 00:00:00-05:00"), only the day is kept.
func ParseCSV(r io.Reader) ([]domain.PricePoint, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	dateCol, priceCol := -1, -1
	columns := make(map[string]int)
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if i, ok := columns["date"]; ok {
		dateCol = i
	}
	for _, name := range priceColumns {
		if i, ok := columns[name]; ok {
			priceCol = i
			break
		}
	}
	if dateCol < 0 || priceCol < 0 {
		return nil, fmt.Errorf("csv needs a date column and one of %v", priceColumns)
	}

	type row struct {
		date  time.Time
		price float64
	}
	var rows []row
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		raw := strings.TrimSpace(record[dateCol])
		if len(raw) > len(dateLayout) {
			raw = raw[:len(dateLayout)]
		}
		date, err := time.Parse(dateLayout, raw)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid date %q: %w", line, record[dateCol], err)
		}

		field := strings.TrimSpace(record[priceCol])
		if field == "" || strings.EqualFold(field, "null") {
			continue
		}
		price, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid price %q: %w", line, field, err)
		}
		if price <= 0 {
			return nil, fmt.Errorf("line %d: price must be positive, got %v", line, price)
		}
		rows = append(rows, row{date: date, price: price})
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].date.Before(rows[j].date) })

	points := make([]domain.PricePoint, 0, len(rows))
	for i := 1; i < len(rows); i++ {
		if rows[i].date.Equal(rows[i-1].date) {
			return nil, fmt.Errorf("duplicate date %s", rows[i].date.Format(dateLayout))
		}
		points = append(points, domain.PricePoint{
			Date:    rows[i].date,
			Price:   rows[i].price,
			Returns: rows[i].price/rows[i-1].price - 1,
		})
	}
	return points, nil
}

// ImportCSV parses r and upserts the resulting series for instrumentID.
// Returns the number of points written.
func (r *HistoryRepository) ImportCSV(ctx context.Context, instrumentID int64, in io.Reader) (int, error) {
	points, err := ParseCSV(in)
	if err != nil {
		return 0, fmt.Errorf("failed to parse csv: %w", err)
	}
	if err := r.UpsertSeries(ctx, instrumentID, points); err != nil {
		return 0, err
	}

	r.log.Info().Int64("instrument_id", instrumentID).Int("points", len(points)).Msg("Imported price history")
	return len(points), nil
}
