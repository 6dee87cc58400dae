package stream

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	apperrors "portfolio-state/internal/errors"
	"portfolio-state/internal/models"
)

// fillRow is one line of a fill replay file.
type fillRow struct {
	FillID    string  `csv:"fill_id"`
	Symbol    string  `csv:"symbol"`
	Logical   string  `csv:"logical"`
	Side      string  `csv:"side"`
	Quantity  int     `csv:"quantity"`
	Price     float64 `csv:"price"`
	Strategy  string  `csv:"strategy"`
	Timestamp string  `csv:"timestamp"`
}

// ReadFillsCSV decodes a headed CSV file of fills. Column order is free; the
// logical, strategy and timestamp columns are optional.
func ReadFillsCSV(r io.Reader) ([]models.Fill, error) {
	var rows []*fillRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, apperrors.Wrap(err, "failed to decode fills csv")
	}

	fills := make([]models.Fill, 0, len(rows))
	for i, row := range rows {
		ts := time.Time{}
		if row.Timestamp != "" {
			parsed, err := models.ParseTimestamp(row.Timestamp)
			if err != nil {
				return nil, apperrors.Wrapf(err, "row %d: invalid timestamp", i+2)
			}
			ts = parsed
		}
		side, _ := models.ParseOrderSide(row.Side)
		fills = append(fills, models.Fill{
			FillID:    strings.TrimSpace(row.FillID),
			Symbol:    strings.TrimSpace(row.Symbol),
			Logical:   row.Logical,
			Side:      side,
			Quantity:  row.Quantity,
			Price:     row.Price,
			Strategy:  row.Strategy,
			Timestamp: ts,
		})
	}
	return fills, nil
}

// ReplayCSV publishes every fill in r on the fills topic, in file order.
// It returns the number of fills published.
func ReplayCSV(ctx context.Context, r io.Reader, bus *Bus) (int, error) {
	fills, err := ReadFillsCSV(r)
	if err != nil {
		return 0, err
	}
	for i, f := range fills {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if f.Timestamp.IsZero() {
			f.Timestamp = time.Now().UTC()
		}
		bus.Publish(TopicFills, FillEvent{Fill: f})
	}
	return len(fills), nil
}
