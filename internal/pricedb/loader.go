package pricedb

import (
	"context"
	"fmt"
	"sort"
	"time"

	"jupitor/internal/domain"
	"jupitor/internal/store"
)

// Load builds a DB for the given tickers and date range by reading through a
// store.BarStore (typically a *store.ParquetStore). It discovers the union
// of trading dates across every ticker, builds the shared axis, and
// left-joins each ticker's bars onto it — missing bars become null
// sentinels rather than look-ahead-unsafe interpolation.
func Load(ctx context.Context, bs store.BarStore, market string, tickers []string, start, end time.Time) (*DB, error) {
	perTicker := make(map[string][]domain.Bar, len(tickers))
	dateSet := make(map[time.Time]struct{})

	for _, ticker := range tickers {
		if ticker == CashTicker {
			continue
		}
		bars, err := bs.ReadBars(ctx, ticker, market, start, end)
		if err != nil {
			return nil, fmt.Errorf("pricedb: reading bars for %s: %w", ticker, err)
		}
		sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
		perTicker[ticker] = bars
		for _, b := range bars {
			dateSet[normalizeDay(b.Timestamp)] = struct{}{}
		}
	}

	dates := make([]time.Time, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	b, err := NewBuilder(dates)
	if err != nil {
		return nil, err
	}

	for ticker, bars := range perTicker {
		for _, bar := range bars {
			adjClose := bar.AdjClose
			if adjClose == 0 {
				adjClose = bar.Close
			}
			b.AddBar(Bar{
				Ticker:   ticker,
				Date:     normalizeDay(bar.Timestamp),
				Open:     bar.Open,
				High:     bar.High,
				Low:      bar.Low,
				Close:    bar.Close,
				AdjClose: adjClose,
				Volume:   float64(bar.Volume),
			})
		}
	}

	return b.Build()
}

func normalizeDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
