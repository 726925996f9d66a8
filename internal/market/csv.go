package market

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// LoadCSVDir reads one <SYMBOL>.csv per requested symbol from dir. Expected
// header: date,close,volume,market_cap,funding with funding optionally
// empty. Rows with an empty funding cell produce a nil Funding, preserving
// the absent-not-zero convention.
func LoadCSVDir(dir string, symbols []string) ([]Series, error) {
	out := make([]Series, 0, len(symbols))
	for _, sym := range symbols {
		path := filepath.Join(dir, sym+".csv")
		s, err := loadCSVFile(path, sym)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func loadCSVFile(path, asset string) (Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return Series{}, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return Series{}, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"date", "close", "volume", "market_cap"} {
		if _, ok := col[required]; !ok {
			return Series{}, fmt.Errorf("missing column %q", required)
		}
	}

	s := Series{Asset: asset}
	line := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Series{}, fmt.Errorf("line %d: %w", line, err)
		}
		line++

		date, err := time.Parse("2006-01-02", record[col["date"]])
		if err != nil {
			return Series{}, fmt.Errorf("line %d: bad date: %w", line, err)
		}
		bar := Bar{Date: Day(date)}
		if bar.Close, err = strconv.ParseFloat(record[col["close"]], 64); err != nil {
			return Series{}, fmt.Errorf("line %d: bad close: %w", line, err)
		}
		if bar.Volume, err = strconv.ParseFloat(record[col["volume"]], 64); err != nil {
			return Series{}, fmt.Errorf("line %d: bad volume: %w", line, err)
		}
		if bar.MarketCap, err = strconv.ParseFloat(record[col["market_cap"]], 64); err != nil {
			return Series{}, fmt.Errorf("line %d: bad market_cap: %w", line, err)
		}
		if fi, ok := col["funding"]; ok && fi < len(record) && strings.TrimSpace(record[fi]) != "" {
			f, err := strconv.ParseFloat(record[fi], 64)
			if err != nil {
				return Series{}, fmt.Errorf("line %d: bad funding: %w", line, err)
			}
			bar.Funding = &f
		}
		s.Bars = append(s.Bars, bar)
	}
	return s, nil
}
