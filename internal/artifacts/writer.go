package artifacts

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	charts "github.com/vicanso/go-charts/v2"

	"altfade/internal/backtest"
	"altfade/internal/basket"
	"altfade/internal/regime"
)

// Writer persists run outputs under a directory. Output is deterministic
// for identical inputs: stable JSON field order, fixed CSV layout.
type Writer struct {
	dir string
}

// NewWriter creates a writer rooted at dir, creating it if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts dir: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Dir returns the output directory.
func (w *Writer) Dir() string { return w.dir }

// WriteReport writes the full backtest report as report.json.
func (w *Writer) WriteReport(report *backtest.Report) (string, error) {
	return w.writeJSON("report.json", report)
}

// WriteBasketHistory writes the rebalance snapshots as basket_history.json.
func (w *Writer) WriteBasketHistory(snaps []*basket.Snapshot) (string, error) {
	return w.writeJSON("basket_history.json", snaps)
}

// WriteTimeline writes the regime timeline as timeline.csv with one row per
// classified date.
func (w *Writer) WriteTimeline(tl regime.Timeline) (string, error) {
	path := filepath.Join(w.dir, "timeline.csv")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("write timeline: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write([]string{"date", "regime", "coarse_regime", "score"}); err != nil {
		return "", err
	}
	for _, r := range tl {
		rec := []string{
			r.Date.Format("2006-01-02"),
			r.Label.String(),
			r.Label.CoarseString(),
			strconv.FormatFloat(r.Score, 'g', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return "", err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", fmt.Errorf("write timeline: %w", err)
	}
	return path, nil
}

// WriteEquityChart renders the equity curve to equity.png. Runs with fewer
// than two rows have no curve to draw and produce no file.
func (w *Writer) WriteEquityChart(report *backtest.Report) (string, error) {
	if len(report.Rows) < 2 {
		return "", nil
	}
	labels := make([]string, len(report.Rows))
	for i, r := range report.Rows {
		labels[i] = r.Date.Format("2006-01-02")
	}
	curve := report.EquityCurve()
	yMin, yMax := curve[0], curve[0]
	for _, v := range curve[1:] {
		if v < yMin {
			yMin = v
		}
		if v > yMax {
			yMax = v
		}
	}
	pad := (yMax - yMin) * 0.05
	if pad == 0 {
		pad = yMax * 0.01
	}
	yMin -= pad
	yMax += pad

	painter, err := charts.LineRender([][]float64{curve},
		charts.TitleTextOptionFunc("Equity "+report.Start.Format("2006-01-02")+" to "+report.End.Format("2006-01-02")),
		charts.XAxisOptionFunc(charts.XAxisOption{Data: labels, BoundaryGap: charts.FalseFlag(), SplitNumber: 10}),
		charts.YAxisOptionFunc(charts.YAxisOption{Min: &yMin, Max: &yMax, DivideCount: 5}),
		charts.ThemeOptionFunc(charts.ThemeLight),
	)
	if err != nil {
		return "", fmt.Errorf("render equity chart: %w", err)
	}
	img, err := painter.Bytes()
	if err != nil {
		return "", fmt.Errorf("render equity chart: %w", err)
	}
	path := filepath.Join(w.dir, "equity.png")
	if err := os.WriteFile(path, img, 0o644); err != nil {
		return "", fmt.Errorf("write equity chart: %w", err)
	}
	return path, nil
}

// WriteAll persists the standard artifact set for a report.
func (w *Writer) WriteAll(report *backtest.Report) ([]string, error) {
	var paths []string
	p, err := w.WriteReport(report)
	if err != nil {
		return nil, err
	}
	paths = append(paths, p)
	p, err = w.WriteTimeline(report.Timeline)
	if err != nil {
		return nil, err
	}
	paths = append(paths, p)
	p, err = w.WriteBasketHistory(report.Rebalances)
	if err != nil {
		return nil, err
	}
	paths = append(paths, p)
	p, err = w.WriteEquityChart(report)
	if err != nil {
		return nil, err
	}
	if p != "" {
		paths = append(paths, p)
	}
	return paths, nil
}

func (w *Writer) writeJSON(name string, v any) (string, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", name, err)
	}
	raw = append(raw, '\n')
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return path, nil
}
