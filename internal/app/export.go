package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"exrate-watch/internal/monitor"
)

// RatePoint is one exchange-rate observation of a market.
type RatePoint struct {
	Height uint64
	Rate   decimal.Decimal
}

// Export renders a market's exchange-rate history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if !common.IsHexAddress(opts.Market) {
		return fmt.Errorf("invalid market address %q", opts.Market)
	}
	market := common.HexToAddress(opts.Market)

	p, err := a.newPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	to := opts.To
	if to == 0 {
		to, err = p.chain.HeadBlock(ctx)
		if err != nil {
			return err
		}
	}
	if opts.From > to {
		return errors.New("from must not be after to")
	}

	name, err := p.chain.Name(ctx, market, to)
	if err != nil {
		return fmt.Errorf("resolve market name: %w", err)
	}

	heights := sampleHeights(opts.From, to, a.Config.ResolveMaxPoints(opts.MaxPoints))
	points := make([]RatePoint, 0, len(heights))
	for _, h := range heights {
		rate, err := p.resolver.Resolve(ctx, market, h)
		if errors.Is(err, monitor.ErrMissingHistory) {
			continue
		}
		if err != nil {
			return fmt.Errorf("resolve rate at block %d: %w", h, err)
		}
		points = append(points, RatePoint{Height: h, Rate: rate})
	}
	if len(points) == 0 {
		a.Logger.Info().Str("market", market.Hex()).Msg("no exchange-rate history in export window")
		return nil
	}
	a.Logger.Info().
		Str("market", market.Hex()).
		Str("name", name).
		Int("sampled", len(heights)).
		Int("exported", len(points)).
		Msg("exporting exchange rates")

	if opts.CSVPath != "" {
		if err := writeRatesCSV(opts.CSVPath, points); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeRatesPNG(opts.PNGPath, name, points); err != nil {
			return err
		}
	}

	return nil
}

// sampleHeights spreads at most max heights evenly over [from, to], always
// including both ends.
func sampleHeights(from, to uint64, max int) []uint64 {
	span := to - from + 1
	if max <= 0 || span <= uint64(max) {
		heights := make([]uint64, 0, span)
		for h := from; h <= to; h++ {
			heights = append(heights, h)
			if h == to {
				break
			}
		}
		return heights
	}
	if max == 1 {
		return []uint64{to}
	}

	heights := make([]uint64, 0, max)
	step := float64(span-1) / float64(max-1)
	for i := 0; i < max; i++ {
		h := from + uint64(math.Round(step*float64(i)))
		if h > to {
			h = to
		}
		if n := len(heights); n > 0 && heights[n-1] == h {
			continue
		}
		heights = append(heights, h)
	}
	return heights
}

func writeRatesCSV(path string, points []RatePoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"block", "exchange_rate"}); err != nil {
		return err
	}
	for _, p := range points {
		if err := writer.Write([]string{strconv.FormatUint(p.Height, 10), p.Rate.String()}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeRatesPNG(path, name string, points []RatePoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]float64, len(points))
	y := make([]float64, len(points))
	for i, p := range points {
		x[i] = float64(p.Height)
		y[i] = p.Rate.InexactFloat64()
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			Name: "Block",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		YAxis: chart.YAxis{
			Name: "Exchange rate",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.6f")
			},
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    name,
				XValues: x,
				YValues: y,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
