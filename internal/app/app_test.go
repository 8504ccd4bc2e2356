package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"exrate-watch/internal/config"
	"exrate-watch/internal/monitor"
)

func testApp() *App {
	return NewApp(&config.Config{}, zerolog.Nop())
}

func sampleFinding() monitor.Finding {
	inst := monitor.Instrument{Address: common.HexToAddress("0x02"), Name: "Compound USDC"}
	return monitor.NewFinding(inst, 42, decimal.RequireFromString("0.0221"), decimal.RequireFromString("0.0220"))
}

func TestSampleHeights(t *testing.T) {
	assert.Equal(t, []uint64{5, 6, 7}, sampleHeights(5, 7, 0))
	assert.Equal(t, []uint64{5, 6, 7}, sampleHeights(5, 7, 10))
	assert.Equal(t, []uint64{7}, sampleHeights(7, 7, 3))
	assert.Equal(t, []uint64{100}, sampleHeights(0, 100, 1))

	heights := sampleHeights(0, 100, 5)
	assert.Equal(t, []uint64{0, 25, 50, 75, 100}, heights)
}

func TestSampleHeightsStrictlyIncreasing(t *testing.T) {
	heights := sampleHeights(1000, 1999, 7)
	require.Len(t, heights, 7)
	assert.Equal(t, uint64(1000), heights[0])
	assert.Equal(t, uint64(1999), heights[len(heights)-1])
	for i := 1; i < len(heights); i++ {
		assert.Greater(t, heights[i], heights[i-1])
	}
}

func TestWriteRatesCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "rates.csv")
	points := []RatePoint{
		{Height: 10, Rate: decimal.RequireFromString("0.020000000000000001")},
		{Height: 11, Rate: decimal.RequireFromString("0.020000000000000002")},
	}
	require.NoError(t, writeRatesCSV(path, points))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"block", "exchange_rate"},
		{"10", "0.020000000000000001"},
		{"11", "0.020000000000000002"},
	}, records)
}

func TestWriteRatesPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rates.png")
	points := []RatePoint{
		{Height: 10, Rate: decimal.RequireFromString("0.0200")},
		{Height: 20, Rate: decimal.RequireFromString("0.0201")},
		{Height: 30, Rate: decimal.RequireFromString("0.0199")},
	}
	require.NoError(t, writeRatesPNG(path, "Compound Dai", points))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestWriteFindingsTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFindings(&buf, 42, []monitor.Finding{sampleFinding()}, "table"))
	out := buf.String()
	assert.Contains(t, out, "Compound USDC")
	assert.Contains(t, out, "0.0221")
	assert.Contains(t, out, "Medium")

	buf.Reset()
	require.NoError(t, writeFindings(&buf, 43, []monitor.Finding{}, ""))
	assert.Contains(t, buf.String(), "block 43: no exchange-rate regressions")
}

func TestWriteFindingsJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFindings(&buf, 42, []monitor.Finding{sampleFinding()}, "json"))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, monitor.AlertIDExchangeRate, decoded[0]["alert_id"])
}

func TestWriteFindingsYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFindings(&buf, 42, []monitor.Finding{sampleFinding()}, "yaml"))

	var decoded []map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
}

func TestWriteFindingsUnknownFormat(t *testing.T) {
	assert.Error(t, writeFindings(&bytes.Buffer{}, 1, nil, "xml"))
}

func TestSimulateAlert(t *testing.T) {
	a := testApp()
	market := common.HexToAddress("0x01")

	require.NoError(t, a.SimulateAlert(context.Background(), "cSIM", market, decimal.NewFromInt(2), decimal.NewFromInt(1)))
	assert.Error(t, a.SimulateAlert(context.Background(), "cSIM", market, decimal.NewFromInt(1), decimal.NewFromInt(1)))
}

func TestCommandsRequireRPC(t *testing.T) {
	a := testApp()
	ctx := context.Background()

	assert.Error(t, a.Check(ctx, &bytes.Buffer{}, CheckOptions{Height: 1}))
	assert.Error(t, a.Backfill(ctx, BackfillOptions{From: 1, To: 2}))
	assert.Error(t, a.Export(ctx, ExportOptions{Market: "0x0000000000000000000000000000000000000001", CSVPath: "x.csv"}))
}

func TestBackfillRejectsEmptyRange(t *testing.T) {
	err := testApp().Backfill(context.Background(), BackfillOptions{From: 5, To: 4})
	assert.ErrorContains(t, err, "empty")
}

func TestExportValidatesArguments(t *testing.T) {
	a := testApp()
	ctx := context.Background()

	assert.ErrorContains(t, a.Export(ctx, ExportOptions{Market: "0x01"}), "--csv or --png")
	assert.ErrorContains(t, a.Export(ctx, ExportOptions{Market: "nope", CSVPath: "x.csv"}), "invalid market")
}
