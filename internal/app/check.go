package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"exrate-watch/internal/monitor"
)

// Check evaluates a single block and prints its findings.
func (a *App) Check(ctx context.Context, out io.Writer, opts CheckOptions) error {
	p, err := a.newPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	height := opts.Height
	if height == 0 {
		height, err = p.chain.HeadBlock(ctx)
		if err != nil {
			return err
		}
	}

	findings, err := p.evaluator.Evaluate(ctx, height)
	if err != nil {
		return fmt.Errorf("evaluate block %d: %w", height, err)
	}
	a.Logger.Info().Uint64("height", height).Int("findings", len(findings)).Msg("check complete")

	return writeFindings(out, height, findings, opts.Output)
}

func writeFindings(out io.Writer, height uint64, findings []monitor.Finding, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(findings)
	case "yaml":
		enc := yaml.NewEncoder(out)
		defer enc.Close()
		return enc.Encode(findings)
	case "", "table":
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}

	if len(findings) == 0 {
		fmt.Fprintf(out, "block %d: no exchange-rate regressions\n", height)
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Block\tMarket\tAddress\tPrior\tCurrent\tSeverity")
	for _, f := range findings {
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%s\n",
			f.Height,
			sanitizeInline(f.Instrument),
			f.Address.Hex(),
			f.PriorRate.String(),
			f.CurrentRate.String(),
			f.Severity,
		)
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
