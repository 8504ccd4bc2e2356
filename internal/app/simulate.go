package app

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"exrate-watch/internal/monitor"
)

// SimulateAlert pushes a synthetic regression through the configured alert channels.
func (a *App) SimulateAlert(ctx context.Context, name string, market common.Address, prior, current decimal.Decimal) error {
	inst := monitor.Instrument{Address: market, Name: name}
	finding, found := monitor.Detect(inst, 0, current, prior, true)
	if !found {
		return errors.New("current rate must be below prior rate to raise a finding")
	}
	return a.newNotifier().Notify(ctx, finding)
}
