package monitor

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Severity grades a finding.
type Severity string

// FindingType classifies a finding.
type FindingType string

const (
	SeverityInfo     Severity = "Info"
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"

	TypeInfo       FindingType = "Info"
	TypeSuspicious FindingType = "Suspicious"
	TypeExploit    FindingType = "Exploit"
	TypeDegraded   FindingType = "Degraded"
)

const (
	// AlertIDExchangeRate tags exchange-rate regressions.
	AlertIDExchangeRate = "COMPOUND_CTOKEN_EXRATE"

	findingName = "cToken Exchange Rate went down"
)

// findingNamespace seeds deterministic finding IDs.
var findingNamespace = uuid.MustParse("5c1f3d8e-0b7a-4e55-9a5e-3c4f1e2d7b90")

// Finding is one detected regression. It is a value and is never modified
// after Detect returns it.
type Finding struct {
	ID          string          `json:"id" yaml:"id"`
	AlertID     string          `json:"alert_id" yaml:"alert_id"`
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description" yaml:"description"`
	Severity    Severity        `json:"severity" yaml:"severity"`
	Type        FindingType     `json:"type" yaml:"type"`
	Instrument  string          `json:"instrument" yaml:"instrument"`
	Address     common.Address  `json:"address" yaml:"address"`
	Height      uint64          `json:"height" yaml:"height"`
	PriorRate   decimal.Decimal `json:"prior_rate" yaml:"prior_rate"`
	CurrentRate decimal.Decimal `json:"current_rate" yaml:"current_rate"`
}

// NewFinding builds the regression finding for inst at height.
func NewFinding(inst Instrument, height uint64, prior, current decimal.Decimal) Finding {
	seed := inst.Address.Hex() + ":" + strconv.FormatUint(height, 10)
	return Finding{
		ID:          uuid.NewSHA1(findingNamespace, []byte(seed)).String(),
		AlertID:     AlertIDExchangeRate,
		Name:        findingName,
		Description: fmt.Sprintf("cToken %s Exchange Rate went down.", inst.Name),
		Severity:    SeverityMedium,
		Type:        TypeSuspicious,
		Instrument:  inst.Name,
		Address:     inst.Address,
		Height:      height,
		PriorRate:   prior,
		CurrentRate: current,
	}
}

// Detect reports a finding iff a prior value exists and current is strictly
// below it.
func Detect(inst Instrument, height uint64, current, prior decimal.Decimal, hasPrior bool) (Finding, bool) {
	if !hasPrior {
		return Finding{}, false
	}
	if !current.LessThan(prior) {
		return Finding{}, false
	}
	return NewFinding(inst, height, prior, current), true
}
