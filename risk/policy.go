package risk

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"github.com/rustyeddy/teals/ledger"
)

// Setting keys in the settings table.
const (
	KeyPositionSize = "position_size"
	KeyMaxDailyLoss = "max_daily_loss"
	KeyStopLossPct  = "stop_loss_pct"
)

// PolicyKeys lists the setting keys a Policy reads.
var PolicyKeys = []string{KeyPositionSize, KeyMaxDailyLoss, KeyStopLossPct}

func IsPolicyKey(key string) bool {
	return slices.Contains(PolicyKeys, key)
}

// Policy is the typed view of the risk settings.
type Policy struct {
	PositionSize decimal.Decimal `json:"position_size"`  // max notional per symbol, account currency
	MaxDailyLoss decimal.Decimal `json:"max_daily_loss"` // 0 disables the breaker
	StopLossPct  decimal.Decimal `json:"stop_loss_pct"`  // 0.05 = 5%
}

func DefaultPolicy() Policy {
	return Policy{
		PositionSize: decimal.NewFromInt(1000),
		MaxDailyLoss: decimal.NewFromInt(1000),
		StopLossPct:  decimal.RequireFromString("0.05"),
	}
}

// PolicyFromSettings reads the risk keys, falling back to defaults for keys
// that are missing.
func PolicyFromSettings(settings map[string]string) (Policy, error) {
	p := DefaultPolicy()
	fields := map[string]*decimal.Decimal{
		KeyPositionSize: &p.PositionSize,
		KeyMaxDailyLoss: &p.MaxDailyLoss,
		KeyStopLossPct:  &p.StopLossPct,
	}
	for key, dst := range fields {
		raw, ok := settings[key]
		if !ok {
			continue
		}
		v, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return Policy{}, fmt.Errorf("setting %s: %w", key, err)
		}
		*dst = v
	}
	return p, p.Validate()
}

// Settings renders p as settings-table values.
func (p Policy) Settings() map[string]string {
	return map[string]string{
		KeyPositionSize: p.PositionSize.String(),
		KeyMaxDailyLoss: p.MaxDailyLoss.String(),
		KeyStopLossPct:  p.StopLossPct.String(),
	}
}

func (p Policy) Validate() error {
	if !p.PositionSize.IsPositive() {
		return ledger.Validationf("%s must be > 0", KeyPositionSize)
	}
	if p.MaxDailyLoss.IsNegative() {
		return ledger.Validationf("%s must be >= 0", KeyMaxDailyLoss)
	}
	if !p.StopLossPct.IsPositive() || p.StopLossPct.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return ledger.Validationf("%s must be between 0 and 1", KeyStopLossPct)
	}
	return nil
}

// Update is a partial change to a Policy. Nil fields are left alone.
type Update struct {
	PositionSize *decimal.Decimal
	MaxDailyLoss *decimal.Decimal
	StopLossPct  *decimal.Decimal
}

// ParseUpdate builds an Update from loosely typed values, as found in query
// strings or decoded JSON. Unknown keys are rejected.
func ParseUpdate(values map[string]any) (Update, error) {
	var u Update
	for key, raw := range values {
		s, err := cast.ToStringE(raw)
		if err != nil {
			return Update{}, ledger.Validationf("%s: %v", key, err)
		}
		v, err := decimal.NewFromString(strings.TrimSpace(s))
		if err != nil {
			return Update{}, ledger.Validationf("%s: not a number: %q", key, s)
		}
		switch key {
		case KeyPositionSize:
			u.PositionSize = &v
		case KeyMaxDailyLoss:
			u.MaxDailyLoss = &v
		case KeyStopLossPct:
			u.StopLossPct = &v
		default:
			return Update{}, ledger.Validationf("unknown risk setting %q", key)
		}
	}
	return u, nil
}

// Apply returns p with u's fields replaced, validated.
func (p Policy) Apply(u Update) (Policy, error) {
	if u.PositionSize != nil {
		p.PositionSize = *u.PositionSize
	}
	if u.MaxDailyLoss != nil {
		p.MaxDailyLoss = *u.MaxDailyLoss
	}
	if u.StopLossPct != nil {
		p.StopLossPct = *u.StopLossPct
	}
	return p, p.Validate()
}
