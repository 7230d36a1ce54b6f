package ledger

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/teals/market"
)

// Trade is one executed fill. It is immutable once recorded.
//
// ID is minted by the trade store. ClientID is the identity supplied by the
// execution collaborator and is what duplicate detection keys on.
type Trade struct {
	ID         string          `json:"id"`
	ClientID   string          `json:"client_id" validate:"required,max=128"`
	Symbol     string          `json:"symbol" validate:"required,max=32"`
	Side       Side            `json:"side" validate:"required,oneof=BUY SELL"`
	Quantity   decimal.Decimal `json:"quantity" validate:"gt=0"`
	Price      decimal.Decimal `json:"price" validate:"gt=0"`
	ExecutedAt time.Time       `json:"executed_at" validate:"required"`
	Strategy   string          `json:"strategy,omitempty" validate:"max=64"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// Decimals validate through their sign, so tiny values never round to 0.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return float64(d.Sign())
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// Normalize canonicalizes symbol, side and timestamp.
func (t Trade) Normalize() Trade {
	t.ClientID = strings.TrimSpace(t.ClientID)
	t.Symbol = market.NormalizeSymbol(t.Symbol)
	t.Side = Side(strings.ToUpper(strings.TrimSpace(string(t.Side))))
	t.Strategy = strings.TrimSpace(t.Strategy)
	if !t.ExecutedAt.IsZero() {
		t.ExecutedAt = market.Naive(t.ExecutedAt).Truncate(time.Microsecond)
	}
	return t
}

// Validate returns an ErrValidation describing the first bad field.
func (t Trade) Validate() error {
	if err := validate.Struct(t); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return Validationf("%s", describe(verrs[0]))
		}
		return Validationf("%v", err)
	}
	if err := market.ValidateSymbol(t.Symbol); err != nil {
		return Validationf("%v", err)
	}
	return nil
}

// SignedQuantity is +quantity for buys and -quantity for sells.
func (t Trade) SignedQuantity() decimal.Decimal {
	return t.Side.Signed(t.Quantity)
}

// Notional is quantity * price.
func (t Trade) Notional() decimal.Decimal {
	return t.Quantity.Mul(t.Price)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "gt":
		return fmt.Sprintf("%s must be > %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", fe.Field(), fe.Param(), fe.Value())
	case "max":
		return fmt.Sprintf("%s exceeds %s characters", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
}
