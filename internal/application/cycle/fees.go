package cycle

import (
	"github.com/cassiomorais/esusu/internal/config"
	"github.com/shopspring/decimal"
)

// FeeSchedule computes the application fee for a contribution debit.
// Base fee is min(cap, amount*percent + fixed); retries carry a flat
// surcharge added once, regardless of how many retries have happened.
type FeeSchedule struct {
	Percent   decimal.Decimal
	Fixed     decimal.Decimal
	Cap       decimal.Decimal
	Surcharge decimal.Decimal
}

// DefaultFeeSchedule is the production fee table.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		Percent:   decimal.RequireFromString("0.01"),
		Fixed:     decimal.RequireFromString("0.30"),
		Cap:       decimal.RequireFromString("3.50"),
		Surcharge: decimal.RequireFromString("2.50"),
	}
}

// FeeScheduleFromConfig parses the configured fee table. Falls back to the
// defaults on malformed values rather than failing startup.
func FeeScheduleFromConfig(cfg *config.SavingsConfig) FeeSchedule {
	fs := DefaultFeeSchedule()
	if d, err := decimal.NewFromString(cfg.FeePercent); err == nil {
		fs.Percent = d
	}
	if d, err := decimal.NewFromString(cfg.FeeFixed); err == nil {
		fs.Fixed = d
	}
	if d, err := decimal.NewFromString(cfg.FeeCap); err == nil {
		fs.Cap = d
	}
	if d, err := decimal.NewFromString(cfg.RetrySurcharge); err == nil {
		fs.Surcharge = d
	}
	return fs
}

// ForAttempt returns the fee for a debit of amount on the given retry count.
// retryCount 0 is the first attempt.
func (f FeeSchedule) ForAttempt(amount decimal.Decimal, retryCount int) decimal.Decimal {
	fee := amount.Mul(f.Percent).Add(f.Fixed)
	if fee.GreaterThan(f.Cap) {
		fee = f.Cap
	}
	if retryCount >= 1 {
		fee = fee.Add(f.Surcharge)
	}
	return fee
}
