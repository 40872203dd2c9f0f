package models

import (
	"fmt"
	"math"
	"time"

	apperrors "trend-trader/internal/errors"
)

// expiryMonths are the quarterly equity-index future expiry months.
var expiryMonths = []time.Month{time.March, time.June, time.September, time.December}

// FrontMonth returns the YYYYMM code of the active quarterly contract.
// Inside an expiry month the contract rolls to the next quarter from the
// third week on.
func FrontMonth(now time.Time) string {
	year := now.Year()
	var front time.Month
	for _, m := range expiryMonths {
		if now.Month() <= m {
			front = m
			break
		}
	}

	week := int(math.Ceil(float64(now.Day()) / 7))
	if now.Month() == front && week >= 3 {
		if front == time.December {
			front = time.March
			year++
		} else {
			front += 3
		}
	}

	return fmt.Sprintf("%04d%02d", year, int(front))
}

// ResolveExpiry replaces the front-month shorthand with a concrete code.
func (i Instrument) ResolveExpiry(now time.Time) Instrument {
	if i.Expiry == ExpiryFrontMonth {
		i.Expiry = FrontMonth(now)
	}
	return i
}

// Validate checks the contract configuration. A misconfigured contract
// must stop a session before it starts.
func (i Instrument) Validate() error {
	if i.Symbol == "" {
		return apperrors.Wrap(apperrors.ErrInvalidContract, "symbol is required")
	}
	if i.Exchange == "" {
		return apperrors.Wrap(apperrors.ErrInvalidContract, "exchange is required")
	}
	if i.TickSize <= 0 {
		return apperrors.Wrapf(apperrors.ErrInvalidContract, "tick size must be positive, got %v", i.TickSize)
	}
	switch i.ContractType {
	case ContractFuture:
		if i.Expiry == "" {
			return apperrors.Wrap(apperrors.ErrInvalidContract, "an expiry must be set for futures")
		}
		if i.Expiry != ExpiryFrontMonth {
			if _, err := time.Parse("200601", i.Expiry); err != nil {
				return apperrors.Wrapf(apperrors.ErrInvalidContract, "expiry %q is not YYYYMM", i.Expiry)
			}
		}
	case ContractStock, ContractIndex:
	default:
		return apperrors.Wrapf(apperrors.ErrInvalidContract, "unknown contract type %q", i.ContractType)
	}
	return nil
}
