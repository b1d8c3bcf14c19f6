package domain

import (
	"math"

	apperrors "github.com/sigmahub/marketplace/pkg/errors"
)

// DefaultFeeRate is the platform's share of every sale.
const DefaultFeeRate = 0.10

// SplitFee divides a purchase amount (in minor currency units) into the
// platform fee and the seller's earnings. The fee is rounded half away from
// zero; earnings are the exact complement so fee + earnings == amount for
// every input.
func SplitFee(amount int64, feeRate float64) (platformFee, sellerEarnings int64, err error) {
	if amount <= 0 {
		return 0, 0, apperrors.InvalidInput("amount must be greater than zero")
	}
	if feeRate < 0 || feeRate >= 1 {
		return 0, 0, apperrors.InvalidInput("fee rate must be within [0, 1)")
	}

	platformFee = int64(math.Round(float64(amount) * feeRate))
	sellerEarnings = amount - platformFee
	return platformFee, sellerEarnings, nil
}
