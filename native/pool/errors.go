package pool

import (
	"errors"

	"basketpool/native/access"
	nativecommon "basketpool/native/common"
)

var (
	ErrNilState              = errors.New("pool engine: state not configured")
	ErrInvalidConfiguration  = errors.New("pool engine: invalid configuration")
	ErrNotInitialized        = errors.New("pool engine: not initialised")
	ErrInvalidAsset          = errors.New("pool engine: unknown asset")
	ErrInsufficientInput     = errors.New("pool engine: insufficient input")
	ErrInsufficientLiquidity = errors.New("pool engine: insufficient liquidity")
	ErrDuplicateLoan         = errors.New("pool engine: borrower already has an open loan")
	ErrLoanNotExpired        = errors.New("pool engine: loan has not matured")
	ErrNoActiveLoan          = errors.New("pool engine: no active loan")
	ErrFeeExceedsCollateral  = errors.New("pool engine: fee exceeds collateral")
	ErrUnrepaidFlashLoan     = errors.New("pool engine: flash loan not repaid")
	ErrNativeValueRejected   = errors.New("pool engine: native value transfers are not accepted")
	ErrReentrant             = errors.New("pool engine: re-entrant call")
	ErrInsufficientCustody   = errors.New("pool engine: custody balance below ledger payout")

	ErrUnauthorized = access.ErrUnauthorized
	ErrModulePaused = nativecommon.ErrModulePaused
)
