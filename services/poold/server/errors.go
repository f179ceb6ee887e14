package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"basketpool/native/pool"
	"basketpool/native/token"
	"basketpool/services/poold"
	"basketpool/services/poold/auth"
)

var errBadRequest = errors.New("bad request")

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type errorClass struct {
	status int
	code   string
	errs   []error
}

var errorTable = []errorClass{
	{http.StatusUnauthorized, "unauthenticated", []error{auth.ErrNoCaller, auth.ErrInvalidToken}},
	{http.StatusForbidden, "unauthorized", []error{pool.ErrUnauthorized}},
	{http.StatusServiceUnavailable, "paused", []error{pool.ErrModulePaused}},
	{http.StatusServiceUnavailable, "unavailable", []error{poold.ErrClosed}},
	{http.StatusNotFound, "not_found", []error{pool.ErrNoActiveLoan, pool.ErrNotInitialized, token.ErrUnknownToken, poold.ErrUnknownReceiver}},
	{http.StatusConflict, "conflict", []error{pool.ErrDuplicateLoan, pool.ErrLoanNotExpired, pool.ErrReentrant, token.ErrTokenExists}},
	{http.StatusUnprocessableEntity, "insufficient", []error{
		pool.ErrInsufficientLiquidity, pool.ErrFeeExceedsCollateral, pool.ErrUnrepaidFlashLoan,
		pool.ErrInsufficientCustody, token.ErrInsufficientBalance, token.ErrInsufficientAllowance,
	}},
	{http.StatusUnprocessableEntity, "native_rejected", []error{pool.ErrNativeValueRejected}},
	{http.StatusBadRequest, "invalid_argument", []error{
		errBadRequest, pool.ErrInvalidAsset, pool.ErrInsufficientInput, pool.ErrInvalidConfiguration,
		token.ErrInvalidAmount, token.ErrZeroAddress, token.ErrInvalidMetadata,
	}},
	{http.StatusGatewayTimeout, "timeout", []error{context.DeadlineExceeded}},
}

// classify maps an operation error onto an HTTP status and stable error code.
func classify(err error) (int, string) {
	for _, class := range errorTable {
		for _, target := range class.errs {
			if errors.Is(err, target) {
				return class.status, class.code
			}
		}
	}
	return http.StatusInternalServerError, "internal"
}

func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
