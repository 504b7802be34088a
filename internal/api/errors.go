package api

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"

	"quantlab/internal/backtest"
	"quantlab/internal/domain"
	"quantlab/internal/engine"
	"quantlab/pkg/quantlab"
)

// classify maps an engine error onto its wire kind, HTTP status and gRPC
// code.
func classify(err error) (kind string, status int, code codes.Code) {
	switch {
	case errors.Is(err, engine.ErrTimeout):
		return quantlab.KindTimeout, http.StatusGatewayTimeout, codes.DeadlineExceeded
	case errors.Is(err, domain.ErrSecurityViolation):
		return quantlab.KindSecurity, http.StatusBadRequest, codes.InvalidArgument
	case errors.Is(err, domain.ErrCompile):
		return quantlab.KindCompile, http.StatusBadRequest, codes.InvalidArgument
	case errors.Is(err, domain.ErrValidation):
		return quantlab.KindValidation, http.StatusBadRequest, codes.InvalidArgument
	case errors.Is(err, domain.ErrData):
		return quantlab.KindData, http.StatusUnprocessableEntity, codes.FailedPrecondition
	case errors.Is(err, domain.ErrOptimization):
		return quantlab.KindOptimization, http.StatusUnprocessableEntity, codes.FailedPrecondition
	case errors.Is(err, domain.ErrStrategyRuntime):
		return quantlab.KindStrategyRuntime, http.StatusUnprocessableEntity, codes.FailedPrecondition
	case errors.Is(err, domain.ErrNotFound):
		return quantlab.KindNotFound, http.StatusNotFound, codes.NotFound
	case errors.Is(err, domain.ErrReadOnly):
		return quantlab.KindReadOnly, http.StatusForbidden, codes.PermissionDenied
	}
	return quantlab.KindInternal, http.StatusInternalServerError, codes.Internal
}

// errorResponse builds the wire error body, attaching optimisation
// diagnostics and partial trade logs when the error carries them.
func errorResponse(err error) (quantlab.ErrorResponse, int) {
	kind, status, _ := classify(err)
	body := quantlab.ErrorResponse{Error: err.Error(), Kind: kind}

	var oe *domain.OptimizationError
	if errors.As(err, &oe) {
		body.Iterations = oe.Iterations
		if oe.Best != nil {
			d := toOptimizeResponse(oe.Best)
			body.Diagnostics = &d
		}
	}
	var re *backtest.RunError
	if errors.As(err, &re) && len(re.Trades) > 0 {
		body.Trades = toTrades(re.Trades)
	}
	if status == http.StatusInternalServerError {
		body.Error = "internal error"
	}
	return body, status
}
