package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by both engines. Callers classify failures with
// errors.Is against these sentinels.
var (
	// ErrData is returned when price history is missing, too short or misaligned.
	ErrData = errors.New("data error")

	// ErrValidation is returned for bad request parameters.
	ErrValidation = errors.New("validation error")

	// ErrOptimization is returned when the covariance matrix stays singular
	// after regularisation or the solver does not converge.
	ErrOptimization = errors.New("optimization error")

	// ErrCompile is returned when a strategy rule fails load-time validation.
	ErrCompile = errors.New("compile error")

	// ErrSecurityViolation is returned when a rule attempts an operation outside
	// its sandbox. It is always fatal for the run.
	ErrSecurityViolation = errors.New("security violation")

	// ErrStrategyRuntime is returned when too many bars fail during a run.
	ErrStrategyRuntime = errors.New("strategy runtime error")

	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrReadOnly is returned when mutating a built-in strategy definition.
	ErrReadOnly = errors.New("read-only")
)

// Validationf wraps a formatted message in ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Dataf wraps a formatted message in ErrData.
func Dataf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrData, fmt.Sprintf(format, args...))
}

// Compilef wraps a formatted message in ErrCompile.
func Compilef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCompile, fmt.Sprintf(format, args...))
}

// Securityf wraps a formatted message in ErrSecurityViolation.
func Securityf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSecurityViolation, fmt.Sprintf(format, args...))
}

// OptimizationError reports a failed optimisation. Best holds the best
// allocation found before the failure, when one exists, for diagnostics.
type OptimizationError struct {
	Reason     string
	Iterations int
	Best       *OptimizationResult
}

func (e *OptimizationError) Error() string {
	if e.Iterations > 0 {
		return fmt.Sprintf("optimization error: %s (after %d iterations)", e.Reason, e.Iterations)
	}
	return "optimization error: " + e.Reason
}

// Unwrap lets errors.Is match ErrOptimization.
func (e *OptimizationError) Unwrap() error {
	return ErrOptimization
}
