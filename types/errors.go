package types

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrServerNotRunning     = errors.New("server not running")
	ErrServerAlreadyRunning = errors.New("server already running")
	ErrServerStartFailed    = errors.New("server start failed")
	ErrServiceFinished      = errors.New("service already finished")
)

var (
	ErrStoreTypeUnknown = errors.New("store type unknown")
	ErrStoreNotRunning  = errors.New("store not running")
	ErrNotFound         = errors.New("record not found")
)

var (
	ErrMetricsTypeUnknown = errors.New("metrics type unknown")
	ErrMetricsIsDisabled  = errors.New("metrics manager is disabled")
)

var (
	ErrHealthCheckFailed  = errors.New("health check failed")
	ErrHealthCheckTimeout = errors.New("health check timeout")
)

var (
	ErrLogFileIsEmpty     = errors.New("log file is empty")
	ErrLogFileWrongFormat = errors.New("log file wrong format")
)

var (
	ErrVinylNotFound     = errors.New("vinyl not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrUserVinylNotFound = errors.New("user vinyl not found")
	ErrEmailTaken        = errors.New("email already taken")
	ErrUsernameTaken     = errors.New("username already taken")
	ErrInvalidStatus     = errors.New("invalid vinyl status")
	ErrInvalidParameter  = errors.New("invalid parameter")
)

// Errorf annotates a sentinel with detail while keeping it matchable by
// errors.Is. The result carries a stack trace.
func Errorf(baseErr error, format string, args ...interface{}) error {
	return pkgerrors.WithStack(fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...)))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(err, message)
}

func NewErrorf(format string, args ...interface{}) error {
	return pkgerrors.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
