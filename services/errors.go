package services

import (
	"errors"
	"fmt"

	"github.com/Dosada05/match-engine/lifecycle"
	"github.com/Dosada05/match-engine/repositories"
)

// Общие ошибки, используемые сервисами и маппингом HTTP.
var (
	// Ресурс не найден (универсальная)
	ErrNotFound        = errors.New("requested resource not found")
	ErrMatchNotFound   = errors.New("match not found")
	ErrDisputeNotFound = errors.New("dispute not found")

	// Ошибки валидации
	ErrValidationFailed = errors.New("validation failed")
	ErrEmptySlot        = errors.New("match has an empty participant slot")
	ErrMissingScores    = errors.New("match has no submitted scores")

	// Авторизация и переходы состояний: из пакета lifecycle
	ErrPermissionDenied  = lifecycle.ErrPermissionDenied
	ErrInvalidTransition = lifecycle.ErrInvalidTransition

	// Ошибки конфликтов
	ErrConcurrencyConflict  = errors.New("match was modified concurrently, retry the command")
	ErrIdempotencyInFlight  = errors.New("a request with this idempotency key is still in progress")
	ErrDisputeAlreadyOpen   = errors.New("match already has an open dispute")
	ErrDisputeNotOpen       = errors.New("dispute is not open")
	ErrDisputeInvalidStatus = errors.New("invalid dispute status transition")
)

// ErrorKind is the stable classification the boundary layer maps to a transport status.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation_error"
	KindPermissionDenied  ErrorKind = "permission_denied"
	KindInvalidTransition ErrorKind = "invalid_state_transition"
	KindConflict          ErrorKind = "concurrency_conflict"
	KindNotFound          ErrorKind = "not_found"
	KindInternal          ErrorKind = "internal"
)

// Classify maps any error returned by this package to its ErrorKind.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidationFailed),
		errors.Is(err, lifecycle.ErrTiedScore),
		errors.Is(err, lifecycle.ErrNegativeScore),
		errors.Is(err, lifecycle.ErrUnknownOperation):
		return KindValidation
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrDisputeNotOpen),
		errors.Is(err, ErrDisputeInvalidStatus):
		return KindInvalidTransition
	case errors.Is(err, ErrConcurrencyConflict),
		errors.Is(err, ErrIdempotencyInFlight),
		errors.Is(err, ErrDisputeAlreadyOpen):
		return KindConflict
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrMatchNotFound),
		errors.Is(err, ErrDisputeNotFound):
		return KindNotFound
	}
	return KindInternal
}

// translateRepoError заменяет ошибки репозиториев на ошибки сервисного слоя.
func translateRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repositories.ErrMatchNotFound):
		return ErrMatchNotFound
	case errors.Is(err, repositories.ErrDisputeNotFound):
		return ErrDisputeNotFound
	case errors.Is(err, repositories.ErrDisputeAlreadyOpen):
		return ErrDisputeAlreadyOpen
	case errors.Is(err, repositories.ErrDisputeStatusChanged):
		return ErrConcurrencyConflict
	case errors.Is(err, repositories.ErrMatchParticipantInvalid),
		errors.Is(err, repositories.ErrDisputeMatchInvalid):
		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	return err
}
