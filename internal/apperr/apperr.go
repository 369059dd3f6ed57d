package apperr

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Failure classes shared across the run, room and ranking services.
// Callers branch with errors.Is; handlers translate via HTTPError.
var (
	ErrNotFound     = errors.New("not found")
	ErrDisconnected = errors.New("disconnected")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation failure")
	ErrFatal        = errors.New("local storage corrupted")
)

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

func Disconnectedf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrDisconnected)...)
}

func Conflictf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrConflict)...)
}

func Validationf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrValidation)...)
}

func Fatalf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrFatal)...)
}

// HTTPError maps a service error onto a fiber error. Unclassified errors
// pass through as 500 so nothing gets swallowed.
func HTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, ErrDisconnected):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	case errors.Is(err, ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}
