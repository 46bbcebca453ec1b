package httpapi

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/i474232898/hydro-aggregation/internal/hydro"
)

// statusOf maps an error to the HTTP status reported to clients.
func statusOf(err error) int {
	var (
		fe *fiber.Error
		ve validator.ValidationErrors
		te *hydro.TransportError
		de *hydro.DecodeError
		ce *hydro.CacheError
	)
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, hydro.ErrUnknownProvider), errors.Is(err, hydro.ErrNotFound):
		return fiber.StatusNotFound
	case errors.As(err, &ve):
		return fiber.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	case errors.As(err, &te), errors.As(err, &de):
		return fiber.StatusBadGateway
	case errors.As(err, &ce):
		return fiber.StatusInternalServerError
	default:
		return fiber.StatusInternalServerError
	}
}

// ErrorHandler is the centralized fiber error handler.
func ErrorHandler(logger *zap.SugaredLogger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return func(c *fiber.Ctx, err error) error {
		code := statusOf(err)
		if code >= fiber.StatusInternalServerError {
			logger.Errorw("api: request failed", "method", c.Method(), "path", c.Path(), "status", code, "error", err)
		}
		return c.Status(code).JSON(fiber.Map{
			"error":   true,
			"message": err.Error(),
		})
	}
}
