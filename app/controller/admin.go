package controller

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/opencourse/ms-go-course-payments/app/factory"
	"github.com/opencourse/ms-go-course-payments/app/mapper"
	"github.com/opencourse/ms-go-course-payments/app/provider"
	"github.com/opencourse/ms-go-course-payments/app/service"
	"github.com/opencourse/ms-go-course-payments/app/types"
)

// AdminController exposes the operator-facing triage and retry surface for
// the webhook event journal.
type AdminController struct {
	paymentService *service.PaymentService
	logger         logrus.FieldLogger
}

func NewAdminController(paymentService *service.PaymentService) *AdminController {
	return &AdminController{
		paymentService: paymentService,
		logger:         factory.NewModuleLogger("payments-admin-controller"),
	}
}

func (c *AdminController) ListWebhookEvents(ctx echo.Context) error {
	req, err := types.NewListWebhookEventsRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	items, err := c.paymentService.ListWebhookEvents(ctx.Request().Context(), req.Status, req.Limit, req.Offset)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			return c.writeError(ctx, http.StatusBadRequest, "status must be processed or failed")
		}
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("List webhook events failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.ListWebhookEventsResponse{Events: mapper.WebhookEventsToResponse(items)})
}

func (c *AdminController) RetryWebhookEvent(ctx echo.Context) error {
	req, err := types.NewRetryWebhookEventRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	event, err := c.paymentService.RetryWebhookEvent(ctx.Request().Context(), req.EventID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEventNotFound):
			return c.writeError(ctx, http.StatusNotFound, "webhook event not found")
		case errors.Is(err, provider.ErrNotSupported), errors.Is(err, provider.ErrNotConfigured):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Retry webhook event failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	response := &types.RetryWebhookEventResponse{Status: event.Status}
	if event.ErrorMessage != nil {
		response.ErrorMessage = *event.ErrorMessage
	}

	return ctx.JSON(http.StatusCreated, response)
}

func (c *AdminController) writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}
