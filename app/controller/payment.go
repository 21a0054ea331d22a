package controller

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/opencourse/ms-go-course-payments/app/factory"
	"github.com/opencourse/ms-go-course-payments/app/mapper"
	"github.com/opencourse/ms-go-course-payments/app/provider"
	"github.com/opencourse/ms-go-course-payments/app/service"
	"github.com/opencourse/ms-go-course-payments/app/types"
)

type PaymentController struct {
	paymentService *service.PaymentService
	logger         logrus.FieldLogger
}

func NewPaymentController(paymentService *service.PaymentService) *PaymentController {
	return &PaymentController{
		paymentService: paymentService,
		logger:         factory.NewModuleLogger("payments-controller"),
	}
}

func (c *PaymentController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.HealthResponse{Status: "ok"})
}

func (c *PaymentController) StartCheckout(ctx echo.Context) error {
	req, err := types.NewCheckoutRequestFromContext(ctx)
	if err != nil {
		return c.writeRequestError(ctx, err)
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	redirectURL, err := c.paymentService.StartCheckout(ctx.Request().Context(), req.UserID, req.CourseID, req.Provider)
	if err != nil {
		switch {
		case errors.Is(err, provider.ErrNotConfigured):
			return c.writeError(ctx, http.StatusNotImplemented, "payment provider is not configured")
		case errors.Is(err, provider.ErrNotSupported):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrCourseNotFound), errors.Is(err, service.ErrUserNotFound):
			return c.writeError(ctx, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrInvalidCourseState), errors.Is(err, service.ErrAlreadyPurchased):
			return c.writeError(ctx, http.StatusForbidden, err.Error())
		case errors.Is(err, service.ErrCheckoutCreationFailed):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Start checkout failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusCreated, &types.CheckoutResponse{URL: redirectURL})
}

// HandleWebhook receives asynchronous provider notifications. The raw body is
// read unparsed because signature verification covers the exact bytes sent.
func (c *PaymentController) HandleWebhook(ctx echo.Context) error {
	payload, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "unable to read request body")
	}

	providerName := ctx.Param("provider")
	err = c.paymentService.HandleWebhook(ctx.Request().Context(), providerName, payload, ctx.Request().Header)
	if err != nil {
		switch {
		case errors.Is(err, provider.ErrNotSupported),
			errors.Is(err, provider.ErrInvalidSignature),
			errors.Is(err, service.ErrInvalidRequest),
			errors.Is(err, service.ErrPaymentNotCompleted),
			errors.Is(err, service.ErrMissingCorrelation):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		case errors.Is(err, provider.ErrNotConfigured):
			return c.writeError(ctx, http.StatusNotImplemented, "payment provider is not configured")
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Webhook processing failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.NoContent(http.StatusOK)
}

func (c *PaymentController) VerifyStripePurchase(ctx echo.Context) error {
	req, err := types.NewVerifyStripePurchaseRequestFromContext(ctx)
	if err != nil {
		return c.writeRequestError(ctx, err)
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	err = c.paymentService.VerifyStripePurchase(ctx.Request().Context(), req.UserID, req.CourseID, req.SessionID)
	return c.writeVerifyResult(ctx, err, "Stripe purchase verification failed")
}

func (c *PaymentController) VerifyPayPalPurchase(ctx echo.Context) error {
	req, err := types.NewVerifyPayPalPurchaseRequestFromContext(ctx)
	if err != nil {
		return c.writeRequestError(ctx, err)
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	err = c.paymentService.VerifyPayPalPurchase(ctx.Request().Context(), req.UserID, req.CourseID, req.OrderID)
	return c.writeVerifyResult(ctx, err, "PayPal purchase verification failed")
}

func (c *PaymentController) writeVerifyResult(ctx echo.Context, err error, logMessage string) error {
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPaymentNotCompleted), errors.Is(err, service.ErrIdentityMismatch):
			return c.writeError(ctx, http.StatusForbidden, err.Error())
		case errors.Is(err, provider.ErrNotConfigured):
			return c.writeError(ctx, http.StatusNotImplemented, "payment provider is not configured")
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error(logMessage)
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.NoContent(http.StatusNoContent)
}

func (c *PaymentController) PurchaseStatus(ctx echo.Context) error {
	req, err := types.NewPurchaseStatusRequestFromContext(ctx)
	if err != nil {
		return c.writeRequestError(ctx, err)
	}

	purchased, err := c.paymentService.HasEntitlement(ctx.Request().Context(), req.UserID, req.CourseID)
	if err != nil {
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Purchase status lookup failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.PurchaseStatusResponse{Purchased: purchased})
}

func (c *PaymentController) ListPurchases(ctx echo.Context) error {
	req, err := types.NewUserScopedRequestFromContext(ctx)
	if err != nil {
		return c.writeRequestError(ctx, err)
	}

	items, err := c.paymentService.ListUserPurchases(ctx.Request().Context(), req.UserID)
	if err != nil {
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("List purchases failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.ListPurchasesResponse{Purchases: mapper.PurchasesToResponse(items)})
}

func (c *PaymentController) writeRequestError(ctx echo.Context, err error) error {
	if errors.Is(err, types.ErrUnauthenticated) {
		return c.writeError(ctx, http.StatusUnauthorized, err.Error())
	}
	return c.writeError(ctx, http.StatusBadRequest, err.Error())
}

func (c *PaymentController) writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}
