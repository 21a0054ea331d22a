package service

import "errors"

var (
	ErrInvalidRequest         = errors.New("invalid request")
	ErrCourseNotFound         = errors.New("course not found")
	ErrUserNotFound           = errors.New("user not found")
	ErrInvalidCourseState     = errors.New("course is not purchasable")
	ErrAlreadyPurchased       = errors.New("course already purchased")
	ErrCheckoutCreationFailed = errors.New("checkout session is missing a redirect url")
	ErrPaymentNotCompleted    = errors.New("payment is not completed")
	ErrIdentityMismatch       = errors.New("payment correlation data does not match the caller")
	ErrMissingCorrelation     = errors.New("event correlation metadata is missing or invalid")
	ErrEventNotFound          = errors.New("webhook event not found")
)
