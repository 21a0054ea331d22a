package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/opencourse/ms-go-course-payments/app/provider"
)

// StartCheckout builds a checkout session with the given provider for one
// (user, course) pair and returns the redirect target. Preconditions are
// checked in order; each maps to a distinct failure. The user/course identity
// is encoded into the provider's correlation field so the webhook and verify
// paths can recover it without a side lookup.
func (s *PaymentService) StartCheckout(ctx context.Context, userID, courseID uint64, providerName string) (string, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		return "", err
	}
	if course == nil {
		return "", ErrCourseNotFound
	}
	if !course.IsPaid || course.Currency == nil || len(strings.TrimSpace(*course.Currency)) != 3 ||
		course.PriceCents == nil || *course.PriceCents <= 0 {
		return "", ErrInvalidCourseState
	}

	// Fast path only; reconciliation stays idempotent without it.
	existing, err := s.purchases.FindByUserAndCourse(ctx, userID, courseID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", ErrAlreadyPurchased
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", ErrUserNotFound
	}

	providerClient, err := s.providerReg.Get(providerName)
	if err != nil {
		return "", err
	}

	session, err := providerClient.CreateCheckout(ctx, &provider.CheckoutInput{
		UserID:        userID,
		CourseID:      courseID,
		CourseTitle:   course.Title,
		CustomerEmail: user.Email,
		AmountCents:   *course.PriceCents,
		Currency:      *course.Currency,
		SuccessURL:    s.returnURL(courseID, providerClient.Name(), "success"),
		CancelURL:     s.returnURL(courseID, providerClient.Name(), "cancel"),
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(session.RedirectURL) == "" {
		return "", ErrCheckoutCreationFailed
	}

	return session.RedirectURL, nil
}

func (s *PaymentService) returnURL(courseID uint64, providerName, state string) string {
	base := strings.TrimRight(strings.TrimSpace(s.frontendBaseURL), "/")
	return fmt.Sprintf("%s/courses/%d?checkout=%s&state=%s", base, courseID, providerName, state)
}
