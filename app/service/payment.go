package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/opencourse/ms-go-course-payments/app/entity"
	"github.com/opencourse/ms-go-course-payments/app/factory"
	"github.com/opencourse/ms-go-course-payments/app/provider"
)

const defaultListLimit = int32(100)

type courseStore interface {
	FindByID(ctx context.Context, id uint64) (*entity.Course, error)
}

type userStore interface {
	FindByID(ctx context.Context, id uint64) (*entity.User, error)
}

type purchaseStore interface {
	FindByUserAndCourse(ctx context.Context, userID, courseID uint64) (*entity.Purchase, error)
	ListByUser(ctx context.Context, userID uint64) ([]*entity.Purchase, error)
}

type webhookJournal interface {
	FindByEventID(ctx context.Context, providerName, eventID string) (*entity.WebhookEvent, error)
	FindAnyByEventID(ctx context.Context, eventID string) (*entity.WebhookEvent, error)
	ListByStatus(ctx context.Context, status string, limit, offset int32) ([]*entity.WebhookEvent, error)
}

// reconciliationWriter is the atomic write side of the ledger and the journal.
type reconciliationWriter interface {
	CommitProcessed(ctx context.Context, purchase *entity.Purchase, event *entity.WebhookEvent) error
	CommitFailed(ctx context.Context, event *entity.WebhookEvent) error
	CreatePurchase(ctx context.Context, purchase *entity.Purchase) error
}

type PaymentService struct {
	courses   courseStore
	users     userStore
	purchases purchaseStore
	journal   webhookJournal
	writer    reconciliationWriter

	providerReg     *provider.Registry
	frontendBaseURL string

	logger logrus.FieldLogger
}

func NewPaymentService(
	courses courseStore,
	users userStore,
	purchases purchaseStore,
	journal webhookJournal,
	writer reconciliationWriter,
	providerReg *provider.Registry,
	frontendBaseURL string,
) *PaymentService {
	return &PaymentService{
		courses:         courses,
		users:           users,
		purchases:       purchases,
		journal:         journal,
		writer:          writer,
		providerReg:     providerReg,
		frontendBaseURL: frontendBaseURL,
		logger:          factory.NewModuleLogger("payments-service"),
	}
}
