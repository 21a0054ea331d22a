package mapper

import (
	"time"

	"github.com/opencourse/ms-go-course-payments/app/entity"
	"github.com/opencourse/ms-go-course-payments/app/types"
)

func PurchaseToResponse(item *entity.Purchase) *types.PurchaseResponse {
	if item == nil {
		return nil
	}

	return &types.PurchaseResponse{
		ID:          item.ID,
		UserID:      item.UserID,
		CourseID:    item.CourseID,
		Source:      item.Source,
		AmountCents: item.AmountCents,
		Currency:    item.Currency,
		CreatedAt:   item.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func PurchasesToResponse(items []*entity.Purchase) []*types.PurchaseResponse {
	result := make([]*types.PurchaseResponse, 0, len(items))
	for _, item := range items {
		result = append(result, PurchaseToResponse(item))
	}
	return result
}

func WebhookEventToResponse(item *entity.WebhookEvent) *types.WebhookEventResponse {
	if item == nil {
		return nil
	}

	return &types.WebhookEventResponse{
		EventID:      item.EventID,
		Provider:     item.Provider,
		EventType:    item.EventType,
		Status:       item.Status,
		ErrorMessage: derefString(item.ErrorMessage),
		CreatedAt:    item.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    item.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func WebhookEventsToResponse(items []*entity.WebhookEvent) []*types.WebhookEventResponse {
	result := make([]*types.WebhookEventResponse, 0, len(items))
	for _, item := range items {
		result = append(result, WebhookEventToResponse(item))
	}
	return result
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
