package repository

import (
	"context"

	"prompt-market-payments/internal/domain/model"
)

type WebhookEventRepository interface {
	// Record inserts the event id; returns domain.ErrEventAlreadySeen when the
	// same id was recorded before (provider redelivery).
	Record(ctx context.Context, tx Tx, e *model.WebhookEvent) error
	// Delete removes a recorded event id so a provider redelivery can be
	// processed again after a handler failure. Deleting an unknown id is a
	// no-op.
	Delete(ctx context.Context, tx Tx, id string) error
}
