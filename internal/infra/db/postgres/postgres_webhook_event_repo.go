package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4/pgxpool"

	"prompt-market-payments/internal/domain"
	"prompt-market-payments/internal/domain/model"
	"prompt-market-payments/internal/domain/ports/repository"
)

var _ repository.WebhookEventRepository = (*webhookEventRepo)(nil)

type webhookEventRepo struct{ pool *pgxpool.Pool }

func NewWebhookEventRepo(pool *pgxpool.Pool) *webhookEventRepo {
	return &webhookEventRepo{pool: pool}
}

func (r *webhookEventRepo) Record(ctx context.Context, tx repository.Tx, e *model.WebhookEvent) error {
	const q = `INSERT INTO webhook_events (id, event_type, resource_id, received_at) VALUES ($1,$2,$3,$4);`
	_, err := execSQL(ctx, r.pool, tx, q, e.ID, e.EventType, e.ResourceID, e.ReceivedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrEventAlreadySeen
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *webhookEventRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	const q = `DELETE FROM webhook_events WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, id)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}
