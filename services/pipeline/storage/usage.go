package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackhunterking/legal-memo-backend/pkg/logger"
)

// RecordUsage charges whole minutes against the account. The idempotency key
// makes a retried pipeline run charge-once: a second insert with the same key
// is a no-op.
func (s *storage) RecordUsage(ctx context.Context, key string, accountID uuid.UUID, minutes int) error {
	log := logger.FromContext(ctx)

	query := `
		INSERT INTO usage_ledger (idempotency_key, account_id, minutes, recorded_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (idempotency_key) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, key, accountID, minutes); err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	log.Debug("usage recorded", "account_id", accountID, "minutes", minutes)

	return nil
}
