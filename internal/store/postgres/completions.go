package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/lucyheather39-png/que-management/internal/models"
	"github.com/lucyheather39-png/que-management/internal/store"
)

const completionColumns = `completion_id, entry_id, queue_number, service_id, namespace, priority_level,
	queue_date, created_at, served_at, completed_at, completed_by, prev_hash, hash`

// insertCompletion appends entry to its service's completion chain. The
// advisory lock serialises writers of one chain.
func insertCompletion(ctx context.Context, tx pgx.Tx, entry models.Entry, completedBy string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "completions:"+entry.ServiceID); err != nil {
		return errors.Wrap(err, "completion: lock chain")
	}

	var lastSeq int
	var prevHash sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT service_seq, hash
		FROM queue_completions
		WHERE service_id = $1
		ORDER BY service_seq DESC
		LIMIT 1
	`, entry.ServiceID)
	if err := row.Scan(&lastSeq, &prevHash); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return errors.Wrap(err, "completion: load chain head")
	}

	record := models.Completion{
		CompletionID: uuid.NewString(),
		EntryID:      entry.EntryID,
		QueueNumber:  entry.QueueNumber,
		ServiceID:    entry.ServiceID,
		Namespace:    entry.Namespace,
		Tier:         entry.Tier,
		QueueDate:    entry.QueueDate,
		CreatedAt:    entry.CreatedAt,
		ServedAt:     entry.ServedAt,
		CompletedAt:  entry.CompletedAt.UTC(),
		CompletedBy:  completedBy,
		PrevHash:     prevHash.String,
	}
	record.Hash = store.ComputeCompletionHash(record.PrevHash, record)

	_, err := tx.Exec(ctx, `
		INSERT INTO queue_completions (
			completion_id, service_id, service_seq, entry_id, queue_number, namespace, priority_level,
			queue_date, created_at, served_at, completed_at, completed_by, prev_hash, hash
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, record.CompletionID, record.ServiceID, lastSeq+1, record.EntryID, record.QueueNumber, record.Namespace, int16(record.Tier),
		record.QueueDate, record.CreatedAt, record.ServedAt, record.CompletedAt, record.CompletedBy, record.PrevHash, record.Hash)
	return errors.Wrap(err, "completion: insert")
}

// ListCompletions returns records in chain order. With a limit only the most
// recent records are returned, still oldest first.
func (s *Store) ListCompletions(ctx context.Context, serviceID string, limit int) ([]models.Completion, error) {
	query := `SELECT ` + completionColumns + `, service_seq FROM queue_completions`
	args := []interface{}{}
	if serviceID != "" {
		if _, err := uuid.Parse(serviceID); err != nil {
			return []models.Completion{}, nil
		}
		args = append(args, serviceID)
		query += ` WHERE service_id = $1`
	}
	order := "completed_at %[1]s, service_seq %[1]s"
	if serviceID != "" {
		order = "service_seq %[1]s"
	}
	if limit > 0 {
		args = append(args, limit)
		query = fmt.Sprintf(`SELECT * FROM (%s ORDER BY %s LIMIT $%d) recent`, query, fmt.Sprintf(order, "DESC"), len(args))
	}
	query += ` ORDER BY ` + fmt.Sprintf(order, "ASC")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list completions")
	}
	defer rows.Close()

	records := make([]models.Completion, 0)
	for rows.Next() {
		var record models.Completion
		var tier int16
		var servedAt sql.NullTime
		var seq int
		if err := rows.Scan(&record.CompletionID, &record.EntryID, &record.QueueNumber, &record.ServiceID, &record.Namespace, &tier,
			&record.QueueDate, &record.CreatedAt, &servedAt, &record.CompletedAt, &record.CompletedBy, &record.PrevHash, &record.Hash, &seq); err != nil {
			return nil, errors.Wrap(err, "list completions")
		}
		record.Tier = models.Tier(tier)
		record.ServedAt = nullTimePtr(servedAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list completions")
	}
	return records, nil
}
