package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/lucyheather39-png/que-management/internal/models"
	"github.com/lucyheather39-png/que-management/internal/store"
)

const entryColumns = `entry_id, seq, queue_number, namespace, service_id, holder_kind, citizen_id,
	priority_level, status, position, queue_date, created_at, served_at, completed_at`

const walkinSequenceKey = models.NamespaceWalkin

type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Admit runs the admission transaction while holding session advisory locks
// on the admission keys, so concurrent admissions that share a counter wait
// for each other and start their snapshot after the previous one committed.
func (s *Store) Admit(ctx context.Context, input store.AdmitInput) (models.Entry, error) {
	if err := input.Validate(); err != nil {
		return models.Entry{}, err
	}
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return models.Entry{}, errors.Wrap(err, "admit: acquire connection")
	}
	defer conn.Release()

	keys := admissionLockKeys(input)
	for i, key := range keys {
		if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtext($1))`, key); err != nil {
			unlockAdmission(conn, keys[:i])
			return models.Entry{}, errors.Wrap(err, "admit: lock")
		}
	}
	defer unlockAdmission(conn, keys)

	return admit(ctx, conn.Conn(), input)
}

// admissionLockKeys lists the keys an admission locks, always in the same
// order. Walk-ins share one counter across services, so they take the walk-in
// key before the service key.
func admissionLockKeys(input store.AdmitInput) []string {
	serviceKey := "admit|" + input.ServiceID
	if input.Namespace == models.NamespaceWalkin {
		return []string{"admit|" + walkinSequenceKey, serviceKey}
	}
	return []string{serviceKey}
}

// unlockAdmission releases keys in reverse order. A connection that cannot
// release its locks is closed so the pool never hands it out again.
func unlockAdmission(conn *pgxpool.Conn, keys []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(keys) - 1; i >= 0; i-- {
		if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, keys[i]); err != nil {
			_ = conn.Conn().Close(ctx)
			return
		}
	}
}

func admit(ctx context.Context, conn *pgx.Conn, input store.AdmitInput) (entry models.Entry, err error) {
	tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return models.Entry{}, errors.Wrap(err, "admit: begin")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			err = classify(err)
		}
	}()

	service, err := getService(ctx, tx, input.ServiceID)
	if err != nil {
		return models.Entry{}, err
	}
	if !service.Active {
		return models.Entry{}, store.ErrServiceInactive
	}

	if input.HolderKind == models.HolderCitizen {
		var active bool
		err = tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM queue_entries
				WHERE citizen_id = $1 AND queue_date = $2 AND status IN ('waiting','serving')
			)
		`, input.CitizenID, input.QueueDate).Scan(&active)
		if err != nil {
			return models.Entry{}, errors.Wrap(err, "admit: check active entry")
		}
		if active {
			return models.Entry{}, store.ErrActiveEntry
		}
	}

	n, err := nextQueueNumber(ctx, tx, input, service)
	if err != nil {
		return models.Entry{}, err
	}
	if input.Namespace == models.NamespaceOnline && n > int64(service.MaxDailyQueue) {
		return models.Entry{}, store.ErrCapacityExceeded
	}

	number := store.FormatWalkinNumber(n)
	if input.Namespace == models.NamespaceOnline {
		number = store.FormatQueueNumber(service.Code, input.QueueDate, n)
	}

	var ahead int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM queue_entries
		WHERE service_id = $1 AND queue_date = $2
		  AND status IN ('waiting','serving') AND priority_level <= $3
	`, input.ServiceID, input.QueueDate, int16(input.Tier)).Scan(&ahead)
	if err != nil {
		return models.Entry{}, errors.Wrap(err, "admit: position")
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	row := tx.QueryRow(ctx, `
		INSERT INTO queue_entries (
			entry_id, queue_number, namespace, service_id, holder_kind, citizen_id,
			priority_level, status, position, queue_date, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING `+entryColumns,
		uuid.NewString(), number, input.Namespace, input.ServiceID, input.HolderKind, nullIfEmpty(input.CitizenID),
		int16(input.Tier), models.StatusWaiting, ahead+1, input.QueueDate, createdAt)
	entry, err = scanEntry(row)
	if err != nil {
		return models.Entry{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Entry{}, err
	}
	return entry, nil
}

func sequenceKey(input store.AdmitInput) string {
	if input.Namespace == models.NamespaceWalkin {
		return walkinSequenceKey
	}
	return fmt.Sprintf("%s|%s|%s", input.Namespace, input.ServiceID, input.QueueDate.Format("2006-01-02"))
}

// nextQueueNumber bumps the namespace counter and reconciles it against the
// numbers already present in the ledger.
func nextQueueNumber(ctx context.Context, tx pgx.Tx, input store.AdmitInput, service models.Service) (int64, error) {
	key := sequenceKey(input)
	prefix := store.WalkinPrefix
	if input.Namespace == models.NamespaceOnline {
		prefix = store.QueueNumberPrefix(service.Code, input.QueueDate)
	}

	var minted int64
	err := tx.QueryRow(ctx, `
		INSERT INTO queue_sequences (sequence_key, next_number)
		VALUES ($1, 1)
		ON CONFLICT (sequence_key)
		DO UPDATE SET next_number = queue_sequences.next_number + 1, updated_at = now()
		RETURNING next_number
	`, key).Scan(&minted)
	if err != nil {
		return 0, errors.Wrap(err, "admit: mint number")
	}

	rows, err := tx.Query(ctx, `
		SELECT queue_number FROM queue_entries
		WHERE namespace = $1 AND left(queue_number, length($2)) = $2
	`, input.Namespace, prefix)
	if err != nil {
		return 0, errors.Wrap(err, "admit: scan numbers")
	}
	numbers, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return 0, errors.Wrap(err, "admit: scan numbers")
	}

	n := store.ReconcileCounter(minted, store.MaxSuffix(numbers, prefix))
	if n != minted {
		if _, err := tx.Exec(ctx, `
			UPDATE queue_sequences SET next_number = $2, updated_at = now() WHERE sequence_key = $1
		`, key, n); err != nil {
			return 0, errors.Wrap(err, "admit: reconcile counter")
		}
	}
	return n, nil
}

func (s *Store) GetEntry(ctx context.Context, entryID string) (models.Entry, error) {
	if _, err := uuid.Parse(entryID); err != nil {
		return models.Entry{}, store.ErrEntryNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE entry_id = $1`, entryID)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Entry{}, store.ErrEntryNotFound
		}
		return models.Entry{}, err
	}
	return entry, nil
}

func (s *Store) ListEntries(ctx context.Context, filter store.ListFilter) ([]models.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM queue_entries WHERE TRUE`
	args := []interface{}{}
	add := func(clause string, value interface{}) {
		args = append(args, value)
		query += fmt.Sprintf(" AND "+clause, len(args))
	}
	if filter.ServiceID != "" {
		if _, err := uuid.Parse(filter.ServiceID); err != nil {
			return []models.Entry{}, nil
		}
		add("service_id = $%d", filter.ServiceID)
	}
	if filter.Namespace != "" {
		add("namespace = $%d", filter.Namespace)
	}
	if filter.CitizenID != "" {
		add("citizen_id = $%d", filter.CitizenID)
	}
	if !filter.QueueDate.IsZero() {
		add("queue_date = $%d", filter.QueueDate)
	}
	if filter.ActiveOnly {
		query += " AND status IN ('waiting','serving')"
	}
	if filter.Newest {
		query += " ORDER BY seq DESC"
	} else {
		query += " ORDER BY priority_level ASC, created_at ASC, seq ASC"
	}
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list entries")
	}
	defer rows.Close()

	entries := make([]models.Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list entries")
	}
	return entries, nil
}

func (s *Store) Transition(ctx context.Context, input store.TransitionInput) (entry models.Entry, err error) {
	if _, parseErr := uuid.Parse(input.EntryID); parseErr != nil {
		return models.Entry{}, store.ErrEntryNotFound
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Entry{}, errors.Wrap(err, "transition: begin")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			err = classify(err)
		}
	}()

	current, err := scanEntry(tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE entry_id = $1 FOR UPDATE`, input.EntryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Entry{}, store.ErrEntryNotFound
		}
		return models.Entry{}, err
	}
	if err = store.Authorize(input.Actor, current, input.Action); err != nil {
		return models.Entry{}, err
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	var row pgx.Row
	switch input.Action {
	case store.ActionServe:
		row = tx.QueryRow(ctx, `
			UPDATE queue_entries SET status = $2, served_at = $3
			WHERE entry_id = $1 AND status = $4
			RETURNING `+entryColumns, input.EntryID, models.StatusServing, occurredAt, current.Status)
	case store.ActionCancel:
		row = tx.QueryRow(ctx, `
			UPDATE queue_entries SET status = $2
			WHERE entry_id = $1 AND status = $3
			RETURNING `+entryColumns, input.EntryID, models.StatusCancelled, current.Status)
	case store.ActionComplete:
		row = tx.QueryRow(ctx, `
			DELETE FROM queue_entries
			WHERE entry_id = $1 AND status = $2
			RETURNING `+entryColumns, input.EntryID, current.Status)
	default:
		return models.Entry{}, store.ErrInvalidState
	}

	entry, err = scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Entry{}, store.ErrInvalidState
		}
		return models.Entry{}, err
	}

	if input.Action == store.ActionComplete {
		entry.Status = models.StatusCompleted
		entry.CompletedAt = &occurredAt
		if err = insertCompletion(ctx, tx, entry, input.Actor.ID); err != nil {
			return models.Entry{}, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Entry{}, err
	}
	return entry, nil
}

func (s *Store) DeleteEntry(ctx context.Context, entryID string) (models.Entry, error) {
	if _, err := uuid.Parse(entryID); err != nil {
		return models.Entry{}, store.ErrEntryNotFound
	}
	row := s.pool.QueryRow(ctx, `DELETE FROM queue_entries WHERE entry_id = $1 RETURNING `+entryColumns, entryID)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Entry{}, store.ErrEntryNotFound
		}
		return models.Entry{}, err
	}
	return entry, nil
}

func (s *Store) ResetWalkins(ctx context.Context) (deleted int, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, errors.Wrap(err, "reset walk-ins: begin")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `DELETE FROM queue_entries WHERE namespace = $1`, models.NamespaceWalkin)
	if err != nil {
		return 0, errors.Wrap(err, "reset walk-ins: delete entries")
	}
	if _, err = tx.Exec(ctx, `DELETE FROM queue_sequences WHERE sequence_key = $1`, walkinSequenceKey); err != nil {
		return 0, errors.Wrap(err, "reset walk-ins: delete counter")
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "reset walk-ins: commit")
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) LivePosition(ctx context.Context, entryID string) (int, error) {
	entry, err := s.GetEntry(ctx, entryID)
	if err != nil {
		return 0, err
	}
	if !models.IsActive(entry.Status) {
		return 0, nil
	}

	var rank int
	err = s.pool.QueryRow(ctx, `
		SELECT ranked.rank FROM (
			SELECT entry_id, ROW_NUMBER() OVER (ORDER BY priority_level, created_at, seq) AS rank
			FROM queue_entries
			WHERE service_id = $2 AND queue_date = $3 AND status IN ('waiting','serving')
		) ranked
		WHERE ranked.entry_id = $1
	`, entryID, entry.ServiceID, entry.QueueDate).Scan(&rank)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "live position")
	}
	return rank, nil
}

func (s *Store) DailyStats(ctx context.Context, queueDate time.Time) (models.DailyStats, error) {
	stats := models.DailyStats{QueueDate: queueDate}
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'waiting'),
			COUNT(*) FILTER (WHERE status = 'serving'),
			COUNT(*) FILTER (WHERE status = 'cancelled'),
			COUNT(*) FILTER (WHERE namespace = 'walkin' AND status IN ('waiting','serving'))
		FROM queue_entries
		WHERE queue_date = $1
	`, queueDate).Scan(&stats.Waiting, &stats.Serving, &stats.Cancelled, &stats.Walkins)
	if err != nil {
		return models.DailyStats{}, errors.Wrap(err, "daily stats: entries")
	}
	err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM queue_completions WHERE queue_date = $1`, queueDate).Scan(&stats.Completed)
	if err != nil {
		return models.DailyStats{}, errors.Wrap(err, "daily stats: completions")
	}
	stats.Issued = stats.Waiting + stats.Serving + stats.Cancelled + stats.Completed
	return stats, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (models.Entry, error) {
	var entry models.Entry
	var citizenID sql.NullString
	var tier int16
	var servedAt sql.NullTime
	var completedAt sql.NullTime
	err := row.Scan(&entry.EntryID, &entry.Seq, &entry.QueueNumber, &entry.Namespace, &entry.ServiceID, &entry.HolderKind, &citizenID,
		&tier, &entry.Status, &entry.Position, &entry.QueueDate, &entry.CreatedAt, &servedAt, &completedAt)
	if err != nil {
		return models.Entry{}, err
	}
	entry.CitizenID = citizenID.String
	entry.Tier = models.Tier(tier)
	entry.ServedAt = nullTimePtr(servedAt)
	entry.CompletedAt = nullTimePtr(completedAt)
	return entry, nil
}

// classify maps PostgreSQL failures onto ledger errors. Anything it does not
// recognise is returned unchanged.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return store.ErrSerialization
	case "23505":
		switch pgErr.ConstraintName {
		case "queue_entries_number_uq":
			return store.ErrNumberCollision
		case "queue_entries_one_active_uq":
			return store.ErrActiveEntry
		case "services_code_key":
			return store.ErrDuplicateCode
		}
	case "23503":
		return store.ErrServiceInUse
	}
	return err
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}
