package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/lucyheather39-png/que-management/internal/models"
	"github.com/lucyheather39-png/que-management/internal/store"
)

const serviceColumns = `service_id, code, name, description, estimated_minutes, max_daily_queue, active, created_at`

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func getService(ctx context.Context, q querier, serviceID string) (models.Service, error) {
	if _, err := uuid.Parse(serviceID); err != nil {
		return models.Service{}, store.ErrServiceNotFound
	}
	service, err := scanService(q.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE service_id = $1`, serviceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Service{}, store.ErrServiceNotFound
		}
		return models.Service{}, errors.Wrap(err, "get service")
	}
	return service, nil
}

func (s *Store) GetService(ctx context.Context, serviceID string) (models.Service, error) {
	return getService(ctx, s.pool, serviceID)
}

func (s *Store) ListServices(ctx context.Context, activeOnly bool) ([]models.Service, error) {
	query := `SELECT ` + serviceColumns + ` FROM services`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY name ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "list services")
	}
	defer rows.Close()

	services := make([]models.Service, 0)
	for rows.Next() {
		service, err := scanService(rows)
		if err != nil {
			return nil, errors.Wrap(err, "list services")
		}
		services = append(services, service)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list services")
	}
	return services, nil
}

func (s *Store) CreateService(ctx context.Context, input store.ServiceInput) (models.Service, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO services (service_id, code, name, description, estimated_minutes, max_daily_queue, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING `+serviceColumns,
		uuid.NewString(), input.Code, input.Name, input.Description, input.EstimatedMinutes, input.MaxDailyQueue, input.IsActive())
	service, err := scanService(row)
	if err != nil {
		return models.Service{}, classify(err)
	}
	return service, nil
}

func (s *Store) UpdateService(ctx context.Context, serviceID string, input store.ServiceInput) (models.Service, error) {
	if _, err := uuid.Parse(serviceID); err != nil {
		return models.Service{}, store.ErrServiceNotFound
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE services
		SET code = $2, name = $3, description = $4, estimated_minutes = $5, max_daily_queue = $6,
		    active = COALESCE($7, active)
		WHERE service_id = $1
		RETURNING `+serviceColumns,
		serviceID, input.Code, input.Name, input.Description, input.EstimatedMinutes, input.MaxDailyQueue, input.Active)
	service, err := scanService(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Service{}, store.ErrServiceNotFound
		}
		return models.Service{}, classify(err)
	}
	return service, nil
}

// DeleteService refuses to orphan queue entries. With cascade set the
// service's entries are removed in the same transaction and counted.
func (s *Store) DeleteService(ctx context.Context, serviceID string, cascade bool) (deleted int, err error) {
	if _, parseErr := uuid.Parse(serviceID); parseErr != nil {
		return 0, store.ErrServiceNotFound
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, errors.Wrap(err, "delete service: begin")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			err = classify(err)
		}
	}()

	if _, err = getService(ctx, tx, serviceID); err != nil {
		return 0, err
	}

	var referencing int
	if err = tx.QueryRow(ctx, `SELECT COUNT(*) FROM queue_entries WHERE service_id = $1`, serviceID).Scan(&referencing); err != nil {
		return 0, errors.Wrap(err, "delete service: count entries")
	}
	if referencing > 0 && !cascade {
		return 0, store.ErrServiceInUse
	}
	if referencing > 0 {
		if _, err = tx.Exec(ctx, `DELETE FROM queue_entries WHERE service_id = $1`, serviceID); err != nil {
			return 0, errors.Wrap(err, "delete service: delete entries")
		}
	}
	if _, err = tx.Exec(ctx, `DELETE FROM services WHERE service_id = $1`, serviceID); err != nil {
		return 0, err
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "delete service: commit")
	}
	return referencing, nil
}

func (s *Store) InsertAdminLog(ctx context.Context, entry store.AdminLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO admin_logs (admin_id, description, created_at)
		VALUES ($1, $2, $3)
	`, entry.AdminID, entry.Description, entry.CreatedAt)
	return errors.Wrap(err, "insert admin log")
}

func scanService(row scanner) (models.Service, error) {
	var service models.Service
	err := row.Scan(&service.ServiceID, &service.Code, &service.Name, &service.Description,
		&service.EstimatedMinutes, &service.MaxDailyQueue, &service.Active, &service.CreatedAt)
	return service, err
}
