package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const serviceColumns = `s.id, s.name, s.type, s.endpoint, s.method, s.rest_endpoint,
		        s.params, s.auth, s.validation_rules, s.created_at, s.updated_at, lc.record`

const serviceFrom = ` FROM services s
		 LEFT JOIN service_last_check lc ON lc.service_id = s.id`

func encodeService(svc *Service) (params, rules string, auth any, err error) {
	p, err := json.Marshal(svc.Params)
	if err != nil {
		return "", "", nil, fmt.Errorf("encode params: %w", err)
	}
	if svc.Params == nil {
		p = []byte("{}")
	}
	r, err := json.Marshal(svc.ValidationRules)
	if err != nil {
		return "", "", nil, fmt.Errorf("encode validation rules: %w", err)
	}
	if svc.ValidationRules == nil {
		r = []byte("[]")
	}
	if svc.Auth != nil {
		a, err := json.Marshal(svc.Auth)
		if err != nil {
			return "", "", nil, fmt.Errorf("encode auth: %w", err)
		}
		auth = string(a)
	}
	return string(p), string(r), auth, nil
}

// CreateService inserts svc. The caller assigns svc.ID.
func (s *SQLiteStore) CreateService(ctx context.Context, svc *Service) error {
	params, rules, auth, err := encodeService(svc)
	if err != nil {
		return err
	}
	now := time.Now()
	if svc.CreatedAt.IsZero() {
		svc.CreatedAt = now
	}
	svc.UpdatedAt = now

	_, err = s.writeDB.ExecContext(ctx,
		`INSERT INTO services (id, name, type, endpoint, method, rest_endpoint, params, auth, validation_rules, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		svc.ID, svc.Name, svc.Type, svc.Endpoint, svc.Method, svc.RestEndpoint,
		params, auth, rules, formatTime(svc.CreatedAt), formatTime(svc.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	svc.CreatedAt = parseTime(formatTime(svc.CreatedAt))
	svc.UpdatedAt = parseTime(formatTime(svc.UpdatedAt))
	return nil
}

func (s *SQLiteStore) GetService(ctx context.Context, id string) (*Service, error) {
	row := s.readDB.QueryRowContext(ctx, "SELECT "+serviceColumns+serviceFrom+" WHERE s.id = ?", id)
	return scanService(row)
}

func (s *SQLiteStore) ListServices(ctx context.Context) ([]*Service, error) {
	rows, err := s.readDB.QueryContext(ctx,
		"SELECT "+serviceColumns+serviceFrom+" ORDER BY s.created_at ASC, s.name COLLATE NOCASE ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []*Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if services == nil {
		services = []*Service{}
	}
	return services, nil
}

// UpdateService rewrites the mutable columns of svc. It returns
// sql.ErrNoRows when no such service exists.
func (s *SQLiteStore) UpdateService(ctx context.Context, svc *Service) error {
	params, rules, auth, err := encodeService(svc)
	if err != nil {
		return err
	}
	now := formatTime(time.Now())
	res, err := s.writeDB.ExecContext(ctx,
		`UPDATE services SET name=?, type=?, endpoint=?, method=?, rest_endpoint=?,
		 params=?, auth=?, validation_rules=?, updated_at=?
		 WHERE id=?`,
		svc.Name, svc.Type, svc.Endpoint, svc.Method, svc.RestEndpoint,
		params, auth, rules, now, svc.ID)
	if err != nil {
		return fmt.Errorf("update service: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	svc.UpdatedAt = parseTime(now)
	return nil
}

// DeleteService removes a service together with its last check and history.
func (s *SQLiteStore) DeleteService(ctx context.Context, id string) error {
	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete service begin: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		"DELETE FROM check_history WHERE service_id=?",
		"DELETE FROM service_last_check WHERE service_id=?",
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("delete service: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM services WHERE id=?", id)
	if err != nil {
		return fmt.Errorf("delete service: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete service commit: %w", err)
	}
	return nil
}
