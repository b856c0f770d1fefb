package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

func recordResponseTime(rec *CheckRecord) int64 {
	if rec.RawResponse == nil {
		return 0
	}
	return rec.RawResponse.ResponseTimeMs
}

// SetLastCheck replaces the stored last check of a service.
func (s *SQLiteStore) SetLastCheck(ctx context.Context, serviceID string, rec *CheckRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode check record: %w", err)
	}
	_, err = s.writeDB.ExecContext(ctx,
		`INSERT INTO service_last_check (service_id, success, record, checked_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(service_id) DO UPDATE SET
		   success=excluded.success, record=excluded.record, checked_at=excluded.checked_at`,
		serviceID, boolToInt(rec.Success), string(data), formatTime(rec.Timestamp))
	return err
}

func (s *SQLiteStore) ClearLastCheck(ctx context.Context, serviceID string) error {
	_, err := s.writeDB.ExecContext(ctx, "DELETE FROM service_last_check WHERE service_id=?", serviceID)
	return err
}

// --- Check History ---

func (s *SQLiteStore) InsertCheckHistory(ctx context.Context, serviceID string, rec *CheckRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode check record: %w", err)
	}
	_, err = s.writeDB.ExecContext(ctx,
		`INSERT INTO check_history (service_id, success, error, response_time_ms, record, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		serviceID, boolToInt(rec.Success), rec.Error, recordResponseTime(rec), string(data), formatTime(rec.Timestamp))
	return err
}

func (s *SQLiteStore) ListCheckHistory(ctx context.Context, serviceID string, p Pagination) (*PaginatedResult, error) {
	if p.PerPage <= 0 {
		p.PerPage = 20
	}
	if p.Page <= 0 {
		p.Page = 1
	}

	var total int64
	err := s.readDB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM check_history WHERE service_id=?", serviceID).Scan(&total)
	if err != nil {
		return nil, err
	}

	offset := (p.Page - 1) * p.PerPage
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT id, service_id, success, error, response_time_ms, record, created_at
		 FROM check_history WHERE service_id=? ORDER BY id DESC LIMIT ? OFFSET ?`,
		serviceID, p.PerPage, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*CheckHistory
	for rows.Next() {
		var h CheckHistory
		var recordStr, createdAt string
		err := rows.Scan(&h.ID, &h.ServiceID, &h.Success, &h.Error, &h.ResponseTimeMs, &recordStr, &createdAt)
		if err != nil {
			return nil, err
		}
		h.CreatedAt = parseTime(createdAt)
		var rec CheckRecord
		if err := json.Unmarshal([]byte(recordStr), &rec); err == nil {
			h.Record = &rec
		}
		results = append(results, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if results == nil {
		results = []*CheckHistory{}
	}

	return &PaginatedResult{
		Data:       results,
		Total:      total,
		Page:       p.Page,
		PerPage:    p.PerPage,
		TotalPages: int(math.Ceil(float64(total) / float64(p.PerPage))),
	}, nil
}

// PurgeOldData deletes history rows older than before. Last checks are
// runtime state and are never purged.
func (s *SQLiteStore) PurgeOldData(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.writeDB.ExecContext(ctx, "DELETE FROM check_history WHERE created_at < ?", formatTime(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
