package storage

import (
	"context"
	"time"
)

// Store defines the complete storage interface.
type Store interface {
	// Services
	CreateService(ctx context.Context, svc *Service) error
	GetService(ctx context.Context, id string) (*Service, error)
	ListServices(ctx context.Context) ([]*Service, error)
	UpdateService(ctx context.Context, svc *Service) error
	DeleteService(ctx context.Context, id string) error

	// Last check (runtime state)
	SetLastCheck(ctx context.Context, serviceID string, rec *CheckRecord) error
	ClearLastCheck(ctx context.Context, serviceID string) error

	// Check history
	InsertCheckHistory(ctx context.Context, serviceID string, rec *CheckRecord) error
	ListCheckHistory(ctx context.Context, serviceID string, p Pagination) (*PaginatedResult, error)

	// Data retention
	PurgeOldData(ctx context.Context, before time.Time) (int64, error)

	// Lifecycle
	Close() error
}
