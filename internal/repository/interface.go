package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kubilitics/resourcemap/internal/models"
)

// ErrSnapshotNotFound is returned when a snapshot id does not exist.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotRepository defines resource map snapshot data access methods
type SnapshotRepository interface {
	SaveSnapshot(ctx context.Context, snapshot *models.ResourceMapSnapshot) error
	GetSnapshot(ctx context.Context, clusterID, id string) (*models.ResourceMapSnapshot, error)
	// ListSnapshots returns the newest snapshots first, without Data.
	ListSnapshots(ctx context.Context, clusterID string, limit int) ([]*models.ResourceMapSnapshot, error)
	GetLatestSnapshot(ctx context.Context, clusterID, view string) (*models.ResourceMapSnapshot, error)
	DeleteOldSnapshots(ctx context.Context, clusterID string, olderThan time.Time) (int64, error)
	Close() error
}
