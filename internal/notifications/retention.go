package notifications

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/notifyhub/pkg/db/models"
	"github.com/angelmondragon/notifyhub/pkg/enums"
)

// RetentionRepository prunes notifications users have already read.
type RetentionRepository struct {
	db *gorm.DB
}

func NewRetentionRepository(db *gorm.DB) *RetentionRepository {
	return &RetentionRepository{db: db}
}

// DeleteReadOlderThan soft-deletes READ rows whose read_at precedes cutoff.
// Unread rows are kept regardless of age. Pruned rows drop out of reads but
// keep their (event_id, user_id) key.
func (r *RetentionRepository) DeleteReadOlderThan(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	conn := r.db
	if tx != nil {
		conn = tx
	}
	result := conn.WithContext(ctx).
		Where("read_status = ? AND read_at < ?", enums.ReadStatusRead, cutoff).
		Delete(&models.Notification{})
	return result.RowsAffected, result.Error
}
