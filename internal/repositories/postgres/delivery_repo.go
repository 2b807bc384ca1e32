package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/yoockh/meetscribe/internal/models"
)

// ArtifactDelivery is one row of the delivery ledger: where every artifact
// ended up, queryable until it is delivered or explicitly purged.
type ArtifactDelivery struct {
	ID         uint   `gorm:"primaryKey"`
	ArtifactID string `gorm:"size:64;uniqueIndex"`
	SessionID  string `gorm:"size:64;index"`
	Kind       string `gorm:"size:32"`
	Name       string `gorm:"size:255"`
	State      string `gorm:"size:32"`
	RemoteRef  string `gorm:"size:512"`
	LocalRef   string `gorm:"size:512"`
	Reason     string `gorm:"size:512"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type DeliveryRepository interface {
	Record(ctx context.Context, art *models.Artifact, reason string) error
	MarkDelivered(ctx context.Context, artifactID, remoteRef string) error
	Purge(ctx context.Context, artifactID string) error
	ListUndelivered(ctx context.Context, limit int) ([]ArtifactDelivery, error)
}

type deliveryRepo struct {
	db *gorm.DB
}

func NewDeliveryRepo(db *gorm.DB) (DeliveryRepository, error) {
	if err := db.AutoMigrate(&ArtifactDelivery{}); err != nil {
		return nil, err
	}
	return &deliveryRepo{db: db}, nil
}

func (r *deliveryRepo) Record(ctx context.Context, art *models.Artifact, reason string) error {
	row := ArtifactDelivery{
		ArtifactID: art.ArtifactID,
		SessionID:  art.SessionID,
		Kind:       string(art.Kind),
		Name:       art.Name,
		State:      string(art.State),
		RemoteRef:  art.RemoteRef,
		LocalRef:   art.LocalPath,
		Reason:     reason,
	}
	return r.db.WithContext(ctx).
		Where(ArtifactDelivery{ArtifactID: art.ArtifactID}).
		Assign(row).
		FirstOrCreate(&ArtifactDelivery{}).Error
}

func (r *deliveryRepo) MarkDelivered(ctx context.Context, artifactID, remoteRef string) error {
	return r.db.WithContext(ctx).
		Model(&ArtifactDelivery{}).
		Where("artifact_id = ?", artifactID).
		Updates(map[string]any{
			"state":      string(models.DeliveryDelivered),
			"remote_ref": remoteRef,
		}).Error
}

func (r *deliveryRepo) Purge(ctx context.Context, artifactID string) error {
	return r.db.WithContext(ctx).
		Where("artifact_id = ?", artifactID).
		Delete(&ArtifactDelivery{}).Error
}

func (r *deliveryRepo) ListUndelivered(ctx context.Context, limit int) ([]ArtifactDelivery, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []ArtifactDelivery
	err := r.db.WithContext(ctx).
		Where("state <> ?", string(models.DeliveryDelivered)).
		Order("created_at desc").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
