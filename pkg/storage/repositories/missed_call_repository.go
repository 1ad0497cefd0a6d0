package repositories

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tphan267/supportcall/pkg/models"
	"gorm.io/gorm"
)

type MissedCallRepository struct {
	db *gorm.DB
}

func NewMissedCallRepository(db *gorm.DB) *MissedCallRepository {
	db.AutoMigrate(&models.MissedCall{})
	return &MissedCallRepository{db: db}
}

// Insert records a missed call for the given caller.
func (r *MissedCallRepository) Insert(clientID, room string) (*models.MissedCall, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client id cannot be empty")
	}

	missed := &models.MissedCall{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		Room:      room,
		CreatedAt: time.Now(),
	}
	if err := r.db.Create(missed).Error; err != nil {
		return nil, err
	}
	return missed, nil
}

// ListByRoom returns the missed calls of a room, newest first
func (r *MissedCallRepository) ListByRoom(room string, limit int) ([]*models.MissedCall, error) {
	var missed []*models.MissedCall
	q := r.db.Where("room = ?", room).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&missed).Error; err != nil {
		return nil, err
	}
	return missed, nil
}

// ListByClient returns the missed calls placed by a caller, newest first
func (r *MissedCallRepository) ListByClient(clientID string) ([]*models.MissedCall, error) {
	var missed []*models.MissedCall
	if err := r.db.Where("client_id = ?", clientID).Order("created_at desc").Find(&missed).Error; err != nil {
		return nil, err
	}
	return missed, nil
}

func (r *MissedCallRepository) Count() (int, error) {
	var count int64
	if err := r.db.Model(&models.MissedCall{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// Delete removes one missed call, e.g. once it was returned
func (r *MissedCallRepository) Delete(id string) error {
	return r.db.Where("id = ?", id).Delete(&models.MissedCall{}).Error
}

// Clear removes all missed calls
func (r *MissedCallRepository) Clear() error {
	return r.db.Delete(&models.MissedCall{}, "1=1").Error
}
