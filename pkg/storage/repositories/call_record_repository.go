package repositories

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/tphan267/supportcall/pkg/models"
	"gorm.io/gorm"
)

const defaultHistoryLimit = 50

type CallRecordRepository struct {
	db *gorm.DB
}

func NewCallRecordRepository(db *gorm.DB) *CallRecordRepository {
	db.AutoMigrate(&models.CallRecord{})
	return &CallRecordRepository{db: db}
}

// Add stores a finished call. An empty ID is filled in.
func (r *CallRecordRepository) Add(record *models.CallRecord) error {
	if record.Room == "" {
		return fmt.Errorf("room cannot be empty")
	}
	if record.Direction != "outgoing" && record.Direction != "incoming" {
		return fmt.Errorf("unsupported direction: %s (supported: outgoing, incoming)", record.Direction)
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	return r.db.Create(record).Error
}

// List returns call records matching filter, newest first
func (r *CallRecordRepository) List(filter models.CallRecordFilter) ([]*models.CallRecord, error) {
	q := r.db.Model(&models.CallRecord{})
	if filter.Room != "" {
		q = q.Where("room = ?", filter.Room)
	}
	if filter.Reason != "" {
		q = q.Where("reason = ?", filter.Reason)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	var records []*models.CallRecord
	if err := q.Order("ended_at desc").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// Get returns a single call record by ID
func (r *CallRecordRepository) Get(id string) (*models.CallRecord, error) {
	var record models.CallRecord
	if err := r.db.Where("id = ?", id).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// CountByReason returns how many calls ended with each reason code
func (r *CallRecordRepository) CountByReason() (map[string]int, error) {
	var rows []struct {
		Reason string
		Total  int
	}
	err := r.db.Model(&models.CallRecord{}).
		Select("reason, count(*) as total").
		Group("reason").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Reason] = row.Total
	}
	return counts, nil
}

// Clear removes all call records
func (r *CallRecordRepository) Clear() error {
	return r.db.Delete(&models.CallRecord{}, "1=1").Error
}
