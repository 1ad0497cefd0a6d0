package storage

import (
	"github.com/tphan267/supportcall/pkg/storage/repositories"
	"gorm.io/gorm"
)

// Storage is the database storage interface
type Storage interface {
	// DB returns the underlying GORM database instance
	DB() *gorm.DB

	MissedCalls() *repositories.MissedCallRepository
	CallRecords() *repositories.CallRecordRepository

	Close() error
}
