package entities

import "time"

// MigrationJournalModel is a GORM model for migration_journal table
type MigrationJournalModel struct {
	ID            uint      `gorm:"primaryKey"`
	RunID         string    `gorm:"not null;size:36;index"`
	RecordKey     string    `gorm:"not null;size:255;index"`
	PhoneMasked   string    `gorm:"not null;size:32"`
	State         string    `gorm:"not null;size:32"`
	Success       bool      `gorm:"not null;index"`
	Reason        string    `gorm:"size:64;default:''"`
	Error         string    `gorm:"type:text;default:''"`
	RetireError   string    `gorm:"type:text;default:''"`
	Attempts      int       `gorm:"not null;default:0"`
	SecretRotated bool      `gorm:"not null;default:false"`
	WaitSeconds   int       `gorm:"not null;default:0"`
	StartedAt     time.Time `gorm:"not null"`
	FinishedAt    time.Time `gorm:"not null"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

func (MigrationJournalModel) TableName() string {
	return "migration_journal"
}
