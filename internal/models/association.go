package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AssociationLog is the audit row for one served association: who connected,
// how it ended, and how many operations of each kind it carried. The ID is
// the association ID the server assigned, so log lines and audit rows
// correlate.
type AssociationLog struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CallingAETitle string    `gorm:"type:varchar(16);index" json:"calling_ae_title"`
	CalledAETitle  string    `gorm:"type:varchar(16)" json:"called_ae_title"`
	RemoteAddr     string    `gorm:"type:varchar(64)" json:"remote_addr"`
	Outcome        string    `gorm:"type:varchar(20);index" json:"outcome"` // released, aborted, failed
	EchoOps        int       `json:"echo_ops"`
	FindOps        int       `json:"find_ops"`
	StoreOps       int       `json:"store_ops"`
	MoveOps        int       `json:"move_ops"`
	GetOps         int       `json:"get_ops"`
	Duration       int64     `json:"duration_ms"`
	StartedAt      time.Time `gorm:"index" json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName overrides the table name
func (AssociationLog) TableName() string {
	return "association_logs"
}

// BeforeCreate hook
func (a *AssociationLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
