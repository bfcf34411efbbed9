package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// KnownAE is a registered peer application entity. The table backs two
// decisions: whether a calling AE title is admitted at association time, and
// where a C-MOVE destination title can be dialed. An empty table admits every
// caller.
type KnownAE struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	AETitle     string         `gorm:"type:varchar(16);not null;uniqueIndex" json:"ae_title"`
	Host        string         `gorm:"type:varchar(255);not null" json:"host"`
	Port        int            `gorm:"not null" json:"port"`
	Description string         `gorm:"type:varchar(255)" json:"description,omitempty"`
	IsActive    bool           `gorm:"default:true" json:"is_active"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName overrides the table name
func (KnownAE) TableName() string {
	return "known_aes"
}

// BeforeCreate hook
func (k *KnownAE) BeforeCreate(tx *gorm.DB) error {
	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	return nil
}

// KnownAERequest is the management API payload for registering or updating
// a peer
type KnownAERequest struct {
	AETitle     string `json:"ae_title" binding:"required"`
	Host        string `json:"host" binding:"required"`
	Port        int    `json:"port" binding:"required"`
	Description string `json:"description,omitempty"`
	IsActive    *bool  `json:"is_active,omitempty"`
}

// ConnectionStatus reports the result of a C-ECHO connectivity test against
// a registered peer
type ConnectionStatus struct {
	IsConnected  bool      `json:"is_connected"`
	LastChecked  time.Time `json:"last_checked"`
	ResponseTime int64     `json:"response_time_ms"`
	ErrorMessage string    `json:"error_message,omitempty"`
}
