package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Instance is one SOP instance held in the archive: the index row for a
// Part-10 file under the storage root. Rows are upserted on C-STORE, so
// re-sending an instance refreshes the row instead of duplicating it.
type Instance struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	SOPInstanceUID    string    `gorm:"type:varchar(64);not null;uniqueIndex" json:"sop_instance_uid"`
	SOPClassUID       string    `gorm:"type:varchar(64);not null;index" json:"sop_class_uid"`
	StudyInstanceUID  string    `gorm:"type:varchar(64);not null;index" json:"study_instance_uid"`
	SeriesInstanceUID string    `gorm:"type:varchar(64);not null;index" json:"series_instance_uid"`
	PatientID         string    `gorm:"type:varchar(64);index" json:"patient_id"`
	PatientName       string    `gorm:"type:varchar(255)" json:"patient_name"`
	StudyDate         string    `gorm:"type:varchar(8)" json:"study_date"`
	AccessionNumber   string    `gorm:"type:varchar(16);index" json:"accession_number"`
	Modality          string    `gorm:"type:varchar(16)" json:"modality"`
	InstanceNumber    string    `gorm:"type:varchar(12)" json:"instance_number"`
	TransferSyntaxUID string    `gorm:"type:varchar(64);not null" json:"transfer_syntax_uid"`
	ReceivedFromAE    string    `gorm:"type:varchar(16)" json:"received_from_ae"`
	FilePath          string    `gorm:"type:varchar(500);not null" json:"file_path"`
	SizeBytes         int64     `json:"size_bytes"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (Instance) TableName() string {
	return "instances"
}

// BeforeCreate hook
func (i *Instance) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
