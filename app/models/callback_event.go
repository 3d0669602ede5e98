package models

import "time"

// CallbackEvent stores gateway callback payloads with deduplication metadata
// for idempotent processing.
type CallbackEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	CompanyID       uint       `gorm:"not null;index" json:"company_id"`
	Provider        string     `gorm:"type:varchar(20);not null;index:ux_callback_events_provider_key,unique,priority:1" json:"provider"`
	EventKey        string     `gorm:"type:varchar(191);not null;index:ux_callback_events_provider_key,unique,priority:2" json:"event_key"`
	Reference       string     `gorm:"type:varchar(64);index" json:"reference"`
	PayloadJSON     string     `gorm:"type:text;not null" json:"payload_json"`
	SignatureValid  bool       `gorm:"default:false" json:"signature_valid"`
	ProcessedAt     *time.Time `gorm:"default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
