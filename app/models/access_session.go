package models

import "time"

const (
	SessionStateCreated        = "created"
	SessionStatePendingPayment = "pending_payment"
	SessionStateActive         = "active"
	SessionStateExpired        = "expired"
	SessionStateDeactivated    = "deactivated"
	SessionStateFailed         = "failed"
)

// AccessSession is one paid (or to-be-paid) period of hotspot access.
// Token is globally unique because it is also the controller username.
type AccessSession struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	CompanyID           uint       `gorm:"not null;index;index:idx_access_sessions_company_active,priority:1" json:"company_id"`
	Company             *Company   `gorm:"constraint:OnDelete:RESTRICT" json:"-"`
	PlanID              uint       `gorm:"not null;index" json:"plan_id"`
	Plan                *Plan      `gorm:"constraint:OnDelete:RESTRICT" json:"plan,omitempty"`
	PhoneNumber         string     `gorm:"type:varchar(20);not null;index" json:"phone_number"`
	Token               *string    `gorm:"type:varchar(16);uniqueIndex" json:"token,omitempty"`
	State               string     `gorm:"type:varchar(20);not null;default:'created';index" json:"state"`
	IsActive            bool       `gorm:"not null;default:false;index:idx_access_sessions_active_end,priority:1;index:idx_access_sessions_company_active,priority:2" json:"is_active"`
	IPAddress           string     `gorm:"type:varchar(45)" json:"ip_address,omitempty"`
	MACAddress          string     `gorm:"type:varchar(17)" json:"mac_address,omitempty"`
	DurationMinutes     int        `gorm:"not null" json:"duration_minutes"`
	StartTime           *time.Time `gorm:"default:null" json:"start_time,omitempty"`
	EndTime             *time.Time `gorm:"default:null;index:idx_access_sessions_active_end,priority:2" json:"end_time,omitempty"`
	ActivationClaimedAt *time.Time `gorm:"default:null" json:"-"`
	FailureReason       string     `gorm:"type:varchar(255)" json:"failure_reason,omitempty"`
	DeactivatedAt       *time.Time `gorm:"default:null" json:"deactivated_at,omitempty"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TokenValue returns the assigned token or "".
func (s *AccessSession) TokenValue() string {
	if s.Token == nil {
		return ""
	}
	return *s.Token
}

// IsExpiredAt reports whether the access window has closed at now.
func (s *AccessSession) IsExpiredAt(now time.Time) bool {
	return s.EndTime != nil && !now.Before(*s.EndTime)
}

// Remaining returns the access time left at now (zero when expired or not started).
func (s *AccessSession) Remaining(now time.Time) time.Duration {
	if s.EndTime == nil {
		return 0
	}
	if d := s.EndTime.Sub(now); d > 0 {
		return d
	}
	return 0
}
