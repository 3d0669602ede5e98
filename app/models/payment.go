package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
)

// Payment is the local mirror of one mobile-money collection request. It is
// created together with its AccessSession and only moves Pending -> terminal.
type Payment struct {
	ID                    uint            `gorm:"primaryKey" json:"id"`
	SessionID             uint            `gorm:"not null;uniqueIndex" json:"session_id"`
	Session               *AccessSession  `gorm:"constraint:OnDelete:RESTRICT" json:"-"`
	CompanyID             uint            `gorm:"not null;index" json:"company_id"`
	Reference             string          `gorm:"type:varchar(64);not null;uniqueIndex" json:"reference"`
	Provider              string          `gorm:"type:varchar(20);not null" json:"provider"`
	Amount                decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency              string          `gorm:"type:varchar(3);not null" json:"currency"`
	Status                string          `gorm:"type:varchar(20);not null;default:'pending';index:idx_payments_status_created,priority:1" json:"status"`
	FailureReason         string          `gorm:"type:varchar(255)" json:"failure_reason,omitempty"`
	ProviderTransactionID string          `gorm:"type:varchar(100)" json:"provider_transaction_id,omitempty"`
	FinalizedAt           *time.Time      `gorm:"default:null" json:"finalized_at,omitempty"`
	CreatedAt             time.Time       `gorm:"autoCreateTime;index:idx_payments_status_created,priority:2" json:"created_at"`
	UpdatedAt             time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *Payment) IsTerminal() bool {
	return p.Status == PaymentStatusSucceeded || p.Status == PaymentStatusFailed
}
