package models

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Plan is a sellable access package. Once a session references a plan its
// price, duration and profile are frozen (see repository.ErrPlanInUse).
type Plan struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	CompanyID         uint            `gorm:"not null;index" json:"company_id"`
	Company           *Company        `gorm:"constraint:OnDelete:RESTRICT" json:"-"`
	Name              string          `gorm:"type:varchar(100);not null" json:"name" validate:"required,min=1,max=100"`
	Price             decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	DurationMinutes   int             `gorm:"not null" json:"duration_minutes" validate:"required,gt=0"`
	ControllerProfile string          `gorm:"type:varchar(100);not null" json:"controller_profile" validate:"required,max=100"`
	IsActive          bool            `gorm:"default:true;index" json:"is_active"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

var ErrInvalidPrice = errors.New("plan price must be positive with at most two decimal places")

func (p *Plan) Validate() error {
	v := validator.New()
	if err := v.Struct(p); err != nil {
		return err
	}
	if !p.Price.IsPositive() || !p.Price.Equal(p.Price.Round(2)) {
		return ErrInvalidPrice
	}
	return nil
}

// Duration returns the plan length as a time.Duration.
func (p *Plan) Duration() time.Duration {
	return time.Duration(p.DurationMinutes) * time.Minute
}
