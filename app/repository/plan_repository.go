package repository

import (
	"errors"

	"github.com/hotspotpay/hotspot/app/models"
	"gorm.io/gorm"
)

// ErrPlanInUse is returned when the price, duration or profile of a plan
// that already has sessions would change. Create a new plan instead.
var ErrPlanInUse = errors.New("plan already has sessions and its terms cannot change")

// planRepository implements the PlanRepository interface
type planRepository struct {
	db *gorm.DB
}

// NewPlanRepository creates a new plan repository instance
func NewPlanRepository(db *gorm.DB) PlanRepository {
	return &planRepository{db: db}
}

func (r *planRepository) Create(plan *models.Plan) error {
	if err := plan.Validate(); err != nil {
		return err
	}
	active := plan.IsActive
	if err := r.db.Create(plan).Error; err != nil {
		return err
	}
	// gorm skips zero values that have a column default
	if !active {
		return r.db.Model(plan).Update("is_active", false).Error
	}
	return nil
}

// GetByID retrieves a plan of a company
func (r *planRepository) GetByID(companyID, id uint) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.Where("company_id = ?", companyID).First(&plan, id).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *planRepository) GetByName(companyID uint, name string) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.Where("company_id = ? AND name = ?", companyID, name).First(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

// ListActive returns the plans offered on the captive portal, cheapest first
func (r *planRepository) ListActive(companyID uint) ([]models.Plan, error) {
	var plans []models.Plan
	err := r.db.Where("company_id = ? AND is_active = ?", companyID, true).
		Order("price ASC").Order("duration_minutes ASC").Find(&plans).Error
	return plans, err
}

func (r *planRepository) ListByCompany(companyID uint) ([]models.Plan, error) {
	var plans []models.Plan
	err := r.db.Where("company_id = ?", companyID).Order("id ASC").Find(&plans).Error
	return plans, err
}

// Update saves a plan. Sold plans may only change name and activity.
func (r *planRepository) Update(plan *models.Plan) error {
	if err := plan.Validate(); err != nil {
		return err
	}
	var current models.Plan
	if err := r.db.First(&current, plan.ID).Error; err != nil {
		return err
	}
	termsChanged := !current.Price.Equal(plan.Price) ||
		current.DurationMinutes != plan.DurationMinutes ||
		current.ControllerProfile != plan.ControllerProfile
	if termsChanged {
		used, err := r.InUse(plan.ID)
		if err != nil {
			return err
		}
		if used {
			return ErrPlanInUse
		}
	}
	return r.db.Model(&models.Plan{}).Where("id = ?", plan.ID).Updates(map[string]interface{}{
		"name":               plan.Name,
		"price":              plan.Price,
		"duration_minutes":   plan.DurationMinutes,
		"controller_profile": plan.ControllerProfile,
		"is_active":          plan.IsActive,
	}).Error
}

func (r *planRepository) SetActive(companyID, id uint, active bool) error {
	if _, err := r.GetByID(companyID, id); err != nil {
		return err
	}
	return r.db.Model(&models.Plan{}).Where("id = ?", id).Update("is_active", active).Error
}

// InUse reports whether any session references the plan.
func (r *planRepository) InUse(id uint) (bool, error) {
	var n int64
	err := r.db.Model(&models.AccessSession{}).Where("plan_id = ?", id).Limit(1).Count(&n).Error
	return n > 0, err
}
