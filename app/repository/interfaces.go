package repository

import (
	"github.com/hotspotpay/hotspot/app/models"
	"gorm.io/gorm"
)

// CompanyRepository defines the interface for tenant operations
type CompanyRepository interface {
	Create(company *models.Company) error
	GetByID(id uint) (*models.Company, error)
	GetByName(name string) (*models.Company, error)
	List() ([]models.Company, error)
	Update(company *models.Company) error
}

// PlanRepository defines the interface for plan-related operations
type PlanRepository interface {
	Create(plan *models.Plan) error
	GetByID(companyID, id uint) (*models.Plan, error)
	GetByName(companyID uint, name string) (*models.Plan, error)
	ListActive(companyID uint) ([]models.Plan, error)
	ListByCompany(companyID uint) ([]models.Plan, error)
	Update(plan *models.Plan) error
	SetActive(companyID, id uint, active bool) error
	InUse(id uint) (bool, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Company CompanyRepository
	Plan    PlanRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Company: NewCompanyRepository(db),
		Plan:    NewPlanRepository(db),
	}
}
