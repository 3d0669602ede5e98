package repository

import (
	"github.com/hotspotpay/hotspot/app/models"
	"gorm.io/gorm"
)

// companyRepository implements the CompanyRepository interface
type companyRepository struct {
	db *gorm.DB
}

// NewCompanyRepository creates a new company repository instance
func NewCompanyRepository(db *gorm.DB) CompanyRepository {
	return &companyRepository{db: db}
}

// Create validates and stores a new company
func (r *companyRepository) Create(company *models.Company) error {
	if err := company.Validate(); err != nil {
		return err
	}
	return r.db.Create(company).Error
}

// GetByID retrieves a company by its ID
func (r *companyRepository) GetByID(id uint) (*models.Company, error) {
	var company models.Company
	if err := r.db.First(&company, id).Error; err != nil {
		return nil, err
	}
	return &company, nil
}

// GetByName retrieves a company by its unique name
func (r *companyRepository) GetByName(name string) (*models.Company, error) {
	var company models.Company
	if err := r.db.Where("name = ?", name).First(&company).Error; err != nil {
		return nil, err
	}
	return &company, nil
}

func (r *companyRepository) List() ([]models.Company, error) {
	var companies []models.Company
	err := r.db.Order("name ASC").Find(&companies).Error
	return companies, err
}

// Update validates and saves all company fields
func (r *companyRepository) Update(company *models.Company) error {
	if err := company.Validate(); err != nil {
		return err
	}
	return r.db.Save(company).Error
}
