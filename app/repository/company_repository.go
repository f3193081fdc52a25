package repository

import (
	"github.com/ManuelReschke/SubLedger/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type companyRepository struct {
	db *gorm.DB
}

// NewCompanyRepository creates a new company repository instance
func NewCompanyRepository(db *gorm.DB) CompanyRepository {
	return &companyRepository{db: db}
}

func (r *companyRepository) GetByID(id string) (*models.Company, error) {
	var company models.Company
	if err := r.db.Where("company_id = ?", id).First(&company).Error; err != nil {
		return nil, err
	}
	return &company, nil
}

// EnsureExists inserts the company unless a row with the same id exists.
func (r *companyRepository) EnsureExists(company *models.Company) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "company_id"}},
		DoNothing: true,
	}).Create(company).Error
}
