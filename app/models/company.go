package models

import "time"

type Company struct {
	ID        string    `gorm:"column:company_id;primaryKey;type:varchar(36)" json:"company_id" validate:"required"`
	Name      string    `gorm:"type:varchar(200);not null;default:''" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Company) TableName() string {
	return "companies"
}
