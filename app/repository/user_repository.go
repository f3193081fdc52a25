package repository

import (
	"github.com/ManuelReschke/SubLedger/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// userRepository implements the UserRepository interface
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository instance
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// GetByID retrieves a user by their ID
func (r *userRepository) GetByID(id string) (*models.User, error) {
	var user models.User
	if err := r.db.Where("user_id = ?", id).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// UpsertMirror creates the user if it is unknown locally, otherwise only the
// subscription mirror columns are overwritten.
func (r *userRepository) UpsertMirror(user *models.User) error {
	if err := user.Validate(); err != nil {
		return err
	}
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"subscription_status",
			"current_plan_id",
			"trial_end_date",
			"subscription_end_date",
			"subscription_id",
			"updated_at",
		}),
	}).Create(user).Error
}
