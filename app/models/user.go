package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// User is the local account record. The subscription fields are a
// denormalized read model of the company's Subscription and are only written
// inside the transaction that mutates that Subscription.
type User struct {
	ID                  string     `gorm:"column:user_id;primaryKey;type:varchar(36)" json:"user_id" validate:"required"`
	CompanyID           string     `gorm:"type:varchar(36);not null;default:'';index" json:"company_id"`
	Name                string     `gorm:"type:varchar(150);not null;default:''" json:"name" validate:"max=150"`
	Email               string     `gorm:"type:varchar(200);not null;default:''" json:"email" validate:"omitempty,email,max=200"`
	SubscriptionStatus  string     `gorm:"type:varchar(32);not null;default:'none'" json:"subscription_status"`
	CurrentPlanID       string     `gorm:"type:varchar(100);not null;default:''" json:"current_plan_id"`
	TrialEndDate        *time.Time `gorm:"type:timestamp;default:null" json:"trial_end_date,omitempty"`
	SubscriptionEndDate *time.Time `gorm:"type:timestamp;default:null" json:"subscription_end_date,omitempty"`
	SubscriptionID      string     `gorm:"type:varchar(36);not null;default:''" json:"subscription_id"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) Validate() error {
	return validate.Struct(u)
}

// MirrorSubscription copies the subscription read model onto the user.
func (u *User) MirrorSubscription(sub *Subscription) {
	u.SubscriptionID = sub.ID
	u.SubscriptionStatus = sub.Status
	u.CurrentPlanID = sub.PlanID
	u.TrialEndDate = sub.TrialEnd
	if u.CompanyID == "" {
		u.CompanyID = sub.CompanyID
	}
}
