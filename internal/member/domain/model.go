package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrMemberNotFound = errors.New("member_not_found")

// Member is a cooperative associate. BillingDay is the day of month the
// member joined their payment cycle on; the scheduler maps it onto the
// 10th/20th due dates.
type Member struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	AssociationID snowflake.ID `gorm:"not null;index" json:"association_id"`
	Name          string       `gorm:"not null" json:"name"`
	Email         string       `gorm:"not null;uniqueIndex" json:"email"`
	Document      string       `gorm:"not null" json:"document"`
	Phone         string       `json:"phone,omitempty"`
	BillingDay    int          `gorm:"not null" json:"billing_day"`
	Active        bool         `gorm:"not null;default:true" json:"active"`
	Admin         bool         `gorm:"not null;default:false" json:"admin"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, member *Member) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Member, error)
	FindByEmail(ctx context.Context, db *gorm.DB, email string) (*Member, error)
	// ListBillable returns active non-admin members on the target billing
	// day that have no payment row for the given due date yet, up to limit.
	ListBillable(ctx context.Context, db *gorm.DB, targetDay int, dueDate time.Time, limit int) ([]*Member, error)
}
