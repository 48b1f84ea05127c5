package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/moradacoop/morada/internal/member/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, member *domain.Member) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO members (id, association_id, name, email, document, phone, billing_day, active, admin, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		member.ID,
		member.AssociationID,
		member.Name,
		member.Email,
		member.Document,
		member.Phone,
		member.BillingDay,
		member.Active,
		member.Admin,
		member.CreatedAt,
		member.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Member, error) {
	var member domain.Member
	err := db.WithContext(ctx).Raw(
		`SELECT id, association_id, name, email, document, phone, billing_day, active, admin, created_at, updated_at
		 FROM members WHERE id = ?`,
		id,
	).Scan(&member).Error
	if err != nil {
		return nil, err
	}
	if member.ID == 0 {
		return nil, domain.ErrMemberNotFound
	}
	return &member, nil
}

func (r *repo) FindByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.Member, error) {
	var member domain.Member
	err := db.WithContext(ctx).Raw(
		`SELECT id, association_id, name, email, document, phone, billing_day, active, admin, created_at, updated_at
		 FROM members WHERE email = ?`,
		email,
	).Scan(&member).Error
	if err != nil {
		return nil, err
	}
	if member.ID == 0 {
		return nil, domain.ErrMemberNotFound
	}
	return &member, nil
}

// ListBillable anti-joins against payments so a member already holding a
// charge for the due date is skipped at the source instead of filtered later.
// Because inserted payments drop members out of the result, callers page
// through the cohort by re-running the query until it comes back short.
func (r *repo) ListBillable(ctx context.Context, db *gorm.DB, targetDay int, dueDate time.Time, limit int) ([]*domain.Member, error) {
	var members []*domain.Member
	err := db.WithContext(ctx).Raw(
		`SELECT m.id, m.association_id, m.name, m.email, m.document, m.phone, m.billing_day, m.active, m.admin, m.created_at, m.updated_at
		 FROM members m
		 WHERE m.active = ?
		   AND m.admin = ?
		   AND m.billing_day = ?
		   AND NOT EXISTS (
		     SELECT 1 FROM payments p
		     WHERE p.member_id = m.id AND p.due_date = ?
		   )
		 ORDER BY m.id
		 LIMIT ?`,
		true,
		false,
		targetDay,
		dueDate,
		limit,
	).Scan(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}
