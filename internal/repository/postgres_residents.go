package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wglickman33/mykosherdelivery-sub002/internal/domain"
)

// PostgresResidentsRepository 住户 Repository 实现（meal_residents 表）
type PostgresResidentsRepository struct {
	db *sql.DB
}

// NewPostgresResidentsRepository 创建住户 Repository
func NewPostgresResidentsRepository(db *sql.DB) *PostgresResidentsRepository {
	return &PostgresResidentsRepository{db: db}
}

var _ ResidentsRepository = (*PostgresResidentsRepository)(nil)

// GetResident 根据 resident_id 获取住户
func (r *PostgresResidentsRepository) GetResident(ctx context.Context, tenantID, residentID string) (*domain.Resident, error) {
	if tenantID == "" || residentID == "" {
		return nil, fmt.Errorf("tenant_id and resident_id are required")
	}

	query := `
		SELECT
			resident_id::text,
			tenant_id::text,
			name,
			room_number,
			dietary_restrictions,
			allergies,
			billing_name,
			billing_email,
			is_active,
			assigned_staff_id::text,
			delivery_address
		FROM meal_residents
		WHERE tenant_id = $1 AND resident_id = $2
	`

	var res domain.Resident
	var room, dietary, allergies, billingName, billingEmail, staffID, address sql.NullString
	err := r.db.QueryRowContext(ctx, query, tenantID, residentID).Scan(
		&res.ResidentID,
		&res.TenantID,
		&res.Name,
		&room,
		&dietary,
		&allergies,
		&billingName,
		&billingEmail,
		&res.IsActive,
		&staffID,
		&address,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("resident %s: %w", residentID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get resident: %w", err)
	}

	res.RoomNumber = room.String
	res.DietaryRestrictions = dietary.String
	res.Allergies = allergies.String
	res.BillingName = billingName.String
	res.BillingEmail = billingEmail.String
	res.AssignedStaffID = staffID.String
	res.DeliveryAddress = address.String
	return &res, nil
}

// GetContactResidentID 根据 contact_id 查询家属所属住户
func (r *PostgresResidentsRepository) GetContactResidentID(ctx context.Context, tenantID, contactID string) (string, error) {
	var residentID string
	err := r.db.QueryRowContext(ctx,
		`SELECT resident_id::text FROM resident_contacts WHERE tenant_id = $1 AND contact_id::text = $2`,
		tenantID, contactID,
	).Scan(&residentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("contact %s: %w", contactID, domain.ErrNotFound)
		}
		return "", fmt.Errorf("failed to get contact resident: %w", err)
	}
	return residentID, nil
}
