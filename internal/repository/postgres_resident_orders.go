package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/wglickman33/mykosherdelivery-sub002/internal/domain"
)

// PostgresResidentOrdersRepository 住户周订单 Repository 实现
type PostgresResidentOrdersRepository struct {
	db *sql.DB
}

// NewPostgresResidentOrdersRepository 创建订单 Repository
func NewPostgresResidentOrdersRepository(db *sql.DB) *PostgresResidentOrdersRepository {
	return &PostgresResidentOrdersRepository{db: db}
}

var _ ResidentOrdersRepository = (*PostgresResidentOrdersRepository)(nil)

const residentOrderColumns = `
			o.order_id::text,
			o.tenant_id::text,
			o.resident_id::text,
			o.week_start_date,
			o.week_end_date,
			o.meals::text,
			o.subtotal,
			o.tax,
			o.total,
			o.status,
			o.payment_status,
			COALESCE(o.billing_email, '') as billing_email,
			COALESCE(o.billing_name, '') as billing_name,
			COALESCE(o.delivery_address, '') as delivery_address,
			COALESCE(o.capture_token, '') as capture_token,
			COALESCE(o.payment_method_id, '') as payment_method_id,
			COALESCE(o.payment_reference, '') as payment_reference,
			COALESCE(o.payment_error, '') as payment_error,
			o.submitted_at,
			o.receipt::text,
			COALESCE(o.created_by, '') as created_by,
			o.created_at,
			o.updated_at`

// CreateOrder 插入 draft 订单，返回 order_id
func (r *PostgresResidentOrdersRepository) CreateOrder(ctx context.Context, order *domain.ResidentOrder) (string, error) {
	if order == nil || order.TenantID == "" || order.ResidentID == "" {
		return "", fmt.Errorf("tenant_id and resident_id are required")
	}
	meals, err := json.Marshal(order.Meals)
	if err != nil {
		return "", fmt.Errorf("failed to marshal meals: %w", err)
	}

	var id string
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO resident_orders (
			tenant_id, resident_id, week_start_date, week_end_date, meals,
			subtotal, tax, total, status, payment_status,
			billing_email, billing_name, delivery_address, created_by
		) VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9, $10, NULLIF($11, ''), NULLIF($12, ''), NULLIF($13, ''), NULLIF($14, ''))
		RETURNING order_id::text
	`,
		order.TenantID,
		order.ResidentID,
		order.WeekStartDate.Format("2006-01-02"),
		order.WeekEndDate.Format("2006-01-02"),
		string(meals),
		order.Subtotal,
		order.Tax,
		order.Total,
		string(domain.OrderStatusDraft),
		string(domain.PaymentStatusPending),
		order.BillingEmail,
		order.BillingName,
		order.DeliveryAddress,
		order.CreatedBy,
	).Scan(&id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return "", fmt.Errorf("resident order for week %s: %w", order.WeekStartDate.Format("2006-01-02"), domain.ErrAlreadyExists)
		}
		return "", fmt.Errorf("failed to create resident order: %w", err)
	}
	return id, nil
}

// GetOrder 根据 order_id 获取订单
func (r *PostgresResidentOrdersRepository) GetOrder(ctx context.Context, tenantID, orderID string) (*domain.ResidentOrder, error) {
	if tenantID == "" || orderID == "" {
		return nil, fmt.Errorf("tenant_id and order_id are required")
	}

	query := fmt.Sprintf(`SELECT %s FROM resident_orders o WHERE o.tenant_id = $1 AND o.order_id = $2`, residentOrderColumns)
	order, err := scanResidentOrder(r.db.QueryRowContext(ctx, query, tenantID, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("resident order %s: %w", orderID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get resident order: %w", err)
	}
	return order, nil
}

// ListOrders 分页查询，按 week_start_date 倒序
func (r *PostgresResidentOrdersRepository) ListOrders(ctx context.Context, tenantID string, filters OrderFilters, page, size int) ([]*domain.ResidentOrder, int, error) {
	if tenantID == "" {
		return []*domain.ResidentOrder{}, 0, nil
	}
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 50
	}
	offset := (page - 1) * size

	where := []string{"o.tenant_id = $1"}
	args := []any{tenantID}
	argIdx := 2
	if filters.ResidentID != "" {
		where = append(where, fmt.Sprintf("o.resident_id = $%d", argIdx))
		args = append(args, filters.ResidentID)
		argIdx++
	}
	if filters.WeekStartDate != nil {
		where = append(where, fmt.Sprintf("o.week_start_date = $%d", argIdx))
		args = append(args, filters.WeekStartDate.Format("2006-01-02"))
		argIdx++
	}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("o.status = $%d", argIdx))
		args = append(args, string(filters.Status))
		argIdx++
	}
	if filters.AssignedStaffID != "" {
		where = append(where, fmt.Sprintf("EXISTS (SELECT 1 FROM meal_residents mr WHERE mr.resident_id = o.resident_id AND mr.assigned_staff_id::text = $%d)", argIdx))
		args = append(args, filters.AssignedStaffID)
		argIdx++
	}
	whereClause := strings.Join(where, " AND ")

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM resident_orders o WHERE %s`, whereClause)
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count resident orders: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM resident_orders o
		WHERE %s
		ORDER BY o.week_start_date DESC, o.created_at DESC
		LIMIT $%d OFFSET $%d
	`, residentOrderColumns, whereClause, argIdx, argIdx+1)
	args = append(args, size, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list resident orders: %w", err)
	}
	defer rows.Close()

	orders := []*domain.ResidentOrder{}
	for rows.Next() {
		o, err := scanResidentOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan resident order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate resident orders: %w", err)
	}
	return orders, total, nil
}

// SaveDraft 仅当订单仍为 draft 时覆盖
func (r *PostgresResidentOrdersRepository) SaveDraft(ctx context.Context, order *domain.ResidentOrder) (bool, error) {
	meals, err := json.Marshal(order.Meals)
	if err != nil {
		return false, fmt.Errorf("failed to marshal meals: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE resident_orders
		SET meals = $3::jsonb,
		    subtotal = $4,
		    tax = $5,
		    total = $6,
		    billing_email = NULLIF($7, ''),
		    billing_name = NULLIF($8, ''),
		    delivery_address = NULLIF($9, ''),
		    updated_at = $10
		WHERE tenant_id = $1 AND order_id = $2 AND status = 'draft'
	`, order.TenantID, order.OrderID, string(meals), order.Subtotal, order.Tax, order.Total,
		order.BillingEmail, order.BillingName, order.DeliveryAddress, order.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to save draft: %w", err)
	}
	return affected(res)
}

// BeginSubmit draft -> submitted/pending，记录本次扣款使用的支付方式
func (r *PostgresResidentOrdersRepository) BeginSubmit(ctx context.Context, tenantID, orderID, captureToken, paymentMethodID string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE resident_orders
		SET status = 'submitted',
		    payment_status = 'pending',
		    capture_token = $3,
		    payment_method_id = $4,
		    payment_reference = NULL,
		    payment_error = NULL,
		    submitted_at = $5,
		    updated_at = $5
		WHERE tenant_id = $1 AND order_id = $2 AND status = 'draft'
	`, tenantID, orderID, captureToken, paymentMethodID, at)
	if err != nil {
		return false, fmt.Errorf("failed to begin submit: %w", err)
	}
	return affected(res)
}

// TakeoverSubmit 接管中断的尝试，保留 capture_token（同一幂等键）
func (r *PostgresResidentOrdersRepository) TakeoverSubmit(ctx context.Context, tenantID, orderID string, prevSubmittedAt, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE resident_orders
		SET submitted_at = $4, updated_at = $4
		WHERE tenant_id = $1 AND order_id = $2
		  AND status = 'submitted' AND payment_status = 'pending'
		  AND submitted_at = $3
	`, tenantID, orderID, prevSubmittedAt, at)
	if err != nil {
		return false, fmt.Errorf("failed to take over submit: %w", err)
	}
	return affected(res)
}

// SetPaymentReference 记录 intent id
func (r *PostgresResidentOrdersRepository) SetPaymentReference(ctx context.Context, tenantID, orderID, captureToken, reference string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE resident_orders
		SET payment_reference = $4, updated_at = NOW()
		WHERE tenant_id = $1 AND order_id = $2 AND status = 'submitted' AND capture_token = $3
	`, tenantID, orderID, captureToken, reference)
	if err != nil {
		return fmt.Errorf("failed to set payment reference: %w", err)
	}
	return nil
}

// MarkPaid submitted -> paid/paid，保存收据
func (r *PostgresResidentOrdersRepository) MarkPaid(ctx context.Context, tenantID, orderID, captureToken string, receipt *domain.Receipt, at time.Time) (bool, error) {
	if receipt == nil {
		return false, fmt.Errorf("receipt is required")
	}
	raw, err := json.Marshal(receipt)
	if err != nil {
		return false, fmt.Errorf("failed to marshal receipt: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE resident_orders
		SET status = 'paid',
		    payment_status = 'paid',
		    payment_reference = $4,
		    payment_error = NULL,
		    receipt = $5::jsonb,
		    updated_at = $6
		WHERE tenant_id = $1 AND order_id = $2 AND status = 'submitted' AND capture_token = $3
	`, tenantID, orderID, captureToken, receipt.PaymentIntentID, string(raw), at)
	if err != nil {
		return false, fmt.Errorf("failed to mark paid: %w", err)
	}
	return affected(res)
}

// MarkPaymentFailed submitted -> draft/failed，订单可再次提交
func (r *PostgresResidentOrdersRepository) MarkPaymentFailed(ctx context.Context, tenantID, orderID, captureToken, reason string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE resident_orders
		SET status = 'draft',
		    payment_status = 'failed',
		    payment_error = $4,
		    capture_token = NULL,
		    payment_reference = NULL,
		    submitted_at = NULL,
		    updated_at = $5
		WHERE tenant_id = $1 AND order_id = $2 AND status = 'submitted' AND capture_token = $3
	`, tenantID, orderID, captureToken, reason, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment failed: %w", err)
	}
	return affected(res)
}

// Cancel draft 或 submitted（未支付）-> cancelled
func (r *PostgresResidentOrdersRepository) Cancel(ctx context.Context, tenantID, orderID string, from domain.OrderStatus, at time.Time) (bool, error) {
	if from != domain.OrderStatusDraft && from != domain.OrderStatusSubmitted {
		return false, fmt.Errorf("cannot cancel from status %s", from)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE resident_orders
		SET status = 'cancelled', updated_at = $4
		WHERE tenant_id = $1 AND order_id = $2 AND status = $3 AND payment_status <> 'paid'
	`, tenantID, orderID, string(from), at)
	if err != nil {
		return false, fmt.Errorf("failed to cancel order: %w", err)
	}
	return affected(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResidentOrder(row rowScanner) (*domain.ResidentOrder, error) {
	var o domain.ResidentOrder
	var status, paymentStatus, mealsRaw string
	var submittedAt sql.NullTime
	var receiptRaw sql.NullString

	if err := row.Scan(
		&o.OrderID,
		&o.TenantID,
		&o.ResidentID,
		&o.WeekStartDate,
		&o.WeekEndDate,
		&mealsRaw,
		&o.Subtotal,
		&o.Tax,
		&o.Total,
		&status,
		&paymentStatus,
		&o.BillingEmail,
		&o.BillingName,
		&o.DeliveryAddress,
		&o.CaptureToken,
		&o.PaymentMethodID,
		&o.PaymentReference,
		&o.PaymentError,
		&submittedAt,
		&receiptRaw,
		&o.CreatedBy,
		&o.CreatedAt,
		&o.UpdatedAt,
	); err != nil {
		return nil, err
	}

	o.Status = domain.OrderStatus(status)
	o.PaymentStatus = domain.PaymentStatus(paymentStatus)
	o.WeekStartDate = domain.DateOnly(o.WeekStartDate)
	o.WeekEndDate = domain.DateOnly(o.WeekEndDate)
	if mealsRaw != "" {
		if err := json.Unmarshal([]byte(mealsRaw), &o.Meals); err != nil {
			return nil, fmt.Errorf("invalid meals json: %w", err)
		}
	}
	if submittedAt.Valid {
		t := submittedAt.Time
		o.SubmittedAt = &t
	}
	if receiptRaw.Valid && receiptRaw.String != "" {
		var rc domain.Receipt
		if err := json.Unmarshal([]byte(receiptRaw.String), &rc); err != nil {
			return nil, fmt.Errorf("invalid receipt json: %w", err)
		}
		o.Receipt = &rc
	}
	return &o, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}
