package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wglickman33/mykosherdelivery-sub002/internal/domain"
)

func setupMockResidentOrdersDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresResidentOrdersRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewPostgresResidentOrdersRepository(db)
}

var residentOrderRowColumns = []string{
	"order_id", "tenant_id", "resident_id", "week_start_date", "week_end_date",
	"meals", "subtotal", "tax", "total", "status", "payment_status",
	"billing_email", "billing_name", "delivery_address",
	"capture_token", "payment_method_id", "payment_reference", "payment_error",
	"submitted_at", "receipt", "created_by", "created_at", "updated_at",
}

const sampleMealsJSON = `[{"day":"monday","meal_type":"breakfast","items":[{"id":"bagel","name":"Bagel","category":"main","price":"3"},{"id":"coffee","name":"Coffee","category":"side","price":"2"}],"bagel_type":"plain"}]`

func TestGetOrder_Success(t *testing.T) {
	db, mock, repo := setupMockResidentOrdersDB(t)
	defer db.Close()

	tenantID := uuid.New().String()
	orderID := uuid.New().String()
	residentID := uuid.New().String()
	now := time.Now()
	submittedAt := now.Add(-time.Minute)

	rows := sqlmock.NewRows(residentOrderRowColumns).AddRow(
		orderID, tenantID, residentID,
		time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), time.Date(2026, 10, 25, 0, 0, 0, 0, time.UTC),
		sampleMealsJSON, "5.00", "0.44", "5.44", "paid", "paid",
		"family@example.com", "Jane Doe", "12 Elm St",
		"tok-1", "pm_card_visa", "pi_123", "",
		submittedAt, `{"payment_intent_id":"pi_123","amount":"5.44","currency":"usd","captured_at":"2026-10-17T10:00:00Z"}`, "staff-1", now, now,
	)
	mock.ExpectQuery(`SELECT`).WithArgs(tenantID, orderID).WillReturnRows(rows)

	o, err := repo.GetOrder(context.Background(), tenantID, orderID)
	require.NoError(t, err)

	assert.Equal(t, orderID, o.OrderID)
	assert.Equal(t, domain.OrderStatusPaid, o.Status)
	assert.Equal(t, domain.PaymentStatusPaid, o.PaymentStatus)
	require.Len(t, o.Meals, 1)
	require.Len(t, o.Meals[0].Items, 2)
	assert.True(t, o.Meals[0].Items[0].Price.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, "plain", o.Meals[0].BagelType)
	assert.True(t, o.Total.Equal(decimal.RequireFromString("5.44")))
	require.NotNil(t, o.Receipt)
	assert.Equal(t, "pi_123", o.Receipt.PaymentIntentID)
	require.NotNil(t, o.SubmittedAt)
	assert.Equal(t, "2026-10-19", o.WeekStartDate.Format("2006-01-02"))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrder_NotFound(t *testing.T) {
	db, mock, repo := setupMockResidentOrdersDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).WithArgs("t1", "o1").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetOrder(context.Background(), "t1", "o1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrder_ReturnsID(t *testing.T) {
	db, mock, repo := setupMockResidentOrdersDB(t)
	defer db.Close()

	order := &domain.ResidentOrder{
		TenantID:      "t1",
		ResidentID:    "r1",
		WeekStartDate: time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC),
		WeekEndDate:   time.Date(2026, 10, 25, 0, 0, 0, 0, time.UTC),
		Meals: []domain.Meal{{Day: domain.Monday, MealType: domain.MealTypeLunch, Items: []domain.ItemSnapshot{
			{ID: "soup", Name: "Soup", Category: domain.CategorySoup, Price: decimal.NewFromInt(5)},
		}}},
		Subtotal: decimal.RequireFromString("5.00"),
		Tax:      decimal.RequireFromString("0.44"),
		Total:    decimal.RequireFromString("5.44"),
	}

	mock.ExpectQuery(`INSERT INTO resident_orders`).
		WithArgs("t1", "r1", "2026-10-19", "2026-10-25", sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "draft", "pending",
			"", "", "", "").
		WillReturnRows(sqlmock.NewRows([]string{"order_id"}).AddRow("o-new"))

	id, err := repo.CreateOrder(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, "o-new", id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrder_DuplicateWeek(t *testing.T) {
	db, mock, repo := setupMockResidentOrdersDB(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO resident_orders`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	_, err := repo.CreateOrder(context.Background(), &domain.ResidentOrder{
		TenantID:      "t1",
		ResidentID:    "r1",
		WeekStartDate: time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC),
		WeekEndDate:   time.Date(2026, 10, 25, 0, 0, 0, 0, time.UTC),
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveDraft_OnlyWhileDraft(t *testing.T) {
	db, mock, repo := setupMockResidentOrdersDB(t)
	defer db.Close()

	order := &domain.ResidentOrder{OrderID: "o1", TenantID: "t1", UpdatedAt: time.Now()}

	mock.ExpectExec(`UPDATE resident_orders .* status = 'draft'`).WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := repo.SaveDraft(context.Background(), order)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec(`UPDATE resident_orders .* status = 'draft'`).WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = repo.SaveDraft(context.Background(), order)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBeginSubmit_CompareAndSwap(t *testing.T) {
	db, mock, repo := setupMockResidentOrdersDB(t)
	defer db.Close()

	at := time.Now()
	mock.ExpectExec(`UPDATE resident_orders\s+SET status = 'submitted'`).
		WithArgs("t1", "o1", "tok", "pm_1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE resident_orders\s+SET status = 'submitted'`).
		WithArgs("t1", "o1", "tok2", "pm_2", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.BeginSubmit(context.Background(), "t1", "o1", "tok", "pm_1", at)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.BeginSubmit(context.Background(), "t1", "o1", "tok2", "pm_2", at)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPaid_RequiresMatchingToken(t *testing.T) {
	db, mock, repo := setupMockResidentOrdersDB(t)
	defer db.Close()

	at := time.Now()
	receipt := &domain.Receipt{PaymentIntentID: "pi_1", Amount: decimal.RequireFromString("10.89"), Currency: "usd", CapturedAt: at}

	mock.ExpectExec(`SET status = 'paid'`).
		WithArgs("t1", "o1", "tok", "pi_1", sqlmock.AnyArg(), at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.MarkPaid(context.Background(), "t1", "o1", "tok", receipt, at)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = repo.MarkPaid(context.Background(), "t1", "o1", "tok", nil, at)
	assert.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPaymentFailed_ReturnsToDraft(t *testing.T) {
	db, mock, repo := setupMockResidentOrdersDB(t)
	defer db.Close()

	at := time.Now()
	mock.ExpectExec(`SET status = 'draft',\s+payment_status = 'failed'`).
		WithArgs("t1", "o1", "tok", "card declined", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.MarkPaymentFailed(context.Background(), "t1", "o1", "tok", "card declined", at)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancel_RejectsTerminalSource(t *testing.T) {
	db, mock, repo := setupMockResidentOrdersDB(t)
	defer db.Close()

	_, err := repo.Cancel(context.Background(), "t1", "o1", domain.OrderStatusPaid, time.Now())
	assert.Error(t, err)

	mock.ExpectExec(`SET status = 'cancelled'`).WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := repo.Cancel(context.Background(), "t1", "o1", domain.OrderStatusDraft, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListOrders_Filters(t *testing.T) {
	db, mock, repo := setupMockResidentOrdersDB(t)
	defer db.Close()

	ws := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	now := time.Now()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM resident_orders`).
		WithArgs("t1", "r1", "2026-10-19", "draft", "staff-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`ORDER BY o.week_start_date DESC`).
		WithArgs("t1", "r1", "2026-10-19", "draft", "staff-1", 20, 0).
		WillReturnRows(sqlmock.NewRows(residentOrderRowColumns).AddRow(
			"o1", "t1", "r1", ws, ws.AddDate(0, 0, 6),
			sampleMealsJSON, "5.00", "0.44", "5.44", "draft", "pending",
			"", "", "", "", "", "", "", nil, nil, "", now, now,
		))

	orders, total, err := repo.ListOrders(context.Background(), "t1", OrderFilters{
		ResidentID:      "r1",
		WeekStartDate:   &ws,
		Status:          domain.OrderStatusDraft,
		AssignedStaffID: "staff-1",
	}, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, orders, 1)
	assert.Nil(t, orders[0].Receipt)
	assert.Nil(t, orders[0].SubmittedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}
