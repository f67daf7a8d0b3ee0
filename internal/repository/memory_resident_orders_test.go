package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wglickman33/mykosherdelivery-sub002/internal/domain"
)

func newMemoryOrder(t *testing.T, repo *MemoryResidentOrdersRepo, tenantID, residentID string) string {
	id, err := repo.CreateOrder(context.Background(), &domain.ResidentOrder{
		TenantID:      tenantID,
		ResidentID:    residentID,
		WeekStartDate: time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC),
		WeekEndDate:   time.Date(2026, 10, 25, 0, 0, 0, 0, time.UTC),
		Meals: []domain.Meal{{Day: domain.Monday, MealType: domain.MealTypeLunch, Items: []domain.ItemSnapshot{
			{ID: "soup", Name: "Soup", Price: decimal.NewFromInt(5)},
		}}},
	})
	require.NoError(t, err)
	return id
}

func TestMemoryOrders_ConcurrentBeginSubmitOnlyOneWins(t *testing.T) {
	repo := NewMemoryResidentOrdersRepo(nil)
	id := newMemoryOrder(t, repo, "t1", "r1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.BeginSubmit(context.Background(), "t1", id, "tok", "pm_card_visa", time.Now())
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	o, err := repo.GetOrder(context.Background(), "t1", id)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusSubmitted, o.Status)
	assert.Equal(t, domain.PaymentStatusPending, o.PaymentStatus)
}

func TestMemoryOrders_PaymentFailedReturnsToDraft(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryResidentOrdersRepo(nil)
	id := newMemoryOrder(t, repo, "t1", "r1")

	ok, err := repo.BeginSubmit(ctx, "t1", id, "tok", "pm_card_visa", time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.MarkPaymentFailed(ctx, "t1", id, "other-token", "declined", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.MarkPaymentFailed(ctx, "t1", id, "tok", "declined", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	o, err := repo.GetOrder(ctx, "t1", id)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDraft, o.Status)
	assert.Equal(t, domain.PaymentStatusFailed, o.PaymentStatus)
	assert.Equal(t, "declined", o.PaymentError)
	assert.Empty(t, o.CaptureToken)
	assert.Len(t, o.Meals, 1)
}

func TestMemoryOrders_TakeoverRequiresSameSubmittedAt(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryResidentOrdersRepo(nil)
	id := newMemoryOrder(t, repo, "t1", "r1")

	first := time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)
	ok, err := repo.BeginSubmit(ctx, "t1", id, "tok", "pm_card_visa", first)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.TakeoverSubmit(ctx, "t1", id, first.Add(time.Second), first.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.TakeoverSubmit(ctx, "t1", id, first, first.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	o, err := repo.GetOrder(ctx, "t1", id)
	require.NoError(t, err)
	assert.Equal(t, "tok", o.CaptureToken)
	assert.Equal(t, "pm_card_visa", o.PaymentMethodID)
	assert.True(t, o.SubmittedAt.Equal(first.Add(time.Hour)))
}

func TestMemoryOrders_TenantIsolationAndCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryResidentOrdersRepo(nil)
	id := newMemoryOrder(t, repo, "t1", "r1")

	_, err := repo.GetOrder(ctx, "t2", id)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	o, err := repo.GetOrder(ctx, "t1", id)
	require.NoError(t, err)
	o.Meals[0].Items[0].Name = "changed"

	again, err := repo.GetOrder(ctx, "t1", id)
	require.NoError(t, err)
	assert.Equal(t, "Soup", again.Meals[0].Items[0].Name)
}

func TestMemoryOrders_ListByAssignedStaff(t *testing.T) {
	ctx := context.Background()
	residents := NewMemoryResidentsRepo()
	r1 := residents.PutResident(domain.Resident{TenantID: "t1", Name: "A", IsActive: true, AssignedStaffID: "staff-1"})
	r2 := residents.PutResident(domain.Resident{TenantID: "t1", Name: "B", IsActive: true, AssignedStaffID: "staff-2"})

	repo := NewMemoryResidentOrdersRepo(residents)
	newMemoryOrder(t, repo, "t1", r1)
	newMemoryOrder(t, repo, "t1", r2)

	all, total, err := repo.ListOrders(ctx, "t1", OrderFilters{}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, all, 2)

	mine, total, err := repo.ListOrders(ctx, "t1", OrderFilters{AssignedStaffID: "staff-1"}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, mine, 1)
	assert.Equal(t, r1, mine[0].ResidentID)
}
