package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/wglickman33/mykosherdelivery-sub002/internal/domain"
	"github.com/wglickman33/mykosherdelivery-sub002/internal/menu"
	"github.com/wglickman33/mykosherdelivery-sub002/internal/ordering"
	"github.com/wglickman33/mykosherdelivery-sub002/internal/payment"
	"github.com/wglickman33/mykosherdelivery-sub002/internal/repository"
	"github.com/wglickman33/mykosherdelivery-sub002/internal/service"
	"github.com/wglickman33/mykosherdelivery-sub002/internal/store"
)

const testTenant = "t1"

type testActor struct {
	userID, userType, role string
}

var (
	admin  = testActor{userID: "admin-1", userType: service.UserTypeStaff, role: "Admin"}
	nurse2 = testActor{userID: "nurse-2", userType: service.UserTypeStaff, role: "Nurse"}
	family = testActor{userID: "c1", userType: service.UserTypeFamily}
)

type mutableClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *mutableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *mutableClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type apiFixture struct {
	router  *Router
	gateway *payment.FakeGateway
	clock   *mutableClock
	items   map[string]string
	loc     *time.Location
	mr      *miniredis.Miniredis
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	deadline, err := ordering.NewDeadlineCalculator(loc, 12)
	require.NoError(t, err)
	pricing, err := ordering.NewPricingEngine(ordering.DefaultTaxRate)
	require.NoError(t, err)

	residents := repository.NewMemoryResidentsRepo()
	residents.PutResident(domain.Resident{ResidentID: "r1", TenantID: testTenant, Name: "Ruth Cohen", IsActive: true,
		AssignedStaffID: "nurse-1", BillingName: "David Cohen", BillingEmail: "david@example.com"})
	residents.PutContact(testTenant, "c1", "r1")

	menuRepo := repository.NewMemoryMenuRepo()
	items := map[string]string{}
	for _, it := range []domain.MenuItem{
		{Name: "Bagel", Category: domain.CategoryMain, MealType: domain.MealTypeBreakfast, Price: decimal.NewFromInt(3),
			IsActive: true, RequiresVariant: true, VariantOptions: []string{"plain", "sesame"}},
		{Name: "Coffee", Category: domain.CategorySide, MealType: domain.MealTypeBreakfast, Price: decimal.NewFromInt(2), IsActive: true},
		{Name: "Soup", Category: domain.CategorySoup, MealType: domain.MealTypeLunch, Price: decimal.NewFromInt(5), IsActive: true},
	} {
		id, err := menuRepo.UpsertMenuItem(context.Background(), testTenant, &it)
		require.NoError(t, err)
		items[it.Name] = id
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	catalog := menu.NewCachedCatalog(menuRepo, store.NewRedisKV(rdb), time.Minute, zap.NewNop())

	clock := &mutableClock{t: time.Date(2026, 10, 14, 10, 0, 0, 0, loc)}
	gateway := payment.NewFakeGateway()

	svc := service.NewResidentOrderService(service.ResidentOrderServiceDeps{
		Orders:         repository.NewMemoryResidentOrdersRepo(residents),
		Residents:      residents,
		Catalog:        catalog,
		Gateway:        gateway,
		Deadline:       deadline,
		Pricing:        pricing,
		PaymentTimeout: 50 * time.Millisecond,
		Now:            clock.Now,
		Logger:         zap.NewNop(),
	})

	router := NewRouter(zap.NewNop())
	router.RegisterMenuRoutes(NewMenuHandler(catalog, zap.NewNop()))
	router.RegisterResidentOrderRoutes(NewResidentOrderHandler(svc, zap.NewNop()))

	return &apiFixture{router: router, gateway: gateway, clock: clock, items: items, loc: loc, mr: mr}
}

func (f *apiFixture) do(t *testing.T, as testActor, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", testTenant)
	req.Header.Set("X-User-Id", as.userID)
	req.Header.Set("X-User-Type", as.userType)
	req.Header.Set("X-User-Role", as.role)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeResult[T any](t *testing.T, rec *httptest.ResponseRecorder) Result[T] {
	t.Helper()
	var out Result[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (f *apiFixture) scenarioABody() saveOrderRequest {
	return saveOrderRequest{
		ResidentID:    "r1",
		WeekStartDate: "2026-10-19",
		Meals: []mealRequestBody{
			{Day: "monday", MealType: "breakfast", Items: []itemRefDTO{{ID: f.items["Bagel"]}, {ID: f.items["Coffee"]}}, BagelType: "plain"},
			{Day: "wednesday", MealType: "lunch", Items: []itemRefDTO{{ID: f.items["Soup"]}}},
		},
	}
}

func (f *apiFixture) createOrder(t *testing.T) residentOrderDTO {
	t.Helper()
	rec := f.do(t, admin, http.MethodPost, "/resident-orders", f.scenarioABody())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeResult[residentOrderDTO](t, rec).Result
}

func TestResidentOrderAPI_FullFlow(t *testing.T) {
	f := newAPIFixture(t)

	created := f.createOrder(t)
	assert.Equal(t, "draft", created.Status)
	assert.Equal(t, "pending", created.PaymentStatus)
	assert.Equal(t, "2026-10-19", created.WeekStartDate)
	assert.Equal(t, "2026-10-25", created.WeekEndDate)
	assert.Equal(t, "10.00", created.Subtotal)
	assert.Equal(t, "0.89", created.Tax)
	assert.Equal(t, "10.89", created.Total)
	require.NotNil(t, created.Cutoff)
	assert.True(t, created.Cutoff.Equal(time.Date(2026, 10, 18, 12, 0, 0, 0, f.loc)))

	rec := f.do(t, admin, http.MethodPost, "/resident-orders/"+created.ID+"/submit-and-pay",
		submitAndPayRequest{PaymentMethodID: "pm_card_visa"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	paid := decodeResult[submitAndPayResponse](t, rec).Result
	assert.Equal(t, "paid", paid.Status)
	assert.Equal(t, "paid", paid.PaymentStatus)
	require.NotNil(t, paid.Receipt)
	assert.Equal(t, "10.89", paid.Receipt.Amount)
	assert.False(t, paid.AlreadyPaid)

	// 重复提交返回同一收据，不再扣款
	rec = f.do(t, admin, http.MethodPost, "/resident-orders/"+created.ID+"/submit-and-pay",
		submitAndPayRequest{PaymentMethodID: "pm_card_visa"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	replay := decodeResult[submitAndPayResponse](t, rec).Result
	assert.True(t, replay.AlreadyPaid)
	assert.Equal(t, paid.Receipt.PaymentIntentID, replay.Receipt.PaymentIntentID)
	assert.Equal(t, 1, f.gateway.Charges())

	rec = f.do(t, family, http.MethodGet, "/resident-orders/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeResult[residentOrderDTO](t, rec).Result
	assert.Equal(t, "paid", got.Status)
	assert.Equal(t, paid.PaymentIntentID, got.PaymentIntentID)

	rec = f.do(t, admin, http.MethodGet, "/resident-orders?residentId=r1&weekStartDate=2026-10-19&status=paid", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	list := decodeResult[struct {
		Items []residentOrderDTO `json:"items"`
		Total int                `json:"total"`
	}](t, rec).Result
	assert.Equal(t, 1, list.Total)
	require.Len(t, list.Items, 1)
	assert.Equal(t, created.ID, list.Items[0].ID)
}

func TestResidentOrderAPI_OrderingWindow(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, admin, http.MethodGet, "/resident-orders/ordering-window", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	window := decodeResult[struct {
		WeekStartDate string    `json:"weekStartDate"`
		WeekEndDate   string    `json:"weekEndDate"`
		Cutoff        time.Time `json:"cutoff"`
		Timezone      string    `json:"timezone"`
	}](t, rec).Result
	assert.Equal(t, "2026-10-19", window.WeekStartDate)
	assert.Equal(t, "2026-10-25", window.WeekEndDate)
	assert.Equal(t, "America/New_York", window.Timezone)
	assert.True(t, window.Cutoff.Equal(time.Date(2026, 10, 18, 16, 0, 0, 0, time.UTC)))
}

func TestResidentOrderAPI_ErrorStatusCodes(t *testing.T) {
	t.Run("validation 400", func(t *testing.T) {
		f := newAPIFixture(t)
		body := f.scenarioABody()
		body.Meals = nil
		rec := f.do(t, admin, http.MethodPost, "/resident-orders", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		res := decodeResult[any](t, rec)
		assert.Equal(t, ResultError, res.Code)
		assert.Equal(t, "at least one meal required", res.Message)
	})

	t.Run("bad date 400", func(t *testing.T) {
		f := newAPIFixture(t)
		body := f.scenarioABody()
		body.WeekStartDate = "next monday"
		rec := f.do(t, admin, http.MethodPost, "/resident-orders", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body 400", func(t *testing.T) {
		f := newAPIFixture(t)
		req := httptest.NewRequest(http.MethodPost, "/resident-orders", bytes.NewBufferString("{"))
		req.Header.Set("X-Tenant-Id", testTenant)
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("deadline passed 422", func(t *testing.T) {
		f := newAPIFixture(t)
		created := f.createOrder(t)
		f.clock.Set(time.Date(2026, 10, 18, 12, 0, 1, 0, f.loc))
		rec := f.do(t, admin, http.MethodPut, "/resident-orders/"+created.ID, f.scenarioABody())
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	})

	t.Run("forbidden 403", func(t *testing.T) {
		f := newAPIFixture(t)
		created := f.createOrder(t)
		rec := f.do(t, nurse2, http.MethodGet, "/resident-orders/"+created.ID, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = f.do(t, family, http.MethodPut, "/resident-orders/"+created.ID, f.scenarioABody())
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("not found 404", func(t *testing.T) {
		f := newAPIFixture(t)
		rec := f.do(t, admin, http.MethodGet, "/resident-orders/does-not-exist", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not found", decodeResult[any](t, rec).Message)
	})

	t.Run("declined 402", func(t *testing.T) {
		f := newAPIFixture(t)
		created := f.createOrder(t)
		rec := f.do(t, admin, http.MethodPost, "/resident-orders/"+created.ID+"/submit-and-pay",
			submitAndPayRequest{PaymentMethodID: payment.FakeMethodDeclined})
		assert.Equal(t, http.StatusPaymentRequired, rec.Code, rec.Body.String())

		rec = f.do(t, admin, http.MethodGet, "/resident-orders/"+created.ID, nil)
		got := decodeResult[residentOrderDTO](t, rec).Result
		assert.Equal(t, "draft", got.Status)
		assert.Equal(t, "failed", got.PaymentStatus)
	})

	t.Run("gateway timeout 504", func(t *testing.T) {
		f := newAPIFixture(t)
		created := f.createOrder(t)
		rec := f.do(t, admin, http.MethodPost, "/resident-orders/"+created.ID+"/submit-and-pay",
			submitAndPayRequest{PaymentMethodID: payment.FakeMethodNeverReplies})
		assert.Equal(t, http.StatusGatewayTimeout, rec.Code, rec.Body.String())
	})

	t.Run("duplicate week 409", func(t *testing.T) {
		f := newAPIFixture(t)
		f.createOrder(t)
		rec := f.do(t, admin, http.MethodPost, "/resident-orders", f.scenarioABody())
		assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	})
}

func TestResidentOrderAPI_Cancel(t *testing.T) {
	f := newAPIFixture(t)
	created := f.createOrder(t)

	rec := f.do(t, admin, http.MethodPost, "/resident-orders/"+created.ID+"/cancel", cancelOrderRequest{Reason: "hospitalized"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", decodeResult[residentOrderDTO](t, rec).Result.Status)

	rec = f.do(t, admin, http.MethodPost, "/resident-orders/"+created.ID+"/submit-and-pay",
		submitAndPayRequest{PaymentMethodID: "pm_card_visa"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, f.gateway.Calls())
}

func TestResidentOrderAPI_RequiresAction(t *testing.T) {
	f := newAPIFixture(t)
	created := f.createOrder(t)

	rec := f.do(t, admin, http.MethodPost, "/resident-orders/"+created.ID+"/submit-and-pay",
		submitAndPayRequest{PaymentMethodID: payment.FakeMethodRequires3DS})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeResult[submitAndPayResponse](t, rec).Result
	assert.True(t, res.RequiresAction)
	assert.NotEmpty(t, res.ClientSecret)
	assert.Equal(t, "submitted", res.Status)

	f.gateway.CompleteAction(res.PaymentIntentID)

	rec = f.do(t, admin, http.MethodPost, "/resident-orders/"+created.ID+"/submit-and-pay",
		submitAndPayRequest{PaymentMethodID: payment.FakeMethodRequires3DS})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	done := decodeResult[submitAndPayResponse](t, rec).Result
	assert.Equal(t, "paid", done.Status)
	require.NotNil(t, done.Receipt)
	assert.Equal(t, "10.89", done.Receipt.Amount)
}

func TestResidentOrderAPI_Export(t *testing.T) {
	f := newAPIFixture(t)
	created := f.createOrder(t)

	rec := f.do(t, family, http.MethodGet, "/resident-orders/"+created.ID+"/export", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "resident-order-2026-10-19-")

	x, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer x.Close()

	rows, err := x.GetRows(residentOrderSheet)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rows), 8)
	assert.Equal(t, ResidentOrderExportHeader, rows[0])
	assert.Equal(t, []string{"Monday", "2026-10-19", "Breakfast", "Bagel", "main", "3.00", "plain"}, rows[1])
	assert.Equal(t, []string{"Monday", "2026-10-19", "Breakfast", "Coffee", "side", "2.00", "plain"}, rows[2])
	assert.Equal(t, []string{"Wednesday", "2026-10-21", "Lunch", "Soup", "soup", "5.00"}, rows[3])

	last := rows[len(rows)-1]
	require.Len(t, last, 6)
	assert.Equal(t, "Total", last[3])
	assert.Equal(t, "10.89", last[5])
}
