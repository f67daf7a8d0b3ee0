package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/wglickman33/mykosherdelivery-sub002/internal/domain"
	"github.com/wglickman33/mykosherdelivery-sub002/internal/service"
)

// ResidentOrderHandler 住户周订单 Handler
type ResidentOrderHandler struct {
	svc    service.ResidentOrderService
	logger *zap.Logger
}

func NewResidentOrderHandler(svc service.ResidentOrderService, logger *zap.Logger) *ResidentOrderHandler {
	return &ResidentOrderHandler{svc: svc, logger: logger}
}

// --- Request / Response types ---

type saveOrderRequest struct {
	ResidentID      string            `json:"residentId"`
	WeekStartDate   string            `json:"weekStartDate"`
	WeekEndDate     string            `json:"weekEndDate"`
	Meals           []mealRequestBody `json:"meals"`
	DeliveryAddress string            `json:"deliveryAddress"`
	BillingEmail    string            `json:"billingEmail"`
	BillingName     string            `json:"billingName"`
}

type mealRequestBody struct {
	Day       string       `json:"day"`
	MealType  string       `json:"mealType"`
	Items     []itemRefDTO `json:"items"`
	BagelType string       `json:"bagelType"`
}

type itemRefDTO struct {
	ID string `json:"id"`
}

type submitAndPayRequest struct {
	PaymentMethodID string `json:"paymentMethodId"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type itemDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Price    string `json:"price"`
}

type mealDTO struct {
	Day       string    `json:"day"`
	MealType  string    `json:"mealType"`
	Items     []itemDTO `json:"items"`
	BagelType string    `json:"bagelType,omitempty"`
}

type receiptDTO struct {
	PaymentIntentID string    `json:"paymentIntentId"`
	Amount          string    `json:"amount"`
	Currency        string    `json:"currency"`
	CapturedAt      time.Time `json:"capturedAt"`
}

type residentOrderDTO struct {
	ID              string      `json:"id"`
	ResidentID      string      `json:"residentId"`
	FacilityID      string      `json:"facilityId"`
	WeekStartDate   string      `json:"weekStartDate"`
	WeekEndDate     string      `json:"weekEndDate"`
	Meals           []mealDTO   `json:"meals"`
	Subtotal        string      `json:"subtotal"`
	Tax             string      `json:"tax"`
	Total           string      `json:"total"`
	Status          string      `json:"status"`
	PaymentStatus   string      `json:"paymentStatus"`
	PaymentError    string      `json:"paymentError,omitempty"`
	PaymentIntentID string      `json:"paymentIntentId,omitempty"`
	BillingEmail    string      `json:"billingEmail"`
	BillingName     string      `json:"billingName"`
	DeliveryAddress string      `json:"deliveryAddress"`
	Receipt         *receiptDTO `json:"receipt,omitempty"`
	Cutoff          *time.Time  `json:"cutoff,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

type submitAndPayResponse struct {
	Status          string            `json:"status"`
	PaymentStatus   string            `json:"paymentStatus"`
	PaymentIntentID string            `json:"paymentIntentId,omitempty"`
	ClientSecret    string            `json:"clientSecret,omitempty"`
	RequiresAction  bool              `json:"requiresAction"`
	InProgress      bool              `json:"inProgress"`
	AlreadyPaid     bool              `json:"alreadyPaid"`
	Receipt         *receiptDTO       `json:"receipt,omitempty"`
	Order           *residentOrderDTO `json:"order"`
}

func toReceiptDTO(r *domain.Receipt) *receiptDTO {
	if r == nil {
		return nil
	}
	return &receiptDTO{
		PaymentIntentID: r.PaymentIntentID,
		Amount:          r.Amount.StringFixed(2),
		Currency:        r.Currency,
		CapturedAt:      r.CapturedAt,
	}
}

func toResidentOrderDTO(o *domain.ResidentOrder, cutoff time.Time) *residentOrderDTO {
	meals := make([]mealDTO, 0, len(o.Meals))
	for _, m := range o.Meals {
		items := make([]itemDTO, 0, len(m.Items))
		for _, it := range m.Items {
			items = append(items, itemDTO{ID: it.ID, Name: it.Name, Category: string(it.Category), Price: it.Price.StringFixed(2)})
		}
		meals = append(meals, mealDTO{Day: string(m.Day), MealType: string(m.MealType), Items: items, BagelType: m.BagelType})
	}
	dto := &residentOrderDTO{
		ID:              o.OrderID,
		ResidentID:      o.ResidentID,
		FacilityID:      o.TenantID,
		WeekStartDate:   o.WeekStartDate.Format("2006-01-02"),
		WeekEndDate:     o.WeekEndDate.Format("2006-01-02"),
		Meals:           meals,
		Subtotal:        o.Subtotal.StringFixed(2),
		Tax:             o.Tax.StringFixed(2),
		Total:           o.Total.StringFixed(2),
		Status:          string(o.Status),
		PaymentStatus:   string(o.PaymentStatus),
		PaymentError:    o.PaymentError,
		PaymentIntentID: o.PaymentReference,
		BillingEmail:    o.BillingEmail,
		BillingName:     o.BillingName,
		DeliveryAddress: o.DeliveryAddress,
		Receipt:         toReceiptDTO(o.Receipt),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	if !cutoff.IsZero() {
		c := cutoff.UTC()
		dto.Cutoff = &c
	}
	return dto
}

func (body saveOrderRequest) toServiceRequest(actor service.Actor, orderID string) (service.SaveDraftRequest, error) {
	start, err := parseDate(body.WeekStartDate)
	if err != nil {
		return service.SaveDraftRequest{}, err
	}
	end, err := parseDate(body.WeekEndDate)
	if err != nil {
		return service.SaveDraftRequest{}, err
	}
	meals := make([]service.MealInput, 0, len(body.Meals))
	for _, m := range body.Meals {
		ids := make([]string, 0, len(m.Items))
		for _, it := range m.Items {
			ids = append(ids, it.ID)
		}
		meals = append(meals, service.MealInput{Day: m.Day, MealType: m.MealType, ItemIDs: ids, BagelType: m.BagelType})
	}
	return service.SaveDraftRequest{
		Actor:           actor,
		OrderID:         orderID,
		ResidentID:      body.ResidentID,
		WeekStartDate:   start,
		WeekEndDate:     end,
		Meals:           meals,
		DeliveryAddress: body.DeliveryAddress,
		BillingEmail:    body.BillingEmail,
		BillingName:     body.BillingName,
	}, nil
}

// --- Handlers ---

// CreateOrder POST /resident-orders
func (h *ResidentOrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var body saveOrderRequest
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	req, err := body.toServiceRequest(actorFromRequest(r), "")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}

	resp, err := h.svc.CreateDraft(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, "CreateDraft", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(toResidentOrderDTO(resp.Order, resp.Cutoff)))
}

// UpdateOrder PUT /resident-orders/{id}
func (h *ResidentOrderHandler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	var body saveOrderRequest
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	req, err := body.toServiceRequest(actorFromRequest(r), chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}

	resp, err := h.svc.UpdateDraft(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, "UpdateDraft", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(toResidentOrderDTO(resp.Order, resp.Cutoff)))
}

// GetOrder GET /resident-orders/{id}
func (h *ResidentOrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.GetOrder(r.Context(), service.GetOrderRequest{
		Actor:   actorFromRequest(r),
		OrderID: chi.URLParam(r, "id"),
	})
	if err != nil {
		writeServiceError(w, h.logger, "GetOrder", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(toResidentOrderDTO(resp.Order, resp.Cutoff)))
}

// ListOrders GET /resident-orders?residentId=&weekStartDate=&status=&page=&pageSize=
func (h *ResidentOrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := service.ListOrdersRequest{
		Actor:      actorFromRequest(r),
		ResidentID: q.Get("residentId"),
		Status:     q.Get("status"),
		Page:       parseInt(q.Get("page"), 1),
		PageSize:   parseInt(q.Get("pageSize"), 20),
	}
	if ws := q.Get("weekStartDate"); ws != "" {
		d, err := parseDate(ws)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
			return
		}
		req.WeekStartDate = &d
	}

	resp, err := h.svc.ListOrders(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, "ListOrders", err)
		return
	}
	items := make([]*residentOrderDTO, 0, len(resp.Items))
	for _, o := range resp.Items {
		items = append(items, toResidentOrderDTO(o, time.Time{}))
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"items": items, "total": resp.Total}))
}

// OrderingWindow GET /resident-orders/ordering-window
func (h *ResidentOrderHandler) OrderingWindow(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.OrderingWindow(r.Context(), service.OrderingWindowRequest{Actor: actorFromRequest(r)})
	if err != nil {
		writeServiceError(w, h.logger, "OrderingWindow", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"weekStartDate": resp.WeekStart.Format("2006-01-02"),
		"weekEndDate":   resp.WeekEnd.Format("2006-01-02"),
		"cutoff":        resp.Cutoff.UTC(),
		"timezone":      resp.Timezone,
	}))
}

// SubmitAndPay POST /resident-orders/{id}/submit-and-pay（重复调用安全）
func (h *ResidentOrderHandler) SubmitAndPay(w http.ResponseWriter, r *http.Request) {
	var body submitAndPayRequest
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	resp, err := h.svc.SubmitAndPay(r.Context(), service.SubmitAndPayRequest{
		Actor:           actorFromRequest(r),
		OrderID:         chi.URLParam(r, "id"),
		PaymentMethodID: body.PaymentMethodID,
	})
	if err != nil {
		writeServiceError(w, h.logger, "SubmitAndPay", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(submitAndPayResponse{
		Status:          string(resp.Order.Status),
		PaymentStatus:   string(resp.Order.PaymentStatus),
		PaymentIntentID: resp.PaymentIntentID,
		ClientSecret:    resp.ClientSecret,
		RequiresAction:  resp.RequiresAction,
		InProgress:      resp.InProgress,
		AlreadyPaid:     resp.AlreadyPaid,
		Receipt:         toReceiptDTO(resp.Receipt),
		Order:           toResidentOrderDTO(resp.Order, time.Time{}),
	}))
}

// CancelOrder POST /resident-orders/{id}/cancel
func (h *ResidentOrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var body cancelOrderRequest
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	resp, err := h.svc.Cancel(r.Context(), service.CancelOrderRequest{
		Actor:   actorFromRequest(r),
		OrderID: chi.URLParam(r, "id"),
		Reason:  body.Reason,
	})
	if err != nil {
		writeServiceError(w, h.logger, "CancelOrder", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(toResidentOrderDTO(resp.Order, resp.Cutoff)))
}

// ExportOrder GET /resident-orders/{id}/export
func (h *ResidentOrderHandler) ExportOrder(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.GetOrder(r.Context(), service.GetOrderRequest{
		Actor:   actorFromRequest(r),
		OrderID: chi.URLParam(r, "id"),
	})
	if err != nil {
		writeServiceError(w, h.logger, "ExportOrder", err)
		return
	}

	data, err := GenerateResidentOrderExport(resp.Order)
	if err != nil {
		h.logger.Error("Failed to generate order export",
			zap.String("order_id", resp.Order.OrderID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to generate export"))
		return
	}

	filename := fmt.Sprintf("resident-order-%s-%s.xlsx", resp.Order.WeekStartDate.Format("2006-01-02"), shortID(resp.Order.OrderID))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
