package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"

	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/order"
)

type OrderHandler struct {
	service  order.Service
	validate *validator.Validate
}

func NewOrderHandler(service order.Service) *OrderHandler {
	return &OrderHandler{service: service, validate: newValidator()}
}

type AfterSalesRequest struct {
	Notes *string `json:"notes,omitempty" validate:"omitempty,max=500"`
}

type BulkUpdateResponse struct {
	Updated int `json:"updated"`
}

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Route("/orders", func(r chi.Router) {
		r.Post("/", h.handleCreateOrder)
		r.Get("/", h.handleListOrders)
		r.Post("/preview", h.handlePreviewOrder)
		r.Post("/bulk-status", h.handleBulkUpdateStatus)
		r.Get("/statistics", h.handleGetStatistics)
		r.Get("/revenue", h.handleGetRevenue)
		r.Get("/top-customers", h.handleGetTopCustomers)
		r.Get("/stale", h.handleGetStalePending)
		r.Get("/unpaid", h.handleGetUnpaid)
		r.Get("/number/{number}", h.handleGetOrderByNumber)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleGetOrder)
			r.Delete("/", h.handleDeleteOrder)
			r.Patch("/status", h.handleUpdateStatus)
			r.Patch("/notes", h.handleUpdateNotes)
			r.Post("/cancel", h.handleCancelOrder)
			r.Post("/tracking", h.handleAddTracking)
			r.Post("/return", h.handleMarkReturned)
			r.Post("/refund", h.handleMarkRefunded)
			r.Post("/restore", h.handleRestoreOrder)
			r.Get("/history", h.handleGetHistory)
		})
	})
}

func (h *OrderHandler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req order.CreateOrderDTO
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	created, err := h.service.CreateOrder(r.Context(), req, actor(r))
	if err != nil {
		respondWithDomainError(w, r, err, "create order")
		return
	}
	w.Header().Set("Location", "/orders/"+created.ID.String())
	respondWithJSON(w, http.StatusCreated, created)
}

func (h *OrderHandler) handlePreviewOrder(w http.ResponseWriter, r *http.Request) {
	var req order.CreateOrderDTO
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	preview, err := h.service.PreviewOrder(r.Context(), req)
	if err != nil {
		respondWithDomainError(w, r, err, "preview order")
		return
	}
	respondWithJSON(w, http.StatusOK, preview)
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondWithDomainError(w, r, err, "get order")
		return
	}

	found, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		respondWithDomainError(w, r, err, "get order")
		return
	}
	respondWithJSON(w, http.StatusOK, found)
}

func (h *OrderHandler) handleGetOrderByNumber(w http.ResponseWriter, r *http.Request) {
	found, err := h.service.GetOrderByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		respondWithDomainError(w, r, err, "get order by number")
		return
	}
	respondWithJSON(w, http.StatusOK, found)
}

func (h *OrderHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := query{r: r}
	filter := order.Filter{
		CustomerID: q.uuid("customer_id"),
		From:       q.time("from"),
		To:         q.time("to"),
		Search:     q.str("search"),
	}
	if s := q.str("status"); s != "" {
		status := order.Status(strings.ToUpper(s))
		filter.Status = &status
	}
	if s := q.str("payment_status"); s != "" {
		payment := order.PaymentStatus(strings.ToUpper(s))
		filter.PaymentStatus = &payment
	}
	page := order.PageRequest{
		Page:      q.integer("page", 1),
		Limit:     q.integer("limit", 0),
		SortBy:    q.str("sort_by"),
		SortOrder: q.str("sort_order"),
	}
	if q.err != nil {
		respondWithDomainError(w, r, q.err, "list orders")
		return
	}

	list, err := h.service.ListOrders(r.Context(), filter, page)
	if err != nil {
		respondWithDomainError(w, r, err, "list orders")
		return
	}
	respondWithJSON(w, http.StatusOK, list)
}

func (h *OrderHandler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondWithDomainError(w, r, err, "update order status")
		return
	}
	var req order.UpdateOrderStatusDTO
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	updated, err := h.service.UpdateOrderStatus(r.Context(), id, req, actor(r))
	if err != nil {
		respondWithDomainError(w, r, err, "update order status")
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}

func (h *OrderHandler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondWithDomainError(w, r, err, "cancel order")
		return
	}
	var req order.CancelOrderDTO
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	cancelled, err := h.service.CancelOrder(r.Context(), id, req, actor(r))
	if err != nil {
		respondWithDomainError(w, r, err, "cancel order")
		return
	}
	respondWithJSON(w, http.StatusOK, cancelled)
}

func (h *OrderHandler) handleAddTracking(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondWithDomainError(w, r, err, "add tracking info")
		return
	}
	var req order.AddTrackingInfoDTO
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	updated, err := h.service.AddTrackingInfo(r.Context(), id, req, actor(r))
	if err != nil {
		respondWithDomainError(w, r, err, "add tracking info")
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}

func (h *OrderHandler) handleUpdateNotes(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondWithDomainError(w, r, err, "update order notes")
		return
	}
	var req order.UpdateNotesDTO
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	updated, err := h.service.UpdateOrderNotes(r.Context(), id, req)
	if err != nil {
		respondWithDomainError(w, r, err, "update order notes")
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}

func (h *OrderHandler) handleBulkUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req order.BulkUpdateStatusDTO
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	n, err := h.service.BulkUpdateStatus(r.Context(), req, actor(r))
	if err != nil {
		respondWithDomainError(w, r, err, "bulk update order status")
		return
	}
	respondWithJSON(w, http.StatusOK, BulkUpdateResponse{Updated: n})
}

func (h *OrderHandler) handleMarkReturned(w http.ResponseWriter, r *http.Request) {
	h.afterSales(w, r, "mark order returned", h.service.MarkReturned)
}

func (h *OrderHandler) handleMarkRefunded(w http.ResponseWriter, r *http.Request) {
	h.afterSales(w, r, "mark order refunded", h.service.MarkRefunded)
}

func (h *OrderHandler) afterSales(w http.ResponseWriter, r *http.Request, action string,
	fn func(ctx context.Context, id uuid.UUID, notes *string, changedBy string) (*order.OrderResponse, error)) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondWithDomainError(w, r, err, action)
		return
	}
	var req AfterSalesRequest
	if r.ContentLength != 0 && !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	updated, err := fn(r.Context(), id, req.Notes, actor(r))
	if err != nil {
		respondWithDomainError(w, r, err, action)
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}

func (h *OrderHandler) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondWithDomainError(w, r, err, "delete order")
		return
	}
	if err := h.service.DeleteOrder(r.Context(), id); err != nil {
		respondWithDomainError(w, r, err, "delete order")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrderHandler) handleRestoreOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondWithDomainError(w, r, err, "restore order")
		return
	}
	restored, err := h.service.RestoreOrder(r.Context(), id)
	if err != nil {
		respondWithDomainError(w, r, err, "restore order")
		return
	}
	respondWithJSON(w, http.StatusOK, restored)
}

func (h *OrderHandler) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondWithDomainError(w, r, err, "get status history")
		return
	}
	history, err := h.service.GetStatusHistory(r.Context(), id)
	if err != nil {
		respondWithDomainError(w, r, err, "get status history")
		return
	}
	respondWithJSON(w, http.StatusOK, history)
}

func (h *OrderHandler) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	q := query{r: r}
	filter := order.StatisticsFilter{
		CustomerID: q.uuid("customer_id"),
		From:       q.time("from"),
		To:         q.time("to"),
	}
	if q.err != nil {
		respondWithDomainError(w, r, q.err, "get order statistics")
		return
	}

	stats, err := h.service.GetOrderStatistics(r.Context(), filter)
	if err != nil {
		respondWithDomainError(w, r, err, "get order statistics")
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

func (h *OrderHandler) handleGetRevenue(w http.ResponseWriter, r *http.Request) {
	q := query{r: r}
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -30)
	if t := q.time("start"); t != nil {
		start = *t
	}
	if t := q.time("end"); t != nil {
		end = *t
	}
	groupBy := order.GroupBy(strings.ToLower(q.str("group_by")))
	if groupBy == "" {
		groupBy = order.GroupByDay
	}
	if q.err != nil {
		respondWithDomainError(w, r, q.err, "get revenue")
		return
	}

	points, err := h.service.GetRevenueByPeriod(r.Context(), start, end, groupBy)
	if err != nil {
		respondWithDomainError(w, r, err, "get revenue")
		return
	}
	respondWithJSON(w, http.StatusOK, points)
}

func (h *OrderHandler) handleGetTopCustomers(w http.ResponseWriter, r *http.Request) {
	q := query{r: r}
	limit := q.integer("limit", 10)
	if q.err != nil {
		respondWithDomainError(w, r, q.err, "get top customers")
		return
	}

	customers, err := h.service.GetTopCustomers(r.Context(), limit)
	if err != nil {
		respondWithDomainError(w, r, err, "get top customers")
		return
	}
	respondWithJSON(w, http.StatusOK, customers)
}

func (h *OrderHandler) handleGetStalePending(w http.ResponseWriter, r *http.Request) {
	q := query{r: r}
	hours := q.integer("hours", 24)
	if q.err != nil {
		respondWithDomainError(w, r, q.err, "get stale pending orders")
		return
	}

	orders, err := h.service.GetStalePendingOrders(r.Context(), hours)
	if err != nil {
		respondWithDomainError(w, r, err, "get stale pending orders")
		return
	}
	respondWithJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) handleGetUnpaid(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.GetUnpaidOrders(r.Context())
	if err != nil {
		respondWithDomainError(w, r, err, "get unpaid orders")
		return
	}
	respondWithJSON(w, http.StatusOK, orders)
}
