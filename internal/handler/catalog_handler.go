package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"

	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/coupon"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/shipping"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/tax"
)

type Coupons interface {
	ApplyCoupon(ctx context.Context, code string, orderAmount int64) (coupon.Application, error)
	CreateCoupon(ctx context.Context, input coupon.CreateInput) (*coupon.Coupon, error)
	DeactivateCoupon(ctx context.Context, code string) error
	GetCoupon(ctx context.Context, code string) (*coupon.Coupon, error)
	ListCoupons(ctx context.Context) ([]coupon.Coupon, error)
}

type Taxes interface {
	CalculateTax(ctx context.Context, amount int64, country, region, category string) (tax.Result, error)
	CreateTaxRule(ctx context.Context, input tax.CreateRuleInput) (*tax.Rule, error)
	ListTaxRules(ctx context.Context, country string) ([]tax.Rule, error)
	DeactivateTaxRule(ctx context.Context, id uuid.UUID) error
}

type Shipping interface {
	GetAvailableMethods(ctx context.Context, country string, orderAmount int64) ([]shipping.Quote, error)
	CalculateShipping(ctx context.Context, orderAmount int64, country string, method shipping.Method) (shipping.Quote, error)
	CreateRate(ctx context.Context, input shipping.CreateRateInput) (*shipping.Rate, error)
	ListRates(ctx context.Context, country string) ([]shipping.Rate, error)
	GetShipmentByOrder(ctx context.Context, orderID uuid.UUID) (*shipping.Shipment, error)
}

// CatalogHandler serves the reference data the pricing depends on.
type CatalogHandler struct {
	coupons  Coupons
	taxes    Taxes
	shipping Shipping
	validate *validator.Validate
}

func NewCatalogHandler(coupons Coupons, taxes Taxes, shipping Shipping) *CatalogHandler {
	return &CatalogHandler{coupons: coupons, taxes: taxes, shipping: shipping, validate: newValidator()}
}

type ValidateCouponRequest struct {
	Code        string `json:"code" validate:"required"`
	OrderAmount int64  `json:"order_amount" validate:"gte=0"`
}

type CalculateTaxRequest struct {
	Amount   int64  `json:"amount" validate:"gte=0"`
	Country  string `json:"country" validate:"required,len=2"`
	Region   string `json:"region,omitempty"`
	Category string `json:"category,omitempty"`
}

type CalculateShippingRequest struct {
	OrderAmount int64  `json:"order_amount" validate:"gte=0"`
	Country     string `json:"country" validate:"required,len=2"`
	Method      string `json:"method,omitempty" validate:"omitempty,oneof=STANDARD EXPRESS OVERNIGHT"`
}

func (h *CatalogHandler) RegisterRoutes(router chi.Router) {
	router.Route("/coupons", func(r chi.Router) {
		r.Post("/", h.handleCreateCoupon)
		r.Get("/", h.handleListCoupons)
		r.Post("/validate", h.handleValidateCoupon)
		r.Get("/{code}", h.handleGetCoupon)
		r.Post("/{code}/deactivate", h.handleDeactivateCoupon)
	})
	router.Route("/tax", func(r chi.Router) {
		r.Post("/calculate", h.handleCalculateTax)
		r.Post("/rules", h.handleCreateTaxRule)
		r.Get("/rules", h.handleListTaxRules)
		r.Delete("/rules/{id}", h.handleDeactivateTaxRule)
	})
	router.Route("/shipping", func(r chi.Router) {
		r.Get("/methods", h.handleGetShippingMethods)
		r.Post("/calculate", h.handleCalculateShipping)
		r.Post("/rates", h.handleCreateRate)
		r.Get("/rates", h.handleListRates)
		r.Get("/shipments/{orderID}", h.handleGetShipment)
	})
}

func (h *CatalogHandler) handleCreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req coupon.CreateInput
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	created, err := h.coupons.CreateCoupon(r.Context(), req)
	if err != nil {
		respondWithDomainError(w, r, err, "create coupon")
		return
	}
	respondWithJSON(w, http.StatusCreated, created)
}

func (h *CatalogHandler) handleListCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.coupons.ListCoupons(r.Context())
	if err != nil {
		respondWithDomainError(w, r, err, "list coupons")
		return
	}
	respondWithJSON(w, http.StatusOK, coupons)
}

func (h *CatalogHandler) handleValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req ValidateCouponRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	app, err := h.coupons.ApplyCoupon(r.Context(), req.Code, req.OrderAmount)
	if err != nil {
		respondWithDomainError(w, r, err, "validate coupon")
		return
	}
	respondWithJSON(w, http.StatusOK, app)
}

func (h *CatalogHandler) handleGetCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.coupons.GetCoupon(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		respondWithDomainError(w, r, err, "get coupon")
		return
	}
	respondWithJSON(w, http.StatusOK, c)
}

func (h *CatalogHandler) handleDeactivateCoupon(w http.ResponseWriter, r *http.Request) {
	if err := h.coupons.DeactivateCoupon(r.Context(), chi.URLParam(r, "code")); err != nil {
		respondWithDomainError(w, r, err, "deactivate coupon")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CatalogHandler) handleCalculateTax(w http.ResponseWriter, r *http.Request) {
	var req CalculateTaxRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	res, err := h.taxes.CalculateTax(r.Context(), req.Amount, req.Country, req.Region, req.Category)
	if err != nil {
		respondWithDomainError(w, r, err, "calculate tax")
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (h *CatalogHandler) handleCreateTaxRule(w http.ResponseWriter, r *http.Request) {
	var req tax.CreateRuleInput
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	rule, err := h.taxes.CreateTaxRule(r.Context(), req)
	if err != nil {
		respondWithDomainError(w, r, err, "create tax rule")
		return
	}
	respondWithJSON(w, http.StatusCreated, rule)
}

func (h *CatalogHandler) handleListTaxRules(w http.ResponseWriter, r *http.Request) {
	q := query{r: r}
	rules, err := h.taxes.ListTaxRules(r.Context(), q.str("country"))
	if err != nil {
		respondWithDomainError(w, r, err, "list tax rules")
		return
	}
	respondWithJSON(w, http.StatusOK, rules)
}

func (h *CatalogHandler) handleDeactivateTaxRule(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondWithDomainError(w, r, err, "deactivate tax rule")
		return
	}
	if err := h.taxes.DeactivateTaxRule(r.Context(), id); err != nil {
		respondWithDomainError(w, r, err, "deactivate tax rule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CatalogHandler) handleGetShippingMethods(w http.ResponseWriter, r *http.Request) {
	q := query{r: r}
	country := q.str("country")
	amount := q.amount("order_amount")
	if q.err != nil {
		respondWithDomainError(w, r, q.err, "get shipping methods")
		return
	}
	if len(country) != 2 {
		respondWithError(w, http.StatusBadRequest, "VALIDATION_ERROR", "country must be a two-letter code")
		return
	}

	quotes, err := h.shipping.GetAvailableMethods(r.Context(), country, amount)
	if err != nil {
		respondWithDomainError(w, r, err, "get shipping methods")
		return
	}
	respondWithJSON(w, http.StatusOK, quotes)
}

func (h *CatalogHandler) handleCalculateShipping(w http.ResponseWriter, r *http.Request) {
	var req CalculateShippingRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	method := shipping.DefaultMethod
	if req.Method != "" {
		method = shipping.Method(req.Method)
	}
	quote, err := h.shipping.CalculateShipping(r.Context(), req.OrderAmount, req.Country, method)
	if err != nil {
		respondWithDomainError(w, r, err, "calculate shipping")
		return
	}
	respondWithJSON(w, http.StatusOK, quote)
}

func (h *CatalogHandler) handleCreateRate(w http.ResponseWriter, r *http.Request) {
	var req shipping.CreateRateInput
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	rate, err := h.shipping.CreateRate(r.Context(), req)
	if err != nil {
		respondWithDomainError(w, r, err, "create shipping rate")
		return
	}
	respondWithJSON(w, http.StatusCreated, rate)
}

func (h *CatalogHandler) handleListRates(w http.ResponseWriter, r *http.Request) {
	q := query{r: r}
	rates, err := h.shipping.ListRates(r.Context(), q.str("country"))
	if err != nil {
		respondWithDomainError(w, r, err, "list shipping rates")
		return
	}
	respondWithJSON(w, http.StatusOK, rates)
}

func (h *CatalogHandler) handleGetShipment(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuidParam(r, "orderID")
	if err != nil {
		respondWithDomainError(w, r, err, "get shipment")
		return
	}
	sh, err := h.shipping.GetShipmentByOrder(r.Context(), orderID)
	if err != nil {
		respondWithDomainError(w, r, err, "get shipment")
		return
	}
	respondWithJSON(w, http.StatusOK, sh)
}
