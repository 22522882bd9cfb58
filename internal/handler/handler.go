package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iurnickita/foodmart/internal/auth"
	"github.com/iurnickita/foodmart/internal/dispatch"
	"github.com/iurnickita/foodmart/internal/handler/config"
	"github.com/iurnickita/foodmart/internal/ledger"
	"github.com/iurnickita/foodmart/internal/lifecycle"
	"github.com/iurnickita/foodmart/internal/logger"
	"github.com/iurnickita/foodmart/internal/model"
	"github.com/iurnickita/foodmart/internal/partner"
)

// Services - прикладной слой, который обслуживает HTTP
type Services struct {
	Lifecycle lifecycle.Lifecycle
	Dispatch  dispatch.Dispatch
	Partner   partner.Partner
	Ledger    ledger.Ledger
}

// Serve работает до отмены ctx, затем мягко останавливает сервер
func Serve(ctx context.Context, cfg config.Config, router http.Handler, zaplog *zap.Logger) error {
	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		zaplog.Info("starting server", zap.String("addr", cfg.ServerAddr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	zaplog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type handler struct {
	services Services
	validate *validator.Validate
	zaplog   *zap.Logger
}

func NewRouter(cfg config.Config, services Services, gatherer prometheus.Gatherer, zaplog *zap.Logger) http.Handler {
	h := &handler{
		services: services,
		validate: validator.New(),
		zaplog:   zaplog,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogMdlw(zaplog))
	r.Use(middleware.Compress(5, "application/json"))

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.NewAuth(cfg.JWTSecret).Middleware)

		r.Post("/orders", h.PlaceOrder)
		r.Get("/orders/{id}", h.GetOrder)
		r.Post("/orders/{id}/status", h.PostStatus)
		r.Post("/orders/{id}/pickup", h.PostPickup)
		r.Post("/orders/{id}/delivery", h.PostDelivery)

		r.Post("/couriers", h.RegisterCourier)
		r.Get("/courier/pool", h.GetPool)
		r.Get("/courier/active", h.GetActive)
		r.Get("/courier/history", h.GetHistory)
		r.Put("/courier/availability", h.PutAvailability)
		r.Put("/courier/location", h.PutLocation)
		r.Get("/couriers/{id}/balance", h.GetCourierBalance)
		r.Get("/couriers/{id}/settlements", h.GetCourierSettlements)

		r.Post("/shops", h.RegisterShop)
		r.Put("/shops/{id}/open", h.PutShopOpen)
		r.Get("/shops/{id}/balance", h.GetShopBalance)
		r.Get("/shops/{id}/settlements", h.GetShopSettlements)

		r.Route("/admin", func(r chi.Router) {
			r.Put("/shops/{id}/verify", h.PutShopVerified)
			r.Put("/shops/{id}/commission", h.PutShopCommission)
			r.Get("/balances/shops", h.GetShopBalances)
			r.Get("/balances/couriers", h.GetCourierBalances)
			r.Post("/settlements", h.PostSettlement)
			r.Get("/summary", h.GetSummary)
			r.Get("/reports", h.GetReport)
		})
	})
	return r
}

// Ответы и ошибки

type errorJSON struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	responseJSON, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(responseJSON)
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrCourierUnavailable),
		errors.Is(err, model.ErrShopUnavailable):
		status = http.StatusConflict
	case errors.Is(err, model.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, model.ErrCodeMismatch):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrInvalidAmount),
		errors.Is(err, model.ErrInvalidRequest):
		status = http.StatusBadRequest
	default:
		h.zaplog.Error("request failed", zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, errorJSON{Error: "internal", Message: "internal error"})
		return
	}
	h.writeJSON(w, status, errorJSON{Error: lifecycle.Reason(err), Message: err.Error()})
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorJSON{Error: "invalid_request", Message: err.Error()})
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		var invalid *validator.InvalidValidationError
		if !errors.As(err, &invalid) {
			h.writeJSON(w, http.StatusBadRequest, errorJSON{Error: "invalid_request", Message: err.Error()})
			return false
		}
	}
	return true
}

func actor(r *http.Request) model.Actor {
	actor, _ := auth.ActorFrom(r.Context())
	return actor
}

// courier - вызывающий должен быть курьером, его ID и есть ID курьера
func (h *handler) courier(w http.ResponseWriter, r *http.Request) (string, bool) {
	a := actor(r)
	if a.Role != model.RoleCourier {
		h.writeError(w, model.ErrUnauthorized)
		return "", false
	}
	return a.ID, true
}

// Заказы

type OrderJSON struct {
	ID              string              `json:"id"`
	CustomerID      string              `json:"customer_id"`
	ShopID          string              `json:"shop_id"`
	CourierID       string              `json:"courier_id,omitempty"`
	Status          model.OrderStatus   `json:"status"`
	TotalAmount     decimal.Decimal     `json:"total_amount"`
	DeliveryFee     decimal.NullDecimal `json:"delivery_fee"`
	PickupOTP       string              `json:"pickup_otp,omitempty"`
	DeliveryOTP     string              `json:"delivery_otp,omitempty"`
	PaymentMethod   model.PaymentMethod `json:"payment_method"`
	DeliveryAddress string              `json:"delivery_address"`
	Notes           string              `json:"notes,omitempty"`
	IsScheduled     bool                `json:"is_scheduled"`
	ScheduledAt     *time.Time          `json:"scheduled_at,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
	DeliveredAt     *time.Time          `json:"delivered_at,omitempty"`
}

func orderJSON(o model.Order) OrderJSON {
	return OrderJSON{
		ID:              o.ID,
		CustomerID:      o.CustomerID,
		ShopID:          o.ShopID,
		CourierID:       o.CourierID,
		Status:          o.Status,
		TotalAmount:     o.TotalAmount,
		DeliveryFee:     o.DeliveryFee,
		PickupOTP:       o.PickupOTP,
		DeliveryOTP:     o.DeliveryOTP,
		PaymentMethod:   o.PaymentMethod,
		DeliveryAddress: o.DeliveryAddress,
		Notes:           o.Notes,
		IsScheduled:     o.IsScheduled,
		ScheduledAt:     o.ScheduledAt,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		DeliveredAt:     o.DeliveredAt,
	}
}

func ordersJSON(orders []model.Order) []OrderJSON {
	out := make([]OrderJSON, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderJSON(o))
	}
	return out
}

func (h *handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.PlaceRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.services.Lifecycle.Place(r.Context(), actor(r), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, orderJSON(order))
}

func (h *handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.services.Lifecycle.Get(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orderJSON(order))
}

func (h *handler) PostStatus(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.TransitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.OrderID = chi.URLParam(r, "id")
	order, err := h.services.Lifecycle.Transition(r.Context(), actor(r), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orderJSON(order))
}

type CodeJSONRequest struct {
	Code string `json:"code" validate:"required"`
}

func (h *handler) PostPickup(w http.ResponseWriter, r *http.Request) {
	courierID, ok := h.courier(w, r)
	if !ok {
		return
	}
	var req CodeJSONRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.services.Lifecycle.VerifyPickup(r.Context(), chi.URLParam(r, "id"), courierID, req.Code)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orderJSON(order))
}

func (h *handler) PostDelivery(w http.ResponseWriter, r *http.Request) {
	courierID, ok := h.courier(w, r)
	if !ok {
		return
	}
	var req CodeJSONRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.services.Lifecycle.VerifyDelivery(r.Context(), chi.URLParam(r, "id"), courierID, req.Code)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orderJSON(order))
}

// Курьеры

func (h *handler) RegisterCourier(w http.ResponseWriter, r *http.Request) {
	courier, err := h.services.Partner.RegisterCourier(r.Context(), actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, courier)
}

func (h *handler) GetPool(w http.ResponseWriter, r *http.Request) {
	courierID, ok := h.courier(w, r)
	if !ok {
		return
	}
	orders, err := h.services.Dispatch.ListAvailable(r.Context(), courierID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ordersJSON(orders))
}

func (h *handler) GetActive(w http.ResponseWriter, r *http.Request) {
	courierID, ok := h.courier(w, r)
	if !ok {
		return
	}
	orders, err := h.services.Dispatch.Active(r.Context(), courierID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ordersJSON(orders))
}

func (h *handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	courierID, ok := h.courier(w, r)
	if !ok {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, model.ErrInvalidRequest)
			return
		}
		limit = n
	}
	orders, err := h.services.Dispatch.History(r.Context(), courierID, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ordersJSON(orders))
}

type AvailabilityJSONRequest struct {
	Available bool `json:"available"`
}

func (h *handler) PutAvailability(w http.ResponseWriter, r *http.Request) {
	var req AvailabilityJSONRequest
	if !h.decode(w, r, &req) {
		return
	}
	a := actor(r)
	courier, err := h.services.Partner.SetAvailability(r.Context(), a, a.ID, req.Available)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, courier)
}

func (h *handler) PutLocation(w http.ResponseWriter, r *http.Request) {
	var req partner.Location
	if !h.decode(w, r, &req) {
		return
	}
	a := actor(r)
	courier, err := h.services.Partner.UpdateLocation(r.Context(), a, a.ID, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, courier)
}

// Магазины

type ShopJSONRequest struct {
	Name string `json:"name" validate:"required"`
}

func (h *handler) RegisterShop(w http.ResponseWriter, r *http.Request) {
	var req ShopJSONRequest
	if !h.decode(w, r, &req) {
		return
	}
	shop, err := h.services.Partner.RegisterShop(r.Context(), actor(r), req.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, shop)
}

type OpenJSONRequest struct {
	Open bool `json:"open"`
}

func (h *handler) PutShopOpen(w http.ResponseWriter, r *http.Request) {
	var req OpenJSONRequest
	if !h.decode(w, r, &req) {
		return
	}
	shop, err := h.services.Partner.SetShopOpen(r.Context(), actor(r), chi.URLParam(r, "id"), req.Open)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, shop)
}

type VerifyJSONRequest struct {
	Verified bool `json:"verified"`
}

func (h *handler) PutShopVerified(w http.ResponseWriter, r *http.Request) {
	var req VerifyJSONRequest
	if !h.decode(w, r, &req) {
		return
	}
	shop, err := h.services.Partner.VerifyShop(r.Context(), actor(r), chi.URLParam(r, "id"), req.Verified)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, shop)
}

type CommissionJSONRequest struct {
	Rate decimal.Decimal `json:"rate"`
}

func (h *handler) PutShopCommission(w http.ResponseWriter, r *http.Request) {
	var req CommissionJSONRequest
	if !h.decode(w, r, &req) {
		return
	}
	shop, err := h.services.Partner.SetCommissionRate(r.Context(), actor(r), chi.URLParam(r, "id"), req.Rate)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, shop)
}

// Расчеты

func (h *handler) GetShopBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.services.Ledger.Shop(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, balance)
}

func (h *handler) GetCourierBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.services.Ledger.Courier(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, balance)
}

func (h *handler) GetShopBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.services.Ledger.Shops(r.Context(), actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, balances)
}

func (h *handler) GetCourierBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.services.Ledger.Couriers(r.Context(), actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, balances)
}

func (h *handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.services.Ledger.Summary(r.Context(), actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// GetReport: ?period=today|week|month|day|range&basis=created|delivered&day=2026-10-01&from=...&to=...
func (h *handler) GetReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	window := ledger.Window{
		Period: ledger.Period(q.Get("period")),
		Basis:  ledger.Basis(q.Get("basis")),
	}
	var err error
	if v := q.Get("day"); v != "" {
		if window.Day, err = time.ParseInLocation(time.DateOnly, v, time.Local); err != nil {
			h.writeError(w, model.ErrInvalidRequest)
			return
		}
	}
	if v := q.Get("from"); v != "" {
		if window.From, err = time.Parse(time.RFC3339, v); err != nil {
			h.writeError(w, model.ErrInvalidRequest)
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if window.To, err = time.Parse(time.RFC3339, v); err != nil {
			h.writeError(w, model.ErrInvalidRequest)
			return
		}
	}

	report, err := h.services.Ledger.Report(r.Context(), actor(r), window)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

type SettlementJSONRequest struct {
	Target    model.TargetType `json:"target" validate:"required,oneof=shop courier"`
	TargetID  string           `json:"target_id" validate:"required"`
	Amount    decimal.Decimal  `json:"amount"`
	Reference string           `json:"reference" validate:"max=200"`
}

type SettlementJSON struct {
	ID          string           `json:"id"`
	Target      model.TargetType `json:"target"`
	TargetID    string           `json:"target_id"`
	Amount      decimal.Decimal  `json:"amount"`
	Reference   string           `json:"reference,omitempty"`
	ProcessedAt time.Time        `json:"processed_at"`
}

func settlementJSON(s model.Settlement) SettlementJSON {
	target, id := s.Target()
	return SettlementJSON{
		ID:          s.ID,
		Target:      target,
		TargetID:    id,
		Amount:      s.Amount,
		Reference:   s.Reference,
		ProcessedAt: s.ProcessedAt,
	}
}

func (h *handler) PostSettlement(w http.ResponseWriter, r *http.Request) {
	var req SettlementJSONRequest
	if !h.decode(w, r, &req) {
		return
	}
	settlement, err := h.services.Ledger.RecordSettlement(r.Context(), actor(r), req.Target, req.TargetID, req.Amount, req.Reference)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, settlementJSON(settlement))
}

func (h *handler) getSettlements(w http.ResponseWriter, r *http.Request, target model.TargetType) {
	settlements, err := h.services.Ledger.Settlements(r.Context(), actor(r), target, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]SettlementJSON, 0, len(settlements))
	for _, s := range settlements {
		out = append(out, settlementJSON(s))
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *handler) GetShopSettlements(w http.ResponseWriter, r *http.Request) {
	h.getSettlements(w, r, model.TargetShop)
}

func (h *handler) GetCourierSettlements(w http.ResponseWriter, r *http.Request) {
	h.getSettlements(w, r, model.TargetCourier)
}
