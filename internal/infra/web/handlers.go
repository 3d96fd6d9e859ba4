package web

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"vpn-subscription-shop/internal/domain"
	"vpn-subscription-shop/internal/domain/model"
)

const maxBodyBytes = 64 << 10

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// ---- public DTOs ----

type planView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	DataLimitGB  int    `json:"data_limit_gb"`
	DurationDays int    `json:"duration_days"`
	PriceIRR     int64  `json:"price_irr"`
}

type orderView struct {
	OrderRef        string `json:"order_ref"`
	Status          string `json:"status"`
	PlanID          string `json:"plan_id"`
	AmountIRR       int64  `json:"amount_irr"`
	Method          string `json:"method"`
	SubscriptionURL string `json:"subscription_url,omitempty"`
	PanelUsername   string `json:"panel_username,omitempty"`
	ExpireAt        int64  `json:"expire_at,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func toOrderView(s *model.Subscription) orderView {
	v := orderView{
		OrderRef:        s.OrderRef,
		Status:          string(s.Status),
		PlanID:          s.PlanID,
		AmountIRR:       s.AmountIRR,
		Method:          string(s.Method),
		SubscriptionURL: s.SubscriptionURL,
		PanelUsername:   s.PanelUsername,
		CreatedAt:       s.CreatedAt.UTC().Format(time.RFC3339),
	}
	if s.ExpireAt != nil {
		v.ExpireAt = s.ExpireAt.Unix()
	}
	return v
}

// ---- public handlers ----

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.paymentUC.ListPlans(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]planView, 0, len(plans))
	for _, p := range plans {
		out = append(out, planView{ID: p.ID, Name: p.Name, DataLimitGB: p.DataLimitGB, DurationDays: p.DurationDays, PriceIRR: p.PriceIRR})
	}
	writeData(w, http.StatusOK, out)
}

func (s *Server) handlePaymentRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlanID string `json:"plan_id"`
		Mobile string `json:"mobile"`
		Email  string `json:"email"`
		Method string `json:"method"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.PlanID == "" || req.Mobile == "" || req.Method == "" {
		writeError(w, http.StatusBadRequest, "plan_id, mobile and method are required")
		return
	}

	sub, payURL, err := s.paymentUC.Initiate(r.Context(), req.PlanID, req.Mobile, req.Email, model.PaymentMethod(req.Method))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{
		"order_ref":    sub.OrderRef,
		"redirect_url": payURL,
	})
}

func (s *Server) handlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Authority string `json:"authority"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Authority == "" {
		writeError(w, http.StatusBadRequest, "authority is required")
		return
	}

	sub, err := s.reconcile.Confirm(r.Context(), req.Authority)
	if err != nil && sub == nil {
		writeDomainError(w, err)
		return
	}
	// Even a partly failed confirm (e.g. provision_failed) reports the
	// order state; the customer support flow works off the status.
	writeData(w, http.StatusOK, toOrderView(sub))
}

func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderRef string `json:"order_ref"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.OrderRef == "" {
		writeError(w, http.StatusBadRequest, "order_ref is required")
		return
	}
	sub, err := s.paymentUC.FindByOrderRef(r.Context(), req.OrderRef)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, toOrderView(sub))
}

// ---- admin handlers ----

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if !decode(w, r, &req) {
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.Password), []byte(s.adminPassword)) != 1 {
		writeError(w, http.StatusUnauthorized, "wrong password")
		return
	}
	token, err := s.auth.Mint(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeData(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleAdminLogout(w http.ResponseWriter, r *http.Request) {
	s.auth.Clear(w)
	writeData(w, http.StatusOK, nil)
}

func (s *Server) handleAdminOrders(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
		Offset int    `json:"offset"`
		Limit  int    `json:"limit"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}
	subs, err := s.adminUC.ListByStatus(r.Context(), model.SubscriptionStatus(req.Status), req.Offset, req.Limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]orderView, 0, len(subs))
	for _, sub := range subs {
		out = append(out, toOrderView(sub))
	}
	writeData(w, http.StatusOK, out)
}

func (s *Server) handleAdminDecide(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID       string `json:"id"`
		OrderRef string `json:"order_ref"`
		Decision string `json:"decision"`
	}
	if !decode(w, r, &req) {
		return
	}
	id := req.ID
	if id == "" && req.OrderRef != "" {
		sub, err := s.paymentUC.FindByOrderRef(r.Context(), req.OrderRef)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		id = sub.ID
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "id or order_ref is required")
		return
	}

	sub, err := s.adminUC.Decide(r.Context(), id, model.Decision(req.Decision))
	if err != nil {
		if sub == nil || errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrInvalidArgument) {
			writeDomainError(w, err)
			return
		}
		// Decision recorded but provisioning failed; the order view carries
		// the provision_failed status for the operator to retry.
		s.log.Warn().Str("id", id).Err(err).Msg("decision applied with follow-up error")
	}
	writeData(w, http.StatusOK, toOrderView(sub))
}

func (s *Server) handleAdminRetryProvision(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	sub, err := s.reconcile.RetryProvision(r.Context(), req.ID)
	if err != nil {
		if sub == nil || errors.Is(err, domain.ErrConflict) {
			writeDomainError(w, err)
			return
		}
		s.log.Warn().Str("id", req.ID).Err(err).Msg("provision retry failed again")
	}
	writeData(w, http.StatusOK, toOrderView(sub))
}

func (s *Server) handleAdminTestUser(w http.ResponseWriter, r *http.Request) {
	acc, err := s.testUserUC.Create(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{
		"panel_username":   acc.Username,
		"subscription_url": acc.SubscriptionURL,
		"expire_at":        acc.ExpireAt,
	})
}

func (s *Server) handleAdminWebhookTest(w http.ResponseWriter, r *http.Request) {
	res := s.webhookSink.Probe(r.Context())
	writeData(w, http.StatusOK, map[string]interface{}{
		"delivered": res.Delivered,
		"last_err":  res.LastErr,
	})
}
