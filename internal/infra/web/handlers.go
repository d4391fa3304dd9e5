package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"prompt-market-payments/internal/domain"
	"prompt-market-payments/internal/infra/logging"
	"prompt-market-payments/internal/infra/metrics"
	"prompt-market-payments/internal/infra/payment"
	"prompt-market-payments/internal/usecase"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type checkoutRequest struct {
	UserID            string `json:"user_id"`
	PlanID            string `json:"plan_id"`
	IsUpgrade         bool   `json:"is_upgrade"`
	UpgradeFromPlanID string `json:"upgrade_from_plan_id"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	ctx := logging.WithUserID(r.Context(), req.UserID)
	txn, approveURL, err := s.checkoutUC.Initiate(ctx, req.UserID, req.PlanID, req.IsUpgrade, req.UpgradeFromPlanID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrNotFound):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, domain.ErrTokenFetch), errors.Is(err, domain.ErrProviderUnavailable):
			http.Error(w, "Payment provider unavailable", http.StatusBadGateway)
		default:
			logging.With(ctx, s.log).Error().Err(err).Msg("checkout failed")
			http.Error(w, "Failed to initiate checkout", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		TransactionID string `json:"transactionId"`
		OrderID       string `json:"orderId"`
		ApproveURL    string `json:"approveUrl"`
	}{txn.ID, deref(txn.OrderID), approveURL})
}

// verifyRequest accepts identifiers from either the query string or a JSON
// body; query values win when both are present (redirect flows use the query).
type verifyRequest struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	UserID    string `json:"user_id"`
	PlanID    string `json:"plan_id"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req verifyRequest
	if r.Body != nil && r.Method == http.MethodPost {
		body, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				metrics.IncVerifyRequest("fail", "bad_request")
				http.Error(w, "Invalid request body", http.StatusBadRequest)
				return
			}
		}
	}
	q := r.URL.Query()
	if v := q.Get("order_id"); v != "" {
		req.OrderID = v
	}
	// PayPal return URLs carry the order id as "token".
	if req.OrderID == "" {
		req.OrderID = q.Get("token")
	}
	if v := q.Get("payment_id"); v != "" {
		req.PaymentID = v
	}
	if v := q.Get("user_id"); v != "" {
		req.UserID = v
	}
	if v := q.Get("plan_id"); v != "" {
		req.PlanID = v
	}

	ctx := r.Context()
	if req.OrderID != "" {
		ctx = logging.WithOrderID(ctx, req.OrderID)
	}
	if req.UserID != "" {
		ctx = logging.WithUserID(ctx, req.UserID)
	}

	res, err := s.verifyUC.Verify(ctx, usecase.VerifyInput{
		OrderID:   req.OrderID,
		PaymentID: req.PaymentID,
		UserID:    req.UserID,
		PlanID:    req.PlanID,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrMissingIdentifier):
			metrics.IncVerifyRequest("fail", "missing_identifier")
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, domain.ErrTokenFetch):
			metrics.IncVerifyRequest("fail", "token_fetch")
			http.Error(w, "Payment provider authentication failed", http.StatusBadGateway)
		default:
			metrics.IncVerifyRequest("fail", "internal")
			logging.With(ctx, s.log).Error().Err(err).Msg("verify failed")
			http.Error(w, "Verification failed", http.StatusInternalServerError)
		}
		metrics.ObserveVerifyDuration("fail", time.Since(start).Seconds())
		return
	}

	metrics.IncVerifyRequest("ok", "")
	metrics.IncStateResolved(string(res.Status), res.Source)
	metrics.ObserveVerifyDuration("ok", time.Since(start).Seconds())

	// Every determinable outcome is a 200, FAILED included: the HTTP code is
	// reserved for infrastructure failure, the status field is the one
	// authoritative signal for clients.
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if missing := payment.CheckWebhookSignatureHeaders(r.Header); len(missing) > 0 {
		// Soft-fail: webhooks are the fallback confirmation channel; rejecting
		// unsigned deliveries outright would create confirmation gaps.
		metrics.IncWebhookUnsigned()
		logging.With(r.Context(), s.log).Warn().
			Strs("missing_headers", missing).
			Msg("webhook signature headers missing; processing anyway")
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || len(body) == 0 {
		metrics.IncWebhookEvent("", "bad_request")
		http.Error(w, "Empty body", http.StatusBadRequest)
		return
	}
	var evt usecase.IngressEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		metrics.IncWebhookEvent("", "bad_request")
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if evt.EventType == "" || len(evt.Resource) == 0 {
		metrics.IncWebhookEvent(evt.EventType, "bad_request")
		http.Error(w, "Missing event_type or resource", http.StatusBadRequest)
		return
	}

	disposition, err := s.webhookUC.Handle(r.Context(), &evt)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			metrics.IncWebhookEvent(evt.EventType, "bad_request")
			http.Error(w, "Malformed resource", http.StatusBadRequest)
			return
		}
		metrics.IncWebhookEvent(evt.EventType, "error")
		logging.With(r.Context(), s.log).Error().Err(err).Str("event_type", evt.EventType).Msg("webhook handling failed")
		http.Error(w, "Webhook processing failed", http.StatusInternalServerError)
		return
	}

	outcome := "routed"
	if strings.Contains(disposition, "duplicate") {
		outcome = "duplicate"
	} else if strings.Contains(disposition, "not handled") {
		outcome = "ignored"
	}
	metrics.IncWebhookEvent(evt.EventType, outcome)

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(disposition))
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Secret string `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !s.auth.CheckSharedSecret(req.Secret) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	token, err := s.auth.Mint()
	if err != nil {
		http.Error(w, "Failed to mint token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Token string `json:"token"`
	}{token})
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
		PlanID string `json:"planId"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req) // empty body means all users
	}
	rep, err := s.recoveryUC.Recover(r.Context(), req.UserID, req.PlanID)
	if err != nil {
		http.Error(w, "Recovery failed", http.StatusInternalServerError)
		return
	}
	metrics.AddOrphansRecovered(rep.Recovered)
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	rep, err := s.sweepUC.Run(r.Context(), 24*time.Hour, s.sweepBatch)
	if err != nil {
		http.Error(w, "Sweep failed", http.StatusInternalServerError)
		return
	}
	metrics.AddSweepResolution("manual", "captured", rep.Captured)
	metrics.AddSweepResolution("manual", "failed", rep.Failed)
	metrics.AddSweepResolution("manual", "expired", rep.Expired)
	metrics.AddSweepResolution("manual", "skipped", rep.Skipped)
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	txCounts, subCounts, err := s.statsUC.Totals(r.Context())
	if err != nil {
		http.Error(w, "Failed to get totals", http.StatusInternalServerError)
		return
	}
	week, month, year, err := s.statsUC.Revenue(r.Context())
	if err != nil {
		http.Error(w, "Failed to get revenue", http.StatusInternalServerError)
		return
	}

	response := struct {
		Transactions  map[string]int `json:"transactions_by_status"`
		Subscriptions map[string]int `json:"subscriptions_by_status"`
		Revenue       struct {
			Week  int64 `json:"week"`
			Month int64 `json:"month"`
			Year  int64 `json:"year"`
		} `json:"revenue_cents"`
	}{
		Transactions:  map[string]int{},
		Subscriptions: map[string]int{},
	}
	for k, v := range txCounts {
		response.Transactions[string(k)] = v
	}
	for k, v := range subCounts {
		response.Subscriptions[string(k)] = v
	}
	response.Revenue.Week = week
	response.Revenue.Month = month
	response.Revenue.Year = year

	writeJSON(w, http.StatusOK, response)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
