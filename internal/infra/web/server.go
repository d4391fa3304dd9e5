package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"prompt-market-payments/internal/usecase"
)

// Server wires the payment endpoints to the use cases.
type Server struct {
	checkoutUC usecase.CheckoutUseCase
	verifyUC   usecase.VerificationUseCase
	webhookUC  usecase.WebhookUseCase
	recoveryUC usecase.RecoveryUseCase
	sweepUC    usecase.SweepUseCase
	statsUC    usecase.StatsUseCase
	auth       *AuthManager
	sweepBatch int
	log        *zerolog.Logger
}

func NewServer(
	checkoutUC usecase.CheckoutUseCase,
	verifyUC usecase.VerificationUseCase,
	webhookUC usecase.WebhookUseCase,
	recoveryUC usecase.RecoveryUseCase,
	sweepUC usecase.SweepUseCase,
	statsUC usecase.StatsUseCase,
	auth *AuthManager,
	sweepBatch int,
	logger *zerolog.Logger,
) *Server {
	l := logger.With().Str("component", "web").Logger()
	return &Server{
		checkoutUC: checkoutUC,
		verifyUC:   verifyUC,
		webhookUC:  webhookUC,
		recoveryUC: recoveryUC,
		sweepUC:    sweepUC,
		statsUC:    statsUC,
		auth:       auth,
		sweepBatch: sweepBatch,
		log:        &l,
	}
}

// Router builds the chi mux for the whole service.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(TraceID)
	r.Use(RequestLog(s.log))
	r.Use(Recover(s.log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/payments/checkout", s.handleCheckout)
		r.Get("/payments/verify", s.handleVerify)
		r.Post("/payments/verify", s.handleVerify)
		r.Post("/payments/webhook/paypal", s.handleWebhook)

		r.Post("/admin/login", s.handleAdminLogin)
		r.Group(func(r chi.Router) {
			r.Use(s.auth.RequireAdmin)
			r.Post("/admin/recover", s.handleRecover)
			r.Post("/admin/sweep", s.handleSweep)
			r.Get("/admin/stats", s.handleStats)
		})
	})

	return r
}
