package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"mpesa-payment-core/internal/config"
	"mpesa-payment-core/internal/usecase"
)

// Server exposes the payment workflow over HTTP: the authenticated payments
// API, the unauthenticated provider callback, health and metrics.
type Server struct {
	flowUC  usecase.PaymentFlowUseCase
	guardUC usecase.SessionGuardUseCase
	auth    *AuthManager
	cfg     config.HTTPConfig
	verify  config.VerifyConfig
	log     *zerolog.Logger

	httpSrv *http.Server
}

func NewServer(flowUC usecase.PaymentFlowUseCase, guardUC usecase.SessionGuardUseCase, auth *AuthManager, cfg config.HTTPConfig, verify config.VerifyConfig, logger *zerolog.Logger) *Server {
	return &Server{flowUC: flowUC, guardUC: guardUC, auth: auth, cfg: cfg, verify: verify, log: logger}
}

// verifyAttempts clamps the client-requested attempt count to the configured
// polling ceiling; absent or out-of-range values get the ceiling itself.
func (s *Server) verifyAttempts(requested int) int {
	max := s.verify.MaxAttempts
	if max <= 0 {
		max = usecase.DefaultMaxAttempts
	}
	if requested <= 0 || requested > max {
		return max
	}
	return requested
}

// Router builds the chi mux with the ambient middleware chain applied to
// every route and the auth guard on the payments API only.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(TraceID(), Recover(s.log), RequestLog(s.log), Timeout(s.cfg.RequestTimeout))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Post("/webhook/daraja", s.handleDarajaWebhook)

	r.Route("/api/v1/payments", func(r chi.Router) {
		r.Use(Authenticate(s.auth))
		r.Post("/initiate", s.handleInitiate)
		r.Post("/verify", s.handleVerify)
		r.Get("/pending", s.handlePending)
	})

	// Pay-per-download flow: session-scoped payments gating a single
	// document download. The authenticated user id doubles as session key.
	r.Route("/api/v1/documents", func(r chi.Router) {
		r.Use(Authenticate(s.auth))
		r.Post("/new", s.handleNewDocument)
		r.Post("/payment", s.handleRecordDocumentPayment)
		r.Post("/payment/verify", s.handleVerifyDocumentPayment)
		r.Get("/{documentID}/download", s.handleDownload)
	})

	return r
}

// Start runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.httpSrv.Addr).Msg("http server listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}
