package web

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mpesa-payment-core/internal/infra/logging"
	"mpesa-payment-core/internal/usecase"
)

type initiateRequest struct {
	Tier           string `json:"tier"`
	Seats          int    `json:"seats"`
	OrganizationID string `json:"organization_id"`
	PhoneNumber    string `json:"phone_number"`
}

type verifyRequest struct {
	CheckoutRequestID string `json:"checkout_request_id"`
	MaxAttempts       int    `json:"max_attempts"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result := s.flowUC.Initiate(ctx, usecase.InitiateRequest{
		UserID:         UserIDFrom(ctx),
		Tier:           usecase.Tier(req.Tier),
		Seats:          req.Seats,
		OrganizationID: req.OrganizationID,
		PhoneNumber:    req.PhoneNumber,
	})

	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.CheckoutRequestID == "" {
		http.Error(w, "checkout_request_id is required", http.StatusBadRequest)
		return
	}

	result := s.flowUC.Verify(ctx, req.CheckoutRequestID, UserIDFrom(ctx), s.verifyAttempts(req.MaxAttempts))
	status := http.StatusOK
	if result.NotFound {
		status = http.StatusNotFound
	}
	writeJSON(w, status, result)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	t, err := s.flowUC.GetPendingPayment(ctx, UserIDFrom(ctx))
	if err != nil {
		http.Error(w, "Failed to load pending payment", http.StatusInternalServerError)
		return
	}
	if t == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"pending": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pending":             true,
		"checkout_request_id": t.CheckoutRequestID,
		"amount":              t.Amount,
		"type":                t.Type,
		"transaction_date":    t.TransactionDate,
	})
}

// darajaCallback is the provider's STK result push. We acknowledge
// unconditionally and reconcile through our own status query rather than
// trusting the callback payload.
type darajaCallback struct {
	Body struct {
		StkCallback struct {
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

func (s *Server) handleDarajaWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.With(ctx, s.log)

	var cb darajaCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		log.Warn().Err(err).Msg("undecodable daraja callback")
		writeJSON(w, http.StatusOK, map[string]interface{}{"ResultCode": 0, "ResultDesc": "Accepted"})
		return
	}

	id := cb.Body.StkCallback.CheckoutRequestID
	if id != "" {
		result := s.flowUC.Reconcile(ctx, id)
		log.Info().
			Str("checkout_request_id", id).
			Int("callback_result_code", cb.Body.StkCallback.ResultCode).
			Bool("success", result.Success).
			Msg("daraja callback reconciled")
	}

	// Daraja expects this shape; any other response triggers callback retries.
	writeJSON(w, http.StatusOK, map[string]interface{}{"ResultCode": 0, "ResultDesc": "Accepted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// ===== Pay-per-download (session guard) =====

type documentPaymentRequest struct {
	CheckoutRequestID string `json:"checkout_request_id"`
	Amount            int64  `json:"amount"`
}

func (s *Server) handleNewDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docID, err := s.guardUC.ResetForNewDocument(ctx, UserIDFrom(ctx))
	if err != nil {
		http.Error(w, "Failed to start document session", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"document_id": docID})
}

func (s *Server) handleRecordDocumentPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req documentPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.CheckoutRequestID == "" {
		http.Error(w, "checkout_request_id is required", http.StatusBadRequest)
		return
	}

	if err := s.guardUC.RecordInitiation(ctx, UserIDFrom(ctx), req.CheckoutRequestID, req.Amount); err != nil {
		http.Error(w, "Failed to record payment", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"recorded": true})
}

func (s *Server) handleVerifyDocumentPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.CheckoutRequestID == "" {
		http.Error(w, "checkout_request_id is required", http.StatusBadRequest)
		return
	}

	result := s.flowUC.Verify(ctx, req.CheckoutRequestID, UserIDFrom(ctx), s.verifyAttempts(req.MaxAttempts))
	if result.Success {
		if err := s.guardUC.MarkVerified(ctx, UserIDFrom(ctx)); err != nil {
			logging.With(ctx, s.log).Warn().Err(err).Msg("mark session payment verified")
		}
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docID := chi.URLParam(r, "documentID")

	decision, err := s.guardUC.AuthorizeAction(ctx, UserIDFrom(ctx), docID)
	if err != nil {
		http.Error(w, "Failed to authorize download", http.StatusInternalServerError)
		return
	}
	if !decision.Allowed {
		writeJSON(w, http.StatusPaymentRequired, decision)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}
