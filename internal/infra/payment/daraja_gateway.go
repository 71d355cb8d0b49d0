package payment

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mpesa-payment-core/internal/config"
	"mpesa-payment-core/internal/domain"
	"mpesa-payment-core/internal/domain/ports/adapter"
	"mpesa-payment-core/internal/infra/logging"
	"mpesa-payment-core/internal/infra/metrics"
	"mpesa-payment-core/internal/infra/security"
)

var _ adapter.PaymentGateway = (*DarajaGateway)(nil)

const (
	countryPrefix       = "254"
	canonicalPhoneLen   = 12
	transactionType     = "CustomerBuyGoodsOnline"
	accountRefMaxLen    = 12
	tokenRefreshMargin  = 60 * time.Second
	referenceCharset    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	initiationErrorMsg  = "Could not initiate payment. Please try again later."
	invalidPhoneMessage = "Invalid phone number. Use format 254XXXXXXXXX or 07XXXXXXXX."
)

// DarajaGateway talks to the Daraja-style STK push provider: OAuth token
// exchange, push-payment requests and status queries.
type DarajaGateway struct {
	cfg    config.DarajaConfig
	client *http.Client
	enc    *security.EncryptionService
	log    *zerolog.Logger
	now    func() time.Time

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewDarajaGateway validates configuration and performs the initial token
// exchange. Config problems fail with domain.ErrConfig; a rejected credential
// exchange fails with domain.ErrAuth. Both are construction-time fatals.
func NewDarajaGateway(ctx context.Context, cfg config.DarajaConfig, enc *security.EncryptionService, logger *zerolog.Logger) (*DarajaGateway, error) {
	if missing := cfg.MissingFields(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrConfig, strings.Join(missing, ", "))
	}
	g := &DarajaGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		enc:    enc,
		log:    logger,
		now:    time.Now,
	}
	if _, err := g.token(ctx); err != nil {
		return nil, err
	}
	logger.Info().Msg("daraja gateway initialized")
	return g, nil
}

func (g *DarajaGateway) Name() string { return "daraja" }

// token returns a cached access token, refreshing it when fewer than 60s of
// validity remain. Single-flight via the mutex.
func (g *DarajaGateway) token(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.accessToken != "" && g.now().Add(tokenRefreshMargin).Before(g.tokenExpiry) {
		return g.accessToken, nil
	}

	url := strings.SplitN(g.cfg.TokenURL, "?", 2)[0] + "?grant_type=client_credentials"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build token request: %v", domain.ErrTransport, err)
	}
	req.SetBasicAuth(g.cfg.ConsumerKey, g.cfg.ConsumerSecret)
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token exchange: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token endpoint returned %d", domain.ErrAuth, resp.StatusCode)
	}
	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode token response: %v", domain.ErrAuth, err)
	}
	// A missing field or an implausibly short value means the credentials
	// are wrong even if the endpoint answered 200.
	if len(out.AccessToken) < 10 {
		return "", fmt.Errorf("%w: no usable access token in response", domain.ErrAuth)
	}

	ttl := time.Hour
	if out.ExpiresIn != "" {
		if d, err := time.ParseDuration(out.ExpiresIn + "s"); err == nil && d > 0 {
			ttl = d
		}
	}
	g.accessToken = out.AccessToken
	g.tokenExpiry = g.now().Add(ttl)
	g.log.Debug().Time("expiry", g.tokenExpiry).Msg("access token refreshed")
	return g.accessToken, nil
}

// SanitizePhoneNumber strips non-digits and normalizes local formats to the
// canonical 254-prefixed 12-digit form.
func (g *DarajaGateway) SanitizePhoneNumber(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case strings.HasPrefix(digits, "0"):
		digits = countryPrefix + digits[1:]
	case len(digits) == 9:
		// Bare subscriber number, e.g. 712345678.
		digits = countryPrefix + digits
	}

	if !strings.HasPrefix(digits, countryPrefix) || len(digits) != canonicalPhoneLen {
		return "", fmt.Errorf("%w: phone number does not normalize to %s-prefixed %d digits", domain.ErrValidation, countryPrefix, canonicalPhoneLen)
	}
	return digits, nil
}

// password builds the provider password for a request timestamp:
// base64(shortcode + passkey + timestamp).
func (g *DarajaGateway) password(ts time.Time) (password, timestamp string) {
	timestamp = ts.Format("20060102150405")
	password = base64.StdEncoding.EncodeToString([]byte(g.cfg.Shortcode + g.cfg.Passkey + timestamp))
	return password, timestamp
}

// GenerateAccountReference produces a time-prefixed random reference for the
// gateway correlation field.
func (g *DarajaGateway) GenerateAccountReference(length int) string {
	if length <= 0 || length > accountRefMaxLen {
		length = accountRefMaxLen
	}
	ts := fmt.Sprintf("%d", g.now().Unix())
	prefix := ts[len(ts)-4:]
	var b strings.Builder
	b.WriteString(prefix)
	for b.Len() < length {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(referenceCharset))))
		if err != nil {
			b.WriteByte('0')
			continue
		}
		b.WriteByte(referenceCharset[n.Int64()])
	}
	return b.String()[:length]
}

type stkPushPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// InitiateSTKPush sends the push-payment request. All failure modes are
// folded into a structured error response so the UI can present one uniform
// message; nothing is raised.
func (g *DarajaGateway) InitiateSTKPush(ctx context.Context, phoneNumber string, amount int64, description, accountReference string) *adapter.STKPushResponse {
	sanitized, err := g.SanitizePhoneNumber(phoneNumber)
	if err != nil {
		g.log.Warn().Err(err).Msg("stk push rejected: invalid phone number")
		return &adapter.STKPushResponse{ResponseCode: "1", ErrorMessage: invalidPhoneMessage}
	}

	if accountReference == "" {
		accountReference = g.GenerateAccountReference(accountRefMaxLen)
	}
	if len(accountReference) > accountRefMaxLen {
		accountReference = accountReference[:accountRefMaxLen]
	}

	// The phone number and reference live encrypted while the request is
	// being assembled; only the wire payload sees plaintext, and the logs
	// see a hash plus a masked suffix.
	encPhone, err := g.enc.Encrypt(sanitized)
	if err != nil {
		g.log.Error().Err(err).Msg("stk push: encrypt phone")
		return &adapter.STKPushResponse{ResponseCode: "1", ErrorMessage: initiationErrorMsg}
	}
	encRef, err := g.enc.Encrypt(accountReference)
	if err != nil {
		g.log.Error().Err(err).Msg("stk push: encrypt account reference")
		return &adapter.STKPushResponse{ResponseCode: "1", ErrorMessage: initiationErrorMsg}
	}
	phoneHash := g.enc.Hash(sanitized)

	token, err := g.token(ctx)
	if err != nil {
		g.log.Error().Err(err).Str("phone_hash", phoneHash).Msg("stk push: access token")
		metrics.IncGatewayRequest("stk_push", "auth_error")
		return &adapter.STKPushResponse{ResponseCode: "1", ErrorMessage: initiationErrorMsg}
	}

	wirePhone, err := g.enc.Decrypt(encPhone)
	if err != nil {
		return &adapter.STKPushResponse{ResponseCode: "1", ErrorMessage: initiationErrorMsg}
	}
	wireRef, err := g.enc.Decrypt(encRef)
	if err != nil {
		return &adapter.STKPushResponse{ResponseCode: "1", ErrorMessage: initiationErrorMsg}
	}

	password, timestamp := g.password(g.now())
	payload := stkPushPayload{
		BusinessShortCode: g.cfg.Shortcode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   transactionType,
		Amount:            amount,
		PartyA:            wirePhone,
		PartyB:            g.cfg.TillNumber,
		PhoneNumber:       wirePhone,
		CallBackURL:       g.cfg.CallbackURL,
		AccountReference:  wireRef,
		TransactionDesc:   description,
	}

	g.log.Info().
		Str("phone_hash", phoneHash).
		Str("phone", logging.MaskPhone(wirePhone)).
		Int64("amount", amount).
		Str("account_reference", logging.Redact(wireRef, false)).
		Msg("stk push request")

	body, err := json.Marshal(payload)
	if err != nil {
		return &adapter.STKPushResponse{ResponseCode: "1", ErrorMessage: initiationErrorMsg}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.SplitN(g.cfg.STKPushURL, "?", 2)[0], bytes.NewReader(body))
	if err != nil {
		return &adapter.STKPushResponse{ResponseCode: "1", ErrorMessage: initiationErrorMsg}
	}
	g.setJSONHeaders(req, token)
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := g.client.Do(req)
	if err != nil {
		g.log.Error().Err(err).Str("phone_hash", phoneHash).Msg("stk push: transport")
		metrics.IncGatewayRequest("stk_push", "transport_error")
		return &adapter.STKPushResponse{ResponseCode: "1", ErrorMessage: initiationErrorMsg}
	}
	defer resp.Body.Close()

	var out struct {
		ResponseCode      string `json:"ResponseCode"`
		CheckoutRequestID string `json:"CheckoutRequestID"`
		CustomerMessage   string `json:"CustomerMessage"`
		ErrorMessage      string `json:"errorMessage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		g.log.Error().Err(err).Str("phone_hash", phoneHash).Msg("stk push: decode response")
		metrics.IncGatewayRequest("stk_push", "parse_error")
		return &adapter.STKPushResponse{ResponseCode: "1", ErrorMessage: initiationErrorMsg}
	}

	result := &adapter.STKPushResponse{
		ResponseCode:      out.ResponseCode,
		CheckoutRequestID: out.CheckoutRequestID,
		CustomerMessage:   out.CustomerMessage,
		ErrorMessage:      out.ErrorMessage,
	}
	if result.OK() {
		metrics.IncGatewayRequest("stk_push", "accepted")
	} else {
		metrics.IncGatewayRequest("stk_push", "rejected")
	}
	g.log.Info().
		Str("phone_hash", phoneHash).
		Str("response_code", out.ResponseCode).
		Str("checkout_request_id", out.CheckoutRequestID).
		Msg("stk push response")
	return result
}

// QueryStatus polls the status-query endpoint for one checkout request.
// Transport problems surface as domain.ErrTransport so the verification loop
// can treat the attempt as "still pending" and retry.
func (g *DarajaGateway) QueryStatus(ctx context.Context, checkoutRequestID string) (*adapter.STKQueryResponse, error) {
	requestHash := g.enc.Hash(checkoutRequestID)

	token, err := g.token(ctx)
	if err != nil {
		return nil, err
	}

	password, timestamp := g.password(g.now())
	body, err := json.Marshal(map[string]string{
		"BusinessShortCode": g.cfg.Shortcode,
		"Password":          password,
		"Timestamp":         timestamp,
		"CheckoutRequestID": checkoutRequestID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal query: %v", domain.ErrTransport, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.SplitN(g.cfg.QueryURL, "?", 2)[0], bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build query request: %v", domain.ErrTransport, err)
	}
	g.setJSONHeaders(req, token)

	resp, err := g.client.Do(req)
	if err != nil {
		metrics.IncGatewayRequest("stk_query", "transport_error")
		return nil, fmt.Errorf("%w: status query: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	var out struct {
		ResultCode         string `json:"ResultCode"`
		ResultDesc         string `json:"ResultDesc"`
		MpesaReceiptNumber string `json:"MpesaReceiptNumber"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		metrics.IncGatewayRequest("stk_query", "parse_error")
		return nil, fmt.Errorf("%w: decode query response: %v", domain.ErrTransport, err)
	}

	metrics.IncGatewayRequest("stk_query", "ok")
	g.log.Info().
		Str("request_id_hash", requestHash).
		Str("result_code", out.ResultCode).
		Msg("stk query response")
	return &adapter.STKQueryResponse{
		ResultCode:    out.ResultCode,
		ResultDesc:    out.ResultDesc,
		ReceiptNumber: out.MpesaReceiptNumber,
	}, nil
}

func (g *DarajaGateway) setJSONHeaders(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}
