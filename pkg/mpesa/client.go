package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	pushPath  = "/mpesa/stkpush/v1/processrequest"

	transactionTypePayBill = "CustomerPayBillOnline"
	timestampLayout        = "20060102150405"

	// Tokens are refreshed this long before the gateway says they expire.
	tokenExpirySkew = 60 * time.Second
	// Daraja truncates references past this length.
	maxAccountReference = 12
)

// ErrToken marks failures while exchanging credentials for an access token.
var ErrToken = errors.New("mpesa: access token request failed")

// gatewayZone is the timezone the gateway expects push timestamps in (EAT, no DST).
var gatewayZone = time.FixedZone("EAT", 3*60*60)

// Config holds the gateway credentials and endpoints.
type Config struct {
	BaseURL          string
	ConsumerKey      string
	ConsumerSecret   string
	ShortCode        string
	Passkey          string
	CallbackURL      string
	AccountReference string
	Timeout          time.Duration
}

// APIError is a non-success answer from the gateway.
type APIError struct {
	Op         string // "token" or "stkpush"
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("mpesa %s: status %d: %s (%s)", e.Op, e.StatusCode, e.Message, e.Code)
	}
	return fmt.Sprintf("mpesa %s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

// PushRequest is one STK push attempt.
type PushRequest struct {
	Amount           int64
	PhoneNumber      string
	AccountReference string
	Description      string
}

// PushResponse is the gateway's acceptance of a push request.
type PushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

type errorResponse struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

type pushPayload struct {
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

// Client talks to the gateway. It caches the access token until shortly before expiry
// and re-acquires it on demand otherwise.
type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewClient creates a new gateway client. A zero timeout defaults to 30 seconds.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		now:  time.Now,
	}
}

// Configured reports whether credentials and a short code are present.
func (c *Client) Configured() bool {
	return c.cfg.BaseURL != "" && c.cfg.ConsumerKey != "" && c.cfg.ConsumerSecret != "" &&
		c.cfg.ShortCode != "" && c.cfg.Passkey != ""
}

// Token returns a bearer token, reusing the cached one while it is still fresh.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expiresAt) {
		return c.token, nil
	}

	token, ttl, err := c.fetchToken(ctx)
	if err != nil {
		c.token = ""
		return "", err
	}
	c.token = token
	c.expiresAt = c.now().Add(ttl - tokenExpirySkew)
	return token, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func (c *Client) fetchToken(ctx context.Context) (string, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrToken, err)
	}
	credentials := base64.StdEncoding.EncodeToString([]byte(c.cfg.ConsumerKey + ":" + c.cfg.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+credentials)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrToken, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("%w: read body: %w", ErrToken, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("%w: %w", ErrToken, decodeAPIError("token", resp.StatusCode, body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", 0, fmt.Errorf("%w: decode body: %w", ErrToken, err)
	}
	if tr.AccessToken == "" {
		return "", 0, fmt.Errorf("%w: empty access token", ErrToken)
	}

	ttl := time.Hour
	if secs, err := strconv.Atoi(tr.ExpiresIn); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	return tr.AccessToken, ttl, nil
}

// STKPush asks the gateway to prompt the customer's phone for payment.
func (c *Client) STKPush(ctx context.Context, pr PushRequest) (*PushResponse, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := Timestamp(c.now())
	reference := pr.AccountReference
	if reference == "" {
		reference = c.cfg.AccountReference
	}
	if len(reference) > maxAccountReference {
		reference = reference[:maxAccountReference]
	}

	payload := pushPayload{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.Passkey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   transactionTypePayBill,
		Amount:            pr.Amount,
		PartyA:            pr.PhoneNumber,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       pr.PhoneNumber,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  reference,
		TransactionDesc:   pr.Description,
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("mpesa stkpush: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+pushPath, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("mpesa stkpush: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mpesa stkpush: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mpesa stkpush: read body: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.invalidateToken()
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError("stkpush", resp.StatusCode, body)
	}

	var pushResp PushResponse
	if err := json.Unmarshal(body, &pushResp); err != nil {
		return nil, fmt.Errorf("mpesa stkpush: decode body: %w", err)
	}
	if pushResp.ResponseCode != "0" {
		return nil, &APIError{
			Op:         "stkpush",
			StatusCode: resp.StatusCode,
			Code:       pushResp.ResponseCode,
			Message:    pushResp.ResponseDescription,
		}
	}
	if pushResp.CheckoutRequestID == "" {
		return nil, &APIError{Op: "stkpush", StatusCode: resp.StatusCode, Message: "missing CheckoutRequestID"}
	}
	return &pushResp, nil
}

// Password derives the per-request push password from the short code, passkey and timestamp.
func Password(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}

// Timestamp formats t the way the gateway expects.
func Timestamp(t time.Time) string {
	return t.In(gatewayZone).Format(timestampLayout)
}

func decodeAPIError(op string, status int, body []byte) *APIError {
	apiErr := &APIError{Op: op, StatusCode: status}
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.ErrorMessage != "" {
		apiErr.Code = er.ErrorCode
		apiErr.Message = er.ErrorMessage
		return apiErr
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	apiErr.Message = msg
	return apiErr
}
