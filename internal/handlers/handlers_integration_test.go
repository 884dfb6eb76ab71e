package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"mpesa-orders/internal/handlers"
	"mpesa-orders/internal/metrics"
	"mpesa-orders/internal/middleware"
	"mpesa-orders/internal/models"
	"mpesa-orders/internal/repositories"
	"mpesa-orders/internal/services"
	"mpesa-orders/pkg/mailer"
	"mpesa-orders/pkg/mpesa"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const testJWTSecret = "test_jwt_secret"

// fakeDaraja stands in for the payment gateway.
type fakeDaraja struct {
	pushCalls  atomic.Int32
	checkoutID string
	pushStatus int
	pushBody   string
}

func (f *fakeDaraja) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"tok-test","expires_in":"3599"}`))
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		f.pushCalls.Add(1)
		if f.pushStatus != 0 {
			w.WriteHeader(f.pushStatus)
			_, _ = w.Write([]byte(f.pushBody))
			return
		}
		fmt.Fprintf(w, `{"MerchantRequestID":"29115-1","CheckoutRequestID":%q,"ResponseCode":"0","ResponseDescription":"Success. Request accepted for processing","CustomerMessage":"Success. Request accepted for processing"}`, f.checkoutID)
	})
	return mux
}

type testEnv struct {
	app     *fiber.App
	store   *repositories.Store
	pool    *services.WorkerPool
	auth    *services.AuthService
	gateway *fakeDaraja
}

// setupApp builds the Fiber app over an in-memory SQLite database and a fake gateway.
func setupApp(t *testing.T) *testEnv {
	t.Helper()
	log := zap.NewNop()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// Workers write notifications while requests write orders.
	sqlDB.SetMaxOpenConns(1)
	store, err := repositories.NewGORMStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	gw := &fakeDaraja{checkoutID: "ws_CO_E2E"}
	srv := httptest.NewServer(gw.handler())
	t.Cleanup(srv.Close)
	client := mpesa.NewClient(mpesa.Config{
		BaseURL:        srv.URL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		Passkey:        "passkey",
		CallbackURL:    "https://example.com/payments/callback",
		Timeout:        2 * time.Second,
	})

	m := metrics.NewRegistry()
	pool := services.NewWorkerPool(64, 2, m, log)
	t.Cleanup(pool.Close)

	notificationService := services.NewNotificationService(store.Notifications, nil, pool, log)
	emailService := services.NewEmailService(mailer.NewLogSender(log), "ops@example.com")
	orderService := services.NewOrderService(store.Orders, notificationService, m, log)
	paymentService := services.NewPaymentService(store.Orders, client, notificationService, emailService, pool,
		services.PaymentConfig{LookupAttempts: 1}, m, log)
	authService := services.NewAuthService(store.Users, testJWTSecret, log)

	app := fiber.New()
	app.Use(middleware.RequestLogger(log))
	auth := middleware.AuthRequired(authService, log)

	handlers.NewHealthHandler(store, nil, client).RegisterRoutes(app)
	handlers.NewAuthHandler(authService, log).RegisterRoutes(app)
	handlers.NewOrderHandler(orderService, log).RegisterRoutes(app, auth)
	handlers.NewPaymentHandler(paymentService, m, log).RegisterRoutes(app)
	handlers.NewNotificationHandler(notificationService, log).RegisterRoutes(app, auth)

	return &testEnv{app: app, store: store, pool: pool, auth: authService, gateway: gw}
}

type envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors"`
	Data    json.RawMessage   `json:"data"`
}

type ackBody struct {
	ResultCode int    `json:"resultCode"`
	ResultDesc string `json:"resultDesc"`
}

func (e *testEnv) do(t *testing.T, method, path, body, token string) (int, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, buf.Bytes()
}

func (e *testEnv) decode(t *testing.T, raw []byte) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	return env
}

func (e *testEnv) getOrder(t *testing.T, id string) models.Order {
	t.Helper()
	status, raw := e.do(t, http.MethodGet, "/orders/"+id, "", "")
	require.Equal(t, http.StatusOK, status, string(raw))
	var order models.Order
	require.NoError(t, json.Unmarshal(e.decode(t, raw).Data, &order))
	return order
}

func (e *testEnv) createOrder(t *testing.T) models.Order {
	t.Helper()
	status, raw := e.do(t, http.MethodPost, "/orders", `{
		"items": [{"name": "Gas refill 13kg", "price": 1500, "quantity": 1}],
		"total": 1500,
		"customerInfo": {"name": "Achieng Odhiambo", "phone": "0712345678", "address": "Ngong Road, Nairobi", "email": "achieng@example.com"},
		"paymentMethod": "mpesa"
	}`, "")
	require.Equal(t, http.StatusCreated, status, string(raw))
	env := e.decode(t, raw)
	assert.True(t, env.Success)
	var order models.Order
	require.NoError(t, json.Unmarshal(env.Data, &order))
	return order
}

func successCallback(checkoutID string) string {
	return fmt.Sprintf(`{"Body":{"stkCallback":{
		"MerchantRequestID":"29115-1",
		"CheckoutRequestID":%q,
		"ResultCode":0,
		"ResultDesc":"The service request is processed successfully.",
		"CallbackMetadata":{"Item":[
			{"Name":"MpesaReceiptNumber","Value":"ABC123"},
			{"Name":"Amount","Value":1500},
			{"Name":"PhoneNumber","Value":254712345678}
		]}}}}`, checkoutID)
}

func (e *testEnv) callback(t *testing.T, body string) ackBody {
	t.Helper()
	status, raw := e.do(t, http.MethodPost, "/payments/callback", body, "")
	require.Equal(t, http.StatusOK, status)
	var ack ackBody
	require.NoError(t, json.Unmarshal(raw, &ack), string(raw))
	return ack
}

func TestOrderPaymentFlow(t *testing.T) {
	e := setupApp(t)

	order := e.createOrder(t)
	assert.Equal(t, models.StatusPending, order.Status)
	assert.Equal(t, "254712345678", order.CustomerInfo.Phone)

	status, raw := e.do(t, http.MethodPost, "/payments/push",
		fmt.Sprintf(`{"phoneNumber":"0712345678","amount":1500,"orderId":%q}`, order.ID), "")
	require.Equal(t, http.StatusOK, status, string(raw))
	var push services.PushResult
	require.NoError(t, json.Unmarshal(e.decode(t, raw).Data, &push))
	assert.Equal(t, "ws_CO_E2E", push.CheckoutRequestID)

	pending := e.getOrder(t, order.ID)
	assert.Equal(t, models.StatusPaymentPending, pending.Status)
	require.NotNil(t, pending.PaymentReference)
	assert.Equal(t, "ws_CO_E2E", *pending.PaymentReference)

	ack := e.callback(t, successCallback("ws_CO_E2E"))
	assert.Equal(t, 0, ack.ResultCode)

	paid := e.getOrder(t, order.ID)
	assert.Equal(t, models.StatusPaid, paid.Status)
	assert.Equal(t, "ABC123", paid.PaymentDetails.ReceiptNumber)
	assert.Equal(t, "1500", paid.PaymentDetails.Amount)
	assert.Equal(t, "254712345678", paid.PaymentDetails.PhoneNumber)
	require.NotNil(t, paid.PaymentDetails.CompletedAt)

	// Redelivery is acknowledged and changes nothing.
	e.pool.Flush()
	before, err := e.store.Notifications.CountByOrder(testContext(t), order.ID)
	require.NoError(t, err)
	ack = e.callback(t, successCallback("ws_CO_E2E"))
	assert.Equal(t, 0, ack.ResultCode)
	e.pool.Flush()
	after, err := e.store.Notifications.CountByOrder(testContext(t), order.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, paid.PaymentDetails.CompletedAt.Unix(), e.getOrder(t, order.ID).PaymentDetails.CompletedAt.Unix())
}

func TestFailedPaymentFlow(t *testing.T) {
	e := setupApp(t)
	e.gateway.checkoutID = "ws_CO_CANCEL"
	order := e.createOrder(t)

	status, raw := e.do(t, http.MethodPost, "/payments/push",
		fmt.Sprintf(`{"phoneNumber":"+254712345678","amount":1500,"orderId":%q}`, order.ID), "")
	require.Equal(t, http.StatusOK, status, string(raw))

	ack := e.callback(t, `{"Body":{"stkCallback":{"MerchantRequestID":"29115-1","CheckoutRequestID":"ws_CO_CANCEL","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`)
	assert.Equal(t, 0, ack.ResultCode)

	failed := e.getOrder(t, order.ID)
	assert.Equal(t, models.StatusPaymentFailed, failed.Status)
	assert.Equal(t, "Request cancelled by user", failed.PaymentDetails.Reason)
	assert.NotNil(t, failed.PaymentDetails.FailedAt)
}

func TestCreateOrderValidation(t *testing.T) {
	e := setupApp(t)

	cases := map[string]string{
		"empty items":      `{"items":[],"total":100,"customerInfo":{"name":"A","phone":"0712345678","address":"B"},"paymentMethod":"mpesa"}`,
		"zero total":       `{"items":[{"name":"x","price":1,"quantity":1}],"total":0,"customerInfo":{"name":"A","phone":"0712345678","address":"B"},"paymentMethod":"mpesa"}`,
		"missing customer": `{"items":[{"name":"x","price":1,"quantity":1}],"total":1,"customerInfo":{},"paymentMethod":"mpesa"}`,
		"bad phone":        `{"items":[{"name":"x","price":1,"quantity":1}],"total":1,"customerInfo":{"name":"A","phone":"123","address":"B"},"paymentMethod":"mpesa"}`,
		"not json":         `{"items":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			status, raw := e.do(t, http.MethodPost, "/orders", body, "")
			assert.Equal(t, http.StatusBadRequest, status, string(raw))
			env := e.decode(t, raw)
			assert.False(t, env.Success)
			assert.NotEmpty(t, env.Message)
		})
	}

	orders, err := e.store.Orders.GetAll(testContext(t), models.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestGetOrder_NotFound(t *testing.T) {
	e := setupApp(t)
	status, raw := e.do(t, http.MethodGet, "/orders/"+uuid.NewString(), "", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.False(t, e.decode(t, raw).Success)
}

func TestPushPayment_Errors(t *testing.T) {
	e := setupApp(t)
	order := e.createOrder(t)

	status, _ := e.do(t, http.MethodPost, "/payments/push",
		`{"phoneNumber":"0712345678","amount":1500,"orderId":"missing"}`, "")
	assert.Equal(t, http.StatusNotFound, status)

	status, raw := e.do(t, http.MethodPost, "/payments/push",
		fmt.Sprintf(`{"phoneNumber":"0712","amount":1500,"orderId":%q}`, order.ID), "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, e.decode(t, raw).Errors, "phoneNumber")

	status, raw = e.do(t, http.MethodPost, "/payments/push",
		fmt.Sprintf(`{"phoneNumber":"0712345678","amount":10,"orderId":%q}`, order.ID), "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, e.decode(t, raw).Errors, "amount")
	assert.EqualValues(t, 0, e.gateway.pushCalls.Load())

	e.gateway.pushStatus = http.StatusInternalServerError
	e.gateway.pushBody = `{"requestId":"r-9","errorCode":"500.001.1001","errorMessage":"Unable to lock subscriber"}`
	status, raw = e.do(t, http.MethodPost, "/payments/push",
		fmt.Sprintf(`{"phoneNumber":"0712345678","amount":1500,"orderId":%q}`, order.ID), "")
	assert.Equal(t, http.StatusInternalServerError, status)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, services.RetryHint, body["message"])
	assert.Equal(t, "Unable to lock subscriber", body["error"])

	assert.Equal(t, models.StatusPending, e.getOrder(t, order.ID).Status)
}

func TestCallback_MalformedAndUnmatched(t *testing.T) {
	e := setupApp(t)
	order := e.createOrder(t)

	for _, body := range []string{`not json`, `{}`, `{"Body":{"stkCallback":{"ResultCode":0}}}`} {
		ack := e.callback(t, body)
		assert.Equal(t, 1, ack.ResultCode, body)
	}

	ack := e.callback(t, successCallback("ws_CO_UNKNOWN"))
	assert.Equal(t, 0, ack.ResultCode)
	assert.Equal(t, models.StatusPending, e.getOrder(t, order.ID).Status)
}

func TestOperatorEndpoints(t *testing.T) {
	e := setupApp(t)
	require.NoError(t, e.auth.EnsureOperator(testContext(t), "admin", "admin@example.com", "s3cret-pass"))

	status, _ := e.do(t, http.MethodPost, "/auth/login", `{"username":"admin","password":"nope"}`, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = e.do(t, http.MethodPost, "/auth/login", `{"username":"admin"}`, "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, raw := e.do(t, http.MethodPost, "/auth/login", `{"username":"admin","password":"s3cret-pass"}`, "")
	require.Equal(t, http.StatusOK, status, string(raw))
	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(e.decode(t, raw).Data, &login))
	require.NotEmpty(t, login.Token)

	order := e.createOrder(t)
	e.pool.Flush()

	status, _ = e.do(t, http.MethodGet, "/orders", "", "")
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = e.do(t, http.MethodGet, "/orders", "", "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, raw = e.do(t, http.MethodGet, "/orders?status=pending", "", login.Token)
	require.Equal(t, http.StatusOK, status, string(raw))
	var orders []models.Order
	require.NoError(t, json.Unmarshal(e.decode(t, raw).Data, &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, order.ID, orders[0].ID)

	status, _ = e.do(t, http.MethodGet, "/orders?status=shipped", "", login.Token)
	assert.Equal(t, http.StatusBadRequest, status)

	status, raw = e.do(t, http.MethodGet, "/notifications", "", login.Token)
	require.Equal(t, http.StatusOK, status, string(raw))
	var notes []models.Notification
	require.NoError(t, json.Unmarshal(e.decode(t, raw).Data, &notes))
	require.Len(t, notes, 1)
	assert.Equal(t, order.ID, notes[0].OrderID)
	assert.False(t, notes[0].Read)

	status, _ = e.do(t, http.MethodPatch, "/notifications/"+notes[0].ID+"/read", "", login.Token)
	assert.Equal(t, http.StatusOK, status)
	status, _ = e.do(t, http.MethodPatch, "/notifications/"+uuid.NewString()+"/read", "", login.Token)
	assert.Equal(t, http.StatusNotFound, status)

	status, raw = e.do(t, http.MethodGet, "/notifications?unread=true", "", login.Token)
	require.Equal(t, http.StatusOK, status)
	notes = nil
	require.NoError(t, json.Unmarshal(e.decode(t, raw).Data, &notes))
	assert.Empty(t, notes)
}

func TestHealth(t *testing.T) {
	e := setupApp(t)
	status, raw := e.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(raw), `"status":"healthy"`)
	assert.Contains(t, string(raw), `"gateway":"configured"`)
}

// testContext stands in for testing.T.Context (Go 1.24+): a context that is
// canceled when the test finishes.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
