package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hardwarestore/pkg/ledger"
	"hardwarestore/pkg/metrics"
	"hardwarestore/pkg/session"
	"hardwarestore/pkg/storage/memory"
)

const adminToken = "let-me-in"

type apiResponse struct {
	Code   int
	Body   map[string]any
	Header http.Header
}

func (r apiResponse) kind() string {
	k, _ := r.Body["kind"].(string)
	return k
}

func (r apiResponse) id(key string) int64 {
	v, _ := r.Body[key].(float64)
	return int64(v)
}

type caller struct {
	t       *testing.T
	handler http.Handler
	token   string
	admin   bool
}

func (c *caller) do(method, path string, body any) apiResponse {
	c.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if c.token != "" {
		req.Header.Set(sessionHeader, c.token)
	}
	if c.admin {
		req.Header.Set(adminHeader, adminToken)
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)

	out := apiResponse{Code: rec.Code, Header: rec.Header()}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), &out.Body))
	}
	return out
}

type testServer struct {
	handler http.Handler
	ledger  *ledger.Ledger
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := memory.Open("", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sessions, err := session.Open(filepath.Join(t.TempDir(), "sessions.db"), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sessions.Close() })

	m := metrics.New()
	l := ledger.New(store, ledger.Options{Recorder: m, Logger: zerolog.Nop()})
	srv, err := New(l, sessions, Options{AdminToken: adminToken, Metrics: m, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return &testServer{handler: srv.Handler(), ledger: l, metrics: m}
}

func (ts *testServer) anonymous(t *testing.T) *caller {
	return &caller{t: t, handler: ts.handler}
}

func (ts *testServer) admin(t *testing.T) *caller {
	return &caller{t: t, handler: ts.handler, admin: true}
}

// seed creates a category, a product with one lot of the given size and a client.
func seed(t *testing.T, admin *caller, stock int) (productID, clientID int64) {
	t.Helper()
	res := admin.do(http.MethodPost, "/api/admin/categories", map[string]any{"category_name": "Tools"})
	require.Equal(t, http.StatusCreated, res.Code, res.Body)
	categoryID := res.id("category_id")

	res = admin.do(http.MethodPost, "/api/admin/products", map[string]any{
		"product_name":       "Hammer",
		"price":              "25.50",
		"category_id":        categoryID,
		"refund_possibility": "yes",
	})
	require.Equal(t, http.StatusCreated, res.Code, res.Body)
	productID = res.id("product_id")

	res = admin.do(http.MethodPost, "/api/admin/inventory/shipment", map[string]any{
		"product_id":              productID,
		"quantity_current":        stock,
		"quantity_in_transit":     0,
		"product_date_of_receipt": "2024-03-01",
		"purchase_price":          "12.00",
	})
	require.Equal(t, http.StatusCreated, res.Code, res.Body)

	res = admin.do(http.MethodPost, "/api/admin/clients", map[string]any{
		"client_fio":   "Ivan Petrov",
		"client_phone": "+100",
		"login":        "ivan",
		"password":     "secret",
	})
	require.Equal(t, http.StatusCreated, res.Code, res.Body)
	return productID, res.id("client_id")
}

func login(t *testing.T, c *caller, role, user, password string) {
	t.Helper()
	res := c.do(http.MethodPost, "/api/login/"+role, map[string]any{"login": user, "password": password})
	require.Equal(t, http.StatusOK, res.Code, res.Body)
	token, _ := res.Body["token"].(string)
	require.NotEmpty(t, token)
	c.token = token
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	c := ts.anonymous(t)

	res := c.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "success", res.Body["status"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `hardwarestore_http_requests_total{handler="health",status="200"} 1`)
}

func TestAdminRequiresToken(t *testing.T) {
	ts := newTestServer(t)

	res := ts.anonymous(t).do(http.MethodGet, "/api/admin/clients", nil)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Equal(t, "error", res.Body["status"])
	assert.Equal(t, string(ledger.KindUnauthorized), res.kind())

	res = ts.admin(t).do(http.MethodGet, "/api/admin/clients", nil)
	assert.Equal(t, http.StatusOK, res.Code)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	ts := newTestServer(t)
	seed(t, ts.admin(t), 1)

	res := ts.anonymous(t).do(http.MethodPost, "/api/login/client", map[string]any{"login": "ivan", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Equal(t, string(ledger.KindUnauthorized), res.kind())

	res = ts.anonymous(t).do(http.MethodPost, "/api/login/admin", map[string]any{"login": "ivan", "password": "secret"})
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestStorefrontCheckout(t *testing.T) {
	ts := newTestServer(t)
	productID, _ := seed(t, ts.admin(t), 5)
	shopper := ts.anonymous(t)

	res := shopper.do(http.MethodPost, "/api/cart/add", map[string]any{"product_id": productID, "quantity": 2})
	require.Equal(t, http.StatusOK, res.Code, res.Body)
	shopper.token = res.Header.Get(sessionHeader)
	require.NotEmpty(t, shopper.token)

	res = shopper.do(http.MethodPost, "/api/cart/add", map[string]any{"product_id": productID, "quantity": 4})
	assert.Equal(t, http.StatusConflict, res.Code)
	assert.Equal(t, string(ledger.KindInsufficientStock), res.kind())

	res = shopper.do(http.MethodPost, "/api/cart/update", map[string]any{"product_id": productID, "quantity": 3})
	require.Equal(t, http.StatusOK, res.Code, res.Body)

	res = shopper.do(http.MethodPost, "/api/checkout", nil)
	assert.Equal(t, http.StatusUnauthorized, res.Code, "anonymous sessions cannot check out")

	// The anonymous cart survives login.
	login(t, shopper, "client", "ivan", "secret")
	res = shopper.do(http.MethodGet, "/api/cart", nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body)
	assert.Equal(t, "76.5", res.Body["total_price"])

	res = shopper.do(http.MethodPost, "/api/checkout", nil)
	require.Equal(t, http.StatusCreated, res.Code, res.Body)
	orderID := res.id("order_id")
	assert.Positive(t, orderID)

	res = shopper.do(http.MethodGet, "/api/cart", nil)
	assert.Empty(t, res.Body["items"])

	res = shopper.do(http.MethodGet, "/api/client/orders", nil)
	require.Equal(t, http.StatusOK, res.Code)
	orders, _ := res.Body["orders"].([]any)
	require.Len(t, orders, 1)
	first := orders[0].(map[string]any)
	assert.Equal(t, float64(orderID), first["order_id"])
	assert.Equal(t, true, first["refund_possibility"])
	assert.Equal(t, false, first["can_review"])

	res = shopper.do(http.MethodGet, "/api/available-products", nil)
	products, _ := res.Body["products"].([]any)
	require.Len(t, products, 1)
	assert.Equal(t, float64(2), products[0].(map[string]any)["available_quantity"])

	res = shopper.do(http.MethodPost, "/api/checkout", nil)
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, string(ledger.KindInvalidInput), res.kind())
}

func TestCartRemoveAndLogout(t *testing.T) {
	ts := newTestServer(t)
	productID, _ := seed(t, ts.admin(t), 5)
	shopper := ts.anonymous(t)

	res := shopper.do(http.MethodPost, "/api/cart/remove", map[string]any{"product_id": productID})
	assert.Equal(t, http.StatusOK, res.Code)

	res = shopper.do(http.MethodPost, "/api/cart/update", map[string]any{"product_id": productID, "quantity": 1})
	assert.Equal(t, http.StatusNotFound, res.Code)

	login(t, shopper, "client", "ivan", "secret")
	res = shopper.do(http.MethodPost, "/api/cart/add", map[string]any{"product_id": productID})
	require.Equal(t, http.StatusOK, res.Code, res.Body)
	assert.Equal(t, map[string]any{itoa(productID): float64(1)}, res.Body["cart"])

	res = shopper.do(http.MethodPost, "/api/cart/remove", map[string]any{"product_id": productID})
	require.Equal(t, http.StatusOK, res.Code)
	assert.Empty(t, res.Body["cart"])

	res = shopper.do(http.MethodPost, "/api/logout", nil)
	require.Equal(t, http.StatusOK, res.Code)
	res = shopper.do(http.MethodGet, "/api/client/orders", nil)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestManagerWorkflow(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.admin(t)
	productID, clientID := seed(t, admin, 10)

	res := admin.do(http.MethodPost, "/api/admin/managers", map[string]any{"employee_name": "Olga", "login": "olga", "password": "pass"})
	require.Equal(t, http.StatusCreated, res.Code, res.Body)
	managerID := res.id("employee_id")
	res = admin.do(http.MethodPost, "/api/admin/managers", map[string]any{"employee_name": "Petr", "login": "petr", "password": "pass"})
	require.Equal(t, http.StatusCreated, res.Code, res.Body)

	res = admin.do(http.MethodPost, "/api/admin/discounts", map[string]any{"discount_name": "Spring", "discount_percent": "10"})
	require.Equal(t, http.StatusCreated, res.Code, res.Body)
	discountID := res.id("discount_id")

	res = admin.do(http.MethodPost, "/api/admin/orders", map[string]any{"client_id": clientID})
	require.Equal(t, http.StatusCreated, res.Code, res.Body)
	orderID := res.id("order_id")
	res = admin.do(http.MethodPost, "/api/admin/orders/"+itoa(orderID)+"/items", map[string]any{"product_id": productID, "quantity": 4})
	require.Equal(t, http.StatusCreated, res.Code, res.Body)

	res = admin.do(http.MethodPost, "/api/admin/assign-client", map[string]any{"client_id": clientID, "employee_id": managerID})
	require.Equal(t, http.StatusOK, res.Code, res.Body)
	assert.Equal(t, float64(1), res.Body["updated_orders"])

	manager := ts.anonymous(t)
	login(t, manager, "manager", "olga", "pass")

	res = manager.do(http.MethodGet, "/api/manager/clients", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Len(t, res.Body["clients"], 1)

	res = manager.do(http.MethodGet, "/api/manager/clients/"+itoa(clientID)+"/orders", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Len(t, res.Body["orders"], 1)
	assert.Len(t, res.Body["discounts"], 1)

	res = manager.do(http.MethodPost, "/api/manager/discount", map[string]any{"order_id": orderID, "discount_id": discountID})
	require.Equal(t, http.StatusOK, res.Code, res.Body)
	assert.Equal(t, "91.8", res.Body["final_amount"])

	res = manager.do(http.MethodPost, "/api/manager/order-status", map[string]any{"order_id": orderID, "new_status": "lost"})
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, string(ledger.KindInvalidStatus), res.kind())

	res = manager.do(http.MethodPost, "/api/manager/refund-status", map[string]any{"order_id": orderID, "new_refund_status": "requested"})
	assert.Equal(t, http.StatusConflict, res.Code, "refund status needs a delivered order")

	res = manager.do(http.MethodPost, "/api/manager/order-status", map[string]any{"order_id": orderID, "new_status": "delivered"})
	require.Equal(t, http.StatusOK, res.Code, res.Body)

	res = manager.do(http.MethodPost, "/api/manager/refund-status", map[string]any{"order_id": orderID, "new_refund_status": "requested"})
	require.Equal(t, http.StatusOK, res.Code, res.Body)

	client := ts.anonymous(t)
	login(t, client, "client", "ivan", "secret")
	res = client.do(http.MethodPost, "/api/orders/"+itoa(orderID)+"/feedback", map[string]any{"feedback": "  "})
	assert.Equal(t, http.StatusBadRequest, res.Code)
	res = client.do(http.MethodPost, "/api/orders/"+itoa(orderID)+"/feedback", map[string]any{"feedback": "Solid hammer"})
	require.Equal(t, http.StatusOK, res.Code, res.Body)
	res = client.do(http.MethodPost, "/api/orders/"+itoa(orderID)+"/feedback", map[string]any{"feedback": "again"})
	assert.Equal(t, http.StatusConflict, res.Code)

	res = admin.do(http.MethodGet, "/api/admin/reports/category-revenue", nil)
	require.Equal(t, http.StatusOK, res.Code)
	rows, _ := res.Body["categories"].([]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "102", rows[0].(map[string]any)["revenue"])

	other := ts.anonymous(t)
	login(t, other, "manager", "petr", "pass")
	res = other.do(http.MethodPost, "/api/manager/refund", map[string]any{"order_id": orderID})
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	res = other.do(http.MethodGet, "/api/manager/clients/"+itoa(clientID)+"/orders", nil)
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	res = manager.do(http.MethodPost, "/api/manager/refund", map[string]any{"order_id": orderID})
	require.Equal(t, http.StatusOK, res.Code, res.Body)
	res = admin.do(http.MethodGet, "/api/admin/orders/"+itoa(orderID), nil)
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestAdminCatalogErrors(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.admin(t)
	seed(t, admin, 1)

	res := admin.do(http.MethodPost, "/api/admin/clients", map[string]any{"client_fio": "Dup", "login": "IVAN", "password": "x"})
	assert.Equal(t, http.StatusConflict, res.Code)
	assert.Equal(t, string(ledger.KindConflict), res.kind())

	res = admin.do(http.MethodPost, "/api/admin/products", map[string]any{"product_name": "Saw", "price": "3", "category_id": 99})
	assert.Equal(t, http.StatusNotFound, res.Code)

	res = admin.do(http.MethodPost, "/api/admin/products", map[string]any{"product_name": "Saw", "price": "3", "category_id": 1, "refund_possibility": "maybe"})
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = admin.do(http.MethodPost, "/api/admin/discounts", map[string]any{"discount_name": "Too much", "discount_percent": "150"})
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = admin.do(http.MethodPost, "/api/admin/inventory/shipment", map[string]any{"product_id": 1, "quantity_current": 1, "product_date_of_receipt": "01.03.2024"})
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = admin.do(http.MethodGet, "/api/admin/orders/abc", nil)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = admin.do(http.MethodPost, "/api/admin/items/42/delete", nil)
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestStatusFor(t *testing.T) {
	tests := map[ledger.Kind]int{
		ledger.KindNotFound:            http.StatusNotFound,
		ledger.KindInsufficientStock:   http.StatusConflict,
		ledger.KindInvalidState:        http.StatusConflict,
		ledger.KindConflict:            http.StatusConflict,
		ledger.KindInvalidStatus:       http.StatusBadRequest,
		ledger.KindInvalidRefundStatus: http.StatusBadRequest,
		ledger.KindInvalidInput:        http.StatusBadRequest,
		ledger.KindUnauthorized:        http.StatusUnauthorized,
		ledger.KindRefundFailed:        http.StatusInternalServerError,
		ledger.KindConstraintViolation: http.StatusInternalServerError,
		"":                             http.StatusInternalServerError,
	}
	for kind, want := range tests {
		assert.Equal(t, want, statusFor(kind), kind)
	}
}

func TestRespondErrorHidesUnkindedErrors(t *testing.T) {
	s := &Server{logger: zerolog.Nop()}
	rec := httptest.NewRecorder()
	s.respondError(rec, "test", errors.New("pq: connection reset"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "constraint_violation", body["kind"])
	assert.Equal(t, "internal error", body["message"])
}

func TestRespondErrorHidesStorageCause(t *testing.T) {
	s := &Server{logger: zerolog.Nop()}
	rec := httptest.NewRecorder()
	cause := errors.New(`ERROR: insert or update on table "order_items" violates foreign key constraint "order_items_lot_id_fkey" (SQLSTATE 23503)`)
	s.respondError(rec, "test", ledger.Wrap(ledger.KindConstraintViolation, "insert item", cause))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "constraint_violation", body["kind"])
	assert.Equal(t, "insert item: constraint violation", body["message"])
	assert.NotContains(t, rec.Body.String(), "SQLSTATE")
}

func TestReadinessAndRequestID(t *testing.T) {
	ts := newTestServer(t)
	res := ts.anonymous(t).do(http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, res.Code)
	assert.NotEmpty(t, res.Header.Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(requestIDHeader))

	store, err := memory.Open("", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	sessions, err := session.Open(filepath.Join(t.TempDir(), "sessions.db"), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sessions.Close() })
	down := errors.New("dial tcp: connection refused")
	srv, err := New(ledger.New(store, ledger.Options{Logger: zerolog.Nop()}), sessions, Options{
		Ready:  func(context.Context) error { return down },
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestSessionCookieFollowsTTL(t *testing.T) {
	ts := newTestServer(t)
	productID, _ := seed(t, ts.admin(t), 5)
	res := ts.anonymous(t).do(http.MethodPost, "/api/cart/add", map[string]any{"product_id": productID})
	require.Equal(t, http.StatusOK, res.Code, res.Body)
	assert.Contains(t, res.Header.Get("Set-Cookie"), "Max-Age=3600")
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
