package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/orderlink/internal/domain/cart"
	"github.com/xenking/orderlink/internal/domain/customer"
	"github.com/xenking/orderlink/internal/domain/order"
	"github.com/xenking/orderlink/internal/domain/product"
	"github.com/xenking/orderlink/internal/domain/session"
	"github.com/xenking/orderlink/internal/notify"
)

// --- In-memory repositories ---

type memSessionRepo struct {
	byToken map[uuid.UUID]*session.Session
}

func (m *memSessionRepo) GetByToken(_ context.Context, token uuid.UUID) (*session.Session, error) {
	s, ok := m.byToken[token]
	if !ok {
		return nil, session.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSessionRepo) Create(_ context.Context, s *session.Session) error {
	m.byToken[s.Token] = s
	return nil
}

type memItemRepo struct {
	mu     sync.Mutex
	nextID int64
	lines  map[uuid.UUID][]cart.Line
}

func (m *memItemRepo) ListBySession(_ context.Context, token uuid.UUID) ([]cart.Line, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]cart.Line(nil), m.lines[token]...), nil
}

func (m *memItemRepo) AddOrIncrement(_ context.Context, token uuid.UUID, line cart.Line) (cart.Line, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.lines[token] {
		if l.ProductCode == line.ProductCode {
			merged := l.Qty.Add(line.Qty)
			if max := decimal.NewFromInt(cart.MaxQuantity); merged.GreaterThan(max) {
				merged = max
			}
			m.lines[token][i].Qty = merged
			return m.lines[token][i], nil
		}
	}
	m.nextID++
	line.ID = m.nextID
	m.lines[token] = append(m.lines[token], line)
	return line, nil
}

func (m *memItemRepo) UpdateQty(_ context.Context, token uuid.UUID, itemID int64, qty decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.lines[token] {
		if l.ID == itemID {
			m.lines[token][i].Qty = qty
			return nil
		}
	}
	return cart.ErrItemNotFound
}

func (m *memItemRepo) Delete(_ context.Context, token uuid.UUID, itemID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.lines[token] {
		if l.ID == itemID {
			m.lines[token] = append(m.lines[token][:i], m.lines[token][i+1:]...)
			return nil
		}
	}
	return cart.ErrItemNotFound
}

func (m *memItemRepo) ReplaceAll(_ context.Context, token uuid.UUID, lines []cart.Line) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines[token] = nil
	for _, l := range lines {
		m.nextID++
		l.ID = m.nextID
		m.lines[token] = append(m.lines[token], l)
	}
	return nil
}

type memProductRepo struct {
	byCode map[string]product.Product
}

func (m *memProductRepo) GetByCode(_ context.Context, code string) (*product.Product, error) {
	p, ok := m.byCode[code]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (m *memProductRepo) GetByCodes(_ context.Context, codes []string) ([]product.Product, error) {
	var out []product.Product
	for _, c := range codes {
		if p, ok := m.byCode[c]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type memCustomerRepo struct {
	byID map[int64]*customer.Customer
}

func (m *memCustomerRepo) GetByID(_ context.Context, id int64) (*customer.Customer, error) {
	c, ok := m.byID[id]
	if !ok {
		return nil, customer.ErrNotFound
	}
	return c, nil
}

func (m *memCustomerRepo) GetByTaxID(_ context.Context, _ string) (*customer.Customer, error) {
	return nil, customer.ErrNotFound
}

type memOrderRepo struct {
	mu       sync.Mutex
	sessions *memSessionRepo
	items    *memItemRepo
	byToken  map[uuid.UUID]*order.SubmittedOrder
	nextID   int64
}

func (m *memOrderRepo) CreateAndClose(_ context.Context, o *order.SubmittedOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions.byToken[o.SessionToken]
	if !ok || s.Used {
		return order.ErrSessionUsed
	}
	s.Used = true

	m.nextID++
	o.ID = m.nextID
	cp := *o
	m.byToken[o.SessionToken] = &cp

	m.items.mu.Lock()
	delete(m.items.lines, o.SessionToken)
	m.items.mu.Unlock()
	return nil
}

func (m *memOrderRepo) GetBySession(_ context.Context, token uuid.UUID) (*order.SubmittedOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byToken[token]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return o, nil
}

// --- Fixture ---

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	token       uuid.UUID
	sessions    *memSessionRepo
	coordinator *order.Coordinator
	server      *httptest.Server
}

func price(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.RequireFromString(s), Valid: true}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	token := uuid.New()

	sessions := &memSessionRepo{byToken: map[uuid.UUID]*session.Session{
		token: {Token: token, CustomerID: 7, OrderNumber: 1042, ExpiresAt: testNow.Add(time.Hour)},
	}}
	items := &memItemRepo{lines: map[uuid.UUID][]cart.Line{}}
	products := &memProductRepo{byCode: map[string]product.Product{
		"A100": {Code: "A100", Description: "Widget", Active: true, BasePrice: price("10.00")},
		"B200": {Code: "B200", Description: "Gadget", Active: true,
			BasePrice: price("25.00"), PromoPrice: price("20.00")},
	}}
	customers := &memCustomerRepo{byID: map[int64]*customer.Customer{
		7: {ID: 7, Name: "Acme Ltda", TaxID: "12.345.678/0001-99", City: "Campinas", State: "SP"},
	}}
	orders := &memOrderRepo{sessions: sessions, items: items, byToken: map[uuid.UUID]*order.SubmittedOrder{}}

	clock := func() time.Time { return testNow }
	gate := session.NewGate(sessions).WithClock(clock)
	carts := cart.NewService(items, products).WithClock(clock)
	coordinator := order.NewCoordinator(gate, carts, customers, orders, notify.Noop{}).WithClock(clock)

	h := NewHandler(gate, carts, customers, coordinator)
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)

	return &fixture{token: token, sessions: sessions, coordinator: coordinator, server: srv}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

func (f *fixture) call(t *testing.T, method, path string, body any) envelope {
	t.Helper()

	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.server.URL+path, rd)
	require.NoError(t, err)
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	// Every domain outcome travels as HTTP 200.
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env
}

func (f *fixture) sessionPath(suffix string) string {
	return "/api/session/" + f.token.String() + suffix
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	require.True(t, env.Success, "expected success envelope, got %s: %s", env.Error, env.Message)
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func validSubmitBody(items ...map[string]any) map[string]any {
	body := map[string]any{
		"approver": map[string]any{
			"name":  "Maria Souza",
			"phone": "+55 11 99999-0000",
			"email": "maria@acme.example",
		},
		"connection_data": map[string]any{
			"user_agent": "approval-page/1.0",
			"timezone":   "America/Sao_Paulo",
			"screen":     map[string]any{"width": 1440, "height": 900},
		},
	}
	if len(items) > 0 {
		body["items"] = items
	}
	return body
}

// --- Tests ---

func TestApprovalFlow(t *testing.T) {
	f := newFixture(t)

	// Load: active session, customer, empty cart.
	load := decodeData[loadResponse](t, f.call(t, http.MethodGet, f.sessionPath(""), nil))
	assert.Equal(t, session.StateActive, load.State)
	require.NotNil(t, load.Customer)
	assert.Equal(t, "Acme Ltda", load.Customer.Name)
	require.NotNil(t, load.Cart)
	assert.Empty(t, load.Cart.Items)

	// Add one widget and three gadgets (promo price 20.00 applies).
	added := decodeData[map[string]lineDTO](t, f.call(t, http.MethodPost, f.sessionPath("/items"),
		map[string]any{"product_code": "A100", "qty": 1}))
	widget := added["item"]
	assert.True(t, widget.UnitPrice.Decimal.Equal(decimal.RequireFromString("10.00")))

	f.call(t, http.MethodPost, f.sessionPath("/items"),
		map[string]any{"product_code": "B200", "qty": 3})

	load = decodeData[loadResponse](t, f.call(t, http.MethodGet, f.sessionPath(""), nil))
	require.Len(t, load.Cart.Items, 2)
	assert.True(t, load.Cart.Total.Equal(decimal.RequireFromString("70.00")), "total %s", load.Cart.Total)

	// Remove the widget; removal needs explicit confirmation.
	env := f.call(t, http.MethodDelete, fmt.Sprintf("%s/items/%d", f.sessionPath(""), widget.ID), nil)
	assert.False(t, env.Success)
	assert.Equal(t, codeValidation, env.Error)

	f.call(t, http.MethodDelete, fmt.Sprintf("%s/items/%d?confirmed=true", f.sessionPath(""), widget.ID), nil)

	// Save the remaining set, then submit.
	saved := decodeData[cartDTO](t, f.call(t, http.MethodPut, f.sessionPath("/cart"), map[string]any{
		"items": []map[string]any{{"product_code": "B200", "qty": "3"}},
	}))
	assert.True(t, saved.Total.Equal(decimal.RequireFromString("60.00")))

	submitted := decodeData[submitResponse](t, f.call(t, http.MethodPost, f.sessionPath("/submit"), validSubmitBody()))
	assert.Equal(t, int64(1042), submitted.OrderNumber)
	assert.Equal(t, 1, submitted.TotalItems)
	assert.True(t, submitted.TotalValue.Equal(decimal.RequireFromString("60.00")))

	// The link is now read-only: mutations fail, the load replays the order.
	env = f.call(t, http.MethodPost, f.sessionPath("/items"), map[string]any{"product_code": "A100", "qty": 1})
	assert.Equal(t, codeSessionUsed, env.Error)

	env = f.call(t, http.MethodPost, f.sessionPath("/submit"), validSubmitBody())
	assert.Equal(t, codeSessionUsed, env.Error)

	load = decodeData[loadResponse](t, f.call(t, http.MethodGet, f.sessionPath(""), nil))
	assert.Equal(t, session.StateClosed, load.State)
	require.NotNil(t, load.Order)
	assert.Equal(t, int64(1042), load.Order.OrderNumber)
	assert.True(t, load.Order.Payload.Totals.TotalValue.Equal(decimal.RequireFromString("60.00")))

	f.coordinator.WaitNotifications()
}

func TestSessionStateEnvelopes(t *testing.T) {
	f := newFixture(t)

	env := f.call(t, http.MethodGet, "/api/session/not-a-uuid", nil)
	assert.False(t, env.Success)
	assert.Equal(t, codeSessionNotFound, env.Error)

	env = f.call(t, http.MethodGet, "/api/session/"+uuid.NewString(), nil)
	assert.Equal(t, codeSessionNotFound, env.Error)

	f.sessions.byToken[f.token].ExpiresAt = testNow
	env = f.call(t, http.MethodGet, f.sessionPath(""), nil)
	assert.Equal(t, codeSessionExpired, env.Error)

	env = f.call(t, http.MethodPost, f.sessionPath("/submit"), validSubmitBody())
	assert.Equal(t, codeSessionExpired, env.Error)
}

func TestAddItemErrors(t *testing.T) {
	f := newFixture(t)

	env := f.call(t, http.MethodPost, f.sessionPath("/items"),
		map[string]any{"product_code": "NOPE", "qty": 1})
	assert.Equal(t, codeProductNotFound, env.Error)

	env = f.call(t, http.MethodPost, f.sessionPath("/items"),
		map[string]any{"product_code": "A100", "qty": 0})
	assert.Equal(t, codeValidation, env.Error)

	req, err := http.NewRequest(http.MethodPost, f.server.URL+f.sessionPath("/items"),
		bytes.NewReader([]byte("{broken")))
	require.NoError(t, err)
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var env2 envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env2))
	assert.Equal(t, codeInvalidBody, env2.Error)
}

func TestUpdateItemClamps(t *testing.T) {
	f := newFixture(t)

	added := decodeData[map[string]lineDTO](t, f.call(t, http.MethodPost, f.sessionPath("/items"),
		map[string]any{"product_code": "A100", "qty": 1}))
	id := added["item"].ID

	type patchResponse struct {
		ID  int64           `json:"id"`
		Qty decimal.Decimal `json:"qty"`
	}

	patched := decodeData[patchResponse](t, f.call(t, http.MethodPatch,
		fmt.Sprintf("%s/items/%d", f.sessionPath(""), id), map[string]any{"qty": "100000"}))
	assert.True(t, patched.Qty.Equal(decimal.NewFromInt(9999)))

	patched = decodeData[patchResponse](t, f.call(t, http.MethodPatch,
		fmt.Sprintf("%s/items/%d", f.sessionPath(""), id), map[string]any{"qty": "-2"}))
	assert.True(t, patched.Qty.Equal(decimal.NewFromInt(1)))

	env := f.call(t, http.MethodPatch, f.sessionPath("/items/99999"), map[string]any{"qty": "2"})
	assert.Equal(t, codeItemNotFound, env.Error)
}

func TestSubmitEnvelopes(t *testing.T) {
	f := newFixture(t)

	// Empty cart.
	env := f.call(t, http.MethodPost, f.sessionPath("/submit"), validSubmitBody())
	assert.Equal(t, codeNoItems, env.Error)

	// Missing approver fields.
	env = f.call(t, http.MethodPost, f.sessionPath("/submit"), map[string]any{
		"approver": map[string]any{"name": "", "phone": "", "email": ""},
	})
	assert.Equal(t, codeValidation, env.Error)

	// Direct submit with items saves them first.
	submitted := decodeData[submitResponse](t, f.call(t, http.MethodPost, f.sessionPath("/submit"),
		validSubmitBody(map[string]any{"product_code": "B200", "qty": "2"})))
	assert.True(t, submitted.TotalValue.Equal(decimal.RequireFromString("40.00")))

	f.coordinator.WaitNotifications()
}
