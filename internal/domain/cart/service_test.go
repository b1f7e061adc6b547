package cart

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/orderlink/internal/domain/product"
)

// --- Mock implementations ---

type mockItemRepo struct {
	nextID int64
	lines  []Line

	listErr    error
	replaceErr error
}

func (m *mockItemRepo) ListBySession(_ context.Context, _ uuid.UUID) ([]Line, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]Line(nil), m.lines...), nil
}

func (m *mockItemRepo) AddOrIncrement(_ context.Context, _ uuid.UUID, line Line) (Line, error) {
	for i := range m.lines {
		if m.lines[i].ProductCode == line.ProductCode {
			merged := m.lines[i].Qty.Add(line.Qty)
			if max := decimal.NewFromInt(MaxQuantity); merged.GreaterThan(max) {
				merged = max
			}
			m.lines[i].Qty = merged
			return m.lines[i], nil
		}
	}
	m.nextID++
	line.ID = m.nextID
	m.lines = append(m.lines, line)
	return line, nil
}

func (m *mockItemRepo) UpdateQty(_ context.Context, _ uuid.UUID, itemID int64, qty decimal.Decimal) error {
	for i := range m.lines {
		if m.lines[i].ID == itemID {
			m.lines[i].Qty = qty
			return nil
		}
	}
	return ErrItemNotFound
}

func (m *mockItemRepo) Delete(_ context.Context, _ uuid.UUID, itemID int64) error {
	for i := range m.lines {
		if m.lines[i].ID == itemID {
			m.lines = append(m.lines[:i], m.lines[i+1:]...)
			return nil
		}
	}
	return ErrItemNotFound
}

func (m *mockItemRepo) ReplaceAll(_ context.Context, _ uuid.UUID, lines []Line) error {
	if m.replaceErr != nil {
		return m.replaceErr
	}
	m.lines = nil
	for _, l := range lines {
		m.nextID++
		l.ID = m.nextID
		m.lines = append(m.lines, l)
	}
	return nil
}

type mockProductRepo struct {
	byCode map[string]product.Product
	err    error
}

func (m *mockProductRepo) GetByCode(_ context.Context, code string) (*product.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.byCode[code]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (m *mockProductRepo) GetByCodes(_ context.Context, codes []string) ([]product.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []product.Product
	for _, c := range codes {
		if p, ok := m.byCode[c]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// --- Helpers ---

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func price(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.RequireFromString(s), Valid: true}
}

func qty(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testProduct(code, desc, base string) product.Product {
	p := product.Product{Code: code, Description: desc, Active: true}
	if base != "" {
		p.BasePrice = price(base)
	}
	return p
}

func newService(items *mockItemRepo, products *mockProductRepo) *Service {
	return NewService(items, products).WithClock(func() time.Time { return testNow })
}

// --- Tests ---

func TestAddMergesExistingLine(t *testing.T) {
	items := &mockItemRepo{}
	products := &mockProductRepo{byCode: map[string]product.Product{
		"A100": testProduct("A100", "Widget", "10.00"),
	}}
	svc := newService(items, products)
	token := uuid.New()

	line, err := svc.Add(context.Background(), token, "A100", 2)
	require.NoError(t, err)
	assert.True(t, line.Qty.Equal(qty("2")))
	assert.True(t, line.UnitPrice.Valid)

	// A second add of the same product increments the same row.
	line, err = svc.Add(context.Background(), token, "A100", 3)
	require.NoError(t, err)
	assert.True(t, line.Qty.Equal(qty("5")))
	require.Len(t, items.lines, 1)
}

func TestAddCapsMergedQuantity(t *testing.T) {
	items := &mockItemRepo{}
	products := &mockProductRepo{byCode: map[string]product.Product{
		"A100": testProduct("A100", "Widget", "10.00"),
	}}
	svc := newService(items, products)
	token := uuid.New()

	_, err := svc.Add(context.Background(), token, "A100", 9000)
	require.NoError(t, err)

	// Each add is within bounds, but repeated adds cannot push the merged
	// line past the per-line quantity bound.
	line, err := svc.Add(context.Background(), token, "A100", 9000)
	require.NoError(t, err)
	assert.True(t, line.Qty.Equal(qty("9999")), "qty %s", line.Qty)
}

func TestAddValidation(t *testing.T) {
	products := &mockProductRepo{byCode: map[string]product.Product{
		"A100": testProduct("A100", "Widget", "10.00"),
		"GONE": {Code: "GONE", Description: "Retired", Active: false, BasePrice: price("5.00")},
	}}
	svc := newService(&mockItemRepo{}, products)
	token := uuid.New()

	_, err := svc.Add(context.Background(), token, "A100", 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.Add(context.Background(), token, "A100", MaxQuantity+1)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	var pnf *ProductNotFoundError
	_, err = svc.Add(context.Background(), token, "NOPE", 1)
	require.ErrorAs(t, err, &pnf)
	assert.Equal(t, "NOPE", pnf.Code)

	// Inactive products are indistinguishable from missing ones.
	_, err = svc.Add(context.Background(), token, "GONE", 1)
	assert.ErrorAs(t, err, &pnf)
}

func TestAddCatalogFailure(t *testing.T) {
	svc := newService(&mockItemRepo{}, &mockProductRepo{err: errors.New("timeout")})

	var catalog *CatalogError
	_, err := svc.Add(context.Background(), uuid.New(), "A100", 1)
	require.ErrorAs(t, err, &catalog)
}

func TestAddFreezesPromoSnapshot(t *testing.T) {
	p := testProduct("B200", "Gadget", "25.00")
	p.PromoPrice = price("20.00")
	products := &mockProductRepo{byCode: map[string]product.Product{"B200": p}}
	svc := newService(&mockItemRepo{}, products)

	line, err := svc.Add(context.Background(), uuid.New(), "B200", 1)
	require.NoError(t, err)
	assert.True(t, line.UnitPrice.Decimal.Equal(qty("20.00")))
	assert.True(t, line.OriginalPrice.Decimal.Equal(qty("25.00")))
	assert.True(t, line.PromoPrice.Valid)
}

func TestSetQuantityClamps(t *testing.T) {
	items := &mockItemRepo{}
	products := &mockProductRepo{byCode: map[string]product.Product{
		"A100": testProduct("A100", "Widget", "10.00"),
	}}
	svc := newService(items, products)
	token := uuid.New()

	line, err := svc.Add(context.Background(), token, "A100", 1)
	require.NoError(t, err)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "5", want: "5"},
		{name: "fractional preserved", in: "2.5", want: "2.5"},
		{name: "below minimum clamps to one", in: "0", want: "1"},
		{name: "negative clamps to one", in: "-3", want: "1"},
		{name: "above maximum clamps", in: "100000", want: "9999"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applied, err := svc.SetQuantity(context.Background(), token, line.ID, qty(tt.in))
			require.NoError(t, err)
			assert.True(t, applied.Equal(qty(tt.want)), "applied %s, want %s", applied, tt.want)
		})
	}

	_, err = svc.SetQuantity(context.Background(), token, 999, qty("2"))
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestRemoveRequiresConfirmation(t *testing.T) {
	items := &mockItemRepo{}
	products := &mockProductRepo{byCode: map[string]product.Product{
		"A100": testProduct("A100", "Widget", "10.00"),
	}}
	svc := newService(items, products)
	token := uuid.New()

	line, err := svc.Add(context.Background(), token, "A100", 1)
	require.NoError(t, err)

	err = svc.Remove(context.Background(), token, line.ID, false)
	assert.ErrorIs(t, err, ErrNotConfirmed)
	require.Len(t, items.lines, 1)

	require.NoError(t, svc.Remove(context.Background(), token, line.ID, true))
	assert.Empty(t, items.lines)

	err = svc.Remove(context.Background(), token, line.ID, true)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestSaveOverwrites(t *testing.T) {
	items := &mockItemRepo{}
	products := &mockProductRepo{byCode: map[string]product.Product{
		"A100": testProduct("A100", "Widget", "10.00"),
		"B200": testProduct("B200", "Gadget", "25.00"),
	}}
	svc := newService(items, products)
	token := uuid.New()

	_, err := svc.Add(context.Background(), token, "A100", 5)
	require.NoError(t, err)

	saved, err := svc.Save(context.Background(), token, []SaveItem{
		{ProductCode: "B200", Qty: qty("3")},
	})
	require.NoError(t, err)
	require.Len(t, saved.Lines, 1)
	assert.Equal(t, "B200", saved.Lines[0].ProductCode)
	require.Len(t, items.lines, 1, "omitted lines are removed")
}

func TestSaveDropsNonPositiveAndMergesDuplicates(t *testing.T) {
	items := &mockItemRepo{}
	products := &mockProductRepo{byCode: map[string]product.Product{
		"A100": testProduct("A100", "Widget", "10.00"),
		"B200": testProduct("B200", "Gadget", "25.00"),
	}}
	svc := newService(items, products)

	saved, err := svc.Save(context.Background(), uuid.New(), []SaveItem{
		{ProductCode: "A100", Qty: qty("1")},
		{ProductCode: "B200", Qty: qty("0")},
		{ProductCode: "A100", Qty: qty("2")},
		{ProductCode: "B200", Qty: qty("-5")},
	})
	require.NoError(t, err)
	require.Len(t, saved.Lines, 1)
	assert.Equal(t, "A100", saved.Lines[0].ProductCode)
	assert.True(t, saved.Lines[0].Qty.Equal(qty("3")))
}

func TestSaveIsIdempotent(t *testing.T) {
	items := &mockItemRepo{}
	products := &mockProductRepo{byCode: map[string]product.Product{
		"A100": testProduct("A100", "Widget", "10.00"),
	}}
	svc := newService(items, products)
	token := uuid.New()
	set := []SaveItem{{ProductCode: "A100", Qty: qty("4")}}

	first, err := svc.Save(context.Background(), token, set)
	require.NoError(t, err)
	second, err := svc.Save(context.Background(), token, set)
	require.NoError(t, err)

	require.Len(t, second.Lines, len(first.Lines))
	assert.True(t, first.Lines[0].Qty.Equal(second.Lines[0].Qty))
	assert.Equal(t, first.Lines[0].ProductCode, second.Lines[0].ProductCode)
}

func TestSaveKeepsUnknownProductsUnresolved(t *testing.T) {
	items := &mockItemRepo{}
	products := &mockProductRepo{byCode: map[string]product.Product{}}
	svc := newService(items, products)

	saved, err := svc.Save(context.Background(), uuid.New(), []SaveItem{
		{ProductCode: "GHOST", Qty: qty("1")},
	})
	require.NoError(t, err)
	require.Len(t, saved.Lines, 1)
	assert.True(t, saved.Lines[0].Unresolved)
	assert.False(t, saved.Lines[0].UnitPrice.Valid)
}

func TestLoadHydratesAndKeepsSnapshot(t *testing.T) {
	// The stored snapshot price must survive a later catalog price change.
	items := &mockItemRepo{lines: []Line{
		{ID: 1, ProductCode: "A100", Qty: qty("2"), UnitPrice: price("10.00")},
		{ID: 2, ProductCode: "GHOST", Qty: qty("1"), UnitPrice: price("3.00")},
		{ID: 3, ProductCode: "NEW", Qty: qty("1")},
	}}
	products := &mockProductRepo{byCode: map[string]product.Product{
		"A100": testProduct("A100", "Widget", "99.00"),
		"NEW":  testProduct("NEW", "Fresh", "7.00"),
	}}
	svc := newService(items, products)

	c, err := svc.Load(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Len(t, c.Lines, 3)

	assert.True(t, c.Lines[0].UnitPrice.Decimal.Equal(qty("10.00")), "snapshot wins over catalog")
	assert.Equal(t, "Widget", c.Lines[0].Description)

	assert.True(t, c.Lines[1].Unresolved, "vanished product stays visible")

	assert.True(t, c.Lines[2].UnitPrice.Valid, "missing snapshot falls back to resolver")
	assert.True(t, c.Lines[2].UnitPrice.Decimal.Equal(qty("7.00")))
}

func TestCartTotals(t *testing.T) {
	c := Cart{Lines: []Line{
		{Qty: qty("1"), UnitPrice: price("10.00")},
		{Qty: qty("3"), UnitPrice: price("20.00")},
		{Qty: qty("2")}, // unpriced, contributes nothing
	}}

	assert.True(t, c.Total().Equal(qty("70.00")), "total %s", c.Total())
	assert.Equal(t, 1, c.UnpricedCount())
	assert.False(t, c.IsEmpty())
}

func TestStoreErrorsAreWrapped(t *testing.T) {
	items := &mockItemRepo{listErr: errors.New("broken pipe"), replaceErr: errors.New("broken pipe")}
	products := &mockProductRepo{byCode: map[string]product.Product{}}
	svc := newService(items, products)
	token := uuid.New()

	var storeErr *StoreError
	_, err := svc.Load(context.Background(), token)
	require.ErrorAs(t, err, &storeErr)

	_, err = svc.Save(context.Background(), token, nil)
	require.ErrorAs(t, err, &storeErr)
}
