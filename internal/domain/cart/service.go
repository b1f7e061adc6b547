package cart

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/orderlink/internal/domain/pricing"
	"github.com/xenking/orderlink/internal/domain/product"
)

const (
	// MaxQuantity bounds a single line's quantity.
	MaxQuantity = 9999

	// productChunkSize bounds catalog batch lookups so a large cart cannot
	// produce an oversized query.
	productChunkSize = 200

	// fetchConcurrency limits parallel catalog chunk fetches.
	fetchConcurrency = 4
)

// SaveItem is one entry of a full cart overwrite.
type SaveItem struct {
	ProductCode string
	Qty         decimal.Decimal
}

// Service is the authoritative cart for an order session. It is stateless
// per call: every operation reads and writes through the repositories so two
// tabs observe last-write-wins semantics without holding server state.
type Service struct {
	items    Repository
	products product.Repository
	now      func() time.Time
}

// NewService creates a cart Service.
func NewService(items Repository, products product.Repository) *Service {
	return &Service{items: items, products: products, now: time.Now}
}

// WithClock overrides the service's time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Load fetches the session's lines and hydrates them against the catalog.
// Lines whose product vanished are kept with Unresolved set rather than
// dropped, so stale entries stay visible and removable.
func (s *Service) Load(ctx context.Context, token uuid.UUID) (*Cart, error) {
	lines, err := s.items.ListBySession(ctx, token)
	if err != nil {
		return nil, &StoreError{Op: "list cart items", Err: err}
	}

	codes := make([]string, 0, len(lines))
	for _, l := range lines {
		codes = append(codes, l.ProductCode)
	}
	byCode, err := s.fetchProducts(ctx, codes)
	if err != nil {
		return nil, &CatalogError{Err: err}
	}

	hydrated := make([]Line, len(lines))
	for i, l := range lines {
		hydrated[i] = s.hydrate(l, byCode)
	}
	return &Cart{Lines: hydrated}, nil
}

// Add merges qty into an existing line for the product or creates a new one,
// freezing the price snapshot at the moment of insertion. qty must be a
// positive integer no greater than MaxQuantity.
func (s *Service) Add(ctx context.Context, token uuid.UUID, code string, qty int) (*Line, error) {
	if qty <= 0 || qty > MaxQuantity {
		return nil, ErrInvalidQuantity
	}

	p, err := s.products.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return nil, &ProductNotFoundError{Code: code}
		}
		return nil, &CatalogError{Err: err}
	}
	if !p.Active {
		return nil, &ProductNotFoundError{Code: code}
	}

	line := Line{
		ProductCode:   code,
		Description:   p.Description,
		Qty:           decimal.NewFromInt(int64(qty)),
		UnitPrice:     pricing.Resolve(p, s.now()),
		OriginalPrice: p.BasePrice,
		PromoPrice:    p.PromoPrice,
	}
	stored, err := s.items.AddOrIncrement(ctx, token, line)
	if err != nil {
		return nil, &StoreError{Op: "add cart item", Err: err}
	}
	stored.Description = p.Description
	return &stored, nil
}

// SetQuantity updates a line's quantity, clamped to [1, MaxQuantity], and
// returns the applied value. A zero-or-below edit is not persisted as a
// deletion here: lines disappear either through Remove or by being omitted
// from a Save.
func (s *Service) SetQuantity(ctx context.Context, token uuid.UUID, itemID int64, qty decimal.Decimal) (decimal.Decimal, error) {
	one := decimal.NewFromInt(1)
	max := decimal.NewFromInt(MaxQuantity)
	if qty.LessThan(one) {
		qty = one
	} else if qty.GreaterThan(max) {
		qty = max
	}

	if err := s.items.UpdateQty(ctx, token, itemID, qty); err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return decimal.Decimal{}, err
		}
		return decimal.Decimal{}, &StoreError{Op: "update quantity", Err: err}
	}
	return qty, nil
}

// Remove deletes a line. The confirmed flag is the caller's assertion that
// the user explicitly confirmed the destructive action.
func (s *Service) Remove(ctx context.Context, token uuid.UUID, itemID int64, confirmed bool) error {
	if !confirmed {
		return ErrNotConfirmed
	}
	if err := s.items.Delete(ctx, token, itemID); err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return err
		}
		return &StoreError{Op: "remove cart item", Err: err}
	}
	return nil
}

// Save overwrites the session's persisted line set with the given items.
// Entries with qty <= 0 are dropped (removal on save), duplicates of the
// same product are merged by summing, and price snapshots are re-frozen for
// lines the store did not already hold. Saving the same set twice yields an
// identical persisted state.
func (s *Service) Save(ctx context.Context, token uuid.UUID, items []SaveItem) (*Cart, error) {
	merged := make([]SaveItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, it := range items {
		if !it.Qty.IsPositive() {
			continue
		}
		if i, ok := index[it.ProductCode]; ok {
			merged[i].Qty = merged[i].Qty.Add(it.Qty)
			continue
		}
		index[it.ProductCode] = len(merged)
		merged = append(merged, it)
	}

	codes := make([]string, len(merged))
	for i, it := range merged {
		codes[i] = it.ProductCode
	}
	byCode, err := s.fetchProducts(ctx, codes)
	if err != nil {
		return nil, &CatalogError{Err: err}
	}

	now := s.now()
	lines := make([]Line, len(merged))
	for i, it := range merged {
		l := Line{ProductCode: it.ProductCode, Qty: it.Qty}
		if p, ok := byCode[it.ProductCode]; ok {
			l.Description = p.Description
			l.UnitPrice = pricing.Resolve(&p, now)
			l.OriginalPrice = p.BasePrice
			l.PromoPrice = p.PromoPrice
		} else {
			l.Unresolved = true
		}
		lines[i] = l
	}

	if err := s.items.ReplaceAll(ctx, token, lines); err != nil {
		return nil, &StoreError{Op: "save cart", Err: err}
	}
	return &Cart{Lines: lines}, nil
}

// Clear removes every line of the session.
func (s *Service) Clear(ctx context.Context, token uuid.UUID) error {
	if err := s.items.ReplaceAll(ctx, token, nil); err != nil {
		return &StoreError{Op: "clear cart", Err: err}
	}
	return nil
}

// fetchProducts batch-resolves the distinct codes, chunked to respect query
// size limits, and returns them keyed by code.
func (s *Service) fetchProducts(ctx context.Context, codes []string) (map[string]product.Product, error) {
	distinct := make([]string, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		distinct = append(distinct, c)
	}
	if len(distinct) == 0 {
		return map[string]product.Product{}, nil
	}

	var (
		mu     sync.Mutex
		byCode = make(map[string]product.Product, len(distinct))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)

	for start := 0; start < len(distinct); start += productChunkSize {
		end := min(start+productChunkSize, len(distinct))
		chunk := distinct[start:end]
		g.Go(func() error {
			products, err := s.products.GetByCodes(gctx, chunk)
			if err != nil {
				return errors.Wrap(err, "get products by codes")
			}
			mu.Lock()
			for _, p := range products {
				byCode[p.Code] = p
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return byCode, nil
}

// hydrate fills display fields for a stored line. A frozen snapshot price is
// authoritative; the resolver only supplies a display price when the stored
// row carries none.
func (s *Service) hydrate(l Line, byCode map[string]product.Product) Line {
	p, ok := byCode[l.ProductCode]
	if !ok {
		l.Unresolved = true
		return l
	}
	l.Description = p.Description
	if !l.UnitPrice.Valid {
		l.UnitPrice = pricing.Resolve(&p, s.now())
		l.OriginalPrice = p.BasePrice
		l.PromoPrice = p.PromoPrice
	}
	return l
}
