package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"slices"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"

	"github.com/wearwise/checkout/internal/domain"
	"github.com/wearwise/checkout/internal/pricing"
)

// DraftSource is either a CartSource or a BuyNowSource.
type DraftSource interface {
	draftUserID() string
}

// CartSource builds the intent from the shopper's persistent cart.
type CartSource struct {
	UserID string
}

func (s CartSource) draftUserID() string { return s.UserID }

// BuyNowSource builds the intent from a single product selection.
type BuyNowSource struct {
	UserID    string
	ProductID string
	ColorID   string
	SizeID    string
	Quantity  int64
}

func (s BuyNowSource) draftUserID() string { return s.UserID }

// DraftOptions carries the shopper inputs that are not part of the selection.
type DraftOptions struct {
	Scope         string
	PaymentMethod domain.PaymentMethod
	Contact       domain.Contact
}

// DraftBuilderDeps wires the draft builder.
type DraftBuilderDeps struct {
	Catalog  Catalog
	Totals   *TotalsStore
	Currency string
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// DraftBuilder assembles priced order intents.
type DraftBuilder struct {
	catalog  Catalog
	totals   *TotalsStore
	currency string
	policy   *bluemonday.Policy
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewDraftBuilder validates deps and constructs the builder.
func NewDraftBuilder(deps DraftBuilderDeps) (*DraftBuilder, error) {
	if deps.Catalog == nil {
		return nil, errors.New("draft builder: catalog is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "VND"
	}
	return &DraftBuilder{
		catalog:  deps.Catalog,
		totals:   deps.Totals,
		currency: currency,
		policy:   bluemonday.StrictPolicy(),
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

type draftLine struct {
	productID string
	name      string
	colorID   string
	sizeID    string
	quantity  int64
	price     string
	discounts []domain.Discount
}

// Build validates the selection and contact, prices it, and records last-known totals.
func (b *DraftBuilder) Build(ctx context.Context, source DraftSource, opts DraftOptions) (domain.OrderIntent, error) {
	if source == nil {
		return domain.OrderIntent{}, fmt.Errorf("%w: no source", ErrIncompleteSelection)
	}
	userID := strings.TrimSpace(source.draftUserID())
	if userID == "" {
		return domain.OrderIntent{}, fmt.Errorf("%w: user id is required", ErrCheckoutInvalidInput)
	}

	var (
		lines  []draftLine
		origin domain.IntentSource
		err    error
	)
	switch src := source.(type) {
	case CartSource:
		origin = domain.IntentSourceCart
		lines, err = b.cartLines(ctx, userID)
	case BuyNowSource:
		origin = domain.IntentSourceBuyNow
		lines, err = b.buyNowLines(ctx, src)
	default:
		return domain.OrderIntent{}, fmt.Errorf("%w: unknown source %T", ErrCheckoutInvalidInput, source)
	}
	if err != nil {
		return domain.OrderIntent{}, err
	}
	if len(lines) == 0 {
		return domain.OrderIntent{}, fmt.Errorf("%w: nothing selected", ErrIncompleteSelection)
	}
	for i, line := range lines {
		switch {
		case line.colorID == "":
			return domain.OrderIntent{}, fmt.Errorf("%w: item %d has no color", ErrIncompleteSelection, i+1)
		case line.sizeID == "":
			return domain.OrderIntent{}, fmt.Errorf("%w: item %d has no size", ErrIncompleteSelection, i+1)
		case line.quantity < 1:
			return domain.OrderIntent{}, fmt.Errorf("%w: item %d has quantity %d", ErrIncompleteSelection, i+1, line.quantity)
		}
	}

	contact, err := b.contact(opts.Contact)
	if err != nil {
		return domain.OrderIntent{}, err
	}

	quoteLines := make([]pricing.Line, 0, len(lines))
	for i, line := range lines {
		price, err := pricing.ParseAmount(line.price)
		if err != nil {
			return domain.OrderIntent{}, fmt.Errorf("%w: item %d price: %v", ErrCheckoutInvalidInput, i+1, err)
		}
		quoteLines = append(quoteLines, pricing.Line{UnitPrice: price, Quantity: line.quantity})
	}

	pct := b.discountPercentage(lines[0].discounts)
	quote, err := pricing.Quote(quoteLines, pct)
	if err != nil {
		return domain.OrderIntent{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}

	items := make([]domain.IntentItem, 0, len(lines))
	for i, line := range lines {
		q := quote.Lines[i]
		items = append(items, domain.IntentItem{
			ProductID:    line.productID,
			Name:         line.name,
			ColorID:      line.colorID,
			SizeID:       line.sizeID,
			Quantity:     line.quantity,
			UnitPrice:    quoteLines[i].UnitPrice,
			LineTotal:    q.LineTotal,
			LineDiscount: q.LineDiscount,
			LineFinal:    q.LineFinal,
		})
	}

	intent := domain.OrderIntent{
		UserID:             userID,
		Source:             origin,
		Items:              items,
		DiscountPercentage: quote.Percentage,
		OriginalAmount:     quote.OriginalAmount,
		DiscountAmount:     quote.DiscountAmount,
		FinalAmount:        quote.FinalAmount,
		Currency:           b.currency,
		PaymentMethod:      opts.PaymentMethod,
		Contact:            contact,
	}

	if b.totals != nil {
		scope := strings.TrimSpace(opts.Scope)
		if scope == "" {
			scope = userID
		}
		totals := domain.Totals{
			DiscountPercentage: intent.DiscountPercentage.String(),
			OriginalAmount:     intent.OriginalAmount,
			DiscountAmount:     intent.DiscountAmount,
			FinalAmount:        intent.FinalAmount,
			UpdatedAt:          b.now(),
		}
		if err := b.totals.Save(ctx, scope, totals); err != nil {
			b.logger(ctx, "checkout.totals_save_failed", map[string]any{
				"userId": userID,
				"error":  err.Error(),
			})
		}
	}

	return intent, nil
}

func (b *DraftBuilder) cartLines(ctx context.Context, userID string) ([]draftLine, error) {
	cart, err := b.catalog.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	lines := make([]draftLine, 0, len(cart))
	for _, item := range cart {
		lines = append(lines, draftLine{
			productID: strings.TrimSpace(item.ProductID),
			name:      item.Name,
			colorID:   strings.TrimSpace(item.ColorID),
			sizeID:    strings.TrimSpace(item.SizeID),
			quantity:  item.Quantity,
			price:     item.Price,
			discounts: item.Discounts,
		})
	}
	return lines, nil
}

func (b *DraftBuilder) buyNowLines(ctx context.Context, src BuyNowSource) ([]draftLine, error) {
	productID := strings.TrimSpace(src.ProductID)
	if productID == "" {
		return nil, fmt.Errorf("%w: no product", ErrIncompleteSelection)
	}
	line := draftLine{
		productID: productID,
		colorID:   strings.TrimSpace(src.ColorID),
		sizeID:    strings.TrimSpace(src.SizeID),
		quantity:  src.Quantity,
	}
	// Validate the selection before touching the catalog.
	if line.colorID == "" || line.sizeID == "" || line.quantity < 1 {
		return []draftLine{line}, nil
	}

	product, err := b.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if len(product.ColorIDs) > 0 && !slices.Contains(product.ColorIDs, line.colorID) {
		return nil, fmt.Errorf("%w: color %s is not offered", ErrIncompleteSelection, line.colorID)
	}
	if len(product.SizeIDs) > 0 && !slices.Contains(product.SizeIDs, line.sizeID) {
		return nil, fmt.Errorf("%w: size %s is not offered", ErrIncompleteSelection, line.sizeID)
	}
	line.name = product.Name
	line.price = product.Price
	line.discounts = product.Discounts
	return []draftLine{line}, nil
}

func (b *DraftBuilder) discountPercentage(discounts []domain.Discount) decimal.Decimal {
	now := b.now()
	for _, discount := range discounts {
		if !discount.ActiveAt(now) {
			continue
		}
		pct, err := pricing.ParsePercentage(discount.Percentage)
		if err != nil {
			return decimal.Zero
		}
		return pct
	}
	return decimal.Zero
}

func (b *DraftBuilder) contact(in domain.Contact) (domain.Contact, error) {
	out := domain.Contact{
		Phone:   strings.TrimSpace(in.Phone),
		Email:   strings.TrimSpace(in.Email),
		Address: strings.TrimSpace(html.UnescapeString(b.policy.Sanitize(in.Address))),
	}
	var missing []string
	if out.Phone == "" {
		missing = append(missing, "phone")
	}
	if out.Email == "" {
		missing = append(missing, "email")
	}
	if out.Address == "" {
		missing = append(missing, "address")
	}
	if len(missing) > 0 {
		return domain.Contact{}, fmt.Errorf("%w: missing %s", ErrContactIncomplete, strings.Join(missing, ", "))
	}
	return out, nil
}
