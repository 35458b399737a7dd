package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/django-oscar/django-oscar-sub003/internal/basket"
	"github.com/django-oscar/django-oscar-sub003/internal/models"
	"github.com/django-oscar/django-oscar-sub003/internal/offer"
	"github.com/django-oscar/django-oscar-sub003/internal/order"
	"github.com/django-oscar/django-oscar-sub003/internal/partner"
	"github.com/django-oscar/django-oscar-sub003/internal/store"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
)

var errUsage = errors.New("invalid arguments")

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false
	return fs
}

// lineSelection resolves repeated --line ID=QTY flags against the order's
// lines. No selection means every line with a nil quantity list.
func lineSelection(o *models.Order, lineArgs []string) ([]models.OrderLine, []int, error) {
	if len(lineArgs) == 0 {
		return o.Lines, nil, nil
	}
	byID := make(map[int64]models.OrderLine, len(o.Lines))
	for _, l := range o.Lines {
		byID[l.ID] = l
	}
	lines := make([]models.OrderLine, 0, len(lineArgs))
	qtys := make([]int, 0, len(lineArgs))
	for _, arg := range lineArgs {
		idText, qtyText, ok := strings.Cut(arg, "=")
		if !ok {
			qtyText = "0"
		}
		id, err := strconv.ParseInt(idText, 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: line %q", errUsage, arg)
		}
		qty, err := strconv.Atoi(qtyText)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: quantity in %q", errUsage, arg)
		}
		l, found := byID[id]
		if !found {
			return nil, nil, fmt.Errorf("%w: order %s has no line %d", errUsage, o.Number, id)
		}
		lines = append(lines, l)
		qtys = append(qtys, qty)
	}
	return lines, qtys, nil
}

func (a *app) loadOrder(ctx context.Context, number string) (*models.Order, error) {
	if number == "" {
		return nil, fmt.Errorf("%w: --order is required", errUsage)
	}
	return a.orders.GetOrderByNumber(ctx, number)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(os.Stdout, string(out))
	return err
}

func runShip(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("ship")
	number := fs.String("order", "", "order number")
	code := fs.String("event", "", "shipping event type code")
	lineArgs := fs.StringArray("line", nil, "line to include as ID=QTY, repeatable; QTY 0 means the full line")
	notes := fs.String("notes", "", "free text stored on the event")
	if err := fs.Parse(args); err != nil {
		return err
	}

	o, err := a.loadOrder(ctx, *number)
	if err != nil {
		return err
	}
	eventType, err := a.orders.GetShippingEventTypeByCode(ctx, *code)
	if err != nil {
		return fmt.Errorf("shipping event type %q: %w", *code, err)
	}
	lines, qtys, err := lineSelection(o, *lineArgs)
	if err != nil {
		return err
	}

	event, err := a.handler.HandleShippingEvent(ctx, o, *eventType, lines, qtys, *notes)
	if err != nil {
		return err
	}

	statuses := make(map[int64]string, len(lines))
	for _, l := range lines {
		if statuses[l.ID], err = a.handler.LineShippingStatus(ctx, l); err != nil {
			return err
		}
	}
	return printJSON(map[string]any{"event": event, "line_status": statuses})
}

func runPay(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("pay")
	number := fs.String("order", "", "order number")
	code := fs.String("event", "", "payment event type code")
	lineArgs := fs.StringArray("line", nil, "line to include as ID=QTY, repeatable")
	amount := fs.String("amount", "", "amount taken or refunded")
	reference := fs.String("reference", "", "payment provider reference")
	shippingEvent := fs.Int64("shipping-event", 0, "shipping event this payment relates to")
	if err := fs.Parse(args); err != nil {
		return err
	}

	value, err := decimal.NewFromString(*amount)
	if err != nil {
		return fmt.Errorf("%w: --amount %q", errUsage, *amount)
	}
	o, err := a.loadOrder(ctx, *number)
	if err != nil {
		return err
	}
	eventType, err := a.orders.GetPaymentEventTypeByCode(ctx, *code)
	if err != nil {
		return fmt.Errorf("payment event type %q: %w", *code, err)
	}
	lines, qtys, err := lineSelection(o, *lineArgs)
	if err != nil {
		return err
	}

	details := order.PaymentDetails{Reference: *reference}
	if *shippingEvent != 0 {
		details.ShippingEventID = shippingEvent
	}
	event, err := a.handler.HandlePaymentEvent(ctx, o, *eventType, value, lines, qtys, details)
	if err != nil {
		return err
	}
	return printJSON(event)
}

func runSubtotal(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("subtotal")
	number := fs.String("order", "", "order number")
	code := fs.String("event", "", "payment event type code")
	lineArgs := fs.StringArray("line", nil, "line to price as ID=QTY, repeatable; default is every full line")
	if err := fs.Parse(args); err != nil {
		return err
	}

	o, err := a.loadOrder(ctx, *number)
	if err != nil {
		return err
	}
	eventType, err := a.orders.GetPaymentEventTypeByCode(ctx, *code)
	if err != nil {
		return fmt.Errorf("payment event type %q: %w", *code, err)
	}
	lines, qtys, err := lineSelection(o, *lineArgs)
	if err != nil {
		return err
	}
	if qtys == nil {
		qtys = make([]int, len(lines))
		for i, l := range lines {
			qtys[i] = l.Quantity
		}
	}

	total, err := a.handler.CalculatePaymentEventSubtotal(ctx, *eventType, lines, qtys)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"order": o.Number, "event_type": eventType.Code, "subtotal": total.StringFixed(2)})
}

func runStatus(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("status")
	number := fs.String("order", "", "order number")
	to := fs.String("to", "", "new order status")
	note := fs.String("note", "", "note added alongside the change")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *to == "" {
		return fmt.Errorf("%w: --to is required", errUsage)
	}

	o, err := a.loadOrder(ctx, *number)
	if err != nil {
		return err
	}
	if err := a.handler.HandleOrderStatusChange(ctx, o, *to, *note); err != nil {
		return err
	}
	o, err = a.orders.GetOrder(ctx, o.ID)
	if err != nil {
		return err
	}
	return printJSON(o)
}

func runOrders(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("orders")
	cursor := fs.String("cursor", "", "cursor from a previous page")
	limit := fs.Int("limit", 0, "page size")
	if err := fs.Parse(args); err != nil {
		return err
	}
	page, err := a.catalogue.ListOrders(ctx, *cursor, *limit)
	if errors.Is(err, store.ErrInvalidCursor) {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if err != nil {
		return err
	}
	return printJSON(page)
}

func runRestock(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("restock")
	recordID := fs.Int64("record", 0, "stock record id")
	qty := fs.Int("qty", 0, "units to add")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *recordID == 0 || *qty <= 0 {
		return fmt.Errorf("%w: --record and a positive --qty are required", errUsage)
	}
	rec, err := a.stock.Restock(ctx, *recordID, *qty)
	if err != nil {
		return err
	}
	return printJSON(rec)
}

type discountView struct {
	OfferID   int64  `json:"offer_id"`
	Offer     string `json:"offer"`
	Voucher   string `json:"voucher,omitempty"`
	Frequency int    `json:"frequency"`
	Discount  string `json:"discount"`
	Shipping  bool   `json:"shipping,omitempty"`
	Detail    string `json:"description,omitempty"`
}

func runOffers(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("offers")
	productID := fs.Int64("product", 0, "product id")
	qty := fs.Int("qty", 1, "units in the basket")
	code := fs.String("voucher", "", "voucher code to apply")
	user := fs.Int64("user", 0, "customer id, 0 for anonymous")
	if err := fs.Parse(args); err != nil {
		return err
	}

	product, err := a.catalogue.GetProduct(ctx, *productID)
	if err != nil {
		return err
	}
	records, err := a.stockRepo.ListProductStockRecords(ctx, product.ID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("product %d has no stock records", product.ID)
	}

	var userID *int64
	if *user != 0 {
		userID = user
	}
	b := basket.New(userID, "")
	rec := cheapestRecord(a.partners, records)
	if _, err := b.AddProduct(a.partners, rec, *qty, product.IsDiscountable); err != nil {
		return err
	}
	b.Currency = a.partners.PurchaseInfo(rec).Price.Currency

	offers, err := a.offers.ListActive(ctx, time.Now())
	if err != nil {
		return err
	}
	if *code != "" {
		v, err := a.vouchers.Get(ctx, *code)
		if err != nil {
			return err
		}
		viaVoucher, err := a.offers.ListForVoucher(ctx, v)
		if err != nil {
			return err
		}
		ok, msg, err := a.vouchers.IsAvailableForBasket(ctx, v, viaVoucher, b, userID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", errUsage, msg)
		}
		offers = append(offers, viaVoucher...)
	}

	apps, err := offer.NewApplicator(a.offers, a.logg, a.metrics).Apply(ctx, b, offers, userID)
	if err != nil {
		return err
	}

	applied := make(map[int64]bool, apps.Len())
	views := make([]discountView, 0, apps.Len())
	for _, app := range apps.All() {
		applied[app.Offer.ID] = true
		dv := discountView{
			OfferID:   app.Offer.ID,
			Offer:     app.Offer.Name,
			Frequency: app.Frequency,
			Discount:  app.Discount.StringFixed(2),
			Shipping:  app.Affects == offer.AffectsShipping,
			Detail:    app.Description,
		}
		if app.Offer.Voucher != nil {
			dv.Voucher = app.Offer.Voucher.Code
		}
		views = append(views, dv)
	}
	var upsell []string
	for _, o := range offers {
		if applied[o.ID] {
			continue
		}
		if msg := o.UpsellMessage(b); msg != "" {
			upsell = append(upsell, msg)
		}
	}
	return printJSON(map[string]any{
		"upsell":          upsell,
		"stock_record":    rec.ID,
		"currency":        b.Currency,
		"total_before":    b.TotalInclTaxExclDiscounts().StringFixed(2),
		"total_after":     b.TotalInclTax().StringFixed(2),
		"basket_discount": apps.BasketDiscount().StringFixed(2),
		"applied_offers":  views,
	})
}

// cheapestRecord picks the stock record the basket would be filled from:
// the lowest priced one that can be bought at all.
func cheapestRecord(r *partner.Registry, records []*models.StockRecord) *models.StockRecord {
	best := records[0]
	var bestPrice *decimal.Decimal
	for _, rec := range records {
		info := r.PurchaseInfo(rec)
		if !info.Availability.IsAvailableToBuy {
			continue
		}
		if bestPrice == nil || info.Price.InclTax.LessThan(*bestPrice) {
			p := info.Price.InclTax
			best, bestPrice = rec, &p
		}
	}
	return best
}
