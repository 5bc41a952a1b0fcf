package gateway

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/magebridge/connector/internal/application/reconcile"
	"github.com/magebridge/connector/internal/domain/integration"
	"github.com/magebridge/connector/internal/infrastructure/magento"
)

// orderFieldMap translates remote order fields to canonical attribute codes.
var orderFieldMap = map[string]string{
	"increment_id":        "increment_id",
	"state":               "state",
	"status":              "status",
	"customer_email":      "customer_email",
	"customer_firstname":  "customer_firstname",
	"customer_lastname":   "customer_lastname",
	"subtotal":            "subtotal",
	"tax_amount":          "tax_amount",
	"shipping_amount":     "shipping_amount",
	"discount_amount":     "discount_amount",
	"grand_total":         "grand_total",
	"order_currency_code": "currency",
	"created_at":          "created_at",
	"updated_at":          "updated_at",
}

// orderLineFieldMap translates remote order item fields.
var orderLineFieldMap = map[string]string{
	"sku":         "sku",
	"name":        "name",
	"qty_ordered": "qty",
	"price":       "price",
	"row_total":   "row_total",
	"tax_amount":  "tax_amount",
	"product_id":  "product_id",
}

// OrderGateway syncs sales orders and their line items.
type OrderGateway struct {
	base
}

// NewOrderGateway creates a new OrderGateway
func NewOrderGateway(deps Deps) (*OrderGateway, error) {
	b, err := newBase(integration.EntityTypeOrder, deps)
	if err != nil {
		return nil, err
	}
	return &OrderGateway{base: b}, nil
}

var _ Gateway = (*OrderGateway)(nil)

// Retrieve runs one incremental order retrieval pass
func (g *OrderGateway) Retrieve(ctx context.Context) error {
	return g.runPass(ctx, g.fetch, g.handle)
}

func (g *OrderGateway) fetch(ctx context.Context, since string) ([]map[string]any, error) {
	result, err := g.client.Call(ctx, "sales_order.list", updatedSinceFilter(since))
	if err != nil {
		return nil, err
	}

	var rows []map[string]any
	for _, item := range magento.AsList(result) {
		row, ok := magento.AsRecord(item)
		if !ok {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (g *OrderGateway) handle(ctx context.Context, row map[string]any) error {
	incrementID := attrString(row["increment_id"])
	if incrementID == "" {
		return fmt.Errorf("%w: order record without increment_id", integration.ErrMissingUniqueID)
	}

	if g.node.LoadFullRecord {
		full, err := g.client.Call(ctx, "sales_order.info", []any{incrementID})
		if err != nil {
			return err
		}
		if fullRow, ok := magento.AsRecord(full); ok {
			row = fullRow
		}
	}

	localID, ok := attrInt64(row["order_id"])
	if !ok {
		localID, ok = attrInt64(row["entity_id"])
	}
	if !ok {
		return fmt.Errorf("%w: order %s has no internal id", integration.ErrIntegrity, incrementID)
	}

	scope := 0
	if g.node.MultiStore {
		if storeID, ok := attrInt64(row["store_id"]); ok {
			scope = int(storeID)
		}
	}

	_, _, err := g.reconciler.Reconcile(ctx, g.node.Name, reconcile.Record{
		Type:       integration.EntityTypeOrder,
		StoreScope: scope,
		UniqueID:   incrementID,
		LocalID:    localID,
		Attributes: g.mapFields(row, orderFieldMap, integration.EntityTypeOrder),
		Children:   g.mapLines(row),
	})
	return err
}

// mapLines converts the order's items into child records, deriving the
// per-unit tax for each line.
func (g *OrderGateway) mapLines(row map[string]any) []reconcile.ChildRecord {
	var children []reconcile.ChildRecord
	for _, item := range magento.AsList(row["items"]) {
		line, ok := magento.AsRecord(item)
		if !ok {
			continue
		}
		sku := attrString(line["sku"])
		if sku == "" {
			continue
		}
		itemID, _ := attrInt64(line["item_id"])

		attrs := g.mapFields(line, orderLineFieldMap, integration.EntityTypeOrderLine)
		attrs["tax_per_unit"] = taxPerUnit(line).String()

		children = append(children, reconcile.ChildRecord{
			Type:           integration.EntityTypeOrderLine,
			NaturalKeyCode: "sku",
			NaturalKey:     sku,
			LocalID:        itemID,
			Attributes:     attrs,
		})
	}
	return children
}

// taxPerUnit derives a line's per-unit tax. Remote systems omit tax
// fields inconsistently, so the derivation degrades through three
// tiers before giving up:
//  1. difference between tax-inclusive and tax-exclusive unit price
//  2. tax-inclusive/exclusive row total difference prorated by quantity
//  3. the line's tax total prorated by quantity
func taxPerUnit(line map[string]any) decimal.Decimal {
	price, hasPrice := attrDecimal(line["price"])
	priceInclTax, hasInclTax := attrDecimal(line["price_incl_tax"])
	if hasPrice && hasInclTax {
		return priceInclTax.Sub(price)
	}

	qty, hasQty := lineQty(line)
	if !hasQty || !qty.IsPositive() {
		return decimal.Zero
	}

	rowTotal, hasRowTotal := attrDecimal(line["row_total"])
	rowTotalInclTax, hasRowInclTax := attrDecimal(line["row_total_incl_tax"])
	if hasRowTotal && hasRowInclTax {
		return rowTotalInclTax.Sub(rowTotal).DivRound(qty, 4)
	}

	taxAmount, hasTax := attrDecimal(line["tax_amount"])
	if hasTax {
		return taxAmount.DivRound(qty, 4)
	}

	return decimal.Zero
}

// lineQty reads a line's quantity; order lines carry qty_ordered,
// credit memo lines plain qty.
func lineQty(line map[string]any) (decimal.Decimal, bool) {
	if qty, ok := attrDecimal(line["qty_ordered"]); ok {
		return qty, true
	}
	return attrDecimal(line["qty"])
}

// WriteUpdates pushes local order changes back to the node. Orders
// originate remotely: only status changes and cancellation translate
// outward, and both go through the RPC path.
func (g *OrderGateway) WriteUpdates(ctx context.Context, entity *integration.Entity, changedCodes []string, change integration.ChangeType) error {
	if err := g.requireNode(); err != nil {
		return err
	}

	switch change {
	case integration.ChangeTypeCreate:
		return fmt.Errorf("gateway: orders cannot be created on %s, they originate remotely", g.node.Name)
	case integration.ChangeTypeUpdate:
		values := changedValues(entity, changedCodes)
		status, ok := values["status"]
		if !ok {
			// nothing the remote side accepts changed
			return nil
		}
		_, err := g.client.Call(ctx, "sales_order.addComment",
			[]any{entity.UniqueID, attrString(status), "Status updated by connector", false})
		return err
	case integration.ChangeTypeDelete:
		_, err := g.client.Call(ctx, "sales_order.cancel", []any{entity.UniqueID})
		return err
	default:
		return fmt.Errorf("gateway: unknown change type %q", change)
	}
}

// WriteAction performs a remote order action (addComment, hold, unhold,
// cancel)
func (g *OrderGateway) WriteAction(ctx context.Context, action Action) error {
	return g.callAction(ctx, "sales_order", action)
}
