package gateway

import (
	"context"
	"fmt"

	"github.com/magebridge/connector/internal/application/reconcile"
	"github.com/magebridge/connector/internal/domain/integration"
	"github.com/magebridge/connector/internal/infrastructure/magento"
)

// creditMemoFieldMap translates remote credit memo fields.
var creditMemoFieldMap = map[string]string{
	"increment_id":       "increment_id",
	"order_increment_id": "order_increment_id",
	"state":              "state",
	"subtotal":           "subtotal",
	"tax_amount":         "tax_amount",
	"shipping_amount":    "shipping_amount",
	"adjustment":         "adjustment",
	"grand_total":        "grand_total",
	"created_at":         "created_at",
	"updated_at":         "updated_at",
}

// creditMemoLineFieldMap translates remote credit memo item fields.
var creditMemoLineFieldMap = map[string]string{
	"sku":        "sku",
	"name":       "name",
	"qty":        "qty",
	"price":      "price",
	"row_total":  "row_total",
	"tax_amount": "tax_amount",
}

// CreditMemoGateway syncs credit memos (refund documents) and their
// line items.
type CreditMemoGateway struct {
	base
}

// NewCreditMemoGateway creates a new CreditMemoGateway
func NewCreditMemoGateway(deps Deps) (*CreditMemoGateway, error) {
	b, err := newBase(integration.EntityTypeCreditMemo, deps)
	if err != nil {
		return nil, err
	}
	return &CreditMemoGateway{base: b}, nil
}

var _ Gateway = (*CreditMemoGateway)(nil)

// Retrieve runs one incremental credit memo retrieval pass
func (g *CreditMemoGateway) Retrieve(ctx context.Context) error {
	return g.runPass(ctx, g.fetch, g.handle)
}

func (g *CreditMemoGateway) fetch(ctx context.Context, since string) ([]map[string]any, error) {
	result, err := g.client.Call(ctx, "sales_order_creditmemo.list", updatedSinceFilter(since))
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

func (g *CreditMemoGateway) handle(ctx context.Context, row map[string]any) error {
	incrementID := attrString(row["increment_id"])
	if incrementID == "" {
		return fmt.Errorf("%w: credit memo record without increment_id", integration.ErrMissingUniqueID)
	}

	if g.node.LoadFullRecord {
		full, err := g.client.Call(ctx, "sales_order_creditmemo.info", []any{incrementID})
		if err != nil {
			return err
		}
		if fullRow, ok := magento.AsRecord(full); ok {
			row = fullRow
		}
	}

	localID, ok := attrInt64(row["creditmemo_id"])
	if !ok {
		localID, ok = attrInt64(row["entity_id"])
	}
	if !ok {
		return fmt.Errorf("%w: credit memo %s has no internal id", integration.ErrIntegrity, incrementID)
	}

	scope := 0
	if g.node.MultiStore {
		if storeID, ok := attrInt64(row["store_id"]); ok {
			scope = int(storeID)
		}
	}

	_, _, err := g.reconciler.Reconcile(ctx, g.node.Name, reconcile.Record{
		Type:       integration.EntityTypeCreditMemo,
		StoreScope: scope,
		UniqueID:   incrementID,
		LocalID:    localID,
		Attributes: g.mapFields(row, creditMemoFieldMap, integration.EntityTypeCreditMemo),
		Children:   g.mapLines(row),
	})
	return err
}

// mapLines converts the memo's items into child records; per-unit tax
// derivation follows the order line rules.
func (g *CreditMemoGateway) mapLines(row map[string]any) []reconcile.ChildRecord {
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

		attrs := g.mapFields(line, creditMemoLineFieldMap, integration.EntityTypeCreditMemoLine)
		attrs["tax_per_unit"] = taxPerUnit(line).String()

		children = append(children, reconcile.ChildRecord{
			Type:           integration.EntityTypeCreditMemoLine,
			NaturalKeyCode: "sku",
			NaturalKey:     sku,
			LocalID:        itemID,
			Attributes:     attrs,
		})
	}
	return children
}

// WriteUpdates pushes local credit memo changes outward. Credit memos
// are immutable documents remotely; only comments and cancellation
// translate.
func (g *CreditMemoGateway) WriteUpdates(ctx context.Context, entity *integration.Entity, changedCodes []string, change integration.ChangeType) error {
	if err := g.requireNode(); err != nil {
		return err
	}

	switch change {
	case integration.ChangeTypeCreate:
		return fmt.Errorf("gateway: credit memos cannot be created on %s, they originate remotely", g.node.Name)
	case integration.ChangeTypeUpdate:
		values := changedValues(entity, changedCodes)
		comment, ok := values["comment"]
		if !ok {
			return nil
		}
		_, err := g.client.Call(ctx, "sales_order_creditmemo.addComment",
			[]any{entity.UniqueID, attrString(comment), false, false})
		return err
	case integration.ChangeTypeDelete:
		_, err := g.client.Call(ctx, "sales_order_creditmemo.cancel", []any{entity.UniqueID})
		return err
	default:
		return fmt.Errorf("gateway: unknown change type %q", change)
	}
}

// WriteAction performs a remote credit memo action
func (g *CreditMemoGateway) WriteAction(ctx context.Context, action Action) error {
	return g.callAction(ctx, "sales_order_creditmemo", action)
}
