package gateway

import (
	"context"
	"fmt"

	"github.com/magebridge/connector/internal/application/reconcile"
	"github.com/magebridge/connector/internal/domain/integration"
	"github.com/magebridge/connector/internal/infrastructure/magento"
)

// stockFieldMap translates remote stock item fields.
var stockFieldMap = map[string]string{
	"sku":         "sku",
	"qty":         "qty",
	"is_in_stock": "is_in_stock",
	"product_id":  "product_id",
}

// StockGateway syncs stock levels. Stock items carry no timestamps of
// their own on the remote side, so the pass follows the products
// changed in the window and loads their stock records.
type StockGateway struct {
	base
}

// NewStockGateway creates a new StockGateway
func NewStockGateway(deps Deps) (*StockGateway, error) {
	b, err := newBase(integration.EntityTypeStock, deps)
	if err != nil {
		return nil, err
	}
	return &StockGateway{base: b}, nil
}

var _ Gateway = (*StockGateway)(nil)

// Retrieve runs one incremental stock retrieval pass
func (g *StockGateway) Retrieve(ctx context.Context) error {
	if err := g.requireNode(); err != nil {
		return err
	}
	if !g.node.LoadStock {
		g.logger.Debug("Stock loading disabled for node, skipping pass")
		return nil
	}
	return g.runPass(ctx, g.fetch, g.handle)
}

func (g *StockGateway) fetch(ctx context.Context, since string) ([]map[string]any, error) {
	products, err := g.client.Call(ctx, "catalog_product.list", updatedSinceFilter(since))
	if err != nil {
		return nil, err
	}

	var productIDs []any
	for _, item := range magento.AsList(products) {
		row, ok := magento.AsRecord(item)
		if !ok {
			continue
		}
		if id, ok := attrInt64(row["product_id"]); ok {
			productIDs = append(productIDs, id)
		}
	}
	if len(productIDs) == 0 {
		return nil, nil
	}

	result, err := g.client.Call(ctx, "cataloginventory_stock_item.list", []any{productIDs})
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

func (g *StockGateway) handle(ctx context.Context, row map[string]any) error {
	sku := attrString(row["sku"])
	if sku == "" {
		return fmt.Errorf("%w: stock record without sku", integration.ErrMissingUniqueID)
	}
	productID, ok := attrInt64(row["product_id"])
	if !ok {
		return fmt.Errorf("%w: stock record for %s without product_id", integration.ErrIntegrity, sku)
	}

	_, _, err := g.reconciler.Reconcile(ctx, g.node.Name, reconcile.Record{
		Type:       integration.EntityTypeStock,
		UniqueID:   sku,
		LocalID:    productID,
		Attributes: g.mapFields(row, stockFieldMap, integration.EntityTypeStock),
	})
	return err
}

// WriteUpdates pushes a local stock level back to the node. Stock rows
// live outside the attribute tables, so the write always goes through
// the RPC path.
func (g *StockGateway) WriteUpdates(ctx context.Context, entity *integration.Entity, changedCodes []string, change integration.ChangeType) error {
	if err := g.requireNode(); err != nil {
		return err
	}
	if change == integration.ChangeTypeDelete {
		return fmt.Errorf("gateway: stock records cannot be deleted on %s", g.node.Name)
	}

	values := changedValues(entity, changedCodes)
	update := make(map[string]any, 2)
	if qty, ok := values["qty"]; ok {
		update["qty"] = qty
	}
	if inStock, ok := values["is_in_stock"]; ok {
		update["is_in_stock"] = inStock
	}
	if len(update) == 0 {
		return nil
	}

	_, err := g.client.Call(ctx, "cataloginventory_stock_item.update", []any{entity.UniqueID, update})
	return err
}

// WriteAction performs a remote stock action
func (g *StockGateway) WriteAction(ctx context.Context, action Action) error {
	return g.callAction(ctx, "cataloginventory_stock_item", action)
}
