package gateway

import (
	"context"
	"fmt"

	"github.com/magebridge/connector/internal/application/reconcile"
	"github.com/magebridge/connector/internal/domain/integration"
	"github.com/magebridge/connector/internal/infrastructure/magento"
)

// productFieldMap translates remote product fields to canonical
// attribute codes.
var productFieldMap = map[string]string{
	"sku":               "sku",
	"name":              "name",
	"price":             "price",
	"special_price":     "special_price",
	"status":            "status",
	"visibility":        "visibility",
	"type":              "type",
	"type_id":           "type",
	"set":               "attribute_set",
	"weight":            "weight",
	"description":       "description",
	"short_description": "short_description",
	"created_at":        "created_at",
	"updated_at":        "updated_at",
}

// productEAVCodes are the attribute codes loaded on the database read
// path. updated_at and sku are static columns of the product table.
var productEAVCodes = []string{
	"sku", "name", "price", "special_price", "status", "visibility",
	"weight", "description", "short_description", "created_at", "updated_at",
}

// ProductGateway syncs catalog products. Retrieval prefers the node's
// attribute store when database access is configured; nodes without it
// fall back to the RPC list/info operations.
type ProductGateway struct {
	base
}

// NewProductGateway creates a new ProductGateway
func NewProductGateway(deps Deps) (*ProductGateway, error) {
	b, err := newBase(integration.EntityTypeProduct, deps)
	if err != nil {
		return nil, err
	}
	return &ProductGateway{base: b}, nil
}

var _ Gateway = (*ProductGateway)(nil)

// Retrieve runs one incremental product retrieval pass
func (g *ProductGateway) Retrieve(ctx context.Context) error {
	return g.runPass(ctx, g.fetch, g.handle)
}

func (g *ProductGateway) fetch(ctx context.Context, since string) ([]map[string]any, error) {
	if g.attrs != nil {
		return g.fetchEAV(ctx, since)
	}
	return g.fetchRPC(ctx, since)
}

// fetchEAV reads changed products straight from the node's database.
// The whole catalog is scanned and filtered on updated_at; the layout
// of the remote timestamp makes lexical comparison chronological.
func (g *ProductGateway) fetchEAV(ctx context.Context, since string) ([]map[string]any, error) {
	records, err := g.attrs.LoadEntities(ctx, "catalog_product", nil, 0, append([]string{}, append(productEAVCodes, g.node.ExtraAttributesFor(integration.EntityTypeProduct)...)...))
	if err != nil {
		return nil, err
	}

	var rows []map[string]any
	for _, rec := range records {
		updatedAt := attrString(rec.Values["updated_at"])
		if since != "" && updatedAt < since {
			continue
		}
		row := make(map[string]any, len(rec.Values)+1)
		for code, v := range rec.Values {
			row[code] = v
		}
		row["product_id"] = rec.EntityID
		rows = append(rows, row)
	}
	return rows, nil
}

func (g *ProductGateway) fetchRPC(ctx context.Context, since string) ([]map[string]any, error) {
	result, err := g.client.Call(ctx, "catalog_product.list", updatedSinceFilter(since))
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

func (g *ProductGateway) handle(ctx context.Context, row map[string]any) error {
	localID, ok := attrInt64(row["product_id"])
	if !ok {
		localID, ok = attrInt64(row["entity_id"])
	}
	if !ok {
		return fmt.Errorf("%w: product record without product_id", integration.ErrIntegrity)
	}

	// the database path already returns full records
	if g.node.LoadFullRecord && g.attrs == nil {
		full, err := g.client.Call(ctx, "catalog_product.info", []any{localID})
		if err != nil {
			return err
		}
		if fullRow, ok := magento.AsRecord(full); ok {
			row = fullRow
		}
	}

	sku := attrString(row["sku"])
	if sku == "" {
		return fmt.Errorf("%w: product %d has no sku", integration.ErrMissingUniqueID, localID)
	}

	_, _, err := g.reconciler.Reconcile(ctx, g.node.Name, reconcile.Record{
		Type:       integration.EntityTypeProduct,
		UniqueID:   sku,
		LocalID:    localID,
		Attributes: g.mapFields(row, productFieldMap, integration.EntityTypeProduct),
	})
	return err
}

// WriteUpdates pushes changed product attributes back to the node
func (g *ProductGateway) WriteUpdates(ctx context.Context, entity *integration.Entity, changedCodes []string, change integration.ChangeType) error {
	if err := g.requireNode(); err != nil {
		return err
	}

	values := changedValues(entity, changedCodes)

	switch change {
	case integration.ChangeTypeCreate:
		return g.createRemote(ctx, entity, values)
	case integration.ChangeTypeUpdate:
		// catalog_product.update addresses records by sku, so the
		// pre-unlink local id is not needed here.
		return g.writeBack(ctx, entity, "catalog_product", values, func(ctx context.Context, _ int64) error {
			return g.updateRemote(ctx, entity, values)
		})
	case integration.ChangeTypeDelete:
		return g.deleteRemote(ctx, entity)
	default:
		return fmt.Errorf("gateway: unknown change type %q", change)
	}
}

func (g *ProductGateway) createRemote(ctx context.Context, entity *integration.Entity, values map[string]any) error {
	productType := attrString(entity.Attr("type"))
	if productType == "" {
		productType = "simple"
	}
	attributeSet := attrString(entity.Attr("attribute_set"))

	result, err := g.client.Call(ctx, "catalog_product.create",
		[]any{productType, attributeSet, entity.UniqueID, values})
	if err != nil {
		return err
	}
	localID, ok := attrInt64(result)
	if !ok {
		return fmt.Errorf("%w: catalog_product.create returned no id", integration.ErrIntegrity)
	}
	return g.store.LinkEntity(ctx, g.node.Name, entity, localID)
}

func (g *ProductGateway) updateRemote(ctx context.Context, entity *integration.Entity, values map[string]any) error {
	// products are addressable by sku on the RPC path, no link needed
	_, err := g.client.Call(ctx, "catalog_product.update", []any{entity.UniqueID, values})
	return err
}

func (g *ProductGateway) deleteRemote(ctx context.Context, entity *integration.Entity) error {
	if _, err := g.client.Call(ctx, "catalog_product.delete", []any{entity.UniqueID}); err != nil {
		return err
	}
	return g.store.UnlinkEntity(ctx, g.node.Name, entity)
}

// WriteAction performs a remote product action
func (g *ProductGateway) WriteAction(ctx context.Context, action Action) error {
	return g.callAction(ctx, "catalog_product", action)
}
