package gateway

import (
	"context"
	"fmt"

	"github.com/magebridge/connector/internal/application/reconcile"
	"github.com/magebridge/connector/internal/domain/integration"
	"github.com/magebridge/connector/internal/infrastructure/magento"
)

// customerFieldMap translates remote customer fields to canonical
// attribute codes.
var customerFieldMap = map[string]string{
	"email":      "email",
	"firstname":  "firstname",
	"middlename": "middlename",
	"lastname":   "lastname",
	"prefix":     "prefix",
	"suffix":     "suffix",
	"group_id":   "group_id",
	"website_id": "website_id",
	"taxvat":     "taxvat",
	"created_at": "created_at",
	"updated_at": "updated_at",
}

// addressFieldMap translates remote customer address fields.
var addressFieldMap = map[string]string{
	"firstname":  "firstname",
	"lastname":   "lastname",
	"company":    "company",
	"street":     "street",
	"city":       "city",
	"region":     "region",
	"postcode":   "postcode",
	"country_id": "country_id",
	"telephone":  "telephone",
}

// CustomerGateway syncs customer records and their addresses.
type CustomerGateway struct {
	base
}

// NewCustomerGateway creates a new CustomerGateway
func NewCustomerGateway(deps Deps) (*CustomerGateway, error) {
	b, err := newBase(integration.EntityTypeCustomer, deps)
	if err != nil {
		return nil, err
	}
	return &CustomerGateway{base: b}, nil
}

var _ Gateway = (*CustomerGateway)(nil)

// Retrieve runs one incremental customer retrieval pass
func (g *CustomerGateway) Retrieve(ctx context.Context) error {
	return g.runPass(ctx, g.fetch, g.handle)
}

func (g *CustomerGateway) fetch(ctx context.Context, since string) ([]map[string]any, error) {
	result, err := g.client.Call(ctx, "customer.list", updatedSinceFilter(since))
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

func (g *CustomerGateway) handle(ctx context.Context, row map[string]any) error {
	localID, ok := attrInt64(row["customer_id"])
	if !ok {
		localID, ok = attrInt64(row["entity_id"])
	}
	if !ok {
		return fmt.Errorf("%w: customer record without customer_id", integration.ErrIntegrity)
	}

	if g.node.LoadFullRecord {
		full, err := g.client.Call(ctx, "customer.info", []any{localID})
		if err != nil {
			return err
		}
		if fullRow, ok := magento.AsRecord(full); ok {
			row = fullRow
		}
	}

	email := attrString(row["email"])
	if email == "" {
		return fmt.Errorf("%w: customer %d has no email", integration.ErrMissingUniqueID, localID)
	}

	scope := 0
	if g.node.MultiStore {
		if storeID, ok := attrInt64(row["store_id"]); ok {
			scope = int(storeID)
		}
	}

	children, err := g.fetchAddresses(ctx, localID)
	if err != nil {
		return err
	}

	_, _, err = g.reconciler.Reconcile(ctx, g.node.Name, reconcile.Record{
		Type:       integration.EntityTypeCustomer,
		StoreScope: scope,
		UniqueID:   email,
		LocalID:    localID,
		Attributes: g.mapFields(row, customerFieldMap, integration.EntityTypeCustomer),
		Children:   children,
	})
	return err
}

// fetchAddresses loads the customer's address book as child records.
// Addresses are keyed by role: the default billing and shipping
// addresses keep stable keys, the rest fall back to their remote id.
func (g *CustomerGateway) fetchAddresses(ctx context.Context, customerID int64) ([]reconcile.ChildRecord, error) {
	result, err := g.client.Call(ctx, "customer_address.list", []any{customerID})
	if err != nil {
		return nil, err
	}

	var children []reconcile.ChildRecord
	for _, item := range magento.AsList(result) {
		row, ok := magento.AsRecord(item)
		if !ok {
			continue
		}
		addressID, _ := attrInt64(row["customer_address_id"])
		if addressID == 0 {
			addressID, _ = attrInt64(row["entity_id"])
		}

		role := fmt.Sprintf("address-%d", addressID)
		if attrString(row["is_default_billing"]) == "1" || row["is_default_billing"] == true {
			role = "billing"
		} else if attrString(row["is_default_shipping"]) == "1" || row["is_default_shipping"] == true {
			role = "shipping"
		}

		attrs := g.mapFields(row, addressFieldMap, integration.EntityTypeAddress)
		children = append(children, reconcile.ChildRecord{
			Type:           integration.EntityTypeAddress,
			NaturalKeyCode: "role",
			NaturalKey:     role,
			LocalID:        addressID,
			Attributes:     attrs,
		})
	}
	return children, nil
}

// WriteUpdates pushes changed customer attributes back to the node
func (g *CustomerGateway) WriteUpdates(ctx context.Context, entity *integration.Entity, changedCodes []string, change integration.ChangeType) error {
	if err := g.requireNode(); err != nil {
		return err
	}

	values := changedValues(entity, changedCodes)

	switch change {
	case integration.ChangeTypeCreate:
		return g.createRemote(ctx, entity, values)
	case integration.ChangeTypeUpdate:
		return g.writeBack(ctx, entity, "customer", values, func(ctx context.Context, localID int64) error {
			return g.updateRemote(ctx, entity, localID, values)
		})
	case integration.ChangeTypeDelete:
		return g.deleteRemote(ctx, entity)
	default:
		return fmt.Errorf("gateway: unknown change type %q", change)
	}
}

func (g *CustomerGateway) createRemote(ctx context.Context, entity *integration.Entity, values map[string]any) error {
	result, err := g.client.Call(ctx, "customer.create", []any{values})
	if err != nil {
		return err
	}
	localID, ok := attrInt64(result)
	if !ok {
		return fmt.Errorf("%w: customer.create returned no id", integration.ErrIntegrity)
	}
	return g.store.LinkEntity(ctx, g.node.Name, entity, localID)
}

// updateRemote addresses the remote record by local id. The id comes in
// from the caller rather than a fresh link lookup so the RPC retry after
// a failed attribute-store write, which has already removed the link,
// still reaches the right record.
func (g *CustomerGateway) updateRemote(ctx context.Context, entity *integration.Entity, localID int64, values map[string]any) error {
	if localID == 0 {
		return fmt.Errorf("%w: customer %q on %s", integration.ErrNotLinked, entity.UniqueID, g.node.Name)
	}
	_, err := g.client.Call(ctx, "customer.update", []any{localID, values})
	return err
}

func (g *CustomerGateway) deleteRemote(ctx context.Context, entity *integration.Entity) error {
	localID, linked, err := g.store.LocalID(ctx, g.node.Name, entity)
	if err != nil {
		return err
	}
	if !linked {
		return fmt.Errorf("%w: customer %q on %s", integration.ErrNotLinked, entity.UniqueID, g.node.Name)
	}
	if _, err := g.client.Call(ctx, "customer.delete", []any{localID}); err != nil {
		return err
	}
	return g.store.UnlinkEntity(ctx, g.node.Name, entity)
}

// WriteAction performs a remote customer action
func (g *CustomerGateway) WriteAction(ctx context.Context, action Action) error {
	return g.callAction(ctx, "customer", action)
}

// changedValues selects the changed attribute values from an entity.
func changedValues(entity *integration.Entity, changedCodes []string) map[string]any {
	values := make(map[string]any, len(changedCodes))
	for _, code := range changedCodes {
		if v := entity.Attr(code); v != nil {
			values[code] = v
		}
	}
	return values
}
