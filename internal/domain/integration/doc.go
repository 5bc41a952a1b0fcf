// Package integration holds the core domain model of the connector: nodes,
// canonical entities, entity-type enumeration, checkpoint windowing and
// the ports toward the canonical entity store. Concrete adapters
// (Postgres-backed store, Magento RPC client, EAV access layer) live in
// the infrastructure layer.
package integration
