package integration

import (
	"errors"
	"time"
)

// Errors for node configuration
var (
	ErrNodeMissingName    = errors.New("integration: node name is required")
	ErrNodeMissingBaseURL = errors.New("integration: node base URL is required")
)

// EndpointVariant selects how RPC operations are dispatched on the
// remote API.
type EndpointVariant string

const (
	// EndpointLegacy dispatches each operation as its own RPC method
	EndpointLegacy EndpointVariant = "legacy"
	// EndpointGeneric dispatches every operation through a single generic
	// call method taking the operation name as an argument
	EndpointGeneric EndpointVariant = "generic"
)

// IsValid returns true if the endpoint variant is known
func (v EndpointVariant) IsValid() bool {
	return v == EndpointLegacy || v == EndpointGeneric
}

// Node is one configured connection to a remote instance. A node is
// constructed once per sync run and owns its API client instances for
// its lifetime; concurrent runs against the same node must be
// serialized externally.
type Node struct {
	// Name identifies the node; used as the key for links and checkpoints
	Name string
	// BaseURL is the remote API endpoint
	BaseURL string
	// APIUser and APIKey are the remote credentials
	APIUser string
	APIKey  string
	// Endpoint selects the RPC dispatch variant
	Endpoint EndpointVariant
	// MultiStore indicates the remote deployment hosts multiple storefronts
	MultiStore bool
	// LoadFullRecord makes gateways fetch the full record per changed id
	// instead of relying on the list response alone
	LoadFullRecord bool
	// LoadStock enables the stock gateway for this node
	LoadStock bool
	// EAVDSN, when set, enables the direct attribute-store access path
	// against the node's database
	EAVDSN string
	// RateLimit caps remote calls per second (0 = unlimited)
	RateLimit float64
	// ExtraAttributes lists additional attribute codes to retrieve per
	// entity type
	ExtraAttributes map[EntityType][]string
	// TimezoneDeltas holds per-entity-type clock offsets, in hours,
	// between the remote instance and this connector
	TimezoneDeltas map[EntityType]int
}

// Validate checks the minimal node invariants
func (n *Node) Validate() error {
	if n.Name == "" {
		return ErrNodeMissingName
	}
	if n.BaseURL == "" {
		return ErrNodeMissingBaseURL
	}
	if !n.Endpoint.IsValid() {
		n.Endpoint = EndpointLegacy
	}
	return nil
}

// TimezoneDelta returns the configured offset for an entity type
func (n *Node) TimezoneDelta(t EntityType) time.Duration {
	if n.TimezoneDeltas == nil {
		return 0
	}
	return time.Duration(n.TimezoneDeltas[t]) * time.Hour
}

// ExtraAttributesFor returns the extra attribute codes for an entity type
func (n *Node) ExtraAttributesFor(t EntityType) []string {
	if n.ExtraAttributes == nil {
		return nil
	}
	return n.ExtraAttributes[t]
}
