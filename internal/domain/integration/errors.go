package integration

import "errors"

var (
	// ErrNotFound indicates no canonical entity matched the lookup
	ErrNotFound = errors.New("integration: entity not found")
	// ErrNotLinked indicates the entity carries no link for the node
	ErrNotLinked = errors.New("integration: entity not linked to node")
	// ErrMissingUniqueID indicates an entity create without a business key
	ErrMissingUniqueID = errors.New("integration: unique id is required")
	// ErrUnknownAttribute indicates an attribute code with no metadata;
	// fatal on write paths under the strict policy
	ErrUnknownAttribute = errors.New("integration: unknown attribute code")
	// ErrIntegrity indicates a referenced parent or child record could
	// not be resolved
	ErrIntegrity = errors.New("integration: data integrity violation")
)
