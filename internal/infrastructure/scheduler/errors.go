package scheduler

import "errors"

var (
	// ErrUnknownNode is returned when a manual sync names a node that
	// is not configured
	ErrUnknownNode = errors.New("scheduler: unknown node")

	// ErrNoGatewayForType is returned when a manual sync names an
	// entity type the node has no gateway for
	ErrNoGatewayForType = errors.New("scheduler: no gateway for entity type")
)
