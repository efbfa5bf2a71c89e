package system

import (
	"context"

	core "github.com/r3e-network/selun-engine/system/framework/core"
)

// Service represents a lifecycle-managed component. All application modules
// must implement this interface so the system manager can start and stop them
// deterministically.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// LifecycleService is the common contract for engine-managed services that expose readiness.
// It adds a Ready check to Service.
type LifecycleService interface {
	Service
	Ready(ctx context.Context) error
}

// DescriptorProvider optionally advertises service metadata (layer, capabilities).
type DescriptorProvider interface {
	Descriptor() core.Descriptor
}
