package ports

import (
	"context"

	"sidescreen/internal/core/domain"
)

// DiscoveryHandler receives device attach/detach notifications from the
// discovery layer.
type DiscoveryHandler interface {
	OnDeviceAttached(device domain.Device)
	OnDeviceDetached(id domain.DeviceID)
}

// InputHandler receives input events decoded from a device channel.
type InputHandler interface {
	RouteInputEvent(ctx context.Context, deviceID domain.DeviceID, event domain.InputEvent)
}

// LifecycleSubscriber consumes lifecycle notifications.
type LifecycleSubscriber interface {
	Subscribe(buffer int) (<-chan domain.LifecycleEvent, func())
}
