// Package query is the read-only face of the fleet: device and action
// lookups for the REST boundary and the CLI.
package query

import (
	"context"

	"github.com/nerrad567/gray-logic-fleet/internal/action"
	"github.com/nerrad567/gray-logic-fleet/internal/device"
)

// Service answers device and action queries. It never mutates state.
type Service struct {
	devices *device.Registry
	ledger  *action.Ledger
}

// NewService creates a query service over the given registry and ledger.
func NewService(devices *device.Registry, ledger *action.Ledger) *Service {
	return &Service{devices: devices, ledger: ledger}
}

// GetDeviceInfo returns a device or device.ErrDeviceNotFound.
func (s *Service) GetDeviceInfo(ctx context.Context, deviceID string) (*device.Device, error) {
	return s.devices.Get(ctx, deviceID)
}

// ListDevices returns every device ordered by ID.
func (s *Service) ListDevices(ctx context.Context) ([]device.Device, error) {
	return s.devices.List(ctx)
}

// GetActionStatus returns the latest committed state of an action, or
// action.ErrActionNotFound.
func (s *Service) GetActionStatus(ctx context.Context, actionID string) (*action.Action, error) {
	return s.ledger.Get(ctx, actionID)
}

// ListDeviceActions returns a device's actions in creation order.
func (s *Service) ListDeviceActions(ctx context.Context, deviceID string) ([]action.Action, error) {
	return s.ledger.ListByDevice(ctx, deviceID)
}

// ActionTypes returns the action types the fleet accepts.
func (s *Service) ActionTypes() []action.Type {
	return s.ledger.Catalogue().Types()
}

// DeviceStats returns device counts by status.
func (s *Service) DeviceStats() device.Stats {
	return s.devices.GetStats()
}
