// Package device implements the fleet's device registry.
//
// A device is identified by a registrant-supplied ID and carries an
// availability status (IDLE, BUSY, OFFLINE, UNKNOWN), free-form metadata and
// a last-seen timestamp. Registration is not an upsert: a second Register
// with the same ID fails with ErrDeviceExists.
//
// BUSY belongs to the orchestrator. It is set when an action is initiated on
// the device and cleared when that action reaches a terminal status.
//
// Usage:
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo)
//	registry.SetLogger(log)
//	if err := registry.RefreshCache(ctx); err != nil {
//		return err
//	}
//
//	dev, err := registry.Register(ctx, "dev-1", device.StatusIdle, nil)
package device
