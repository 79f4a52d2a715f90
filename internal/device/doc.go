// Package device stores the last known state of every homesync device.
//
// Each device has one row keyed by device_id. Which fields are meaningful
// depends on the device kind:
//
//	door    status (Locked/Unlocked), last_user
//	light   mode (off/low/med/high), last_user
//	sensor  temperature, humidity
//
// Writes are last-writer-wins by arrival order at the store. The bridge
// serialises writes per device, so within one device the stored state
// follows message order; across devices there is no ordering.
//
// The package also keeps an append-only log of access decisions
// (AccessEventRepository) with retention pruning. The log is written for
// after-the-fact inspection with sqlite3; this package offers no query API.
//
// # Usage
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//	states := device.NewSQLiteStateStore(db.DB)
//
//	st, err := states.Update(ctx, "door_lock", device.KindDoor, func(s *device.State) error {
//	    s.Status = device.StatusUnlocked
//	    s.LastUser = "04A1B2C3"
//	    return nil
//	})
package device
