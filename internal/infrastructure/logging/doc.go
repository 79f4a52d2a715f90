// Package logging builds the slog logger shared by every homesync process.
//
// Entries always carry service, version and role, so output from the bridge
// and the nodes can be merged in one place. Subsystems add a component and
// node processes add their device_id:
//
//	log := logging.New(cfg.Logging, version, "door").Device("door_lock")
//	log.Info("access requested", "credential", cred)
//
// logging.format selects JSON (default) or text. With
// logging.redact_credentials set, credential attributes are masked down to
// their last four digits.
package logging
