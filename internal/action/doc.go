// Package action implements the action ledger: the authoritative record of
// every action initiated against a device.
//
// An action is created PENDING and moves through the state machine
//
//	PENDING --dispatch--> RUNNING --success--> COMPLETED
//	PENDING --rejected--> FAILED
//	RUNNING --failure/timeout--> FAILED
//
// COMPLETED and FAILED are terminal. Records are never deleted.
//
// Action types live in a Catalogue. SOFTWARE_UPDATE requires a semantic
// "version"; REBOOT accepts an optional non-negative "delay_seconds".
package action
