// Package orchestrator drives device actions through their lifecycle.
//
// An action is created PENDING, handed to the Executor for its type on a
// background goroutine, marked RUNNING once the hand-off succeeds and
// finished when an outcome arrives. The device is BUSY for the whole time
// and returns to IDLE on any terminal status.
//
// Architecture:
//
//	┌──────────────────────────────────────────────────────────┐
//	│                 Orchestrator (orchestrator.go)            │
//	│  ┌──────────────┐   ┌──────────────┐   ┌──────────────┐  │
//	│  │   Registry   │   │    Ledger    │   │  Executors   │  │
//	│  │   (device)   │   │   (action)   │   │ mqtt / sim   │  │
//	│  └──────────────┘   └──────────────┘   └──────────────┘  │
//	│                                                           │
//	│  InitiateAction ─▶ Create PENDING ─▶ device BUSY          │
//	│        │                                                  │
//	│        ▼ (goroutine, bounded by semaphore)                │
//	│  Dispatch ─▶ RUNNING  or  FAILED (dispatch_rejected)      │
//	│        │                                                  │
//	│        ▼                                                  │
//	│  ReportOutcome / watchdog ─▶ COMPLETED | FAILED ─▶ IDLE   │
//	└──────────────────────────────────────────────────────────┘
//
// Outcomes reach the orchestrator from three places: agents publishing on
// fleet/ack/{device_id} (HandleAgentReport), the REST outcome endpoint, and
// the simulated executor. The watchdog fails any action still non-terminal
// at its deadline.
//
// # Thread Safety
//
// Every mutation of a device, and of the action active on it, runs under a
// per-device mutex, so two InitiateAction calls on one device cannot both
// succeed. Different devices proceed in parallel.
package orchestrator
