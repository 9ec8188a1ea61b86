package vaultsync

// State is the engine's observable sync state.
//
//	Idle → CheckingStatus → {Syncing | UpgradeRequired | Offline} → {Synced | Error}
type State int

const (
	StateIdle State = iota
	StateCheckingStatus
	StateSyncing
	StateUpgradeRequired
	StateOffline
	StateSynced
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCheckingStatus:
		return "checking-status"
	case StateSyncing:
		return "syncing"
	case StateUpgradeRequired:
		return "upgrade-required"
	case StateOffline:
		return "offline"
	case StateSynced:
		return "synced"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Outcome is the result of a completed Sync call. Callers branch on the
// returned value instead of registering state callbacks.
type Outcome int

const (
	// OutcomeSynced: local and server vaults agree.
	OutcomeSynced Outcome = iota
	// OutcomeUpgradeRequired: the vault needs a schema upgrade before
	// syncing can continue; call ProceedUpgrade after user confirmation.
	OutcomeUpgradeRequired
	// OutcomeOffline: the server is unreachable; the unlocked local
	// vault remains usable read-only or for mutations flagged unsynced.
	OutcomeOffline
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSynced:
		return "synced"
	case OutcomeUpgradeRequired:
		return "upgrade-required"
	case OutcomeOffline:
		return "offline"
	default:
		return "unknown"
	}
}
