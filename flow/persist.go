package flow

import "context"

// PersistedState is what a Persister loads and saves: a serialized State
// keyed by the Application's identifiers, plus the sequence counter it
// must resume from so span and step-sequence numbering stays monotonic
// across a process restart.
type PersistedState struct {
	PartitionKey string
	AppID        string
	State        map[string]any
	SeqCounter   int
	// LastAction and LastInputHash record the most recently completed
	// step's action name and input hash, so ReplayCheck still has
	// something to compare against after a process restart.
	LastAction    string
	LastInputHash string
}

// Persister is the storage contract a Builder uses to resume an existing
// application or initialize a new one, and that an Application uses after
// every successful step to make the new state durable. Concrete
// implementations live in the module's persist/sqlite and persist/mysql
// packages, with an in-memory one (persist/memory) for tests and small
// deployments.
type Persister interface {
	// Load returns the most recent persisted record for partitionKey/appID,
	// or ErrNotFound if none exists.
	Load(ctx context.Context, partitionKey, appID string) (*PersistedState, error)
	// Save durably records rec, overwriting any prior record for the same
	// partitionKey/appID.
	Save(ctx context.Context, rec *PersistedState) error
	// List returns the app IDs with at least one persisted record under
	// partitionKey, most recently saved first.
	List(ctx context.Context, partitionKey string) ([]string, error)
}
