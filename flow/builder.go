package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Builder assembles a Graph and its surrounding configuration into a
// runnable Application. The zero value is not usable; start from
// NewBuilder.
type Builder struct {
	actions     []Action
	transitions []Transition
	entrypoint  string

	typeSystem   TypeSystem
	initialData  any
	registry     *Registry
	persister    Persister
	serde        *SerdeRegistry
	appID        string
	partitionKey string
	opts         []Option
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithActions appends to the set of actions the graph declares. Action
// names must be unique; a duplicate is rejected at Build.
func (b *Builder) WithActions(actions ...Action) *Builder {
	b.actions = append(b.actions, actions...)
	return b
}

// WithTransitions appends to the graph's ordered transition set.
func (b *Builder) WithTransitions(transitions ...Transition) *Builder {
	b.transitions = append(b.transitions, transitions...)
	return b
}

// WithEntrypoint names the action Step chooses when no prior step has run.
func (b *Builder) WithEntrypoint(name string) *Builder {
	b.entrypoint = name
	return b
}

// WithTypeSystem overrides the default DictTypeSystem.
func (b *Builder) WithTypeSystem(ts TypeSystem) *Builder {
	b.typeSystem = ts
	return b
}

// WithInitialState supplies the data a fresh (non-resumed) application
// starts from, projected through the TypeSystem's ConstructState.
func (b *Builder) WithInitialState(data any) *Builder {
	b.initialData = data
	return b
}

// WithHooks registers adapter against every hook family it implements.
func (b *Builder) WithHooks(adapters ...any) *Builder {
	if b.registry == nil {
		b.registry = NewRegistry()
	}
	for _, a := range adapters {
		b.registry.Register(a)
	}
	return b
}

// WithRegistry replaces the builder's hook registry wholesale, in case the
// caller has already assembled one (e.g. with a custom OnHookError).
func (b *Builder) WithRegistry(reg *Registry) *Builder {
	b.registry = reg
	return b
}

// WithPersister attaches the storage backend Build uses to resume an
// existing application (by partitionKey/appID) or, absent a prior record,
// to seed a new one.
func (b *Builder) WithPersister(p Persister) *Builder {
	b.persister = p
	return b
}

// WithSerde overrides DefaultSerde for persisted-state (de)serialization.
func (b *Builder) WithSerde(reg *SerdeRegistry) *Builder {
	b.serde = reg
	return b
}

// WithAppID fixes the application's identifier. If unset, Build generates
// a random one.
func (b *Builder) WithAppID(id string) *Builder {
	b.appID = id
	return b
}

// WithPartitionKey sets the application's partition key, used to scope
// persisted state and as the default grouping key in hook events.
func (b *Builder) WithPartitionKey(key string) *Builder {
	b.partitionKey = key
	return b
}

// WithOptions applies engine-wide Option values (default action timeout,
// run budget).
func (b *Builder) WithOptions(opts ...Option) *Builder {
	b.opts = append(b.opts, opts...)
	return b
}

// Build validates the graph and configuration, resumes from the persister
// if one is set and a prior record exists, and returns a ready-to-run
// Application. It fires post_application_create exactly once, on success.
func (b *Builder) Build(ctx context.Context) (*Application, error) {
	graph := NewGraph(b.actions, b.transitions, b.entrypoint)
	if err := graph.validate(); err != nil {
		return nil, err
	}

	typeSystem := b.typeSystem
	if typeSystem == nil {
		typeSystem = DictTypeSystem{}
	}

	cfg := &engineConfig{}
	for _, opt := range b.opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("flow: applying option: %w", err)
		}
	}

	registry := b.registry
	if registry == nil {
		registry = NewRegistry()
	}

	appID := b.appID
	if appID == "" {
		appID = uuid.NewString()
	}

	state, seqCounter, lastAction, lastInputHash, err := b.resolveInitialState(ctx, typeSystem, appID)
	if err != nil {
		return nil, err
	}

	app := &Application{
		graph:         graph,
		appID:         appID,
		partitionKey:  b.partitionKey,
		dispatcher:    newHookDispatcher(registry),
		registry:      registry,
		typeSystem:    typeSystem,
		persister:     b.persister,
		serde:         b.serde,
		opts:          *cfg,
		state:         state,
		seqCounter:    seqCounter,
		lastAction:    lastAction,
		lastInputHash: lastInputHash,
	}

	if cfg.persistQueueDepth > 0 && b.persister != nil {
		app.persistCh = make(chan *PersistedState, cfg.persistQueueDepth)
		app.persistDone = make(chan struct{})
		go app.drainPersistOutbox(context.Background())
	}

	app.dispatcher.firePostApplicationCreate(ctx, PostApplicationCreateEvent{
		AppID: app.appID, PartitionKey: app.partitionKey, Graph: app.graph,
	})

	return app, nil
}

func (b *Builder) resolveInitialState(ctx context.Context, typeSystem TypeSystem, appID string) (state State, seqCounter int, lastAction, lastInputHash string, err error) {
	if b.persister != nil {
		rec, loadErr := b.persister.Load(ctx, b.partitionKey, appID)
		switch {
		case loadErr == nil:
			state, err = Deserialize(b.serde, rec.State)
			if err != nil {
				return State{}, 0, "", "", fmt.Errorf("flow: deserializing persisted state: %w", err)
			}
			return state, rec.SeqCounter, rec.LastAction, rec.LastInputHash, nil
		case errors.Is(loadErr, ErrNotFound):
			// fall through to fresh construction below
		default:
			return State{}, 0, "", "", fmt.Errorf("flow: loading persisted state: %w", loadErr)
		}
	}

	state, err = typeSystem.ConstructState(b.initialData)
	if err != nil {
		return State{}, 0, "", "", err
	}
	return state, 0, "", "", nil
}
