// Package serverctx defines the engine's one external collaborator:
// whatever fronts this storage engine (RPC layer, CLI, sequencer)
// supplies a small amount of configuration and durably persists two
// pieces of metadata, starting_address and tail_segment, across restarts.
// The engine only ever sees this interface — everything else about that
// front end (wire protocol, cluster layout, orchestration) is out of
// scope.
package serverctx

// Context is the interface the engine facade depends on. A real
// deployment's RPC/CLI layer is expected to provide its own
// implementation; FileContext below is a minimal one suitable for
// standalone use and for tests.
type Context interface {
	// Get returns a configuration value by key, e.g. "--log-path". An
	// unknown key returns the empty string.
	Get(key string) string

	// StartingAddress returns the persisted trim mark.
	StartingAddress() (uint64, error)
	// SetStartingAddress persists a new trim mark.
	SetStartingAddress(uint64) error

	// TailSegment returns the persisted last-known tail segment id.
	TailSegment() (uint64, error)
	// SetTailSegment persists a new tail segment id.
	SetTailSegment(uint64) error
}
