package segstore

// Config carries the small set of per-segment parameters the engine's own
// Config threads down to each segment it opens. Kept separate from the
// engine's Config — a segment doesn't need to know about retention or
// trim thresholds, only its own framing parameters.
type Config struct {
	// Version is written into every new segment's header and checked
	// against every opened segment's header.
	Version int32
	// NoVerify, when true, both disables checksum verification on scan
	// and permits opening a segment whose header has
	// verify_checksum=false.
	NoVerify bool
}
