package checkpoint

// Checkpointable is an optional interface for analyzers that support
// cold-start state rebuild. An analyzer implementing it can snapshot its
// in-memory state to disk and rebuild from that snapshot instead of
// replaying the full event history on restart.
type Checkpointable interface {
	// SaveCheckpoint writes analyzer state to the given directory.
	SaveCheckpoint(dir string) error

	// LoadCheckpoint restores analyzer state from the given directory.
	LoadCheckpoint(dir string) error

	// CheckpointSize returns the estimated size of the checkpoint in bytes.
	CheckpointSize() int64
}
