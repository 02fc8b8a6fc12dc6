// Package store provides the document persistence collaborator used by the
// sync core: Load, Save, Exists, and Create over a pluggable backend.
//
// Backends: memory (default, process lifetime), bolt (embedded file),
// postgres (pgxpool), and mongo. WithLimit wraps any backend and rejects saves
// whose content exceeds a byte budget with ErrTooLarge.
package store
