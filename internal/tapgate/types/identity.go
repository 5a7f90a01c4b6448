package types

// Identity is the pair a credential device presents when asked for data.
// Both ids are opaque to the reader; the authority owns their meaning.
// Immutable once parsed off the wire.
type Identity struct {
	CredentialID int64
	HolderID     int64
}
