package flash

// Error kinds returned by devices. Kinds are comparable values so callers
// can classify failures with errors.Is; anything that matches none of them
// is a host I/O error propagated from the backing store.

// ErrInvalidGeometry reports a geometry violating its invariants. The
// configuration is wrong and device creation is refused.
type ErrInvalidGeometry struct{}

func (ErrInvalidGeometry) Error() string {
	return "invalid device geometry"
}

// ErrOutOfBounds reports an operation whose block, offset or size falls
// outside the device address space or violates the operation granularity.
// The request is a caller bug; storage was not touched.
type ErrOutOfBounds struct{}

func (ErrOutOfBounds) Error() string {
	return "operation out of device bounds"
}

// ErrNotErased reports a program targeting a range that was not erased
// since it was last programmed. Only returned by devices created with
// erase verification enabled.
type ErrNotErased struct{}

func (ErrNotErased) Error() string {
	return "programming a range that has not been erased"
}
