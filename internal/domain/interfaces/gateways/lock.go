package gateways

// ReleaseLock serializes runs for the same version on one machine
type ReleaseLock interface {
	// Acquire takes the lock for version without blocking. A held lock
	// yields *entities.ConcurrentReleaseError.
	Acquire(version string) (unlock func() error, err error)
}
