// Package aggregates declares the atomic write boundaries of the platform:
// publishing a course version, settling a payment, changing a subscription,
// and progressing sagas and outbox entries.
//
// Each contract is storage-agnostic. Implementations live in internal/data/aggregates.
package aggregates
