package domain

import "errors"

var (
	// ErrStoreUnavailable is returned when the backing database cannot serve a request.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrMalformedClassifierOutput is returned when a classifier response does not
	// normalize into a valid category, sentiment and urgency.
	ErrMalformedClassifierOutput = errors.New("malformed classifier output")

	// ErrClassifierUnitExhausted is returned when a per-item unit ran out of
	// attempts or exceeded its time ceiling.
	ErrClassifierUnitExhausted = errors.New("classifier unit exhausted")

	// ErrMissingIdentifier is returned when a status query carries no run id.
	ErrMissingIdentifier = errors.New("instanceId required")

	// ErrRunNotFound is returned for an unknown run id.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunInProgress is returned when runs are serialized and one is active.
	ErrRunInProgress = errors.New("another run is in progress")
)
