// Package device resolves the compute device model inference runs on and
// optionally serializes access to it across concurrent runs.
//
// An explicitly requested device must be usable or resolution fails with
// ErrDeviceUnavailable. Without a request the first usable device in the
// priority order mps, cuda, cpu wins; cpu is always usable.
package device
