package ingest

import "fmt"

// The pipeline classifies failures into a small taxonomy that decides how
// each event is handled: reject the whole request, dead-letter one event,
// retry, or swallow.

// AuthenticationError means the request signature was missing or wrong. The
// whole request is rejected before any event processing.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return "authentication failed: " + e.Reason
}

// ConfigurationError means the event references something no configuration
// row covers (typically an unresolvable platform account). The event is
// dead-lettered without retry; siblings continue.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// MalformedPayloadError means the payload shape was unrecognizable. Immediate
// dead-letter, no retry.
type MalformedPayloadError struct {
	Reason string
}

func (e *MalformedPayloadError) Error() string {
	return "malformed payload: " + e.Reason
}

// TransientStorageError wraps a storage failure worth retrying with bounded
// backoff before dead-lettering.
type TransientStorageError struct {
	Err error
}

func (e *TransientStorageError) Error() string {
	return fmt.Sprintf("transient storage error: %v", e.Err)
}

func (e *TransientStorageError) Unwrap() error {
	return e.Err
}

// EnrichmentError wraps a profile enrichment failure. It is logged and
// swallowed; it never fails the event that triggered the enrichment.
type EnrichmentError struct {
	Err error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("enrichment error: %v", e.Err)
}

func (e *EnrichmentError) Unwrap() error {
	return e.Err
}

// storageErr wraps any unexpected gorm error as transient so the retry loop
// gets a chance before the event is dead-lettered.
func storageErr(err error) error {
	if err == nil {
		return nil
	}
	return &TransientStorageError{Err: err}
}
