// Package dispatch routes request envelopes to registered command
// handlers. It owns the outcome taxonomy at the error boundary: auth
// checks, unknown commands, unavailable storage and handler panics
// all surface as reply envelopes here, never as wire-visible error
// text.
package dispatch
