// Package commands implements one handler per wire command. Handlers
// translate payloads, call the domain stores and reply with outcome
// envelopes; the dispatcher handles auth and error mapping around
// them.
package commands
