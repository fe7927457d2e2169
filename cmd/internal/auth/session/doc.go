// Package session implements the server's session model: one live
// session per user, identified by the (user id, numeric token) pair
// carried on every authenticated envelope.
//
// Sessions expire on a sliding window. The Gate authenticates pairs
// and extends expiry; the Reaper sweeps expired sessions on a ticker
// and announces the departures. Both publish presence changes through
// a Publisher so subscribed clients stay current.
package session
