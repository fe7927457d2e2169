// Package creature stores the shared creature records and enforces
// their field bounds. Every record belongs to the account that created
// it; updates and deletes are scoped to (id, owner).
package creature
