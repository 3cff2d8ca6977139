// Package users stores accounts together with the business profile used to
// pre-fill invoices.
//
// PostgresRepository is the source of truth. CachedRepository puts an
// in-process expirable LRU and Redis in front of GetByID and invalidates on
// every write it sees. Writes made elsewhere, such as the invoice counter
// bump inside invoice creation, must call Invalidate themselves.
package users
