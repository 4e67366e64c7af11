// Package knms talks to the Kew Name Matching Service.
//
// Client posts one batch of names and maps HTTP failures onto the services
// error markers. Cache keeps every successful batch in SQLite, keyed by the
// submitted name and by a hash of the batch, so a name is never sent twice.
// Service ties the two together: it deduplicates names, skips names the
// service cannot handle, answers what it can from the cache, and sends the
// rest in paced batches while holding the cache file lock.
package knms
