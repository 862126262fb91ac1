package store

import "fmt"

// Cache key construction. Entity keys cache single documents, search
// keys cache result lists, and the user tag groups every derived key
// for a user so writes can invalidate them in one shot.

// EntityKey returns the cache key for a single document.
func EntityKey(collection, id string) string {
	return fmt.Sprintf("%s:%s", collection, id)
}

// SearchKey returns the cache key for a search result list scoped to
// a user. fingerprint should come from Query.Fingerprint.
func SearchKey(collection, userID, fingerprint string) string {
	return fmt.Sprintf("%s:search:%s:%s", collection, userID, fingerprint)
}

// UserTag returns the invalidation tag grouping all cached search
// results for a user in a collection.
func UserTag(collection, userID string) string {
	return fmt.Sprintf("%s:user:%s", collection, userID)
}
