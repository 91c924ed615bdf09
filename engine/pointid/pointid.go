// Package pointid derives internal vector index point ids from business chunk ids.
package pointid

import "github.com/google/uuid"

// namespace scopes every derived id. Changing it re-keys every index.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("draftnrun:chunk"))

// Derive returns the UUIDv5 point id for chunkID. It is pure: equal inputs
// always yield equal ids.
func Derive(chunkID string) string {
	return uuid.NewSHA1(namespace, []byte(chunkID)).String()
}

// DeriveAll maps each chunk id to its point id, preserving order.
func DeriveAll(chunkIDs []string) []string {
	out := make([]string, len(chunkIDs))
	for i, id := range chunkIDs {
		out[i] = Derive(id)
	}
	return out
}
