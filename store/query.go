package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Sort order constants.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// Query describes a structured search over a document collection.
// Terms are exact matches on top-level fields, Text is a free-text
// match over TextFields.
type Query struct {
	// Terms maps field name to required value.
	Terms map[string]string

	// Text is a free-text substring match, case-insensitive.
	Text string

	// TextFields lists the fields Text is matched against.
	TextFields []string

	// SortBy is the field to order results by.
	SortBy string

	// SortOrder is SortAsc or SortDesc. Empty means SortDesc.
	SortOrder string

	// Limit caps the number of results. Zero means no cap.
	Limit int

	// Offset skips the first N results.
	Offset int
}

// Validate checks the query descriptor.
func (q Query) Validate() error {
	if q.Limit < 0 || q.Offset < 0 {
		return fmt.Errorf("%w: negative limit or offset", ErrQueryInvalid)
	}
	if q.SortOrder != "" && q.SortOrder != SortAsc && q.SortOrder != SortDesc {
		return fmt.Errorf("%w: sort order %q", ErrQueryInvalid, q.SortOrder)
	}
	if q.Text != "" && len(q.TextFields) == 0 {
		return fmt.Errorf("%w: text query without text fields", ErrQueryInvalid)
	}
	return nil
}

// Descending reports whether results should be sorted in descending
// order.
func (q Query) Descending() bool {
	return q.SortOrder != SortAsc
}

// Fingerprint returns a stable hex digest of the query. Equal queries
// produce equal fingerprints regardless of map iteration order, so
// the digest is usable as a cache key component.
func (q Query) Fingerprint() string {
	var b strings.Builder

	keys := make([]string, 0, len(q.Terms))
	for k := range q.Terms {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "t:%s=%s;", k, q.Terms[k])
	}

	if q.Text != "" {
		fields := append([]string(nil), q.TextFields...)
		sort.Strings(fields)
		fmt.Fprintf(&b, "x:%s@%s;", q.Text, strings.Join(fields, ","))
	}

	fmt.Fprintf(&b, "s:%s/%s;p:%d/%d", q.SortBy, q.SortOrder, q.Limit, q.Offset)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}
