package storage

import "time"

// sqlNow is a small seam so repository methods read uniformly; Bun binds
// time.Time values directly to timestamptz columns.
func sqlNow() time.Time {
	return time.Now()
}
