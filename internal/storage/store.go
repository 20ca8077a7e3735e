// Package storage persists raw provider snapshots under a date-keyed path
// scheme shared by the local and object-store backends.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
)

// ErrNotFound marks a missing snapshot.
var ErrNotFound = errors.New("snapshot not found")

// Store writes and reads raw JSON snapshots. Snapshots round-trip
// byte-identical: what was fetched is what a later report reads back.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// SnapshotKey builds the canonical key for one grouping's raw response:
// <provider>-cost-reports/<DD-MM-YYYY>/raw_<name>.json.
func SnapshotKey(provider, reportDate, name string) string {
	return path.Join(dateDir(provider, reportDate), fmt.Sprintf("raw_%s.json", name))
}

// MetaKey builds the key for a non-grouping document such as the billing
// cycle dates or total.
func MetaKey(provider, reportDate, name string) string {
	return path.Join(dateDir(provider, reportDate), name+".json")
}

// DatePrefix is the listing prefix for one provider and report date.
func DatePrefix(provider, reportDate string) string {
	return dateDir(provider, reportDate) + "/"
}

func dateDir(provider, reportDate string) string {
	return path.Join(provider+"-cost-reports", reportDate)
}
