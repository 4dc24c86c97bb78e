package intelligence

import (
	"context"
	"fmt"
)

// MergedSource combines the counters of several sources: window counts are
// summed and the latest timestamps win. Any source error fails the snapshot.
type MergedSource []AccessSource

var _ AccessSource = MergedSource(nil)

func (m MergedSource) Snapshot(ctx context.Context, key string) (AccessSnapshot, error) {
	var out AccessSnapshot
	for i, src := range m {
		snap, err := src.Snapshot(ctx, key)
		if err != nil {
			return AccessSnapshot{}, fmt.Errorf("access source %d: %w", i, err)
		}
		out.Access1h += snap.Access1h
		out.Access24h += snap.Access24h
		if snap.LastAccess.After(out.LastAccess) {
			out.LastAccess = snap.LastAccess
		}
		if snap.LastModified.After(out.LastModified) {
			out.LastModified = snap.LastModified
		}
	}
	return out, nil
}
