// Package files holds per-file placement metadata: the replica pointers the
// migrator commits and the access counters the scorer reads.
package files

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for unknown file keys
	ErrNotFound = errors.New("file not found")
	// ErrPlacementConflict means the expected source or version no longer matches
	ErrPlacementConflict = errors.New("placement changed concurrently")
)

// FileRecord is the metadata of one logical file
type FileRecord struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	Sites        []string  `json:"sites"`
	LastModified time.Time `json:"last_modified"`
	LastAccess   time.Time `json:"last_access"`
	Access1h     int64     `json:"access_1h"`
	Access24h    int64     `json:"access_24h"`
	Heat         float64   `json:"heat"`
	PHot         float64   `json:"p_hot"`
	Encrypted    bool      `json:"encrypted"`
	Version      int64     `json:"version"`
}

// CurrentSite returns the primary replica pointer
func (f *FileRecord) CurrentSite() string {
	if len(f.Sites) == 0 {
		return ""
	}
	return f.Sites[0]
}

// Clone returns a deep copy
func (f *FileRecord) Clone() *FileRecord {
	c := *f
	c.Sites = append([]string(nil), f.Sites...)
	return &c
}

// Commit describes a single replica-slot pointer change
type Commit struct {
	Key             string
	Slot            int
	ExpectedSource  string // "" when the slot is new
	Destination     string
	ExpectedVersion int64
	// DestinationEncrypted is the catalog flag of Destination. It becomes
	// the record's Encrypted flag when Slot is the primary.
	DestinationEncrypted bool
}

// Store is the persistent file metadata store
type Store interface {
	Get(ctx context.Context, key string) (*FileRecord, error)
	List(ctx context.Context) ([]*FileRecord, error)
	// Put registers rec. An existing record keeps its heat, counters and
	// last access; only size, sites, modification time and the encryption
	// flag are replaced, and the version is bumped.
	Put(ctx context.Context, rec *FileRecord) error
	// UpdateHeat records the latest scoring result without touching placement
	UpdateHeat(ctx context.Context, key string, heat, pHot float64) error
	// CommitPlacement atomically swaps one replica slot. It is the only
	// operation that changes externally observed placement.
	CommitPlacement(ctx context.Context, c Commit) (*FileRecord, error)
}

// ApplyCommit validates c against rec and returns the committed record.
// rec is not modified.
func ApplyCommit(rec *FileRecord, c Commit) (*FileRecord, error) {
	if rec.Version != c.ExpectedVersion {
		return nil, ErrPlacementConflict
	}
	next := rec.Clone()
	switch {
	case c.Slot < len(next.Sites):
		if next.Sites[c.Slot] != c.ExpectedSource {
			return nil, ErrPlacementConflict
		}
		next.Sites[c.Slot] = c.Destination
	case c.Slot == len(next.Sites) && c.ExpectedSource == "":
		next.Sites = append(next.Sites, c.Destination)
	default:
		return nil, ErrPlacementConflict
	}
	if c.Slot == 0 {
		next.Encrypted = c.DestinationEncrypted
	}
	next.Version++
	return next, nil
}

// Reregister returns existing with the registration fields of rec applied
// and the version bumped.
func Reregister(existing, rec *FileRecord) *FileRecord {
	next := existing.Clone()
	next.Size = rec.Size
	next.Sites = append([]string(nil), rec.Sites...)
	next.LastModified = rec.LastModified
	next.Encrypted = rec.Encrypted
	next.Version++
	return next
}
