// Package artifact persists the page and structured record of each scraped
// unit as a JSON document in a blob store.
package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/landrecord-scraper/internal/scraper"
)

const timestampLayout = "20060102_150405"

// IndexRecord describes a stored artifact for secondary lookup.
type IndexRecord struct {
	ID         string
	UnitID     string
	Survey     string
	Hash       string
	BlobURI    string
	CapturedAt time.Time
}

// Indexer records where artifacts were written.
type Indexer interface {
	IndexArtifact(ctx context.Context, rec IndexRecord) error
}

// Document is the JSON body written for every successful unit.
type Document struct {
	ID          string          `json:"id"`
	UnitID      string          `json:"unit_id"`
	District    string          `json:"district"`
	Taluka      string          `json:"taluka"`
	VillageCode string          `json:"village_code"`
	VillageName string          `json:"village_name"`
	Survey      scraper.Option  `json:"survey"`
	Record      *scraper.Record `json:"record,omitempty"`
	HTMLHash    string          `json:"html_sha256"`
	HTML        string          `json:"html"`
	CapturedAt  time.Time       `json:"captured_at"`
}

// Options wires the collaborators of a Store.
type Options struct {
	Blobs  scraper.BlobStore
	Hasher scraper.Hasher
	IDs    scraper.IDGenerator
	Clock  scraper.Clock
	// Index is optional; indexing failures are logged, not returned.
	Index  Indexer
	Prefix string
	Logger *zap.Logger
}

// Store implements scraper.ArtifactStore.
type Store struct {
	blobs  scraper.BlobStore
	hasher scraper.Hasher
	ids    scraper.IDGenerator
	clock  scraper.Clock
	index  Indexer
	prefix string
	logger *zap.Logger
}

// New validates opts and builds a Store.
func New(opts Options) (*Store, error) {
	if opts.Blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if opts.Hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	if opts.IDs == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		blobs:  opts.Blobs,
		hasher: opts.Hasher,
		ids:    opts.IDs,
		clock:  opts.Clock,
		index:  opts.Index,
		prefix: opts.Prefix,
		logger: logger.Named("artifact"),
	}, nil
}

// ObjectPath is the blob path for a unit captured at ts:
// <prefix>/<district>/<taluka>/<unit>_<YYYYmmdd_HHMMSS>_<id>.json.
func ObjectPath(prefix string, unit scraper.WorkUnit, ts time.Time, id string) string {
	name := fmt.Sprintf("%s_%s_%s.json", unit.ID(), ts.UTC().Format(timestampLayout), id)
	return path.Join(prefix, unit.DistrictCode, unit.TalukaCode, name)
}

// Save writes the document and returns the blob URI as the artifact id.
func (s *Store) Save(ctx context.Context, unit scraper.WorkUnit, raw scraper.RawRecord, record *scraper.Record) (string, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("artifact id: %w", err)
	}
	hash, err := s.hasher.Hash([]byte(raw.HTML))
	if err != nil {
		return "", fmt.Errorf("hash page: %w", err)
	}
	captured := raw.CapturedAt
	if captured.IsZero() {
		captured = s.now()
	}

	doc := Document{
		ID:          id,
		UnitID:      unit.ID(),
		District:    unit.DistrictCode,
		Taluka:      unit.TalukaCode,
		VillageCode: unit.VillageCode,
		VillageName: unit.VillageName,
		Survey:      raw.Survey,
		Record:      record,
		HTMLHash:    hash,
		HTML:        raw.HTML,
		CapturedAt:  captured.UTC(),
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal artifact: %w", err)
	}

	objectPath := ObjectPath(s.prefix, unit, captured, id)
	uri, err := s.blobs.PutObject(ctx, objectPath, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("put artifact %s: %w", objectPath, err)
	}

	if s.index != nil {
		rec := IndexRecord{
			ID:         id,
			UnitID:     doc.UnitID,
			Survey:     raw.Survey.Value,
			Hash:       hash,
			BlobURI:    uri,
			CapturedAt: doc.CapturedAt,
		}
		if err := s.index.IndexArtifact(ctx, rec); err != nil {
			s.logger.Warn("artifact index failed", zap.String("unit", doc.UnitID), zap.String("uri", uri), zap.Error(err))
		}
	}
	return uri, nil
}

func (s *Store) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now().UTC()
}
