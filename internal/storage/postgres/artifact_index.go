package postgres

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/landrecord-scraper/internal/artifact"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ArtifactIndex writes one row per stored artifact so records can be found
// without listing the blob bucket.
type ArtifactIndex struct {
	pool  execCloser
	table string
}

// NewArtifactIndexWithPool constructs an index from an existing pool.
func NewArtifactIndexWithPool(pool execCloser, table string) (*ArtifactIndex, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "artifacts"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ArtifactIndex{pool: pool, table: table}, nil
}

// IndexArtifact inserts the artifact row; re-indexing the same id is a no-op.
func (s *ArtifactIndex) IndexArtifact(ctx context.Context, rec artifact.IndexRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("artifact index is not configured")
	}
	if rec.ID == "" {
		return fmt.Errorf("artifact id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	unit_id,
	survey,
	hash,
	blob_uri,
	captured_at
) VALUES (
	$1,$2,$3,$4,$5,$6
) ON CONFLICT (id) DO NOTHING`, s.table)

	if _, err := s.pool.Exec(ctx, query,
		rec.ID,
		rec.UnitID,
		rec.Survey,
		rec.Hash,
		rec.BlobURI,
		rec.CapturedAt,
	); err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}
