package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/landrecord-scraper/internal/hash/sha256"
	"github.com/JakeFAU/landrecord-scraper/internal/scraper"
	"github.com/JakeFAU/landrecord-scraper/internal/storage/memory"
)

type staticIDs struct{ id string }

func (s staticIDs) NewID() (string, error) { return s.id, nil }

type recordingIndex struct {
	recs []IndexRecord
	err  error
}

func (r *recordingIndex) IndexArtifact(_ context.Context, rec IndexRecord) error {
	r.recs = append(r.recs, rec)
	return r.err
}

func testUnit() scraper.WorkUnit {
	return scraper.WorkUnit{
		DistrictCode: "02",
		TalukaCode:   "04",
		VillageCode:  "017",
		VillageName:  "Ambaliyara",
	}
}

func TestObjectPath(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 3, 1, 9, 5, 7, 0, time.FixedZone("IST", 19800))
	got := ObjectPath("vf7", testUnit(), ts, "0190")
	require.Equal(t, "vf7/02/04/02_04_017_20260301_033507_0190.json", got)
	require.Equal(t, "02/04/02_04_017_20260301_033507_0190.json", ObjectPath("", testUnit(), ts, "0190"))
}

func TestStoreSave(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	index := &recordingIndex{}
	store, err := New(Options{
		Blobs:  blobs,
		Hasher: sha256.New(),
		IDs:    staticIDs{id: "abc"},
		Index:  index,
		Prefix: "vf7",
	})
	require.NoError(t, err)

	captured := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	raw := scraper.RawRecord{Survey: scraper.Option{Value: "11", Text: "11/1"}, HTML: "<html>ખાતા નંબર</html>", CapturedAt: captured}
	uri, err := store.Save(context.Background(), testUnit(), raw, &scraper.Record{KhataNumber: "42"})
	require.NoError(t, err)

	path := "vf7/02/04/02_04_017_20260301_100000_abc.json"
	require.Equal(t, "memory://"+path, uri)

	body, ok := blobs.Object(path)
	require.True(t, ok)
	var doc Document
	require.NoError(t, json.Unmarshal(body, &doc))
	require.Equal(t, "02_04_017", doc.UnitID)
	require.Equal(t, "42", doc.Record.KhataNumber)
	require.Equal(t, sha256.Sum([]byte(raw.HTML)), doc.HTMLHash)
	require.True(t, strings.Contains(doc.HTML, "ખાતા"))

	require.Len(t, index.recs, 1)
	require.Equal(t, uri, index.recs[0].BlobURI)
	require.Equal(t, "11", index.recs[0].Survey)
}

func TestStoreSaveIndexFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	store, err := New(Options{
		Blobs:  memory.NewBlobStore(),
		Hasher: sha256.New(),
		IDs:    staticIDs{id: "x"},
		Index:  &recordingIndex{err: errors.New("db down")},
	})
	require.NoError(t, err)

	uri, err := store.Save(context.Background(), testUnit(), scraper.RawRecord{HTML: "x"}, nil)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(uri, "memory://02/04/02_04_017_"))
}

type failingBlobs struct{}

func (failingBlobs) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket missing")
}

func TestStoreSavePutFailure(t *testing.T) {
	t.Parallel()

	store, err := New(Options{Blobs: failingBlobs{}, Hasher: sha256.New(), IDs: staticIDs{id: "x"}})
	require.NoError(t, err)

	_, err = store.Save(context.Background(), testUnit(), scraper.RawRecord{HTML: "x"}, nil)
	require.ErrorContains(t, err, "bucket missing")
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(Options{})
	require.Error(t, err)
	_, err = New(Options{Blobs: memory.NewBlobStore()})
	require.Error(t, err)
	_, err = New(Options{Blobs: memory.NewBlobStore(), Hasher: sha256.New()})
	require.Error(t, err)
}
