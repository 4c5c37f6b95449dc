package refdata

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/landrecord-scraper/internal/scraper"
)

const zoneJSON = `{
  "districts": [
    {"value": "02", "label": "Ahmedabad", "talukas": [
      {"value": "04", "label": "Sanand", "villages": [
        {"value": "001", "label": "Bakrana"},
        {"value": "002", "label": "Charal"}
      ]},
      {"value": "05", "label": "Dholka", "villages": []}
    ]},
    {"value": "07", "label": "Banaskantha", "talukas": []}
  ]
}`

func TestParseAndLookup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := Parse(strings.NewReader(zoneJSON))
	require.NoError(t, err)

	require.Equal(t, []scraper.District{{Code: "02", Name: "Ahmedabad"}, {Code: "07", Name: "Banaskantha"}}, store.Districts())

	d, err := store.District(ctx, "02")
	require.NoError(t, err)
	require.Equal(t, "Ahmedabad", d.Name)

	talukas, err := store.ListTalukas(ctx, "02")
	require.NoError(t, err)
	require.Len(t, talukas, 2)
	require.Equal(t, "Sanand", talukas[0].Name)

	villages, err := store.ListVillages(ctx, "02", "04")
	require.NoError(t, err)
	require.Equal(t, []scraper.Village{{Code: "001", Name: "Bakrana"}, {Code: "002", Name: "Charal"}}, villages)

	villages, err = store.ListVillages(ctx, "02", "05")
	require.NoError(t, err)
	require.Empty(t, villages)
}

func TestNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := Parse(strings.NewReader(zoneJSON))
	require.NoError(t, err)

	_, err = store.District(ctx, "99")
	require.ErrorIs(t, err, scraper.ErrNotFound)
	_, err = store.ListTalukas(ctx, "99")
	require.ErrorIs(t, err, scraper.ErrNotFound)
	_, err = store.ListVillages(ctx, "02", "99")
	require.ErrorIs(t, err, scraper.ErrNotFound)
}

func TestNewRejectsBadDocuments(t *testing.T) {
	t.Parallel()

	_, err := New(Document{Districts: []DistrictEntry{{Entry: Entry{Value: "01"}}, {Entry: Entry{Value: "01"}}}})
	require.ErrorContains(t, err, "duplicate")
	_, err = New(Document{Districts: []DistrictEntry{{}}})
	require.Error(t, err)
	_, err = Parse(strings.NewReader("{"))
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "zones.json")
	require.NoError(t, os.WriteFile(path, []byte(zoneJSON), 0o600))
	store, err := Load(path)
	require.NoError(t, err)
	require.Len(t, store.Districts(), 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
