package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/landrecord-scraper/internal/scraper"
)

func unit(village string) scraper.WorkUnit {
	return scraper.WorkUnit{DistrictCode: "02", TalukaCode: "04", VillageCode: village, VillageName: "v" + village}
}

func TestBuild(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	finished := started.Add(2 * time.Minute)
	units := []scraper.WorkUnit{unit("001"), unit("002"), unit("003")}
	results := []scraper.WorkResult{
		{Unit: units[1], ErrorClass: scraper.ClassCaptchaFailure, Error: "captcha attempts exhausted"},
		{Unit: units[0], Success: true, Records: 1, Record: &scraper.Record{KhataNumber: "7"}},
	}

	rep := Build("run-1", scraper.Scope{District: "02"}, units, results, started, finished)

	require.Equal(t, 3, rep.Total)
	require.Equal(t, 1, rep.Successful)
	require.Equal(t, 1, rep.Failed)
	require.Equal(t, 1, rep.Canceled)
	require.Equal(t, StatusCanceled, rep.Status)
	require.Equal(t, 1, rep.Records)
	require.InDelta(t, 1.0, rep.PerMinute, 1e-9)
	require.InDelta(t, 120.0, rep.ElapsedSeconds, 1e-9)

	require.Len(t, rep.Results, 3)
	require.Equal(t, "02_04_001", rep.Results[0].Unit.ID(), "results follow unit order")
	require.Equal(t, scraper.ClassCanceled, rep.Results[2].ErrorClass)
	require.Equal(t, []scraper.ErrorClass{scraper.ClassCanceled, scraper.ClassCaptchaFailure}, rep.Classes())
	require.Len(t, rep.Failures, 2)
}

func TestBuildStatus(t *testing.T) {
	t.Parallel()

	now := time.Now()
	units := []scraper.WorkUnit{unit("001"), unit("002")}
	ok := scraper.WorkResult{Unit: units[0], Success: true}
	bad := scraper.WorkResult{Unit: units[1], ErrorClass: scraper.ClassNavigationError}

	require.Equal(t, StatusSuccess, Build("r", scraper.Scope{}, units[:1], []scraper.WorkResult{ok}, now, now).Status)
	require.Equal(t, StatusPartial, Build("r", scraper.Scope{}, units, []scraper.WorkResult{ok, bad}, now, now).Status)
	require.Equal(t, StatusError, Build("r", scraper.Scope{}, units[1:], []scraper.WorkResult{bad}, now, now).Status)
	require.Equal(t, StatusSuccess, Build("r", scraper.Scope{}, nil, nil, now, now).Status)

	failed := Failed("r", scraper.Scope{}, units, now, now, errors.New("no sessions"))
	require.Equal(t, StatusError, failed.Status)
	require.Equal(t, "no sessions", failed.Error)
	require.Equal(t, 2, failed.Canceled)
}

func TestWriters(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	units := []scraper.WorkUnit{unit("001"), unit("002")}
	results := []scraper.WorkResult{
		{
			Unit:            units[0],
			Success:         true,
			Records:         1,
			CaptchaAttempts: 2,
			Survey:          &scraper.Option{Value: "11", Text: "11/1"},
			Record: &scraper.Record{
				KhataNumber: "42",
				UPIN:        "GJ123",
				Area:        &scraper.Area{TotalSqM: 12345},
			},
			ArtifactID: "file:///tmp/a.json",
			Elapsed:    1500 * time.Millisecond,
			FinishedAt: now,
		},
		{Unit: units[1], ErrorClass: scraper.ClassSessionInvalid, Error: "lost, \"quoted\"", Worker: 2},
	}
	rep := Build("run-1", scraper.Scope{District: "02", Taluka: "04"}, units, results, now, now.Add(time.Minute))

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteJSON(&buf, rep))

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		require.Equal(t, "run-1", decoded["run_id"])
		require.Equal(t, "partial", decoded["status"])
		require.Len(t, decoded["results"], 2)
		require.Equal(t, "04", decoded["scope"].(map[string]any)["taluka"])
	})

	t.Run("csv", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteCSV(&buf, rep))

		rows, err := csv.NewReader(&buf).ReadAll()
		require.NoError(t, err)
		require.Len(t, rows, 3)
		require.Equal(t, csvHeader, rows[0])
		require.Equal(t, []string{
			"02_04_001", "02", "04", "001", "v001", "true", "", "", "2", "1",
			"11/1", "42", "GJ123", "12345", "file:///tmp/a.json", "0", "1500", "2026-03-01T10:00:00Z",
		}, rows[1])
		require.Equal(t, "session_invalid", rows[2][6])
		require.Equal(t, "lost, \"quoted\"", rows[2][7])
		require.Equal(t, "", rows[2][17])
	})
}
