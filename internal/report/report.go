// Package report assembles the end-of-run summary and renders it as JSON or
// CSV.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/JakeFAU/landrecord-scraper/internal/scraper"
)

// Run statuses reported in Report.Status.
const (
	StatusSuccess  = "success"
	StatusPartial  = "partial"
	StatusCanceled = "canceled"
	StatusError    = "error"
)

// Failure is one failed or canceled unit.
type Failure struct {
	UnitID     string             `json:"unit_id"`
	Village    string             `json:"village"`
	ErrorClass scraper.ErrorClass `json:"error_class"`
	Error      string             `json:"error,omitempty"`
}

// Report summarises one run. Results hold exactly one entry per unit in
// expansion order.
type Report struct {
	RunID      string        `json:"run_id"`
	Scope      scraper.Scope `json:"scope"`
	Status     string        `json:"status"`
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Canceled   int           `json:"canceled"`
	Records    int           `json:"records"`

	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	PerMinute      float64   `json:"units_per_minute"`

	FailuresByClass map[scraper.ErrorClass]int `json:"failures_by_class,omitempty"`
	Failures        []Failure                  `json:"failures,omitempty"`
	Results         []scraper.WorkResult       `json:"results"`
	// Error is set when the run could not start.
	Error string `json:"error,omitempty"`
}

// Build orders results by units, fills a canceled result for any unit that
// has none, and derives the counters.
func Build(runID string, scope scraper.Scope, units []scraper.WorkUnit, results []scraper.WorkResult, started, finished time.Time) *Report {
	byID := make(map[string]scraper.WorkResult, len(results))
	for _, r := range results {
		byID[r.Unit.ID()] = r
	}

	rep := &Report{
		RunID:      runID,
		Scope:      scope,
		Total:      len(units),
		StartedAt:  started,
		FinishedAt: finished,
		Results:    make([]scraper.WorkResult, 0, len(units)),
	}
	for _, unit := range units {
		res, ok := byID[unit.ID()]
		if !ok {
			res = CanceledResult(unit, finished)
		}
		// pages live in the artifact store, not in the report
		res.Raw = nil
		rep.Results = append(rep.Results, res)

		switch {
		case res.Success:
			rep.Successful++
			rep.Records += res.Records
			continue
		case res.Canceled():
			rep.Canceled++
		default:
			rep.Failed++
		}
		if rep.FailuresByClass == nil {
			rep.FailuresByClass = make(map[scraper.ErrorClass]int)
		}
		rep.FailuresByClass[res.ErrorClass]++
		rep.Failures = append(rep.Failures, Failure{
			UnitID:     unit.ID(),
			Village:    unit.VillageName,
			ErrorClass: res.ErrorClass,
			Error:      res.Error,
		})
	}

	elapsed := finished.Sub(started)
	rep.ElapsedSeconds = elapsed.Seconds()
	if m := elapsed.Minutes(); m > 0 {
		rep.PerMinute = float64(rep.Successful+rep.Failed) / m
	}
	rep.Status = status(rep)
	return rep
}

// Failed builds the report of a run that never started.
func Failed(runID string, scope scraper.Scope, units []scraper.WorkUnit, started, finished time.Time, err error) *Report {
	rep := Build(runID, scope, units, nil, started, finished)
	rep.Status = StatusError
	if err != nil {
		rep.Error = err.Error()
	}
	return rep
}

// CanceledResult is the result recorded for a unit no worker pulled.
func CanceledResult(unit scraper.WorkUnit, at time.Time) scraper.WorkResult {
	return scraper.WorkResult{
		Unit:       unit,
		ErrorClass: scraper.ClassCanceled,
		Error:      "run canceled before the unit was processed",
		Worker:     -1,
		FinishedAt: at,
	}
}

func status(r *Report) string {
	switch {
	case r.Canceled > 0:
		return StatusCanceled
	case r.Failed == 0:
		return StatusSuccess
	case r.Successful > 0:
		return StatusPartial
	default:
		return StatusError
	}
}

// Classes returns the failure classes present, sorted.
func (r *Report) Classes() []scraper.ErrorClass {
	out := make([]scraper.ErrorClass, 0, len(r.FailuresByClass))
	for c := range r.FailuresByClass {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

var csvHeader = []string{
	"unit_id", "district", "taluka", "village_code", "village_name",
	"success", "error_class", "error", "captcha_attempts", "records",
	"survey", "khata_number", "upin", "area_sq_m", "artifact_id",
	"worker", "elapsed_ms", "finished_at",
}

// WriteCSV writes one row per unit result.
func WriteCSV(w io.Writer, r *Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, res := range r.Results {
		if err := cw.Write(row(res)); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

func row(res scraper.WorkResult) []string {
	var survey, khata, upin, area string
	if res.Survey != nil {
		survey = res.Survey.Text
	}
	if rec := res.Record; rec != nil {
		khata = rec.KhataNumber
		upin = rec.UPIN
		if rec.Area != nil {
			area = strconv.Itoa(rec.Area.TotalSqM)
		}
	}
	var finished string
	if !res.FinishedAt.IsZero() {
		finished = res.FinishedAt.UTC().Format(time.RFC3339)
	}
	u := res.Unit
	return []string{
		u.ID(),
		u.DistrictCode,
		u.TalukaCode,
		u.VillageCode,
		u.VillageName,
		strconv.FormatBool(res.Success),
		string(res.ErrorClass),
		res.Error,
		strconv.Itoa(res.CaptchaAttempts),
		strconv.Itoa(res.Records),
		survey,
		khata,
		upin,
		area,
		res.ArtifactID,
		strconv.Itoa(res.Worker),
		strconv.FormatInt(res.Elapsed.Milliseconds(), 10),
		finished,
	}
}
