package scraper

import (
	"fmt"
	"time"
)

// Location is the district/taluka pair a session keeps selected between units.
type Location struct {
	District string `json:"district"`
	Taluka   string `json:"taluka"`
}

// String renders the location as district/taluka.
func (l Location) String() string {
	return l.District + "/" + l.Taluka
}

// WorkUnit identifies one village to scrape.
type WorkUnit struct {
	DistrictCode string `json:"district_code"`
	DistrictName string `json:"district_name"`
	TalukaCode   string `json:"taluka_code"`
	TalukaName   string `json:"taluka_name"`
	VillageCode  string `json:"village_code"`
	VillageName  string `json:"village_name"`
	// SurveyFilter optionally narrows the survey-number dropdown.
	SurveyFilter string `json:"survey_filter,omitempty"`
}

// ID returns the stable unit identity used for artifacts and persistence.
func (u WorkUnit) ID() string {
	return fmt.Sprintf("%s_%s_%s", u.DistrictCode, u.TalukaCode, u.VillageCode)
}

// Location returns the district/taluka the unit belongs to.
func (u WorkUnit) Location() Location {
	return Location{District: u.DistrictCode, Taluka: u.TalukaCode}
}

// SessionState is the per-worker form state. It is never shared between workers.
type SessionState struct {
	Location Location
	// Attempts counts captcha attempts across the session's lifetime.
	Attempts int64
	Valid    bool
}

// Invalidate clears the valid flag, forcing a full setup before further work.
func (s *SessionState) Invalidate() {
	s.Valid = false
}

// Matches reports whether the session is valid and positioned at loc.
func (s SessionState) Matches(loc Location) bool {
	return s.Valid && s.Location == loc
}

// Option is one entry of a form dropdown.
type Option struct {
	Value string `json:"value"`
	Text  string `json:"text"`
}

// Area is a land area parsed from hectare-are-square-metre notation.
type Area struct {
	Raw      string  `json:"raw"`
	Hectare  int     `json:"hectare"`
	Are      int     `json:"are"`
	SqM      int     `json:"sq_m"`
	TotalSqM int     `json:"total_sq_m"`
	SqYd     float64 `json:"sq_yd"`
}

// Record is the structured form of a VF-7 result page.
type Record struct {
	KhataNumber     string   `json:"khata_number,omitempty"`
	UPIN            string   `json:"upin,omitempty"`
	DataStatusTime  string   `json:"data_status_time,omitempty"`
	Area            *Area    `json:"area,omitempty"`
	AssessmentTax   string   `json:"assessment_tax,omitempty"`
	OldSurveyNumber string   `json:"old_survey_number,omitempty"`
	Tenure          string   `json:"tenure,omitempty"`
	LandUse         string   `json:"land_use,omitempty"`
	FarmName        string   `json:"farm_name,omitempty"`
	Remarks         string   `json:"remarks,omitempty"`
	EntryNumbers    []string `json:"entry_numbers,omitempty"`
	Tables          []string `json:"tables,omitempty"`
}

// RawRecord is the unparsed page captured for a successful unit.
type RawRecord struct {
	Survey     Option    `json:"survey"`
	HTML       string    `json:"html"`
	CapturedAt time.Time `json:"captured_at"`
}

// WorkResult is the immutable outcome of processing one WorkUnit.
type WorkResult struct {
	Unit            WorkUnit      `json:"unit"`
	Success         bool          `json:"success"`
	ErrorClass      ErrorClass    `json:"error_class,omitempty"`
	Error           string        `json:"error,omitempty"`
	CaptchaAttempts int           `json:"captcha_attempts"`
	Elapsed         time.Duration `json:"elapsed"`
	Records         int           `json:"records"`
	Survey          *Option       `json:"survey,omitempty"`
	Record          *Record       `json:"record,omitempty"`
	// Raw is only kept when no artifact store took the page.
	Raw             *RawRecord    `json:"-"`
	ArtifactID      string        `json:"artifact_id,omitempty"`
	Worker          int           `json:"worker"`
	FinishedAt      time.Time     `json:"finished_at"`
}

// Canceled reports whether the unit ended because the run was stopped.
func (r WorkResult) Canceled() bool {
	return r.ErrorClass == ClassCanceled
}

// Scope selects the units of one run. An empty Taluka covers every taluka
// of the district; MaxUnits caps the expanded list when positive.
type Scope struct {
	District     string `json:"district"`
	Taluka       string `json:"taluka,omitempty"`
	SurveyFilter string `json:"survey_filter,omitempty"`
	MaxUnits     int    `json:"max_units,omitempty"`
}
