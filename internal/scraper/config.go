package scraper

import "time"

// Config is the immutable per-run configuration shared by every component.
// It is passed by value; nothing mutates it after startup.
type Config struct {
	NumContexts    int
	TabsPerContext int

	CaptchaRPM         int
	CaptchaWindow      time.Duration
	CaptchaMinInterval time.Duration
	MinCaptchaLength   int

	MaxCaptchaAttempts int
	MaxReuseRetries    int
	MaxSetupRetries    int
	MaxUnitAttempts    int
	MaxSurveyAttempts  int

	RetryBackoffBase time.Duration
	RetryBackoffMax  time.Duration

	StepTimeout       time.Duration
	NavigationTimeout time.Duration

	// ProgressInterval is how often a running run logs a progress snapshot.
	ProgressInterval time.Duration

	FormURL    string
	RecordType string

	OutputPrefix string
	MaxUnits     int
	// RetainRuns caps how many finished runs stay in memory; older ones are
	// only reachable through the run store.
	RetainRuns int
	// Topic receives run-completion events; empty means run.completed.
	Topic string
}

// Workers is the total number of concurrent sessions.
func (c Config) Workers() int {
	return c.NumContexts * c.TabsPerContext
}

// DefaultConfig mirrors the defaults of the production form scraper.
func DefaultConfig() Config {
	return Config{
		NumContexts:        2,
		TabsPerContext:     2,
		CaptchaRPM:         15,
		CaptchaWindow:      time.Minute,
		MinCaptchaLength:   4,
		MaxCaptchaAttempts: 3,
		MaxReuseRetries:    2,
		MaxSetupRetries:    3,
		MaxUnitAttempts:    2,
		MaxSurveyAttempts:  3,
		RetryBackoffBase:   2 * time.Second,
		RetryBackoffMax:    30 * time.Second,
		StepTimeout:        10 * time.Second,
		NavigationTimeout:  30 * time.Second,
		ProgressInterval:   30 * time.Second,
		FormURL:            "https://anyror.gujarat.gov.in/LandRecordRural.aspx",
		RecordType:         "1",
		OutputPrefix:       "vf7",
		RetainRuns:         16,
	}
}
