package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/landrecord-scraper/internal/progress"
	"github.com/JakeFAU/landrecord-scraper/internal/scraper"
)

const resultMarker = "RESULT-PAGE"

// fakeSession simulates the form: selections survive ReturnToForm unless
// configured otherwise, and a submit with the right captcha shows the result page.
type fakeSession struct {
	mu sync.Mutex

	answer  string
	surveys []scraper.Option

	selections map[scraper.Field]string
	entered    string
	onResult   bool

	openFails      int
	returnFails    bool
	returnClears   bool
	selectFailures map[string]int
	missing        map[string]bool

	opens     int
	returns   int
	refreshes int
	submits   int
	closed    bool
}

func newFakeSession(answer string) *fakeSession {
	return &fakeSession{
		answer:         answer,
		surveys:        []scraper.Option{{Value: "101", Text: "101"}, {Value: "102", Text: "102/A"}},
		selections:     make(map[scraper.Field]string),
		selectFailures: make(map[string]int),
		missing:        make(map[string]bool),
	}
}

func (s *fakeSession) failSelect(field scraper.Field, value string, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectFailures[string(field)+"="+value] = times
}

func (s *fakeSession) Open(ctx context.Context, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return scraper.NewNavError(scraper.NavNetwork, "open", "", err)
	}
	s.opens++
	if s.openFails != 0 {
		if s.openFails > 0 {
			s.openFails--
		}
		return scraper.NewNavError(scraper.NavNetwork, "open", "form", errors.New("connection reset"))
	}
	s.selections = make(map[scraper.Field]string)
	s.onResult = false
	return nil
}

func (s *fakeSession) Select(ctx context.Context, field scraper.Field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return scraper.NewNavError(scraper.NavNetwork, "select", string(field), err)
	}
	key := string(field) + "=" + value
	if s.missing[key] {
		return scraper.NewNavError(scraper.NavNoOption, "select", key, nil)
	}
	if n := s.selectFailures[key]; n != 0 {
		if n > 0 {
			s.selectFailures[key] = n - 1
		}
		return scraper.NewNavError(scraper.NavNetwork, "select", string(field), errors.New("postback failed"))
	}
	s.selections[field] = value
	return nil
}

func (s *fakeSession) WaitStable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return scraper.NewNavError(scraper.NavTimeout, "wait", "", err)
	}
	return nil
}

func (s *fakeSession) CurrentSelection(_ context.Context, field scraper.Field) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selections[field], nil
}

func (s *fakeSession) Options(_ context.Context, field scraper.Field) ([]scraper.Option, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if field != scraper.FieldSurvey {
		return nil, nil
	}
	return append([]scraper.Option(nil), s.surveys...), nil
}

func (s *fakeSession) EnterCaptcha(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entered = text
	return nil
}

func (s *fakeSession) Submit(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submits++
	s.onResult = s.entered == s.answer
	return nil
}

func (s *fakeSession) RefreshChallenge(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	return nil
}

func (s *fakeSession) ReturnToForm(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.returns++
	if s.returnFails {
		return scraper.NewNavError(scraper.NavNetwork, "return", "back link", errors.New("navigation aborted"))
	}
	if !s.onResult {
		return scraper.NewNavError(scraper.NavNotFound, "return", "back link", nil)
	}
	s.onResult = false
	if s.returnClears {
		delete(s.selections, scraper.FieldTaluka)
	}
	return nil
}

func (s *fakeSession) Content(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.onResult {
		return "<html>" + resultMarker + " survey " + s.selections[scraper.FieldSurvey] + "</html>", nil
	}
	return "<html>form</html>", nil
}

func (s *fakeSession) CaptureChallengeImage(context.Context) ([]byte, error) {
	return []byte("png"), nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) submitted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submits
}

func (s *fakeSession) snapshot() (opens, returns, refreshes int, selections map[scraper.Field]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel := make(map[scraper.Field]string, len(s.selections))
	for k, v := range s.selections {
		sel[k] = v
	}
	return s.opens, s.returns, s.refreshes, sel
}

type fixedSolver struct {
	mu      sync.Mutex
	answers []string
	calls   int
}

func (f *fixedSolver) Solve(context.Context, []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.answers) == 0 {
		return "", errors.New("no answer")
	}
	if len(f.answers) == 1 {
		return f.answers[0], nil
	}
	a := f.answers[0]
	f.answers = f.answers[1:]
	return a, nil
}

type markerExtractor struct{}

func (markerExtractor) Extract(raw string) (*scraper.Record, error) {
	if !strings.Contains(raw, resultMarker) {
		return nil, nil
	}
	return &scraper.Record{KhataNumber: "42"}, nil
}

type countingLimiter struct {
	mu       sync.Mutex
	acquired int
	block    bool
	started  chan struct{}
	once     sync.Once
}

func (l *countingLimiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	l.acquired++
	block := l.block
	l.mu.Unlock()
	if block {
		if l.started != nil {
			l.once.Do(func() { close(l.started) })
		}
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (l *countingLimiter) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquired
}

type sliceQueue struct {
	mu    sync.Mutex
	units []scraper.WorkUnit
}

func (q *sliceQueue) Next() (scraper.WorkUnit, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.units) == 0 {
		return scraper.WorkUnit{}, false
	}
	u := q.units[0]
	q.units = q.units[1:]
	return u, true
}

func (q *sliceQueue) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.units)
}

type resultCollector struct {
	mu      sync.Mutex
	results []scraper.WorkResult
}

func (c *resultCollector) Collect(r scraper.WorkResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
}

func (c *resultCollector) all() []scraper.WorkResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]scraper.WorkResult(nil), c.results...)
}

type recorder struct {
	mu        sync.Mutex
	successes int
	failures  int
}

func (r *recorder) Record(success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if success {
		r.successes++
	} else {
		r.failures++
	}
}

type artifactRecorder struct {
	mu    sync.Mutex
	saved []string
	err   error
}

func (a *artifactRecorder) Save(_ context.Context, unit scraper.WorkUnit, raw scraper.RawRecord, _ *scraper.Record) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	id := "memory://" + unit.ID() + "_" + raw.Survey.Value
	a.saved = append(a.saved, id)
	return id, nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *eventRecorder) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func unitAt(district, taluka, village string) scraper.WorkUnit {
	return scraper.WorkUnit{
		DistrictCode: district,
		TalukaCode:   taluka,
		VillageCode:  village,
		VillageName:  "village " + village,
	}
}

func testConfig() scraper.Config {
	cfg := scraper.DefaultConfig()
	cfg.RetryBackoffBase = 0
	cfg.StepTimeout = time.Second
	cfg.NavigationTimeout = time.Second
	return cfg
}
