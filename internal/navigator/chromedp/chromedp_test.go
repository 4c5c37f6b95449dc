package chromedp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/landrecord-scraper/internal/scraper"
)

func TestFilterOptions(t *testing.T) {
	t.Parallel()

	in := []scraper.Option{
		{Value: "", Text: ""},
		{Value: "0", Text: "--પસંદ કરો--"},
		{Value: "-1", Text: "All"},
		{Value: "99", Text: "Please Select"},
		{Value: " 02 ", Text: " અમદાવાદ "},
		{Value: "07", Text: "Gandhinagar"},
	}
	require.Equal(t, []scraper.Option{
		{Value: "02", Text: "અમદાવાદ"},
		{Value: "07", Text: "Gandhinagar"},
	}, FilterOptions(in))
	require.Empty(t, FilterOptions(nil))
}

func TestSelectorsDefaultsAndLookup(t *testing.T) {
	t.Parallel()

	sel := Selectors{District: "#custom"}.withDefaults()
	require.Equal(t, "#custom", sel.District)
	require.Equal(t, DefaultSelectors().Taluka, sel.Taluka)
	require.Equal(t, "RURAL LAND RECORD", sel.BackLinkText)

	require.Equal(t, "#ContentPlaceHolder1_drpLandRecord", sel.For(scraper.FieldRecordType))
	require.Equal(t, "#ContentPlaceHolder1_ddlSurveyNo", sel.For(scraper.FieldSurvey))
	require.Empty(t, sel.For(scraper.Field("khata")))
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.withDefaults()
	require.Equal(t, defaultStableDelay, cfg.StableDelay)
	require.Equal(t, DefaultSelectors(), cfg.Selectors)
	require.True(t, DefaultConfig().Headless)

	base := len(allocatorOptions(Config{}))
	require.Len(t, allocatorOptions(Config{NoSandbox: true, ExecPath: "/usr/bin/chromium", UserAgent: "ua"}), base+3)
}

func TestScriptQuotesArguments(t *testing.T) {
	t.Parallel()

	got := script(`f(%s, %s)`, `#a[name='x']`, "he said \"hi\"\n")
	require.Equal(t, `f("#a[name='x']", "he said \"hi\"\n")`, got)
}

func TestBoundToFollowsCaller(t *testing.T) {
	t.Parallel()

	caller, cancelCaller := context.WithCancel(context.Background())
	runCtx, cancel := boundTo(caller, context.Background())
	defer cancel()

	cancelCaller()
	select {
	case <-runCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("bound context outlived its caller")
	}

	deadline := time.Now().Add(time.Hour)
	caller, cancelCaller = context.WithDeadline(context.Background(), deadline)
	defer cancelCaller()
	runCtx, cancel = boundTo(caller, context.Background())
	got, ok := runCtx.Deadline()
	require.True(t, ok)
	require.Equal(t, deadline, got)
	cancel()
	require.Error(t, runCtx.Err())
	require.NoError(t, caller.Err(), "cancelling the bound context leaves the caller alone")
}

func TestClosedBrowserRefusesSessions(t *testing.T) {
	t.Parallel()

	b := NewBrowser(DefaultConfig(), nil)
	b.Close()
	_, err := b.NewSession(context.Background(), 0, 0)
	require.ErrorContains(t, err, "closed")
}

func TestSessionCloseReleasesOnce(t *testing.T) {
	t.Parallel()

	released := 0
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{ctx: ctx, cancel: cancel, release: func() { released++ }}
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.Equal(t, 1, released)
	require.Error(t, ctx.Err())

	_, err := s.selector("select", scraper.Field("nope"))
	require.True(t, scraper.IsNavKind(err, scraper.NavNotFound))
}
