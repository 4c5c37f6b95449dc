package chromedp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/JakeFAU/landrecord-scraper/internal/scraper"
)

// Session is one browser tab implementing scraper.Session.
type Session struct {
	ctx     context.Context
	cancel  context.CancelFunc
	cfg     Config
	logger  *zap.Logger
	release func()

	closeOnce sync.Once
}

var _ scraper.Session = (*Session)(nil)

func setupAction(userAgent string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := page.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable page domain: %w", err)
		}
		if userAgent != "" {
			if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// onEvent accepts alert and confirm dialogs so postbacks are never blocked.
func (s *Session) onEvent(ev any) {
	dialog, ok := ev.(*page.EventJavascriptDialogOpening)
	if !ok {
		return
	}
	s.logger.Debug("accepting dialog", zap.String("type", string(dialog.Type)), zap.String("message", dialog.Message))
	go func() {
		if err := chromedp.Run(s.ctx, page.HandleJavaScriptDialog(true)); err != nil {
			s.logger.Debug("dialog accept failed", zap.Error(err))
		}
	}()
}

// run executes actions on the tab, bounded by ctx.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := boundTo(ctx, s.ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Open loads formURL and waits for the body.
func (s *Session) Open(ctx context.Context, formURL string) error {
	err := s.run(ctx,
		chromedp.Navigate(formURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return scraper.NewNavError(scraper.NavNetwork, "open", formURL, err)
	}
	return nil
}

const selectScript = `(function(sel, val) {
	const el = document.querySelector(sel);
	if (!el) return "missing";
	if (!Array.from(el.options).some(o => o.value === val)) return "no-option";
	el.value = val;
	el.dispatchEvent(new Event("change", { bubbles: true }));
	return "ok";
})(%s, %s)`

// Select picks value in the dropdown for field and fires change, which
// triggers the form's postback.
func (s *Session) Select(ctx context.Context, field scraper.Field, value string) error {
	sel, err := s.selector("select", field)
	if err != nil {
		return err
	}
	var outcome string
	if err := s.run(ctx, chromedp.Evaluate(script(selectScript, sel, value), &outcome)); err != nil {
		return scraper.NewNavError(scraper.NavNetwork, "select", string(field), err)
	}
	switch outcome {
	case "ok":
		return nil
	case "missing":
		return scraper.NewNavError(scraper.NavNotFound, "select", sel, nil)
	default:
		return scraper.NewNavError(scraper.NavNoOption, "select", fmt.Sprintf("%s=%s", field, value), nil)
	}
}

// WaitStable lets a pending postback start, then waits for the document to
// finish loading.
func (s *Session) WaitStable(ctx context.Context) error {
	var ready bool
	err := s.run(ctx,
		chromedp.Sleep(s.cfg.StableDelay),
		chromedp.Poll(`document.readyState === "complete" && document.body !== null`, &ready),
	)
	if err != nil {
		return scraper.NewNavError(scraper.NavNetwork, "wait stable", "", err)
	}
	return nil
}

const valueScript = `(function(sel) {
	const el = document.querySelector(sel);
	return el ? el.value : null;
})(%s)`

// CurrentSelection returns the selected value of field's dropdown.
func (s *Session) CurrentSelection(ctx context.Context, field scraper.Field) (string, error) {
	sel, err := s.selector("current selection", field)
	if err != nil {
		return "", err
	}
	var value *string
	if err := s.run(ctx, chromedp.Evaluate(script(valueScript, sel), &value)); err != nil {
		return "", scraper.NewNavError(scraper.NavNetwork, "current selection", string(field), err)
	}
	if value == nil {
		return "", scraper.NewNavError(scraper.NavNotFound, "current selection", sel, nil)
	}
	return *value, nil
}

const optionsScript = `(function(sel) {
	const el = document.querySelector(sel);
	if (!el) return null;
	return Array.from(el.options).map(o => ({ value: o.value, text: o.textContent }));
})(%s)`

// Options lists field's dropdown entries without placeholders.
func (s *Session) Options(ctx context.Context, field scraper.Field) ([]scraper.Option, error) {
	sel, err := s.selector("options", field)
	if err != nil {
		return nil, err
	}
	var opts *[]scraper.Option
	if err := s.run(ctx, chromedp.Evaluate(script(optionsScript, sel), &opts)); err != nil {
		return nil, scraper.NewNavError(scraper.NavNetwork, "options", string(field), err)
	}
	if opts == nil {
		return nil, scraper.NewNavError(scraper.NavNotFound, "options", sel, nil)
	}
	return FilterOptions(*opts), nil
}

// EnterCaptcha replaces the captcha input's content with text.
func (s *Session) EnterCaptcha(ctx context.Context, text string) error {
	sel := s.cfg.Selectors.CaptchaInput
	if err := s.require(ctx, "enter captcha", sel); err != nil {
		return err
	}
	err := s.run(ctx,
		chromedp.SetValue(sel, "", chromedp.ByQuery),
		chromedp.SendKeys(sel, text, chromedp.ByQuery),
	)
	if err != nil {
		return scraper.NewNavError(scraper.NavNetwork, "enter captcha", sel, err)
	}
	return nil
}

// Submit presses Enter in the captcha input, which posts the form the same
// way the submit button does.
func (s *Session) Submit(ctx context.Context) error {
	sel := s.cfg.Selectors.CaptchaInput
	if err := s.require(ctx, "submit", sel); err != nil {
		return err
	}
	if err := s.run(ctx, chromedp.SendKeys(sel, kb.Enter, chromedp.ByQuery)); err != nil {
		return scraper.NewNavError(scraper.NavNetwork, "submit", sel, err)
	}
	return nil
}

// RefreshChallenge asks the form for a new captcha image.
func (s *Session) RefreshChallenge(ctx context.Context) error {
	sel := s.cfg.Selectors.Refresh
	if err := s.require(ctx, "refresh captcha", sel); err != nil {
		return err
	}
	if err := s.run(ctx, chromedp.Click(sel, chromedp.ByQuery)); err != nil {
		return scraper.NewNavError(scraper.NavNetwork, "refresh captcha", sel, err)
	}
	return nil
}

const linkScript = `(function(text) {
	const link = Array.from(document.querySelectorAll("a")).find(a => a.textContent.includes(text));
	if (!link) return false;
	link.click();
	return true;
})(%s)`

// ReturnToForm follows the back link on the result page. It fails with
// NavNotFound when the tab is not on a result page.
func (s *Session) ReturnToForm(ctx context.Context) error {
	text := s.cfg.Selectors.BackLinkText
	var clicked bool
	if err := s.run(ctx, chromedp.Evaluate(script(linkScript, text), &clicked)); err != nil {
		return scraper.NewNavError(scraper.NavNetwork, "return to form", text, err)
	}
	if !clicked {
		return scraper.NewNavError(scraper.NavNotFound, "return to form", text, nil)
	}
	return nil
}

// Content returns the rendered page HTML.
func (s *Session) Content(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", scraper.NewNavError(scraper.NavNetwork, "content", "", err)
	}
	return html, nil
}

// CaptureChallengeImage screenshots the captcha image element.
func (s *Session) CaptureChallengeImage(ctx context.Context) ([]byte, error) {
	sel := s.cfg.Selectors.CaptchaImage
	if err := s.require(ctx, "capture captcha", sel); err != nil {
		return nil, err
	}
	var buf []byte
	if err := s.run(ctx, chromedp.Screenshot(sel, &buf, chromedp.NodeVisible, chromedp.ByQuery)); err != nil {
		return nil, scraper.NewNavError(scraper.NavNetwork, "capture captcha", sel, err)
	}
	return buf, nil
}

// Close closes the tab. The browser context goes with its last tab.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		if s.release != nil {
			s.release()
		}
	})
	return nil
}

func (s *Session) selector(op string, field scraper.Field) (string, error) {
	sel := s.cfg.Selectors.For(field)
	if sel == "" {
		return "", scraper.NewNavError(scraper.NavNotFound, op, string(field), fmt.Errorf("unknown field"))
	}
	return sel, nil
}

// require fails with NavNotFound when sel matches nothing, instead of
// letting a query wait out the step timeout.
func (s *Session) require(ctx context.Context, op, sel string) error {
	var present bool
	if err := s.run(ctx, chromedp.Evaluate(script(`document.querySelector(%s) !== null`, sel), &present)); err != nil {
		return scraper.NewNavError(scraper.NavNetwork, op, sel, err)
	}
	if !present {
		return scraper.NewNavError(scraper.NavNotFound, op, sel, nil)
	}
	return nil
}

// script formats a JS template with its arguments as JSON string literals.
func script(tmpl string, args ...string) string {
	quoted := make([]any, len(args))
	for i, a := range args {
		b, _ := json.Marshal(a)
		quoted[i] = string(b)
	}
	return fmt.Sprintf(tmpl, quoted...)
}
