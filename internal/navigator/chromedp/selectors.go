package chromedp

import (
	"strings"

	"github.com/JakeFAU/landrecord-scraper/internal/scraper"
)

// Selectors locates the form controls on the land-record page.
type Selectors struct {
	RecordType   string `mapstructure:"record_type"`
	District     string `mapstructure:"district"`
	Taluka       string `mapstructure:"taluka"`
	Village      string `mapstructure:"village"`
	Survey       string `mapstructure:"survey"`
	CaptchaInput string `mapstructure:"captcha_input"`
	CaptchaImage string `mapstructure:"captcha_image"`
	Refresh      string `mapstructure:"refresh"`
	// BackLinkText is the visible text of the link leading back to the form.
	BackLinkText string `mapstructure:"back_link_text"`
}

// DefaultSelectors matches the rural land-record form.
func DefaultSelectors() Selectors {
	return Selectors{
		RecordType:   "#ContentPlaceHolder1_drpLandRecord",
		District:     "#ContentPlaceHolder1_ddlDistrict",
		Taluka:       "#ContentPlaceHolder1_ddlTaluka",
		Village:      "#ContentPlaceHolder1_ddlVillage",
		Survey:       "#ContentPlaceHolder1_ddlSurveyNo",
		CaptchaInput: "[placeholder='Enter Text Shown Above']",
		CaptchaImage: "#ContentPlaceHolder1_imgCaptcha",
		Refresh:      "#ContentPlaceHolder1_lb_refresh_1",
		BackLinkText: "RURAL LAND RECORD",
	}
}

// withDefaults fills empty selectors from DefaultSelectors.
func (s Selectors) withDefaults() Selectors {
	d := DefaultSelectors()
	fill := func(v *string, def string) {
		if strings.TrimSpace(*v) == "" {
			*v = def
		}
	}
	fill(&s.RecordType, d.RecordType)
	fill(&s.District, d.District)
	fill(&s.Taluka, d.Taluka)
	fill(&s.Village, d.Village)
	fill(&s.Survey, d.Survey)
	fill(&s.CaptchaInput, d.CaptchaInput)
	fill(&s.CaptchaImage, d.CaptchaImage)
	fill(&s.Refresh, d.Refresh)
	fill(&s.BackLinkText, d.BackLinkText)
	return s
}

// For returns the dropdown selector for field, or "" for an unknown field.
func (s Selectors) For(field scraper.Field) string {
	switch field {
	case scraper.FieldRecordType:
		return s.RecordType
	case scraper.FieldDistrict:
		return s.District
	case scraper.FieldTaluka:
		return s.Taluka
	case scraper.FieldVillage:
		return s.Village
	case scraper.FieldSurvey:
		return s.Survey
	default:
		return ""
	}
}

// IsPlaceholder reports whether a dropdown entry is a "please select" prompt
// rather than a real choice.
func IsPlaceholder(o scraper.Option) bool {
	v := strings.TrimSpace(o.Value)
	if v == "" || v == "0" || v == "-1" {
		return true
	}
	text := strings.ToLower(o.Text)
	return strings.Contains(text, "પસંદ") || strings.Contains(text, "select")
}

// FilterOptions drops placeholder entries and trims labels.
func FilterOptions(opts []scraper.Option) []scraper.Option {
	out := make([]scraper.Option, 0, len(opts))
	for _, o := range opts {
		if IsPlaceholder(o) {
			continue
		}
		out = append(out, scraper.Option{Value: strings.TrimSpace(o.Value), Text: strings.TrimSpace(o.Text)})
	}
	return out
}
