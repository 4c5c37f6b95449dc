package extract

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/landrecord-scraper/internal/scraper"
)

const (
	minTableChars = 200
	sqYdPerSqM    = 1.19599
)

// gujaratiDigits folds Gujarati numerals to ASCII. પ is a common font
// substitution for ૫ on the result page.
var gujaratiDigits = strings.NewReplacer(
	"૦", "0", "૧", "1", "૨", "2", "૩", "3", "૪", "4",
	"૫", "5", "૬", "6", "૭", "7", "૮", "8", "૯", "9",
	"પ", "5",
)

// ASCIIDigits replaces Gujarati digits in s with ASCII ones.
func ASCIIDigits(s string) string {
	return gujaratiDigits.Replace(s)
}

var (
	statusTimeRe = regexp.MustCompile(`તા\.?\s*([0-9૦-૯/]+\s*[0-9૦-૯:]+)\s*ની સ્થિતિએ`)
	upinRe       = regexp.MustCompile(`(?i)UPIN[^:]*[:：\)]\s*([A-Z]{2}[0-9]+)`)
	areaRe       = regexp.MustCompile(`(\d+)-(\d+)-(\d+)`)
	entryLineRe  = regexp.MustCompile(`^[\d,\s]+,?\s*$`)
	digitsRe     = regexp.MustCompile(`\d+`)
	assessmentRe = regexp.MustCompile(`^([૦-૯0-9]+\.[૦-૯0-9]+)`)
)

// labeled fields are read from their span first and from page text second.
type labeled struct {
	ids     []string
	pattern *regexp.Regexp
	set     func(*scraper.Record, string)
}

var labeledFields = []labeled{
	{
		ids:     []string{"lblDataTime", "lblDateTime", "lblStatusTime"},
		pattern: statusTimeRe,
		set:     func(r *scraper.Record, v string) { r.DataStatusTime = ASCIIDigits(v) },
	},
	{
		ids:     []string{"lblUPIN", "lblUpin", "lblPropertyId"},
		pattern: upinRe,
		set:     func(r *scraper.Record, v string) { r.UPIN = v },
	},
	{
		ids:     []string{"lblOldSurveyNo", "lblOldSurvey"},
		pattern: regexp.MustCompile(`જુનો સરવે નંબર[^:]*[:：]\s*([^\n]+)`),
		set:     func(r *scraper.Record, v string) { r.OldSurveyNumber = v },
	},
	{
		ids:     []string{"lblTenure", "lblSattaPrakar"},
		pattern: regexp.MustCompile(`સત્તાપ્રકાર[^:]*[:：]\s*([^\n]+)`),
		set:     func(r *scraper.Record, v string) { r.Tenure = v },
	},
	{
		ids:     []string{"lblLandUse", "lblUse"},
		pattern: regexp.MustCompile(`જમીનનો ઉપયોગ[^:]*[:：]\s*([^\n]+)`),
		set:     func(r *scraper.Record, v string) { r.LandUse = v },
	},
	{
		ids:     []string{"lblFarmName", "lblKhetarName"},
		pattern: regexp.MustCompile(`ખેતરનું નામ[^:]*[:：]\s*([^\n]+)`),
		set:     func(r *scraper.Record, v string) { r.FarmName = v },
	},
	{
		ids:     []string{"lblRemarks", "lblOtherDetails"},
		pattern: regexp.MustCompile(`રીમાર્ક્સ[^:]*[:：]\s*([^\n]+)`),
		set:     func(r *scraper.Record, v string) { r.Remarks = v },
	},
	{
		ids:     []string{"lblArea", "lblTotalArea"},
		pattern: regexp.MustCompile(`(?s)કુલ ક્ષેત્રફળ[^:]*:\s*([૦-૯પ0-9]+-[૦-૯પ0-9]+-[૦-૯પ0-9]+)`),
		set:     func(r *scraper.Record, v string) { r.Area = ParseArea(v) },
	},
	{
		ids:     []string{"lblAssessment", "lblAakar", "lblTax"},
		pattern: regexp.MustCompile(`(?s)કુલ આકાર[^:]*:\s*([૦-૯પ0-9\.]+)`),
		set:     func(r *scraper.Record, v string) { r.AssessmentTax = ASCIIDigits(v) },
	},
}

// VF7 implements scraper.ResultExtractor for the VF-7 result page.
type VF7 struct {
	logger *zap.Logger
}

// NewVF7 builds the extractor.
func NewVF7(logger *zap.Logger) *VF7 {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VF7{logger: logger.Named("extract")}
}

// Extract parses raw. It returns nil without error when raw is not a result
// page, which is how a rejected captcha shows up.
func (x *VF7) Extract(raw string) (*scraper.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse result page: %w", err)
	}
	kind, msg := Detect(doc)
	if kind != PageResult {
		if msg != "" {
			x.logger.Debug("form reported an error", zap.String("message", msg))
		}
		return nil, nil
	}

	rec := &scraper.Record{}
	text := doc.Text()

	var ownerTable string
	doc.Find("table").Each(func(_ int, s *goquery.Selection) {
		t := strings.TrimSpace(s.Text())
		if utf8.RuneCountInString(t) <= minTableChars {
			return
		}
		rec.Tables = append(rec.Tables, t)
		if ownerTable == "" && strings.Contains(t, ResultMarker) {
			ownerTable = t
		}
	})

	for _, f := range labeledFields {
		if v := labelValue(doc, f.ids); v != "" {
			f.set(rec, v)
			continue
		}
		if m := f.pattern.FindStringSubmatch(text); m != nil {
			if v := strings.TrimSpace(m[1]); v != "" && v != "-" && v != "----" {
				f.set(rec, v)
			}
		}
	}

	if ownerTable == "" {
		ownerTable = text
	}
	khata, area, assessment := KhataLine(ownerTable)
	rec.KhataNumber = khata
	if rec.Area == nil && area != "" {
		rec.Area = ParseArea(area)
	}
	if rec.AssessmentTax == "" {
		rec.AssessmentTax = assessment
	}
	rec.EntryNumbers = EntryNumbers(ownerTable)
	return rec, nil
}

func labelValue(doc *goquery.Document, ids []string) string {
	for _, id := range ids {
		for _, sel := range []string{"#" + id, "[id$='" + id + "']", "[id*='" + id + "']"} {
			if v := strings.TrimSpace(doc.Find(sel).First().Text()); v != "" {
				return v
			}
		}
	}
	return ""
}

// ParseArea reads hectare-are-square-metre notation such as ૦-પ૬-૬૬. It
// returns nil when s does not contain that notation.
func ParseArea(s string) *scraper.Area {
	m := areaRe.FindStringSubmatch(ASCIIDigits(s))
	if m == nil {
		return nil
	}
	h, _ := strconv.Atoi(m[1])
	a, _ := strconv.Atoi(m[2])
	sq, _ := strconv.Atoi(m[3])
	total := h*10000 + a*100 + sq
	return &scraper.Area{
		Raw:      strings.TrimSpace(s),
		Hectare:  h,
		Are:      a,
		SqM:      sq,
		TotalSqM: total,
		SqYd:     math.Round(float64(total)*sqYdPerSqM*100) / 100,
	}
}

// KhataLine reads the first pipe-separated row after the dashed separator:
// khata number, raw area and assessment.
func KhataLine(text string) (khata, area, assessment string) {
	afterSeparator := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.Contains(line, "---") {
			afterSeparator = true
			continue
		}
		if !afterSeparator || !strings.Contains(line, "|") {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) < 3 {
			return "", "", ""
		}
		khata = ASCIIDigits(strings.TrimSpace(parts[0]))
		area = strings.TrimSpace(parts[1])
		if m := assessmentRe.FindStringSubmatch(strings.TrimSpace(parts[2])); m != nil {
			assessment = ASCIIDigits(m[1])
		}
		return khata, area, assessment
	}
	return "", "", ""
}

// EntryNumbers reads the first comma-separated list of mutation entry
// numbers above the khata table.
func EntryNumbers(text string) []string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.Contains(line, ResultMarker) || strings.Contains(line, "---") {
			continue
		}
		ascii := ASCIIDigits(line)
		if entryLineRe.MatchString(ascii) && digitsRe.MatchString(ascii) {
			return digitsRe.FindAllString(ascii, -1)
		}
	}
	return nil
}
