package extract

import (
	"fmt"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func resultPage() string {
	owners := strings.Repeat("ભગતભાઈ રામભાઈ પટેલ(૧૮૬)\n", 8)
	return fmt.Sprintf(`<html><body>
<span id="ContentPlaceHolder1_lblUPIN">GJ0102030405</span>
<div>તા.૦૧/૦૨/૨૦૨૪ ૧૦:૩૦ ની સ્થિતિએ</div>
<div>સત્તાપ્રકાર : જુની શરત</div>
<table><tr><td><pre>
૭,૧૮૬,પ૮૩,
ખાતા નંબર | ક્ષેત્રફળ | આકાર | નોંધ નંબરો તથા ખાતેદાર
-----------------------------------------------
૩૨ | ૦-પ૬-૬૬ | ૭.૦૦ભગતભાઈ રામભાઈ પટેલ
%s</pre></td></tr></table>
<table><tr><td>short</td></tr></table>
<span id="ContentPlaceHolder1_lblMsg"></span>
</body></html>`, owners)
}

const rejectedPage = `<html><body>
<select id="ContentPlaceHolder1_ddlDistrict"><option value="02">Ahmedabad</option></select>
<span id="ContentPlaceHolder1_lblError">Invalid Captcha</span>
</body></html>`

func TestVF7Extract(t *testing.T) {
	t.Parallel()

	rec, err := NewVF7(nil).Extract(resultPage())
	require.NoError(t, err)
	require.NotNil(t, rec)

	require.Equal(t, "32", rec.KhataNumber)
	require.Equal(t, "GJ0102030405", rec.UPIN)
	require.Equal(t, "01/02/2024 10:30", rec.DataStatusTime)
	require.Equal(t, "જુની શરત", rec.Tenure)
	require.Equal(t, "7.00", rec.AssessmentTax)
	require.Equal(t, []string{"7", "186", "583"}, rec.EntryNumbers)
	require.Len(t, rec.Tables, 1)

	require.NotNil(t, rec.Area)
	require.Equal(t, 0, rec.Area.Hectare)
	require.Equal(t, 56, rec.Area.Are)
	require.Equal(t, 66, rec.Area.SqM)
	require.Equal(t, 5666, rec.Area.TotalSqM)
	require.InDelta(t, 6776.48, rec.Area.SqYd, 0.001)
}

func TestVF7ExtractNonResult(t *testing.T) {
	t.Parallel()

	x := NewVF7(nil)
	rec, err := x.Extract(rejectedPage)
	require.NoError(t, err)
	require.Nil(t, rec)

	rec, err = x.Extract("")
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestDetect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		html string
		kind PageKind
		msg  string
	}{
		{"result", resultPage(), PageResult, ""},
		{"error", rejectedPage, PageError, "Invalid Captcha"},
		{"form", `<select id="x"></select><span id="lblMsg"> </span>`, PageForm, ""},
		{"unknown", `<p>maintenance</p>`, PageUnknown, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(tt.html))
			require.NoError(t, err)
			kind, msg := Detect(doc)
			require.Equal(t, tt.kind, kind, kind.String())
			require.Equal(t, tt.msg, msg)
		})
	}
}

func TestParseArea(t *testing.T) {
	t.Parallel()

	a := ParseArea("૧-૦૨-૦૩")
	require.NotNil(t, a)
	require.Equal(t, 10203, a.TotalSqM)
	require.Equal(t, "૧-૦૨-૦૩", a.Raw)

	require.Equal(t, 5666, ParseArea("0-56-66").TotalSqM)
	require.Nil(t, ParseArea("----"))
	require.Nil(t, ParseArea(""))
}

func TestKhataLineAndEntries(t *testing.T) {
	t.Parallel()

	khata, area, assessment := KhataLine("header\n---\nno pipes\n૧૨ | 1-2-3 | abc")
	require.Equal(t, "12", khata)
	require.Equal(t, "1-2-3", area)
	require.Empty(t, assessment)

	khata, _, _ = KhataLine("૧૨ | 1-2-3 | 4.00")
	require.Empty(t, khata, "rows before the separator are headers")

	require.Nil(t, EntryNumbers("ખાતા નંબર\n---"))
	require.Equal(t, []string{"651", "895"}, EntryNumbers("\n૬પ૧, ૮૯પ\n"))
}

func TestASCIIDigits(t *testing.T) {
	t.Parallel()

	require.Equal(t, "0123456789", ASCIIDigits("૦૧૨૩૪૫૬૭૮૯"))
	require.Equal(t, "55", ASCIIDigits("પ૫"))
	require.Equal(t, "abc", ASCIIDigits("abc"))
}
