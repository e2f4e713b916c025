// Package presenter formats slot times and counts for human-facing output,
// following the user's locale.
package presenter

import (
	"os"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Locale holds resolved formatting conventions for dates and numbers.
type Locale struct {
	tag     language.Tag
	printer *message.Printer
}

// DetectLocale resolves the user's locale from LC_ALL, LC_TIME or LANG.
// Falls back to en-GB, the booking site's own convention.
func DetectLocale() Locale {
	for _, key := range []string{"LC_ALL", "LC_TIME", "LANG"} {
		if raw := os.Getenv(key); raw != "" && raw != "C" && raw != "POSIX" {
			return NewLocale(raw)
		}
	}
	return NewLocale("")
}

// NewLocale creates a Locale from a POSIX locale string (e.g. "de_DE.UTF-8")
// or BCP 47 tag (e.g. "de-DE"). Returns en-GB for empty or unparseable input.
func NewLocale(raw string) Locale {
	if idx := strings.IndexByte(raw, '.'); idx != -1 {
		raw = raw[:idx]
	}
	raw = strings.ReplaceAll(raw, "_", "-")

	tag, _ := language.Parse(raw)
	if tag == language.Und {
		tag = language.BritishEnglish
	}
	return Locale{tag: tag, printer: message.NewPrinter(tag)}
}

// Tag returns the resolved language tag.
func (l Locale) Tag() language.Tag {
	return l.tag
}

// FormatDate formats the calendar day of t.
func (l Locale) FormatDate(t time.Time) string {
	return t.Format(l.dateLayout())
}

// FormatSlot formats a test slot start: weekday, day and 24-hour time in
// the slot's own location.
func (l Locale) FormatSlot(t time.Time) string {
	return t.Format("Mon ") + l.FormatDate(t) + t.Format(" 15:04")
}

// FormatNumber formats v with locale-appropriate separators.
func (l Locale) FormatNumber(v float64) string {
	if v == float64(int64(v)) {
		return l.printer.Sprint(number.Decimal(int64(v)))
	}
	return l.printer.Sprint(number.Decimal(v, number.MaxFractionDigits(2)))
}

// FormatCount formats "n noun" with a plural s when n is not 1.
func (l Locale) FormatCount(n int, noun string) string {
	if n != 1 {
		noun += "s"
	}
	return l.FormatNumber(float64(n)) + " " + noun
}

func (l Locale) dateLayout() string {
	if region, conf := l.tag.Region(); conf == language.Exact {
		if layout, ok := dateLayouts[region.String()]; ok {
			return layout
		}
	}
	base, _ := l.tag.Base()
	if layout, ok := dateLayoutsByLang[base.String()]; ok {
		return layout
	}
	return layoutDMY
}

const (
	layoutMDY    = "Jan 2, 2006"
	layoutDMY    = "2 Jan 2006"
	layoutYMD    = "2006-01-02"
	layoutDMYDot = "2. Jan 2006"
)

// dateLayouts maps ISO 3166-1 region codes to date layouts.
var dateLayouts = map[string]string{
	"US": layoutMDY,
	"PH": layoutMDY,

	"GB": layoutDMY,
	"IE": layoutDMY,
	"AU": layoutDMY,
	"NZ": layoutDMY,
	"IN": layoutDMY,
	"FR": layoutDMY,
	"ES": layoutDMY,
	"IT": layoutDMY,
	"NL": layoutDMY,
	"PL": layoutDMY,

	"DE": layoutDMYDot,
	"AT": layoutDMYDot,
	"CH": layoutDMYDot,

	"JP": layoutYMD,
	"CN": layoutYMD,
	"KR": layoutYMD,
	"CA": layoutYMD,
}

// dateLayoutsByLang is used when the region is unknown.
var dateLayoutsByLang = map[string]string{
	"en": layoutDMY,
	"de": layoutDMYDot,
	"fr": layoutDMY,
	"es": layoutDMY,
	"it": layoutDMY,
	"nl": layoutDMY,
	"pl": layoutDMY,
	"ja": layoutYMD,
	"zh": layoutYMD,
	"ko": layoutYMD,
}
