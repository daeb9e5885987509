package catalog

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Time layouts understood by TimeRule.
const (
	// LayoutHalfMonth is YYYYMMhh where hh 01 is the first half of the
	// month (day 8) and anything else the second half (day 23).
	LayoutHalfMonth = "halfmonth"
	// LayoutDayOfYear is YYYYDDD, optionally YYYY.DDD.
	LayoutDayOfYear = "doy"
	// LayoutMonth is YYYYMM; the day comes from TimeRule.Day.
	LayoutMonth = "month"
	// LayoutDate is YYYYMMDD.
	LayoutDate = "date"
	// LayoutYear is YYYY, stamped January 1.
	LayoutYear = "year"
	// LayoutCoordinate takes time from the file's own time variable.
	LayoutCoordinate = "coordinate"
)

// TimeRule tells how a file name encodes its timestamp. The base name minus
// its extension is split on underscores and the token at index Token is
// decoded with Layout. A negative Token counts from the end.
type TimeRule struct {
	Layout string `toml:"layout"`
	Token  int    `toml:"token"`
	Day    int    `toml:"day"`
}

// ParseError is returned for a file name that does not fit its dataset's
// naming convention.
type ParseError struct {
	File   string
	Layout string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot read %s timestamp from %q: %v", e.Layout, filepath.Base(e.File), e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// FromCoordinate reports whether time is read from inside the files.
func (r TimeRule) FromCoordinate() bool {
	return r.Layout == LayoutCoordinate
}

func (r TimeRule) validate() error {
	switch r.Layout {
	case LayoutHalfMonth, LayoutDayOfYear, LayoutDate, LayoutYear, LayoutCoordinate:
	case LayoutMonth:
		if r.Day < 0 || r.Day > 28 {
			return errors.Errorf("month layout day %d out of range 1..28", r.Day)
		}
	default:
		return errors.Errorf("unknown time layout %q", r.Layout)
	}
	return nil
}

// Parse returns the timestamp encoded in path.
func (r TimeRule) Parse(path string) (time.Time, error) {
	fail := func(err error) (time.Time, error) {
		return time.Time{}, &ParseError{File: path, Layout: r.Layout, Err: err}
	}
	tok, err := r.token(path)
	if err != nil {
		return fail(err)
	}
	var t time.Time
	switch r.Layout {
	case LayoutHalfMonth:
		t, err = parseHalfMonth(tok)
	case LayoutDayOfYear:
		t, err = parseDayOfYear(tok)
	case LayoutMonth:
		day := r.Day
		if day == 0 {
			day = 1
		}
		t, err = parseMonth(tok, day)
	case LayoutDate:
		t, err = parseDate(tok)
	case LayoutYear:
		var year int
		year, err = digits(tok, 0, 4)
		t = time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	default:
		err = errors.Errorf("layout %q does not read file names", r.Layout)
	}
	if err != nil {
		return fail(err)
	}
	return t, nil
}

func (r TimeRule) token(path string) (string, error) {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	parts := strings.Split(base, "_")
	i := r.Token
	if i < 0 {
		i += len(parts)
	}
	if i < 0 || i >= len(parts) {
		return "", errors.Errorf("no token %d in %d underscore-separated parts", r.Token, len(parts))
	}
	return parts[i], nil
}

// digits parses s[begin:end] as a non-negative decimal number.
func digits(s string, begin, end int) (int, error) {
	if len(s) < end {
		return 0, errors.Errorf("token %q is shorter than %d characters", s, end)
	}
	part := s[begin:end]
	for _, c := range part {
		if c < '0' || c > '9' {
			return 0, errors.Errorf("%q is not a number", part)
		}
	}
	return strconv.Atoi(part)
}

func yearMonth(tok string) (int, time.Month, error) {
	year, err := digits(tok, 0, 4)
	if err != nil {
		return 0, 0, err
	}
	month, err := digits(tok, 4, 6)
	if err != nil {
		return 0, 0, err
	}
	if month < 1 || month > 12 {
		return 0, 0, errors.Errorf("month %d out of range", month)
	}
	return year, time.Month(month), nil
}

func parseHalfMonth(tok string) (time.Time, error) {
	year, month, err := yearMonth(tok)
	if err != nil {
		return time.Time{}, err
	}
	if len(tok) < 8 {
		return time.Time{}, errors.Errorf("token %q has no half-month code", tok)
	}
	day := 23
	if tok[6:8] == "01" {
		day = 8
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), nil
}

func parseDayOfYear(tok string) (time.Time, error) {
	tok = strings.Replace(tok, ".", "", 1)
	year, err := digits(tok, 0, 4)
	if err != nil {
		return time.Time{}, err
	}
	doy, err := digits(tok, 4, 7)
	if err != nil {
		return time.Time{}, err
	}
	jan1 := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	t := jan1.AddDate(0, 0, doy-1)
	if doy < 1 || t.Year() != year {
		return time.Time{}, errors.Errorf("day of year %d out of range for %d", doy, year)
	}
	return t, nil
}

func parseMonth(tok string, day int) (time.Time, error) {
	year, month, err := yearMonth(tok)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), nil
}

func parseDate(tok string) (time.Time, error) {
	if len(tok) < 8 {
		return time.Time{}, errors.Errorf("token %q is shorter than YYYYMMDD", tok)
	}
	return time.Parse("20060102", tok[:8])
}
