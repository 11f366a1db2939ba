package model

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrISOFormat = errors.New("invalid ISO8601 duration")

// ParseCron validates a 5 field cron expression or a macro such as @hourly.
func ParseCron(expr string) (cron.Schedule, error) {
	e := strings.TrimSpace(expr)
	if e == "" {
		return nil, errors.New("empty cron expression")
	}
	if strings.HasPrefix(e, "@") {
		return cron.ParseStandard(e)
	}
	parser5 := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser5.Parse(e)
}

// Validate checks the report has exactly one valid schedule.
func (r Report) Validate() error {
	switch {
	case r.Cron != "" && r.Duration != "":
		return errors.New("report: both cron and duration are set")
	case r.Cron != "":
		if _, err := ParseCron(r.Cron); err != nil {
			return fmt.Errorf("parsing service.report.cron: %w", err)
		}
	case r.Duration != "":
		d, err := ParseISODuration(r.Duration)
		if err != nil {
			return fmt.Errorf("parsing service.report.duration: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("service.report.duration must be positive, got %s", d)
		}
	default:
		return errors.New("report: both cron and duration are empty")
	}
	return nil
}

var isoDurationRx = regexp.MustCompile(`^P(?:(?P<day>\d+)D)?(?:T(?:(?P<hour>\d+)H)?(?:(?P<minute>\d+)M)?(?:(?P<second>\d+(?:[.,]\d+)?)S)?)?$`)

// ParseISODuration parses the day and time part of ISO8601 durations, e.g.
// PT30S, PT1M, P1DT12H. Years, months and weeks are rejected as they have no
// fixed length.
func ParseISODuration(dur string) (time.Duration, error) {
	if dur == "" || dur == "P" || strings.HasSuffix(dur, "T") {
		return 0, ErrISOFormat
	}
	match := isoDurationRx.FindStringSubmatch(dur)
	if match == nil {
		return 0, ErrISOFormat
	}

	var ret time.Duration
	for i, name := range isoDurationRx.SubexpNames() {
		part := match[i]
		if i == 0 || name == "" || part == "" {
			continue
		}
		var unit time.Duration
		switch name {
		case "day":
			unit = 24 * time.Hour
		case "hour":
			unit = time.Hour
		case "minute":
			unit = time.Minute
		case "second":
			unit = time.Second
		}
		num, frac, err := splitNumber(part)
		if err != nil {
			return 0, err
		}
		if num > math.MaxInt64/int64(unit) {
			return 0, fmt.Errorf("%w: overflow", ErrISOFormat)
		}
		ret += time.Duration(num)*unit + time.Duration(frac*float64(unit))
	}
	return ret, nil
}

func splitNumber(s string) (num int64, frac float64, err error) {
	s = strings.Replace(s, ",", ".", 1)
	whole, fraction, ok := strings.Cut(s, ".")
	if ok {
		if len(fraction) > 9 {
			return 0, 0, ErrISOFormat
		}
		f, err := strconv.Atoi(fraction)
		if err != nil {
			return 0, 0, fmt.Errorf("parsing fraction: %w", err)
		}
		frac = float64(f) / math.Pow10(len(fraction))
	}
	num, err = strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing number: %w", err)
	}
	return num, frac, nil
}
