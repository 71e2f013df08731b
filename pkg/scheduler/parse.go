package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TaskSpec is a parsed user schedule. All wall-clock times are UTC.
type TaskSpec struct {
	Kind            ScheduleKind
	RunAt           time.Time
	DailyTime       string
	IntervalMinutes int
}

// Schedule converts the spec into a scheduler Schedule.
func (t *TaskSpec) Schedule() Schedule {
	switch t.Kind {
	case KindDaily:
		return Daily(t.DailyTime)
	case KindInterval:
		return Every(time.Duration(t.IntervalMinutes) * time.Minute)
	default:
		return Once(t.RunAt)
	}
}

var (
	clockSpecRe    = regexp.MustCompile(`(?i)^(today|tomorrow)\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)$`)
	dailySpecRe    = regexp.MustCompile(`^daily\s+(\d{1,2}):(\d{2})$`)
	everySpecRe    = regexp.MustCompile(`(?i)^every\s+(\d+)\s*(m|h)$`)
	inSpecRe       = regexp.MustCompile(`(?i)^in\s+(\d+)\s*(s|m|h)$`)
	temporalCueRe  = regexp.MustCompile(`(?i)\b(today|tomorrow|in\s+\d+\s*(s|sec|secs|seconds|m|min|mins|minutes|h|hr|hrs|hours))\b`)
	scheduleVerbRe = regexp.MustCompile(`(?i)\b(at|schedule|remind|run|send|deliver|do)\b`)
	clockAnyRe     = regexp.MustCompile(`(?i)\b(today|tomorrow)\b.*?\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
	inAnyRe        = regexp.MustCompile(`(?i)\bin\s+(\d+)\s*(s|sec|secs|seconds|m|min|mins|minutes|h|hr|hrs|hours)\b`)
)

// ParseSpec parses one schedule spec from the /schedule grammar:
// {tomorrow H[:MM]am|pm, today H[:MM]am|pm, daily HH:MM, every N[m|h],
// in N[s|m|h]}, all UTC.
func ParseSpec(spec string, now time.Time) (*TaskSpec, error) {
	spec = strings.TrimSpace(spec)

	if m := clockSpecRe.FindStringSubmatch(spec); m != nil {
		runAt, err := clockTime(m[1], m[2], m[3], m[4], now)
		if err != nil {
			return nil, err
		}
		return &TaskSpec{Kind: KindOnce, RunAt: runAt}, nil
	}
	if m := dailySpecRe.FindStringSubmatch(spec); m != nil {
		hour, _ := strconv.Atoi(m[1])
		hhmm := fmt.Sprintf("%02d:%s", hour, m[2])
		if _, _, err := parseDailyTime(hhmm); err != nil {
			return nil, err
		}
		return &TaskSpec{Kind: KindDaily, DailyTime: hhmm}, nil
	}
	if m := everySpecRe.FindStringSubmatch(spec); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n <= 0 {
			return nil, fmt.Errorf("interval must be positive")
		}
		minutes := n
		if strings.EqualFold(m[2], "h") {
			minutes = n * 60
		}
		return &TaskSpec{Kind: KindInterval, IntervalMinutes: minutes}, nil
	}
	if m := inSpecRe.FindStringSubmatch(spec); m != nil {
		d, err := offsetDuration(m[1], m[2])
		if err != nil {
			return nil, err
		}
		return &TaskSpec{Kind: KindOnce, RunAt: now.Add(d)}, nil
	}
	return nil, fmt.Errorf("unrecognized schedule spec %q", spec)
}

// ParseScheduleCommand parses "/schedule <spec> | <instruction>".
func ParseScheduleCommand(text string, now time.Time) (*TaskSpec, string, error) {
	body := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "/schedule"))
	parts := strings.SplitN(body, "|", 2)
	if len(parts) != 2 {
		return nil, "", fmt.Errorf("usage: /schedule <spec> | <instruction>")
	}
	spec, err := ParseSpec(strings.TrimSpace(parts[0]), now)
	if err != nil {
		return nil, "", err
	}
	instruction := strings.TrimSpace(parts[1])
	if instruction == "" {
		return nil, "", fmt.Errorf("instruction must not be empty")
	}
	return spec, instruction, nil
}

// ParseNatural detects a natural-language scheduling request: it must carry
// both a temporal cue and a schedule verb. The whole text is the
// instruction. Returns ok=false when the text is not a scheduling request.
func ParseNatural(text string, now time.Time) (*TaskSpec, string, bool) {
	if !temporalCueRe.MatchString(text) || !scheduleVerbRe.MatchString(text) {
		return nil, "", false
	}

	if m := clockAnyRe.FindStringSubmatch(text); m != nil {
		runAt, err := clockTime(m[1], m[2], m[3], m[4], now)
		if err == nil {
			return &TaskSpec{Kind: KindOnce, RunAt: runAt}, strings.TrimSpace(text), true
		}
	}
	if m := inAnyRe.FindStringSubmatch(text); m != nil {
		d, err := offsetDuration(m[1], m[2])
		if err == nil {
			return &TaskSpec{Kind: KindOnce, RunAt: now.Add(d)}, strings.TrimSpace(text), true
		}
	}
	return nil, "", false
}

func clockTime(day, hourStr, minStr, ampm string, now time.Time) (time.Time, error) {
	hour, err := strconv.Atoi(hourStr)
	if err != nil || hour < 1 || hour > 12 {
		return time.Time{}, fmt.Errorf("hour %q out of range", hourStr)
	}
	minute := 0
	if minStr != "" {
		minute, err = strconv.Atoi(minStr)
		if err != nil || minute > 59 {
			return time.Time{}, fmt.Errorf("minute %q out of range", minStr)
		}
	}
	if strings.EqualFold(ampm, "pm") && hour != 12 {
		hour += 12
	}
	if strings.EqualFold(ampm, "am") && hour == 12 {
		hour = 0
	}

	t := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	if strings.EqualFold(day, "tomorrow") {
		t = t.AddDate(0, 0, 1)
	} else if !t.After(now) {
		return time.Time{}, fmt.Errorf("time %s today is already past", t.Format("15:04"))
	}
	return t, nil
}

func offsetDuration(nStr, unit string) (time.Duration, error) {
	n, err := strconv.Atoi(nStr)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("offset %q out of range", nStr)
	}
	switch strings.ToLower(unit)[0] {
	case 's':
		return time.Duration(n) * time.Second, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	}
	return 0, fmt.Errorf("unknown unit %q", unit)
}
