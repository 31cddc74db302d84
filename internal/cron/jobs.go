package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stellarlinkco/banterbot/internal/config"
)

// Window makes a job fire once at a random minute inside each block of
// Hours hours between FromHour and ToHour.
type Window struct {
	Hours    int
	FromHour int
	ToHour   int
}

type Job struct {
	Name string
	Kind string
	// Hour and Minute are the local fire time of a daily job.
	Hour   int
	Minute int
	// Weekdays restricts the job to these days; empty means every day.
	Weekdays []time.Weekday
	Window   *Window
}

func (j Job) Daily() bool {
	return j.Window == nil
}

// Spec renders the robfig expression (with seconds) for a daily job.
func (j Job) Spec() string {
	dow := "*"
	if len(j.Weekdays) > 0 {
		days := make([]string, len(j.Weekdays))
		for i, d := range j.Weekdays {
			days[i] = strconv.Itoa(int(d))
		}
		dow = strings.Join(days, ",")
	}
	return fmt.Sprintf("0 %d %d * * %s", j.Minute, j.Hour, dow)
}

func (j Job) runsOn(d time.Weekday) bool {
	if len(j.Weekdays) == 0 {
		return true
	}
	for _, w := range j.Weekdays {
		if w == d {
			return true
		}
	}
	return false
}

func (j Job) String() string {
	if j.Window != nil {
		return fmt.Sprintf("%s: random minute every %dh between %02d:00 and %02d:00",
			j.Name, j.Window.Hours, j.Window.FromHour, j.Window.ToHour)
	}
	days := "daily"
	if len(j.Weekdays) > 0 {
		names := make([]string, len(j.Weekdays))
		for i, d := range j.Weekdays {
			names[i] = d.String()[:3]
		}
		days = strings.Join(names, ",")
	}
	return fmt.Sprintf("%s: %02d:%02d %s", j.Name, j.Hour, j.Minute, days)
}

// DefaultJobs builds the bot's schedule from configuration. A job whose time
// is empty is left out, as is the random job when RandomWindow is zero.
func DefaultJobs(cfg config.ScheduleConfig) ([]Job, error) {
	var jobs []Job
	daily := []struct {
		name     string
		clock    string
		weekdays []time.Weekday
	}{
		{"morning", cfg.MorningTime, nil},
		{"recap", cfg.RecapTime, nil},
		{"night", cfg.NightTime, nil},
		{"weekend", cfg.WeekendTime, []time.Weekday{time.Saturday, time.Sunday}},
	}
	for _, d := range daily {
		if strings.TrimSpace(d.clock) == "" {
			continue
		}
		h, m, err := config.ParseClock(d.clock)
		if err != nil {
			return nil, fmt.Errorf("%s job: %w", d.name, err)
		}
		jobs = append(jobs, Job{Name: d.name, Kind: d.name, Hour: h, Minute: m, Weekdays: d.weekdays})
	}
	if cfg.RandomWindow > 0 && cfg.RandomFromHour < cfg.RandomToHour {
		jobs = append(jobs, Job{
			Name: "random",
			Kind: "random",
			Window: &Window{
				Hours:    cfg.RandomWindow,
				FromHour: cfg.RandomFromHour,
				ToHour:   cfg.RandomToHour,
			},
		})
	}
	return jobs, nil
}

// QuietHours reports whether hour falls in the night window [start, end).
// A window with start > end wraps midnight; start == end disables it.
func QuietHours(hour, start, end int) bool {
	switch {
	case start == end:
		return false
	case start > end:
		return hour >= start || hour < end
	default:
		return hour >= start && hour < end
	}
}
