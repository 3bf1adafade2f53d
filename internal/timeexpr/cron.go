package timeexpr

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultCronExpr is the documented fallback for unrecognised schedule
// phrases: midnight every day.
const DefaultCronExpr = "0 0 * * *"

// cronPhrase maps a recognisable fragment to a 5-field cron expression.
// Ordered so that more specific fragments shadow the phrases they contain
// ("every hour during work hours" before "every hour").
var cronPhrases = []struct {
	fragment string
	expr     string
}{
	{"work hours", "0 9-17 * * 1-5"},
	{"twice daily", "0 9,18 * * *"},
	{"twice a day", "0 9,18 * * *"},
	{"every minute", "* * * * *"},
	{"every hour", "0 * * * *"},
	{"hourly", "0 * * * *"},
	{"every morning", "0 9 * * *"},
	{"every evening", "0 18 * * *"},
	{"weekday", "0 9 * * 1-5"},
	{"weekend", "0 10 * * 0,6"},
	{"every day", "0 0 * * *"},
	{"daily", "0 0 * * *"},
	{"every week", "0 0 * * 0"},
	{"weekly", "0 0 * * 0"},
	{"every month", "0 0 1 * *"},
	{"monthly", "0 0 1 * *"},
	{"every year", "0 0 1 1 *"},
	{"yearly", "0 0 1 1 *"},
	{"annually", "0 0 1 1 *"},
}

// GenerateCronExpression maps a schedule phrase ("every morning", "weekdays",
// "twice daily", ...) to a standard 5-field cron expression. Unknown input
// falls back to DefaultCronExpr rather than failing.
func GenerateCronExpression(expr string) string {
	norm := strings.ToLower(strings.TrimSpace(expr))
	for _, p := range cronPhrases {
		if strings.Contains(norm, p.fragment) {
			return p.expr
		}
	}
	return DefaultCronExpr
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextExecutionFromCron returns the next fire time of a 5-field cron
// expression strictly after ref. Invalid expressions return ok=false.
func NextExecutionFromCron(cronExpr string, ref time.Time) (time.Time, bool) {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, false
	}
	next := schedule.Next(ref)
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}
