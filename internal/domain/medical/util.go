package medical

import (
	"crypto/rand"
	"fmt"
	"html"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// GenerateID returns a new random identifier for domain records.
func GenerateID() string {
	return uuid.NewString()
}

// GeneratePseudonymizedID returns a token of the form PAT-<base36 ms>-<random>.
func GeneratePseudonymizedID(now time.Time) string {
	ts := strconv.FormatInt(now.UnixMilli(), 36)
	return strings.ToUpper(fmt.Sprintf("PAT-%s-%s", ts, randomBase36(6)))
}

// GenerateAuditID returns a token of the form AUD-<base36 ms>-<random>.
func GenerateAuditID(now time.Time) string {
	ts := strconv.FormatInt(now.UnixMilli(), 36)
	return fmt.Sprintf("AUD-%s-%s", ts, randomBase36(7))
}

func randomBase36(n int) string {
	var b strings.Builder
	max := big.NewInt(int64(len(base36)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			b.WriteByte('0')
			continue
		}
		b.WriteByte(base36[idx.Int64()])
	}
	return b.String()
}

// CalculateBMI returns weight / height(m)^2 rounded to one decimal.
func CalculateBMI(heightCm, weightKg float64) float64 {
	if heightCm <= 0 || weightKg <= 0 {
		return 0
	}
	m := heightCm / 100
	return math.Round(weightKg/(m*m)*10) / 10
}

type BMIClass struct {
	Category string `json:"category"`
	Risk     string `json:"risk"`
}

func BMICategory(bmi float64) BMIClass {
	switch {
	case bmi < 18.5:
		return BMIClass{Category: "Underweight", Risk: "moderate"}
	case bmi < 25:
		return BMIClass{Category: "Normal", Risk: "low"}
	case bmi < 30:
		return BMIClass{Category: "Overweight", Risk: "moderate"}
	default:
		return BMIClass{Category: "Obese", Risk: "high"}
	}
}

// ConfidenceLabel buckets a 0-100 confidence score.
func ConfidenceLabel(score float64) string {
	switch {
	case score >= 80:
		return "High"
	case score >= 60:
		return "Moderate"
	case score >= 40:
		return "Low"
	default:
		return "Very Low"
	}
}

type DateFormat string

const (
	DateShort DateFormat = "short"
	DateLong  DateFormat = "long"
	DateISO   DateFormat = "iso"
)

func FormatDate(t time.Time, format DateFormat) string {
	switch format {
	case DateLong:
		return t.Format("Monday, January 2, 2006 at 3:04 PM")
	case DateISO:
		return t.UTC().Format(time.RFC3339)
	default:
		return t.Format("Jan 2, 2006")
	}
}

// FormatRelativeTime renders t relative to now, falling back to a short date
// after a week.
func FormatRelativeTime(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	default:
		return FormatDate(t, DateShort)
	}
}

func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

// SanitizeInput escapes HTML-significant characters in free text.
func SanitizeInput(s string) string {
	return html.EscapeString(strings.TrimSpace(s))
}

type LabStatusView struct {
	Label    string `json:"label"`
	Severity string `json:"severity"`
}

func LabStatusDisplay(status LabStatus) LabStatusView {
	switch status {
	case LabAbnormalLow:
		return LabStatusView{Label: "Low", Severity: "warning"}
	case LabAbnormalHigh:
		return LabStatusView{Label: "High", Severity: "warning"}
	case LabCriticalLow:
		return LabStatusView{Label: "Critical Low", Severity: "critical"}
	case LabCriticalHigh:
		return LabStatusView{Label: "Critical High", Severity: "critical"}
	default:
		return LabStatusView{Label: "Normal", Severity: "normal"}
	}
}
