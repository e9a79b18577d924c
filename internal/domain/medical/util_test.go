package medical

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePseudonymizedID(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	id := GeneratePseudonymizedID(now)

	assert.Regexp(t, regexp.MustCompile(`^PAT-[0-9A-Z]+-[0-9A-Z]{6}$`), id)
	assert.NotEqual(t, id, GeneratePseudonymizedID(now))
}

func TestGenerateAuditID(t *testing.T) {
	id := GenerateAuditID(time.Now())
	assert.Regexp(t, regexp.MustCompile(`^AUD-[0-9a-z]+-[0-9a-z]{7}$`), id)
}

func TestCalculateBMI(t *testing.T) {
	assert.Equal(t, 22.9, CalculateBMI(175, 70))
	assert.Equal(t, 0.0, CalculateBMI(0, 70))
	assert.Equal(t, 0.0, CalculateBMI(175, -1))
}

func TestBMICategory(t *testing.T) {
	tests := []struct {
		bmi      float64
		category string
		risk     string
	}{
		{17.0, "Underweight", "moderate"},
		{18.5, "Normal", "low"},
		{24.9, "Normal", "low"},
		{25.0, "Overweight", "moderate"},
		{30.0, "Obese", "high"},
	}
	for _, tt := range tests {
		got := BMICategory(tt.bmi)
		assert.Equal(t, tt.category, got.Category, "bmi %v", tt.bmi)
		assert.Equal(t, tt.risk, got.Risk, "bmi %v", tt.bmi)
	}
}

func TestConfidenceLabel(t *testing.T) {
	assert.Equal(t, "High", ConfidenceLabel(80))
	assert.Equal(t, "Moderate", ConfidenceLabel(79.9))
	assert.Equal(t, "Low", ConfidenceLabel(40))
	assert.Equal(t, "Very Low", ConfidenceLabel(39))
}

func TestEvaluateVitalSign(t *testing.T) {
	tests := []struct {
		name   string
		kind   VitalKind
		value  float64
		status VitalStatus
	}{
		{"normal heart rate", VitalHeartRate, 72, VitalNormal},
		{"tachycardia", VitalHeartRate, 120, VitalWarning},
		{"extreme tachycardia", VitalHeartRate, 160, VitalCritical},
		{"hypotension", VitalSystolic, 85, VitalWarning},
		{"critical hypotension", VitalSystolic, 70, VitalCritical},
		{"low spo2", VitalSpO2, 93, VitalWarning},
		{"critical spo2", VitalSpO2, 88, VitalCritical},
		{"fever", VitalTemperature, 38.5, VitalWarning},
		{"high fever", VitalTemperature, 40.1, VitalCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := EvaluateVitalSign(tt.kind, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.status, ev.Status)
			assert.NotEmpty(t, ev.Message)
		})
	}

	_, err := EvaluateVitalSign("blood-type", 1)
	assert.Error(t, err)
}

func TestEvaluateVitals_ConvertsFahrenheit(t *testing.T) {
	temp := 101.3
	evs := EvaluateVitals(VitalSigns{Temperature: &temp, TemperatureUnit: Fahrenheit})
	require.Len(t, evs, 1)
	assert.Equal(t, VitalTemperature, evs[0].Kind)
	assert.Equal(t, VitalWarning, evs[0].Status)
}

func TestClassifyLabResult(t *testing.T) {
	low, high := 70.0, 99.0
	ref := ReferenceRange{Low: &low, High: &high}

	assert.Equal(t, LabNormal, ClassifyLabResult(NumericValue(85), ref))
	assert.Equal(t, LabAbnormalLow, ClassifyLabResult(NumericValue(60), ref))
	assert.Equal(t, LabAbnormalHigh, ClassifyLabResult(NumericValue(126), ref))
	assert.Equal(t, LabAbnormalHigh, ClassifyLabResult(NumericValue(12), ReferenceRange{Text: "<10"}))
	assert.Equal(t, LabAbnormalLow, ClassifyLabResult(NumericValue(3.1), ReferenceRange{Text: "3.5-5.0"}))
	assert.Equal(t, LabNormal, ClassifyLabResult(TextValue("positive"), ref))
}

func TestFormatRelativeTime(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "just now", FormatRelativeTime(now.Add(-10*time.Second), now))
	assert.Equal(t, "5m ago", FormatRelativeTime(now.Add(-5*time.Minute), now))
	assert.Equal(t, "3h ago", FormatRelativeTime(now.Add(-3*time.Hour), now))
	assert.Equal(t, "2d ago", FormatRelativeTime(now.Add(-48*time.Hour), now))
	assert.Equal(t, "Feb 1, 2024", FormatRelativeTime(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), now))
}

func TestTruncateAndSanitize(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "chest p...", Truncate("chest pain radiating", 10))
	assert.Equal(t, "&lt;b&gt;pain&lt;/b&gt;", SanitizeInput("  <b>pain</b> "))
}
