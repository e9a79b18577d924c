package medical

import (
	"fmt"
	"strconv"
	"strings"
)

type VitalKind string

const (
	VitalSystolic    VitalKind = "bp-systolic"
	VitalDiastolic   VitalKind = "bp-diastolic"
	VitalHeartRate   VitalKind = "heart-rate"
	VitalRespRate    VitalKind = "resp-rate"
	VitalTemperature VitalKind = "temperature"
	VitalSpO2        VitalKind = "spo2"
)

type VitalStatus string

const (
	VitalNormal   VitalStatus = "normal"
	VitalWarning  VitalStatus = "warning"
	VitalCritical VitalStatus = "critical"
)

type vitalRange struct {
	low, high                 float64
	criticalLow, criticalHigh float64
	label, unit               string
}

// Adult resting ranges. Temperature is in celsius.
var vitalRanges = map[VitalKind]vitalRange{
	VitalSystolic:    {90, 140, 80, 180, "Systolic BP", "mmHg"},
	VitalDiastolic:   {60, 90, 50, 120, "Diastolic BP", "mmHg"},
	VitalHeartRate:   {60, 100, 40, 150, "Heart rate", "bpm"},
	VitalRespRate:    {12, 20, 8, 30, "Respiratory rate", "/min"},
	VitalTemperature: {36.1, 37.2, 35, 39.5, "Temperature", "°C"},
	VitalSpO2:        {95, 100, 90, 101, "SpO2", "%"},
}

type VitalEvaluation struct {
	Kind    VitalKind   `json:"kind"`
	Value   float64     `json:"value"`
	Status  VitalStatus `json:"status"`
	Message string      `json:"message"`
}

// EvaluateVitalSign classifies a single reading against the static range table.
func EvaluateVitalSign(kind VitalKind, value float64) (VitalEvaluation, error) {
	r, ok := vitalRanges[kind]
	if !ok {
		return VitalEvaluation{}, fmt.Errorf("unknown vital sign %q", kind)
	}
	ev := VitalEvaluation{Kind: kind, Value: value, Status: VitalNormal, Message: r.label + " within normal range"}
	switch {
	case value < r.criticalLow:
		ev.Status = VitalCritical
		ev.Message = fmt.Sprintf("%s critically low (%g %s)", r.label, value, r.unit)
	case value > r.criticalHigh:
		ev.Status = VitalCritical
		ev.Message = fmt.Sprintf("%s critically high (%g %s)", r.label, value, r.unit)
	case value < r.low:
		ev.Status = VitalWarning
		ev.Message = fmt.Sprintf("%s below normal (%g %s)", r.label, value, r.unit)
	case value > r.high:
		ev.Status = VitalWarning
		ev.Message = fmt.Sprintf("%s above normal (%g %s)", r.label, value, r.unit)
	}
	return ev, nil
}

func FahrenheitToCelsius(f float64) float64 {
	return (f - 32) * 5 / 9
}

// EvaluateVitals evaluates every reading present in v.
func EvaluateVitals(v VitalSigns) []VitalEvaluation {
	var out []VitalEvaluation
	add := func(kind VitalKind, p *float64) {
		if p == nil {
			return
		}
		if ev, err := EvaluateVitalSign(kind, *p); err == nil {
			out = append(out, ev)
		}
	}
	add(VitalSystolic, v.BloodPressureSystolic)
	add(VitalDiastolic, v.BloodPressureDiastolic)
	add(VitalHeartRate, v.HeartRate)
	add(VitalRespRate, v.RespiratoryRate)
	if v.Temperature != nil {
		t := *v.Temperature
		if v.TemperatureUnit == Fahrenheit {
			t = FahrenheitToCelsius(t)
		}
		add(VitalTemperature, &t)
	}
	add(VitalSpO2, v.OxygenSaturation)
	return out
}

// ClassifyLabResult compares a numeric value with its reference range. Text
// ranges such as "70-99" or "<10" are parsed when no numeric bounds are set.
// Non-numeric values are reported as normal.
func ClassifyLabResult(value LabValue, ref ReferenceRange) LabStatus {
	if value.Number == nil {
		return LabNormal
	}
	low, high := ref.Low, ref.High
	if low == nil && high == nil && ref.Text != "" {
		low, high = parseRangeText(ref.Text)
	}
	v := *value.Number
	switch {
	case low != nil && v < *low:
		return LabAbnormalLow
	case high != nil && v > *high:
		return LabAbnormalHigh
	default:
		return LabNormal
	}
}

func parseRangeText(text string) (low, high *float64) {
	t := strings.TrimSpace(text)
	if t == "" {
		return nil, nil
	}
	parse := func(s string) *float64 {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil
		}
		return &f
	}
	switch {
	case strings.HasPrefix(t, "<"):
		return nil, parse(strings.TrimLeft(t, "<="))
	case strings.HasPrefix(t, ">"):
		return parse(strings.TrimLeft(t, ">=")), nil
	}
	if i := strings.Index(t[1:], "-"); i >= 0 {
		return parse(t[:i+1]), parse(t[i+2:])
	}
	return nil, nil
}
