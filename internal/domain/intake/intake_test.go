package intake

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hengadev/errsx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdss/cdss/internal/domain/medical"
)

func f64(v float64) *float64 { return &v }

func validInput() PatientInput {
	return PatientInput{
		AgeRange:      medical.Age30To39,
		BiologicalSex: medical.SexMale,
		HeightCm:      f64(180),
		WeightKg:      f64(81),
		ConsentGiven:  true,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*PatientInput)
		errKeys []string
	}{
		{"valid", func(*PatientInput) {}, nil},
		{"no consent", func(in *PatientInput) { in.ConsentGiven = false }, []string{"consentGiven"}},
		{"unknown age range", func(in *PatientInput) { in.AgeRange = "35" }, []string{"ageRange"}},
		{"sex outside intake enum", func(in *PatientInput) { in.BiologicalSex = medical.SexOther }, []string{"biologicalSex"}},
		{"negative measurements", func(in *PatientInput) {
			in.HeightCm = f64(-1)
			in.WeightKg = f64(-2)
		}, []string{"heightCm", "weightKg"}},
		{"everything wrong", func(in *PatientInput) {
			*in = PatientInput{}
		}, []string{"ageRange", "biologicalSex", "consentGiven"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)
			err := Validate(in)

			if len(tt.errKeys) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			errs, ok := err.(errsx.Map)
			require.True(t, ok, "expected errsx.Map, got %T", err)
			assert.Equal(t, len(tt.errKeys), len(errs))
			for _, key := range tt.errKeys {
				_, ok := errs[key]
				assert.True(t, ok, "expected key %q", key)
			}
		})
	}
}

func TestBuildPatient(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	p, err := BuildPatient(validInput(), now)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(p.PseudonymizedID, "PAT-"))
	assert.NotEmpty(t, p.ID)
	assert.True(t, p.ConsentGiven)
	require.NotNil(t, p.ConsentTimestamp)
	assert.Equal(t, now, *p.ConsentTimestamp)
	require.NotNil(t, p.Demographics.BMI)
	assert.Equal(t, 25.0, *p.Demographics.BMI)
}

func TestBuildPatient_KeepsProvidedID(t *testing.T) {
	in := validInput()
	in.PseudonymizedID = " PAT-CUSTOM-1 "
	in.WeightKg = nil
	p, err := BuildPatient(in, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "PAT-CUSTOM-1", p.PseudonymizedID)
	assert.Nil(t, p.Demographics.BMI)
}

func TestBuildPatient_RejectsMissingConsent(t *testing.T) {
	in := validInput()
	in.ConsentGiven = false
	p, err := BuildPatient(in, time.Now())
	assert.Nil(t, p)
	assert.Error(t, err)
}

func TestLoadFile_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "case.yaml")
	content := `
patient:
  ageRange: "30-39"
  biologicalSex: male
  consentGiven: true
symptoms:
  chiefComplaint: chest pain
  symptoms:
    - name: Chest pain
      severity: 8
      onset: sudden
      duration: 2 hours
vitals:
  heartRate: 110
  temperatureUnit: celsius
labs:
  - testName: Troponin I
    value: 0.08
    unit: ng/mL
    referenceRange:
      text: "<0.04"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	f, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, medical.Age30To39, f.Patient.AgeRange)
	assert.True(t, f.Patient.ConsentGiven)
	assert.Equal(t, "chest pain", f.Symptoms.ChiefComplaint)
	require.Len(t, f.Symptoms.Symptoms, 1)
	assert.Equal(t, 8, f.Symptoms.Symptoms[0].Severity)
	require.NotNil(t, f.Vitals.HeartRate)
	assert.Equal(t, 110.0, *f.Vitals.HeartRate)
	require.Len(t, f.Labs, 1)
	require.NotNil(t, f.Labs[0].Value.Number)
	assert.Equal(t, 0.08, *f.Labs[0].Value.Number)
	assert.Nil(t, f.History)
}

func TestLoadFile_JSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "case.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"patient":{"ageRange":"80+","biologicalSex":"female","consentGiven":false}}`), 0o600))

	f, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, medical.Age80Plus, f.Patient.AgeRange)
	assert.Error(t, Validate(f.Patient))
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
