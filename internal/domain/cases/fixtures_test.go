package cases

import (
	"time"

	"github.com/cdss/cdss/internal/domain/medical"
)

func testBundle(pseudoID, complaint string, conditions ...string) *Bundle {
	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	hr := 112.0
	dx := make([]medical.DifferentialDiagnosis, 0, len(conditions))
	for i, c := range conditions {
		dx = append(dx, medical.DifferentialDiagnosis{
			Rank:            i + 1,
			Condition:       c,
			ConfidenceScore: float64(80 - 10*i),
			Probability:     "moderate",
		})
	}
	return &Bundle{
		Patient: medical.Patient{
			ID:               "p-1",
			PseudonymizedID:  pseudoID,
			Demographics:     medical.Demographics{AgeRange: medical.Age50To59, BiologicalSex: medical.SexFemale},
			CreatedAt:        at,
			UpdatedAt:        at,
			ConsentGiven:     true,
			ConsentTimestamp: &at,
		},
		Encounter: medical.ClinicalEncounter{
			ID:             "enc-1",
			PatientID:      "p-1",
			ChiefComplaint: complaint,
			Symptoms:       []medical.Symptom{{ID: "s-1", Name: "Dyspnea", Severity: 6, Onset: medical.OnsetGradual}},
			Vitals:         medical.VitalSigns{HeartRate: &hr},
			CreatedAt:      at,
			Status:         medical.EncounterCompleted,
		},
		Analysis: medical.DiagnosticAnalysis{
			ID:                    "an-1",
			EncounterID:           "enc-1",
			AnalyzedAt:            at,
			DifferentialDiagnoses: dx,
			ModelVersion:          "gemini-test",
			Disclaimers:           []string{medical.StandardDisclaimer},
		},
	}
}
