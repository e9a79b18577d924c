package medical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// AgeRange is a coarse demographic bucket. Exact ages are never stored.
type AgeRange string

const (
	Age0To17  AgeRange = "0-17"
	Age18To29 AgeRange = "18-29"
	Age30To39 AgeRange = "30-39"
	Age40To49 AgeRange = "40-49"
	Age50To59 AgeRange = "50-59"
	Age60To69 AgeRange = "60-69"
	Age70To79 AgeRange = "70-79"
	Age80Plus AgeRange = "80+"
)

// AgeRanges lists the buckets in ascending order.
var AgeRanges = []AgeRange{Age0To17, Age18To29, Age30To39, Age40To49, Age50To59, Age60To69, Age70To79, Age80Plus}

func (a AgeRange) Valid() bool {
	for _, r := range AgeRanges {
		if r == a {
			return true
		}
	}
	return false
}

type BiologicalSex string

const (
	SexMale         BiologicalSex = "male"
	SexFemale       BiologicalSex = "female"
	SexOther        BiologicalSex = "other"
	SexNotSpecified BiologicalSex = "not-specified"
)

type Demographics struct {
	AgeRange      AgeRange      `json:"ageRange"`
	BiologicalSex BiologicalSex `json:"biologicalSex"`
	HeightCm      *float64      `json:"heightCm,omitempty"`
	WeightKg      *float64      `json:"weightKg,omitempty"`
	BMI           *float64      `json:"bmi,omitempty"`
}

// Patient carries only a pseudonymized token and demographic buckets.
type Patient struct {
	ID               string       `json:"id"`
	PseudonymizedID  string       `json:"pseudonymizedId"`
	Demographics     Demographics `json:"demographics"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
	ConsentGiven     bool         `json:"consentGiven"`
	ConsentTimestamp *time.Time   `json:"consentTimestamp,omitempty"`
}

type Condition struct {
	ID            string     `json:"id"`
	ICDCode       string     `json:"icdCode,omitempty"`
	Name          string     `json:"name"`
	DiagnosedDate *time.Time `json:"diagnosedDate,omitempty"`
	Status        string     `json:"status"` // active, resolved, chronic
	Notes         string     `json:"notes,omitempty"`
}

type Allergy struct {
	ID       string `json:"id"`
	Allergen string `json:"allergen"`
	Type     string `json:"type"`     // medication, food, environmental, other
	Severity string `json:"severity"` // mild, moderate, severe, life-threatening
	Reaction string `json:"reaction,omitempty"`
}

type Medication struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Dosage        string     `json:"dosage"`
	Frequency     string     `json:"frequency"`
	StartDate     *time.Time `json:"startDate,omitempty"`
	PrescribedFor string     `json:"prescribedFor,omitempty"`
}

type FamilyHistory struct {
	ID        string `json:"id"`
	Condition string `json:"condition"`
	Relation  string `json:"relation"` // parent, sibling, grandparent, other
	Notes     string `json:"notes,omitempty"`
}

type Surgery struct {
	ID        string    `json:"id"`
	Procedure string    `json:"procedure"`
	Date      time.Time `json:"date"`
	Outcome   string    `json:"outcome,omitempty"`
}

type Lifestyle struct {
	SmokingStatus     string `json:"smokingStatus"`     // never, former, current
	AlcoholUse        string `json:"alcoholUse"`        // none, occasional, moderate, heavy
	ExerciseFrequency string `json:"exerciseFrequency"` // sedentary, light, moderate, active
	DietType          string `json:"dietType,omitempty"`
	Occupation        string `json:"occupation,omitempty"`
}

// MedicalHistory belongs to exactly one patient and is replaced wholesale on
// each submit.
type MedicalHistory struct {
	PatientID     string          `json:"patientId"`
	Conditions    []Condition     `json:"conditions"`
	Allergies     []Allergy       `json:"allergies"`
	Medications   []Medication    `json:"medications"`
	FamilyHistory []FamilyHistory `json:"familyHistory"`
	Surgeries     []Surgery       `json:"surgeries"`
	Lifestyle     Lifestyle       `json:"lifestyle"`
	LastUpdated   time.Time       `json:"lastUpdated"`
}

type Onset string

const (
	OnsetSudden  Onset = "sudden"
	OnsetGradual Onset = "gradual"
	OnsetUnknown Onset = "unknown"
)

type Symptom struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Description        string   `json:"description,omitempty"`
	Onset              Onset    `json:"onset"`
	Duration           string   `json:"duration"`
	Severity           int      `json:"severity"`
	Location           string   `json:"location,omitempty"`
	Characteristics    []string `json:"characteristics"`
	AggravatingFactors []string `json:"aggravatingFactors"`
	RelievingFactors   []string `json:"relievingFactors"`
	AssociatedSymptoms []string `json:"associatedSymptoms"`
	NLPExtracted       bool     `json:"nlpExtracted,omitempty"`
	Confidence         *float64 `json:"confidence,omitempty"`
}

type TemperatureUnit string

const (
	Celsius    TemperatureUnit = "celsius"
	Fahrenheit TemperatureUnit = "fahrenheit"
)

type VitalSigns struct {
	BloodPressureSystolic  *float64        `json:"bloodPressureSystolic,omitempty"`
	BloodPressureDiastolic *float64        `json:"bloodPressureDiastolic,omitempty"`
	HeartRate              *float64        `json:"heartRate,omitempty"`
	RespiratoryRate        *float64        `json:"respiratoryRate,omitempty"`
	Temperature            *float64        `json:"temperature,omitempty"`
	TemperatureUnit        TemperatureUnit `json:"temperatureUnit"`
	OxygenSaturation       *float64        `json:"oxygenSaturation,omitempty"`
	GlucoseLevel           *float64        `json:"glucoseLevel,omitempty"`
	PainLevel              *int            `json:"painLevel,omitempty"`
	RecordedAt             time.Time       `json:"recordedAt"`
}

type EncounterStatus string

const (
	EncounterInProgress EncounterStatus = "in-progress"
	EncounterCompleted  EncounterStatus = "completed"
	EncounterReviewed   EncounterStatus = "reviewed"
)

type ClinicalEncounter struct {
	ID                   string          `json:"id"`
	PatientID            string          `json:"patientId"`
	ChiefComplaint       string          `json:"chiefComplaint"`
	Symptoms             []Symptom       `json:"symptoms"`
	Vitals               VitalSigns      `json:"vitals"`
	PhysicalExamFindings string          `json:"physicalExamFindings,omitempty"`
	ClinicianNotes       string          `json:"clinicianNotes,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
	Status               EncounterStatus `json:"status"`
}

// LabValue holds either a numeric or a free-text lab value.
type LabValue struct {
	Number *float64
	Text   string
}

func NumericValue(v float64) LabValue { return LabValue{Number: &v} }

func TextValue(s string) LabValue { return LabValue{Text: s} }

func (v LabValue) String() string {
	if v.Number != nil {
		return strconv.FormatFloat(*v.Number, 'f', -1, 64)
	}
	return v.Text
}

func (v LabValue) MarshalJSON() ([]byte, error) {
	if v.Number != nil {
		return json.Marshal(*v.Number)
	}
	return json.Marshal(v.Text)
}

func (v *LabValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = LabValue{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = LabValue{Text: s}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("lab value must be a number or string: %w", err)
	}
	*v = LabValue{Number: &f}
	return nil
}

type ReferenceRange struct {
	Low  *float64 `json:"low,omitempty"`
	High *float64 `json:"high,omitempty"`
	Text string   `json:"text,omitempty"`
}

type LabStatus string

const (
	LabNormal       LabStatus = "normal"
	LabAbnormalLow  LabStatus = "abnormal-low"
	LabAbnormalHigh LabStatus = "abnormal-high"
	LabCriticalLow  LabStatus = "critical-low"
	LabCriticalHigh LabStatus = "critical-high"
)

type LabResult struct {
	ID             string         `json:"id"`
	TestName       string         `json:"testName"`
	TestCode       string         `json:"testCode,omitempty"`
	Value          LabValue       `json:"value"`
	Unit           string         `json:"unit"`
	ReferenceRange ReferenceRange `json:"referenceRange"`
	Status         LabStatus      `json:"status"`
	Interpretation string         `json:"interpretation,omitempty"`
	Flags          []string       `json:"flags"`
}

type LaboratoryPanel struct {
	ID          string      `json:"id"`
	EncounterID string      `json:"encounterId"`
	PanelName   string      `json:"panelName"`
	CollectedAt time.Time   `json:"collectedAt"`
	Results     []LabResult `json:"results"`
	Status      string      `json:"status"` // pending, partial, complete
}

// DiagnosticAnalysis is produced by the external model and validated by
// ParseDiagnosticAnalysis before use.
type DiagnosticAnalysis struct {
	ID                    string                  `json:"id"`
	EncounterID           string                  `json:"encounterId"`
	AnalyzedAt            time.Time               `json:"analyzedAt"`
	DifferentialDiagnoses []DifferentialDiagnosis `json:"differentialDiagnoses"`
	RedFlags              []RedFlag               `json:"redFlags"`
	SuggestedTests        []SuggestedTest         `json:"suggestedTests"`
	TreatmentPathways     []TreatmentPathway      `json:"treatmentPathways"`
	Reasoning             ExplainableReasoning    `json:"reasoning"`
	ModelVersion          string                  `json:"modelVersion"`
	Disclaimers           []string                `json:"disclaimers"`
	AuditTrail            []AuditEntry            `json:"auditTrail"`
}

type DifferentialDiagnosis struct {
	ID                       string     `json:"id"`
	Rank                     int        `json:"rank"`
	Condition                string     `json:"condition"`
	ICDCode                  string     `json:"icdCode,omitempty"`
	ConfidenceScore          float64    `json:"confidenceScore"`
	Probability              string     `json:"probability"` // high, moderate, low
	SupportingEvidence       []Evidence `json:"supportingEvidence"`
	ContradictingEvidence    []Evidence `json:"contradictingEvidence"`
	AdditionalConsiderations string     `json:"additionalConsiderations,omitempty"`
}

type Evidence struct {
	Type        string `json:"type"` // symptom, vital, lab, history, medication, demographic
	Description string `json:"description"`
	Weight      string `json:"weight"` // strong, moderate, weak
	SourceID    string `json:"sourceId,omitempty"`
}

type RedFlag struct {
	ID                  string `json:"id"`
	Severity            string `json:"severity"` // immediate, urgent, soon
	Description         string `json:"description"`
	AssociatedCondition string `json:"associatedCondition,omitempty"`
	RecommendedAction   string `json:"recommendedAction"`
	Timeframe           string `json:"timeframe,omitempty"`
}

type ExpectedToRule struct {
	In  []string `json:"in"`
	Out []string `json:"out"`
}

type SuggestedTest struct {
	ID             string         `json:"id"`
	TestName       string         `json:"testName"`
	TestCode       string         `json:"testCode,omitempty"`
	Category       string         `json:"category"` // laboratory, imaging, procedure, specialist-referral
	Priority       string         `json:"priority"` // stat, urgent, routine
	Rationale      string         `json:"rationale"`
	ExpectedToRule ExpectedToRule `json:"expectedToRule"`
}

type GuidelineReference struct {
	Name            string `json:"name"`
	Organization    string `json:"organization"`
	Version         string `json:"version,omitempty"`
	URL             string `json:"url,omitempty"`
	PublicationDate string `json:"publicationDate,omitempty"`
}

type TreatmentPathway struct {
	ID                     string              `json:"id"`
	Condition              string              `json:"condition"`
	Pathway                string              `json:"pathway"` // first-line, second-line, alternative
	Description            string              `json:"description"`
	GuidelineReference     *GuidelineReference `json:"guidelineReference,omitempty"`
	Considerations         []string            `json:"considerations"`
	Contraindications      []string            `json:"contraindications"`
	MonitoringRequirements []string            `json:"monitoringRequirements"`
}

type ReasoningStep struct {
	Step         int      `json:"step"`
	Category     string   `json:"category"`
	Description  string   `json:"description"`
	EvidenceUsed []string `json:"evidenceUsed"`
	Conclusion   string   `json:"conclusion"`
	Confidence   *float64 `json:"confidence,omitempty"`
}

type DataSource struct {
	Type        string     `json:"type"` // patient-input, medical-history, lab-results, vitals, clinical-guidelines
	Description string     `json:"description"`
	AccessedAt  *time.Time `json:"accessedAt,omitempty"`
}

type ExplainableReasoning struct {
	SummaryText        string          `json:"summaryText"`
	ReasoningSteps     []ReasoningStep `json:"reasoningSteps"`
	DataSourcesUsed    []DataSource    `json:"dataSourcesUsed"`
	Limitations        []string        `json:"limitations"`
	UncertaintyFactors []string        `json:"uncertaintyFactors"`
}

// Audit actions recorded in an analysis audit trail.
const (
	AuditView                 = "view"
	AuditCreate               = "create"
	AuditUpdate               = "update"
	AuditDelete               = "delete"
	AuditAnalysisRequested    = "ai-analysis-requested"
	AuditAnalysisViewed       = "ai-analysis-viewed"
	AuditRecommendationAccept = "recommendation-accepted"
	AuditRecommendationReject = "recommendation-rejected"
	AuditReportGenerated      = "report-generated"
	AuditConsentGiven         = "consent-given"
	AuditConsentWithdrawn     = "consent-withdrawn"
)

type AuditEntry struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	Action       string         `json:"action"`
	ActorID      string         `json:"actorId"`
	ActorRole    string         `json:"actorRole"`
	ResourceType string         `json:"resourceType"`
	ResourceID   string         `json:"resourceId"`
	Details      map[string]any `json:"details,omitempty"`
	IPAddress    string         `json:"ipAddress,omitempty"`
	UserAgent    string         `json:"userAgent,omitempty"`
}

// PatientHandout is a plain-language explanation of a diagnosis.
type PatientHandout struct {
	Title          string   `json:"title"`
	Summary        string   `json:"summary"`
	WhatItMeans    string   `json:"whatItMeans"`
	NextSteps      []string `json:"nextSteps"`
	WhenToSeekHelp []string `json:"whenToSeekHelp"`
	QuestionsToAsk []string `json:"questionsToAsk"`
}
