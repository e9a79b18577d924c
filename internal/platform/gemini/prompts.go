package gemini

import (
	"fmt"
	"strings"

	"github.com/cdss/cdss/internal/domain/medical"
)

const clinicalSystemPrompt = `You are a clinical decision support assistant for licensed clinicians.
You never make a final diagnosis. You produce a ranked differential diagnosis with explicit
supporting and contradicting evidence, red flags, suggested tests, and evidence-based treatment
pathways, and you explain every reasoning step. Respond with JSON only.`

const analysisSchema = `{
  "differentialDiagnoses": [{"rank": 1, "condition": "", "icdCode": "", "confidenceScore": 0,
    "probability": "high|moderate|low",
    "supportingEvidence": [{"type": "symptom|vital|lab|history|medication|demographic", "description": "", "weight": "strong|moderate|weak"}],
    "contradictingEvidence": [], "additionalConsiderations": ""}],
  "redFlags": [{"severity": "immediate|urgent|soon", "description": "", "associatedCondition": "", "recommendedAction": "", "timeframe": ""}],
  "suggestedTests": [{"testName": "", "category": "laboratory|imaging|procedure|specialist-referral",
    "priority": "stat|urgent|routine", "rationale": "", "expectedToRule": {"in": [], "out": []}}],
  "treatmentPathways": [{"condition": "", "pathway": "first-line|second-line|alternative", "description": "",
    "guidelineReference": {"name": "", "organization": ""}, "considerations": [], "contraindications": [], "monitoringRequirements": []}],
  "reasoning": {"summaryText": "", "reasoningSteps": [{"step": 1, "category": "", "description": "",
    "evidenceUsed": [], "conclusion": "", "confidence": 0}],
    "dataSourcesUsed": [{"type": "patient-input|medical-history|lab-results|vitals|clinical-guidelines", "description": ""}],
    "limitations": [], "uncertaintyFactors": []}
}`

func buildAnalysisPrompt(p *medical.Patient, e *medical.ClinicalEncounter, h *medical.MedicalHistory, labs []medical.LaboratoryPanel) string {
	var b strings.Builder
	b.WriteString("Analyze the following de-identified clinical case.\n\n")

	b.WriteString("## Patient\n")
	fmt.Fprintf(&b, "- Age range: %s\n- Biological sex: %s\n", p.Demographics.AgeRange, p.Demographics.BiologicalSex)
	if p.Demographics.BMI != nil {
		bmi := *p.Demographics.BMI
		fmt.Fprintf(&b, "- BMI: %.1f (%s)\n", bmi, medical.BMICategory(bmi).Category)
	}

	b.WriteString("\n## Encounter\n")
	fmt.Fprintf(&b, "- Chief complaint: %s\n", orNone(e.ChiefComplaint))
	if len(e.Symptoms) == 0 {
		b.WriteString("- Symptoms: none recorded\n")
	}
	for _, s := range e.Symptoms {
		fmt.Fprintf(&b, "- Symptom: %s, severity %d/10", s.Name, s.Severity)
		if s.Onset != "" {
			fmt.Fprintf(&b, ", onset %s", s.Onset)
		}
		if s.Duration != "" {
			fmt.Fprintf(&b, ", duration %s", s.Duration)
		}
		if s.Location != "" {
			fmt.Fprintf(&b, ", location %s", s.Location)
		}
		if len(s.Characteristics) > 0 {
			fmt.Fprintf(&b, ", characteristics: %s", strings.Join(s.Characteristics, "; "))
		}
		b.WriteString("\n")
	}

	if evs := medical.EvaluateVitals(e.Vitals); len(evs) > 0 {
		b.WriteString("\n## Vital signs\n")
		for _, ev := range evs {
			fmt.Fprintf(&b, "- %s: %g [%s] %s\n", ev.Kind, ev.Value, ev.Status, ev.Message)
		}
	}

	if h != nil {
		b.WriteString("\n## Medical history\n")
		for _, c := range h.Conditions {
			fmt.Fprintf(&b, "- Condition: %s (%s)\n", c.Name, c.Status)
		}
		for _, a := range h.Allergies {
			fmt.Fprintf(&b, "- Allergy: %s, %s, %s\n", a.Allergen, a.Type, a.Severity)
		}
		for _, m := range h.Medications {
			fmt.Fprintf(&b, "- Medication: %s %s %s\n", m.Name, m.Dosage, m.Frequency)
		}
		l := h.Lifestyle
		fmt.Fprintf(&b, "- Lifestyle: smoking %s, alcohol %s, exercise %s\n",
			orNone(l.SmokingStatus), orNone(l.AlcoholUse), orNone(l.ExerciseFrequency))
	}

	results := 0
	for _, panel := range labs {
		for _, r := range panel.Results {
			if results == 0 {
				b.WriteString("\n## Laboratory results\n")
			}
			results++
			fmt.Fprintf(&b, "- %s: %s %s (reference %s) [%s]\n",
				r.TestName, r.Value, r.Unit, describeRange(r.ReferenceRange), r.Status)
		}
	}

	b.WriteString("\nReturn a JSON object with exactly this shape:\n")
	b.WriteString(analysisSchema)
	b.WriteString("\nConfidence scores are integers from 0 to 100. Rank diagnoses from most to least likely.\n")
	return b.String()
}

func describeRange(r medical.ReferenceRange) string {
	switch {
	case r.Text != "":
		return r.Text
	case r.Low != nil && r.High != nil:
		return fmt.Sprintf("%g-%g", *r.Low, *r.High)
	case r.Low != nil:
		return fmt.Sprintf(">=%g", *r.Low)
	case r.High != nil:
		return fmt.Sprintf("<=%g", *r.High)
	}
	return "n/a"
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "none"
	}
	return s
}

func buildExtractionPrompt(text string) string {
	return `Extract every symptom mentioned in the patient narrative below.
Return a JSON array. Each element has: "name", "description", "onset" (sudden|gradual|unknown),
"duration", "severity" (1-10, estimate 5 if unstated), "location", "characteristics" (array),
"aggravatingFactors" (array), "relievingFactors" (array), "associatedSymptoms" (array),
"confidence" (0-100, how certain the extraction is). Return [] if no symptoms are present.

Narrative:
"""
` + text + `
"""`
}

const chatSystemPrompt = `You are a concise medical information assistant embedded in a clinical
decision support tool. Answer clinicians' questions accurately, cite guideline bodies where relevant,
and remind the user that answers do not replace clinical judgment when giving treatment information.`

func buildImagePrompt(kind, subject string) string {
	switch kind {
	case "anatomy":
		return "Create a clean, labeled medical illustration of the anatomy relevant to: " + subject +
			". Use a neutral educational style suitable for a patient handout."
	case "mechanism":
		return "Create a simple diagram explaining the disease mechanism of: " + subject +
			". Use arrows and short labels, educational style."
	default:
		return "Create a clear educational medical illustration about: " + subject + "."
	}
}

func buildHandoutPrompt(diagnosis string, age medical.AgeRange) string {
	return fmt.Sprintf(`Write a patient-friendly explanation of the condition %q for a patient in the %s age range.
Use plain language at a sixth-grade reading level. Return a JSON object with:
"title", "summary", "whatItMeans", "nextSteps" (array), "whenToSeekHelp" (array), "questionsToAsk" (array).`,
		diagnosis, age)
}
