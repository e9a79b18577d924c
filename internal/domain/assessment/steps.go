package assessment

// Step is one page of the intake wizard.
type Step string

const (
	StepPatientInfo    Step = "patient-info"
	StepMedicalHistory Step = "medical-history"
	StepSymptoms       Step = "symptoms"
	StepVitals         Step = "vitals"
	StepLabResults     Step = "lab-results"
	StepAnalysis       Step = "analysis"
)

// Steps lists the wizard in order.
var Steps = []Step{StepPatientInfo, StepMedicalHistory, StepSymptoms, StepVitals, StepLabResults, StepAnalysis}

type transition struct {
	prev, next Step
}

// transitions maps each step to its neighbours. The first step has no prev
// and the last has no next.
var transitions = map[Step]transition{
	StepPatientInfo:    {next: StepMedicalHistory},
	StepMedicalHistory: {prev: StepPatientInfo, next: StepSymptoms},
	StepSymptoms:       {prev: StepMedicalHistory, next: StepVitals},
	StepVitals:         {prev: StepSymptoms, next: StepLabResults},
	StepLabResults:     {prev: StepVitals, next: StepAnalysis},
	StepAnalysis:       {prev: StepLabResults},
}

func (s Step) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Stage is the progress of the analysis step.
type Stage string

const (
	StageIdle       Stage = "idle"
	StagePreparing  Stage = "preparing"
	StageAnalyzing  Stage = "analyzing"
	StageProcessing Stage = "processing"
	StageComplete   Stage = "complete"
	StageError      Stage = "error"
)

// Progress is the percentage shown for a stage.
func (s Stage) Progress() int {
	switch s {
	case StagePreparing:
		return 20
	case StageAnalyzing:
		return 50
	case StageProcessing:
		return 80
	case StageComplete:
		return 100
	}
	return 0
}

func (s Stage) running() bool {
	return s == StagePreparing || s == StageAnalyzing || s == StageProcessing
}
