package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cdss/cdss/internal/client"
	"github.com/cdss/cdss/internal/domain/assessment"
	"github.com/cdss/cdss/internal/domain/intake"
	"github.com/cdss/cdss/internal/domain/medical"
)

func assessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assess",
		Short: "Run an intake file through the assessment wizard against a server",
		RunE: func(cmd *cobra.Command, args []string) error {
			intakePath, _ := cmd.Flags().GetString("intake")
			server, _ := cmd.Flags().GetString("server")
			token, _ := cmd.Flags().GetString("token")
			draftPath, _ := cmd.Flags().GetString("draft")
			save, _ := cmd.Flags().GetBool("save")

			f, err := intake.LoadFile(intakePath)
			if err != nil {
				return err
			}
			logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
			c := client.New(server, client.WithToken(token))
			w := assessment.New(c, c, c, logger)

			var drafts *assessment.DraftStore
			var draftKey string
			if draftPath != "" {
				drafts = assessment.NewDraftStore(filepath.Dir(draftPath), logger)
				draftKey = strings.TrimSuffix(filepath.Base(draftPath), filepath.Ext(draftPath))
				if d := drafts.Load(draftKey); d != nil {
					if err := w.Restore(d); err != nil {
						logger.Warn().Err(err).Msg("ignoring unusable draft")
					} else {
						logger.Info().Str("step", string(w.Step())).Msg("resumed draft")
					}
				}
			}
			checkpoint := func() {
				if drafts != nil {
					drafts.Save(draftKey, w.Snapshot())
				}
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			runErr := runAssessment(ctx, w, f, checkpoint)
			checkpoint()
			if runErr != nil {
				return runErr
			}

			out := cmd.OutOrStdout()
			printAnalysis(out, w.Analysis())

			if save {
				id := w.SavedID()
				if id == "" {
					if id, err = w.Save(ctx); err != nil {
						checkpoint()
						return fmt.Errorf("save case: %w", err)
					}
				}
				fmt.Fprintf(out, "\nSaved case %s\n", id)
				if drafts != nil {
					drafts.Remove(draftKey)
				}
			}
			return nil
		},
	}
	cmd.Flags().String("intake", "", "Intake file (.json or .yaml)")
	cmd.Flags().String("server", client.DefaultBaseURL, "API base URL")
	cmd.Flags().String("token", os.Getenv("CDSS_TOKEN"), "Bearer token")
	cmd.Flags().String("draft", "", "Draft file to resume from and checkpoint to")
	cmd.Flags().Bool("save", false, "Save the completed case")
	_ = cmd.MarkFlagRequired("intake")
	return cmd
}

// runAssessment submits every step the wizard has not completed yet, then
// runs or retries the analysis. checkpoint is called after each step.
func runAssessment(ctx context.Context, w *assessment.Wizard, f *intake.File, checkpoint func()) error {
	for w.Step() != assessment.StepAnalysis {
		var err error
		switch step := w.Step(); step {
		case assessment.StepPatientInfo:
			err = w.SubmitPatient(f.Patient)
		case assessment.StepMedicalHistory:
			h := intake.HistoryInput{}
			if f.History != nil {
				h = *f.History
			}
			err = w.SubmitHistory(h)
		case assessment.StepSymptoms:
			w.SetChiefComplaint(f.Symptoms.ChiefComplaint)
			for _, s := range f.Symptoms.Symptoms {
				w.AddSymptom(s)
			}
			if strings.TrimSpace(f.Symptoms.FreeText) != "" {
				w.ExtractSymptoms(ctx, f.Symptoms.FreeText)
			}
			err = w.SubmitSymptoms()
		case assessment.StepVitals:
			err = w.SubmitVitals(f.Vitals)
		case assessment.StepLabResults:
			err = w.SubmitLabs(f.Labs)
		default:
			err = fmt.Errorf("unexpected step %q", step)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", w.Step(), err)
		}
		checkpoint()
	}

	stage, _ := w.Stage()
	switch stage {
	case assessment.StageComplete:
		return nil
	case assessment.StageError:
		if err := w.Retry(ctx); !errors.Is(err, assessment.ErrNotFailed) {
			return err
		}
	}
	return w.RunAnalysis(ctx)
}

func printAnalysis(out io.Writer, a *medical.DiagnosticAnalysis) {
	if a == nil {
		fmt.Fprintln(out, "No analysis available.")
		return
	}
	fmt.Fprintln(out, "Differential diagnoses:")
	for _, d := range a.DifferentialDiagnoses {
		line := fmt.Sprintf("  %d. %s", d.Rank, d.Condition)
		if d.ICDCode != "" {
			line += " (" + d.ICDCode + ")"
		}
		fmt.Fprintf(out, "%s  %.0f%% %s confidence\n", line, d.ConfidenceScore, medical.ConfidenceLabel(d.ConfidenceScore))
	}
	if len(a.RedFlags) > 0 {
		fmt.Fprintln(out, "\nRed flags:")
		for _, f := range a.RedFlags {
			fmt.Fprintf(out, "  [%s] %s: %s\n", strings.ToUpper(f.Severity), f.Description, f.RecommendedAction)
		}
	}
	for _, d := range a.Disclaimers {
		fmt.Fprintf(out, "\n%s\n", d)
	}
}
