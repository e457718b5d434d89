package workflows

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// UploadSignal tells a running survey workflow that another image arrived.
// Each signal restarts the settle timer.
const UploadSignal = "image-uploaded"

// TriangulateSurveyInput is the input for TriangulateSurveyWorkflow.
type TriangulateSurveyInput struct {
	SurveyID string
	// Settle is how long the survey must go without new uploads before it is
	// triangulated. Zero runs immediately.
	Settle time.Duration
}

// WorkflowID is the ID of the triangulation workflow for a survey. At most
// one runs per survey.
func WorkflowID(surveyID string) string {
	return "triangulate-survey-" + surveyID
}

// TriangulateSurveyWorkflow waits for a survey's uploads to settle,
// triangulates it, stores the crop locations, and broadcasts them. If the
// broadcast fails the stored locations are cleared again (saga compensation),
// so readers never see locations subscribers were not told about.
func TriangulateSurveyWorkflow(ctx workflow.Context, input TriangulateSurveyInput) (SurveySummary, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting survey triangulation", "survey", input.SurveyID)

	uploads := workflow.GetSignalChannel(ctx, UploadSignal)
	if input.Settle > 0 {
		waitForQuiet(ctx, uploads, input.Settle)
	}
	// Everything uploaded so far is covered by this run.
	drain(uploads)

	actOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: time.Second,
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, actOpts)

	// Step 1: triangulate and persist
	var summary SurveySummary
	err := workflow.ExecuteActivity(ctx, "TriangulateSurvey", input.SurveyID).Get(ctx, &summary)
	var appErr *temporal.ApplicationError
	switch {
	case errors.As(err, &appErr) && appErr.Type() == ErrTypeInsufficientBatch:
		// Fewer than two geotagged images: the survey has no crop locations.
		logger.Info("Survey too small to triangulate", "survey", input.SurveyID)
		if err := workflow.ExecuteActivity(ctx, "ClearSurveyLocations", input.SurveyID).Get(ctx, nil); err != nil {
			return summary, err
		}
		summary = SurveySummary{SurveyID: input.SurveyID}
	case err != nil:
		return summary, err
	}

	// Step 2: broadcast
	err = workflow.ExecuteActivity(ctx, "PublishCropLocations", input.SurveyID).Get(ctx, nil)
	if err != nil {
		logger.Warn("publish failed, compensating", "survey", input.SurveyID, "error", err)
		_ = workflow.ExecuteActivity(ctx, "ClearSurveyLocations", input.SurveyID).Get(ctx, nil)
		return summary, err
	}

	// Uploads that arrived while the activities ran are not in this result.
	if drain(uploads) > 0 {
		logger.Info("Uploads arrived during triangulation, running again", "survey", input.SurveyID)
		return summary, workflow.NewContinueAsNewError(ctx, TriangulateSurveyWorkflow, input)
	}

	logger.Info("Survey triangulated",
		"survey", input.SurveyID,
		"observations", summary.Observations,
		"cropLocations", summary.CropLocations,
	)
	return summary, nil
}

// waitForQuiet blocks until settle passes with no upload signal.
func waitForQuiet(ctx workflow.Context, uploads workflow.ReceiveChannel, settle time.Duration) {
	for {
		timerCtx, cancel := workflow.WithCancel(ctx)
		timer := workflow.NewTimer(timerCtx, settle)

		signalled := false
		sel := workflow.NewSelector(ctx)
		sel.AddReceive(uploads, func(c workflow.ReceiveChannel, more bool) {
			c.Receive(ctx, nil)
			signalled = true
		})
		sel.AddFuture(timer, func(workflow.Future) {})
		sel.Select(ctx)

		cancel()
		if !signalled {
			return
		}
	}
}

func drain(ch workflow.ReceiveChannel) int {
	n := 0
	for ch.ReceiveAsync(nil) {
		n++
	}
	return n
}
