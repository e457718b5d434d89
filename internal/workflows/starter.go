package workflows

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
)

// Starter schedules survey triangulations on Temporal. Repeated calls for the
// same survey signal the running workflow instead of starting another one.
type Starter struct {
	client    client.Client
	taskQueue string
	settle    time.Duration
}

// NewStarter creates a Starter that runs workflows on taskQueue.
func NewStarter(c client.Client, taskQueue string, settle time.Duration) *Starter {
	return &Starter{client: c, taskQueue: taskQueue, settle: settle}
}

// StartSurveyTriangulation starts the survey's workflow or, if it is already
// waiting for uploads to settle, restarts its timer.
func (s *Starter) StartSurveyTriangulation(ctx context.Context, surveyID string) error {
	opts := client.StartWorkflowOptions{
		ID:                       WorkflowID(surveyID),
		TaskQueue:                s.taskQueue,
		WorkflowExecutionTimeout: 24 * time.Hour,
	}
	input := TriangulateSurveyInput{SurveyID: surveyID, Settle: s.settle}
	_, err := s.client.SignalWithStartWorkflow(ctx, opts.ID, UploadSignal, nil, opts, TriangulateSurveyWorkflow, input)
	if err != nil {
		return fmt.Errorf("start triangulation for %s: %w", surveyID, err)
	}
	return nil
}
