package gcp

import (
	"context"
	"encoding/json"
	"fmt"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
)

// WorkflowDispatcher starts executions of one Cloud Workflow.
type WorkflowDispatcher struct {
	client     *executions.Client
	ProjectID  string
	Location   string
	WorkflowID string
}

// NewWorkflowDispatcher creates an executions client for the workflow.
func NewWorkflowDispatcher(ctx context.Context, projectID, location, workflowID string) (*WorkflowDispatcher, error) {
	client, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}
	return &WorkflowDispatcher{
		client:     client,
		ProjectID:  projectID,
		Location:   location,
		WorkflowID: workflowID,
	}, nil
}

// Parent is the resource name of the workflow.
func (d *WorkflowDispatcher) Parent() string {
	return fmt.Sprintf("projects/%s/locations/%s/workflows/%s", d.ProjectID, d.Location, d.WorkflowID)
}

// Dispatch starts an execution with payload as its JSON argument and
// returns the execution name.
func (d *WorkflowDispatcher) Dispatch(ctx context.Context, payload any) (string, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: d.Parent(),
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}
	execution, err := d.client.CreateExecution(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	return execution.GetName(), nil
}
