package app

import (
	"context"

	"formflow/pkg/engine"
	"formflow/pkg/models"
	"formflow/pkg/telemetry"
)

// processMessage runs one message through the engine and records the
// outcome. Only infrastructure errors propagate to the worker's retry
// policy; respondent mistakes are outcomes, not failures.
func processMessage(ctx context.Context, eng *engine.Engine, msg *models.QueuedMessage) error {
	outcome, err := eng.Process(ctx, msg)
	if err != nil {
		return err
	}
	telemetry.MessagesProcessed.WithLabelValues(outcome.String()).Inc()
	return nil
}
