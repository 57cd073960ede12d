package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/disbursement-engine/internal/domain"
	"github.com/kursadbilgin/disbursement-engine/internal/queue"
)

// publishSteps emits one dispatch event per step onto its channel's request
// topic. Publishing stops at the first failure.
func publishSteps(ctx context.Context, publisher queue.Publisher, steps []domain.Step) error {
	for i := range steps {
		topic, err := queue.RequestTopic(steps[i].ChannelType)
		if err != nil {
			return err
		}
		if err := publisher.Publish(ctx, topic, queue.DispatchMessage{StepID: steps[i].ID}); err != nil {
			return fmt.Errorf("failed to publish dispatch for step %s: %w", steps[i].ID, err)
		}
	}
	return nil
}
