package service

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/disbursement-engine/internal/domain"
	"github.com/kursadbilgin/disbursement-engine/internal/queue"
)

// dispatchedBatch creates an immediate batch and runs its dispatch events so
// every step is PROCESSING with externalId "ext-<stepId>".
func dispatchedBatch(t *testing.T, h *harness, clientCode string, disbursements ...DisbursementRequest) *domain.Batch {
	t.Helper()
	batch := newImmediateBatch(t, h, clientCode, disbursements...)
	dispatchAll(t, h, h.processing(t, &fakeProcessor{steps: h.steps}))
	return batch
}

func strPtr(s string) *string { return &s }

func TestReconcilerCompletionStatuses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		outcomes []domain.StepStatus
		want     domain.BatchStatus
	}{
		{name: "all succeeded", outcomes: []domain.StepStatus{domain.StepStatusSuccess, domain.StepStatusSuccess}, want: domain.BatchStatusExecutedCompletely},
		{name: "all failed", outcomes: []domain.StepStatus{domain.StepStatusFailed, domain.StepStatusFailed}, want: domain.BatchStatusFailed},
		{name: "mixed", outcomes: []domain.StepStatus{domain.StepStatusSuccess, domain.StepStatusFailed}, want: domain.BatchStatusPartiallyExecuted},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			batch := dispatchedBatch(t, h, "client-1",
				disbursement(domain.ChannelInstantTransfer, "10.00"),
				disbursement(domain.ChannelInstantTransfer, "20.00"),
			)
			svc := h.reconciler(t)

			for i, outcome := range tt.outcomes {
				var reason *string
				if outcome == domain.StepStatusFailed {
					reason = strPtr("invalid key")
				}
				stepID := batch.Steps[i].ID
				if err := svc.ProcessPixResponse(context.Background(), pixResponse("ext-"+stepID, outcome, reason)); err != nil {
					t.Fatalf("ProcessPixResponse() error = %v", err)
				}

				if i < len(tt.outcomes)-1 {
					if got := h.batch(t, batch.ID).Status; got != domain.BatchStatusProcessing {
						t.Fatalf("status mid-way = %s, want PROCESSING", got)
					}
				}
			}

			if got := h.batch(t, batch.ID).Status; got != tt.want {
				t.Fatalf("batch status = %s, want %s", got, tt.want)
			}
			for i, outcome := range tt.outcomes {
				step := h.step(t, batch.Steps[i].ID)
				if step.Status != outcome {
					t.Fatalf("step %d status = %s, want %s", i, step.Status, outcome)
				}
				if outcome == domain.StepStatusFailed && (step.FailureReason == nil || *step.FailureReason != "invalid key") {
					t.Fatalf("step %d failureReason = %v, want invalid key", i, step.FailureReason)
				}
			}
		})
	}
}

func TestReconcilerUnknownExternalIDLeavesNoTrace(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	batch := newImmediateBatch(t, h, "client-1", disbursement(domain.ChannelInstantTransfer, "10.00"))
	svc := h.reconciler(t)

	err := svc.ProcessPixResponse(context.Background(), pixResponse("late-ext", domain.StepStatusSuccess, nil))
	requireErrorIs(t, err, domain.ErrNotFound)

	if step := h.step(t, batch.Steps[0].ID); step.Status != domain.StepStatusPending {
		t.Fatalf("step status = %s, want PENDING", step.Status)
	}

	// Once the step is bound the corrected re-send goes through.
	if err := h.steps.SetExternalID(context.Background(), batch.Steps[0].ID, "late-ext"); err != nil {
		t.Fatalf("SetExternalID() error = %v", err)
	}
	if err := svc.ProcessPixResponse(context.Background(), pixResponse("late-ext", domain.StepStatusSuccess, nil)); err != nil {
		t.Fatalf("ProcessPixResponse() retry error = %v", err)
	}
	if got := h.batch(t, batch.ID).Status; got != domain.BatchStatusExecutedCompletely {
		t.Fatalf("batch status = %s, want EXECUTED_COMPLETELY", got)
	}
}

func TestReconcilerDuplicateResponseIsNoop(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	batch := dispatchedBatch(t, h, "client-1",
		disbursement(domain.ChannelWireTransfer, "10.00"),
		disbursement(domain.ChannelWireTransfer, "20.00"),
	)
	svc := h.reconciler(t)

	response := pixResponse("ext-"+batch.Steps[0].ID, domain.StepStatusSuccess, nil)
	if err := svc.ProcessTedResponse(context.Background(), response); err != nil {
		t.Fatalf("ProcessTedResponse() error = %v", err)
	}
	first := h.step(t, batch.Steps[0].ID)

	time.Sleep(5 * time.Millisecond)
	response.Status = domain.StepStatusFailed
	if err := svc.ProcessTedResponse(context.Background(), response); err != nil {
		t.Fatalf("ProcessTedResponse() duplicate error = %v", err)
	}

	second := h.step(t, batch.Steps[0].ID)
	if second.Status != domain.StepStatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", second.Status)
	}
	if !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Fatalf("updatedAt changed from %s to %s", first.UpdatedAt, second.UpdatedAt)
	}
}

func TestReconcilerTerminalBatchStaysTerminal(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	batch := dispatchedBatch(t, h, "client-1", disbursement(domain.ChannelInstantTransfer, "10.00"))
	svc := h.reconciler(t)

	stepID := batch.Steps[0].ID
	if err := svc.ProcessPixResponse(context.Background(), pixResponse("ext-"+stepID, domain.StepStatusFailed, strPtr("rejected"))); err != nil {
		t.Fatalf("ProcessPixResponse() error = %v", err)
	}
	if got := h.batch(t, batch.ID).Status; got != domain.BatchStatusFailed {
		t.Fatalf("batch status = %s, want FAILED", got)
	}

	// The consumed key suppresses a replayed response.
	if err := svc.ProcessPixResponse(context.Background(), pixResponse("ext-"+stepID, domain.StepStatusSuccess, nil)); err != nil {
		t.Fatalf("ProcessPixResponse() replay error = %v", err)
	}
	if got := h.batch(t, batch.ID).Status; got != domain.BatchStatusFailed {
		t.Fatalf("batch status after replay = %s, want FAILED", got)
	}
}

func TestReconcilerRecurrentBatchNeverCompletes(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	template := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	daily := domain.RecurrencyDaily
	batch, err := h.intake(t).Create(context.Background(), CreateBatchRequest{
		ClientCode:    "client-recurrent",
		ScheduleType:  domain.ScheduleRecurrent,
		ScheduleDate:  &template,
		Recurrency:    &daily,
		Disbursements: []DisbursementRequest{disbursement(domain.ChannelInstantTransfer, "10.00")},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	stepID := batch.Steps[0].ID
	if err := newPipeline(t, h).HandleDispatch(context.Background(), "msg-1", queue.DispatchMessage{StepID: stepID}); err != nil {
		t.Fatalf("HandleDispatch() error = %v", err)
	}
	if err := h.reconciler(t).ProcessPixResponse(context.Background(), pixResponse("ext-"+stepID, domain.StepStatusSuccess, nil)); err != nil {
		t.Fatalf("ProcessPixResponse() error = %v", err)
	}

	if got := h.batch(t, batch.ID).Status; got != domain.BatchStatusRecurrent {
		t.Fatalf("batch status = %s, want RECURRENT", got)
	}
}

func newPipeline(t *testing.T, h *harness) *ProcessingService {
	t.Helper()
	return h.processing(t, &fakeProcessor{steps: h.steps})
}

func TestReconcilerRejectsInvalidResponses(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	batch := dispatchedBatch(t, h, "client-1", disbursement(domain.ChannelInstantTransfer, "10.00"))
	reconciler := h.reconciler(t)

	err := reconciler.ProcessPixResponse(context.Background(), pixResponse("ext-"+batch.Steps[0].ID, domain.StepStatusProcessing, nil))
	requireErrorIs(t, err, domain.ErrValidation)

	err = reconciler.ProcessTedResponse(context.Background(), pixResponse("ext-"+batch.Steps[0].ID, domain.StepStatusSuccess, nil))
	requireErrorIs(t, err, domain.ErrValidation)
	if !domain.IsPermanent(err) {
		t.Fatalf("channel mismatch error %v must not be retried", err)
	}

	if step := h.step(t, batch.Steps[0].ID); step.Status != domain.StepStatusProcessing {
		t.Fatalf("step status = %s, want PROCESSING", step.Status)
	}
}

func TestReconcilerHandleRoutesByTopic(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	batch := dispatchedBatch(t, h, "client-1", disbursement(domain.ChannelWireTransfer, "10.00"))
	reconciler := h.reconciler(t)

	body := []byte(`{"externalId":"ext-` + batch.Steps[0].ID + `","status":"SUCCESS"}`)
	if err := reconciler.Handle(context.Background(), queue.Delivery{Topic: queue.TopicResponsesTed, Body: body}); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if got := h.batch(t, batch.ID).Status; got != domain.BatchStatusExecutedCompletely {
		t.Fatalf("batch status = %s, want EXECUTED_COMPLETELY", got)
	}

	err := reconciler.Handle(context.Background(), queue.Delivery{Topic: queue.TopicResponsesTed, Body: []byte(`{"externalId":"x","status":"MAYBE"}`)})
	requireErrorIs(t, err, queue.ErrMalformedMessage)

	err = reconciler.Handle(context.Background(), queue.Delivery{Topic: "unknown", Body: body})
	requireErrorIs(t, err, domain.ErrUnsupportedChannel)
}

func TestReconcilerChannelMismatchDeadLettersWithoutRetry(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	batch := dispatchedBatch(t, h, "client-1", disbursement(domain.ChannelInstantTransfer, "10.00"))
	reconciler := h.reconciler(t)
	sent := len(h.publisher.dispatched())

	calls := 0
	retry := queue.NewRetryHandler(h.publisher, queue.RetryPolicy{MaxAttempts: 4, BaseDelay: time.Millisecond, Multiplier: 2}, nil, nil)
	handler := retry.Wrap(queue.ResponseKey, func(ctx context.Context, d queue.Delivery) error {
		calls++
		return reconciler.Handle(ctx, d)
	})

	body := []byte(`{"externalId":"ext-` + batch.Steps[0].ID + `","status":"SUCCESS"}`)
	if err := handler(context.Background(), queue.Delivery{Topic: queue.TopicResponsesTed, Body: body}); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}

	published := h.publisher.dispatched()[sent:]
	if len(published) != 1 || published[0].topic != queue.TopicDeadLetter {
		t.Fatalf("published = %+v, want one dead letter", published)
	}
	letter := published[0].msg.(queue.DeadLetterMessage)
	if letter.Key != "ext-"+batch.Steps[0].ID || letter.Attempts != 1 {
		t.Fatalf("dead letter = %+v, want key ext-%s after 1 attempt", letter, batch.Steps[0].ID)
	}
	if step := h.step(t, batch.Steps[0].ID); step.Status != domain.StepStatusProcessing {
		t.Fatalf("step status = %s, want PROCESSING", step.Status)
	}
}

func TestReconcilerConcurrentResponsesCompleteBatchOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	batch := dispatchedBatch(t, h, "client-1",
		disbursement(domain.ChannelInstantTransfer, "10.00"),
		disbursement(domain.ChannelInstantTransfer, "20.00"),
	)
	reconciler := h.reconciler(t)

	outcomes := []domain.StepStatus{domain.StepStatusSuccess, domain.StepStatusFailed}
	errs := make([]error, len(outcomes))

	var wg sync.WaitGroup
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var reason *string
			if outcomes[i] == domain.StepStatusFailed {
				reason = strPtr("account closed")
			}
			errs[i] = reconciler.ProcessPixResponse(context.Background(), pixResponse("ext-"+batch.Steps[i].ID, outcomes[i], reason))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("ProcessPixResponse() #%d error = %v", i, err)
		}
	}
	if got := h.batch(t, batch.ID).Status; got != domain.BatchStatusPartiallyExecuted {
		t.Fatalf("batch status = %s, want PARTIALLY_EXECUTED", got)
	}

	rec := httptest.NewRecorder()
	h.metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	completions := 0
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if strings.HasPrefix(line, "disbursement_engine_batch_completions_total{") {
			completions++
			if line != `disbursement_engine_batch_completions_total{status="partially_executed"} 1` {
				t.Fatalf("completion sample = %q, want one partially_executed completion", line)
			}
		}
	}
	if completions != 1 {
		t.Fatalf("completion series = %d, want 1", completions)
	}
}
