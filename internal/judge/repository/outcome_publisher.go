package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"codejudge/internal/common/mq"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
)

// OutcomePublisher emits one event per finished job.
type OutcomePublisher struct {
	producer mq.Producer
	topic    string
}

// NewOutcomePublisher creates a publisher writing to topic.
func NewOutcomePublisher(producer mq.Producer, topic string) *OutcomePublisher {
	return &OutcomePublisher{producer: producer, topic: topic}
}

// Name identifies the sink in logs.
func (p *OutcomePublisher) Name() string { return "kafka_publisher" }

// Record publishes the job's outcome keyed by job id.
func (p *OutcomePublisher) Record(ctx context.Context, job model.FinishedJob) error {
	if p == nil || p.producer == nil {
		return appErr.Unavailable("outcome publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("outcome topic is required")
	}
	st := job.Status
	if st.ID == "" {
		return appErr.ValidationError("job_id", "required")
	}
	if !st.Done() || st.Outcome == nil {
		return appErr.Newf(appErr.InvalidValue, "job %s is not finished", st.ID)
	}
	event := model.OutcomeEvent{
		JobID:      st.ID,
		Lang:       job.Submission.Lang,
		Outcome:    *st.Outcome,
		Result:     st.Outcome.Text(),
		CreatedAt:  st.CreatedAt.Unix(),
		FinishedAt: st.FinishedAt.Unix(),
		DurationMs: st.FinishedAt.Sub(st.CreatedAt).Milliseconds(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal outcome event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.ID = st.ID
	message.SetHeader("x-outcome-kind", string(st.Outcome.Kind))
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.PublishFailed, "publish outcome event failed")
	}
	return nil
}
