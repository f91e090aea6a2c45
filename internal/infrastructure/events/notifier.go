package events

import (
	"context"
	"fmt"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
)

// JobNotifier turns queue transitions into events on the job's queue key
// and on its tenant key.
type JobNotifier struct {
	pub ports.EventPublisher
}

var _ ports.JobNotifier = (*JobNotifier)(nil)

func NewJobNotifier(pub ports.EventPublisher) *JobNotifier {
	return &JobNotifier{pub: pub}
}

func (n *JobNotifier) Notify(ctx context.Context, je domain.JobEvent) {
	if n == nil || n.pub == nil {
		return
	}
	ev := JobEventToEvent(je)
	n.pub.Publish(ctx, je.Job.Queue, ev)
	if je.Job.Actor.TenantID != "" {
		key := domain.TenantKey(je.Job.Actor.TenantID)
		if key != je.Job.Queue {
			n.pub.Publish(ctx, key, ev)
		}
	}
}

func JobEventToEvent(je domain.JobEvent) domain.Event {
	job := je.Job
	kind := domain.EventProgress
	msg := fmt.Sprintf("job %s %s", job.Type, je.Kind)
	if je.Kind == domain.JobFailed {
		kind = domain.EventError
		msg = fmt.Sprintf("job %s failed: %s", job.Type, job.Error)
	}
	return domain.NewEvent(job.Queue, kind, job.ID, msg)
}
