package queue

import (
	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
)

// Worker is the single goroutine consuming one queue.
type Worker struct {
	key     string
	queue   *Queue
	process ports.Processor
	reg     *Registry
	done    chan struct{}
}

func (w *Worker) Key() string { return w.key }

// Done is closed once the worker has drained its queue after shutdown.
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) loop() {
	defer w.reg.wg.Done()
	defer close(w.done)

	for {
		job, ok := w.queue.pop()
		if ok {
			w.reg.execute(w, job)
			continue
		}
		if w.queue.isClosed() {
			return
		}
		<-w.queue.signal
	}
}
