package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/controlled-anonymity/client-go/internal/session"
)

const completionTimeout = 30 * time.Second

// ChatRecorder records a finished chat with the backend.
type ChatRecorder interface {
	CompleteChat(ctx context.Context) error
}

// ChatCompletionJob tells the backend about chats the partner ended, off the
// session goroutine.
type ChatCompletionJob struct {
	recorder ChatRecorder
	pending  chan struct{}
	done     chan struct{}
	stopped  chan struct{}
}

func NewChatCompletionJob(recorder ChatRecorder) *ChatCompletionJob {
	return &ChatCompletionJob{
		recorder: recorder,
		pending:  make(chan struct{}, 16),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

func (j *ChatCompletionJob) Start() {
	go j.run()
	log.Info().Msg("chat completion job started")
}

// Stop waits for an in-flight report to finish.
func (j *ChatCompletionJob) Stop() {
	close(j.done)
	<-j.stopped
	log.Info().Msg("chat completion job stopped")
}

// OnNotification implements session.Observer. The chat server already credits
// a device that leaves on its own, so only a partner leaving is recorded.
func (j *ChatCompletionJob) OnNotification(n session.Notification) {
	if n.Kind != session.KindPartnerLeft {
		return
	}
	select {
	case j.pending <- struct{}{}:
	default:
		log.Warn().Msg("chat completion backlog full, dropping")
	}
}

func (j *ChatCompletionJob) run() {
	defer close(j.stopped)

	for {
		select {
		case <-j.done:
			return
		case <-j.pending:
			j.complete()
		}
	}
}

func (j *ChatCompletionJob) complete() {
	ctx, cancel := context.WithTimeout(context.Background(), completionTimeout)
	defer cancel()

	if err := j.recorder.CompleteChat(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to record chat completion")
		return
	}
	log.Debug().Msg("chat completion recorded")
}
