// Package emitter performs the best-effort side effects that follow each
// settlement attempt: the append-only audit record and the notification
// intent for the external delivery system. Emission failures are logged and
// swallowed; they never affect a committed settlement outcome.
package emitter

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"settlement-engine/internal/model"
	"settlement-engine/internal/store"
)

// NotificationQueueKey is the redis list the delivery system consumes.
const NotificationQueueKey = "settlements:notifications"

type job struct {
	attempt *model.SettlementAttempt
	intent  *model.NotificationIntent
}

type Emitter struct {
	recorder    store.AttemptRecorder
	redisClient *redis.Client
	queue       chan job
}

// New builds an emitter with the given queue capacity. redisClient may be nil,
// in which case notification intents are only logged.
func New(recorder store.AttemptRecorder, redisClient *redis.Client, queueSize int) *Emitter {
	if queueSize <= 0 {
		queueSize = 1000
	}
	return &Emitter{
		recorder:    recorder,
		redisClient: redisClient,
		queue:       make(chan job, queueSize),
	}
}

// Start launches the emission workers. They drain until ctx is cancelled.
func (e *Emitter) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 2
	}
	for i := 0; i < workers; i++ {
		go e.worker(ctx)
	}
}

// Emit enqueues one attempt's side effects without blocking the settlement
// path. A full queue drops the job with a warning. Either argument may be
// nil: terminal transitions carry only an intent, never an attempt record.
func (e *Emitter) Emit(attempt *model.SettlementAttempt, intent *model.NotificationIntent) {
	select {
	case e.queue <- job{attempt: attempt, intent: intent}:
	default:
		logrus.WithField("obligation", jobSubject(attempt, intent)).
			Warn("side-effect queue full, dropping emission")
	}
}

func jobSubject(attempt *model.SettlementAttempt, intent *model.NotificationIntent) string {
	switch {
	case attempt != nil:
		return attempt.ObligationID.String()
	case intent != nil:
		return intent.ObligationID.String()
	default:
		return "unknown"
	}
}

func (e *Emitter) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-e.queue:
			e.process(ctx, j)
		}
	}
}

func (e *Emitter) process(ctx context.Context, j job) {
	if j.attempt != nil {
		if err := e.recorder.RecordAttempt(ctx, j.attempt); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"obligation": j.attempt.ObligationID.String(),
				"outcome":    j.attempt.Outcome,
			}).Error("failed to record settlement attempt")
		}
	}
	if j.intent != nil {
		e.pushIntent(ctx, j.intent)
	}
}

func (e *Emitter) pushIntent(ctx context.Context, intent *model.NotificationIntent) {
	data, err := json.Marshal(intent)
	if err != nil {
		logrus.WithError(err).Warn("failed to marshal notification intent")
		return
	}
	if e.redisClient == nil {
		logrus.WithFields(logrus.Fields{
			"kind":       intent.Kind,
			"obligation": intent.ObligationID.String(),
		}).Info("notification intent (no queue configured)")
		return
	}
	if err := e.redisClient.LPush(ctx, NotificationQueueKey, data).Err(); err != nil {
		logrus.WithError(err).WithField("obligation", intent.ObligationID.String()).
			Warn("failed to enqueue notification intent")
	}
}
