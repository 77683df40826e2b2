package worker

import (
	"context"
	"sync"
	"time"

	"github.com/C-eorl/P9---LITRevu/pkg/repository"

	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/sirupsen/logrus"
)

type ActivityRecoverWorker struct {
	repo        repository.ActivityRepository
	producer    MQProducer
	log         *logrus.Entry
	interval    time.Duration
	batchSize   int
	maxAttempts int
}

// 构造 activity recover worker
func NewActivityRecoverWorker(repo repository.ActivityRepository, producer MQProducer, log *logrus.Logger) *ActivityRecoverWorker {
	return &ActivityRecoverWorker{
		repo:        repo,
		producer:    producer,
		log:         log.WithField("worker", "ActivityRecoverWorker"),
		interval:    1 * time.Minute,
		batchSize:   50,
		maxAttempts: 5,
	}
}

// 启动 activity recover worker
func (w *ActivityRecoverWorker) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		w.log.Info("ActivityRecoverWorker started")
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				w.log.Info("ActivityRecoverWorker stopping...")
				return
			case <-ticker.C:
				w.resend(ctx)
			}
		}
	}()
}

// resend retries one page of parked events. Events that keep failing stop
// being picked up after maxAttempts tries and stay in the table for inspection.
func (w *ActivityRecoverWorker) resend(ctx context.Context) {
	// 1. 获取待重发事件
	events, err := w.repo.ListFailed(ctx, w.maxAttempts, w.batchSize)
	if err != nil {
		w.log.Errorf("Failed to fetch failed activities: %v", err)
		return
	}
	if len(events) == 0 {
		return
	}

	msgs := make([]*primitive.Message, 0, len(events))
	ids := make([]int64, 0, len(events))
	for _, e := range events {
		msgs = append(msgs, newActivityMessage(ActivityTopic, e.Type, e.ActorID, []byte(e.Payload)))
		ids = append(ids, e.ID)
	}

	// 2. 重发
	sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := w.producer.SendSync(sendCtx, msgs...); err != nil {
		w.log.Warnf("Resend of %d activities failed: %v", len(ids), err)
		if err := w.repo.MarkAttempt(ctx, ids, err.Error()); err != nil {
			w.log.Errorf("Failed to record attempt: %v", err)
		}
		return
	}

	// 3. 成功后删除
	if err := w.repo.DeleteFailed(ctx, ids); err != nil {
		w.log.Errorf("Failed to delete resent activities: %v", err)
		return
	}
	w.log.Infof("Resent %d parked activities", len(ids))
}
