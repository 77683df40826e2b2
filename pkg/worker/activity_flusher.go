package worker

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/C-eorl/P9---LITRevu/pkg/model"

	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/sirupsen/logrus"
)

const ActivityTopic = "litrevu_activity"

// MQProducer is the part of rocketmq.Producer the flusher needs.
type MQProducer interface {
	SendSync(ctx context.Context, msgs ...*primitive.Message) (*primitive.SendResult, error)
}

// FailedStore keeps batches the broker did not accept.
type FailedStore interface {
	InsertFailed(ctx context.Context, events []*model.FailedActivity) error
}

type ActivityFlusher struct {
	producer      MQProducer
	store         FailedStore
	topic         string
	buffer        chan model.ActivityEvent
	bufferSize    int
	flushInterval time.Duration
	log           *logrus.Entry
}

// 构造 activity flusher, store 可为 nil
func NewActivityFlusher(producer MQProducer, store FailedStore, log *logrus.Logger) *ActivityFlusher {
	return &ActivityFlusher{
		producer:      producer,
		store:         store,
		topic:         ActivityTopic,
		buffer:        make(chan model.ActivityEvent, 1000),
		bufferSize:    50,
		flushInterval: 500 * time.Millisecond,
		log:           log.WithField("worker", "ActivityFlusher"),
	}
}

// 启动 activity flusher
func (f *ActivityFlusher) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.run(ctx)
	}()
}

func (f *ActivityFlusher) run(ctx context.Context) {
	f.log.Info("ActivityFlusher started")
	ticker := time.NewTicker(f.flushInterval)
	defer ticker.Stop()

	batch := make([]model.ActivityEvent, 0, f.bufferSize)

	flush := func() {
		if len(batch) > 0 {
			f.flushBatch(batch)
			batch = make([]model.ActivityEvent, 0, f.bufferSize)
		}
	}

	for {
		select {
		// 攒批，满了就发
		case e := <-f.buffer:
			batch = append(batch, e)
			if len(batch) >= f.bufferSize {
				flush()
			}
		// 定时发送
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			f.log.Info("ActivityFlusher stopping, flushing remaining events...")
			for {
				select {
				case e := <-f.buffer:
					batch = append(batch, e)
					if len(batch) >= f.bufferSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// Push never blocks: when the buffer is full the event is dropped.
func (f *ActivityFlusher) Push(e model.ActivityEvent) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	select {
	case f.buffer <- e:
	default:
		f.log.WithField("event", e.Type).Warn("activity buffer full, dropping event")
	}
}

func (f *ActivityFlusher) flushBatch(batch []model.ActivityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msgs := make([]*primitive.Message, 0, len(batch))
	failed := make([]*model.FailedActivity, 0, len(batch))
	for _, e := range batch {
		body, err := json.Marshal(e)
		if err != nil {
			f.log.Errorf("failed to encode activity event %s: %v", e.Type, err)
			continue
		}
		msgs = append(msgs, newActivityMessage(f.topic, e.Type, e.ActorID, body))
		failed = append(failed, &model.FailedActivity{Type: e.Type, ActorID: e.ActorID, Payload: string(body)})
	}
	if len(msgs) == 0 {
		return
	}

	f.log.Debugf("Flushing batch of %d activity events", len(msgs))
	res, err := f.producer.SendSync(ctx, msgs...)
	if err != nil {
		f.log.Errorf("Failed to send activity batch: %v", err)
		f.saveFailed(failed, err)
		return
	}
	if res != nil && res.Status != primitive.SendOK {
		f.log.Warnf("RocketMQ batch send status not OK: %v", res.Status)
	}
}

// saveFailed parks a refused batch for ActivityRecoverWorker.
func (f *ActivityFlusher) saveFailed(events []*model.FailedActivity, cause error) {
	if f.store == nil {
		f.log.Warnf("dropping %d activity events, no failed store", len(events))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reason := model.TruncateReason(cause.Error())
	for _, e := range events {
		e.ErrorReason = reason
	}
	if err := f.store.InsertFailed(ctx, events); err != nil {
		f.log.Errorf("failed to persist %d activity events: %v", len(events), err)
	}
}

func newActivityMessage(topic, eventType string, actorID uint, body []byte) *primitive.Message {
	msg := primitive.NewMessage(topic, body)
	msg.WithKeys([]string{strconv.FormatUint(uint64(actorID), 10)})
	msg.WithTag(eventType)
	return msg
}

// NopPublisher discards events. Used when no RocketMQ name server is configured.
type NopPublisher struct{}

func (NopPublisher) Push(model.ActivityEvent) {}
