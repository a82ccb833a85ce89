package storage

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"todo-api/domain"
	"todo-api/tasksync"
)

const (
	EventTaskCreated   = "task-created"
	EventTaskUpdated   = "task-updated"
	EventTaskCompleted = "task-completed"
	EventTaskReopened  = "task-reopened"
	EventTaskDeleted   = "task-deleted"
)

// ChangeEvent describes one confirmed write for downstream consumers.
type ChangeEvent struct {
	ID         string       `json:"id"`
	Type       string       `json:"type"`
	EntityID   string       `json:"entityId"`
	EntityType string       `json:"entityType"`
	UserID     string       `json:"userId"`
	Timestamp  int64        `json:"timestamp"`
	Data       *domain.Task `json:"data,omitempty"`
}

// EventFor maps a successful write notice to its change event. Loads and
// failures produce no event.
func EventFor(n tasksync.Notice) (ChangeEvent, bool) {
	if n.Level != tasksync.LevelSuccess {
		return ChangeEvent{}, false
	}
	var typ string
	switch n.Op {
	case tasksync.OpAdd:
		typ = EventTaskCreated
	case tasksync.OpUpdate:
		typ = EventTaskUpdated
	case tasksync.OpToggle:
		typ = EventTaskReopened
		if n.Task != nil && n.Task.IsComplete {
			typ = EventTaskCompleted
		}
	case tasksync.OpRemove:
		typ = EventTaskDeleted
	default:
		return ChangeEvent{}, false
	}
	ev := ChangeEvent{
		ID:         uuid.NewString(),
		Type:       typ,
		EntityID:   n.TaskID,
		EntityType: "task",
		UserID:     n.UserID,
		Timestamp:  nextTimestamp(),
	}
	if n.Task != nil && n.Op != tasksync.OpRemove {
		t := *n.Task
		ev.Data = &t
	}
	return ev, true
}

var lastTimestamp int64

// nextTimestamp returns a strictly increasing unix-nano timestamp.
func nextTimestamp() int64 {
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastTimestamp)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastTimestamp, last, now) {
			return now
		}
	}
}

// ChangeFeedConfig sizes the publishing worker pool.
type ChangeFeedConfig struct {
	Workers        int
	Buffer         int
	EnqueueTimeout time.Duration
	HandoffTimeout time.Duration
}

// DefaultChangeFeedConfig scales the pool with the number of CPUs.
func DefaultChangeFeedConfig() ChangeFeedConfig {
	workers, buffer := computeWorkerDefaults(runtime.NumCPU())
	return ChangeFeedConfig{
		Workers:        workers,
		Buffer:         buffer,
		EnqueueTimeout: 30 * time.Second,
		HandoffTimeout: 15 * time.Millisecond,
	}
}

func computeWorkerDefaults(cpu int) (workers, buffer int) {
	workers = cpu * 2
	if workers < 2 {
		workers = 2
	}
	if workers > 32 {
		workers = 32
	}
	return workers, workers * 64
}

type publisher interface {
	publish(ctx context.Context, msg string) error
}

type queuePublisher struct {
	queue *azqueue.QueueClient
}

func (p queuePublisher) publish(ctx context.Context, msg string) error {
	_, err := p.queue.EnqueueMessage(ctx, msg, nil)
	return err
}

// ChangeFeed publishes change events to a storage queue from a fixed pool of
// workers. Reporting never blocks a request for longer than the handoff
// timeout; events that cannot be handed off are dropped and logged.
type ChangeFeed struct {
	pub     publisher
	log     *log.Logger
	cfg     ChangeFeedConfig
	jobs    chan ChangeEvent
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Int64
}

// NewChangeFeed connects to queue and starts the worker pool.
func NewChangeFeed(connStr, queue string, cfg ChangeFeedConfig, logger *log.Logger) (*ChangeFeed, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	qc, err := azqueue.NewQueueClientFromConnectionString(connStr, queue, &opts)
	if err != nil {
		return nil, err
	}
	return newChangeFeed(queuePublisher{queue: qc}, cfg, logger), nil
}

func newChangeFeed(pub publisher, cfg ChangeFeedConfig, logger *log.Logger) *ChangeFeed {
	if logger == nil {
		panic("storage.NewChangeFeed: logger is nil")
	}
	def := DefaultChangeFeedConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = def.Buffer
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = def.EnqueueTimeout
	}
	f := &ChangeFeed{pub: pub, log: logger, cfg: cfg, jobs: make(chan ChangeEvent, cfg.Buffer)}
	for i := 0; i < cfg.Workers; i++ {
		f.wg.Add(1)
		go f.worker(i)
	}
	logger.Infof("change feed started, workers: %d, buffer: %d, timeout: %v, handoff: %v",
		cfg.Workers, cfg.Buffer, cfg.EnqueueTimeout, cfg.HandoffTimeout)
	return f
}

// Report queues the change event of a confirmed write.
func (f *ChangeFeed) Report(_ context.Context, n tasksync.Notice) {
	ev, ok := EventFor(n)
	if !ok {
		return
	}
	if !f.tryEnqueue(ev) {
		f.dropped.Add(1)
		f.log.WithFields(log.Fields{"event": ev.Type, "user": ev.UserID, "task": ev.EntityID}).
			Warn("change feed saturated, event dropped")
	}
}

// Dropped returns the number of events that could not be handed off.
func (f *ChangeFeed) Dropped() int64 { return f.dropped.Load() }

// Close stops accepting events and waits for queued ones to be published.
func (f *ChangeFeed) Close() {
	f.once.Do(func() {
		close(f.jobs)
		f.wg.Wait()
	})
}

func (f *ChangeFeed) worker(id int) {
	defer f.wg.Done()
	for ev := range f.jobs {
		data, err := sonic.ConfigStd.Marshal(ev)
		if err != nil {
			f.log.Errorf("encode change event failed, err: %v, event: %s", err, ev.ID)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), f.cfg.EnqueueTimeout)
		err = f.pub.publish(ctx, string(data))
		cancel()
		if err != nil {
			f.log.Errorf("publish failed, err: %v, user: %s, event: %s, worker: %d", err, ev.UserID, ev.Type, id)
		}
	}
}

func (f *ChangeFeed) tryEnqueue(ev ChangeEvent) bool {
	if ok, closed := trySendNonBlocking(f.jobs, ev); closed {
		return false
	} else if ok {
		return true
	}

	if f.cfg.HandoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(f.cfg.HandoffTimeout)
	defer timer.Stop()

	ok, closed := sendWithTimer(f.jobs, ev, timer.C)
	if closed {
		return false
	}
	return ok
}

func trySendNonBlocking(ch chan ChangeEvent, ev ChangeEvent) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- ev:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan ChangeEvent, ev ChangeEvent, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- ev:
		return true, false
	case <-timer:
		return false, false
	}
}
