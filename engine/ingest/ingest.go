// Package ingest runs index sync jobs delivered over NATS. Each job loads a
// snapshot, syncs it into its index, and publishes a reply; jobs that fail
// every retry go to a dead letter subject.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Scopeo/draftnrun-sub004/engine/domain"
	"github.com/Scopeo/draftnrun-sub004/pkg/fn"
	"github.com/Scopeo/draftnrun-sub004/pkg/natsutil"
	"github.com/Scopeo/draftnrun-sub004/pkg/resilience"
)

const (
	// SyncSubject carries incoming SyncRequests.
	SyncSubject = "index.sync"
	// ResultSubject receives a SyncReply for every processed request.
	ResultSubject = "index.sync.result"
	// DLQSubject receives requests that failed every attempt.
	DLQSubject = "index.sync.dlq"
	// QueueGroup load-balances requests across workers.
	QueueGroup = "syncworker"
	// DefaultJobTimeout bounds one request including retries.
	DefaultJobTimeout = 10 * time.Minute
)

// Syncer applies a snapshot to an index.
type Syncer interface {
	Sync(ctx context.Context, snapshot []domain.ChunkRecord, index string, mode domain.SyncMode) (domain.SyncResult, error)
}

// Deps holds the worker's collaborators.
type Deps struct {
	Syncer Syncer
	// Open resolves request sources. Defaults to OpenSource.
	Open SourceOpener
	// Retry governs repeated attempts. Only transport and protocol
	// failures are retried, whatever Retry.Retryable says.
	Retry fn.RetryOpts
	// Breaker stops attempts while the index or embedder keeps failing.
	// Nil uses a breaker that trips on transport and protocol failures.
	Breaker *resilience.Breaker
	// Limiter bounds how fast jobs start. Nil is unlimited.
	Limiter    *resilience.Limiter
	JobTimeout time.Duration
	Logger     *slog.Logger
}

// Worker processes SyncRequests.
type Worker struct {
	syncer  Syncer
	open    SourceOpener
	retry   fn.RetryOpts
	breaker *resilience.Breaker
	limiter *resilience.Limiter
	timeout time.Duration
	logger  *slog.Logger
}

// NewWorker creates a Worker from deps, filling in defaults.
func NewWorker(deps Deps) *Worker {
	w := &Worker{
		syncer:  deps.Syncer,
		open:    deps.Open,
		retry:   deps.Retry,
		breaker: deps.Breaker,
		limiter: deps.Limiter,
		timeout: deps.JobTimeout,
		logger:  deps.Logger,
	}
	if w.open == nil {
		w.open = OpenSource
	}
	if w.retry.MaxAttempts <= 0 {
		w.retry = fn.DefaultRetry
	}
	w.retry.Retryable = domain.IsBatchFailure
	if w.timeout <= 0 {
		w.timeout = DefaultJobTimeout
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.breaker == nil {
		bo := resilience.DefaultBreakerOpts
		bo.Counts = domain.IsBatchFailure
		bo.OnStateChange = func(from, to resilience.State) {
			w.logger.Warn("ingest: circuit breaker", "from", from.String(), "to", to.String())
		}
		w.breaker = resilience.NewBreaker(bo)
	}
	if w.limiter == nil {
		w.limiter = resilience.NewLimiter(resilience.LimiterOpts{})
	}
	return w
}

// Process runs one request to completion. The reply carries the number of
// attempts made and, on failure, the last error.
func (w *Worker) Process(ctx context.Context, req SyncRequest) SyncReply {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	attempts := 1
	retry := w.retry
	retry.OnRetry = func(attempt int, err error, wait time.Duration) {
		attempts++
		w.logger.Warn("ingest: sync attempt failed, retrying",
			"id", req.ID, "index", req.Index, "attempt", attempt, "wait", wait, "err", err)
		if w.retry.OnRetry != nil {
			w.retry.OnRetry(attempt, err, wait)
		}
	}

	loadStage := fn.Stage[SyncRequest, loaded](func(ctx context.Context, req SyncRequest) fn.Result[loaded] {
		if req.Index == "" {
			return fn.Err[loaded](ErrNoIndex)
		}
		recs, err := w.load(ctx, req)
		return fn.FromPair(loaded{req: req, records: recs}, err)
	})
	syncStage := fn.Stage[loaded, domain.SyncResult](func(ctx context.Context, l loaded) fn.Result[domain.SyncResult] {
		res, err := w.syncer.Sync(ctx, l.records, l.req.Index, l.req.Mode)
		return fn.FromPair(res, err)
	})
	attempt := resilience.BreakerStage(w.breaker, fn.Then(loadStage, syncStage))
	pipeline := fn.TracedStage("ingest.sync",
		resilience.LimiterStage(w.limiter, fn.RetryStage(retry, attempt)),
		attribute.String("job.id", req.ID),
		attribute.String("index", req.Index),
		attribute.String("mode", req.Mode.String()),
	)

	started := time.Now()
	res, err := pipeline(ctx, req).Unwrap()
	reply := SyncReply{ID: req.ID, Index: req.Index, Result: res, Attempts: attempts}
	log := w.logger.With("id", req.ID, "index", req.Index, "attempts", attempts)
	if err != nil {
		reply.Error = err.Error()
		log.Error("ingest: sync failed", "err", err, "duration", time.Since(started))
		return reply
	}
	log.Info("ingest: sync done",
		"success", res.Success, "points", res.FinalPointCount, "duration", time.Since(started))
	return reply
}

// StartConsumer subscribes the worker to SyncSubject within QueueGroup.
// Every request yields a reply on ResultSubject, and on the request's reply
// subject when present. Failed requests are also published to DLQSubject.
func StartConsumer(nc *nats.Conn, w *Worker) (*nats.Subscription, error) {
	return natsutil.QueueSubscribe(nc, SyncSubject, QueueGroup,
		func(ctx context.Context, req SyncRequest, msg *nats.Msg) {
			reply := w.Process(ctx, req)
			if reply.Error != "" {
				dlq := DLQMessage{Request: req, Error: reply.Error, Attempts: reply.Attempts}
				if err := natsutil.Publish(ctx, nc, DLQSubject, dlq); err != nil {
					w.logger.Error("ingest: DLQ publish failed", "err", err, "id", req.ID)
				}
			}
			if err := natsutil.Publish(ctx, nc, ResultSubject, reply); err != nil {
				w.logger.Error("ingest: result publish failed", "err", err, "id", req.ID)
			}
			if err := natsutil.Respond(ctx, nc, msg, reply); err != nil {
				w.logger.Error("ingest: respond failed", "err", err, "id", req.ID)
			}
		},
		natsutil.OnMalformed(func(msg *nats.Msg, err error) {
			w.logger.Error("ingest: unmarshal failed", "err", err, "subject", msg.Subject)
		}),
	)
}
