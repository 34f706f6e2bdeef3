package acquire

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/failure"
	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/metrics"
	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/retry"
	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/secret"
	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/tokenclient"
)

var errBatchExpired = errors.New("batch deadline reached before the request completed")

// Engine acquires tokens for batches of requests.
type Engine struct {
	store  secret.Store
	client tokenclient.Client
	opts   Options
}

func New(store secret.Store, client tokenclient.Client, opts Options) *Engine {
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = retry.Default
	}
	return &Engine{store: store, client: client, opts: opts}
}

// task is one unique key and every input position that asked for it.
type task struct {
	key       Key
	req       Request
	positions []int
	attempts  atomic.Int32
}

// arena holds the output slots. Once sealed, late results are dropped.
type arena struct {
	mu       sync.Mutex
	outcomes []Outcome
	done     []bool
	sealed   bool
}

func (a *arena) finish(i int, t *task, tok *Token, ferr *failure.Error) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed || a.done[i] {
		return false
	}
	a.done[i] = true
	attempts := int(t.attempts.Load())
	for _, p := range t.positions {
		o := &a.outcomes[p]
		o.Attempts = attempts
		o.Err = ferr
		if tok != nil {
			cp := *tok
			o.Token = &cp
		}
	}
	return true
}

// seal marks every unfinished task as Timeout and stops further writes.
func (a *arena) seal(tasks []*task, cause error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed {
		return
	}
	a.sealed = true
	for i, t := range tasks {
		if a.done[i] {
			continue
		}
		a.done[i] = true
		ferr := failure.New(failure.Timeout, cause).WithKey(t.key.String())
		attempts := int(t.attempts.Load())
		for _, p := range t.positions {
			a.outcomes[p].Err = ferr
			a.outcomes[p].Attempts = attempts
		}
		metrics.RecordOutcome(failure.Timeout.String())
		log.Warn().Str("action", "acquire").Str("key", t.key.String()).
			Int("attempts", attempts).Str("kind", failure.Timeout.String()).Msg("abandoned at deadline")
	}
}

// Run acquires a token for every request and returns one outcome per
// request, in input order. It returns when every request is terminal or
// when the batch deadline (or ctx) expires; unfinished requests then fail
// with Timeout while completed ones are kept.
func (e *Engine) Run(ctx context.Context, reqs []Request, maxConcurrency int) []Outcome {
	a := &arena{outcomes: make([]Outcome, len(reqs))}
	for i, r := range reqs {
		a.outcomes[i].Request = r
	}
	if len(reqs) == 0 {
		return a.outcomes
	}
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	tasks := group(reqs)
	a.done = make([]bool, len(tasks))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if e.opts.Deadline > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, e.opts.Deadline)
		defer cancel()
	}

	start := time.Now()
	log.Info().Str("action", "acquire").Int("requests", len(reqs)).Int("unique", len(tasks)).
		Int("max_concurrency", maxConcurrency).Dur("deadline", e.opts.Deadline).Msg("batch started")

	sem := semaphore.NewWeighted(int64(maxConcurrency))
	allDone := make(chan struct{})
	go func() {
		defer close(allDone)
		var wg sync.WaitGroup
		for i, t := range tasks {
			if err := sem.Acquire(runCtx, 1); err != nil {
				break
			}
			wg.Add(1)
			go func(i int, t *task) {
				defer wg.Done()
				defer sem.Release(1)
				e.runTask(runCtx, a, i, t)
			}(i, t)
		}
		wg.Wait()
	}()

	select {
	case <-allDone:
	case <-runCtx.Done():
	}
	cause := errBatchExpired
	if err := runCtx.Err(); err != nil {
		cause = errors.Join(errBatchExpired, err)
	}
	a.seal(tasks, cause)

	s := Summarize(a.outcomes)
	log.Info().Str("action", "acquire").Int("succeeded", s.Succeeded).Int("failed", s.Failed).
		Dur("elapsed_ms", time.Since(start)).Msg("batch finished")
	return a.outcomes
}

// group de-duplicates requests by key, keeping first-seen order.
func group(reqs []Request) []*task {
	byKey := make(map[Key]*task, len(reqs))
	var tasks []*task
	for i, r := range reqs {
		k := r.Key()
		if t, ok := byKey[k]; ok {
			t.positions = append(t.positions, i)
			continue
		}
		t := &task{key: k, req: r, positions: []int{i}}
		byKey[k] = t
		tasks = append(tasks, t)
	}
	return tasks
}

// runTask resolves the secret, exchanges with retries and records the result.
func (e *Engine) runTask(ctx context.Context, a *arena, i int, t *task) {
	metrics.InFlightGauge.Inc()
	defer metrics.InFlightGauge.Dec()

	key := t.key.String()
	start := time.Now()
	tok, ferr := e.acquire(ctx, t)
	if ferr != nil {
		ferr = ferr.WithKey(key)
	}
	if !a.finish(i, t, tok, ferr) {
		return
	}

	attempts := int(t.attempts.Load())
	if ferr != nil {
		metrics.RecordOutcome(ferr.Kind.String())
		log.Warn().Err(ferr.Err).Str("action", "acquire").Str("key", key).Str("method", string(t.req.Method)).
			Str("kind", ferr.Kind.String()).Int("attempts", attempts).
			Dur("elapsed_ms", time.Since(start)).Msg("token acquisition failed")
		return
	}
	metrics.RecordOutcome("ok")
	log.Info().Str("action", "acquire").Str("key", key).Str("method", string(t.req.Method)).
		Int("attempts", attempts).Dur("elapsed_ms", time.Since(start)).Msg("token acquired")
}

func (e *Engine) acquire(ctx context.Context, t *task) (*Token, *failure.Error) {
	sec, err := e.store.Resolve(ctx, t.req.Secret)
	if err != nil {
		return nil, failure.Classify(err, failure.SecretNotFound)
	}
	// The secret lives exactly as long as this task.
	defer sec.Destroy()

	creq := e.clientRequest(t, sec)
	var got tokenclient.Token
	err = retry.Do(ctx, e.opts.Retry, failure.IsTransient, func(ctx context.Context) error {
		n := t.attempts.Add(1)
		attemptStart := time.Now()
		res, err := e.client.Exchange(ctx, creq)
		metrics.RecordAttempt(string(creq.Method), time.Since(attemptStart), err == nil)
		if err != nil {
			fe := failure.Classify(err, failure.NetworkFailure)
			log.Debug().Err(fe.Err).Str("action", "acquire_attempt").Str("key", t.key.String()).
				Int("attempt", int(n)).Str("kind", fe.Kind.String()).Msg("attempt failed")
			return fe
		}
		got = res
		return nil
	})
	if err != nil {
		return nil, failure.Classify(err, failure.NetworkFailure)
	}
	return &Token{
		Key:         t.key,
		AccessToken: got.AccessToken,
		TokenType:   got.TokenType,
		ExpiresAt:   got.ExpiresAt,
	}, nil
}

func (e *Engine) clientRequest(t *task, sec *secret.Secret) tokenclient.Request {
	r := t.req
	method := r.Method
	if method == "" {
		method = tokenclient.DSHRest
	}
	endpoint := r.Endpoint
	if endpoint == "" {
		endpoint = tokenclient.Endpoint(method, r.Platform, e.opts.APIBase)
	}
	return tokenclient.Request{
		Method:   method,
		Endpoint: endpoint,
		Tenant:   r.Tenant,
		ClientID: t.key.ClientID,
		Secret:   sec,
		Scope:    r.Scope,
		Claims:   r.Claims,
	}
}
