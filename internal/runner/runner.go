package runner

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/consensus-crawler/internal/llm"
	"github.com/sells-group/consensus-crawler/internal/model"
	"github.com/sells-group/consensus-crawler/internal/registry"
	"github.com/sells-group/consensus-crawler/internal/resilience"
	"github.com/sells-group/consensus-crawler/internal/store"
	"github.com/sells-group/consensus-crawler/internal/volatility"
)

// State is the runner's lifecycle phase for one run.
type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateDispatching  State = "dispatching"
	StateDraining     State = "draining"
	StateSucceeded    State = "succeeded"
	StateFailed       State = "failed"
)

// Options tune a batch run.
type Options struct {
	// Concurrency bounds how many subjects run in parallel.
	Concurrency int
	// BatchSize is the number of subjects between checkpoint flushes.
	BatchSize int
	// GlobalTimeout aborts the whole run; 0 disables it.
	GlobalTimeout time.Duration
	// InterCallDelay is the politeness pause between a subject's calls.
	InterCallDelay time.Duration
	// PromptTypes are the prompts sent per (subject, provider) pair.
	// Defaults to all three analysis prompts.
	PromptTypes []model.PromptType
	// CheckpointName keys the checkpoint document in the store.
	CheckpointName string
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 25
	}
	if len(o.PromptTypes) == 0 {
		o.PromptTypes = model.AllPromptTypes()
	}
	if o.CheckpointName == "" {
		o.CheckpointName = "crawl"
	}
	return o
}

// TierFunc resolves the processing tier for a subject.
type TierFunc func(ctx context.Context, subject string) volatility.Tier

// Runner executes a checkpointed crawl over subjects. Workers report every
// outcome to a single coordinator goroutine, which alone mutates the
// checkpoint and writes results — job execution is concurrent, durable
// writes are serialized.
type Runner struct {
	reg      *registry.Registry
	keys     *registry.Keyring
	limiters *resilience.LimiterSet
	clients  llm.ClientSet
	retry    resilience.RetryPolicy
	store    store.Store
	tierOf   TierFunc
	opts     Options
	state    State

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New creates a Runner. tierOf may be nil, in which case every subject runs
// in the efficient tier.
func New(reg *registry.Registry, keys *registry.Keyring, limiters *resilience.LimiterSet, clients llm.ClientSet, retry resilience.RetryPolicy, st store.Store, tierOf TierFunc, opts Options) *Runner {
	if tierOf == nil {
		tierOf = func(context.Context, string) volatility.Tier { return volatility.TierEfficient }
	}
	return &Runner{
		reg:      reg,
		keys:     keys,
		limiters: limiters,
		clients:  clients,
		retry:    retry,
		store:    st,
		tierOf:   tierOf,
		opts:     opts.withDefaults(),
		state:    StateIdle,
		sleep:    sleepTimer,
		now:      time.Now,
	}
}

// State returns the runner's current lifecycle phase.
func (r *Runner) State() State {
	return r.state
}

// coordinator message types. outcome.checkpoint is false for calls aborted
// by the run deadline, which must stay resumable.
type outcome struct {
	result     model.QueryResult
	checkpoint bool
}

type flushReq struct {
	reply chan error
}

// Run crawls the given subjects, resuming from the stored checkpoint.
// Individual call failures never abort the run; a checkpoint or result
// write failure does.
func (r *Runner) Run(ctx context.Context, subjects []model.Subject) (*Summary, error) {
	r.state = StateInitializing
	start := r.now()

	if r.opts.GlobalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.GlobalTimeout)
		defer cancel()
	}

	cp := NewCheckpoint()
	doc, err := r.store.LoadCheckpoint(ctx, r.opts.CheckpointName)
	if err != nil {
		r.state = StateFailed
		return nil, eris.Wrap(err, "runner: load checkpoint")
	}
	if doc != nil {
		if err := cp.UnmarshalJSON(doc); err != nil {
			r.state = StateFailed
			return nil, eris.Wrap(err, "runner: decode checkpoint")
		}
	}

	summary := &Summary{CheckpointName: r.opts.CheckpointName}
	jobs := r.buildJobs(ctx, subjects, cp, summary)
	zap.L().Info("batch initialized",
		zap.Int("subjects", len(subjects)),
		zap.Int("jobs", len(jobs)),
		zap.Int("calls_skipped", summary.Stats.Skipped),
		zap.Int("checkpoint_keys", cp.Len()),
		zap.Int("concurrency", r.opts.Concurrency),
	)

	// Coordinator: sole owner of checkpoint and result writes. A single
	// channel keeps flush requests ordered after every outcome sent before
	// them.
	msgs := make(chan any, r.opts.Concurrency*2)
	coordDone := make(chan struct{})
	go r.coordinate(ctx, cp, summary, msgs, coordDone)

	r.state = StateDispatching
	runErr := r.dispatch(ctx, jobs, msgs)

	r.state = StateDraining
	close(msgs)
	<-coordDone

	summary.Duration = r.now().Sub(start)
	summary.CheckpointKeys = cp.Len()
	if runErr != nil {
		r.state = StateFailed
		summary.Log()
		return summary, runErr
	}
	r.state = StateSucceeded
	summary.Log()
	return summary, nil
}

// buildJobs expands each subject into a ProcessingJob via its tier,
// dropping calls already checkpointed and whole jobs already done. Runs
// before the coordinator starts, so touching the checkpoint here is safe.
func (r *Runner) buildJobs(ctx context.Context, subjects []model.Subject, cp *Checkpoint, summary *Summary) []model.ProcessingJob {
	var jobs []model.ProcessingJob
	for _, sub := range subjects {
		tier := r.tierOf(ctx, sub.ID)
		providers := volatility.SelectProviders(tier, r.reg.List())

		var calls []model.CallSpec
		for _, p := range providers {
			for _, pt := range r.opts.PromptTypes {
				if cp.Has(model.ResultKey(sub.ID, p.Name, pt)) {
					summary.Stats.Skipped++
					cp.Stats.Skipped++
					continue
				}
				calls = append(calls, model.CallSpec{Provider: p.Name, PromptType: pt})
			}
		}
		if len(calls) == 0 {
			summary.SubjectsSkipped++
			continue
		}
		jobs = append(jobs, model.ProcessingJob{
			Subject:   sub.ID,
			Calls:     calls,
			CreatedAt: r.now(),
		})
	}
	return jobs
}

// dispatch runs jobs in batches, flushing the checkpoint after each batch.
func (r *Runner) dispatch(ctx context.Context, jobs []model.ProcessingJob, msgs chan<- any) error {
	for i := 0; i < len(jobs); i += r.opts.BatchSize {
		end := i + r.opts.BatchSize
		if end > len(jobs) {
			end = len(jobs)
		}

		g := new(errgroup.Group)
		g.SetLimit(r.opts.Concurrency)
		for _, job := range jobs[i:end] {
			g.Go(func() error {
				r.processJob(ctx, job, msgs)
				return nil
			})
		}
		_ = g.Wait()

		// All worker sends for this batch are enqueued; the flush lands
		// after them on the same channel.
		reply := make(chan error, 1)
		msgs <- flushReq{reply: reply}
		if err := <-reply; err != nil {
			return eris.Wrap(err, "runner: flush checkpoint")
		}

		if ctx.Err() != nil {
			zap.L().Warn("run deadline reached, aborting remaining jobs",
				zap.Int("jobs_remaining", len(jobs)-end),
			)
			return nil
		}
	}
	return nil
}

// coordinate consumes worker outcomes, advancing the checkpoint and
// buffering results, and persists both on each flush request.
func (r *Runner) coordinate(ctx context.Context, cp *Checkpoint, summary *Summary, msgs <-chan any, done chan<- struct{}) {
	defer close(done)

	var pending []model.QueryResult
	var fatal error

	for msg := range msgs {
		switch m := msg.(type) {
		case outcome:
			pending = append(pending, m.result)
			if m.checkpoint {
				cp.Add(m.result.Key())
			}
			cp.Stats.Total++
			summary.Stats.Total++
			if m.result.Outcome == model.OutcomeSuccess {
				cp.Stats.Success++
				summary.Stats.Success++
			} else {
				cp.Stats.Failed++
				summary.Stats.Failed++
				cp.Stats.countError(m.result.ErrorClass)
				summary.Stats.countError(m.result.ErrorClass)
			}

		case flushReq:
			if fatal != nil {
				m.reply <- fatal
				continue
			}
			fatal = r.persist(ctx, cp, &pending)
			m.reply <- fatal
		}
	}
}

// persist appends buffered results and saves the checkpoint. Uses a
// background-derived context so a run deadline does not prevent the final
// durable write.
func (r *Runner) persist(ctx context.Context, cp *Checkpoint, pending *[]model.QueryResult) error {
	writeCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
	}

	if err := r.store.AppendResults(writeCtx, *pending); err != nil {
		return err
	}
	*pending = nil

	cp.Timestamp = r.now().UTC()
	doc, err := cp.MarshalJSON()
	if err != nil {
		return err
	}
	if err := r.store.SaveCheckpoint(writeCtx, r.opts.CheckpointName, doc); err != nil {
		return err
	}
	zap.L().Debug("checkpoint saved",
		zap.Int("keys", cp.Len()),
		zap.Int("success", cp.Stats.Success),
		zap.Int("failed", cp.Stats.Failed),
	)
	return nil
}

// processJob executes one subject's calls sequentially, reporting each
// outcome to the coordinator.
func (r *Runner) processJob(ctx context.Context, job model.ProcessingJob, msgs chan<- any) {
	log := zap.L().With(zap.String("subject", job.Subject))

	if err := r.store.UpdateSubjectStatus(ctx, job.Subject, model.StatusProcessing, nil); err != nil {
		log.Warn("subject status update failed", zap.Error(err))
	}

	executed, succeeded := 0, 0
	for i, call := range job.Calls {
		if ctx.Err() != nil {
			// Run deadline: remaining calls stay out of the checkpoint so
			// the next run retries them.
			break
		}
		if i > 0 && r.opts.InterCallDelay > 0 {
			if err := r.sleep(ctx, r.opts.InterCallDelay); err != nil {
				break
			}
		}

		res, checkpoint := r.executeCall(ctx, job.Subject, call)
		executed++
		if res.Outcome == model.OutcomeSuccess {
			succeeded++
		}
		msgs <- outcome{result: res, checkpoint: checkpoint}
	}

	status := model.StatusCompleted
	if executed > 0 && succeeded == 0 {
		status = model.StatusFailed
	}
	now := r.now().UTC()
	if err := r.store.UpdateSubjectStatus(ctx, job.Subject, status, &now); err != nil {
		log.Warn("subject status update failed", zap.Error(err))
	}
	log.Debug("job finished",
		zap.Int("executed", executed),
		zap.Int("succeeded", succeeded),
		zap.String("status", string(status)),
	)
}

// executeCall runs one provider call under the rate limiter, credential
// rotation, and retry policy. The returned bool is false when the call was
// cut off by the run deadline and must not be checkpointed.
func (r *Runner) executeCall(ctx context.Context, subject string, call model.CallSpec) (model.QueryResult, bool) {
	res := model.QueryResult{
		ID:         uuid.NewString(),
		Subject:    subject,
		Provider:   call.Provider,
		PromptType: call.PromptType,
		CreatedAt:  r.now().UTC(),
	}

	cfg, ok := r.reg.Get(call.Provider)
	if !ok {
		res.Outcome = model.OutcomeError
		res.ErrorClass = string(resilience.ClassClient)
		res.ErrorMessage = "provider not registered"
		res.Attempts = 1
		return res, true
	}
	res.Model = cfg.Model

	client, ok := r.clients.Get(call.Provider)
	if !ok {
		res.Outcome = model.OutcomeError
		res.ErrorClass = string(resilience.ClassClient)
		res.ErrorMessage = "no client for provider"
		res.Attempts = 1
		return res, true
	}

	prompt := llm.RenderPrompt(call.PromptType, subject)
	start := r.now()

	var resp *llm.Response
	attempts, err := r.retry.Do(ctx, func(ctx context.Context) error {
		if err := r.limiters.Acquire(ctx, call.Provider); err != nil {
			return err
		}
		key, err := r.keys.NextKey(call.Provider)
		if err != nil {
			return err
		}

		callCtx := ctx
		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()
		}
		got, err := client.Send(callCtx, llm.Request{Prompt: prompt, Model: cfg.Model, APIKey: key})
		if err != nil {
			if resilience.Classify(err) == resilience.ClassAuth {
				r.keys.MarkFailed(call.Provider, key)
			}
			return err
		}
		resp = got
		return nil
	})

	res.LatencyMS = r.now().Sub(start).Milliseconds()
	res.Attempts = attempts

	if err != nil {
		res.Outcome = model.OutcomeError
		res.ErrorMessage = err.Error()
		if ctx.Err() != nil {
			// Aborted by the run deadline: report, but keep resumable.
			res.ErrorClass = string(resilience.ClassTimeout)
			return res, false
		}
		res.ErrorClass = string(resilience.Classify(err))
		return res, true
	}

	res.Outcome = model.OutcomeSuccess
	res.Response = resp.Text
	res.InputTokens = resp.InputTokens
	res.OutputTokens = resp.OutputTokens
	if resp.Latency > 0 {
		res.LatencyMS = resp.Latency.Milliseconds()
	}
	return res, true
}

func sleepTimer(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
