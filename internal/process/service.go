// Package process drives a rule run: stream unprocessed messages from
// the store in batches, evaluate the rule tree, plan label mutations,
// apply them remotely, and record the outcome per message.
package process

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/joshsymonds/mailsift/internal/gmail"
	"github.com/joshsymonds/mailsift/internal/plan"
	"github.com/joshsymonds/mailsift/internal/rate"
	"github.com/joshsymonds/mailsift/internal/rules"
	"github.com/joshsymonds/mailsift/internal/runtime"
	"github.com/joshsymonds/mailsift/internal/store"
)

const (
	defaultBatchSize   = 50
	defaultMaxAttempts = 3
	defaultRetryBase   = 500 * time.Millisecond
)

// Store is the slice of the mirror database the orchestrator needs.
type Store interface {
	QueryUnprocessed(ctx context.Context, limit, offset int) ([]store.Message, error)
	MarkProcessed(ctx context.Context, id string, at time.Time) error
	UpdateLabels(ctx context.Context, id string, labels []string) error
}

// Options are per-run parameters.
type Options struct {
	BatchSize   int  // messages per store query; default 50
	MaxMessages int  // stop after scanning this many; 0 means no cap
	DryRun      bool // log planned mutations, apply and record nothing
}

// Service executes rule runs. Evaluation and planning are pure; only
// the remote modify calls (and the store writes that follow them) have
// side effects.
type Service struct {
	Store   Store
	Client  gmail.Client
	Limiter rate.Limiter
	Logger  *slog.Logger
	Clock   func() time.Time

	// Retry policy for transient remote failures.
	MaxAttempts int
	RetryBase   time.Duration
	Sleep       func(ctx context.Context, d time.Duration) error
}

// NewService constructs a Service with sane defaults.
func NewService(st Store, client gmail.Client, limiter rate.Limiter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = runtime.DefaultLogger()
	}
	return &Service{
		Store:       st,
		Client:      client,
		Limiter:     limiter,
		Logger:      logger,
		Clock:       time.Now,
		MaxAttempts: defaultMaxAttempts,
		RetryBase:   defaultRetryBase,
		Sleep:       sleepCtx,
	}
}

// Failure records why one message could not be fully processed.
type Failure struct {
	ID     string
	Reason string
}

// Summary is the per-run outcome report.
type Summary struct {
	Rule             string
	Scanned          int
	Matched          int
	Applied          int
	AlreadyCompliant int
	Failed           int
	Retries          int
	Failures         []Failure
}

// Run processes unprocessed messages against the validated rule set.
// One bad message does not block the batch: per-message failures land
// in the summary and the run continues. A returned error means the run
// aborted (canceled context, store failure, or label listing failure)
// before completing.
func (s *Service) Run(ctx context.Context, rs *rules.RuleSet, opts Options) (Summary, error) {
	sum := Summary{Rule: rs.Name}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}

	labels, err := s.listLabels(ctx, &sum)
	if err != nil {
		return sum, fmt.Errorf("list labels: %w", err)
	}

	// Rows we saw but did not mark processed (unmatched or failed) stay
	// in the unprocessed view; the offset skips past them next query.
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return sum, fmt.Errorf("run canceled: %w", err)
		}
		limit := batch
		if opts.MaxMessages > 0 {
			if remaining := opts.MaxMessages - sum.Scanned; remaining < limit {
				limit = remaining
			}
		}
		if limit <= 0 {
			break
		}
		msgs, err := s.Store.QueryUnprocessed(ctx, limit, offset)
		if err != nil {
			return sum, fmt.Errorf("query unprocessed: %w", err)
		}
		if len(msgs) == 0 {
			break
		}
		for _, msg := range msgs {
			if !s.processOne(ctx, rs, msg, labels, opts, &sum) {
				offset++
			}
		}
	}

	s.Logger.InfoContext(ctx, "run complete",
		"rule", rs.Name,
		"scanned", sum.Scanned,
		"matched", sum.Matched,
		"applied", sum.Applied,
		"already_compliant", sum.AlreadyCompliant,
		"failed", sum.Failed,
		"retries", sum.Retries,
	)
	return sum, nil
}

// processOne handles a single message and reports whether the row was
// marked processed (and so left the unprocessed view). Once the apply
// step starts it runs to completion; cancellation is only honored at
// batch boundaries.
func (s *Service) processOne(
	ctx context.Context,
	rs *rules.RuleSet,
	msg store.Message,
	labels *labelTable,
	opts Options,
	sum *Summary,
) bool {
	sum.Scanned++

	match, err := rules.Evaluate(rs.Root, ruleMessage(msg), s.Clock())
	if err != nil {
		s.recordFailure(ctx, sum, msg.ID, fmt.Errorf("evaluate: %w", err))
		return false
	}
	if !match {
		return false
	}
	sum.Matched++

	muts := plan.Build(
		plan.Actions{Mark: rs.Actions.Mark, Move: rs.Actions.Move},
		labels.namesOf(msg.Labels),
	)
	if len(muts) == 0 {
		sum.AlreadyCompliant++
		if opts.DryRun {
			return false
		}
		if err := s.Store.MarkProcessed(ctx, msg.ID, s.Clock()); err != nil {
			s.recordFailure(ctx, sum, msg.ID, err)
			return false
		}
		return true
	}
	if opts.DryRun {
		s.Logger.InfoContext(ctx, "dry-run: would mutate",
			"message", msg.ID, "mutations", describeMutations(muts))
		return false
	}

	ops, err := s.resolveOps(ctx, muts, labels, sum)
	if err != nil {
		s.recordFailure(ctx, sum, msg.ID, fmt.Errorf("resolve labels: %w", err))
		return false
	}
	if ops.Empty() {
		// Every planned mutation resolved away (removal of a label the
		// account no longer has); nothing left to send.
		sum.AlreadyCompliant++
		if err := s.Store.MarkProcessed(ctx, msg.ID, s.Clock()); err != nil {
			s.recordFailure(ctx, sum, msg.ID, err)
			return false
		}
		return true
	}
	id := gmail.MessageID(msg.ID)
	err = s.withRetry(ctx, "modify "+msg.ID, sum, func(ctx context.Context) error {
		if err := s.wait(ctx); err != nil {
			return err
		}
		return s.Client.Modify(ctx, id, ops)
	})
	if err != nil {
		s.recordFailure(ctx, sum, msg.ID, fmt.Errorf("modify: %w", err))
		return false
	}
	sum.Applied++

	// Refresh the mirror so the next run plans against remote reality.
	if err := s.Store.UpdateLabels(ctx, msg.ID, applyOps(msg.Labels, ops)); err != nil {
		s.Logger.WarnContext(ctx, "label mirror refresh failed", "message", msg.ID, "error", err)
	}
	if err := s.Store.MarkProcessed(ctx, msg.ID, s.Clock()); err != nil {
		s.recordFailure(ctx, sum, msg.ID, err)
		return false
	}
	return true
}

func (s *Service) listLabels(ctx context.Context, sum *Summary) (*labelTable, error) {
	var (
		byName map[string]gmail.LabelID
		byID   map[gmail.LabelID]string
	)
	err := s.withRetry(ctx, "list labels", sum, func(ctx context.Context) error {
		if err := s.wait(ctx); err != nil {
			return err
		}
		var err error
		byName, byID, err = s.Client.ListLabels(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &labelTable{byName: byName, byID: byID}, nil
}

// resolveOps maps planned mutations (label names) to remote label IDs,
// creating missing add targets. Removal order from the plan is kept:
// removals land in RemoveLabels, additions in AddLabels, and the whole
// set goes out as one modify call.
func (s *Service) resolveOps(
	ctx context.Context,
	muts []plan.Mutation,
	labels *labelTable,
	sum *Summary,
) (gmail.ModifyOps, error) {
	var ops gmail.ModifyOps
	for _, m := range muts {
		id, ok := labels.idFor(m.Label)
		if !ok {
			if m.Op == plan.RemoveLabel {
				// A label the account does not have cannot be on the message.
				continue
			}
			err := s.withRetry(ctx, "ensure label "+m.Label, sum, func(ctx context.Context) error {
				if err := s.wait(ctx); err != nil {
					return err
				}
				var err error
				id, err = s.Client.EnsureLabel(ctx, m.Label)
				return err
			})
			if err != nil {
				return gmail.ModifyOps{}, fmt.Errorf("ensure label %q: %w", m.Label, err)
			}
			labels.add(m.Label, id)
		}
		switch m.Op {
		case plan.RemoveLabel:
			ops.RemoveLabels = append(ops.RemoveLabels, id)
		case plan.AddLabel:
			ops.AddLabels = append(ops.AddLabels, id)
		}
	}
	return ops, nil
}

// withRetry runs fn, retrying transient failures with capped exponential
// backoff. The final error is returned unwrapped for classification by
// the caller.
func (s *Service) withRetry(
	ctx context.Context,
	op string,
	sum *Summary,
	fn func(context.Context) error,
) error {
	attempts := s.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	base := s.RetryBase
	if base <= 0 {
		base = defaultRetryBase
	}
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= attempts || !runtime.IsTransient(err) {
			return err
		}
		sum.Retries++
		s.Logger.WarnContext(ctx, "transient failure, retrying",
			"op", op, "attempt", attempt, "error", err)
		if sleepErr := s.sleep(ctx, base<<(attempt-1)); sleepErr != nil {
			return err
		}
	}
}

func (s *Service) recordFailure(ctx context.Context, sum *Summary, id string, err error) {
	sum.Failed++
	sum.Failures = append(sum.Failures, Failure{ID: id, Reason: err.Error()})
	s.Logger.WarnContext(ctx, "message failed", "message", id, "error", err)
}

func (s *Service) wait(ctx context.Context) error {
	if s.Limiter == nil {
		return nil
	}
	if err := s.Limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return nil
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if s.Sleep != nil {
		return s.Sleep(ctx, d)
	}
	return sleepCtx(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func ruleMessage(m store.Message) rules.Message {
	return rules.Message{
		From:     m.From,
		To:       m.To,
		Subject:  m.Subject,
		Body:     m.Snippet,
		Received: m.Received,
	}
}

// applyOps mirrors a successful remote mutation onto the stored label set.
func applyOps(labels []string, ops gmail.ModifyOps) []string {
	removed := make(map[string]bool, len(ops.RemoveLabels))
	for _, id := range ops.RemoveLabels {
		removed[string(id)] = true
	}
	out := make([]string, 0, len(labels)+len(ops.AddLabels))
	seen := make(map[string]bool, len(labels))
	for _, l := range labels {
		if removed[l] || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	for _, id := range ops.AddLabels {
		if !seen[string(id)] {
			seen[string(id)] = true
			out = append(out, string(id))
		}
	}
	return out
}

func describeMutations(muts []plan.Mutation) string {
	var b strings.Builder
	for i, m := range muts {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(m.Op.String())
		b.WriteByte(' ')
		b.WriteString(m.Label)
	}
	return b.String()
}

// labelTable tracks the remote name<->id maps for one run, growing as
// labels are created.
type labelTable struct {
	byName map[string]gmail.LabelID
	byID   map[gmail.LabelID]string
}

func (t *labelTable) idFor(name string) (gmail.LabelID, bool) {
	id, ok := t.byName[name]
	return id, ok
}

func (t *labelTable) add(name string, id gmail.LabelID) {
	t.byName[name] = id
	t.byID[id] = name
}

// namesOf renders a message's label-ID set as label names; unknown IDs
// pass through unchanged.
func (t *labelTable) namesOf(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		if name, ok := t.byID[gmail.LabelID(id)]; ok {
			set[name] = true
			continue
		}
		set[id] = true
	}
	return set
}

// PrintSummary writes a human-readable run report.
func PrintSummary(w io.Writer, sum Summary) error {
	name := sum.Rule
	if name == "" {
		name = "(unnamed rule)"
	}
	if _, err := fmt.Fprintf(w,
		"rule %s: scanned %d, matched %d, applied %d, already compliant %d, failed %d, retries %d\n",
		name, sum.Scanned, sum.Matched, sum.Applied, sum.AlreadyCompliant, sum.Failed, sum.Retries,
	); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	for _, f := range sum.Failures {
		if _, err := fmt.Fprintf(w, "  failed %s: %s\n", f.ID, f.Reason); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	return nil
}
