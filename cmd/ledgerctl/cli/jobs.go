package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger-core/jobs"
)

// Enqueuer submits tasks; *asynq.Client satisfies it.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueInspector reads queue state; *asynq.Inspector satisfies it.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// JobsCLI wraps manual management helpers for ledger jobs.
type JobsCLI struct {
	client    Enqueuer
	inspector QueueInspector
	closers   []func() error
}

// NewJobsCLI connects the client and inspector to the queue Redis database.
func NewJobsCLI(redisAddr string, redisDB int) *JobsCLI {
	opt := asynq.RedisClientOpt{Addr: redisAddr, DB: redisDB}
	client := asynq.NewClient(opt)
	inspector := asynq.NewInspector(opt)
	return &JobsCLI{client: client, inspector: inspector, closers: []func() error{client.Close, inspector.Close}}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var errs []error
	for _, closeFn := range c.closers {
		errs = append(errs, closeFn())
	}
	return errors.Join(errs...)
}

// TriggerArgs carries optional job parameters keyed by name: lookback_days
// for the integrity scan, product for WAC refresh, and currency, rate,
// period, date and post for revaluation.
type TriggerArgs map[string]string

// Trigger enqueues a supported job by task type.
func (c *JobsCLI) Trigger(ctx context.Context, name string, args TriggerArgs) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, err := buildTask(name, args)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

func buildTask(name string, args TriggerArgs) (*asynq.Task, error) {
	switch name {
	case jobs.TaskGLIntegrity:
		days := 35
		if v, ok := args["lookback_days"]; ok {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("jobs cli: invalid lookback_days %q", v)
			}
			days = n
		}
		return jobs.NewGLIntegrityTask(days)
	case jobs.TaskWACRefresh:
		var ids []int64
		if v, ok := args["product"]; ok {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("jobs cli: invalid product %q", v)
			}
			ids = append(ids, id)
		}
		return jobs.NewWACRefreshTask(ids...)
	case jobs.TaskCurrencyRevaluation:
		payload, err := revaluationPayload(args)
		if err != nil {
			return nil, err
		}
		return jobs.NewCurrencyRevaluationTask(payload)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
}

func revaluationPayload(args TriggerArgs) (jobs.CurrencyRevaluationPayload, error) {
	var payload jobs.CurrencyRevaluationPayload
	id, err := strconv.ParseInt(args["currency"], 10, 64)
	if err != nil || id <= 0 {
		return payload, fmt.Errorf("jobs cli: currency id is required")
	}
	payload.CurrencyID = id
	rate, err := decimal.NewFromString(args["rate"])
	if err != nil || !rate.IsPositive() {
		return payload, fmt.Errorf("jobs cli: positive rate is required")
	}
	payload.NewRate = rate.String()
	if v, ok := args["period"]; ok {
		period, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return payload, fmt.Errorf("jobs cli: invalid period %q", v)
		}
		payload.FiscalPeriodID = &period
	}
	if v, ok := args["date"]; ok {
		date, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return payload, fmt.Errorf("jobs cli: invalid date %q", v)
		}
		payload.Date = &date
	}
	if v, ok := args["post"]; ok {
		post, err := strconv.ParseBool(v)
		if err != nil {
			return payload, fmt.Errorf("jobs cli: invalid post %q", v)
		}
		payload.PostVoucher = post
	}
	return payload, nil
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
}

// InspectQueues reports metrics for the critical and default queues.
func (c *JobsCLI) InspectQueues() ([]QueueStats, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	var out []QueueStats
	for _, queue := range []string{jobs.QueueCritical, jobs.QueueDefault} {
		info, err := c.inspector.GetQueueInfo(queue)
		if errors.Is(err, asynq.ErrQueueNotFound) {
			out = append(out, QueueStats{Queue: queue})
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, QueueStats{
			Queue:     queue,
			Pending:   info.Pending,
			Active:    info.Active,
			Scheduled: info.Scheduled,
			Retry:     info.Retry,
		})
	}
	return out, nil
}
