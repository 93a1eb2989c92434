// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mia-platform/tallysync/internal/aggregate"
	"github.com/mia-platform/tallysync/internal/config"
	"github.com/mia-platform/tallysync/internal/logger"
	"github.com/mia-platform/tallysync/internal/mode"
	"github.com/mia-platform/tallysync/internal/pipeline"
)

const (
	loggerName = "tallysync:orchestrator"

	DefaultMinGap = 2 * time.Minute
)

var (
	ErrAlreadyRunning = errors.New("a sync run is already in progress")
	ErrTooSoon        = errors.New("a sync run completed too recently")
	ErrNoTenants      = errors.New("no tenant to synchronize")
)

// Decider picks the mode of every entity run.
type Decider interface {
	Decide(ctx context.Context, request mode.Request) (mode.Decision, error)
}

// Runner executes the ingestion of a single entity type.
type Runner interface {
	Run(ctx context.Context, request pipeline.Request) (pipeline.Result, error)
}

// Refresher keeps the aggregates coherent after a run.
type Refresher interface {
	AfterSync(ctx context.Context, tenant string, entityTypes []string, force bool) aggregate.Outcome
	RefreshTenants(ctx context.Context, tenants []string, force bool) ([]aggregate.Outcome, error)
}

// Options configures an Orchestrator.
type Options struct {
	// Tenants are synced by the scheduler and by requests not naming any tenant.
	Tenants                  []string
	Interval                 time.Duration
	MinGap                   time.Duration
	AggregateRefreshInterval time.Duration
}

// Request is a sync run. Empty Tenants means the configured ones, empty Entities every catalog entity.
type Request struct {
	Tenants   []string
	Manual    bool
	ForceFull bool
	StartDate *time.Time
	EndDate   *time.Time
	Entities  []string
}

// EntityReport is the outcome of one entity type of one tenant.
type EntityReport struct {
	Tenant   string          `json:"tenant"`
	Decision mode.Decision   `json:"decision"`
	Result   pipeline.Result `json:"result"`
}

// Report is the outcome of a run; partial failures are reported, not returned.
type Report struct {
	RunID       string              `json:"runId"`
	Manual      bool                `json:"manual"`
	Success     bool                `json:"success"`
	StartedAt   time.Time           `json:"startedAt"`
	CompletedAt time.Time           `json:"completedAt"`
	Entities    []EntityReport      `json:"entities"`
	Aggregates  []aggregate.Outcome `json:"aggregates"`
	Error       string              `json:"error,omitempty"`
}

// Status is the polled state of the orchestrator.
type Status struct {
	IsRunning     bool       `json:"isRunning"`
	Manual        bool       `json:"manual"`
	CurrentStep   string     `json:"currentStep,omitempty"`
	LastCompleted *time.Time `json:"lastCompleted"`
	LastError     string     `json:"lastError,omitempty"`
	NextSyncInMs  int64      `json:"nextSyncInMs"`
	LastReport    *Report    `json:"lastReport,omitempty"`
}

type Orchestrator struct {
	catalog   *config.Catalog
	decider   Decider
	runner    Runner
	refresher Refresher
	signals   *Signals
	opts      Options

	lock          sync.Mutex
	running       bool
	manual        bool
	step          string
	lastCompleted time.Time
	lastError     string
	lastReport    *Report
	nextSyncAt    time.Time

	inFlight  sync.WaitGroup
	scheduler sync.WaitGroup

	nowFn func() time.Time
}

// New returns an orchestrator; signals must be the pipeline notifier of runner.
func New(catalog *config.Catalog, decider Decider, runner Runner, refresher Refresher, signals *Signals, opts Options) *Orchestrator {
	if opts.MinGap < 0 {
		opts.MinGap = 0
	}
	if signals == nil {
		signals = NewSignals()
	}

	return &Orchestrator{
		catalog:   catalog,
		decider:   decider,
		runner:    runner,
		refresher: refresher,
		signals:   signals,
		opts:      opts,
		nowFn:     time.Now,
	}
}

// Trigger executes a run synchronously. It fails with ErrAlreadyRunning
// while another run is in flight and with ErrTooSoon when the previous run
// completed less than the minimum gap ago.
func (o *Orchestrator) Trigger(ctx context.Context, request Request) (Report, error) {
	tenants := request.Tenants
	if len(tenants) == 0 {
		tenants = o.opts.Tenants
	}
	if len(tenants) == 0 {
		return Report{}, ErrNoTenants
	}

	entities, err := o.catalog.Select(request.Entities)
	if err != nil {
		return Report{}, err
	}

	if err := o.acquire(request.Manual); err != nil {
		return Report{}, err
	}

	report := Report{
		RunID:     uuid.NewString(),
		Manual:    request.Manual,
		StartedAt: o.nowFn().UTC(),
		Entities:  make([]EntityReport, 0),
	}
	log := logger.FromContext(ctx).WithName(loggerName).With("runId", report.RunID, "manual", request.Manual)
	ctx = logger.WithContext(ctx, log)

	err = o.run(ctx, request, tenants, entities, &report)
	report.CompletedAt = o.nowFn().UTC()
	report.Success = err == nil
	if err != nil {
		report.Error = err.Error()
		log.Error("sync run completed with errors", "error", err)
	} else {
		log.Info("sync run completed", "entities", len(report.Entities))
	}

	o.release(report)
	return report, err
}

func (o *Orchestrator) acquire(manual bool) error {
	o.lock.Lock()
	defer o.lock.Unlock()

	if o.running {
		return ErrAlreadyRunning
	}
	if !o.lastCompleted.IsZero() {
		if elapsed := o.nowFn().Sub(o.lastCompleted); elapsed < o.opts.MinGap {
			return fmt.Errorf("%w: retry in %s", ErrTooSoon, (o.opts.MinGap - elapsed).Round(time.Second))
		}
	}

	o.running = true
	o.manual = manual
	o.step = "starting"
	o.inFlight.Add(1)
	return nil
}

func (o *Orchestrator) release(report Report) {
	o.lock.Lock()
	defer o.lock.Unlock()

	o.running = false
	o.manual = false
	o.step = ""
	o.lastCompleted = o.nowFn()
	o.lastError = report.Error
	o.lastReport = &report
	o.inFlight.Done()
}

func (o *Orchestrator) run(ctx context.Context, request Request, tenants []string, entities []config.Entity, report *Report) error {
	o.signals.Drain()
	var errs []string
	for _, tenant := range tenants {
		for _, entity := range entities {
			if err := ctx.Err(); err != nil {
				errs = append(errs, err.Error())
				break
			}

			o.setStep(tenant + "/" + entity.Type)
			entityReport, err := o.runEntity(ctx, request, report.RunID, tenant, entity)
			report.Entities = append(report.Entities, entityReport)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s/%s: %s", tenant, entity.Type, err))
			}
		}
	}

	o.setStep("aggregates")
	report.Aggregates = make([]aggregate.Outcome, 0)
	changed := o.signals.Drain()
	for _, tenant := range slices.Sorted(maps.Keys(changed)) {
		outcome := o.refresher.AfterSync(context.WithoutCancel(ctx), tenant, changed[tenant], false)
		report.Aggregates = append(report.Aggregates, outcome)
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func (o *Orchestrator) runEntity(ctx context.Context, request Request, runID, tenant string, entity config.Entity) (EntityReport, error) {
	entityReport := EntityReport{Tenant: tenant}

	decision, err := o.decider.Decide(ctx, mode.Request{
		Tenant:     tenant,
		EntityType: entity.Type,
		Table:      entity.Table,
		StartDate:  request.StartDate,
		EndDate:    request.EndDate,
		ForceFull:  request.ForceFull,
	})
	if err != nil {
		entityReport.Result = pipeline.Result{EntityType: entity.Type, Errors: make([]pipeline.BatchError, 0), Error: err.Error()}
		return entityReport, fmt.Errorf("deciding sync mode: %w", err)
	}
	entityReport.Decision = decision

	logger.FromContext(ctx).Debug("sync mode selected",
		"tenant", tenant,
		"entityType", entity.Type,
		"mode", decision.Mode,
		"reason", decision.Reason,
	)

	result, err := o.runner.Run(ctx, pipeline.Request{
		RunID:  runID,
		Tenant: tenant,
		Entity: entity,
		Mode:   decision.Mode,
		From:   decision.From,
		To:     decision.To,
	})
	entityReport.Result = result
	return entityReport, err
}

func (o *Orchestrator) setStep(step string) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.step = step
}

// Status returns a snapshot of the orchestrator state.
func (o *Orchestrator) Status() Status {
	o.lock.Lock()
	defer o.lock.Unlock()

	status := Status{
		IsRunning:   o.running,
		Manual:      o.manual,
		CurrentStep: o.step,
		LastError:   o.lastError,
		LastReport:  o.lastReport,
	}
	if !o.lastCompleted.IsZero() {
		lastCompleted := o.lastCompleted.UTC()
		status.LastCompleted = &lastCompleted
	}
	if !o.nextSyncAt.IsZero() {
		status.NextSyncInMs = max(0, o.nextSyncAt.Sub(o.nowFn()).Milliseconds())
	}
	return status
}
