package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/samvad-hq/archive-probe/internal/config"
	"github.com/samvad-hq/archive-probe/internal/logger"
	"github.com/samvad-hq/archive-probe/internal/status"
	"github.com/samvad-hq/archive-probe/internal/storage"
	"github.com/samvad-hq/archive-probe/pkg/httpclient"
	"github.com/samvad-hq/archive-probe/pkg/publishers"
	"github.com/samvad-hq/archive-probe/pkg/targets"
)

// EventPublisher publishes status transitions downstream.
type EventPublisher interface {
	Publish(ctx context.Context, evt publishers.Event) (int, error)
}

// RequesterFactory builds the requester used to probe a target.
type RequesterFactory func(t targets.Target) (httpclient.Requester, error)

// Prober represents the probe runtime. It walks the configured targets on an
// interval, remembers the last result per target and announces changes.
type Prober struct {
	cfg           *config.Config
	targets       []targets.Target
	checker       *status.Checker
	newRequester  RequesterFactory
	requesters    map[string]httpclient.Requester
	store         storage.Store
	publisher     EventPublisher
	closers       []func() error
	probeInterval time.Duration
	runOnce       bool
	log           logger.Logger
}

// NewProber builds a probe runtime from config files.
func NewProber(ctx context.Context, cfg *config.Config, log logger.Logger) (*Prober, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if log == nil {
		log = &logger.NopLogger{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	targetReg, err := targets.LoadRegistry(cfg.TargetsFile)
	if err != nil {
		return nil, fmt.Errorf("load targets registry: %w", err)
	}
	list := targetReg.All()
	ids := make([]string, 0, len(list))
	for _, t := range list {
		ids = append(ids, t.ID)
	}
	log.InfoObj("targets registry loaded", "targets_meta", map[string]any{
		"count": len(ids),
		"ids":   ids,
	})

	fanout, err := buildFanout(ctx, cfg.PublishersFile, log)
	if err != nil {
		return nil, err
	}

	storeOpts := storage.Options{
		ResultTTL:       cfg.StorageTTL,
		CleanupInterval: cfg.StorageCleanupInterval,
	}
	store, err := storage.NewStore(cfg.StorageType, cfg.BBoltPath, storeOpts)
	if err != nil {
		_ = fanout.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	log.InfoObj("storage initialized", "storage_config", map[string]any{
		"type":                     cfg.StorageType,
		"path":                     cfg.BBoltPath,
		"result_ttl_seconds":       int(cfg.StorageTTL.Seconds()),
		"cleanup_interval_seconds": int(cfg.StorageCleanupInterval.Seconds()),
	})

	p := New(cfg, list, store, fanout, log)
	p.closers = append(p.closers, fanout.Close)
	return p, nil
}

// New assembles a Prober from already-built parts. Requesters default to
// resty clients built from each target's settings.
func New(cfg *config.Config, list []targets.Target, store storage.Store, pub EventPublisher, log logger.Logger) *Prober {
	if log == nil {
		log = &logger.NopLogger{}
	}
	if store == nil {
		store = storage.NewNoopStore()
	}
	if pub == nil {
		pub = publishers.NewFanout(nil)
	}

	p := &Prober{
		cfg:          cfg,
		targets:      list,
		checker:      status.NewChecker(log),
		newRequester: restyRequesterFactory(log),
		requesters:   make(map[string]httpclient.Requester),
		store:        store,
		publisher:    pub,
		log:          log,
	}
	p.closers = []func() error{store.Close, p.closeRequesters}
	if cfg != nil {
		p.probeInterval = cfg.ProbeInterval
		p.runOnce = cfg.RunOnce
	}
	return p
}

// WithRequesterFactory overrides how requesters are built for targets.
func (p *Prober) WithRequesterFactory(f RequesterFactory) *Prober {
	if f != nil {
		_ = p.closeRequesters()
		p.newRequester = f
	}
	return p
}

// requesterFor returns the cached requester for t, building it on first use.
// Failed builds are not cached and are retried on the next pass.
func (p *Prober) requesterFor(t targets.Target) (httpclient.Requester, error) {
	if req, ok := p.requesters[t.ID]; ok {
		return req, nil
	}
	req, err := p.newRequester(t)
	if err != nil {
		return nil, err
	}
	p.requesters[t.ID] = req
	return req, nil
}

func (p *Prober) closeRequesters() error {
	var errs []error
	for id, req := range p.requesters {
		if c, ok := req.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close requester for %s: %w", id, err))
			}
		}
		delete(p.requesters, id)
	}
	return errors.Join(errs...)
}

func buildFanout(ctx context.Context, path string, log logger.Logger) (*publishers.Fanout, error) {
	if path == "" {
		log.InfoObj("no publishers file configured; status changes are only logged", "publishers_file", path)
		return publishers.NewFanout(nil), nil
	}

	publisherReg, err := publishers.LoadRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("load publishers registry: %w", err)
	}
	enabled := publisherReg.Enabled()

	pubClients, err := publishers.BuildAll(ctx, publishers.DefaultRegistry(), enabled, log)
	if err != nil {
		return nil, fmt.Errorf("build publishers: %w", err)
	}
	summaries := make([]map[string]string, 0, len(enabled))
	for _, pubCfg := range enabled {
		summaries = append(summaries, map[string]string{
			"id":   pubCfg.ID,
			"type": pubCfg.Type,
		})
	}
	log.InfoObj("publishers registry loaded", "publishers_meta", map[string]any{
		"count":      len(summaries),
		"publishers": summaries,
	})
	return publishers.NewFanout(pubClients), nil
}

func restyRequesterFactory(log logger.Logger) RequesterFactory {
	return func(t targets.Target) (httpclient.Requester, error) {
		opts := httpclient.Options{
			BaseURL:        t.BaseURL,
			Timeout:        t.Timeout(),
			ConnectTimeout: t.ConnectTimeout(),
			Headers:        t.Headers,
		}
		if z, ok := log.(*logger.ZapLogger); ok {
			opts.Logger = z.Sugar()
		}
		return httpclient.NewRestyRequester(opts)
	}
}

// Run starts the probe loop until the context is cancelled.
func (p *Prober) Run(ctx context.Context) error {
	if p == nil || p.checker == nil {
		return fmt.Errorf("prober is not initialized")
	}
	defer p.close()

	if len(p.targets) == 0 {
		return fmt.Errorf("no targets configured for probing")
	}

	p.log.InfoObj("probe loop starting", "prober_state", map[string]any{
		"targets_count":  len(p.targets),
		"probe_interval": p.probeInterval.String(),
		"run_once":       p.runOnce,
	})

	if _, err := p.RunOnce(ctx); err != nil {
		if p.runOnce {
			return fmt.Errorf("probe pass: %w", err)
		}
		p.log.ErrorObj("initial probe pass failed", "error", err)
	}
	if p.runOnce {
		return nil
	}
	if p.probeInterval <= 0 {
		return fmt.Errorf("invalid probe interval %s", p.probeInterval)
	}

	ticker := time.NewTicker(p.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.InfoObj("probe loop exiting", "reason", ctx.Err())
			return nil
		case <-ticker.C:
			if _, err := p.RunOnce(ctx); err != nil {
				p.log.ErrorObj("scheduled probe pass failed", "error", err)
			}
		}
	}
}

// RunOnce probes every target once, in order. The returned error joins
// storage and publishing failures; it never reflects the probe outcome.
// Status changes are delivered at least once: when any sink fails the change
// is re-sent on the next pass, to every sink.
func (p *Prober) RunOnce(ctx context.Context) ([]status.Result, error) {
	start := time.Now()
	results := make([]status.Result, 0, len(p.targets))
	var errs []error

	for _, t := range p.targets {
		select {
		case <-ctx.Done():
			return results, errors.Join(errs...)
		default:
		}

		res, err := p.probeTarget(ctx, t)
		results = append(results, res)
		if err != nil {
			errs = append(errs, err)
			p.log.ErrorObj("target bookkeeping failed", "target_error", map[string]any{
				"target_id": t.ID,
				"error":     err.Error(),
			})
		}
	}

	p.log.InfoObj("probe pass completed", "probe_meta", map[string]any{
		"targets_count": len(p.targets),
		"summary":       summarize(results),
		"elapsed_ms":    time.Since(start).Milliseconds(),
	})
	return results, errors.Join(errs...)
}

func (p *Prober) probeTarget(ctx context.Context, t targets.Target) (status.Result, error) {
	var res status.Result
	req, err := p.requesterFor(t)
	if err != nil {
		// no client, no exchange: classified as a failed call
		res = status.Result{
			TargetID:  t.ID,
			Status:    status.Classify(nil, err),
			Error:     fmt.Sprintf("build requester: %v", err),
			CheckedAt: time.Now().UTC(),
		}
	} else {
		res = p.checker.Check(ctx, t.ID, req)
	}

	p.log.InfoObj("target probed", "probe_result", map[string]any{
		"target_id":   t.ID,
		"status":      res.Status.String(),
		"status_line": res.StatusLine,
		"error":       res.Error,
		"elapsed_ms":  res.Elapsed.Milliseconds(),
	})

	prev, seen, err := p.store.LastResult(t.ID)
	if err != nil {
		return res, fmt.Errorf("load last result for %s: %w", t.ID, err)
	}
	if seen && prev.Status == res.Status {
		if err := p.store.SaveResult(res); err != nil {
			return res, fmt.Errorf("save result for %s: %w", t.ID, err)
		}
		return res, nil
	}

	evt := publishers.NewEvent(t.Name, prev.Status, res)
	p.log.WarnObj("target status changed", "status_change", map[string]any{
		"target_id": t.ID,
		"previous":  evt.Previous.String(),
		"current":   evt.Current.String(),
		"first":     !seen,
	})
	// The previous result stays stored until delivery succeeds, so a failed
	// publish is retried on the next pass.
	if _, err := p.publisher.Publish(ctx, evt); err != nil {
		return res, fmt.Errorf("publish status change for %s: %w", t.ID, err)
	}
	if err := p.store.SaveResult(res); err != nil {
		return res, fmt.Errorf("save result for %s: %w", t.ID, err)
	}
	return res, nil
}

func summarize(results []status.Result) map[string]int {
	out := map[string]int{
		status.Connected.String(): 0,
		status.NotFound.String():  0,
		status.Unknown.String():   0,
	}
	for _, r := range results {
		out[r.Status.String()]++
	}
	return out
}

// close releases the store and publishers, logging any errors encountered.
func (p *Prober) close() {
	for _, c := range p.closers {
		if err := c(); err != nil {
			p.log.ErrorObj("prober close failed", "error", err)
		}
	}
	p.closers = nil
}
