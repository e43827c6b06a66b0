package proximity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/samirrijal/nearby/internal/core/domain"
	"github.com/samirrijal/nearby/internal/core/ports"
	"github.com/samirrijal/nearby/internal/pkg/geospatial"
	"github.com/samirrijal/nearby/internal/pkg/metrics"
	"github.com/samirrijal/nearby/internal/pkg/telemetry"
)

const (
	DefaultForceCooldown  = 5 * time.Second
	DefaultPreemptTimeout = time.Second
	DefaultStoreTimeout   = 15 * time.Second
	DefaultSearchLimit    = 50
)

// Policy decides when the cached result of a key is stale.
type Policy struct {
	// TTL bounds the age of a result. Zero means no ceiling: only movement
	// makes the result stale.
	TTL time.Duration
	// MinMove is the smallest movement, in meters, that makes a result stale.
	// The current fix's accuracy raises it when larger.
	MinMove float64
	Limit   int
}

// CoordinatorConfig tunes the coordinator. Zero fields take defaults.
type CoordinatorConfig struct {
	ForceCooldown  time.Duration
	PreemptTimeout time.Duration
	StoreTimeout   time.Duration
	Clock          clockwork.Clock
	Logger         *slog.Logger
}

// Outcome is a finished search handed to the sink of its key.
type Outcome struct {
	Key        domain.QueryKey
	Generation uint64
	Location   domain.Location
	POIs       []domain.POI
	Err        error
	Retried    bool
	At         time.Time
}

// Search is the handle of one background search.
type Search struct {
	key    domain.QueryKey
	gen    uint64
	done   chan struct{}
	cancel context.CancelFunc
}

// Key returns the query key the search runs for.
func (s *Search) Key() domain.QueryKey { return s.key }

// Generation is the per-key sequence number of the search.
func (s *Search) Generation() uint64 { return s.gen }

// Done is closed once the search task has returned.
func (s *Search) Done() <-chan struct{} { return s.done }

// Wait blocks until the search task has returned or ctx is done.
func (s *Search) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type keyState struct {
	policy Policy
	sink   func(Outcome)

	state    domain.RefreshState
	gen      uint64
	inflight *Search

	hasResult   bool
	resultLoc   domain.Location
	resultAt    time.Time
	invalidated bool

	emptyRetryUsed bool
	lastForced     time.Time

	awaitingLocation bool
	pendingForce     bool

	// deliverMu keeps sink calls of one key in generation order.
	deliverMu sync.Mutex
}

// Coordinator runs at most one background search per query key against a
// POI store. Searches for different keys run independently.
type Coordinator struct {
	store  ports.POIStore
	cfg    CoordinatorConfig
	clock  clockwork.Clock
	log    *slog.Logger
	tracer trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	keys   map[domain.QueryKey]*keyState
	closed bool
}

// NewCoordinator creates a coordinator over store.
func NewCoordinator(store ports.POIStore, cfg CoordinatorConfig) *Coordinator {
	if cfg.ForceCooldown <= 0 {
		cfg.ForceCooldown = DefaultForceCooldown
	}
	if cfg.PreemptTimeout <= 0 {
		cfg.PreemptTimeout = DefaultPreemptTimeout
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:  store,
		cfg:    cfg,
		clock:  cfg.Clock,
		log:    cfg.Logger.With("component", "proximity.coordinator"),
		tracer: otel.Tracer("github.com/samirrijal/nearby/internal/core/proximity"),
		ctx:    ctx,
		cancel: cancel,
		keys:   make(map[domain.QueryKey]*keyState),
	}
}

// Watch registers a key. Outcomes of its searches are passed to sink, one
// at a time and in generation order.
func (c *Coordinator) Watch(key domain.QueryKey, policy Policy, sink func(Outcome)) error {
	if policy.Limit <= 0 {
		policy.Limit = DefaultSearchLimit
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.keys[key]; ok {
		return fmt.Errorf("watch %s: %w", key, domain.ErrKeyInUse)
	}
	c.keys[key] = &keyState{policy: policy, sink: sink}
	return nil
}

// Forget cancels any search of key and drops its state.
func (c *Coordinator) Forget(key domain.QueryKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ks, ok := c.keys[key]
	if !ok {
		return
	}
	c.cancelLocked(ks)
	delete(c.keys, key)
}

// Refresh requests a search for key around loc.
//
// A nil loc is not an error: the request is remembered and the search runs
// on the next Refresh that carries a location. While a search is in flight a
// non-forced request returns the running handle; a forced one cancels it,
// waits at most PreemptTimeout for it to return and starts a new search.
// Forced requests within ForceCooldown of the previous one are dropped.
// Non-forced requests only start a search when the cached result is stale.
// Refresh returns nil when no search is running for the request.
func (c *Coordinator) Refresh(key domain.QueryKey, loc *domain.Location, force bool) *Search {
	c.mu.Lock()
	ks, ok := c.keys[key]
	if !ok || c.closed {
		c.mu.Unlock()
		return nil
	}

	if loc == nil {
		ks.awaitingLocation = true
		ks.pendingForce = ks.pendingForce || force
		c.mu.Unlock()
		metrics.SearchesSkipped.WithLabelValues("no_location").Inc()
		c.log.Debug("refresh deferred", "key", key.String(), "reason", domain.ErrNoLocationYet)
		return nil
	}

	now := c.clock.Now()
	due := false
	if ks.awaitingLocation {
		due = true
		force = force || ks.pendingForce
		ks.awaitingLocation, ks.pendingForce = false, false
	}

	if force {
		if !ks.lastForced.IsZero() && now.Sub(ks.lastForced) < c.cfg.ForceCooldown {
			if !due {
				c.mu.Unlock()
				metrics.SearchesSkipped.WithLabelValues("cooldown").Inc()
				return nil
			}
			force = false
		} else {
			ks.lastForced = now
		}
	}

	if ks.inflight != nil {
		if !force {
			s := ks.inflight
			c.mu.Unlock()
			metrics.SearchesSkipped.WithLabelValues("in_flight").Inc()
			return s
		}

		old := ks.inflight
		c.cancelLocked(ks)
		c.mu.Unlock()

		c.awaitPreempted(old)

		c.mu.Lock()
		if c.keys[key] != ks || c.closed {
			c.mu.Unlock()
			return nil
		}
		if ks.inflight != nil {
			s := ks.inflight
			c.mu.Unlock()
			return s
		}
	} else if !force && !due && !c.staleLocked(ks, *loc, now) {
		c.mu.Unlock()
		metrics.SearchesSkipped.WithLabelValues("fresh").Inc()
		return nil
	}

	s := c.startLocked(key, ks, *loc)
	c.mu.Unlock()
	return s
}

// Cancel stops the search of key, if any. Its result is never delivered.
// It returns the generation of key after the cancel; outcomes of earlier
// generations are stale.
func (c *Coordinator) Cancel(key domain.QueryKey) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ks, ok := c.keys[key]
	if !ok {
		return 0
	}
	c.cancelLocked(ks)
	ks.awaitingLocation, ks.pendingForce = false, false
	return ks.gen
}

// Invalidate marks the cached result of key stale.
func (c *Coordinator) Invalidate(key domain.QueryKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ks, ok := c.keys[key]; ok {
		ks.invalidated = true
	}
}

// InvalidateCategory marks every key of a category stale and returns them.
func (c *Coordinator) InvalidateCategory(category domain.Category) []domain.QueryKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []domain.QueryKey
	for key, ks := range c.keys {
		if key.Category == category {
			ks.invalidated = true
			keys = append(keys, key)
		}
	}
	return keys
}

// State returns the refresh state of key.
func (c *Coordinator) State(key domain.QueryKey) (domain.RefreshState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ks, ok := c.keys[key]
	if !ok {
		return domain.StateIdle, false
	}
	return ks.state, true
}

// Close cancels every search and waits for the tasks to return.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	for _, ks := range c.keys {
		c.cancelLocked(ks)
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *Coordinator) cancelLocked(ks *keyState) {
	ks.gen++
	if ks.inflight != nil {
		ks.inflight.cancel()
		ks.inflight = nil
		ks.state = domain.StateCancelled
	}
}

func (c *Coordinator) awaitPreempted(old *Search) {
	timer := c.clock.NewTimer(c.cfg.PreemptTimeout)
	defer timer.Stop()

	select {
	case <-old.done:
	case <-timer.Chan():
		c.log.Warn("abandoning preempted search",
			"key", old.key.String(),
			"generation", old.gen,
			"timeout", c.cfg.PreemptTimeout.String(),
		)
	}
}

func (c *Coordinator) staleLocked(ks *keyState, loc domain.Location, now time.Time) bool {
	switch {
	case !ks.hasResult, ks.invalidated:
		return true
	case ks.state == domain.StateError, ks.state == domain.StateCancelled:
		return true
	case ks.policy.TTL > 0 && now.Sub(ks.resultAt) > ks.policy.TTL:
		return true
	}
	moved := geospatial.Haversine(ks.resultLoc.Lat, ks.resultLoc.Lon, loc.Lat, loc.Lon)
	return moved > max(ks.policy.MinMove, loc.Accuracy)
}

func (c *Coordinator) startLocked(key domain.QueryKey, ks *keyState, loc domain.Location) *Search {
	ks.gen++
	ctx, cancel := context.WithCancel(c.ctx)
	s := &Search{
		key:    key,
		gen:    ks.gen,
		done:   make(chan struct{}),
		cancel: cancel,
	}
	ks.inflight = s
	ks.state = domain.StateSearching
	ks.invalidated = false

	metrics.SearchesStarted.WithLabelValues(string(key.Category)).Inc()
	c.log.Debug("search started", "key", key.String(), "generation", s.gen)

	c.wg.Add(1)
	go c.run(ctx, s, ks, loc)
	return s
}

func (c *Coordinator) run(ctx context.Context, s *Search, ks *keyState, loc domain.Location) {
	defer c.wg.Done()
	defer close(s.done)
	defer s.cancel()

	pois, retried, err := c.search(ctx, s, ks, loc)
	c.deliver(ctx, s, ks, loc, pois, retried, err)
}

func (c *Coordinator) search(ctx context.Context, s *Search, ks *keyState, loc domain.Location) ([]domain.POI, bool, error) {
	pois, err := c.find(ctx, s.key, loc, ks.policy.Limit)
	if err != nil || len(pois) > 0 || !c.claimEmptyRetry(ks) {
		return pois, false, err
	}

	metrics.EmptyFirstPageRetries.WithLabelValues(string(s.key.Category)).Inc()
	c.log.Debug("retrying search", "key", s.key.String(), "reason", domain.ErrEmptyFirstPage)

	pois, err = c.find(ctx, s.key, loc, ks.policy.Limit)
	return pois, true, err
}

// claimEmptyRetry grants the single cold-start retry of a key.
func (c *Coordinator) claimEmptyRetry(ks *keyState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ks.hasResult || ks.emptyRetryUsed {
		return false
	}
	ks.emptyRetryUsed = true
	return true
}

func (c *Coordinator) find(ctx context.Context, key domain.QueryKey, loc domain.Location, limit int) ([]domain.POI, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, telemetry.SpanFindNearby, trace.WithAttributes(
		telemetry.AttrQueryKey.String(key.String()),
		telemetry.AttrCategory.String(string(key.Category)),
		telemetry.AttrLimit.Int(limit),
	))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
	defer cancel()

	start := c.clock.Now()
	pois, err := c.store.FindNearby(callCtx, loc.Lat, loc.Lon, key, limit)
	metrics.StoreDuration.WithLabelValues(string(key.Category)).Observe(c.clock.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreFailure, err)
	}

	span.SetAttributes(telemetry.AttrResults.Int(len(pois)))
	return pois, nil
}

func (c *Coordinator) deliver(
	ctx context.Context,
	s *Search,
	ks *keyState,
	loc domain.Location,
	pois []domain.POI,
	retried bool,
	err error,
) {
	ks.deliverMu.Lock()
	defer ks.deliverMu.Unlock()

	category := string(s.key.Category)

	c.mu.Lock()
	if ks.inflight != s || ks.gen != s.gen || ctx.Err() != nil || errors.Is(err, context.Canceled) {
		if ks.inflight == s {
			ks.inflight = nil
			ks.state = domain.StateCancelled
		}
		c.mu.Unlock()
		metrics.SearchesFinished.WithLabelValues(category, "discarded").Inc()
		return
	}

	ks.inflight = nil
	out := Outcome{
		Key:        s.key,
		Generation: s.gen,
		Location:   loc,
		POIs:       pois,
		Err:        err,
		Retried:    retried,
		At:         c.clock.Now(),
	}

	switch {
	case err != nil:
		ks.state = domain.StateError
		metrics.SearchesFinished.WithLabelValues(category, "error").Inc()
		c.log.Warn("search failed", "key", s.key.String(), "error", err)
	default:
		ks.state = domain.StateIdle
		ks.hasResult = true
		ks.resultLoc = loc
		ks.resultAt = out.At
		outcome := "ok"
		if len(pois) == 0 {
			outcome = "empty"
		}
		metrics.SearchesFinished.WithLabelValues(category, outcome).Inc()
	}
	sink := ks.sink
	c.mu.Unlock()

	if sink != nil {
		sink(out)
	}
}
