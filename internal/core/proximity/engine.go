package proximity

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/samirrijal/nearby/internal/core/domain"
	"github.com/samirrijal/nearby/internal/core/ports"
	"github.com/samirrijal/nearby/internal/pkg/geospatial"
)

// DefaultFavoritePollInterval is how often favorites are re-read.
const DefaultFavoritePollInterval = 30 * time.Second

// EngineConfig tunes one engine. Zero fields take defaults.
type EngineConfig struct {
	Judge                RelevanceJudge
	Policy               Policy
	Compass              CompassConfig
	NotifyInterval       time.Duration
	FavoritePollInterval time.Duration
	Clock                clockwork.Clock
	Logger               *slog.Logger
}

// Engine is the proximity refresh engine of one query key. It owns the
// location, ranked list, favorites and compass state of the key; all of it
// is mutated only by the Run loop. Public methods post events to the loop
// and are safe to call from any goroutine.
type Engine struct {
	key       domain.QueryKey
	coord     *Coordinator
	favorites ports.FavoriteStore
	onUpdate  func(domain.SearchResult)
	cfg       EngineConfig
	clock     clockwork.Clock
	log       *slog.Logger

	events    chan func()
	quit      chan struct{}
	closeOnce sync.Once

	// cancels counts Cancel calls. Queued requests that were posted before
	// a Cancel do not start a search.
	cancels atomic.Uint64

	// Loop-owned state.
	ctx          context.Context
	judge        RelevanceJudge
	compass      *CompassUpdater
	throttle     *NotifyThrottle
	loc          *domain.Location
	resultLoc    *domain.Location
	pois         []domain.POI
	closestID    string
	favs         domain.FavoriteSet
	state        domain.RefreshState
	lastErr      error
	updatedAt    time.Time
	appliedGen   uint64
	orientation  float64
	compassState CompassState
	scroll       domain.ScrollState
	polling      bool
}

// NewEngine registers key with the coordinator and returns an engine that
// reports every visible change through onUpdate. favorites may be nil.
// Call Run to start processing events.
func NewEngine(
	key domain.QueryKey,
	coord *Coordinator,
	favorites ports.FavoriteStore,
	cfg EngineConfig,
	onUpdate func(domain.SearchResult),
) (*Engine, error) {
	if cfg.Judge == (RelevanceJudge{}) {
		cfg.Judge = DefaultRelevanceJudge()
	}
	if cfg.FavoritePollInterval <= 0 {
		cfg.FavoritePollInterval = DefaultFavoritePollInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if onUpdate == nil {
		onUpdate = func(domain.SearchResult) {}
	}

	e := &Engine{
		key:       key,
		coord:     coord,
		favorites: favorites,
		onUpdate:  onUpdate,
		cfg:       cfg,
		clock:     cfg.Clock,
		log:       cfg.Logger.With("key", key.String()),
		events:    make(chan func(), 64),
		quit:      make(chan struct{}),
		judge:     cfg.Judge,
		compass:   NewCompassUpdater(cfg.Compass),
		throttle:  NewNotifyThrottle(cfg.Clock, cfg.NotifyInterval),
		favs:      domain.FavoriteSet{},
	}

	sink := func(o Outcome) {
		e.post(func() { e.applyOutcome(o) })
	}
	if err := coord.Watch(key, cfg.Policy, sink); err != nil {
		return nil, err
	}
	return e, nil
}

// Key returns the query key of the engine.
func (e *Engine) Key() domain.QueryKey { return e.key }

// Run processes events until ctx is done or Close is called. Favorites are
// polled once on start and then on every poll interval; a poll still running
// when Run returns is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer e.Close()
	e.ctx = ctx

	var pollC <-chan time.Time
	if e.favorites != nil {
		ticker := e.clock.NewTicker(e.cfg.FavoritePollInterval)
		defer ticker.Stop()
		pollC = ticker.Chan()
		e.pollFavorites(ctx)
	}

	for {
		select {
		case fn := <-e.events:
			fn()
		case <-pollC:
			e.pollFavorites(ctx)
		case <-ctx.Done():
			return
		case <-e.quit:
			return
		}
	}
}

// Close stops the loop and releases the key in the coordinator, cancelling
// any running search.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.quit)
		e.coord.Forget(e.key)
	})
}

// OnLocationChanged offers a new device fix. Fixes that are not more
// relevant than the current one are ignored. An accepted fix re-ranks the
// current list and asks for a refresh when the cached result is stale.
func (e *Engine) OnLocationChanged(loc domain.Location) {
	epoch := e.cancels.Load()
	e.post(func() {
		if !e.judge.IsMoreRelevant(e.loc, loc) {
			return
		}
		e.loc = &loc
		if len(e.pois) > 0 {
			e.pois, e.closestID = Rank(e.pois, loc)
			e.rotate()
			e.notify(false)
		}
		e.startRefresh(epoch, false)
	})
}

// OnOrientationChanged offers a device azimuth in degrees from magnetic north.
func (e *Engine) OnOrientationChanged(degrees float64) {
	e.post(func() {
		e.orientation = degrees
		applied, st := e.compass.Update(e.pois, e.loc, degrees, e.clock.Now(), e.scroll, e.compassState)
		if !applied {
			return
		}
		e.compassState = st
		e.notify(false)
	})
}

// OnSensorSamples fuses raw accelerometer and magnetometer vectors into an
// azimuth. Samples that cannot define a rotation are dropped.
func (e *Engine) OnSensorSamples(gravity, geomagnetic [3]float64) {
	deg, err := geospatial.Azimuth(gravity, geomagnetic)
	if err != nil {
		return
	}
	e.OnOrientationChanged(deg)
}

// OnScrollStateChanged records the consumer list interaction state.
func (e *Engine) OnScrollStateChanged(state domain.ScrollState) {
	e.post(func() {
		e.scroll = state
		e.throttle.SetScrolling(state != domain.ScrollIdle)
	})
}

// OnFavoritesPolled overlays a polled favorites set. Only a changed set
// triggers a notification.
func (e *Engine) OnFavoritesPolled(set domain.FavoriteSet) {
	e.post(func() {
		if MergeFavorites(&e.favs, set, e.pois) {
			e.notify(true)
		}
	})
}

// PollFavorites reads the favorite store now instead of waiting for the
// next tick.
func (e *Engine) PollFavorites() {
	e.post(func() { e.pollFavorites(e.ctx) })
}

// Refresh asks for a search. Without a location the request waits for the
// first fix.
func (e *Engine) Refresh(force bool) {
	epoch := e.cancels.Load()
	e.post(func() { e.startRefresh(epoch, force) })
}

// Cancel stops the running search and any refresh requested before it;
// their results will not be shown.
func (e *Engine) Cancel() {
	e.cancels.Add(1)
	e.post(func() {
		if gen := e.coord.Cancel(e.key); gen > e.appliedGen {
			e.appliedGen = gen
		}
		if e.state == domain.StateSearching {
			e.state = domain.StateCancelled
		}
	})
}

// Snapshot returns the current result as the loop sees it.
func (e *Engine) Snapshot(ctx context.Context) (domain.SearchResult, error) {
	ch := make(chan domain.SearchResult, 1)
	e.post(func() { ch <- e.snapshot() })
	select {
	case r := <-ch:
		return r, nil
	case <-e.quit:
		return domain.SearchResult{}, domain.ErrCancelled
	case <-ctx.Done():
		return domain.SearchResult{}, ctx.Err()
	}
}

func (e *Engine) post(fn func()) {
	select {
	case e.events <- fn:
	case <-e.quit:
	}
}

func (e *Engine) startRefresh(epoch uint64, force bool) {
	if e.cancels.Load() != epoch {
		return
	}
	if s := e.coord.Refresh(e.key, e.loc, force); s != nil && s.Generation() > e.appliedGen {
		e.state = domain.StateSearching
	}
}

func (e *Engine) applyOutcome(o Outcome) {
	if o.Generation <= e.appliedGen {
		return
	}
	e.appliedGen = o.Generation

	if o.Err != nil {
		e.state = domain.StateError
		e.lastErr = o.Err
		e.notify(true)
		return
	}

	rankAt := o.Location
	if e.loc != nil {
		rankAt = *e.loc
	}
	ranked, closest := Rank(o.POIs, rankAt)
	ApplyFavorites(e.favs, ranked)

	resultLoc := o.Location
	e.pois, e.closestID = ranked, closest
	e.resultLoc = &resultLoc
	e.updatedAt = o.At
	e.state = domain.StateIdle
	e.lastErr = nil
	e.rotate()
	e.notify(true)
}

func (e *Engine) rotate() {
	if e.orientation == 0 || e.loc == nil || len(e.pois) == 0 {
		return
	}
	if err := e.compass.Rotate(e.pois, *e.loc, e.orientation); err != nil {
		e.log.Debug("compass unavailable", "error", err)
	}
}

func (e *Engine) pollFavorites(ctx context.Context) {
	if e.favorites == nil || e.polling {
		return
	}
	e.polling = true
	go func() {
		set, err := e.favorites.ListFavorites(ctx, e.key.Category)
		e.post(func() {
			e.polling = false
			if err != nil {
				e.log.Warn("favorites poll failed", "error", err)
				return
			}
			if MergeFavorites(&e.favs, set, e.pois) {
				e.notify(true)
			}
		})
	}()
}

func (e *Engine) notify(force bool) {
	if e.throttle.Notify(force) {
		e.onUpdate(e.snapshot())
	}
}

func (e *Engine) snapshot() domain.SearchResult {
	r := domain.SearchResult{
		Key:       e.key,
		State:     e.state,
		POIs:      slices.Clone(e.pois),
		ClosestID: e.closestID,
		UpdatedAt: e.updatedAt,
		HasResult: e.resultLoc != nil,
		Err:       e.lastErr,
	}
	if r.POIs == nil {
		r.POIs = []domain.POI{}
	}
	if e.resultLoc != nil {
		loc := *e.resultLoc
		r.Location = &loc
	}
	if e.lastErr != nil {
		r.Error = e.lastErr.Error()
	}
	return r
}
