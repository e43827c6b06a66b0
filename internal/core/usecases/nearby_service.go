package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/samirrijal/nearby/internal/core/domain"
	"github.com/samirrijal/nearby/internal/core/proximity"
	"github.com/samirrijal/nearby/internal/pkg/metrics"
)

// NearbyConfig tunes the engines the service creates. Policies are keyed
// by category; categories without an entry use Default.
type NearbyConfig struct {
	Coordinator          proximity.CoordinatorConfig
	Judge                proximity.RelevanceJudge
	Default              proximity.Policy
	Policies             map[domain.Category]proximity.Policy
	Compass              proximity.CompassConfig
	NotifyInterval       time.Duration
	FavoritePollInterval time.Duration
	Clock                clockwork.Clock
	Logger               *slog.Logger
}

func (c NearbyConfig) policy(category domain.Category) proximity.Policy {
	if p, ok := c.Policies[category]; ok {
		return p
	}
	return c.Default
}

// NearbyService hosts proximity engine sessions and answers one-shot
// nearby queries.
type NearbyService struct {
	pois      *POIService
	favorites *FavoriteService
	coord     *proximity.Coordinator
	cfg       NearbyConfig
	log       *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewNearbyService creates a new NearbyService. favorites may be nil.
func NewNearbyService(pois *POIService, favorites *FavoriteService, cfg NearbyConfig) *NearbyService {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Coordinator.Clock = cfg.Clock
	cfg.Coordinator.Logger = cfg.Logger

	return &NearbyService{
		pois:      pois,
		favorites: favorites,
		coord:     proximity.NewCoordinator(pois, cfg.Coordinator),
		cfg:       cfg,
		log:       cfg.Logger.With("component", "nearby"),
		sessions:  make(map[string]*Session),
	}
}

// Nearby runs a single ranked search around a point without a session.
func (s *NearbyService) Nearby(ctx context.Context, lat, lon float64, category domain.Category, scope string, limit int) (domain.SearchResult, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return domain.SearchResult{}, fmt.Errorf("%w: (%v, %v)", domain.ErrDegenerateLocation, lat, lon)
	}
	if limit <= 0 {
		limit = s.cfg.policy(category).Limit
	}
	if limit <= 0 {
		limit = proximity.DefaultSearchLimit
	}

	key := domain.QueryKey{Category: category, Scope: scope}
	pois, err := s.pois.FindNearby(ctx, lat, lon, key, limit)
	if err != nil {
		return domain.SearchResult{}, fmt.Errorf("%w: %w", domain.ErrStoreFailure, err)
	}

	loc := domain.Location{Lat: lat, Lon: lon, Time: s.cfg.Clock.Now()}
	ranked, closest := proximity.Rank(pois, loc)
	if ranked == nil {
		ranked = []domain.POI{}
	}
	return domain.SearchResult{
		Key:       key,
		State:     domain.StateIdle,
		POIs:      ranked,
		ClosestID: closest,
		Location:  &loc,
		UpdatedAt: loc.Time,
		HasResult: true,
	}, nil
}

// OpenSession starts a session whose engines report through onUpdate.
// userID may be empty for anonymous sessions, which get no favorites.
func (s *NearbyService) OpenSession(userID string, onUpdate func(domain.SearchResult)) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		ID:       uuid.NewString(),
		UserID:   userID,
		svc:      s,
		ctx:      ctx,
		cancel:   cancel,
		onUpdate: onUpdate,
		engines:  make(map[domain.QueryKey]*proximity.Engine),
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	metrics.ActiveSessions.Inc()

	s.log.Debug("session opened", "session", sess.ID, "user", userID)
	return sess
}

// Session returns an open session by id.
func (s *NearbyService) Session(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// ActiveSessions returns the number of open sessions.
func (s *NearbyService) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// InvalidateCategory drops cached results of a category and asks every
// engine watching it for a refresh.
func (s *NearbyService) InvalidateCategory(ctx context.Context, category domain.Category) error {
	if err := s.pois.Invalidate(ctx, category); err != nil {
		s.log.Warn("cache invalidation failed", "category", category, "error", err)
	}

	keys := s.coord.InvalidateCategory(category)
	for _, key := range keys {
		if e := s.engine(key); e != nil {
			e.Refresh(false)
		}
	}
	s.log.Info("category invalidated", "category", category, "keys", len(keys))
	return nil
}

// FavoritesChanged makes every session of userID re-read its favorites.
func (s *NearbyService) FavoritesChanged(_ context.Context, userID string) error {
	for _, sess := range s.sessionsOf(userID) {
		sess.each(func(e *proximity.Engine) { e.PollFavorites() })
	}
	return nil
}

// Close ends every session and stops the coordinator.
func (s *NearbyService) Close() {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
	s.coord.Close()
}

func (s *NearbyService) engine(key domain.QueryKey) *proximity.Engine {
	sess, ok := s.Session(key.Session)
	if !ok {
		return nil
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.engines[key]
}

func (s *NearbyService) sessionsOf(userID string) []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Session
	for _, sess := range s.sessions {
		if userID != "" && sess.UserID == userID {
			out = append(out, sess)
		}
	}
	return out
}

func (s *NearbyService) removeSession(id string) {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		metrics.ActiveSessions.Dec()
	}
}

// Session is one client connection. It runs an engine per watched query
// key and fans device events out to all of them. The last location,
// orientation and scroll state are replayed to engines watched later.
type Session struct {
	ID     string
	UserID string

	svc      *NearbyService
	ctx      context.Context
	cancel   context.CancelFunc
	onUpdate func(domain.SearchResult)
	wg       sync.WaitGroup

	mu          sync.Mutex
	engines     map[domain.QueryKey]*proximity.Engine
	loc         *domain.Location
	orientation float64
	scroll      domain.ScrollState
	closed      bool
}

// Watch starts an engine for a category and optional scope and returns
// its key.
func (s *Session) Watch(category domain.Category, scope string) (domain.QueryKey, error) {
	key := domain.QueryKey{Session: s.ID, Category: category, Scope: scope}
	cfg := s.svc.cfg

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return key, domain.ErrCancelled
	}
	if _, ok := s.engines[key]; ok {
		return key, fmt.Errorf("watch %s: %w", key, domain.ErrKeyInUse)
	}

	e, err := proximity.NewEngine(key, s.svc.coord, s.svc.favorites.ForUser(s.UserID), proximity.EngineConfig{
		Judge:                cfg.Judge,
		Policy:               cfg.policy(category),
		Compass:              cfg.Compass,
		NotifyInterval:       cfg.NotifyInterval,
		FavoritePollInterval: cfg.FavoritePollInterval,
		Clock:                cfg.Clock,
		Logger:               cfg.Logger,
	}, s.onUpdate)
	if err != nil {
		return key, err
	}
	s.engines[key] = e

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		e.Run(s.ctx)
	}()

	if s.scroll != domain.ScrollIdle {
		e.OnScrollStateChanged(s.scroll)
	}
	if s.loc != nil {
		e.OnLocationChanged(*s.loc)
	}
	if s.orientation != 0 {
		e.OnOrientationChanged(s.orientation)
	}
	return key, nil
}

// Unwatch stops the engine of key.
func (s *Session) Unwatch(key domain.QueryKey) error {
	s.mu.Lock()
	e, ok := s.engines[key]
	delete(s.engines, key)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unwatch %s: %w", key, domain.ErrUnknownKey)
	}
	e.Close()
	return nil
}

// Keys returns the watched query keys.
func (s *Session) Keys() []domain.QueryKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]domain.QueryKey, 0, len(s.engines))
	for k := range s.engines {
		keys = append(keys, k)
	}
	return keys
}

// OnLocationChanged offers a device fix to every engine. The fix is also
// replayed to engines watched later.
func (s *Session) OnLocationChanged(loc domain.Location) {
	s.mu.Lock()
	s.loc = &loc
	s.mu.Unlock()
	s.each(func(e *proximity.Engine) { e.OnLocationChanged(loc) })
}

// OnOrientationChanged passes a device azimuth, in degrees from magnetic
// north, to every engine and to engines watched later.
func (s *Session) OnOrientationChanged(degrees float64) {
	s.mu.Lock()
	s.orientation = degrees
	s.mu.Unlock()
	s.each(func(e *proximity.Engine) { e.OnOrientationChanged(degrees) })
}

// OnSensorSamples passes raw accelerometer and magnetometer vectors to
// every engine.
func (s *Session) OnSensorSamples(gravity, geomagnetic [3]float64) {
	s.each(func(e *proximity.Engine) { e.OnSensorSamples(gravity, geomagnetic) })
}

// OnScrollStateChanged records the list interaction state for current and
// later engines.
func (s *Session) OnScrollStateChanged(state domain.ScrollState) {
	s.mu.Lock()
	s.scroll = state
	s.mu.Unlock()
	s.each(func(e *proximity.Engine) { e.OnScrollStateChanged(state) })
}

// Refresh asks the engine of key for a search, or every engine when key
// is nil.
func (s *Session) Refresh(key *domain.QueryKey, force bool) error {
	return s.apply(key, func(e *proximity.Engine) { e.Refresh(force) })
}

// Cancel stops the running search of key, or of every engine when key is
// nil.
func (s *Session) Cancel(key *domain.QueryKey) error {
	return s.apply(key, func(e *proximity.Engine) { e.Cancel() })
}

// Snapshot returns the current result of key.
func (s *Session) Snapshot(ctx context.Context, key domain.QueryKey) (domain.SearchResult, error) {
	s.mu.Lock()
	e, ok := s.engines[key]
	s.mu.Unlock()
	if !ok {
		return domain.SearchResult{}, fmt.Errorf("snapshot %s: %w", key, domain.ErrUnknownKey)
	}
	return e.Snapshot(ctx)
}

// Close stops every engine of the session and waits for them to return.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.engines = make(map[domain.QueryKey]*proximity.Engine)
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.svc.removeSession(s.ID)
	s.svc.log.Debug("session closed", "session", s.ID)
}

func (s *Session) apply(key *domain.QueryKey, fn func(*proximity.Engine)) error {
	if key == nil {
		s.each(fn)
		return nil
	}
	s.mu.Lock()
	e, ok := s.engines[*key]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", key, domain.ErrUnknownKey)
	}
	fn(e)
	return nil
}

func (s *Session) each(fn func(*proximity.Engine)) {
	s.mu.Lock()
	engines := make([]*proximity.Engine, 0, len(s.engines))
	for _, e := range s.engines {
		engines = append(engines, e)
	}
	s.mu.Unlock()
	for _, e := range engines {
		fn(e)
	}
}

// IsClientError reports whether err was caused by the request rather than
// by the service.
func IsClientError(err error) bool {
	return errors.Is(err, domain.ErrKeyInUse) ||
		errors.Is(err, domain.ErrUnknownKey) ||
		errors.Is(err, domain.ErrDegenerateLocation)
}
