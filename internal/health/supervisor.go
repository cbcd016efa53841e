package health

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/agentoven/registry-gateway/control-plane/internal/store"
	"github.com/agentoven/registry-gateway/control-plane/internal/telemetry"
	"github.com/agentoven/registry-gateway/control-plane/pkg/models"
)

// target is one probe target: an enabled registrable in some namespace.
type target struct {
	kind       models.EntityKind
	namespace  string
	path       string
	proxyURL   string
	transports []models.Transport
}

func (t target) key() string { return t.namespace + "/" + string(t.kind) + "/" + t.path }

// Supervisor is the component-G implementation, grounded in
// internal/catalog/catalog.go's ticker+stopCh background-refresh idiom,
// generalized from catalog's single polling loop to a concurrency-limited
// per-target prober with a state machine.
type Supervisor struct {
	cfg    Config
	store  store.Store
	client *http.Client
	sem    chan struct{}
	bus    *broadcaster

	mu       sync.RWMutex
	targets  map[string]target
	states   map[string]*targetState
	circuits map[string]*gobreaker.CircuitBreaker

	subID   string
	changes <-chan models.ChangeEvent
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New constructs the supervisor. Call Start to populate the initial target
// set and begin probing.
func New(cfg Config, st store.Store) *Supervisor {
	cfg = cfg.withDefaults()
	return &Supervisor{
		cfg:      cfg,
		store:    st,
		client:   &http.Client{Timeout: cfg.Timeout},
		sem:      make(chan struct{}, cfg.ConcurrencyLimit),
		bus:      newBroadcaster(),
		targets:  make(map[string]target),
		states:   make(map[string]*targetState),
		circuits: make(map[string]*gobreaker.CircuitBreaker),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start loads the initial target set for the given namespaces, subscribes
// to B's change-event bus to keep the target set current, and begins the
// probe loop.
func (s *Supervisor) Start(ctx context.Context, namespaces []string) error {
	for _, ns := range namespaces {
		for _, kind := range []models.EntityKind{models.EntityKindServer, models.EntityKindAgent} {
			regs, err := s.store.ListRegistrables(ctx, kind, ns, store.ListFilter{EnabledOnly: true})
			if err != nil {
				return fmt.Errorf("list targets ns=%s kind=%s: %w", ns, kind, err)
			}
			for _, reg := range regs {
				s.upsertTarget(toTarget(kind, ns, reg))
			}
		}
	}

	id, ch := s.store.Subscribe(256)
	s.subID = id
	s.changes = ch
	go s.consumeChanges(ctx)
	go s.run(ctx)
	log.Info().Strs("namespaces", namespaces).Int("targets", len(s.targets)).Msg("🩺 health supervisor started")
	return nil
}

// Close stops the probe loop and the change-event subscription. It does not
// close the underlying store.
func (s *Supervisor) Close() error {
	close(s.stopCh)
	<-s.doneCh
	s.store.Unsubscribe(s.subID)
	s.bus.closeAll()
	return nil
}

// Subscribe returns a bounded channel of health transitions for the admin
// live feed, served over gorilla/websocket by the API layer.
func (s *Supervisor) Subscribe(bufferSize int) (string, <-chan Event) {
	return s.bus.subscribe(bufferSize)
}

func (s *Supervisor) Unsubscribe(id string) { s.bus.unsubscribe(id) }

func toTarget(kind models.EntityKind, ns string, reg models.Registrable) target {
	t := target{kind: kind, namespace: ns, path: reg.GetPath()}
	switch v := reg.(type) {
	case *models.Server:
		t.proxyURL = v.ProxyURL
		t.transports = v.SupportedTransports
	case *models.Agent:
		t.proxyURL = v.ProxyURL
		t.transports = v.SupportedTransports
	}
	return t
}

func (s *Supervisor) upsertTarget(t target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets[t.key()] = t
	st, ok := s.states[t.key()]
	if !ok {
		s.states[t.key()] = newTargetState()
		return
	}
	// A target that comes back from Disabled (re-enabled, or re-registered
	// after deletion) re-enters the state machine at Unknown rather than
	// resuming whatever consecutive-failure count it had before.
	if st.snapshot().State == models.HealthDisabled {
		s.states[t.key()] = newTargetState()
	}
}

// removeTarget marks a target Disabled (per §4.G: "any state → Disabled
// when the target is removed or its entity's is_enabled=false") and drops
// it from future probing, but keeps the last known state around long enough
// to publish the Disabled transition.
func (s *Supervisor) removeTarget(key string, kind models.EntityKind, ns, path string) {
	s.mu.Lock()
	st, ok := s.states[key]
	delete(s.targets, key)
	s.mu.Unlock()
	if !ok {
		return
	}
	health := st.disable()
	s.publishAndPersist(context.Background(), kind, ns, path, health)
}

// consumeChanges keeps the target set in sync with B: new/re-enabled
// entities are added, deleted or disabled entities are retired.
func (s *Supervisor) consumeChanges(ctx context.Context) {
	for {
		select {
		case ev, ok := <-s.changes:
			if !ok {
				return
			}
			key := ev.Namespace + "/" + string(ev.Kind) + "/" + ev.Path
			switch ev.Op {
			case models.ChangeDeleted:
				s.removeTarget(key, ev.Kind, ev.Namespace, ev.Path)
			default:
				if ev.Snapshot == nil {
					continue
				}
				if !ev.Snapshot.IsEnabled() {
					s.removeTarget(key, ev.Kind, ev.Namespace, ev.Path)
					continue
				}
				s.upsertTarget(toTarget(ev.Kind, ev.Namespace, ev.Snapshot))
			}
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}

// run is the ticker+stopCh background loop, grounded in
// internal/catalog/catalog.go's refresh goroutine.
func (s *Supervisor) run(ctx context.Context) {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.probeAll(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// probeAll dispatches one probe per current target, staggered by a small
// random jitter so targets registered at the same tick don't all hit their
// upstream in the same instant, and bounded to cfg.ConcurrencyLimit probes
// in flight globally via the semaphore channel.
func (s *Supervisor) probeAll(ctx context.Context) {
	s.mu.RLock()
	snapshot := make([]target, 0, len(s.targets))
	for _, t := range s.targets {
		snapshot = append(snapshot, t)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, t := range snapshot {
		t := t
		wg.Add(1)
		go func() {
			defer wg.Done()
			if maxJitter := int64(s.cfg.Interval) / 4; maxJitter > 0 {
				select {
				case <-time.After(time.Duration(rand.Int63n(maxJitter))):
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}

			select {
			case s.sem <- struct{}{}:
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
			defer func() { <-s.sem }()

			s.probeOne(ctx, t)
		}()
	}
	wg.Wait()
}

func (s *Supervisor) circuitFor(key string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.circuits[key]; ok {
		return c
	}
	c := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "health-probe:" + key,
		MaxRequests: 1,
		Timeout:     s.cfg.Interval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	s.circuits[key] = c
	return c
}

func (s *Supervisor) probeOne(ctx context.Context, t target) {
	key := t.key()
	start := time.Now()

	circuit := s.circuitFor(key)
	_, probeErr := circuit.Execute(func() (any, error) {
		return nil, s.probe(ctx, t)
	})

	telemetry.ProbeDuration.WithLabelValues(string(primaryTransport(t.transports))).Observe(time.Since(start).Seconds())

	s.mu.Lock()
	st, ok := s.states[key]
	if !ok {
		st = newTargetState()
		s.states[key] = st
	}
	s.mu.Unlock()

	snapshot := st.transition(probeErr == nil, start, s.cfg)

	telemetry.ProbesTotal.WithLabelValues(string(snapshot.State)).Inc()
	s.publishAndPersist(ctx, t.kind, t.namespace, t.path, snapshot)
}

// publishAndPersist writes the new health subrecord back to B with a
// bounded retry, and always emits the transition on the live feed
// regardless of whether the write-back succeeded — admins watching the
// feed should see the transition in real time even if B is transiently
// unavailable.
func (s *Supervisor) publishAndPersist(ctx context.Context, kind models.EntityKind, ns, path string, h models.Health) {
	s.bus.publish(Event{Kind: kind, Namespace: ns, Path: path, Health: h})

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	err := backoff.Retry(func() error {
		return s.store.PutHealth(ctx, kind, ns, path, &h)
	}, bo)
	if err != nil {
		log.Warn().
			Err(err).
			Str("namespace", ns).
			Str("path", path).
			Msg("⚠️ dropped health write-back after exhausting retries")
	}
}
