package provisioning

import (
	"context"
	"fmt"
	"net/netip"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/pvdd/internal/log"
	"github.com/zjrosen/pvdd/internal/metrics"
	"github.com/zjrosen/pvdd/internal/pubsub"
	"github.com/zjrosen/pvdd/internal/pvd"
	"github.com/zjrosen/pvdd/internal/tracing"
)

// Service mediates every change to a pvd.Registry made on behalf of files,
// the API, and the address monitor.
type Service struct {
	registry *pvd.Registry
	broker   *pubsub.Broker[ChangeEvent]
	store    Store
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	now      func() time.Time

	// mu serialises mutations so the registry, sources and store agree.
	mu      sync.Mutex
	sources map[pvd.Identity]string
	updated map[pvd.Identity]time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithStore persists snapshots to store.
func WithStore(store Store) Option {
	return func(s *Service) { s.store = store }
}

// WithMetrics records Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracer wraps operations in spans from tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// NewService creates a service over registry.
func NewService(registry *pvd.Registry, opts ...Option) *Service {
	s := &Service{
		registry: registry,
		broker:   pubsub.NewBroker[ChangeEvent](),
		tracer:   noop.NewTracerProvider().Tracer("noop"),
		now:      time.Now,
		sources:  make(map[pvd.Identity]string),
		updated:  make(map[pvd.Identity]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ pvd.AddressChangeHandler = (*Service)(nil)

// Subscribe streams change events until ctx is cancelled.
func (s *Service) Subscribe(ctx context.Context) <-chan pubsub.Event[ChangeEvent] {
	return s.broker.Subscribe(ctx)
}

// Close ends every subscription.
func (s *Service) Close() {
	s.broker.Close()
}

// Upsert creates an empty PvD named name unless it already exists.
func (s *Service) Upsert(ctx context.Context, name string) (Snapshot, bool, error) {
	id, err := NormalizeIdentity(name)
	if err != nil {
		return Snapshot{}, false, err
	}

	ctx, span := s.startSpan(ctx, "upsert", id)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, created, err := s.registry.Upsert(id)
	if err != nil {
		endSpan(span, err)
		return Snapshot{}, false, err
	}
	if !created {
		snap, _ := s.snapshotLocked(id)
		endSpan(span, nil)
		return snap, false, nil
	}

	s.sources[id] = SourceAPI
	snap := s.commitLocked(ctx, span, pubsub.CreatedEvent, id)
	log.Info(log.CatRegistry, "pvd created", "pvd", id)
	endSpan(span, nil)
	return snap, true, nil
}

// Apply makes the PvD match decl: its attributes are replaced in declaration
// order and its address associations set to decl.Addresses.
func (s *Service) Apply(ctx context.Context, decl Declaration) (Snapshot, bool, error) {
	id, err := decl.Validate()
	if err != nil {
		return Snapshot{}, false, err
	}
	source := decl.Source
	if source == "" {
		source = SourceAPI
	}

	start := time.Now()
	ctx, span := s.startSpan(ctx, "apply", id)
	defer span.End()
	span.SetAttributes(
		attribute.String(tracing.AttrPvDSource, source),
		attribute.Int(tracing.AttrAttributeCount, len(decl.Attributes)),
	)

	s.mu.Lock()
	defer s.mu.Unlock()

	snap, created, changed, err := s.applyLocked(ctx, span, id, decl, source)
	if err != nil {
		endSpan(span, err)
		return Snapshot{}, false, err
	}
	if changed {
		log.Info(log.CatRegistry, "pvd applied", "pvd", id, "source", source, "created", created,
			"attributes", len(snap.Attributes), "addresses", len(snap.Addresses))
	}
	s.observe("apply", start)
	endSpan(span, nil)
	return snap, created, nil
}

func (s *Service) applyLocked(ctx context.Context, span trace.Span, id pvd.Identity, decl Declaration, source string) (snap Snapshot, created, changed bool, err error) {
	if cur, ok := s.snapshotLocked(id); ok && cur.sameState(decl.Attributes, decl.Addresses, source) {
		return cur, false, false, nil
	}

	created, err = s.registry.Put(id, decl.Attributes, decl.Addresses)
	if err != nil {
		return Snapshot{}, false, false, err
	}

	s.sources[id] = source
	kind := pubsub.UpdatedEvent
	if created {
		kind = pubsub.CreatedEvent
	}
	return s.commitLocked(ctx, span, kind, id), created, true, nil
}

// SetAttribute sets key on an existing PvD.
func (s *Service) SetAttribute(ctx context.Context, name, key, value string) (Snapshot, error) {
	id, err := NormalizeIdentity(name)
	if err != nil {
		return Snapshot{}, err
	}

	ctx, span := s.startSpan(ctx, "set_attribute", id)
	defer span.End()
	span.SetAttributes(attribute.String(tracing.AttrAttributeKey, key))

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.registry.SetAttribute(id, key, value); err != nil {
		endSpan(span, err)
		return Snapshot{}, fmt.Errorf("set %q on %s: %w", key, id, err)
	}
	snap := s.commitLocked(ctx, span, pubsub.UpdatedEvent, id)
	log.Debug(log.CatRegistry, "attribute set", "pvd", id, "key", key)
	endSpan(span, nil)
	return snap, nil
}

// Patch sets and removes attributes of an existing PvD in one step. Either
// every change applies or none does. Removing an absent key is not an error.
func (s *Service) Patch(ctx context.Context, name string, set []pvd.Attribute, remove []string) (Snapshot, error) {
	id, err := NormalizeIdentity(name)
	if err != nil {
		return Snapshot{}, err
	}

	start := time.Now()
	ctx, span := s.startSpan(ctx, "patch", id)
	defer span.End()
	span.SetAttributes(attribute.Int(tracing.AttrAttributeCount, len(set)+len(remove)))

	s.mu.Lock()
	defer s.mu.Unlock()

	before, _ := s.snapshotLocked(id)
	err = s.registry.Update(id, func(rec *pvd.Record) error {
		for _, a := range set {
			if err := rec.SetAttribute(a.Key, a.Value); err != nil {
				return fmt.Errorf("set %q: %w", a.Key, err)
			}
		}
		for _, key := range remove {
			rec.RemoveAttribute(key)
		}
		return nil
	})
	if err != nil {
		endSpan(span, err)
		return Snapshot{}, fmt.Errorf("patch %s: %w", id, err)
	}

	snap, _ := s.snapshotLocked(id)
	if !slices.Equal(before.Attributes, snap.Attributes) {
		snap = s.commitLocked(ctx, span, pubsub.UpdatedEvent, id)
		log.Debug(log.CatRegistry, "attributes patched", "pvd", id, "set", len(set), "removed", len(remove))
	}
	s.observe("patch", start)
	endSpan(span, nil)
	return snap, nil
}

// RemoveAttribute deletes key from an existing PvD. It reports false, and
// publishes nothing, if the key was absent.
func (s *Service) RemoveAttribute(ctx context.Context, name, key string) (bool, error) {
	id, err := NormalizeIdentity(name)
	if err != nil {
		return false, err
	}

	ctx, span := s.startSpan(ctx, "remove_attribute", id)
	defer span.End()
	span.SetAttributes(attribute.String(tracing.AttrAttributeKey, key))

	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.registry.RemoveAttribute(id, key)
	if err != nil {
		endSpan(span, err)
		return false, fmt.Errorf("remove %q from %s: %w", key, id, err)
	}
	if removed {
		s.commitLocked(ctx, span, pubsub.UpdatedEvent, id)
		log.Debug(log.CatRegistry, "attribute removed", "pvd", id, "key", key)
	}
	endSpan(span, nil)
	return removed, nil
}

// Remove destroys a PvD. It reports false if the PvD did not exist.
func (s *Service) Remove(ctx context.Context, name string) (bool, error) {
	id, err := NormalizeIdentity(name)
	if err != nil {
		return false, err
	}

	ctx, span := s.startSpan(ctx, "remove", id)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.removeLocked(ctx, span, id, pubsub.DeletedEvent)
	if removed {
		log.Info(log.CatRegistry, "pvd removed", "pvd", id)
	}
	endSpan(span, nil)
	return removed, nil
}

// Associate binds addr to an existing PvD so that losing addr can evict it.
func (s *Service) Associate(ctx context.Context, name string, addr netip.Addr) (Snapshot, error) {
	id, err := NormalizeIdentity(name)
	if err != nil {
		return Snapshot{}, err
	}
	if !addr.IsValid() {
		return Snapshot{}, ErrInvalidAddress
	}
	addr = addr.Unmap()

	ctx, span := s.startSpan(ctx, "associate", id)
	defer span.End()
	span.SetAttributes(attribute.String(tracing.AttrAddress, addr.String()))

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.snapshotLocked(id)
	if !ok {
		endSpan(span, pvd.ErrNotFound)
		return Snapshot{}, fmt.Errorf("associate %s with %s: %w", addr, id, pvd.ErrNotFound)
	}
	if slices.Contains(cur.Addresses, addr) {
		endSpan(span, nil)
		return cur, nil
	}
	s.registry.Associate(id, addr)
	snap := s.commitLocked(ctx, span, pubsub.UpdatedEvent, id)
	log.Debug(log.CatRegistry, "address associated", "pvd", id, "address", addr)
	endSpan(span, nil)
	return snap, nil
}

// Dissociate unbinds addr from an existing PvD without evicting it. It
// reports false if addr was not associated.
func (s *Service) Dissociate(ctx context.Context, name string, addr netip.Addr) (bool, error) {
	id, err := NormalizeIdentity(name)
	if err != nil {
		return false, err
	}

	ctx, span := s.startSpan(ctx, "dissociate", id)
	defer span.End()
	span.SetAttributes(attribute.String(tracing.AttrAddress, addr.String()))

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.registry.Find(id); !ok {
		endSpan(span, pvd.ErrNotFound)
		return false, fmt.Errorf("dissociate %s from %s: %w", addr, id, pvd.ErrNotFound)
	}
	if !s.registry.Dissociate(id, addr) {
		endSpan(span, nil)
		return false, nil
	}
	s.commitLocked(ctx, span, pubsub.UpdatedEvent, id)
	log.Debug(log.CatRegistry, "address dissociated", "pvd", id, "address", addr)
	endSpan(span, nil)
	return true, nil
}

// Addresses returns the address liveness table.
func (s *Service) Addresses() []pvd.AddressState {
	return s.registry.Addresses()
}

// Address returns the liveness state of addr.
func (s *Service) Address(addr netip.Addr) (pvd.AddressState, bool) {
	return s.registry.Address(addr)
}

// Subscribers returns the number of active change event subscribers.
func (s *Service) Subscribers() int {
	return s.broker.SubscriberCount()
}

// Dropped returns how many change events were not delivered because a
// subscriber fell behind.
func (s *Service) Dropped() uint64 {
	return s.broker.Dropped()
}

// Find returns the current snapshot of a PvD.
func (s *Service) Find(name string) (Snapshot, bool, error) {
	id, err := NormalizeIdentity(name)
	if err != nil {
		return Snapshot{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshotLocked(id)
	return snap, ok, nil
}

// List returns every PvD in creation order.
func (s *Service) List() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.registry.Snapshot()
	out := make([]Snapshot, 0, len(entries))
	for _, e := range entries {
		out = append(out, s.decorateLocked(e.Identity, e.Attributes, e.Addresses))
	}
	return out
}

// OnAddressChange applies ev on behalf of the address monitor.
func (s *Service) OnAddressChange(ev pvd.AddressEvent) {
	s.HandleAddressEvent(context.Background(), ev)
}

// HandleAddressEvent applies ev to the registry and returns the PvDs it
// evicted. Evictions are persisted and published like removals.
func (s *Service) HandleAddressEvent(ctx context.Context, ev pvd.AddressEvent) []pvd.Identity {
	if !ev.Address.IsValid() {
		return nil
	}

	ctx, span := s.tracer.Start(ctx, tracing.SpanPrefixService+"address_event",
		trace.WithAttributes(
			attribute.String(tracing.AttrAddress, ev.Address.String()),
			attribute.Bool(tracing.AttrAddressAdded, ev.Added),
			attribute.Int(tracing.AttrInterfaceIndex, ev.InterfaceIndex),
		),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Removal may evict; keep what the bound PvDs looked like beforehand.
	var last map[pvd.Identity]Snapshot
	if !ev.Added {
		last = s.boundSnapshotsLocked(ev.Address.Unmap())
	}

	evicted := s.registry.ApplyAddressChange(ev)
	if s.metrics != nil {
		s.metrics.IncrementAddressEvent(ev.Added)
	}
	for _, id := range evicted {
		span.AddEvent(tracing.EventEvicted, trace.WithAttributes(attribute.String(tracing.AttrPvDID, id.String())))
		snap, ok := last[id]
		if !ok {
			snap = Snapshot{Identity: id, Source: s.sources[id]}
		}
		s.forgetLocked(ctx, span, id, pubsub.EvictedEvent, snap)
		log.Info(log.CatRegistry, "pvd evicted", "pvd", id, "address", ev.Address)
	}
	span.SetAttributes(attribute.Int(tracing.AttrEvictedCount, len(evicted)))
	endSpan(span, nil)
	return evicted
}

// Restore loads persisted snapshots into the registry without publishing.
// It returns the number of PvDs restored.
func (s *Service) Restore(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}

	ctx, span := s.tracer.Start(ctx, tracing.SpanPrefixService+"restore")
	defer span.End()

	snaps, err := s.store.List(ctx)
	if err != nil {
		endSpan(span, err)
		return 0, fmt.Errorf("loading persisted pvds: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	restored := 0
	for _, snap := range snaps {
		if _, err := s.registry.Put(snap.Identity, snap.Attributes, snap.Addresses); err != nil {
			log.Warn(log.CatRegistry, "skipping invalid persisted pvd", "pvd", snap.Identity, "error", err)
			continue
		}
		s.sources[snap.Identity] = snap.Source
		s.updated[snap.Identity] = snap.UpdatedAt
		restored++
	}
	s.setSizeLocked()
	log.Info(log.CatRegistry, "restored pvds", "count", restored)
	endSpan(span, nil)
	return restored, nil
}

// Reconcile applies every file declaration and removes file-declared PvDs
// that are no longer declared. PvDs created through the API are untouched.
func (s *Service) Reconcile(ctx context.Context, decls []Declaration) error {
	ctx, span := s.tracer.Start(ctx, tracing.SpanPrefixService+"reconcile")
	defer span.End()

	declared := make(map[pvd.Identity]struct{}, len(decls))
	for _, d := range decls {
		id, err := d.Validate()
		if err != nil {
			endSpan(span, err)
			return err
		}
		if _, dup := declared[id]; dup {
			err := fmt.Errorf("%w: %s", ErrDuplicateIdentity, id)
			endSpan(span, err)
			return err
		}
		declared[id] = struct{}{}
	}

	for _, d := range decls {
		if _, _, err := s.Apply(ctx, d); err != nil {
			endSpan(span, err)
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []pvd.Identity
	for id, source := range s.sources {
		if !IsFileSource(source) {
			continue
		}
		if _, ok := declared[id]; !ok {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		if s.removeLocked(ctx, span, id, pubsub.DeletedEvent) {
			log.Info(log.CatRegistry, "pvd no longer declared", "pvd", id)
		}
	}
	endSpan(span, nil)
	return nil
}

func (s *Service) removeLocked(ctx context.Context, span trace.Span, id pvd.Identity, kind pubsub.EventType) bool {
	snap, ok := s.snapshotLocked(id)
	if !ok {
		return false
	}
	s.registry.Remove(id)
	s.forgetLocked(ctx, span, id, kind, snap)
	return true
}

// forgetLocked finishes a removal the registry already performed.
func (s *Service) forgetLocked(ctx context.Context, span trace.Span, id pvd.Identity, kind pubsub.EventType, last Snapshot) {
	delete(s.sources, id)
	delete(s.updated, id)

	if s.store != nil {
		if err := s.store.Delete(ctx, id); err != nil {
			s.persistFailed(span, id, err)
		}
	}
	s.broker.Publish(kind, newChangeEvent(kind, last))
	if s.metrics != nil {
		if kind == pubsub.EvictedEvent {
			s.metrics.IncrementMutation(metrics.KindEvicted)
		} else {
			s.metrics.IncrementMutation(metrics.KindDeleted)
		}
	}
	s.setSizeLocked()
}

// commitLocked persists and publishes the current state of id.
func (s *Service) commitLocked(ctx context.Context, span trace.Span, kind pubsub.EventType, id pvd.Identity) Snapshot {
	s.updated[id] = s.now()
	snap, _ := s.snapshotLocked(id)

	if s.store != nil {
		if err := s.store.Save(ctx, snap); err != nil {
			s.persistFailed(span, id, err)
		} else {
			span.AddEvent(tracing.EventPersisted)
		}
	}
	s.broker.Publish(kind, newChangeEvent(kind, snap))
	span.AddEvent(tracing.EventPublished, trace.WithAttributes(attribute.String(tracing.AttrChangeKind, string(kind))))

	if s.metrics != nil {
		if kind == pubsub.CreatedEvent {
			s.metrics.IncrementMutation(metrics.KindCreated)
		} else {
			s.metrics.IncrementMutation(metrics.KindUpdated)
		}
	}
	s.setSizeLocked()
	return snap
}

// persistFailed records a store error. The in-memory change stands.
func (s *Service) persistFailed(span trace.Span, id pvd.Identity, err error) {
	log.ErrorErr(log.CatDB, "persisting pvd failed", err, "pvd", id)
	span.AddEvent(tracing.EventPersistFailed)
	span.RecordError(err)
	if s.metrics != nil {
		s.metrics.IncrementPersistFailure()
	}
}

func (s *Service) snapshotLocked(id pvd.Identity) (Snapshot, bool) {
	rec, ok := s.registry.Find(id)
	if !ok {
		return Snapshot{}, false
	}
	return s.decorateLocked(id, rec.Attributes(), s.registry.Associations(id)), true
}

// boundSnapshotsLocked returns the PvDs associated with addr.
func (s *Service) boundSnapshotsLocked(addr netip.Addr) map[pvd.Identity]Snapshot {
	var out map[pvd.Identity]Snapshot
	for _, e := range s.registry.Snapshot() {
		if !slices.Contains(e.Addresses, addr) {
			continue
		}
		if out == nil {
			out = make(map[pvd.Identity]Snapshot)
		}
		out[e.Identity] = s.decorateLocked(e.Identity, e.Attributes, e.Addresses)
	}
	return out
}

func (s *Service) decorateLocked(id pvd.Identity, attrs []pvd.Attribute, addrs []netip.Addr) Snapshot {
	snap := Snapshot{
		Identity:   id,
		Attributes: attrs,
		Source:     s.sources[id],
		UpdatedAt:  s.updated[id],
	}
	if len(addrs) > 0 {
		snap.Addresses = addrs
	}
	return snap
}

func (s *Service) setSizeLocked() {
	if s.metrics != nil {
		s.metrics.SetPvDs(s.registry.Len())
	}
}

func (s *Service) observe(op string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveOperation(op, start)
	}
}

func (s *Service) startSpan(ctx context.Context, op string, id pvd.Identity) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, tracing.SpanPrefixService+op,
		trace.WithAttributes(attribute.String(tracing.AttrPvDID, id.String())),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
