// Package dashboard keeps live, role scoped projections of the appointment
// store: the appointments a principal may see, counts per status, and their
// unread notifications. It never writes.
package dashboard

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/ItsMoloy/Android-250/libs/apperr"
	"github.com/ItsMoloy/Android-250/libs/auth"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/feed"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/metrics"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/model"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/storage"
)

const (
	defaultAdminLimit        = 50
	defaultNotificationLimit = 20
)

type Loader interface {
	ListAppointments(ctx context.Context, f model.AppointmentFilter) ([]model.Appointment, error)
	ListNotifications(ctx context.Context, f model.NotificationFilter) ([]model.Notification, error)
}

// Counts holds "total" plus one entry per appointment status.
type Counts map[string]int

type View struct {
	Appointments  []model.Appointment  `json:"appointments"`
	Counts        Counts               `json:"counts"`
	Notifications []model.Notification `json:"notifications"`
	// Seq increases with every view pushed on one subscription.
	Seq uint64 `json:"seq"`
}

type Options struct {
	// AdminLimit caps how many of the latest appointments an admin view
	// holds.
	AdminLimit        int
	NotificationLimit int
}

type Manager struct {
	hub     *feed.Hub
	store   Loader
	logger  *slog.Logger
	metrics *metrics.Metrics
	opts    Options
}

func NewManager(hub *feed.Hub, store Loader, logger *slog.Logger, m *metrics.Metrics, opts Options) *Manager {
	if opts.AdminLimit <= 0 {
		opts.AdminLimit = defaultAdminLimit
	}
	if opts.NotificationLimit <= 0 {
		opts.NotificationLimit = defaultNotificationLimit
	}
	return &Manager{hub: hub, store: store, logger: logger, metrics: m, opts: opts}
}

// Snapshot loads a one-off view without subscribing.
func (m *Manager) Snapshot(ctx context.Context, p auth.Principal) (View, error) {
	if p.ID == "" || !p.Role.Valid() {
		return View{}, apperr.New(apperr.Unauthenticated, "missing or invalid identity")
	}
	st := m.newState(p)
	if err := st.load(ctx, m.store); err != nil {
		return View{}, err
	}
	return st.view(), nil
}

// Subscribe registers on the change feed, loads the initial view and keeps
// it current until ctx ends or Close is called. The first view is available
// on Views as soon as Subscribe returns.
func (m *Manager) Subscribe(ctx context.Context, p auth.Principal) (*Subscription, error) {
	if p.ID == "" || !p.Role.Valid() {
		return nil, apperr.New(apperr.Unauthenticated, "missing or invalid identity")
	}
	st := m.newState(p)

	// Register before loading so nothing committed in between is missed.
	feedSub := m.hub.Subscribe(st.scope.Includes, 0)
	if err := st.load(ctx, m.store); err != nil {
		feedSub.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		views:  make(chan View, 1),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	m.metrics.SubscriptionOpened()
	m.logger.Debug("dashboard subscribed", "principal_id", p.ID, "role", p.Role)

	s.push(st.view())
	go m.run(ctx, s, feedSub, st, p)
	return s, nil
}

func (m *Manager) run(ctx context.Context, s *Subscription, feedSub *feed.Subscription, st *state, p auth.Principal) {
	defer func() {
		feedSub.Close()
		m.metrics.SubscriptionClosed()
		m.logger.Debug("dashboard unsubscribed", "principal_id", p.ID)
		close(s.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-feedSub.Events():
			if st.apply(c) {
				s.push(st.view())
			}
		case <-feedSub.Resync():
			if err := st.load(ctx, m.store); err != nil {
				if ctx.Err() != nil {
					return
				}
				m.logger.Warn("dashboard resync failed", "principal_id", p.ID, "err", err)
				continue
			}
			s.push(st.view())
		}
	}
}

type Subscription struct {
	views  chan View
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	seq    uint64
}

// Views delivers the latest view. A slow reader skips intermediate views.
func (s *Subscription) Views() <-chan View { return s.views }

// Done is closed once the subscription has been torn down.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close stops the subscription and waits for it to deregister. Calling it
// more than once is harmless.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
	<-s.done
}

// push is only called from the owning goroutine.
func (s *Subscription) push(v View) {
	s.seq++
	v.Seq = s.seq
	select {
	case s.views <- v:
		return
	default:
	}
	select {
	case <-s.views:
	default:
	}
	s.views <- v
}

type state struct {
	principal         auth.Principal
	scope             model.Scope
	adminLimit        int
	notificationLimit int
	appointments      map[string]model.Appointment
	notifications     map[string]model.Notification
}

func (m *Manager) newState(p auth.Principal) *state {
	return &state{
		principal:         p,
		scope:             model.ScopeFor(p),
		adminLimit:        m.opts.AdminLimit,
		notificationLimit: m.opts.NotificationLimit,
	}
}

func (st *state) load(ctx context.Context, store Loader) error {
	af := st.scope.Appointments
	if st.principal.Role == auth.RoleAdmin {
		af.Latest = true
		af.Limit = st.adminLimit
	}
	appts, err := store.ListAppointments(ctx, af)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "load appointments", err)
	}
	nf := st.scope.Notifications
	nf.UnreadOnly = true
	nf.Limit = st.notificationLimit
	notes, err := store.ListNotifications(ctx, nf)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "load notifications", err)
	}

	st.appointments = make(map[string]model.Appointment, len(appts))
	for _, a := range appts {
		st.appointments[a.ID] = a
	}
	st.notifications = make(map[string]model.Notification, len(notes))
	for _, n := range notes {
		st.notifications[n.ID] = n
	}
	return nil
}

// apply folds one change into the state and reports whether the view
// changed.
func (st *state) apply(c model.Change) bool {
	switch {
	case c.Appointment != nil:
		a := *c.Appointment
		if cur, ok := st.appointments[a.ID]; ok && cur.Version >= a.Version {
			return false
		}
		st.appointments[a.ID] = a
		if st.principal.Role == auth.RoleAdmin {
			st.trimAdmin()
		}
		return true
	case c.Notification != nil:
		n := *c.Notification
		if n.Read {
			if _, ok := st.notifications[n.ID]; !ok {
				return false
			}
			delete(st.notifications, n.ID)
			return true
		}
		if _, ok := st.notifications[n.ID]; ok {
			return false
		}
		st.notifications[n.ID] = n
		return true
	}
	return false
}

func (st *state) trimAdmin() {
	if len(st.appointments) <= st.adminLimit {
		return
	}
	all := make([]model.Appointment, 0, len(st.appointments))
	for _, a := range st.appointments {
		all = append(all, a)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	for _, a := range all[st.adminLimit:] {
		delete(st.appointments, a.ID)
	}
}

func (st *state) view() View {
	appts := make([]model.Appointment, 0, len(st.appointments))
	counts := Counts{"total": 0}
	for _, s := range model.Statuses {
		counts[string(s)] = 0
	}
	for _, a := range st.appointments {
		appts = append(appts, a)
		counts["total"]++
		counts[string(a.Status)]++
	}
	storage.SortBySlot(appts)

	notes := make([]model.Notification, 0, len(st.notifications))
	for _, n := range st.notifications {
		notes = append(notes, n)
	}
	sort.Slice(notes, func(i, j int) bool {
		if notes[i].CreatedAt.Equal(notes[j].CreatedAt) {
			return notes[i].ID > notes[j].ID
		}
		return notes[i].CreatedAt.After(notes[j].CreatedAt)
	})
	if len(notes) > st.notificationLimit {
		notes = notes[:st.notificationLimit]
	}
	return View{Appointments: appts, Counts: counts, Notifications: notes}
}
