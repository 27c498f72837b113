package appointments

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ItsMoloy/Android-250/libs/apperr"
	"github.com/ItsMoloy/Android-250/libs/auth"
	"github.com/ItsMoloy/Android-250/libs/gateway"
	"github.com/ItsMoloy/Android-250/libs/lock"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/fanout"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/model"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/storage"
	"github.com/stretchr/testify/require"
)

// scriptedGateway answers each call from the matching func, or with a
// happy path default when the func is nil.
type scriptedGateway struct {
	mu sync.Mutex

	token   func(n int) (gateway.Token, error)
	create  func(n int) (gateway.Session, error)
	execute func(n int) (gateway.Execution, error)
	query   func(n int) (gateway.Execution, error)

	tokens, creates, executes, queries atomic.Int32
	lastAmount                         int64
	lastInvoice                        string
}

func (g *scriptedGateway) AcquireToken(context.Context) (gateway.Token, error) {
	n := int(g.tokens.Add(1))
	if g.token != nil {
		return g.token(n)
	}
	return gateway.Token{Value: "tok", ExpiresIn: 3600}, nil
}

func (g *scriptedGateway) CreateSession(_ context.Context, _ gateway.Token, amount int64, invoiceRef string) (gateway.Session, error) {
	n := int(g.creates.Add(1))
	g.mu.Lock()
	g.lastAmount, g.lastInvoice = amount, invoiceRef
	g.mu.Unlock()
	if g.create != nil {
		return g.create(n)
	}
	return gateway.Session{PaymentID: "PAY-" + string(rune('0'+n)), CheckoutURL: "https://pay.example.test/" + invoiceRef, Status: gateway.StatusInitiated}, nil
}

func (g *scriptedGateway) Execute(_ context.Context, _ gateway.Token, paymentID string) (gateway.Execution, error) {
	n := int(g.executes.Add(1))
	if g.execute != nil {
		return g.execute(n)
	}
	return gateway.Execution{PaymentID: paymentID, TransactionID: "TRX-1", Status: gateway.StatusCompleted}, nil
}

func (g *scriptedGateway) Query(_ context.Context, _ gateway.Token, paymentID string) (gateway.Execution, error) {
	n := int(g.queries.Add(1))
	if g.query != nil {
		return g.query(n)
	}
	return gateway.Execution{PaymentID: paymentID, Status: gateway.StatusInitiated}, nil
}

var (
	patient = auth.Principal{ID: "p1", Role: auth.RolePatient, Name: "Ayesha", Email: "ayesha@example.test"}
	doctor  = auth.Principal{ID: "d1", Role: auth.RoleDoctor, Name: "Karim"}
	admin   = auth.Principal{ID: "admin-1", Role: auth.RoleAdmin, Name: "Front Desk"}
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type harness struct {
	svc   *Service
	store *storage.MemoryStore
	gw    *scriptedGateway
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithLocker(t, lock.NewLocal())
}

func newHarnessWithLocker(t *testing.T, locks lock.Locker) *harness {
	t.Helper()
	store := storage.NewMemoryStore(nil)
	gw := &scriptedGateway{}
	svc := NewService(store, gw, locks, fanout.New(store, quietLogger()), nil, quietLogger(), Config{
		GatewayTimeout: time.Second,
		RetryAttempts:  3,
		RetryInitial:   time.Millisecond,
		RetryMax:       5 * time.Millisecond,
	})
	return &harness{svc: svc, store: store, gw: gw}
}

func (h *harness) book(t *testing.T, fee int64) model.Appointment {
	t.Helper()
	appt, err := h.svc.Create(context.Background(), patient, BookingRequest{
		DoctorID:   "d1",
		DoctorName: "Karim",
		Date:       "2025-04-01",
		Time:       "09:00",
		FeeAmount:  fee,
	})
	require.NoError(t, err)
	return appt
}

func (h *harness) notifications(t *testing.T, event string) []model.Notification {
	t.Helper()
	all, err := h.store.ListNotifications(context.Background(), model.NotificationFilter{})
	require.NoError(t, err)
	var out []model.Notification
	for _, n := range all {
		if n.Event == event {
			out = append(out, n)
		}
	}
	return out
}

func requireCode(t *testing.T, err error, code apperr.Code) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, apperr.CodeOf(err), "err: %v", err)
}

// staleStore applies a competing write just before the next update, so
// the caller's read is stale by the time it writes.
type staleStore struct {
	*storage.MemoryStore
	once sync.Once
}

func (s *staleStore) UpdateAppointment(ctx context.Context, a *model.Appointment, expected int64) error {
	s.once.Do(func() {
		cur, err := s.MemoryStore.GetAppointment(ctx, a.ID)
		if err == nil {
			cur.CancelReason = "edited elsewhere"
			_ = s.MemoryStore.UpdateAppointment(ctx, &cur, cur.Version)
		}
	})
	return s.MemoryStore.UpdateAppointment(ctx, a, expected)
}

// lapsedLocker hands out leases that report themselves lost, as after a
// lease expired while its holder was busy.
type lapsedLocker struct{ *lock.Local }

func (l lapsedLocker) Acquire(ctx context.Context, key string) (lock.Lease, error) {
	lease, err := l.Local.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	return lapsedLease{lease}, nil
}

type lapsedLease struct{ lock.Lease }

func (lapsedLease) Held(context.Context) error { return lock.ErrLeaseLost }

// failingNotes fails every notification addressed to one recipient type.
type failingNotes struct {
	*storage.MemoryStore
	failFor model.RecipientType
}

func (f *failingNotes) CreateNotification(ctx context.Context, n *model.Notification) error {
	if n.RecipientType == f.failFor {
		return errors.New("notification store unavailable")
	}
	return f.MemoryStore.CreateNotification(ctx, n)
}
