package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ItsMoloy/Android-250/libs/db"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/model"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/outbox"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresStore persists to Postgres. Every write records its change in the
// outbox within the same transaction.
type PostgresStore struct {
	db     db.DBTX
	outbox *outbox.Repository
}

func NewPostgresStore(conn db.DBTX, ob *outbox.Repository) *PostgresStore {
	return &PostgresStore{db: conn, outbox: ob}
}

const appointmentColumns = `id::text, patient_id, patient_name, patient_email, doctor_id, doctor_name,
	slot_date, slot_time, status, payment_status, fee_amount, COALESCE(payment_id, ''), checkout_url,
	payment_trx_id, payment_execute_attempted, cancel_reason, version, created_at, updated_at`

const notificationColumns = `id::text, COALESCE(recipient_id, ''), recipient_type, title, message,
	appointment_id::text, event, read, created_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.PatientName, &a.PatientEmail, &a.DoctorID, &a.DoctorName,
		&a.Date, &a.Time, &a.Status, &a.PaymentStatus, &a.FeeAmount, &a.PaymentID, &a.CheckoutURL,
		&a.PaymentTrxID, &a.PaymentExecuteAttempted, &a.CancelReason, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func scanNotification(row pgx.Row) (model.Notification, error) {
	var n model.Notification
	err := row.Scan(&n.ID, &n.RecipientID, &n.RecipientType, &n.Title, &n.Message,
		&n.AppointmentID, &n.Event, &n.Read, &n.CreatedAt)
	return n, err
}

func (s *PostgresStore) CreateAppointment(ctx context.Context, a *model.Appointment) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO appointments
				(patient_id, patient_name, patient_email, doctor_id, doctor_name, slot_date, slot_time,
				 status, payment_status, fee_amount, cancel_reason)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id::text, version, created_at, updated_at
		`, a.PatientID, a.PatientName, a.PatientEmail, a.DoctorID, a.DoctorName, a.Date, a.Time,
			a.Status, a.PaymentStatus, a.FeeAmount, a.CancelReason).Scan(&a.ID, &a.Version, &a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return err
		}
		return s.record(ctx, tx, model.AppointmentChanged(*a))
	})
}

func (s *PostgresStore) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	a, err := scanAppointment(s.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
	if err != nil {
		return model.Appointment{}, mapErr(err)
	}
	return a, nil
}

func (s *PostgresStore) UpdateAppointment(ctx context.Context, a *model.Appointment, expectedVersion int64) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE appointments SET
				slot_date = $3,
				slot_time = $4,
				status = $5,
				payment_status = $6,
				fee_amount = $7,
				payment_id = NULLIF($8, ''),
				checkout_url = $9,
				payment_trx_id = $10,
				payment_execute_attempted = $11,
				cancel_reason = $12,
				version = version + 1,
				updated_at = GREATEST(now(), updated_at + interval '1 microsecond')
			WHERE id = $1 AND version = $2
			RETURNING version, created_at, updated_at
		`, a.ID, expectedVersion, a.Date, a.Time, a.Status, a.PaymentStatus, a.FeeAmount, a.PaymentID,
			a.CheckoutURL, a.PaymentTrxID, a.PaymentExecuteAttempted, a.CancelReason).Scan(&a.Version, &a.CreatedAt, &a.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, a.ID).Scan(&exists); err != nil {
				return mapErr(err)
			}
			if !exists {
				return ErrNotFound
			}
			return ErrVersionConflict
		}
		if err != nil {
			return mapErr(err)
		}
		return s.record(ctx, tx, model.AppointmentChanged(*a))
	})
}

func (s *PostgresStore) ListAppointments(ctx context.Context, f model.AppointmentFilter) ([]model.Appointment, error) {
	var (
		where []string
		args  []any
	)
	if f.DoctorID != "" {
		args = append(args, f.DoctorID)
		where = append(where, fmt.Sprintf("doctor_id = $%d", len(args)))
	}
	if f.PatientID != "" {
		args = append(args, f.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			statuses = append(statuses, string(st))
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	q := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	if f.Latest {
		q += ` ORDER BY created_at DESC, id`
	} else {
		q += ` ORDER BY slot_date, slot_time, id`
	}
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return s.queryAppointments(ctx, q, args...)
}

func (s *PostgresStore) ListAwaitingReconciliation(ctx context.Context, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryAppointments(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE payment_status = $1 AND payment_execute_attempted AND payment_id IS NOT NULL
		ORDER BY updated_at
		LIMIT $2
	`, model.PaymentAwaiting, limit)
}

func (s *PostgresStore) queryAppointments(ctx context.Context, q string, args ...any) ([]model.Appointment, error) {
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateNotification(ctx context.Context, n *model.Notification) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO notifications (recipient_id, recipient_type, title, message, appointment_id, event)
			VALUES (NULLIF($1, ''), $2, $3, $4, $5, $6)
			RETURNING id::text, read, created_at
		`, n.RecipientID, n.RecipientType, n.Title, n.Message, n.AppointmentID, n.Event).Scan(&n.ID, &n.Read, &n.CreatedAt)
		if err != nil {
			return err
		}
		return s.record(ctx, tx, model.NotificationChanged(*n))
	})
}

func (s *PostgresStore) GetNotification(ctx context.Context, id string) (model.Notification, error) {
	n, err := scanNotification(s.db.QueryRow(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id))
	if err != nil {
		return model.Notification{}, mapErr(err)
	}
	return n, nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, f model.NotificationFilter) ([]model.Notification, error) {
	var (
		where []string
		args  []any
	)
	if f.RecipientType != "" {
		args = append(args, f.RecipientType)
		where = append(where, fmt.Sprintf("recipient_type = $%d", len(args)))
	}
	if f.RecipientID != "" {
		args = append(args, f.RecipientID)
		where = append(where, fmt.Sprintf("recipient_id = $%d", len(args)))
	}
	if f.UnreadOnly {
		where = append(where, "NOT read")
	}
	q := `SELECT ` + notificationColumns + ` FROM notifications`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, id string) (model.Notification, error) {
	var out model.Notification
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		n, err := scanNotification(tx.QueryRow(ctx, `
			UPDATE notifications SET read = true
			WHERE id = $1 AND NOT read
			RETURNING `+notificationColumns, id))
		if errors.Is(err, pgx.ErrNoRows) {
			// Already read, or missing.
			n, err = scanNotification(tx.QueryRow(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id))
			if err != nil {
				return mapErr(err)
			}
			out = n
			return nil
		}
		if err != nil {
			return mapErr(err)
		}
		out = n
		return s.record(ctx, tx, model.NotificationChanged(n))
	})
	return out, err
}

func (s *PostgresStore) RecordProviderEvent(ctx context.Context, provider, eventID, eventType string, payload []byte) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO provider_events (provider, event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, event_id) DO NOTHING
	`, provider, eventID, eventType, payload)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) record(ctx context.Context, tx pgx.Tx, c model.Change) error {
	evt, err := outbox.EventFromChange(c)
	if err != nil {
		return err
	}
	return s.outbox.Insert(ctx, tx, evt)
}

// mapErr folds "no row" and malformed uuid lookups into ErrNotFound.
func mapErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "22P02" {
		return ErrNotFound
	}
	return err
}
