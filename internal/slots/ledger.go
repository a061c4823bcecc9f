// Package slots tracks which doctor schedule slots are booked.
package slots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/clinic-booking/internal/apperr"
	"github.com/wolfman30/clinic-booking/internal/store"
)

// Allocation is a free (doctor, schedule) pair observed by TryAllocate.
type Allocation struct {
	DoctorID   uuid.UUID
	ScheduleID uuid.UUID
	StartDate  time.Time
	EndDate    time.Time
}

// Ledger reads and flips the booked state in doctor_schedules.
type Ledger struct {
	db store.Querier
}

func NewLedger(db store.Querier) *Ledger {
	if db == nil {
		panic("slots: querier required")
	}
	return &Ledger{db: db}
}

// TryAllocate returns the allocation when the pair exists and is free.
// The result is advisory; Commit is what claims the slot.
func (l *Ledger) TryAllocate(ctx context.Context, doctorID, scheduleID uuid.UUID) (Allocation, error) {
	query := `
		SELECT ds.doctor_id, ds.schedule_id, s.start_date, s.end_date
		FROM doctor_schedules ds
		JOIN schedules s ON s.id = ds.schedule_id
		WHERE ds.doctor_id = $1 AND ds.schedule_id = $2 AND ds.is_booked = false
	`
	var a Allocation
	err := l.db.QueryRow(ctx, query, doctorID, scheduleID).Scan(&a.DoctorID, &a.ScheduleID, &a.StartDate, &a.EndDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Allocation{}, apperr.ErrSlotUnavailable
		}
		return Allocation{}, fmt.Errorf("slots: find free slot: %w", err)
	}
	return a, nil
}

// Commit marks the slot booked for appointmentID. The update only matches a
// free row, so of two concurrent commits exactly one sees a row affected; the
// other gets ErrSlotUnavailable and must roll back.
func (l *Ledger) Commit(ctx context.Context, q store.Querier, a Allocation, appointmentID uuid.UUID) error {
	if q == nil {
		q = l.db
	}
	query := `
		UPDATE doctor_schedules
		SET is_booked = true, appointment_id = $3
		WHERE doctor_id = $1 AND schedule_id = $2 AND is_booked = false
	`
	ct, err := q.Exec(ctx, query, a.DoctorID, a.ScheduleID, appointmentID)
	if err != nil {
		return fmt.Errorf("slots: commit allocation: %w", err)
	}
	if ct.RowsAffected() != 1 {
		return apperr.ErrSlotUnavailable
	}
	return nil
}

// Release frees the slot. Releasing a free slot is a no-op.
func (l *Ledger) Release(ctx context.Context, q store.Querier, doctorID, scheduleID uuid.UUID) error {
	if q == nil {
		q = l.db
	}
	query := `
		UPDATE doctor_schedules
		SET is_booked = false, appointment_id = NULL
		WHERE doctor_id = $1 AND schedule_id = $2
	`
	if _, err := q.Exec(ctx, query, doctorID, scheduleID); err != nil {
		return fmt.Errorf("slots: release allocation: %w", err)
	}
	return nil
}
