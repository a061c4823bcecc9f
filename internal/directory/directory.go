// Package directory resolves doctor, patient and account records.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/clinic-booking/internal/apperr"
	"github.com/wolfman30/clinic-booking/internal/store"
)

// Role is the account role carried in tokens and notification recipients.
type Role string

const (
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleAdmin      Role = "ADMIN"
	RoleDoctor     Role = "DOCTOR"
	RolePatient    Role = "PATIENT"
)

// ParseRole normalizes a role string, returning false for unknown roles.
func ParseRole(raw string) (Role, bool) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(raw))); r {
	case RoleSuperAdmin, RoleAdmin, RoleDoctor, RolePatient:
		return r, true
	default:
		return "", false
	}
}

// Identity is the authenticated caller.
type Identity struct {
	AccountID uuid.UUID
	Email     string
	Role      Role
}

// Account is a login identity and the address for notifications.
type Account struct {
	ID    uuid.UUID
	Email string
	Role  Role
}

// Doctor is a bookable practitioner profile.
type Doctor struct {
	ID             uuid.UUID `json:"id"`
	Email          string    `json:"email"`
	Name           string    `json:"name"`
	AppointmentFee float64   `json:"appointment_fee"`
}

// Patient is a patient profile.
type Patient struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
	Name  string    `json:"name"`
}

// Store reads profiles and accounts from Postgres.
type Store struct {
	db store.Querier
}

func NewStore(db store.Querier) *Store {
	if db == nil {
		panic("directory: querier required")
	}
	return &Store{db: db}
}

func (s *Store) DoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	query := `
		SELECT id, email, name, appointment_fee::float8
		FROM doctors
		WHERE id = $1 AND is_deleted = false
	`
	var d Doctor
	if err := s.db.QueryRow(ctx, query, id).Scan(&d.ID, &d.Email, &d.Name, &d.AppointmentFee); err != nil {
		return nil, notFoundOr(err, "doctor", "directory: load doctor")
	}
	return &d, nil
}

func (s *Store) PatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	query := `
		SELECT id, email, name
		FROM patients
		WHERE id = $1 AND is_deleted = false
	`
	var p Patient
	if err := s.db.QueryRow(ctx, query, id).Scan(&p.ID, &p.Email, &p.Name); err != nil {
		return nil, notFoundOr(err, "patient", "directory: load patient")
	}
	return &p, nil
}

func (s *Store) PatientByEmail(ctx context.Context, email string) (*Patient, error) {
	query := `
		SELECT id, email, name
		FROM patients
		WHERE email = $1 AND is_deleted = false
	`
	var p Patient
	if err := s.db.QueryRow(ctx, query, email).Scan(&p.ID, &p.Email, &p.Name); err != nil {
		return nil, notFoundOr(err, "patient", "directory: load patient by email")
	}
	return &p, nil
}

// AccountByEmail resolves the account linked to a profile. q may be a
// transaction; nil uses the store's pool.
func (s *Store) AccountByEmail(ctx context.Context, q store.Querier, email string) (*Account, error) {
	if q == nil {
		q = s.db
	}
	query := `
		SELECT id, email, role
		FROM users
		WHERE email = $1
	`
	var a Account
	var role string
	if err := q.QueryRow(ctx, query, email).Scan(&a.ID, &a.Email, &role); err != nil {
		return nil, notFoundOr(err, "account", "directory: load account")
	}
	a.Role = Role(role)
	return &a, nil
}

// SuperAdmin returns the oldest super admin account.
func (s *Store) SuperAdmin(ctx context.Context) (*Account, error) {
	query := `
		SELECT id, email, role
		FROM users
		WHERE role = $1
		ORDER BY created_at
		LIMIT 1
	`
	var a Account
	var role string
	if err := s.db.QueryRow(ctx, query, string(RoleSuperAdmin)).Scan(&a.ID, &a.Email, &role); err != nil {
		return nil, notFoundOr(err, "super admin", "directory: load super admin")
	}
	a.Role = Role(role)
	return &a, nil
}

func notFoundOr(err error, resource, action string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(resource)
	}
	return fmt.Errorf("%s: %w", action, err)
}
