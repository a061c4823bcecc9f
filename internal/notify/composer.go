package notify

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking/internal/directory"
)

// Recipient is the account a notification is addressed to.
type Recipient struct {
	AccountID uuid.UUID
	Email     string
	Role      directory.Role
}

// RecipientFor builds a recipient from a directory account.
func RecipientFor(a *directory.Account, role directory.Role) Recipient {
	return Recipient{AccountID: a.ID, Email: a.Email, Role: role}
}

// Slot is the appointment interval quoted in notification text.
type Slot struct {
	Start time.Time
	End   time.Time
}

// Composer builds the lifecycle notifications with consistent ids, slugs
// and timestamps.
type Composer struct {
	now func() time.Time
	loc *time.Location
}

func NewComposer(loc *time.Location) *Composer {
	if loc == nil {
		loc = time.UTC
	}
	return &Composer{now: time.Now, loc: loc}
}

// WithClock overrides the time source.
func (c *Composer) WithClock(now func() time.Time) *Composer {
	if now != nil {
		c.now = now
	}
	return c
}

func (c *Composer) span(slot Slot) (string, string) {
	return FormatDateTime(slot.Start, c.loc), FormatDateTime(slot.End, c.loc)
}

func (c *Composer) build(to Recipient, slugSource, title, content string) Message {
	now := c.now()
	return Message{
		Notification: Notification{
			ID:            uuid.New(),
			Title:         title,
			Content:       content,
			RecipientID:   to.AccountID,
			RecipientType: to.Role,
			Slug:          Slug(slugSource, now),
			CreatedAt:     now.UTC(),
		},
		RecipientEmail: to.Email,
	}
}

// AppointmentConfirmed tells the patient the slot is held for them.
func (c *Composer) AppointmentConfirmed(to Recipient, doctorName string, slot Slot) Message {
	start, end := c.span(slot)
	return c.build(to,
		"Appointment Confirmed with "+doctorName,
		"Appointment Confirmed",
		fmt.Sprintf("Your appointment with %s is confirmed on %s to %s.", doctorName, start, end),
	)
}

// PaymentPending asks the patient to pay within the grace window.
func (c *Composer) PaymentPending(to Recipient, doctorName string, slot Slot, grace time.Duration) Message {
	start, end := c.span(slot)
	return c.build(to,
		"Payment Pending for Appointment with "+doctorName,
		"Complete Your Payment",
		fmt.Sprintf("Your appointment with %s is reserved. Please complete the payment within %s to confirm your booking. "+
			"Your appointment is scheduled on %s to %s. Failure to complete the payment will result in the cancellation of your appointment.",
			doctorName, humanMinutes(grace), start, end),
	)
}

// NewAppointment tells the doctor about a fresh booking.
func (c *Composer) NewAppointment(to Recipient, patientName string, slot Slot) Message {
	start, end := c.span(slot)
	return c.build(to,
		"New appointment with "+patientName,
		"New Appointment",
		fmt.Sprintf("You have a new appointment with %s on %s to %s.", patientName, start, end),
	)
}

// PaymentSuccessful confirms the payment to the patient.
func (c *Composer) PaymentSuccessful(to Recipient, patientName, doctorName string, slot Slot) Message {
	start, end := c.span(slot)
	return c.build(to,
		"Payment Successful",
		"Payment Successful",
		fmt.Sprintf("Dear %s, your payment for the appointment with %s has been successfully processed. "+
			"Your appointment is scheduled from %s to %s. Please be on time.", patientName, doctorName, start, end),
	)
}

// NewPaymentReceived tells the super admin a payment landed.
func (c *Composer) NewPaymentReceived(to Recipient, fee float64, patientName, doctorName string, slot Slot) Message {
	start, end := c.span(slot)
	return c.build(to,
		"New Payment Received",
		"New Payment Received",
		fmt.Sprintf("A payment of $%s has been successfully processed for the appointment of %s with Dr. %s. "+
			"The appointment is scheduled from %s to %s.", formatFee(fee), patientName, doctorName, start, end),
	)
}

// CancelledForDoctor tells the doctor an unpaid booking was dropped.
func (c *Composer) CancelledForDoctor(to Recipient, patientName string) Message {
	return c.build(to,
		"Appointment Cancelled by Patient "+patientName,
		"Appointment Cancelled",
		fmt.Sprintf("Your appointment with %s has been cancelled.", patientName),
	)
}

// CancelledForPatient tells the patient the booking lapsed for non-payment.
func (c *Composer) CancelledForPatient(to Recipient, doctorName string) Message {
	return c.build(to,
		"Appointment Cancelled with "+doctorName,
		"Appointment Cancelled",
		fmt.Sprintf("Your appointment with Dr. %s has been cancelled due to payment failure. "+
			"Please ensure payment is completed for future appointments.", doctorName),
	)
}

// formatFee prints whole amounts without decimals and cents otherwise.
func formatFee(fee float64) string {
	if fee == float64(int64(fee)) {
		return strconv.FormatInt(int64(fee), 10)
	}
	return strconv.FormatFloat(fee, 'f', 2, 64)
}

func humanMinutes(d time.Duration) string {
	if d <= 0 {
		d = 30 * time.Minute
	}
	return fmt.Sprintf("%d minutes", int(d.Minutes()))
}
