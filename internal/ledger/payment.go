// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/innkeeper-labs/innsync/internal/logging"
	"github.com/innkeeper-labs/innsync/internal/models"
	"github.com/innkeeper-labs/innsync/internal/store"
)

// ErrPaymentNotFound is returned when a payment does not exist locally.
var ErrPaymentNotFound = errors.New("payment not found")

// PaymentManager records payments taken at the desk while offline. Every
// offline payment carries a transaction reference with a recognizable
// offline prefix; the reference is the idempotency key when the payment is
// later replayed to the remote system.
type PaymentManager struct {
	store    *store.Store
	sessions SessionSource
	folios   *FolioManager
	validate *validator.Validate
	now      func() time.Time
}

// NewPaymentManager creates a payment manager sharing the folio manager's
// tenant store.
func NewPaymentManager(st *store.Store, sessions SessionSource, folios *FolioManager) *PaymentManager {
	return &PaymentManager{
		store:    st,
		sessions: sessions,
		folios:   folios,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (p *PaymentManager) SetClock(now func() time.Time) { p.now = now }

// RecordPaymentParams are the inputs to RecordPaymentOffline.
type RecordPaymentParams struct {
	BookingID  string  `validate:"required"`
	GuestID    string
	Amount     float64 `validate:"required,gt=0"`
	Method     string  `validate:"required"`
	ProviderID string
	LocationID string
	Metadata   map[string]any
}

// RecordPaymentOffline records a desk payment locally. A unique
// offline-prefixed transaction reference is generated up front so a later
// replay can be checked for duplicates server-side. When the booking
// already has a folio the payment is linked to it and a matching folio
// payment line is posted; otherwise the payment stays unlinked until
// LinkUnlinkedPayments runs.
func (p *PaymentManager) RecordPaymentOffline(params RecordPaymentParams) (*models.Payment, error) {
	sess := p.sessions.Current()
	if sess == nil {
		return nil, ErrNoActiveSession
	}
	if err := p.validate.Struct(params); err != nil {
		return nil, fmt.Errorf("invalid payment params: %w", err)
	}

	now := p.now().UTC()
	payment := &models.Payment{
		ID:             uuid.New().String(),
		TenantID:       sess.TenantID,
		BookingID:      params.BookingID,
		GuestID:        params.GuestID,
		Amount:         params.Amount,
		Method:         params.Method,
		Status:         "completed",
		TransactionRef: models.OfflineRefPrefix + uuid.New().String(),
		ProviderID:     params.ProviderID,
		LocationID:     params.LocationID,
		SyncState:      models.PaymentSyncPending,
		RecordedBy:     sess.UserID,
		CreatedAt:      now,
		Metadata:       params.Metadata,
		CachedMeta:     models.CachedMeta{CachedAt: now, SyncStatus: "local"},
	}

	folio, err := p.folios.FolioForBooking(params.BookingID)
	switch {
	case err == nil:
		payment.StayFolioID = folio.ID
	case errors.Is(err, ErrFolioNotFound):
		// No folio yet; leave unlinked for a later linking pass.
	default:
		return nil, err
	}

	if err := p.store.Put(models.CollectionPayments, payment.ID, payment); err != nil {
		return nil, fmt.Errorf("persist payment: %w", err)
	}

	if payment.StayFolioID != "" {
		if _, err := p.folios.PostPaymentOffline(PostParams{
			FolioID:       payment.StayFolioID,
			Amount:        payment.Amount,
			Description:   fmt.Sprintf("Payment (%s)", payment.Method),
			ReferenceType: "payment",
			ReferenceID:   payment.ID,
		}); err != nil {
			return nil, fmt.Errorf("post folio payment line: %w", err)
		}
	}

	logging.Info().
		Str("payment", payment.ID).
		Str("ref", payment.TransactionRef).
		Str("booking", params.BookingID).
		Bool("linked", payment.StayFolioID != "").
		Msg("payment recorded offline")
	return payment, nil
}

// GetPayment returns a payment by ID.
func (p *PaymentManager) GetPayment(id string) (*models.Payment, error) {
	var payment models.Payment
	err := p.store.Get(models.CollectionPayments, id, &payment)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("payment %s: %w", id, ErrPaymentNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// PaymentsForBooking returns a booking's locally known payments.
func (p *PaymentManager) PaymentsForBooking(bookingID string) ([]*models.Payment, error) {
	raws, err := p.store.GetAllByIndex(models.CollectionPayments, "booking_id", bookingID)
	if err != nil {
		return nil, err
	}
	return store.DecodeAll[*models.Payment](raws)
}

// LinkUnlinkedPayments attaches payments recorded before a booking had a
// folio. Each newly linked payment gets its folio payment line posted and
// the balance recomputed. Returns the number of payments linked.
func (p *PaymentManager) LinkUnlinkedPayments(bookingID string) (int, error) {
	folio, err := p.folios.FolioForBooking(bookingID)
	if errors.Is(err, ErrFolioNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	payments, err := p.PaymentsForBooking(bookingID)
	if err != nil {
		return 0, err
	}

	linked := 0
	for _, payment := range payments {
		if payment.StayFolioID != "" {
			continue
		}
		payment.StayFolioID = folio.ID
		if err := p.store.Put(models.CollectionPayments, payment.ID, payment); err != nil {
			return linked, fmt.Errorf("persist linked payment: %w", err)
		}
		if _, err := p.folios.PostPaymentOffline(PostParams{
			FolioID:       folio.ID,
			Amount:        payment.Amount,
			Description:   fmt.Sprintf("Payment (%s)", payment.Method),
			ReferenceType: "payment",
			ReferenceID:   payment.ID,
		}); err != nil {
			return linked, fmt.Errorf("post folio payment line: %w", err)
		}
		linked++
	}

	if linked > 0 {
		logging.Info().Str("booking", bookingID).Int("linked", linked).Msg("unlinked payments attached to folio")
	}
	return linked, nil
}

// MarkConfirmed transitions a payment to confirmed after the remote system
// accepted it (or reported it as already present).
func (p *PaymentManager) MarkConfirmed(id string, syncedAt time.Time) error {
	payment, err := p.GetPayment(id)
	if err != nil {
		return err
	}
	payment.SyncState = models.PaymentSyncConfirmed
	payment.LastSyncedAt = syncedAt
	payment.SyncStatus = "synced"
	if err := p.store.Put(models.CollectionPayments, payment.ID, payment); err != nil {
		return fmt.Errorf("persist confirmed payment: %w", err)
	}
	return nil
}

// MarkRejected transitions a payment to rejected after the remote system
// refused it permanently. Rejected payments need staff review; they are
// never retried automatically.
func (p *PaymentManager) MarkRejected(id, reason string) error {
	payment, err := p.GetPayment(id)
	if err != nil {
		return err
	}
	payment.SyncState = models.PaymentSyncRejected
	payment.SyncStatus = "rejected"
	if payment.Metadata == nil {
		payment.Metadata = map[string]any{}
	}
	payment.Metadata["rejection_reason"] = reason
	if err := p.store.Put(models.CollectionPayments, payment.ID, payment); err != nil {
		return fmt.Errorf("persist rejected payment: %w", err)
	}
	logging.Warn().Str("payment", id).Str("reason", reason).Msg("payment rejected by remote")
	return nil
}

// PendingPayments returns payments still awaiting remote confirmation.
func (p *PaymentManager) PendingPayments() ([]*models.Payment, error) {
	raws, err := p.store.GetAllByIndex(models.CollectionPayments, "sync_state", string(models.PaymentSyncPending))
	if err != nil {
		return nil, err
	}
	return store.DecodeAll[*models.Payment](raws)
}
