// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

// Package ledger is the local folio and payment engine. It lets staff
// create folios, post charges and payments, and read correct balances
// entirely from local data while offline; nothing computed here needs
// correction later beyond being mirrored to the remote system.
//
// Balance invariant: balance == total charges - total payments, recomputed
// as a full fold over the folio's transactions on every mutation. A stored
// balance is never trusted when transactions exist.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/innkeeper-labs/innsync/internal/logging"
	"github.com/innkeeper-labs/innsync/internal/models"
	"github.com/innkeeper-labs/innsync/internal/store"
)

// Errors
var (
	// ErrNoActiveSession is returned when a ledger write has no session for
	// tenant/user ownership and audit.
	ErrNoActiveSession = errors.New("no active session")

	// ErrFolioNotFound is returned when a folio does not exist locally.
	ErrFolioNotFound = errors.New("folio not found")
)

// SessionSource supplies the active session for ownership stamping.
type SessionSource interface {
	Current() *models.Session
}

// FolioManager creates folios and posts ledger lines against them.
type FolioManager struct {
	store    *store.Store
	sessions SessionSource
	validate *validator.Validate
	now      func() time.Time
}

// NewFolioManager creates a folio manager over a tenant store.
func NewFolioManager(st *store.Store, sessions SessionSource) *FolioManager {
	return &FolioManager{
		store:    st,
		sessions: sessions,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (f *FolioManager) SetClock(now func() time.Time) { f.now = now }

func (f *FolioManager) requireSession() (*models.Session, error) {
	sess := f.sessions.Current()
	if sess == nil {
		return nil, ErrNoActiveSession
	}
	return sess, nil
}

// CreateFolioParams are the inputs to CreateFolioOffline.
type CreateFolioParams struct {
	BookingID   string `validate:"required"`
	GuestID     string
	RoomID      string
	FolioNumber string
	FolioType   string
}

// CreateFolioOffline allocates a new folio with zero totals and open
// status. The folio number is generated when not supplied.
func (f *FolioManager) CreateFolioOffline(p CreateFolioParams) (*models.Folio, error) {
	sess, err := f.requireSession()
	if err != nil {
		return nil, err
	}
	if err := f.validate.Struct(p); err != nil {
		return nil, fmt.Errorf("invalid folio params: %w", err)
	}

	now := f.now().UTC()
	folioNumber := p.FolioNumber
	if folioNumber == "" {
		folioNumber = fmt.Sprintf("F-%s", now.Format("20060102-150405.000"))
	}
	folioType := p.FolioType
	if folioType == "" {
		folioType = "stay"
	}

	folio := &models.Folio{
		ID:          uuid.New().String(),
		TenantID:    sess.TenantID,
		BookingID:   p.BookingID,
		GuestID:     p.GuestID,
		RoomID:      p.RoomID,
		FolioNumber: folioNumber,
		FolioType:   folioType,
		Status:      models.FolioStatusOpen,
		CreatedBy:   sess.UserID,
		CreatedAt:   now,
		CachedMeta:  models.CachedMeta{CachedAt: now, SyncStatus: "local"},
	}

	if err := f.store.Put(models.CollectionFolios, folio.ID, folio); err != nil {
		return nil, fmt.Errorf("persist folio: %w", err)
	}

	logging.Info().
		Str("folio", folio.ID).
		Str("booking", p.BookingID).
		Str("number", folioNumber).
		Msg("folio created offline")
	return folio, nil
}

// PostParams are the inputs to PostChargeOffline and PostPaymentOffline.
type PostParams struct {
	FolioID       string  `validate:"required"`
	Amount        float64 `validate:"required,gt=0"`
	Description   string
	Department    string
	ReferenceType string
	ReferenceID   string
	Metadata      map[string]any
}

// PostChargeOffline appends a charge transaction and recomputes the
// balance.
func (f *FolioManager) PostChargeOffline(p PostParams) (*models.FolioTransaction, error) {
	return f.post(models.TransactionCharge, p)
}

// PostPaymentOffline appends a payment transaction and recomputes the
// balance.
func (f *FolioManager) PostPaymentOffline(p PostParams) (*models.FolioTransaction, error) {
	return f.post(models.TransactionPayment, p)
}

func (f *FolioManager) post(kind models.TransactionType, p PostParams) (*models.FolioTransaction, error) {
	sess, err := f.requireSession()
	if err != nil {
		return nil, err
	}
	if err := f.validate.Struct(p); err != nil {
		return nil, fmt.Errorf("invalid transaction params: %w", err)
	}
	if _, err := f.GetFolio(p.FolioID); err != nil {
		return nil, err
	}

	tx := &models.FolioTransaction{
		ID:              uuid.New().String(),
		TenantID:        sess.TenantID,
		FolioID:         p.FolioID,
		TransactionType: kind,
		Amount:          p.Amount,
		Description:     p.Description,
		Department:      p.Department,
		ReferenceType:   p.ReferenceType,
		ReferenceID:     p.ReferenceID,
		CreatedBy:       sess.UserID,
		CreatedAt:       f.now().UTC(),
		Metadata:        p.Metadata,
	}

	if err := f.store.Put(models.CollectionFolioTransactions, tx.ID, tx); err != nil {
		return nil, fmt.Errorf("persist folio transaction: %w", err)
	}
	if _, err := f.RecalculateFolioBalance(p.FolioID); err != nil {
		return nil, err
	}
	return tx, nil
}

// GetFolio returns a folio by ID.
func (f *FolioManager) GetFolio(folioID string) (*models.Folio, error) {
	var folio models.Folio
	err := f.store.Get(models.CollectionFolios, folioID, &folio)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("folio %s: %w", folioID, ErrFolioNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &folio, nil
}

// Transactions returns a folio's transactions ordered by creation time.
func (f *FolioManager) Transactions(folioID string) ([]*models.FolioTransaction, error) {
	raws, err := f.store.GetAllByIndex(models.CollectionFolioTransactions, "folio_id", folioID)
	if err != nil {
		return nil, err
	}

	txs := make([]*models.FolioTransaction, 0, len(raws))
	for _, raw := range raws {
		var tx models.FolioTransaction
		if err := json.Unmarshal(raw, &tx); err != nil {
			return nil, fmt.Errorf("decode folio transaction: %w", err)
		}
		txs = append(txs, &tx)
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].CreatedAt.Before(txs[j].CreatedAt) })
	return txs, nil
}

// RecalculateFolioBalance re-folds every transaction on the folio, summing
// charges and payments independently, and persists
// balance = charges - payments. This is the single source of truth for the
// balance.
func (f *FolioManager) RecalculateFolioBalance(folioID string) (*models.Folio, error) {
	folio, err := f.GetFolio(folioID)
	if err != nil {
		return nil, err
	}
	txs, err := f.Transactions(folioID)
	if err != nil {
		return nil, err
	}

	var charges, payments float64
	for _, tx := range txs {
		switch tx.TransactionType {
		case models.TransactionCharge:
			charges += tx.Amount
		case models.TransactionPayment:
			payments += tx.Amount
		}
	}

	folio.TotalCharges = charges
	folio.TotalPayments = payments
	folio.Balance = charges - payments

	if err := f.store.Put(models.CollectionFolios, folio.ID, folio); err != nil {
		return nil, fmt.Errorf("persist recomputed folio: %w", err)
	}
	return folio, nil
}

// FolioForBooking finds the folio for a booking, preferring the first open
// folio and falling back to any folio when none is open. Returns
// ErrFolioNotFound when the booking has no folio at all.
func (f *FolioManager) FolioForBooking(bookingID string) (*models.Folio, error) {
	raws, err := f.store.GetAllByIndex(models.CollectionFolios, "booking_id", bookingID)
	if err != nil {
		return nil, err
	}
	if len(raws) == 0 {
		return nil, fmt.Errorf("booking %s: %w", bookingID, ErrFolioNotFound)
	}

	folios, err := store.DecodeAll[*models.Folio](raws)
	if err != nil {
		return nil, err
	}
	sort.Slice(folios, func(i, j int) bool { return folios[i].CreatedAt.Before(folios[j].CreatedAt) })

	for _, fl := range folios {
		if fl.Status == models.FolioStatusOpen {
			return fl, nil
		}
	}
	return folios[0], nil
}
