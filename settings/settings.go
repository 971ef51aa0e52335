// Package settings holds the runtime business knobs an admin can change
// without a restart: minimum amounts, the pending-order limit, inventory
// conversion rates and the maintenance switch. They live in the "settings"
// document so every order operation reads a fresh copy.
package settings

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/walletdesk/core"
	"github.com/warp/walletdesk/docstore"
)

// DocumentKey is the store key holding the settings.
const DocumentKey = "settings"

const (
	DefaultMinTopup    int64 = 15000
	DefaultMinWithdraw int64 = 50000
	DefaultMaxPending        = 1
)

// Settings is the persisted document. MaxPending of 0 means unlimited.
type Settings struct {
	MinTopup              int64           `json:"min_topup"`
	MinWithdraw           int64           `json:"min_withdraw"`
	MaxPending            int             `json:"max_pending"`
	InventoryTopupRate    decimal.Decimal `json:"inventory_topup_rate"`
	InventoryWithdrawRate decimal.Decimal `json:"inventory_withdraw_rate"`
	Maintenance           bool            `json:"maintenance"`
	MaintenanceMessage    string          `json:"maintenance_message,omitempty"`
}

// Defaults returns the settings a fresh deployment starts with.
func Defaults() Settings {
	return Settings{
		MinTopup:              DefaultMinTopup,
		MinWithdraw:           DefaultMinWithdraw,
		MaxPending:            DefaultMaxPending,
		InventoryTopupRate:    decimal.NewFromInt(1),
		InventoryWithdrawRate: decimal.NewFromInt(1),
	}
}

// Validate rejects settings that would make every order fail.
func (s Settings) Validate() error {
	switch {
	case s.MinTopup < 0, s.MinWithdraw < 0:
		return fmt.Errorf("%w: minimums must not be negative", core.ErrInvalidPayload)
	case s.MaxPending < 0:
		return fmt.Errorf("%w: max_pending must not be negative", core.ErrInvalidPayload)
	case !s.InventoryTopupRate.IsPositive(), !s.InventoryWithdrawRate.IsPositive():
		return fmt.Errorf("%w: conversion rates must be positive", core.ErrInvalidPayload)
	}
	return nil
}

// TopupCost is the wallet amount charged for amount inventory units.
// Fractions round up so the house never undercharges.
func (s Settings) TopupCost(amount int64) int64 {
	return decimal.NewFromInt(amount).Mul(s.InventoryTopupRate).Ceil().IntPart()
}

// WithdrawGain is the wallet amount credited for amount inventory units.
// Fractions round down.
func (s Settings) WithdrawGain(amount int64) int64 {
	return decimal.NewFromInt(amount).Mul(s.InventoryWithdrawRate).Floor().IntPart()
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store *docstore.Store
	log   *logrus.Entry
}

func New(store *docstore.Store, log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{store: store, log: log.WithField("component", "settings")}
}

// Get returns the current settings. Zero rates left by older documents are
// treated as 1.
func (s *Service) Get(ctx context.Context) (Settings, error) {
	cur, err := docstore.Load(ctx, s.store, DocumentKey, Defaults)
	if err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return fill(cur), nil
}

// Update applies fn to the current settings and persists the result if it
// validates.
func (s *Service) Update(ctx context.Context, fn func(*Settings)) (Settings, error) {
	next, err := docstore.Mutate(ctx, s.store, DocumentKey, Defaults, func(cur *Settings) error {
		*cur = fill(*cur)
		fn(cur)
		return cur.Validate()
	})
	if err != nil {
		return Settings{}, fmt.Errorf("update settings: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"min_topup":    next.MinTopup,
		"min_withdraw": next.MinWithdraw,
		"max_pending":  next.MaxPending,
		"maintenance":  next.Maintenance,
	}).Info("settings updated")
	return next, nil
}

// SetMaintenance toggles maintenance mode.
func (s *Service) SetMaintenance(ctx context.Context, on bool, message string) (Settings, error) {
	return s.Update(ctx, func(cur *Settings) {
		cur.Maintenance = on
		cur.MaintenanceMessage = message
	})
}

func fill(s Settings) Settings {
	if s.InventoryTopupRate.IsZero() {
		s.InventoryTopupRate = decimal.NewFromInt(1)
	}
	if s.InventoryWithdrawRate.IsZero() {
		s.InventoryWithdrawRate = decimal.NewFromInt(1)
	}
	return s
}
