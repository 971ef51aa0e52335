/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Orders are returned in
  their persisted wire form (orders.Order marshals itself); everything else
  goes through a DTO so internal fields such as inventory passwords are not
  leaked by accident.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done by the domain packages. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/walletdesk/core"
	"github.com/warp/walletdesk/directory"
	"github.com/warp/walletdesk/inventory"
	"github.com/warp/walletdesk/orders"
	"github.com/warp/walletdesk/settings"
	"github.com/warp/walletdesk/wallet"
)

// =============================================================================
// USERS & WALLETS
// =============================================================================

type TouchRequest struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type WalletDTO struct {
	UserID  core.UserID `json:"user_id"`
	Balance int64       `json:"balance"`
	Hold    int64       `json:"hold"`
	Total   int64       `json:"total"`
}

type UserDTO struct {
	directory.User
	Wallet *WalletDTO `json:"wallet,omitempty"`
}

type BanRequest struct {
	Reason string `json:"reason"`
}

// =============================================================================
// ORDERS
// =============================================================================

type CreateOrderRequest struct {
	Type    orders.Type     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// EditOrderRequest carries a full replacement payload; its type must match
// the order's.
type EditOrderRequest struct {
	Payload json.RawMessage `json:"payload"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

// =============================================================================
// INVENTORY
// =============================================================================

type AddItemRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type InventoryItemDTO struct {
	ID         int64            `json:"id"`
	Username   string           `json:"username"`
	Password   string           `json:"password,omitempty"`
	Status     inventory.Status `json:"status"`
	AssignedTo *core.UserID     `json:"assigned_to,omitempty"`
	AssignedAt *time.Time       `json:"assigned_at,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

type MatchDTO struct {
	Found bool              `json:"found"`
	Item  *InventoryItemDTO `json:"item,omitempty"`
}

// =============================================================================
// SETTINGS
// =============================================================================

// SettingsRequest is a partial update; nil fields are left unchanged.
type SettingsRequest struct {
	MinTopup              *int64           `json:"min_topup"`
	MinWithdraw           *int64           `json:"min_withdraw"`
	MaxPending            *int             `json:"max_pending"`
	InventoryTopupRate    *decimal.Decimal `json:"inventory_topup_rate"`
	InventoryWithdrawRate *decimal.Decimal `json:"inventory_withdraw_rate"`
	Maintenance           *bool            `json:"maintenance"`
	MaintenanceMessage    *string          `json:"maintenance_message"`
}

func (r SettingsRequest) apply(s *settings.Settings) {
	if r.MinTopup != nil {
		s.MinTopup = *r.MinTopup
	}
	if r.MinWithdraw != nil {
		s.MinWithdraw = *r.MinWithdraw
	}
	if r.MaxPending != nil {
		s.MaxPending = *r.MaxPending
	}
	if r.InventoryTopupRate != nil {
		s.InventoryTopupRate = *r.InventoryTopupRate
	}
	if r.InventoryWithdrawRate != nil {
		s.InventoryWithdrawRate = *r.InventoryWithdrawRate
	}
	if r.Maintenance != nil {
		s.Maintenance = *r.Maintenance
	}
	if r.MaintenanceMessage != nil {
		s.MaintenanceMessage = *r.MaintenanceMessage
	}
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toWalletDTO(w wallet.Wallet) WalletDTO {
	return WalletDTO{UserID: w.UserID, Balance: w.Balance, Hold: w.Hold, Total: w.Total()}
}

func toItemDTO(it inventory.Item, withPassword bool) InventoryItemDTO {
	dto := InventoryItemDTO{
		ID:         it.ID,
		Username:   it.Username,
		Status:     it.Status,
		AssignedTo: it.AssignedTo,
		AssignedAt: it.AssignedAt,
		CreatedAt:  it.CreatedAt,
	}
	if withPassword {
		dto.Password = it.Password
	}
	return dto
}

func toItemDTOs(items []inventory.Item, withPassword bool) []InventoryItemDTO {
	out := make([]InventoryItemDTO, len(items))
	for i, it := range items {
		out[i] = toItemDTO(it, withPassword)
	}
	return out
}

func orderList(list []orders.Order) []orders.Order {
	if list == nil {
		return []orders.Order{}
	}
	return list
}
