package orders

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/warp/walletdesk/core"
)

// =============================================================================
// ORDER TYPE & STATUS
// =============================================================================

type Type string

const (
	TypeTopup       Type = "topup"
	TypeWithdraw    Type = "withdraw"
	TypeInvCreate   Type = "inv_create"
	TypeInvTopup    Type = "inv_topup"
	TypeInvWithdraw Type = "inv_withdraw"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// =============================================================================
// PAYLOADS - One variant per order type
// =============================================================================

// Payload is the type-specific body of an order.
type Payload interface {
	Type() Type
	Validate() error
}

// TopupPayload: the user paid in externally and quotes the operation number.
type TopupPayload struct {
	OperationNo string `json:"operation_no"`
	Amount      int64  `json:"amount"`
}

// WithdrawPayload: pay amount out to the receiver account.
type WithdrawPayload struct {
	ReceiverNo string `json:"receiver_no"`
	Amount     int64  `json:"amount"`
}

// InvCreatePayload: the user asked for DesiredUsername; the assigned item
// is filled in at creation.
type InvCreatePayload struct {
	DesiredUsername string `json:"desired_username"`
	ItemID          int64  `json:"item_id,omitempty"`
	Username        string `json:"username,omitempty"`
	Password        string `json:"password,omitempty"`
}

// InvTopupPayload: buy Amount inventory units for Cost wallet units.
type InvTopupPayload struct {
	Amount int64 `json:"amount"`
	Cost   int64 `json:"cost"`
}

// InvWithdrawPayload: sell Amount inventory units for Gain wallet units.
type InvWithdrawPayload struct {
	Amount int64 `json:"amount"`
	Gain   int64 `json:"gain"`
}

func (TopupPayload) Type() Type       { return TypeTopup }
func (WithdrawPayload) Type() Type    { return TypeWithdraw }
func (InvCreatePayload) Type() Type   { return TypeInvCreate }
func (InvTopupPayload) Type() Type    { return TypeInvTopup }
func (InvWithdrawPayload) Type() Type { return TypeInvWithdraw }

func (p TopupPayload) Validate() error {
	if strings.TrimSpace(p.OperationNo) == "" {
		return invalid("operation_no is required")
	}
	return positive(p.Amount)
}

func (p WithdrawPayload) Validate() error {
	if strings.TrimSpace(p.ReceiverNo) == "" {
		return invalid("receiver_no is required")
	}
	return positive(p.Amount)
}

func (p InvCreatePayload) Validate() error {
	if strings.TrimSpace(p.DesiredUsername) == "" {
		return invalid("desired_username is required")
	}
	return nil
}

func (p InvTopupPayload) Validate() error {
	if p.Cost < 0 {
		return invalid("cost must not be negative")
	}
	return positive(p.Amount)
}

func (p InvWithdrawPayload) Validate() error {
	if p.Gain < 0 {
		return invalid("gain must not be negative")
	}
	return positive(p.Amount)
}

func positive(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %d", core.ErrInvalidAmount, amount)
	}
	return nil
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", core.ErrInvalidPayload, msg)
}

// Amount returns the primary amount carried by p, or 0 for INV_CREATE.
func Amount(p Payload) int64 {
	switch v := p.(type) {
	case TopupPayload:
		return v.Amount
	case WithdrawPayload:
		return v.Amount
	case InvTopupPayload:
		return v.Amount
	case InvWithdrawPayload:
		return v.Amount
	}
	return 0
}

// DecodePayload decodes raw as the variant for t. Unknown types fail.
func DecodePayload(t Type, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	switch t {
	case TypeTopup:
		return decodeAs[TopupPayload](raw)
	case TypeWithdraw:
		return decodeAs[WithdrawPayload](raw)
	case TypeInvCreate:
		return decodeAs[InvCreatePayload](raw)
	case TypeInvTopup:
		return decodeAs[InvTopupPayload](raw)
	case TypeInvWithdraw:
		return decodeAs[InvWithdrawPayload](raw)
	default:
		return nil, fmt.Errorf("%w: unknown order type %q", core.ErrInvalidPayload, t)
	}
}

func decodeAs[P Payload](raw json.RawMessage) (Payload, error) {
	var p P
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidPayload, err)
	}
	return p, nil
}

// =============================================================================
// ORDER
// =============================================================================

type Order struct {
	ID          int64
	Type        Type
	Status      Status
	UserID      core.UserID
	Payload     Payload
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DecidedBy   string
	DecidedByID core.UserID
	DecidedAt   *time.Time
	Reason      string
}

// wireOrder is the persisted shape; the payload is decoded by type.
type wireOrder struct {
	ID          int64           `json:"id"`
	Type        Type            `json:"type"`
	Status      Status          `json:"status"`
	UserID      core.UserID     `json:"user_id"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	DecidedBy   string          `json:"decided_by,omitempty"`
	DecidedByID core.UserID     `json:"decided_by_id,omitempty"`
	DecidedAt   *time.Time      `json:"decided_at,omitempty"`
	Reason      string          `json:"reason,omitempty"`
}

func (o Order) MarshalJSON() ([]byte, error) {
	if o.Payload == nil {
		return nil, fmt.Errorf("order %d: nil payload", o.ID)
	}
	if o.Payload.Type() != o.Type {
		return nil, fmt.Errorf("order %d: payload %s does not match type %s", o.ID, o.Payload.Type(), o.Type)
	}
	raw, err := json.Marshal(o.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireOrder{
		ID:          o.ID,
		Type:        o.Type,
		Status:      o.Status,
		UserID:      o.UserID,
		Payload:     raw,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
		DecidedBy:   o.DecidedBy,
		DecidedByID: o.DecidedByID,
		DecidedAt:   o.DecidedAt,
		Reason:      o.Reason,
	})
}

func (o *Order) UnmarshalJSON(data []byte) error {
	var w wireOrder
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p, err := DecodePayload(w.Type, w.Payload)
	if err != nil {
		return fmt.Errorf("order %d: %w", w.ID, err)
	}
	switch w.Status {
	case StatusPending, StatusApproved, StatusRejected, StatusCancelled:
	default:
		return fmt.Errorf("order %d: unknown status %q", w.ID, w.Status)
	}
	*o = Order{
		ID:          w.ID,
		Type:        w.Type,
		Status:      w.Status,
		UserID:      w.UserID,
		Payload:     p,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
		DecidedBy:   w.DecidedBy,
		DecidedByID: w.DecidedByID,
		DecidedAt:   w.DecidedAt,
		Reason:      w.Reason,
	}
	return nil
}

// document is the persisted "orders" record.
type document struct {
	NextID int64   `json:"next_id"`
	Orders []Order `json:"orders"`
}

func newDocument() document { return document{NextID: 1, Orders: []Order{}} }

func (d *document) index(id int64) int {
	for i := range d.Orders {
		if d.Orders[i].ID == id {
			return i
		}
	}
	return -1
}
