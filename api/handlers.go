/*
handlers.go - HTTP API handlers for the wallet desk

PURPOSE:
  Exposes the wallet ledger, order workflow and inventory to the chat
  front-end and to admin tooling. Handles HTTP request/response and JSON,
  resolves the acting user, and delegates to the domain packages.

ENDPOINTS:
  Users (X-Actor-ID required):
    POST   /api/users/touch              Create or refresh the caller
    GET    /api/users/me                 Profile and wallet
    GET    /api/users/me/wallet          Wallet only
    GET    /api/users/me/orders          Order history, newest first
    GET    /api/users/me/items           Inventory items assigned to caller

  Orders (X-Actor-ID required):
    POST   /api/orders                   Create order
    GET    /api/orders/{id}              Get order (owner or admin)
    PATCH  /api/orders/{id}              Edit pending order (owner or admin)
    POST   /api/orders/{id}/cancel       Owner cancels a pending withdrawal

  Admin (caller must be an admin):
    GET    /api/admin/orders/pending     Pending queue, oldest first
    POST   /api/admin/orders/{id}/approve
    POST   /api/admin/orders/{id}/reject
    GET    /api/admin/ledger             Wallet totals
    GET    /api/admin/audit              Recent audit entries
    GET    /api/admin/settings           Business settings
    PUT    /api/admin/settings           Partial settings update
    GET    /api/admin/users              All users
    POST   /api/admin/users/{id}/ban
    POST   /api/admin/users/{id}/unban
    GET    /api/admin/admins             Admin ids
    POST   /api/admin/admins/{id}        Grant
    DELETE /api/admin/admins/{id}        Revoke
    GET    /api/admin/inventory          Pool with passwords
    POST   /api/admin/inventory          Add item
    DELETE /api/admin/inventory/{username}
    POST   /api/admin/inventory/{id}/unassign
    GET    /api/admin/inventory/match    Preview a suggestion

ACTOR RESOLUTION:
  The front-end authenticates users and passes the chat id in X-Actor-ID.
  Admin checks go through directory.Admins.

NOTIFICATIONS:
  Sent after the operation succeeded. A failed notification is logged and
  never changes the response.

ERROR HANDLING:
  Errors are returned as JSON with a status derived from the core taxonomy
  (see statusFor):
  - 400: Invalid payload or amount
  - 403: Not owner, banned, not admin
  - 404: Unknown order, user, item
  - 409: Not pending, lost assignment race, duplicates, pending limit
  - 422: Insufficient funds, below minimum, no candidate, not cancellable
  - 503: Maintenance
  - 500: Store failures; NEEDS_REPAIR when a decision half-applied

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/warp/walletdesk/audit"
	"github.com/warp/walletdesk/core"
	"github.com/warp/walletdesk/directory"
	"github.com/warp/walletdesk/inventory"
	"github.com/warp/walletdesk/notify"
	"github.com/warp/walletdesk/orders"
	"github.com/warp/walletdesk/settings"
	"github.com/warp/walletdesk/wallet"
)

// ActorHeader carries the acting user's id.
const ActorHeader = "X-Actor-ID"

var errBanned = errors.New("user is banned")

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Users     *directory.Users
	Admins    *directory.Admins
	Ledger    *wallet.Ledger
	Inventory *inventory.Inventory
	Orders    *orders.Workflow
	Settings  *settings.Service
	Audit     *audit.Log
	Notifier  notify.Notifier
	Log       *logrus.Entry
}

func (h *Handler) logger() *logrus.Entry {
	if h.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return h.Log
}

type actorKey struct{}

func actorFrom(ctx context.Context) core.Actor {
	a, _ := ctx.Value(actorKey{}).(core.Actor)
	return a
}

// requireActor resolves X-Actor-ID into the request context.
func (h *Handler) requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := core.ParseUserID(r.Header.Get(ActorHeader))
		if err != nil || id == 0 {
			writeError(w, http.StatusUnauthorized, "Missing or invalid "+ActorHeader, err)
			return
		}
		ctx := context.WithValue(r.Context(), actorKey{}, core.Actor{ID: id})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin rejects callers that are not admins.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := actorFrom(r.Context())
		ok, err := h.Admins.IsAdmin(r.Context(), actor.ID)
		if err != nil {
			writeDomainError(w, "Failed to resolve admin", err)
			return
		}
		if !ok {
			writeError(w, http.StatusForbidden, "Admin only", nil)
			return
		}
		actor.Name = "admin:" + actor.ID.String()
		ctx := context.WithValue(r.Context(), actorKey{}, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// Touch creates or refreshes the calling user.
func (h *Handler) Touch(w http.ResponseWriter, r *http.Request) {
	var req TouchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	actor := actorFrom(r.Context())
	user, err := h.Users.Touch(r.Context(), directory.Profile{
		ID:        actor.ID,
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		writeDomainError(w, "Failed to register user", err)
		return
	}
	writeJSON(w, http.StatusOK, UserDTO{User: user})
}

// GetMe returns the caller's profile and wallet.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	user, err := h.Users.Get(r.Context(), actor.ID)
	if err != nil {
		writeDomainError(w, "Failed to get user", err)
		return
	}
	wl, err := h.Ledger.Get(r.Context(), actor.ID)
	if err != nil {
		writeDomainError(w, "Failed to get wallet", err)
		return
	}
	dto := toWalletDTO(wl)
	writeJSON(w, http.StatusOK, UserDTO{User: user, Wallet: &dto})
}

// GetMyWallet returns the caller's wallet.
func (h *Handler) GetMyWallet(w http.ResponseWriter, r *http.Request) {
	wl, err := h.Ledger.Get(r.Context(), actorFrom(r.Context()).ID)
	if err != nil {
		writeDomainError(w, "Failed to get wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletDTO(wl))
}

// ListMyOrders returns the caller's orders, newest first.
func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.Orders.ListByUser(r.Context(), actorFrom(r.Context()).ID, queryLimit(r))
	if err != nil {
		writeDomainError(w, "Failed to list orders", err)
		return
	}
	writeJSON(w, http.StatusOK, orderList(list))
}

// ListMyItems returns the inventory items assigned to the caller.
func (h *Handler) ListMyItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.Inventory.AssignedTo(r.Context(), actorFrom(r.Context()).ID)
	if err != nil {
		writeDomainError(w, "Failed to list items", err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTOs(items, true))
}

// =============================================================================
// ORDER HANDLERS
// =============================================================================

// CreateOrder opens a new pending order for the caller and tells the admins.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	payload, err := orders.DecodePayload(req.Type, req.Payload)
	if err != nil {
		writeDomainError(w, "Invalid payload", err)
		return
	}

	actor := actorFrom(r.Context())
	banned, err := h.Users.IsBanned(r.Context(), actor.ID)
	if err != nil {
		writeDomainError(w, "Failed to check user", err)
		return
	}
	if banned {
		writeDomainError(w, "Not allowed", errBanned)
		return
	}

	o, err := h.Orders.Create(r.Context(), actor.ID, payload)
	if err != nil {
		writeDomainError(w, "Failed to create order", err)
		return
	}
	h.notifyAdmins(r.Context(), notify.FormatNewOrder(o))
	writeJSON(w, http.StatusCreated, o)
}

// GetOrder returns one order to its owner or an admin.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := h.loadVisibleOrder(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// EditOrder replaces the payload of a pending order.
func (h *Handler) EditOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := h.loadVisibleOrder(w, r)
	if !ok {
		return
	}
	var req EditOrderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	payload, err := orders.DecodePayload(o.Type, req.Payload)
	if err != nil {
		writeDomainError(w, "Invalid payload", err)
		return
	}
	edited, err := h.Orders.Edit(r.Context(), o.ID, actorFrom(r.Context()), payload)
	if err != nil {
		writeDomainError(w, "Failed to edit order", err)
		return
	}
	writeJSON(w, http.StatusOK, edited)
}

// CancelOrder lets the owner cancel a pending withdrawal.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid order id", err)
		return
	}
	o, err := h.Orders.Cancel(r.Context(), id, actorFrom(r.Context()))
	if err != nil {
		writeDomainError(w, "Failed to cancel order", err)
		return
	}
	h.notifyAdmins(r.Context(), notify.FormatDecision(o))
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) loadVisibleOrder(w http.ResponseWriter, r *http.Request) (orders.Order, bool) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid order id", err)
		return orders.Order{}, false
	}
	o, err := h.Orders.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get order", err)
		return orders.Order{}, false
	}
	actor := actorFrom(r.Context())
	if o.UserID != actor.ID {
		isAdmin, err := h.Admins.IsAdmin(r.Context(), actor.ID)
		if err != nil {
			writeDomainError(w, "Failed to resolve admin", err)
			return orders.Order{}, false
		}
		if !isAdmin {
			writeDomainError(w, "Not allowed", core.ErrNotOwner)
			return orders.Order{}, false
		}
	}
	return o, true
}

// =============================================================================
// ADMIN: ORDER DECISIONS
// =============================================================================

// ListPendingOrders returns the approval queue.
func (h *Handler) ListPendingOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.Orders.ListPending(r.Context(), queryLimit(r))
	if err != nil {
		writeDomainError(w, "Failed to list pending orders", err)
		return
	}
	writeJSON(w, http.StatusOK, orderList(list))
}

// ApproveOrder approves a pending order and tells its owner.
func (h *Handler) ApproveOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid order id", err)
		return
	}
	o, err := h.Orders.Approve(r.Context(), id, actorFrom(r.Context()))
	if err != nil {
		writeDomainError(w, "Failed to approve order", err)
		return
	}
	h.notifyUser(r.Context(), o.UserID, notify.FormatDecision(o))
	writeJSON(w, http.StatusOK, o)
}

// RejectOrder rejects a pending order and tells its owner.
func (h *Handler) RejectOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid order id", err)
		return
	}
	var req RejectRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	o, err := h.Orders.Reject(r.Context(), id, actorFrom(r.Context()), req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to reject order", err)
		return
	}
	h.notifyUser(r.Context(), o.UserID, notify.FormatDecision(o))
	writeJSON(w, http.StatusOK, o)
}

// =============================================================================
// ADMIN: LEDGER, AUDIT, SETTINGS
// =============================================================================

func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Ledger.Snapshot(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to read ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Audit.Recent(r.Context(), queryLimit(r))
	if err != nil {
		writeDomainError(w, "Failed to read audit log", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.Settings.Get(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to read settings", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	s, err := h.Settings.Update(r.Context(), req.apply)
	if err != nil {
		writeDomainError(w, "Failed to update settings", err)
		return
	}
	h.record(r.Context(), "settings.update", 0, map[string]any{"maintenance": s.Maintenance})
	writeJSON(w, http.StatusOK, s)
}

// =============================================================================
// ADMIN: USERS & ROLES
// =============================================================================

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Users.List(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list users", err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) BanUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathUser(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user id", err)
		return
	}
	var req BanRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	user, err := h.Users.Ban(r.Context(), id, req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to ban user", err)
		return
	}
	h.record(r.Context(), "user.ban", id, map[string]any{"reason": req.Reason})
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) UnbanUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathUser(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user id", err)
		return
	}
	user, err := h.Users.Unban(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to unban user", err)
		return
	}
	h.record(r.Context(), "user.unban", id, nil)
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	ids, err := h.Admins.List(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list admins", err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

func (h *Handler) GrantAdmin(w http.ResponseWriter, r *http.Request) {
	id, err := pathUser(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user id", err)
		return
	}
	if err := h.Admins.Grant(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to grant admin", err)
		return
	}
	h.record(r.Context(), "admin.grant", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RevokeAdmin(w http.ResponseWriter, r *http.Request) {
	id, err := pathUser(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user id", err)
		return
	}
	if err := h.Admins.Revoke(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to revoke admin", err)
		return
	}
	h.record(r.Context(), "admin.revoke", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ADMIN: INVENTORY
// =============================================================================

func (h *Handler) ListInventory(w http.ResponseWriter, r *http.Request) {
	items, err := h.Inventory.List(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list inventory", err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTOs(items, true))
}

func (h *Handler) AddInventoryItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	it, err := h.Inventory.AddItem(r.Context(), req.Username, req.Password)
	if err != nil {
		writeDomainError(w, "Failed to add item", err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemDTO(it, true))
}

func (h *Handler) RemoveInventoryItem(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	removed, err := h.Inventory.Remove(r.Context(), username)
	if err != nil {
		writeDomainError(w, "Failed to remove item", err)
		return
	}
	if !removed {
		writeError(w, http.StatusConflict, "Item is missing or assigned", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) UnassignInventoryItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid item id", err)
		return
	}
	it, err := h.Inventory.Unassign(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to unassign item", err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(it, true))
}

// MatchInventory previews which item a desired username would get.
func (h *Handler) MatchInventory(w http.ResponseWriter, r *http.Request) {
	it, ok, err := h.Inventory.FindBestMatch(r.Context(), r.URL.Query().Get("username"))
	if err != nil {
		writeDomainError(w, "Failed to match", err)
		return
	}
	resp := MatchDTO{Found: ok}
	if ok {
		dto := toItemDTO(it, false)
		resp.Item = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) notifyUser(ctx context.Context, user core.UserID, text string) {
	if h.Notifier == nil {
		return
	}
	if err := h.Notifier.NotifyUser(ctx, user, text); err != nil {
		h.logger().WithError(err).WithField("user_id", user).Warn("user notification failed")
	}
}

func (h *Handler) notifyAdmins(ctx context.Context, text string) {
	if h.Notifier == nil {
		return
	}
	if err := h.Notifier.NotifyAdmins(ctx, text); err != nil {
		h.logger().WithError(err).Warn("admin notification failed")
	}
}

// record writes an audit entry for admin actions outside the order workflow.
func (h *Handler) record(ctx context.Context, action string, user core.UserID, details map[string]any) {
	if h.Audit == nil {
		return
	}
	_, err := h.Audit.Record(ctx, actorFrom(ctx), audit.Entry{Action: action, UserID: user, Details: details})
	if err != nil {
		h.logger().WithError(err).WithField("action", action).Warn("audit entry not recorded")
	}
}

func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func pathInt(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func pathUser(r *http.Request) (core.UserID, error) {
	return core.ParseUserID(chi.URLParam(r, "id"))
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps a core error to its status and code.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	status, code := statusFor(err)
	resp := ErrorResponse{Error: message, Code: code, Details: err.Error()}
	var ife *core.InsufficientFundsError
	if errors.As(err, &ife) {
		resp.Details = map[string]any{
			"message":   err.Error(),
			"available": ife.Available,
			"requested": ife.Requested,
			"shortfall": ife.Shortfall(),
		}
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, core.ErrNotOwner):
		return http.StatusForbidden, "NOT_OWNER"
	case errors.Is(err, core.ErrProtectedAdmin):
		return http.StatusForbidden, "PROTECTED_ADMIN"
	case errors.Is(err, errBanned):
		return http.StatusForbidden, "BANNED"
	case errors.Is(err, core.ErrNotPending):
		return http.StatusConflict, "NOT_PENDING"
	case errors.Is(err, core.ErrAssignmentRaced):
		return http.StatusConflict, "ASSIGNMENT_RACED"
	case errors.Is(err, core.ErrDuplicateUsername):
		return http.StatusConflict, "DUPLICATE_USERNAME"
	case errors.Is(err, core.ErrTooManyPending):
		return http.StatusConflict, "TOO_MANY_PENDING"
	case errors.Is(err, core.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS"
	case errors.Is(err, core.ErrBelowMinimum):
		return http.StatusUnprocessableEntity, "BELOW_MINIMUM"
	case errors.Is(err, core.ErrNoCandidate):
		return http.StatusUnprocessableEntity, "NO_CANDIDATE"
	case errors.Is(err, core.ErrNotCancellable):
		return http.StatusUnprocessableEntity, "NOT_CANCELLABLE"
	case errors.Is(err, core.ErrInvalidPayload), errors.Is(err, core.ErrInvalidAmount):
		return http.StatusBadRequest, "INVALID_PAYLOAD"
	case errors.Is(err, core.ErrMaintenance):
		return http.StatusServiceUnavailable, "MAINTENANCE"
	case errors.Is(err, core.ErrNeedsRepair):
		return http.StatusInternalServerError, "NEEDS_REPAIR"
	case errors.Is(err, core.ErrStoreIO):
		return http.StatusInternalServerError, "STORE_IO_ERROR"
	}
	return http.StatusInternalServerError, "INTERNAL"
}
