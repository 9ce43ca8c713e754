package services

import (
	"errors"
	"fmt"
)

// Role is the caller's authorization role, carried in the JWT.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
	// RoleGateway marks unauthenticated webhook deliveries from payment gateways.
	RoleGateway Role = "gateway"
)

// Action names a state-machine operation for authorization purposes.
type Action string

const (
	ActionOrderCreate   Action = "order.create"
	ActionOrderRead     Action = "order.read"
	ActionOrderCancel   Action = "order.cancel"
	ActionOrderReject   Action = "order.reject"
	ActionOrderAdvance  Action = "order.advance"
	ActionOrderPay      Action = "order.pay"
	ActionPaymentSettle Action = "payment.settle"
	ActionPointsRead    Action = "points.read"
	ActionCouponQuote   Action = "coupon.quote"
)

// Actor identifies who is performing an operation.
type Actor struct {
	ID   string
	Role Role
}

// ErrForbidden indicates the actor may not perform the operation.
var ErrForbidden = errors.New("authz: forbidden")

var rolePermissions = map[Role]map[Action]bool{
	RoleCustomer: {
		ActionOrderCreate: true,
		ActionOrderRead:   true,
		ActionOrderCancel: true,
		ActionOrderPay:    true,
		ActionPointsRead:  true,
		ActionCouponQuote: true,
	},
	RoleStaff: {
		ActionOrderRead:    true,
		ActionOrderCancel:  true,
		ActionOrderReject:  true,
		ActionOrderAdvance: true,
	},
	RoleAdmin: {
		ActionOrderCreate:  true,
		ActionOrderRead:    true,
		ActionOrderCancel:  true,
		ActionOrderReject:  true,
		ActionOrderAdvance: true,
		ActionOrderPay:     true,
		ActionPointsRead:   true,
		ActionCouponQuote:  true,
	},
	RoleGateway: {
		ActionPaymentSettle: true,
	},
}

// Can reports whether the role may perform the action. Every state-machine
// operation calls this explicitly before touching state.
func Can(role Role, action Action) bool {
	perms, ok := rolePermissions[role]
	if !ok {
		return false
	}
	return perms[action]
}

// Authorize returns ErrForbidden when the role may not perform the action.
func Authorize(actor Actor, action Action) error {
	if !Can(actor.Role, action) {
		return fmt.Errorf("%w: %s may not %s", ErrForbidden, actor.Role, action)
	}
	return nil
}

// isElevated reports whether the role can act on orders owned by other users.
func isElevated(role Role) bool {
	return role == RoleStaff || role == RoleAdmin
}
