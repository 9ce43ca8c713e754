package services

import (
	"errors"
	"testing"
)

func TestAuthz_RoleMatrix(t *testing.T) {
	tests := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleCustomer, ActionOrderCreate, true},
		{RoleCustomer, ActionOrderAdvance, false},
		{RoleCustomer, ActionPaymentSettle, false},
		{RoleStaff, ActionOrderAdvance, true},
		{RoleStaff, ActionOrderCreate, false},
		{RoleStaff, ActionOrderCancel, true},
		{RoleAdmin, ActionOrderAdvance, true},
		{RoleAdmin, ActionOrderCreate, true},
		{RoleGateway, ActionPaymentSettle, true},
		{RoleGateway, ActionOrderRead, false},
		{Role("unknown"), ActionOrderRead, false},
	}

	for _, tc := range tests {
		if got := Can(tc.role, tc.action); got != tc.want {
			t.Fatalf("Can(%s, %s) = %v, want %v", tc.role, tc.action, got, tc.want)
		}
	}
}

func TestAuthorize_Forbidden(t *testing.T) {
	err := Authorize(Actor{ID: "usr_1", Role: RoleCustomer}, ActionOrderAdvance)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden got %v", err)
	}
	if err := Authorize(Actor{ID: "stf_1", Role: RoleStaff}, ActionOrderAdvance); err != nil {
		t.Fatalf("expected staff advance allowed, got %v", err)
	}
}
