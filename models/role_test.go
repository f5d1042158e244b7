package models_test

import (
	"testing"

	"bitbucket.org/mmdatafocus/warehouse_backend/models"
)

func TestRolePolicy(t *testing.T) {
	cases := []struct {
		role   models.UserRole
		action models.Action
		want   bool
	}{
		{models.UserRoleAdmin, models.ActionManageUsers, true},
		{models.UserRoleAdmin, models.ActionRestoreLostBarcode, true},

		{models.UserRoleManager, models.ActionRestoreLostBarcode, true},
		{models.UserRoleManager, models.ActionConfirmOpnameLost, true},
		{models.UserRoleManager, models.ActionCompleteReceiving, true},
		{models.UserRoleManager, models.ActionManageUsers, false},

		{models.UserRoleStaff, models.ActionCreateShipment, true},
		{models.UserRoleStaff, models.ActionTransitionBarcode, true},
		{models.UserRoleStaff, models.ActionSubmitOpname, true},
		{models.UserRoleStaff, models.ActionReceivePurchase, true},
		{models.UserRoleStaff, models.ActionRestoreLostBarcode, false},
		{models.UserRoleStaff, models.ActionConfirmOpnameLost, false},
		{models.UserRoleStaff, models.ActionCompleteReceiving, false},
		{models.UserRoleStaff, models.ActionManagePurchaseOrder, false},
	}
	for _, tc := range cases {
		if got := models.Allows(tc.role, tc.action); got != tc.want {
			t.Errorf("Allows(%s, %s) = %v, want %v", tc.role, tc.action, got, tc.want)
		}
	}
}

func TestUnknownRoleHasNoPermissions(t *testing.T) {
	if models.Allows(models.UserRole("X"), models.ActionTransitionBarcode) {
		t.Error("unknown role must be denied")
	}
	if models.Allows(models.UserRole(""), models.ActionCreateShipment) {
		t.Error("empty role must be denied")
	}
}
