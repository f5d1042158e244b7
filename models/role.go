package models

// Action names one permission-gated operation. The engine itself never
// checks permissions; the HTTP layer evaluates the policy before calling in.
type Action string

const (
	ActionCreateShipment      Action = "shipment:create"
	ActionTransitionBarcode   Action = "barcode:transition"
	ActionRestoreLostBarcode  Action = "barcode:restore-lost"
	ActionSubmitOpname        Action = "opname:submit"
	ActionConfirmOpnameLost   Action = "opname:confirm-lost"
	ActionManagePurchaseOrder Action = "purchase-order:manage"
	ActionReceivePurchase     Action = "receiving:record"
	ActionCompleteReceiving   Action = "receiving:complete"
	ActionManageUsers         Action = "user:manage"
)

// rolePolicy maps each role to its allowed actions. Full access is just one
// more policy entry, not a bypass flag scattered through the handlers.
var rolePolicy = map[UserRole]map[Action]bool{
	UserRoleAdmin: {
		ActionCreateShipment:      true,
		ActionTransitionBarcode:   true,
		ActionRestoreLostBarcode:  true,
		ActionSubmitOpname:        true,
		ActionConfirmOpnameLost:   true,
		ActionManagePurchaseOrder: true,
		ActionReceivePurchase:     true,
		ActionCompleteReceiving:   true,
		ActionManageUsers:         true,
	},
	UserRoleManager: {
		ActionCreateShipment:      true,
		ActionTransitionBarcode:   true,
		ActionRestoreLostBarcode:  true,
		ActionSubmitOpname:        true,
		ActionConfirmOpnameLost:   true,
		ActionManagePurchaseOrder: true,
		ActionReceivePurchase:     true,
		ActionCompleteReceiving:   true,
	},
	UserRoleStaff: {
		ActionCreateShipment:    true,
		ActionTransitionBarcode: true,
		ActionSubmitOpname:      true,
		ActionReceivePurchase:   true,
	},
}

// Allows reports whether a role may perform an action.
func Allows(role UserRole, action Action) bool {
	perms, ok := rolePolicy[role]
	if !ok {
		return false
	}
	return perms[action]
}
