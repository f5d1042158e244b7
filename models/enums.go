package models

// BarcodeStatus is the lifecycle state of one physical pack.
// Allowed transitions: in-stock -> out-of-stock | lost,
// out-of-stock -> in-stock, lost -> in-stock. lost -> out-of-stock is not
// a defined edge.
type BarcodeStatus string

const (
	BarcodeStatusInStock    BarcodeStatus = "in-stock"
	BarcodeStatusOutOfStock BarcodeStatus = "out-of-stock"
	BarcodeStatusLost       BarcodeStatus = "lost"
)

func (s BarcodeStatus) Valid() bool {
	switch s {
	case BarcodeStatusInStock, BarcodeStatusOutOfStock, BarcodeStatusLost:
		return true
	}
	return false
}

type OpnameStatus string

const (
	OpnameStatusOK    OpnameStatus = "OK"
	OpnameStatusNotOK OpnameStatus = "NOT OK"
)

type DiscrepancyStatus string

const (
	DiscrepancyStatusPending   DiscrepancyStatus = "pending"
	DiscrepancyStatusConfirmed DiscrepancyStatus = "confirmed"
)

type ReceiveStatus string

const (
	ReceiveStatusInProgress ReceiveStatus = "IN_PROGRESS"
	ReceiveStatusCompleted  ReceiveStatus = "COMPLETED"
)

type PurchaseOrderStatus string

const (
	PurchaseOrderStatusDraft     PurchaseOrderStatus = "Draft"
	PurchaseOrderStatusConfirmed PurchaseOrderStatus = "Confirmed"
	PurchaseOrderStatusClosed    PurchaseOrderStatus = "Closed"
	PurchaseOrderStatusCancelled PurchaseOrderStatus = "Cancelled"
)

type UserRole string

const (
	UserRoleAdmin   UserRole = "A"
	UserRoleManager UserRole = "M"
	UserRoleStaff   UserRole = "S"
)

// FeedReferenceType names the entity an outbox record refers to.
type FeedReferenceType string

const (
	FeedReferenceTypeBarcode   FeedReferenceType = "Barcode"
	FeedReferenceTypeShipment  FeedReferenceType = "InboundShipment"
	FeedReferenceTypeOpnameLog FeedReferenceType = "StockOpnameLog"
	FeedReferenceTypeReceive   FeedReferenceType = "POReceive"
	FeedReferenceTypeRefund    FeedReferenceType = "Refund"
)

type FeedAction string

const (
	FeedActionCreated      FeedAction = "created"
	FeedActionTransitioned FeedAction = "transitioned"
	FeedActionSubmitted    FeedAction = "submitted"
	FeedActionConfirmed    FeedAction = "confirmed"
	FeedActionCompleted    FeedAction = "completed"
)
