package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/warehouse_backend/config"
	"bitbucket.org/mmdatafocus/warehouse_backend/models"
	"bitbucket.org/mmdatafocus/warehouse_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// End-to-end reconciliation flow against real MySQL and redis containers:
// shipment creation, lifecycle transitions, stock opname with lost
// confirmation, and PO receiving with refund emission.
func TestReconciliationFlow(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "warehouse_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	businessID := uuid.NewString()
	ctx = utils.SetBusinessIdInContext(ctx, businessID)
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUsernameInContext(ctx, "test@local")
	ctx = utils.SetUserRoleInContext(ctx, string(models.UserRoleManager))

	sku, err := models.CreateSku(ctx, &models.NewSku{Code: "SHIRT-BL-M", Name: "Blue Shirt M", Unit: "pcs"})
	if err != nil {
		t.Fatalf("CreateSku: %v", err)
	}
	supplier, err := models.CreateSupplier(ctx, &models.NewSupplier{Name: "Garment Co"})
	if err != nil {
		t.Fatalf("CreateSupplier: %v", err)
	}

	// nothing in stock yet: there is no expected set to reconcile against
	if _, err := models.SubmitOpname(ctx, sku.ID, nil); err == nil {
		t.Fatal("opname for a sku with zero in-stock barcodes must be rejected")
	} else if !strings.Contains(err.Error(), "no in-stock barcodes") {
		t.Fatalf("zero-stock opname error = %q", err)
	}
	if logs, err := models.ListOpnameLogs(ctx, &sku.ID); err != nil {
		t.Fatalf("ListOpnameLogs: %v", err)
	} else if len(logs) != 0 {
		t.Fatalf("rejected opname still created %d log(s)", len(logs))
	}

	// 10 packs of 5 pcs arrive
	packs := make([]models.NewPack, 10)
	for i := range packs {
		packs[i] = models.NewPack{Quantity: decimal.NewFromInt(5)}
	}
	_, barcodes, err := models.CreateShipment(ctx, &models.NewShipment{
		SupplierId: supplier.ID,
		SkuId:      sku.ID,
		Packs:      packs,
	})
	if err != nil {
		t.Fatalf("CreateShipment: %v", err)
	}
	if len(barcodes) != 10 {
		t.Fatalf("got %d barcodes, want 10", len(barcodes))
	}
	for _, b := range barcodes {
		if !models.ValidateBarcode(b.Code) {
			t.Errorf("barcode %q fails checksum validation", b.Code)
		}
	}
	assertSkuAggregates(t, ctx, sku.ID, 10, 50)

	// out and back in: aggregates follow each transition
	if _, err := models.TransitionBarcode(ctx, barcodes[0].ID, models.BarcodeStatusOutOfStock); err != nil {
		t.Fatalf("transition out: %v", err)
	}
	assertSkuAggregates(t, ctx, sku.ID, 9, 45)

	// repeating the same transition is a conflict, not a merge
	if _, err := models.TransitionBarcode(ctx, barcodes[0].ID, models.BarcodeStatusOutOfStock); !errors.Is(err, utils.ErrorConflict) {
		t.Fatalf("duplicate transition: got %v, want conflict", err)
	}

	if _, err := models.TransitionBarcode(ctx, barcodes[0].ID, models.BarcodeStatusInStock); err != nil {
		t.Fatalf("transition back in: %v", err)
	}
	assertSkuAggregates(t, ctx, sku.ID, 10, 50)

	// opname: scan 8 of 10
	scanned := make([]string, 0, 8)
	for _, b := range barcodes[:8] {
		scanned = append(scanned, b.Code)
	}
	opnameLog, err := models.SubmitOpname(ctx, sku.ID, scanned)
	if err != nil {
		t.Fatalf("SubmitOpname: %v", err)
	}
	if opnameLog.Status != models.OpnameStatusNotOK {
		t.Errorf("opname status = %s, want %s", opnameLog.Status, models.OpnameStatusNotOK)
	}
	if opnameLog.TotalNotOKPacks != 2 || !opnameLog.TotalNotOKPcs.Equal(decimal.NewFromInt(10)) {
		t.Errorf("not-ok totals = %d packs / %s pcs, want 2 / 10", opnameLog.TotalNotOKPacks, opnameLog.TotalNotOKPcs)
	}
	if len(opnameLog.Discrepancies) != 2 {
		t.Fatalf("got %d discrepancy rows, want 2", len(opnameLog.Discrepancies))
	}

	// the snapshot does not touch stock by itself
	assertSkuAggregates(t, ctx, sku.ID, 10, 50)

	// confirm the first missing barcode lost; the log stays pending
	firstLost := opnameLog.Discrepancies[0].BarcodeId
	afterFirst, err := models.ConfirmOpnameLost(ctx, opnameLog.ID, firstLost)
	if err != nil {
		t.Fatalf("ConfirmOpnameLost #1: %v", err)
	}
	if afterFirst.DiscrepancyStatus != models.DiscrepancyStatusPending {
		t.Errorf("log discrepancy status after 1 of 2 = %s, want pending", afterFirst.DiscrepancyStatus)
	}
	assertSkuAggregates(t, ctx, sku.ID, 9, 45)

	// confirming the same row twice is a conflict
	if _, err := models.ConfirmOpnameLost(ctx, opnameLog.ID, firstLost); !errors.Is(err, utils.ErrorConflict) {
		t.Fatalf("duplicate confirm: got %v, want conflict", err)
	}

	// confirming the second row flips the log to confirmed
	secondLost := opnameLog.Discrepancies[1].BarcodeId
	afterSecond, err := models.ConfirmOpnameLost(ctx, opnameLog.ID, secondLost)
	if err != nil {
		t.Fatalf("ConfirmOpnameLost #2: %v", err)
	}
	if afterSecond.DiscrepancyStatus != models.DiscrepancyStatusConfirmed {
		t.Errorf("log discrepancy status after 2 of 2 = %s, want confirmed", afterSecond.DiscrepancyStatus)
	}
	assertSkuAggregates(t, ctx, sku.ID, 8, 40)

	// a lost barcode cannot go out-of-stock, only back in-stock
	if _, err := models.TransitionBarcode(ctx, firstLost, models.BarcodeStatusOutOfStock); err == nil {
		t.Fatal("lost -> out-of-stock transition must be rejected")
	}
	if _, err := models.TransitionBarcode(ctx, firstLost, models.BarcodeStatusInStock); err != nil {
		t.Fatalf("restore lost barcode: %v", err)
	}
	assertSkuAggregates(t, ctx, sku.ID, 9, 45)

	// PO receiving: 100 pcs at 5/pc, receive 80, damage 10 -> refund 100
	po, err := models.CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		SupplierId:  supplier.ID,
		OrderNumber: "PO-001",
		OrderDate:   time.Now().UTC(),
		Items: []models.NewPurchaseOrderItem{
			{
				SkuId:     sku.ID,
				Name:      "Blue Shirt M",
				Quantity:  decimal.NewFromInt(100),
				UnitPrice: decimal.NewFromInt(5),
			},
		},
	})
	if err != nil {
		t.Fatalf("CreatePurchaseOrder: %v", err)
	}

	session, err := models.InitializeReceiving(ctx, po.ID)
	if err != nil {
		t.Fatalf("InitializeReceiving: %v", err)
	}
	if len(session.Items) != 1 {
		t.Fatalf("got %d receive lines, want 1", len(session.Items))
	}
	line := session.Items[0]

	// re-initializing returns the same session
	again, err := models.InitializeReceiving(ctx, po.ID)
	if err != nil {
		t.Fatalf("InitializeReceiving again: %v", err)
	}
	if again.ID != session.ID {
		t.Errorf("re-init created a new session: %d vs %d", again.ID, session.ID)
	}

	// receipt is additive: 50 then 30
	if _, err := models.RecordReceipt(ctx, line.ID, decimal.NewFromInt(50)); err != nil {
		t.Fatalf("RecordReceipt 50: %v", err)
	}
	updated, err := models.RecordReceipt(ctx, line.ID, decimal.NewFromInt(30))
	if err != nil {
		t.Fatalf("RecordReceipt 30: %v", err)
	}
	if !updated.QtyReceived.Equal(decimal.NewFromInt(80)) {
		t.Errorf("QtyReceived = %s, want 80", updated.QtyReceived)
	}

	// over-allocation is rejected
	if _, err := models.RecordDamaged(ctx, line.ID, decimal.NewFromInt(30)); err == nil {
		t.Fatal("received 80 + damaged 30 must be rejected for ordered 100")
	}

	updated, err = models.RecordDamaged(ctx, line.ID, decimal.NewFromInt(10))
	if err != nil {
		t.Fatalf("RecordDamaged: %v", err)
	}
	if !updated.QtyNotReceived.Equal(decimal.NewFromInt(10)) {
		t.Errorf("QtyNotReceived = %s, want 10", updated.QtyNotReceived)
	}

	completed, refund, err := models.CompleteReceiving(ctx, session.ID)
	if err != nil {
		t.Fatalf("CompleteReceiving: %v", err)
	}
	if completed.Status != models.ReceiveStatusCompleted {
		t.Errorf("session status = %s, want %s", completed.Status, models.ReceiveStatusCompleted)
	}
	if refund == nil {
		t.Fatal("expected a refund for 20 undelivered/damaged pcs")
	}
	// 10 not received + 10 damaged at 5/pc
	if !refund.Amount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("refund amount = %s, want 100", refund.Amount)
	}

	// completion is one-way
	if _, _, err := models.CompleteReceiving(ctx, session.ID); err == nil {
		t.Fatal("completing twice must fail")
	}
	if _, err := models.RecordReceipt(ctx, line.ID, decimal.NewFromInt(1)); err == nil {
		t.Fatal("recording against a completed session must fail")
	}

	// completion and refund were committed together
	persisted, err := models.GetRefund(ctx, refund.ID)
	if err != nil {
		t.Fatalf("GetRefund: %v", err)
	}
	if persisted.ReceiveId != session.ID {
		t.Errorf("refund.ReceiveId = %d, want %d", persisted.ReceiveId, session.ID)
	}

	// second order: completion is gated until every line has received input
	po2, err := models.CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		SupplierId:  supplier.ID,
		OrderNumber: "PO-002",
		OrderDate:   time.Now().UTC(),
		Items: []models.NewPurchaseOrderItem{
			{SkuId: sku.ID, Name: "Blue Shirt M", Quantity: decimal.NewFromInt(10), UnitPrice: decimal.NewFromInt(5)},
			{SkuId: sku.ID, Name: "Blue Shirt L", Quantity: decimal.NewFromInt(10), UnitPrice: decimal.NewFromInt(5)},
		},
	})
	if err != nil {
		t.Fatalf("CreatePurchaseOrder PO-002: %v", err)
	}
	session2, err := models.InitializeReceiving(ctx, po2.ID)
	if err != nil {
		t.Fatalf("InitializeReceiving PO-002: %v", err)
	}
	if len(session2.Items) != 2 {
		t.Fatalf("got %d receive lines, want 2", len(session2.Items))
	}

	if _, err := models.RecordReceipt(ctx, session2.Items[0].ID, decimal.NewFromInt(10)); err != nil {
		t.Fatalf("RecordReceipt line 1: %v", err)
	}
	if _, _, err := models.CompleteReceiving(ctx, session2.ID); err == nil {
		t.Fatal("completing with an untouched line must fail")
	} else if !strings.Contains(err.Error(), "1 line(s) have no received input") {
		t.Fatalf("incomplete completion error = %q", err)
	}

	// the failed completion wrote nothing
	still, err := models.GetReceiveSession(ctx, session2.ID)
	if err != nil {
		t.Fatalf("GetReceiveSession after failed completion: %v", err)
	}
	if still.Status != models.ReceiveStatusInProgress {
		t.Errorf("session status after failed completion = %s, want %s", still.Status, models.ReceiveStatusInProgress)
	}
	refunds, err := models.ListRefunds(ctx, nil)
	if err != nil {
		t.Fatalf("ListRefunds: %v", err)
	}
	for _, r := range refunds {
		if r.ReceiveId == session2.ID {
			t.Fatalf("failed completion still created refund %d", r.ID)
		}
	}

	// with the second line received in full the gate opens, and a session
	// without discrepancies emits no refund
	if _, err := models.RecordReceipt(ctx, session2.Items[1].ID, decimal.NewFromInt(10)); err != nil {
		t.Fatalf("RecordReceipt line 2: %v", err)
	}
	completed2, refund2, err := models.CompleteReceiving(ctx, session2.ID)
	if err != nil {
		t.Fatalf("CompleteReceiving PO-002: %v", err)
	}
	if completed2.Status != models.ReceiveStatusCompleted {
		t.Errorf("session status = %s, want %s", completed2.Status, models.ReceiveStatusCompleted)
	}
	if refund2 != nil {
		t.Errorf("clean session emitted refund %+v, want none", refund2)
	}
}

func assertSkuAggregates(t *testing.T, ctx context.Context, skuId int, packs int, pcs int64) {
	t.Helper()
	sku, err := models.GetSku(ctx, skuId)
	if err != nil {
		t.Fatalf("GetSku: %v", err)
	}
	if sku.RemainingPacks != packs {
		t.Errorf("RemainingPacks = %d, want %d", sku.RemainingPacks, packs)
	}
	if !sku.RemainingQuantity.Equal(decimal.NewFromInt(pcs)) {
		t.Errorf("RemainingQuantity = %s, want %d", sku.RemainingQuantity, pcs)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("warehouse-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("warehouse-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=warehouse_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
