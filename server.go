package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/warehouse_backend/config"
	"bitbucket.org/mmdatafocus/warehouse_backend/middlewares"
	"bitbucket.org/mmdatafocus/warehouse_backend/models"
	"bitbucket.org/mmdatafocus/warehouse_backend/utils"
	"bitbucket.org/mmdatafocus/warehouse_backend/workflow"
	"github.com/bsm/redislock"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("warehouse-backend")

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Correlation-Id"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(middlewares.AuthMiddleware())

	registerRoutes(router)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Listen first, connect dependencies after (Cloud Run wants the port open
	// quickly); requests arriving before the DB is up fail fast.
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	feed := workflow.NewChangefeed()
	dispatcher := workflow.NewOutboxDispatcher(config.GetDB(), config.GetLogger(), feed)
	go runDispatcherWithLeaderLock(ctx, dispatcher)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

// runDispatcherWithLeaderLock keeps at most one live dispatcher per redis
// deployment. Without redis every instance dispatches; SKIP LOCKED claiming
// keeps that safe, just less efficient.
func runDispatcherWithLeaderLock(ctx context.Context, dispatcher *workflow.OutboxDispatcher) {
	locker := config.GetRedisLock()
	if locker == nil {
		dispatcher.Run(ctx)
		return
	}

	const leaderKey = "outbox-dispatcher-leader"
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		lock, err := locker.Obtain(ctx, leaderKey, 30*time.Second, &redislock.Options{
			RetryStrategy: redislock.LinearBackoff(5 * time.Second),
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			continue
		}

		runCtx, cancel := context.WithCancel(ctx)
		go func() {
			ticker := time.NewTicker(10 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-runCtx.Done():
					return
				case <-ticker.C:
					if err := lock.Refresh(runCtx, 30*time.Second, nil); err != nil {
						cancel()
						return
					}
				}
			}
		}()
		dispatcher.Run(runCtx)
		cancel()
		_ = lock.Release(context.Background())
	}
}

func registerRoutes(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/auth/login", loginHandler)

	api := router.Group("/api")

	api.POST("/users", requireAction(models.ActionManageUsers), createUserHandler)

	api.POST("/skus", createSkuHandler)
	api.GET("/skus", listSkusHandler)
	api.GET("/skus/:id", getSkuHandler)
	api.GET("/skus/:id/barcodes", listInStockBarcodesHandler)

	api.POST("/suppliers", createSupplierHandler)
	api.GET("/suppliers", listSuppliersHandler)
	api.GET("/suppliers/:id", getSupplierHandler)

	api.POST("/shipments", requireAction(models.ActionCreateShipment), createShipmentHandler)
	api.GET("/shipments", listShipmentsHandler)
	api.GET("/shipments/:id", getShipmentHandler)
	api.POST("/barcodes/print", requireAction(models.ActionCreateShipment), markPrintedHandler)
	api.POST("/barcodes/:id/transition", requireAction(models.ActionTransitionBarcode), transitionBarcodeHandler)
	api.POST("/barcodes/lookup", lookupBarcodesHandler)

	api.POST("/skus/:id/opname", requireAction(models.ActionSubmitOpname), submitOpnameHandler)
	api.GET("/opname", listOpnameLogsHandler)
	api.GET("/opname/:id", getOpnameLogHandler)
	api.POST("/opname/:id/confirm-lost", requireAction(models.ActionConfirmOpnameLost), confirmOpnameLostHandler)

	api.POST("/purchase-orders", requireAction(models.ActionManagePurchaseOrder), createPurchaseOrderHandler)
	api.GET("/purchase-orders/:id", getPurchaseOrderHandler)
	api.POST("/purchase-orders/:id/items/import", requireAction(models.ActionManagePurchaseOrder), importPurchaseOrderItemsHandler)

	api.POST("/purchase-orders/:id/receive", requireAction(models.ActionReceivePurchase), initializeReceivingHandler)
	api.GET("/receives/:id", getReceiveSessionHandler)
	api.POST("/receives/items/:id/receipt", requireAction(models.ActionReceivePurchase), recordReceiptHandler)
	api.POST("/receives/items/:id/damaged", requireAction(models.ActionReceivePurchase), recordDamagedHandler)
	api.POST("/receives/:id/complete", requireAction(models.ActionCompleteReceiving), completeReceivingHandler)

	api.GET("/refunds", listRefundsHandler)
	api.GET("/refunds/:id", getRefundHandler)
}

// requireAction evaluates the role policy before the handler runs. The
// models package never checks permissions itself.
func requireAction(action models.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := utils.GetUserRoleFromContext(c.Request.Context())
		if !ok || !models.Allows(models.UserRole(role), action) {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

func pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func loginHandler(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token, user, err := models.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

func createUserHandler(c *gin.Context) {
	var input models.NewUser
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := models.CreateUser(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func createSkuHandler(c *gin.Context) {
	var input models.NewSku
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sku, err := models.CreateSku(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sku)
}

func listSkusHandler(c *gin.Context) {
	var name *string
	if v := c.Query("name"); v != "" {
		name = &v
	}
	skus, err := models.ListSkus(c.Request.Context(), name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, skus)
}

func getSkuHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	sku, err := models.GetSku(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sku)
}

func listInStockBarcodesHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	barcodes, err := models.ListInStockBarcodes(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, barcodes)
}

func createSupplierHandler(c *gin.Context) {
	var input models.NewSupplier
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	supplier, err := models.CreateSupplier(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, supplier)
}

func listSuppliersHandler(c *gin.Context) {
	var name *string
	if v := c.Query("name"); v != "" {
		name = &v
	}
	suppliers, err := models.ListSuppliers(c.Request.Context(), name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, suppliers)
}

func getSupplierHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	supplier, err := models.GetSupplier(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, supplier)
}

func createShipmentHandler(c *gin.Context) {
	var input models.NewShipment
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	shipment, barcodes, err := models.CreateShipment(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"shipment": shipment, "barcodes": barcodes})
}

func listShipmentsHandler(c *gin.Context) {
	var skuId *int
	if v := c.Query("sku_id"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			skuId = &id
		}
	}
	shipments, err := models.ListShipments(c.Request.Context(), skuId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, shipments)
}

func getShipmentHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	shipment, err := models.GetShipment(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, shipment)
}

func markPrintedHandler(c *gin.Context) {
	var req struct {
		BarcodeIds []int `json:"barcode_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := models.MarkBarcodesPrinted(c.Request.Context(), req.BarcodeIds); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"printed": len(req.BarcodeIds)})
}

func transitionBarcodeHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req struct {
		Status models.BarcodeStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()

	// restoring a lost barcode needs the elevated permission
	if req.Status == models.BarcodeStatusInStock {
		current, err := models.GetBarcodesByIds(ctx, []int{id})
		if err != nil {
			respondError(c, err)
			return
		}
		if len(current) == 1 && current[0].Status == models.BarcodeStatusLost {
			role, _ := utils.GetUserRoleFromContext(ctx)
			if !models.Allows(models.UserRole(role), models.ActionRestoreLostBarcode) {
				c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
				return
			}
		}
	}

	barcode, err := models.TransitionBarcode(ctx, id, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, barcode)
}

func lookupBarcodesHandler(c *gin.Context) {
	var req struct {
		Ids []int `json:"ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	barcodes, err := models.GetBarcodesByIds(c.Request.Context(), req.Ids)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, barcodes)
}

func submitOpnameHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req struct {
		Scanned []string `json:"scanned"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "opname.submit")
	defer span.End()
	opnameLog, err := models.SubmitOpname(ctx, id, req.Scanned)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, opnameLog)
}

func listOpnameLogsHandler(c *gin.Context) {
	var skuId *int
	if v := c.Query("sku_id"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			skuId = &id
		}
	}
	logs, err := models.ListOpnameLogs(c.Request.Context(), skuId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

func getOpnameLogHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	opnameLog, err := models.GetOpnameLog(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, opnameLog)
}

func confirmOpnameLostHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req struct {
		BarcodeId int `json:"barcode_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	opnameLog, err := models.ConfirmOpnameLost(c.Request.Context(), id, req.BarcodeId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, opnameLog)
}

func createPurchaseOrderHandler(c *gin.Context) {
	var input models.NewPurchaseOrder
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	po, err := models.CreatePurchaseOrder(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, po)
}

func getPurchaseOrderHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	po, err := models.GetPurchaseOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, po)
}

func importPurchaseOrderItemsHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file upload"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer file.Close()

	items, err := models.ImportPurchaseOrderItems(c.Request.Context(), id, file)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, items)
}

func initializeReceivingHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	session, err := models.InitializeReceiving(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func getReceiveSessionHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	session, err := models.GetReceiveSession(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func recordReceiptHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req struct {
		Quantity decimal.Decimal `json:"quantity" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	item, err := models.RecordReceipt(c.Request.Context(), id, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func recordDamagedHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req struct {
		Quantity decimal.Decimal `json:"quantity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	item, err := models.RecordDamaged(c.Request.Context(), id, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func completeReceivingHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "receiving.complete")
	defer span.End()
	session, refund, err := models.CompleteReceiving(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session, "refund": refund})
}

func getRefundHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	refund, err := models.GetRefund(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, refund)
}

func listRefundsHandler(c *gin.Context) {
	var supplierId *int
	if v := c.Query("supplier_id"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			supplierId = &id
		}
	}
	refunds, err := models.ListRefunds(c.Request.Context(), supplierId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, refunds)
}
