package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/thitsarsoft/commerce_backend/config"
	"github.com/thitsarsoft/commerce_backend/models"
	"github.com/thitsarsoft/commerce_backend/utils"
	"github.com/thitsarsoft/commerce_backend/workflow"
)

// requestContext copies tenant and correlation metadata from headers into
// the request context. Authentication/RBAC is handled upstream; this
// service trusts X-Business-Id from the gateway.
func requestContext(c *gin.Context) context.Context {
	ctx := c.Request.Context()

	businessId := strings.TrimSpace(c.GetHeader("X-Business-Id"))
	if businessId != "" {
		ctx = utils.SetBusinessIdInContext(ctx, businessId)
	}
	if userId, err := strconv.Atoi(c.GetHeader("X-User-Id")); err == nil {
		ctx = utils.SetUserIdInContext(ctx, userId)
	}
	correlationId := strings.TrimSpace(c.GetHeader("X-Correlation-Id"))
	if correlationId == "" {
		correlationId = uuid.NewString()
	}
	ctx = utils.SetCorrelationIdInContext(ctx, correlationId)
	return ctx
}

func commandErrorStatus(err error) int {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.As(err, &validationErrs):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, models.ErrLockWaitTimeout):
		return http.StatusConflict
	case errors.Is(err, models.ErrReservationNotActive),
		errors.Is(err, models.ErrOrderNotConfirmed),
		errors.Is(err, models.ErrStockItemArchived):
		return http.StatusUnprocessableEntity
	case errors.Is(err, utils.ErrorRecordNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func commandErrorBody(err error) gin.H {
	reason := "internal"
	var validationErrs validator.ValidationErrors
	switch {
	case errors.As(err, &validationErrs):
		reason = "validation"
	case errors.Is(err, models.ErrInsufficientStock):
		reason = "insufficient_stock"
	case errors.Is(err, models.ErrLockWaitTimeout):
		reason = "concurrent_modification_timeout"
	case errors.Is(err, models.ErrReservationNotActive):
		reason = "reservation_not_active"
	case errors.Is(err, models.ErrOrderNotConfirmed):
		reason = "order_not_confirmed"
	case errors.Is(err, models.ErrStockItemArchived):
		reason = "stock_item_archived"
	case errors.Is(err, utils.ErrorRecordNotFound):
		reason = "not_found"
	}
	return gin.H{"error": err.Error(), "reason": reason}
}

func newRouter(logger *logrus.Logger, commands *workflow.StockCommands) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "X-Business-Id", "X-User-Id", "X-Correlation-Id"},
	}))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")

	api.POST("/stock/reserve", func(c *gin.Context) {
		var cmd workflow.ReserveStockCommand
		if err := c.ShouldBindJSON(&cmd); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "reason": "validation"})
			return
		}
		reservation, err := commands.ReserveStock(requestContext(c), cmd)
		if err != nil {
			c.JSON(commandErrorStatus(err), commandErrorBody(err))
			return
		}
		c.JSON(http.StatusCreated, reservation)
	})

	api.POST("/stock/release", func(c *gin.Context) {
		var cmd workflow.ReleaseReservationCommand
		if err := c.ShouldBindJSON(&cmd); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "reason": "validation"})
			return
		}
		if err := commands.ReleaseReservation(requestContext(c), cmd); err != nil {
			c.JSON(commandErrorStatus(err), commandErrorBody(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "released"})
	})

	api.POST("/stock/commit-shipment", func(c *gin.Context) {
		var cmd workflow.CommitShipmentCommand
		if err := c.ShouldBindJSON(&cmd); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "reason": "validation"})
			return
		}
		movement, err := commands.CommitShipment(requestContext(c), cmd)
		if err != nil {
			c.JSON(commandErrorStatus(err), commandErrorBody(err))
			return
		}
		c.JSON(http.StatusCreated, movement)
	})

	api.POST("/stock/receive", func(c *gin.Context) {
		var cmd workflow.ReceivePurchaseLineCommand
		if err := c.ShouldBindJSON(&cmd); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "reason": "validation"})
			return
		}
		movement, err := commands.ReceivePurchaseLine(requestContext(c), cmd)
		if err != nil {
			c.JSON(commandErrorStatus(err), commandErrorBody(err))
			return
		}
		c.JSON(http.StatusCreated, movement)
	})

	api.POST("/stock/transfer", func(c *gin.Context) {
		var cmd workflow.TransferStockCommand
		if err := c.ShouldBindJSON(&cmd); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "reason": "validation"})
			return
		}
		movement, err := commands.TransferStock(requestContext(c), cmd)
		if err != nil {
			c.JSON(commandErrorStatus(err), commandErrorBody(err))
			return
		}
		c.JSON(http.StatusCreated, movement)
	})

	api.POST("/stock/adjust", func(c *gin.Context) {
		var cmd workflow.AdjustStockCommand
		if err := c.ShouldBindJSON(&cmd); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "reason": "validation"})
			return
		}
		movement, err := commands.AdjustStock(requestContext(c), cmd)
		if err != nil {
			c.JSON(commandErrorStatus(err), commandErrorBody(err))
			return
		}
		c.JSON(http.StatusCreated, movement)
	})

	api.GET("/stock/summary", func(c *gin.Context) {
		businessId := strings.TrimSpace(c.GetHeader("X-Business-Id"))
		productId, _ := strconv.Atoi(c.Query("product_id"))
		locationId, _ := strconv.Atoi(c.Query("location_id"))
		if businessId == "" || productId <= 0 || locationId <= 0 {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "business, product_id and location_id are required", "reason": "validation"})
			return
		}
		summary, err := models.GetProductStockSummary(config.GetDB(), businessId, productId, locationId)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "reason": "not_found"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	api.GET("/pricing/resolve", func(c *gin.Context) {
		productId, _ := strconv.Atoi(c.Query("product_id"))
		customerId, _ := strconv.Atoi(c.Query("customer_id"))
		qty, err := decimal.NewFromString(c.Query("qty"))
		if err != nil || productId <= 0 {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "product_id and qty are required", "reason": "validation"})
			return
		}
		result, err := models.ResolvePrice(requestContext(c), config.GetDB(), productId, customerId, qty)
		if err != nil {
			c.JSON(commandErrorStatus(err), commandErrorBody(err))
			return
		}
		c.JSON(http.StatusOK, result)
	})

	ops := router.Group("/ops")

	ops.GET("/outbox/:aggregateId", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.Query("limit"))
		views, err := models.GetOutboxStatus(requestContext(c), config.GetDB(), c.Param("aggregateId"), limit)
		if err != nil {
			c.JSON(commandErrorStatus(err), commandErrorBody(err))
			return
		}
		c.JSON(http.StatusOK, views)
	})

	ops.POST("/outbox/requeue-dead", func(c *gin.Context) {
		businessId := strings.TrimSpace(c.GetHeader("X-Business-Id"))
		if businessId == "" {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "X-Business-Id is required", "reason": "validation"})
			return
		}
		var body struct {
			Ids []int `json:"ids"`
		}
		_ = c.ShouldBindJSON(&body)
		count, err := models.RequeueDeadOutboxEvents(requestContext(c), config.GetDB(), businessId, body.Ids)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "reason": "internal"})
			return
		}
		logger.WithFields(logrus.Fields{
			"field":       "OutboxRequeue",
			"business_id": businessId,
			"requeued":    count,
		}).Warn("dead outbox rows requeued")
		c.JSON(http.StatusOK, gin.H{"requeued": count})
	})

	return router
}
