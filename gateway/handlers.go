package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/example/tableorder/pkg/ledger"
	"github.com/example/tableorder/pkg/models"
	"github.com/gin-gonic/gin"
)

type placeOrderRequest struct {
	Items []ledger.Line `json:"items"`
}

type deliveryRequest struct {
	IsDelivered *bool `json:"isDelivered" binding:"required"`
}

func idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid %s", name)})
		return 0, false
	}
	return uint(id), true
}

func writeError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, models.ErrInvalidState), errors.Is(err, models.ErrVersionConflict):
		code = http.StatusConflict
	case errors.Is(err, models.ErrInvalidQuantity):
		code = http.StatusBadRequest
	case errors.Is(err, models.ErrStorageUnavailable):
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func (g *Gateway) listTables(c *gin.Context) {
	tables, err := g.ledger.Tables(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tables": tables})
}

// listTableOrders serves the customer history view by default and the
// full table record with scope=all.
func (g *Gateway) listTableOrders(c *gin.Context) {
	tableID, ok := idParam(c, "id")
	if !ok {
		return
	}

	var (
		orders []models.Order
		err    error
	)
	switch c.DefaultQuery("scope", "history") {
	case "history":
		orders, err = g.ledger.TableHistory(c.Request.Context(), tableID)
	case "all":
		orders, err = g.ledger.TableOrders(c.Request.Context(), tableID)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope must be history or all"})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (g *Gateway) placeOrder(c *gin.Context) {
	tableID, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := g.ledger.PlaceOrder(c.Request.Context(), tableID, req.Items)
	if err != nil {
		writeError(c, err)
		return
	}
	if order == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (g *Gateway) requestBill(c *gin.Context) {
	tableID, ok := idParam(c, "id")
	if !ok {
		return
	}

	count, err := g.ledger.RequestBill(c.Request.Context(), tableID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orderCount": count})
}

func (g *Gateway) finishSession(c *gin.Context) {
	tableID, ok := idParam(c, "id")
	if !ok {
		return
	}

	count, err := g.ledger.FinishSession(c.Request.Context(), tableID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orderCount": count})
}

// listOrders accepts status=open, status=closed or a comma separated
// list of statuses.
func (g *Gateway) listOrders(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		orders []models.Order
		err    error
	)
	switch filter := c.DefaultQuery("status", "open"); filter {
	case "open":
		orders, err = g.ledger.OpenOrders(ctx)
	case "closed":
		orders, err = g.ledger.ClosedOrders(ctx)
	default:
		var statuses []models.OrderStatus
		for _, s := range strings.Split(filter, ",") {
			status := models.OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
			if !status.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown status %q", s)})
				return
			}
			statuses = append(statuses, status)
		}
		orders, err = g.ledger.OrdersByStatus(ctx, statuses...)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (g *Gateway) getOrder(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	order, err := g.ledger.Order(c.Request.Context(), orderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (g *Gateway) markAllDelivered(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	order, err := g.ledger.MarkAllDelivered(c.Request.Context(), orderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (g *Gateway) markPaid(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	order, err := g.ledger.MarkPaid(c.Request.Context(), orderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (g *Gateway) orderAudit(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}
	if g.audit == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit log disabled"})
		return
	}

	logs, err := g.audit.OrderAuditLogs(c.Request.Context(), orderID, 100)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": logs})
}

func (g *Gateway) toggleItemDelivery(c *gin.Context) {
	itemID, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req deliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := g.ledger.ToggleItemDelivery(c.Request.Context(), itemID, *req.IsDelivered)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (g *Gateway) listPrintJobs(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	jobs, err := g.queue.Pending(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (g *Gateway) markPrinted(c *gin.Context) {
	jobID, ok := idParam(c, "id")
	if !ok {
		return
	}

	job, err := g.queue.MarkPrinted(c.Request.Context(), jobID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}
