package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/storefront/marketsync/internal/infrastructure/auth"
	"github.com/storefront/marketsync/internal/interfaces/http/middleware"
	"github.com/storefront/marketsync/internal/interfaces/http/router"
)

// SyncRoutes creates the route groups for product sync and sync logs.
// Import and sweep requests run for minutes, so callers should not put a
// request timeout in mw.
func SyncRoutes(handler *SyncHandler, mw ...gin.HandlerFunc) []*router.DomainGroup {
	sync := router.NewDomainGroup("sync", "/sync")
	sync.Use(mw...)
	sync.Use(middleware.RequireScope(auth.ScopeSyncWrite))
	sync.Handle(http.MethodPost, "/:marketplace/import", "Import listings into the catalog", handler.Import)
	sync.Handle(http.MethodPost, "/:marketplace/daily", "Run the price and stock sweep", handler.DailySync)
	sync.Handle(http.MethodPost, "/:marketplace/products/:id/refresh", "Refresh one product", handler.RefreshProduct)

	products := router.NewDomainGroup("products", "/products")
	products.Use(mw...)
	products.Use(middleware.RequireScope(auth.ScopeSyncWrite))
	products.Handle(http.MethodPost, "/:id/push-inventory", "Push local stock to the marketplace", handler.PushInventory)
	products.Handle(http.MethodPatch, "/:id/price-stock", "Edit price and stock by hand", handler.SetPriceStock)

	logs := router.NewDomainGroup("sync-logs", "/sync-logs")
	logs.Use(mw...)
	logs.Use(middleware.RequireScope(auth.ScopeSyncRead))
	logs.GET("", handler.ListSyncLogs)
	logs.GET("/:id", handler.GetSyncLog)

	return []*router.DomainGroup{sync, products, logs}
}

// JobRoutes creates the route group for background jobs
func JobRoutes(handler *JobHandler, mw ...gin.HandlerFunc) *router.DomainGroup {
	group := router.NewDomainGroup("jobs", "/jobs")
	group.Use(mw...)
	group.Use(middleware.RequireMethodScope(auth.ScopeSyncRead, auth.ScopeSyncWrite))

	group.Handle(http.MethodPost, "", "Trigger a job now", handler.Trigger)
	group.GET("/history", handler.History)
	group.GET("/pending", handler.Pending)

	return group
}

// ConnectionRoutes creates the route groups for connection settings and the
// reliability layer
func ConnectionRoutes(handler *ConnectionHandler, mw ...gin.HandlerFunc) []*router.DomainGroup {
	connections := router.NewDomainGroup("connections", "/connections")
	connections.Use(mw...)
	connections.Use(middleware.RequireMethodScope(auth.ScopeSyncRead, auth.ScopeAdmin))
	connections.GET("", handler.List)
	connections.GET("/:marketplace", handler.Get)
	connections.PATCH("/:marketplace", handler.Update)
	connections.Handle(http.MethodPost, "/:marketplace/test", "Test marketplace credentials", handler.Test)

	rel := router.NewDomainGroup("reliability", "/reliability")
	rel.Use(mw...)
	rel.Use(middleware.RequireMethodScope(auth.ScopeSyncRead, auth.ScopeAdmin))
	rel.GET("/status", handler.Status)
	rel.POST("/limits/reload", handler.ReloadLimits)
	rel.POST("/breakers/reset", handler.ResetBreaker)

	return []*router.DomainGroup{connections, rel}
}

// OrderRoutes creates the route groups for fulfillment and returns
func OrderRoutes(handler *OrderHandler, mw ...gin.HandlerFunc) []*router.DomainGroup {
	orders := router.NewDomainGroup("orders", "/orders")
	orders.Use(mw...)
	orders.Use(middleware.RequireMethodScope(auth.ScopeSyncRead, auth.ScopeOrdersWrite))
	orders.POST("/refresh-status", handler.RefreshOpen)
	orders.Handle(http.MethodPost, "/:id/fulfill", "Place remote orders", handler.Fulfill)
	orders.POST("/:id/refresh-status", handler.RefreshStatus)
	orders.GET("/:id/returns", handler.ListReturns)
	orders.GET("/:id/fulfillment-logs", handler.ListFulfillmentLogs)

	returns := router.NewDomainGroup("returns", "/returns")
	returns.Use(mw...)
	returns.Use(middleware.RequireScope(auth.ScopeOrdersWrite))
	returns.POST("", handler.InitiateReturn)
	returns.PATCH("/:id", handler.AdvanceReturn)

	return []*router.DomainGroup{orders, returns}
}

// AuthRoutes creates the route group for operator tokens
func AuthRoutes(handler *AuthHandler, mw ...gin.HandlerFunc) *router.DomainGroup {
	group := router.NewDomainGroup("auth", "/auth")
	group.Use(mw...)

	group.GET("/me", handler.Me)
	group.DELETE("/tokens/current", handler.RevokeCurrent)

	admin := group.Group("auth-admin", "")
	admin.Use(middleware.RequireScope(auth.ScopeAdmin))
	admin.POST("/tokens", handler.IssueToken)
	admin.POST("/operators/:operator/revoke", handler.RevokeOperator)

	return group
}

// SystemRoutes creates the route group for system information
func SystemRoutes(handler *SystemHandler, mw ...gin.HandlerFunc) *router.DomainGroup {
	group := router.NewDomainGroup("system", "/system")
	group.Use(mw...)

	group.GET("/info", handler.GetSystemInfo)
	group.GET("/ping", handler.Ping)

	return group
}
