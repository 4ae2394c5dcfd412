// internal/routes/routes.go
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"ticket-service/internal/config"
	"ticket-service/internal/database"
	"ticket-service/internal/handler"
	"ticket-service/internal/middleware"
	"ticket-service/internal/repository"
	"ticket-service/internal/scanner"
	"ticket-service/internal/service"
	"ticket-service/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config            *config.Config
	logger            *zap.Logger
	db                *database.DB
	ticketRepo        repository.TicketRepository
	ticketService     *service.TicketService
	redemptionService *service.RedemptionService
	classifier        *scanner.Classifier
	scannerService    *scanner.Service
	wsHandler         *handler.WebSocketHandler
}

// NewRouter creates a new router instance. db is nil when tickets are kept in memory.
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	db *database.DB,
	ticketRepo repository.TicketRepository,
	ticketService *service.TicketService,
	redemptionService *service.RedemptionService,
	classifier *scanner.Classifier,
	scannerService *scanner.Service,
	wsHandler *handler.WebSocketHandler,
) *Router {
	return &Router{
		config:            config,
		logger:            logger,
		db:                db,
		ticketRepo:        ticketRepo,
		ticketService:     ticketService,
		redemptionService: redemptionService,
		classifier:        classifier,
		scannerService:    scannerService,
		wsHandler:         wsHandler,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else if r.config.App.Debug {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Security))
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.db, r.ticketRepo, r.scannerService, r.config, r.logger)
	ticketHandler := handler.NewTicketHandler(r.ticketService, r.logger)
	redemptionHandler := handler.NewRedemptionHandler(r.classifier, r.redemptionService, r.config.Redemption.Timeout, r.logger)
	scannerHandler := handler.NewScannerHandler(r.scannerService)

	// Health check routes
	healthHandler.RegisterRoutes(router)

	// API v1 routes
	apiV1 := router.Group("/api/v1")
	ticketHandler.RegisterRoutes(apiV1)
	redemptionHandler.RegisterRoutes(apiV1)
	scannerHandler.RegisterRoutes(apiV1)

	// WebSocket routes
	r.wsHandler.RegisterRoutes(router.Group("/ws"))

	r.addDocumentationRoutes(router)

	r.logger.Info("All routes configured successfully")
}

// addDocumentationRoutes sets up documentation routes
func (r *Router) addDocumentationRoutes(router *gin.Engine) {
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))

	router.GET("/docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})
}
