package console

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/userdir/userdir/internal/config"
	"github.com/userdir/userdir/internal/directory/users"
)

// HealthChecker reports whether a dependency of the console is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
	Name() string
}

// ConsoleService exposes the directory to presentation clients over JSON
type ConsoleService struct {
	Directory users.Directory
	Health    []HealthChecker
	Logger    *zap.Logger
	Config    *config.Config
}

// NewConsoleService creates a new console service
func NewConsoleService(
	directory users.Directory,
	logger *zap.Logger,
	cfg *config.Config,
	health ...HealthChecker,
) *ConsoleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsoleService{
		Directory: directory,
		Health:    health,
		Logger:    logger,
		Config:    cfg,
	}
}

// SetupRoutes sets up the console routes
func (cs *ConsoleService) SetupRoutes(router *gin.Engine) {
	router.Use(cors.New(cs.corsConfig()))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	consoleGroup := router.Group("/console/api")
	{
		consoleGroup.GET("/state", cs.getState)
		consoleGroup.GET("/health", cs.getHealth)

		consoleGroup.POST("/users/fetch", cs.fetchUsers)
		consoleGroup.POST("/page/advance", cs.advancePage)
		consoleGroup.POST("/error/reset", cs.resetError)
		consoleGroup.POST("/reset", cs.reset)

		consoleGroup.GET("/users/:id", cs.getUser)
		consoleGroup.POST("/users", cs.createUser)
		consoleGroup.PUT("/users/:id", cs.updateUser)
		consoleGroup.DELETE("/users/:id", cs.deleteUser)
	}
}

func (cs *ConsoleService) corsConfig() cors.Config {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}

	origins := []string{"*"}
	if cs.Config != nil && len(cs.Config.Common.Console.AllowedOrigins) > 0 {
		origins = cs.Config.Common.Console.AllowedOrigins
	}
	for _, origin := range origins {
		if origin == "*" {
			corsConfig.AllowAllOrigins = true
			return corsConfig
		}
	}
	corsConfig.AllowOrigins = origins
	return corsConfig
}

// getState returns the current directory snapshot
func (cs *ConsoleService) getState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": cs.Directory.State()})
}

// fetchUsers loads the requested page, or the current page when none is given
func (cs *ConsoleService) fetchUsers(c *gin.Context) {
	page := cs.Directory.State().CurrentPage
	if raw := c.Query("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "page must be an integer"})
			return
		}
		page = parsed
	}

	fetched, err := cs.Directory.FetchNextPage(c.Request.Context(), page)
	if err != nil {
		cs.respondError(c, "Failed to fetch users", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"page":  page,
		"users": fetched,
		"state": cs.Directory.State(),
	})
}

func (cs *ConsoleService) advancePage(c *gin.Context) {
	cs.Directory.AdvancePage()
	c.JSON(http.StatusOK, gin.H{"state": cs.Directory.State()})
}

func (cs *ConsoleService) resetError(c *gin.Context) {
	cs.Directory.ResetError()
	c.JSON(http.StatusOK, gin.H{"state": cs.Directory.State()})
}

func (cs *ConsoleService) reset(c *gin.Context) {
	cs.Directory.Reset()
	c.JSON(http.StatusOK, gin.H{"state": cs.Directory.State()})
}

// getUser returns the entry used to prefill the edit form
func (cs *ConsoleService) getUser(c *gin.Context) {
	id := users.ID(c.Param("id"))
	user, ok := cs.Directory.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user": user,
		"form": users.FormValuesFrom(user),
	})
}

// createUser validates the submitted form and adds the user
func (cs *ConsoleService) createUser(c *gin.Context) {
	var form users.FormValues
	if err := c.ShouldBindJSON(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := cs.Directory.Submit(c.Request.Context(), form, "")
	if err != nil {
		cs.respondError(c, "Failed to create user", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": user})
}

// updateUser validates the submitted form and replaces the user
func (cs *ConsoleService) updateUser(c *gin.Context) {
	id := users.ID(c.Param("id"))
	if _, ok := cs.Directory.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	var form users.FormValues
	if err := c.ShouldBindJSON(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := cs.Directory.Submit(c.Request.Context(), form, id)
	if err != nil {
		cs.respondError(c, "Failed to update user", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (cs *ConsoleService) deleteUser(c *gin.Context) {
	id, err := cs.Directory.DeleteUser(c.Request.Context(), users.ID(c.Param("id")))
	if err != nil {
		cs.respondError(c, "Failed to delete user", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id})
}

// getHealth reports the console and repository health
func (cs *ConsoleService) getHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	services := gin.H{}
	for _, checker := range cs.Health {
		if err := checker.HealthCheck(ctx); err != nil {
			status = http.StatusServiceUnavailable
			services[checker.Name()] = gin.H{"status": "unhealthy", "error": err.Error()}
			continue
		}
		services[checker.Name()] = gin.H{"status": "healthy"}
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}

	c.JSON(status, gin.H{
		"status":    overall,
		"timestamp": time.Now().Format(time.RFC3339),
		"services":  services,
	})
}

// respondError maps directory errors onto status codes
func (cs *ConsoleService) respondError(c *gin.Context, msg string, err error) {
	var verr *users.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": verr.Message,
			"field": verr.Field,
		})
		return
	}

	var opErr *users.OperationError
	if errors.As(err, &opErr) {
		cs.Logger.Error(msg, zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": opErr.Cause.Error()})
		return
	}

	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
