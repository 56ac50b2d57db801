package panel

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/frameforge/internal/models"
)

// registerRoutes sets up all panel routes on the Gin router.
func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Sessions.
	router.POST("/auth/login", s.handleLogin)
	router.POST("/auth/logout", s.handleLogout)
	router.GET("/auth/me", s.handleMe)
	router.GET("/admin/bootstrap/status", s.handleBootstrapStatus)
	router.POST("/admin/bootstrap", s.handleBootstrap)
	router.POST("/admin/login", s.handleAdminLogin)
	router.POST("/admin/logout", s.handleAdminLogout)

	admin := router.Group("/admin", s.requireRole(models.RoleAdmin))
	admin.GET("/me", s.handleAdminMe)
	admin.GET("/stats", s.handleStats)

	admin.GET("/users", s.handleAdminListUsers)
	admin.POST("/users", s.handleAdminCreateUser)
	admin.PUT("/users/:id", s.handleAdminUpdateUser)
	admin.DELETE("/users/:id", s.handleAdminDeleteUser)

	admin.GET("/automatons", s.handleAdminListAutomatons)
	admin.POST("/automatons", s.handleAdminCreateAutomaton)
	admin.POST("/automatons/:id/start", s.handleAdminStart)
	admin.POST("/automatons/:id/stop", s.handleAdminStop)
	admin.DELETE("/automatons/:id", s.handleAdminDeleteAutomaton)
	admin.GET("/automatons/:id/gears/:gearKey/config", s.handleAdminGetAssignmentConfig)
	admin.PUT("/automatons/:id/gears/:gearKey/config", s.handleAdminPutAssignmentConfig)

	admin.GET("/gears", s.handleAdminListGears)
	admin.GET("/gears/:key", s.handleAdminGetGear)
	admin.PATCH("/gears/:key", s.handleAdminToggleGear)
	admin.GET("/gears/:key/config", s.handleAdminGetGearDefaults)
	admin.PUT("/gears/:key/config", s.handleAdminPutGearDefaults)

	admin.GET("/system/:category", s.handleGetSystem)
	admin.PUT("/system/:category", s.handlePutSystem)

	admin.GET("/tickets", s.handleAdminListTickets)
	admin.POST("/tickets", s.handleAdminCreateTicket)
	admin.PUT("/tickets/:id", s.handleAdminUpdateTicket)

	admin.GET("/logs", s.handleLogs)
	admin.GET("/logs/stream", s.handleLogStream)

	user := router.Group("/user", s.requireRole(models.RoleUser))
	user.GET("/workshop", s.handleWorkshop)
	user.GET("/automatons", s.handleUserListAutomatons)
	user.POST("/automatons", s.handleUserCreateAutomaton)
	user.POST("/automatons/:id/start", s.handleUserStart)
	user.POST("/automatons/:id/stop", s.handleUserStop)
	user.DELETE("/automatons/:id", s.handleUserDeleteAutomaton)
	user.PUT("/automatons/:id/config", s.handleUserUpdateAutomaton)
	user.GET("/automatons/:id/gears", s.handleUserListAssignments)
	user.POST("/automatons/:id/gears", s.handleUserSetAssignments)
	user.GET("/automatons/:id/gears/:gearKey/config", s.handleUserGetAssignmentConfig)
	user.PUT("/automatons/:id/gears/:gearKey/config", s.handleUserPutAssignmentConfig)
	user.GET("/automatons/:id/news/posts", s.handleListNews)
	user.POST("/automatons/:id/news/posts", s.handlePublishNews)
	user.GET("/automatons/:id/discord/guilds", s.handleDiscordGuilds)
	user.GET("/automatons/:id/discord/channels", s.handleDiscordChannels)
	user.GET("/automatons/:id/discord/profile", s.handleDiscordProfile)
	user.PATCH("/automatons/:id/discord/profile", s.handleDiscordUpdateProfile)

	user.GET("/tickets", s.handleUserListTickets)
	user.POST("/tickets", s.handleUserCreateTicket)
	user.PUT("/tickets/:id", s.handleUserUpdateTicket)
	user.POST("/tickets/:id/resolve", s.handleUserResolveTicket)

	router.POST("/webhooks/news/:automatonId/:token", s.handleNewsWebhook)
}
