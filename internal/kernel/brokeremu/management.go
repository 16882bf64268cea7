package brokeremu

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// connectionString builds the emulator's advertised SAS connection
// string, matching spec.md §6's literal format: a development-emulator
// flavored Azure Service Bus connection string naming the AMQP data
// plane's host:port as the sb:// endpoint.
func connectionString(amqpHost string, amqpPort int, sasKey string) string {
	return fmt.Sprintf(
		"Endpoint=sb://%s:%d/;SharedAccessKeyName=RootManageSharedAccessKey;SharedAccessKey=%s;UseDevelopmentEmulator=true",
		amqpHost, amqpPort, sasKey,
	)
}

// managementRouter builds the emulator's management-plane endpoints,
// following the teacher's default-router construction from
// internal/kernel/httpactor.
func managementRouter(httpAdvertised string, amqpHost string, amqpPort int, sasKey string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "up", "timestamp": time.Now().UTC().Format(time.RFC3339)})
	})

	r.POST("/token", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"access_token": fmt.Sprintf("synthetic-%s", uuid.NewString()),
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})

	r.GET("/.well-known/oauth-authorization-server", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"issuer":         httpAdvertised,
			"token_endpoint": httpAdvertised + "/token",
		})
	})

	r.GET("/connection-string", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"connection_string": connectionString(amqpHost, amqpPort, sasKey)})
	})

	return r
}
