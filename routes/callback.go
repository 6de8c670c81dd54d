package routes

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"content-autoposter/internal/logger"
	"content-autoposter/models"
)

// CodeExchanger trades an authorization code for a stored token.
type CodeExchanger interface {
	ExchangeCode(ctx context.Context, code string) (*models.TokenRecord, error)
}

// SetupCallbackRoutes registers the OAuth 2.0 redirect target. The outcome of the
// first completed exchange is sent on done; later callbacks are answered but ignored.
func SetupCallbackRoutes(router *gin.Engine, exchanger CodeExchanger, state string, done chan<- error) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "waiting for authorization"})
	})

	router.GET("/callback", func(c *gin.Context) {
		if errCode := c.Query("error"); errCode != "" {
			err := fmt.Errorf("authorization denied: %s %s", errCode, c.Query("error_description"))
			c.String(http.StatusBadRequest, "Authorization failed: %s", errCode)
			finish(done, err)
			return
		}

		if subtle.ConstantTimeCompare([]byte(c.Query("state")), []byte(state)) != 1 {
			logger.Warn("Callback with unexpected state", "remote", c.ClientIP())
			c.String(http.StatusBadRequest, "Invalid state parameter")
			return
		}

		code := c.Query("code")
		if code == "" {
			c.String(http.StatusBadRequest, "Missing authorization code")
			return
		}

		rec, err := exchanger.ExchangeCode(c.Request.Context(), code)
		if err != nil {
			logger.Error("Authorization code exchange failed", "error", err)
			c.String(http.StatusBadGateway, "Token exchange failed: %v", err)
			finish(done, err)
			return
		}

		logger.Info("Access token stored", "expires_at", rec.ExpiresAt)
		c.Data(http.StatusOK, "text/html; charset=utf-8",
			[]byte("<html><body><h2>Authorization complete</h2><p>You can close this window.</p></body></html>"))
		finish(done, nil)
	})
}

func finish(done chan<- error, err error) {
	select {
	case done <- err:
	default:
	}
}
