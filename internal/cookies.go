package internal

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"gorinidrive.com/vault/internal/middleware"
)

// Headers the browser client may send besides content-type.
const (
	DeviceIDHeader       = "X-Device-ID"
	AccessPasswordHeader = "X-Access-Password"
)

// InitCors creates a cors config from the allowed origins and returns middleware func for gin
func (h *Handler) InitCors() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     h.Config.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowCredentials: true,
		AllowHeaders: []string{
			"content-type", "authorization",
			middleware.ChallengeHeader, DeviceIDHeader, AccessPasswordHeader,
		},
		ExposeHeaders: []string{"content-disposition"},
		MaxAge:        12 * time.Hour,
	})
}

// InitCookieStore creates session storage keyed by the cookie auth key and returns middleware func for gin
func (h *Handler) InitCookieStore() gin.HandlerFunc {
	store := cookie.NewStore([]byte(h.Config.CookieAuthKey))
	return sessions.Sessions("gdrive", store)
}

func (h *Handler) cookieOptions(c *gin.Context, maxAge int) sessions.Options {
	return sessions.Options{
		Path:     "/",
		Domain:   c.Request.Host, // Domain for which cookie should be sent
		MaxAge:   maxAge,
		Secure:   h.Config.IsProduction(), // HTTPS only outside development
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

// creates a standard cookie and writes it on this gin context
func (h *Handler) createCookie(c *gin.Context, id int32) {
	session := sessions.Default(c)
	session.Options(h.cookieOptions(c, int(h.Config.CookieDuration.Seconds())))

	// Set session data
	session.Set("id", id)

	// Set-Cookie header for response
	if err := session.Save(); err != nil {
		h.Logger.Errorf("Failed to save session for user %d: %s", id, err)
	}
}

// deletes the standard cookie for this gin context
func (h *Handler) destroyCookie(c *gin.Context) {
	session := sessions.Default(c)
	session.Options(h.cookieOptions(c, -1))
	session.Clear()
	if err := session.Save(); err != nil {
		h.Logger.Errorf("Failed to clear session: %s", err)
	}
}

// sessionUser reads the user id from the cookie, if any.
func sessionUser(c *gin.Context) (int32, bool) {
	id, ok := sessions.Default(c).Get("id").(int32)
	return id, ok
}
