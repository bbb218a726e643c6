package handler

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rafidhiya/baby-spa-backend/internal/scheduler"
)

// CronHandler exposes the expiry sweep to an external cron service.
// The in-process timers normally settle expiries first; this endpoint
// is the backstop that catches payments whose timers were lost to a
// restart.
type CronHandler struct {
	Scheduler *scheduler.Scheduler
	Secret    string
}

func NewCronHandler(s *scheduler.Scheduler, secret string) *CronHandler {
	return &CronHandler{Scheduler: s, Secret: secret}
}

// Sweep handles GET /scheduler/cron?secret=S. A wrong or missing
// secret answers 403.
func (h *CronHandler) Sweep(c echo.Context) error {
	secret := c.QueryParam("secret")
	if subtle.ConstantTimeCompare([]byte(secret), []byte(h.Secret)) != 1 {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}
	expired, err := h.Scheduler.Sweep(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "sweep failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"expired": expired})
}
