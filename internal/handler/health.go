package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ricart/storefront/internal/database"
)

// StoreStatus is implemented by database.Lifecycle.
type StoreStatus interface {
	Name() string
	Status() database.Status
}

// Health reports liveness and the identity store connection state.  It
// answers 200 while the process is up; load balancers read store.status.
func Health(store StoreStatus) echo.HandlerFunc {
	return func(c echo.Context) error {
		body := echo.Map{"status": "ok"}
		if store != nil {
			body["store"] = echo.Map{"driver": store.Name(), "status": store.Status()}
		}
		return c.JSON(http.StatusOK, body)
	}
}
