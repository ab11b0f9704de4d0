package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/boxlinehq/boxline-backend/api/responses"
	"github.com/boxlinehq/boxline-backend/pkg/config"
	pkgerrors "github.com/boxlinehq/boxline-backend/pkg/errors"
	"github.com/boxlinehq/boxline-backend/pkg/logger"
)

// Pinger is the health-check surface shared by the datastore clients.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Boxline-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

func HealthReady(cfg *config.Config, logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Boxline-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		for name, dep := range deps {
			if dep == nil {
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, name+" unavailable"))
				return
			}
		}

		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}

// ReadinessDeps builds the named dependency set for HealthReady.
func ReadinessDeps(dbP Pinger, redisP Pinger) map[string]Pinger {
	return map[string]Pinger{
		"database": dbP,
		"redis":    redisP,
	}
}
