package httphandler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/serve/httperror"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/serve/validators"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/utils"
)

// fetchSeller loads the {seller} route param, rendering a 404 when the id is
// unknown. A nil return means the response was already written.
func fetchSeller(w http.ResponseWriter, r *http.Request, models *data.Models) *data.Seller {
	ctx := r.Context()
	sellerID := chi.URLParam(r, "seller")

	seller, err := models.Sellers.Get(ctx, models.DBConnectionPool, sellerID)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			httperror.NotFound("Seller not found.", err, nil).Render(w)
		} else {
			httperror.InternalError(ctx, "Cannot retrieve the seller", err, nil).Render(w)
		}
		return nil
	}

	return seller
}

// parseDateParam reads an optional YYYY-MM-DD query parameter in the
// operational zone. Zero time means the parameter was absent or invalid.
func parseDateParam(v *validators.Validator, r *http.Request, name string) time.Time {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}
	}

	parsed, err := time.ParseInLocation("2006-01-02", raw, utils.OperationalZone)
	if err != nil {
		v.AddError(name, "invalid date format. valid format is 'YYYY-MM-DD'")
		return time.Time{}
	}
	return parsed
}

// parseBoolParam reads an optional boolean query parameter, defaulting to
// defaultValue when absent.
func parseBoolParam(v *validators.Validator, r *http.Request, name string, defaultValue bool) bool {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		v.AddError(name, "invalid boolean. valid values are 'true' and 'false'")
		return defaultValue
	}
	return parsed
}

// parseIntParam reads an optional non-negative integer query parameter. Zero
// means absent.
func parseIntParam(v *validators.Validator, r *http.Request, name string) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0
	}

	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		v.AddError(name, "invalid parameter. must be a non-negative integer")
		return 0
	}
	return parsed
}
