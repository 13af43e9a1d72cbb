package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/prenda-erp/prenda-erp/internal/shared"
)

var validate = validator.New()

// Bind decodes a JSON body and runs its validate tags. Failures wrap shared.ErrValidation.
func Bind(r *http.Request, target any) error {
	if err := DecodeJSON(r, target); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	if err := validate.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			parts := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", shared.ErrValidation, strings.Join(parts, ", "))
		}
		return fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	return nil
}

// UUIDParam parses a chi URL parameter as a UUID.
func UUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s", shared.ErrValidation, name)
	}
	return id, nil
}

// Scope returns the tenant and actor attached to the request.
func Scope(r *http.Request) (tenantID, actorID uuid.UUID, err error) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		return uuid.Nil, uuid.Nil, fmt.Errorf("%w: tenant required", shared.ErrValidation)
	}
	actorID, ok = shared.ActorFromContext(r.Context())
	if !ok {
		return uuid.Nil, uuid.Nil, fmt.Errorf("%w: actor required", shared.ErrValidation)
	}
	return tenantID, actorID, nil
}
