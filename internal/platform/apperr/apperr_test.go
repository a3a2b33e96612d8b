package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindAndStatus(t *testing.T) {
	base := errors.New("insufficient stock")

	t.Run("Wrapped sentinel keeps identity", func(t *testing.T) {
		err := fmt.Errorf("reserve: %w", Wrap(KindConflict, base, "stock changed"))
		assert.ErrorIs(t, err, base)
		assert.Equal(t, KindConflict, KindOf(err))
		assert.Equal(t, http.StatusConflict, HTTPStatus(err))
	})

	t.Run("Plain errors are internal and hidden", func(t *testing.T) {
		err := errors.New("pq: connection refused")
		assert.Equal(t, http.StatusInternalServerError, HTTPStatus(err))
		assert.Equal(t, "could not complete operation", PublicMessage(err))
		assert.Equal(t, "INTERNAL_ERROR", PublicCode(err))
	})

	t.Run("Custom code", func(t *testing.T) {
		err := New(KindValidation, "Either cartId or items must be provided").WithCode("MISSING_ITEMS")
		assert.Equal(t, "MISSING_ITEMS", PublicCode(err))
		assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))
		assert.Equal(t, "Either cartId or items must be provided", PublicMessage(err))
	})
}
