package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"tourmaline.app/pkg/logger"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		code   string
		status int
	}{
		{PayInvalidRequest, http.StatusBadRequest},
		{PayProviderError, http.StatusBadRequest},
		{PayWebhookInvalidSignature, http.StatusBadRequest},
		{PaySessionFailed, http.StatusInternalServerError},
		{CartEmpty, http.StatusBadRequest},
		{StkMissingProduct, http.StatusBadRequest},
		{StkUpstreamFailed, http.StatusBadGateway},
		{StkUnavailable, http.StatusServiceUnavailable},
		{NotFound, http.StatusNotFound},
		{MethodNotAllowed, http.StatusMethodNotAllowed},
		{PayloadTooLarge, http.StatusRequestEntityTooLarge},
		{TooManyRequests, http.StatusTooManyRequests},
		{"PRODUCT_NOT_FOUND", http.StatusNotFound},
		{"PAY_SOMETHING_NEW", http.StatusBadRequest},
		{"WHATEVER", http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, New(tc.code, "x").HTTPStatus(), tc.code)
	}
}

func TestCorrelationID(t *testing.T) {
	ctx := logger.WithRequestID(context.Background(), "req_abc")
	e := E(ctx, CartEmpty, "No items in cart")
	assert.Equal(t, "req_abc", e.CorrelationID)
	assert.Equal(t, "[req_abc] CART_EMPTY: No items in cart", e.Error())

	fresh := E(context.Background(), Internal, "boom")
	assert.True(t, strings.HasPrefix(fresh.CorrelationID, "cid-"), fresh.CorrelationID)
}

func TestAs(t *testing.T) {
	assert.Nil(t, As(nil))

	wrapped := fmt.Errorf("lookup: %w", New(StkUnavailable, "down"))
	assert.Equal(t, StkUnavailable, As(wrapped).Code)

	foreign := As(errors.New("plain"))
	assert.Equal(t, Internal, foreign.Code)
	assert.Equal(t, "plain", foreign.Message)
}
