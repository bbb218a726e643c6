package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafidhiya/baby-spa-backend/internal/gateway"
)

type stubChannelLister struct {
	channels []gateway.Channel
	err      error
}

func (s *stubChannelLister) ListChannels(context.Context, int) ([]gateway.Channel, error) {
	return s.channels, s.err
}

func TestListPaymentChannelsOutageAnswers503(t *testing.T) {
	h := NewCatalogHandler(nil, nil, &stubChannelLister{err: gateway.ErrGatewayUnavailable})
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/v1/payment-channels", nil)
	rec := httptest.NewRecorder()

	require.NoError(t, h.ListPaymentChannels(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
