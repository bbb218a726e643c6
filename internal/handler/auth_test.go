package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafidhiya/baby-spa-backend/internal/config"
	"github.com/rafidhiya/baby-spa-backend/internal/repository"
)

func TestLogoutAllRevokesEveryActiveToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE refresh_tokens SET revoked_at").
		WithArgs(uint64(3)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	h := NewAuthHandler(config.Config{}, nil, repository.NewTokenRepo(db))
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/logout-all", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("user_id", uint64(3))

	require.NoError(t, h.LogoutAll(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}
