package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/victorivanov/readreceipts/internal/auth"
	"github.com/victorivanov/readreceipts/internal/models"
	"github.com/victorivanov/readreceipts/internal/service"
)

// ReadCursorHandler handles read cursor and read receipt endpoints.
type ReadCursorHandler struct {
	service *service.ReadCursorService
}

// NewReadCursorHandler creates a ReadCursorHandler.
func NewReadCursorHandler(svc *service.ReadCursorService) *ReadCursorHandler {
	return &ReadCursorHandler{service: svc}
}

// Advance handles POST /api/v1/channels/:id/read_cursor.
func (h *ReadCursorHandler) Advance(c echo.Context) error {
	var req models.ReadCursorAdvanceRequest
	if err := c.Bind(&req); err != nil {
		return Error(c, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
	}

	cursor, err := h.service.Advance(c.Request().Context(), c.Param("id"), auth.GetUserID(c), req)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, cursor)
}

// View handles POST /api/v1/channels/:id/view.
func (h *ReadCursorHandler) View(c echo.Context) error {
	if err := h.service.ViewChannel(c.Request().Context(), c.Param("id"), auth.GetUserID(c)); err != nil {
		return mapServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Get handles GET /api/v1/channels/:id/read_cursor.
func (h *ReadCursorHandler) Get(c echo.Context) error {
	cursor, err := h.service.Get(c.Request().Context(), c.Param("id"), auth.GetUserID(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, cursor)
}

// ListMine handles GET /api/v1/users/@me/read_cursors.
func (h *ReadCursorHandler) ListMine(c echo.Context) error {
	cursors, err := h.service.GetForUser(c.Request().Context(), auth.GetUserID(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, cursors)
}

// Count handles GET /api/v1/posts/:id/read_receipts/count.
func (h *ReadCursorHandler) Count(c echo.Context) error {
	n, err := h.service.ReadCount(c.Request().Context(), c.Param("id"), auth.GetUserID(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, models.ReadReceiptsCount{Count: n})
}

// Readers handles GET /api/v1/posts/:id/read_receipts?limit=N.
func (h *ReadCursorHandler) Readers(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Error(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be an integer")
		}
		limit = n
	}

	readers, err := h.service.Readers(c.Request().Context(), c.Param("id"), auth.GetUserID(c), limit)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, readers)
}
