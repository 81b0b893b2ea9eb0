package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/crateline/internal/chat"
)

func (s *Server) listThreads(c echo.Context) error {
	reset := c.QueryParam("reset") == "true"
	if err := s.manager.FetchThreads(c.Request().Context(), reset); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"threads": s.manager.Threads(),
		"hasMore": s.manager.HasMore(),
	})
}

func (s *Server) loadMoreThreads(c echo.Context) error {
	if err := s.manager.LoadMore(c.Request().Context()); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"threads": s.manager.Threads(),
		"hasMore": s.manager.HasMore(),
	})
}

func (s *Server) openThread(c echo.Context) error {
	var req chat.OpenThreadRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	result, err := s.manager.OpenThread(c.Request().Context(), req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) getMessages(c echo.Context) error {
	threadID := c.Param("id")
	if err := s.manager.EnsureJoined(c.Request().Context(), threadID); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"threadId": threadID,
		"messages": s.manager.Messages(threadID),
	})
}

func (s *Server) sendMessage(c echo.Context) error {
	threadID := c.Param("id")
	var req struct {
		Body       string         `json:"body"`
		Attributes map[string]any `json:"attributes,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Body == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "message body is required"})
	}
	msg, err := s.manager.SendMessage(c.Request().Context(), threadID, req.Body, req.Attributes)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, msg)
}

func (s *Server) markThreadRead(c echo.Context) error {
	s.manager.MarkThreadRead(c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) refreshToken(c echo.Context) error {
	var req struct {
		Force                 bool   `json:"force"`
		ThreadID              string `json:"threadId,omitempty"`
		QuoteID               string `json:"quoteId,omitempty"`
		ShipmentID            string `json:"shipmentId,omitempty"`
		ShipperBranchOrgID    string `json:"shipperBranchOrgId,omitempty"`
		GalleryBranchOrgID    string `json:"galleryBranchOrgId,omitempty"`
		PeerOrganizationID    string `json:"peerOrganizationId,omitempty"`
		InitiatorShipperOrgID string `json:"initiatorShipperOrgId,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	result, err := s.manager.RefreshToken(c.Request().Context(), chat.RefreshOptions{
		Force:                 req.Force,
		ThreadID:              req.ThreadID,
		QuoteID:               req.QuoteID,
		ShipmentID:            req.ShipmentID,
		ShipperBranchOrgID:    req.ShipperBranchOrgID,
		GalleryBranchOrgID:    req.GalleryBranchOrgID,
		PeerOrganizationID:    req.PeerOrganizationID,
		InitiatorShipperOrgID: req.InitiatorShipperOrgID,
	})
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) signOut(c echo.Context) error {
	s.manager.SignOut()
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) getStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.manager.Status())
}

// errorResponse maps the chat error taxonomy onto HTTP statuses. The error
// string is passed through for the UI to render; previously loaded state is
// never discarded by a failed call.
func errorResponse(c echo.Context, err error) error {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, chat.ErrThreadNotFound):
		status = http.StatusNotFound
	case errors.Is(err, chat.ErrNoSession):
		status = http.StatusUnauthorized
	case chat.IsPermissionDenied(err):
		status = http.StatusForbidden
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}
