package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ravenousdox/MarketplaceMatchmaker/internal/listing"
	"github.com/ravenousdox/MarketplaceMatchmaker/internal/service"
	"github.com/ravenousdox/MarketplaceMatchmaker/internal/validation"
	"github.com/ravenousdox/MarketplaceMatchmaker/libs/auth"
	"github.com/ravenousdox/MarketplaceMatchmaker/libs/httpmiddleware"
	"log/slog"
)

type MarketplaceService interface {
	SubmitListing(ctx context.Context, userID, itemName, side, rawPrice, correlationID string) (*service.SubmitResult, error)
	RemoveListing(ctx context.Context, userID, itemName, side string) error
	MyListings(userID string) []service.ListingView
	SearchItems(query string, limit int) ([]string, error)
	SuggestPrice(ctx context.Context, userID, itemName, side string) (*service.PriceSuggestion, error)
	ListItems(ctx context.Context, category string) ([]service.ItemView, error)
	AddItem(ctx context.Context, adminID, name, category, description string) error
	RemoveItem(ctx context.Context, adminID, name string) error
	ReloadCache(ctx context.Context, adminID string) (int, error)
	Stats(ctx context.Context) (*service.StatsView, error)
}

type Handler struct {
	Service MarketplaceService
	Logger  *slog.Logger
}

type submitListingRequest struct {
	Item  string `json:"item"`
	Side  string `json:"side"`
	Price string `json:"price"`
}

type addItemRequest struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

type errorResponse struct {
	Code    string                  `json:"code"`
	Message string                  `json:"message"`
	Reasons []string                `json:"reasons,omitempty"`
	Fields  []validation.FieldError `json:"fields,omitempty"`
}

func New(svc MarketplaceService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Service: svc, Logger: logger}
}

func (h *Handler) Register(r *gin.Engine, jwtSecret []byte) {
	v1 := r.Group("/v1", auth.Middleware(jwtSecret))
	v1.POST("/listings", h.SubmitListing)
	v1.DELETE("/listings", h.RemoveListing)
	v1.GET("/listings", h.MyListings)
	v1.GET("/items", h.ListItems)
	v1.GET("/items/search", h.SearchItems)
	v1.GET("/items/suggestions", h.SuggestPrice)

	admin := v1.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/items", h.AddItem)
	admin.DELETE("/items", h.RemoveItem)
	admin.POST("/cache/reload", h.ReloadCache)
	admin.GET("/stats", h.Stats)
}

func (h *Handler) SubmitListing(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil, nil)
		return
	}

	var req submitListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil, nil)
		return
	}

	result, err := h.Service.SubmitListing(c.Request.Context(), userID, req.Item, req.Side, req.Price, httpmiddleware.RequestIDFromContext(c))
	if err != nil {
		var verrs validation.ValidationErrors
		switch {
		case errors.As(err, &verrs):
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", nil, verrs)
		case errors.Is(err, service.ErrUnknownItem):
			writeError(c, http.StatusBadRequest, "UNKNOWN_ITEM", err.Error(), nil, nil)
		case errors.Is(err, listing.ErrTooManyListings):
			writeError(c, http.StatusBadRequest, "LISTING_LIMIT", "too many open listings", nil, nil)
		default:
			h.Logger.Error("submit listing failed", "error", err)
			writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil, nil)
		}
		return
	}

	status := http.StatusOK
	if result.Match == nil {
		status = http.StatusCreated
	}
	c.JSON(status, result)
}

func (h *Handler) RemoveListing(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil, nil)
		return
	}

	item := strings.TrimSpace(c.Query("item"))
	side := strings.ToLower(strings.TrimSpace(c.Query("side")))
	if item == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "item required", nil, nil)
		return
	}

	err := h.Service.RemoveListing(c.Request.Context(), userID, item, side)
	if err != nil {
		var verrs validation.ValidationErrors
		switch {
		case errors.As(err, &verrs):
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", nil, verrs)
		case errors.Is(err, service.ErrListingNotFound):
			writeError(c, http.StatusNotFound, "LISTING_NOT_FOUND", "no open listing for item and side", nil, nil)
		default:
			h.Logger.Error("remove listing failed", "error", err)
			writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil, nil)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"removed": true})
}

func (h *Handler) MyListings(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": h.Service.MyListings(userID)})
}

func (h *Handler) ListItems(c *gin.Context) {
	items, err := h.Service.ListItems(c.Request.Context(), strings.TrimSpace(c.Query("category")))
	if err != nil {
		var verrs validation.ValidationErrors
		if errors.As(err, &verrs) {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", nil, verrs)
			return
		}
		h.Logger.Error("list items failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) SearchItems(c *gin.Context) {
	limit := 25
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid limit", nil, nil)
			return
		}
		limit = n
	}

	names, err := h.Service.SearchItems(c.Query("q"), limit)
	if err != nil {
		var verrs validation.ValidationErrors
		if errors.As(err, &verrs) {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", nil, verrs)
			return
		}
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": names})
}

func (h *Handler) SuggestPrice(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil, nil)
		return
	}

	item := strings.TrimSpace(c.Query("item"))
	side := strings.ToLower(strings.TrimSpace(c.Query("side")))
	suggestion, err := h.Service.SuggestPrice(c.Request.Context(), userID, item, side)
	if err != nil {
		var verrs validation.ValidationErrors
		switch {
		case errors.As(err, &verrs):
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", nil, verrs)
		case errors.Is(err, service.ErrUnknownItem):
			writeError(c, http.StatusBadRequest, "UNKNOWN_ITEM", err.Error(), nil, nil)
		default:
			h.Logger.Error("price suggestion failed", "error", err)
			writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil, nil)
		}
		return
	}
	c.JSON(http.StatusOK, suggestion)
}

func (h *Handler) AddItem(c *gin.Context) {
	adminID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil, nil)
		return
	}

	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil, nil)
		return
	}

	err := h.Service.AddItem(c.Request.Context(), adminID, req.Name, req.Category, req.Description)
	if err != nil {
		var verrs validation.ValidationErrors
		switch {
		case errors.As(err, &verrs):
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", nil, verrs)
		case errors.Is(err, service.ErrItemExists):
			writeError(c, http.StatusConflict, "ITEM_EXISTS", err.Error(), nil, nil)
		default:
			h.Logger.Error("add item failed", "error", err)
			writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil, nil)
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{"added": true})
}

func (h *Handler) RemoveItem(c *gin.Context) {
	adminID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil, nil)
		return
	}

	name := strings.TrimSpace(c.Query("name"))
	if name == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "name required", nil, nil)
		return
	}

	err := h.Service.RemoveItem(c.Request.Context(), adminID, name)
	if err != nil {
		if errors.Is(err, service.ErrItemNotFound) {
			writeError(c, http.StatusNotFound, "ITEM_NOT_FOUND", err.Error(), nil, nil)
			return
		}
		h.Logger.Error("remove item failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}

func (h *Handler) ReloadCache(c *gin.Context) {
	adminID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil, nil)
		return
	}

	size, err := h.Service.ReloadCache(c.Request.Context(), adminID)
	if err != nil {
		h.Logger.Error("cache reload failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items_cached": size})
}

func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.Service.Stats(c.Request.Context())
	if err != nil {
		h.Logger.Error("stats failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil, nil)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func userIDFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(auth.ContextUserIDKey)
	if !ok {
		return "", false
	}
	userID, ok := val.(string)
	if !ok || userID == "" {
		return "", false
	}
	return userID, true
}

func writeError(c *gin.Context, status int, code, message string, reasons []string, fields []validation.FieldError) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
		Reasons: reasons,
		Fields:  fields,
	})
}
