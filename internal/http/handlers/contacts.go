package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ksavchuk/contacthub/internal/cache"
	"github.com/ksavchuk/contacthub/internal/config"
	"github.com/ksavchuk/contacthub/internal/domain/contact"
	"github.com/ksavchuk/contacthub/internal/http/middlewares"
	"github.com/ksavchuk/contacthub/internal/utils"
)

const (
	defaultContactsLimit = 20
	maxContactsLimit     = 100
)

type ContactsStore interface {
	Create(ctx context.Context, req contact.CreateContactRequest) (contact.Contact, error)
	GetByID(ctx context.Context, userID, contactID string) (contact.Contact, error)
	ListCursor(ctx context.Context, userID string, limit int, afterCreatedAt time.Time, afterID string) ([]contact.Contact, *string, bool, error)
	Update(ctx context.Context, userID, contactID string, req contact.UpdateContactRequest) (contact.Contact, error)
	UpdateFavorite(ctx context.Context, userID, contactID string, favorite bool) (contact.Contact, error)
	Delete(ctx context.Context, userID, contactID string) error
}

type ContactsHandler struct {
	repo      ContactsStore
	readCache *cache.Cache
}

func NewContactsHandler(repo ContactsStore, readCache *cache.Cache) *ContactsHandler {
	return &ContactsHandler{repo: repo, readCache: readCache}
}

func contactCacheKey(userID, contactID string) string {
	return "contact:" + userID + ":" + contactID
}

func (h *ContactsHandler) List(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || userID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	limit := defaultContactsLimit

	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)

		if err != nil || n < 1 {
			RespondBadRequest(ctx, "limit must be a positive integer", nil)
			return
		}

		if n > maxContactsLimit {
			n = maxContactsLimit
		}

		limit = n
	}

	var afterCreatedAt time.Time
	var afterID string

	if raw := ctx.Query("cursor"); raw != "" {
		cur, err := utils.DecodeContactCursor(raw)

		if err != nil {
			RespondBadRequest(ctx, "invalid cursor", nil)
			return
		}

		afterCreatedAt = cur.CreatedAt
		afterID = cur.ID
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	items, nextCursor, hasMore, err := h.repo.ListCursor(cctx, userID, limit, afterCreatedAt, afterID)

	if err != nil {
		RespondInternal(ctx, "Could not list contacts")
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, gin.H{
		"items":      items,
		"nextCursor": nextCursor,
		"hasMore":    hasMore,
	})
}

func (h *ContactsHandler) Get(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || userID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	contactID := ctx.Param("contactId")

	if !utils.IsUUID(contactID) {
		RespondNotFound(ctx, "Contact not found")
		return
	}

	key := contactCacheKey(userID, contactID)

	if h.readCache != nil {
		if v, ok := h.readCache.Get(key); ok {
			if c, ok := v.(contact.Contact); ok {
				ctx.JSON(http.StatusOK, c)
				return
			}
		}
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	c, err := h.repo.GetByID(cctx, userID, contactID)

	if err != nil {
		if errors.Is(err, contact.ErrNotFound) {
			RespondNotFound(ctx, "Contact not found")
			return
		}

		RespondInternal(ctx, "Could not fetch contact")
		return
	}

	if h.readCache != nil {
		h.readCache.Set(key, c)
	}

	ctx.JSON(http.StatusOK, c)
}

func (h *ContactsHandler) Create(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || userID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	var req contact.CreateContactRequest

	if !BindJSON(ctx, &req) {
		return
	}

	req.UserID = userID

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	c, err := h.repo.Create(cctx, req)

	if err != nil {
		RespondInternal(ctx, "Could not create contact")
		return
	}

	ctx.JSON(http.StatusCreated, c)
}

func (h *ContactsHandler) Update(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || userID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	contactID := ctx.Param("contactId")

	if !utils.IsUUID(contactID) {
		RespondNotFound(ctx, "Contact not found")
		return
	}

	var req contact.UpdateContactRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	c, err := h.repo.Update(cctx, userID, contactID, req)

	if err != nil {
		if errors.Is(err, contact.ErrNotFound) {
			RespondNotFound(ctx, "Contact not found")
			return
		}

		RespondInternal(ctx, "Could not update contact")
		return
	}

	if h.readCache != nil {
		h.readCache.Delete(contactCacheKey(userID, contactID))
	}

	ctx.JSON(http.StatusOK, c)
}

func (h *ContactsHandler) UpdateFavorite(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || userID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	contactID := ctx.Param("contactId")

	if !utils.IsUUID(contactID) {
		RespondNotFound(ctx, "Contact not found")
		return
	}

	var req contact.UpdateFavoriteRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	c, err := h.repo.UpdateFavorite(cctx, userID, contactID, *req.Favorite)

	if err != nil {
		if errors.Is(err, contact.ErrNotFound) {
			RespondNotFound(ctx, "Contact not found")
			return
		}

		RespondInternal(ctx, "Could not update contact")
		return
	}

	if h.readCache != nil {
		h.readCache.Delete(contactCacheKey(userID, contactID))
	}

	ctx.JSON(http.StatusOK, c)
}

func (h *ContactsHandler) Delete(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || userID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	contactID := ctx.Param("contactId")

	if !utils.IsUUID(contactID) {
		RespondNotFound(ctx, "Contact not found")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	err := h.repo.Delete(cctx, userID, contactID)

	if err != nil {
		if errors.Is(err, contact.ErrNotFound) {
			RespondNotFound(ctx, "Contact not found")
			return
		}

		RespondInternal(ctx, "Could not delete contact")
		return
	}

	if h.readCache != nil {
		h.readCache.Delete(contactCacheKey(userID, contactID))
	}

	ctx.Status(http.StatusNoContent)
}
