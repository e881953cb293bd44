// Package gateway is the HTTP transport of the access ledger. It
// authenticates principals, maps requests onto ledger operations and
// translates ledger error kinds into HTTP status codes.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/VideoAccessLedger/internal/identity"
	"github.com/jmerrifield20/VideoAccessLedger/internal/ledger"
	"go.uber.org/zap"
)

// LedgerService is the set of ledger operations the gateway exposes.
// *ledger.Ledger satisfies this interface.
type LedgerService interface {
	List(ctx context.Context, caller, title, description, locator string, price int64) (int64, error)
	Purchase(ctx context.Context, caller string, id, amountPaid int64) (*ledger.PurchaseReceipt, error)
	HasAccess(ctx context.Context, principal string, id int64) (bool, error)
	GetDetails(ctx context.Context, caller string, id int64) (*ledger.ListingView, error)
	Update(ctx context.Context, caller string, id int64, title, description string, price int64) error
	SetActive(ctx context.Context, caller string, id int64, active bool) error
	IDsByOwner(ctx context.Context, owner string) ([]int64, error)
	Events(ctx context.Context, after int64, limit int) ([]*ledger.Event, error)
	VerifyJournal(ctx context.Context) (int64, error)
}

// AccessCache answers access queries ahead of the ledger.
// *accesscache.Cache satisfies this interface.
type AccessCache interface {
	HasAccess(ctx context.Context, principal string, id int64) (bool, error)
	Remember(ctx context.Context, principal string, id int64)
}

// ListingHandler serves the listing, purchase and access endpoints.
type ListingHandler struct {
	svc    LedgerService
	tokens *identity.PrincipalIssuer
	cache  AccessCache
	logger *zap.Logger
}

// NewListingHandler creates a new ListingHandler.
func NewListingHandler(svc LedgerService, tokens *identity.PrincipalIssuer, logger *zap.Logger) *ListingHandler {
	return &ListingHandler{svc: svc, tokens: tokens, logger: logger}
}

// SetAccessCache routes access queries through c.
func (h *ListingHandler) SetAccessCache(c AccessCache) {
	h.cache = c
}

// Register mounts the listing routes on the given router group.
func (h *ListingHandler) Register(rg *gin.RouterGroup) {
	auth := identity.RequirePrincipal(h.tokens)

	l := rg.Group("/listings")
	{
		l.POST("", auth, h.Create)
		l.GET("/:id", identity.OptionalPrincipal(h.tokens), h.Get)
		l.PATCH("/:id", auth, h.Update)
		l.POST("/:id/activate", auth, h.Activate)
		l.POST("/:id/deactivate", auth, h.Deactivate)
		l.POST("/:id/purchase", auth, h.Purchase)
		l.GET("/:id/access", auth, h.Access)
	}
	rg.GET("/me/listings", auth, h.Mine)
	rg.GET("/owners/:owner/listings", h.ByOwner)
}

type createListingRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Locator     string `json:"locator"`
	Price       *int64 `json:"price" binding:"required"`
}

type updateListingRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Price       *int64 `json:"price" binding:"required"`
}

type purchaseRequest struct {
	Amount *int64 `json:"amount" binding:"required"`
}

// OwnerListings is the response body of the owner listing endpoints.
type OwnerListings struct {
	Owner string  `json:"owner"`
	Count int     `json:"count"`
	IDs   []int64 `json:"ids"`
}

// AccessResponse is the response body of GET /listings/:id/access.
type AccessResponse struct {
	ListingID int64  `json:"listing_id"`
	Principal string `json:"principal"`
	HasAccess bool   `json:"has_access"`
}

// Create handles POST /listings.
func (h *ListingHandler) Create(c *gin.Context) {
	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	id, err := h.svc.List(c.Request.Context(), identity.PrincipalFromCtx(c),
		req.Title, req.Description, req.Locator, *req.Price)
	if err != nil {
		h.fail(c, "list", err)
		return
	}
	RecordListing()
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// Get handles GET /listings/:id. Anonymous callers see a redacted view.
func (h *ListingHandler) Get(c *gin.Context) {
	id, ok := listingID(c)
	if !ok {
		return
	}
	view, err := h.svc.GetDetails(c.Request.Context(), identity.PrincipalFromCtx(c), id)
	if err != nil {
		h.fail(c, "get details", err)
		return
	}
	if !view.HasAccess {
		RecordRedaction()
	}
	c.JSON(http.StatusOK, view)
}

// Update handles PATCH /listings/:id.
func (h *ListingHandler) Update(c *gin.Context) {
	id, ok := listingID(c)
	if !ok {
		return
	}
	var req updateListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	caller := identity.PrincipalFromCtx(c)
	if err := h.svc.Update(ctx, caller, id, req.Title, req.Description, *req.Price); err != nil {
		h.fail(c, "update", err)
		return
	}
	view, err := h.svc.GetDetails(ctx, caller, id)
	if err != nil {
		h.fail(c, "get details", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Activate handles POST /listings/:id/activate.
func (h *ListingHandler) Activate(c *gin.Context) { h.setActive(c, true) }

// Deactivate handles POST /listings/:id/deactivate.
func (h *ListingHandler) Deactivate(c *gin.Context) { h.setActive(c, false) }

func (h *ListingHandler) setActive(c *gin.Context, active bool) {
	id, ok := listingID(c)
	if !ok {
		return
	}
	if err := h.svc.SetActive(c.Request.Context(), identity.PrincipalFromCtx(c), id, active); err != nil {
		h.fail(c, "set active", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "active": active})
}

// Purchase handles POST /listings/:id/purchase.
func (h *ListingHandler) Purchase(c *gin.Context) {
	id, ok := listingID(c)
	if !ok {
		return
	}
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	buyer := identity.PrincipalFromCtx(c)
	receipt, err := h.svc.Purchase(ctx, buyer, id, *req.Amount)
	RecordPurchase(ledger.Code(err))
	if err != nil {
		h.fail(c, "purchase", err)
		return
	}
	if h.cache != nil {
		h.cache.Remember(ctx, buyer, id)
	}
	c.JSON(http.StatusCreated, receipt)
}

// Access handles GET /listings/:id/access. Observers may query on behalf of
// another principal with ?principal=.
func (h *ListingHandler) Access(c *gin.Context) {
	id, ok := listingID(c)
	if !ok {
		return
	}
	claims := identity.ClaimsFromCtx(c)
	principal := claims.Principal()
	if q := c.Query("principal"); q != "" && q != principal {
		if claims.Role != identity.RoleObserver {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "observer role required to query another principal",
				"code":  ledger.Code(ledger.ErrUnauthorized),
			})
			return
		}
		principal = q
	}

	var (
		access bool
		err    error
	)
	if h.cache != nil {
		access, err = h.cache.HasAccess(c.Request.Context(), principal, id)
	} else {
		access, err = h.svc.HasAccess(c.Request.Context(), principal, id)
	}
	if err != nil {
		h.fail(c, "has access", err)
		return
	}
	c.JSON(http.StatusOK, AccessResponse{ListingID: id, Principal: principal, HasAccess: access})
}

// Mine handles GET /me/listings.
func (h *ListingHandler) Mine(c *gin.Context) {
	h.ownerListings(c, identity.PrincipalFromCtx(c))
}

// ByOwner handles GET /owners/:owner/listings.
func (h *ListingHandler) ByOwner(c *gin.Context) {
	h.ownerListings(c, c.Param("owner"))
}

func (h *ListingHandler) ownerListings(c *gin.Context, owner string) {
	ids, err := h.svc.IDsByOwner(c.Request.Context(), owner)
	if err != nil {
		h.fail(c, "ids by owner", err)
		return
	}
	c.JSON(http.StatusOK, OwnerListings{Owner: owner, Count: len(ids), IDs: ids})
}

func (h *ListingHandler) fail(c *gin.Context, op string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError && !errors.Is(err, ledger.ErrTransferFailed) {
		h.logger.Error(op, zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error", "code": ledger.Code(err)})
		return
	}
	h.logger.Debug(op+" rejected", zap.String("code", ledger.Code(err)), zap.Error(err))
	c.JSON(status, gin.H{"error": err.Error(), "code": ledger.Code(err)})
}

func listingID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "id must be an integer")
		return 0, false
	}
	return id, true
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": ledger.Code(ledger.ErrInvalidArgument)})
}
