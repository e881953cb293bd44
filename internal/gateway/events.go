package gateway

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/VideoAccessLedger/internal/identity"
	"github.com/jmerrifield20/VideoAccessLedger/internal/ledger"
	"go.uber.org/zap"
)

// EventsHandler exposes the event journal to observers. Listed events carry
// the locator, so every route requires the observer role.
type EventsHandler struct {
	svc    LedgerService
	tokens *identity.PrincipalIssuer
	logger *zap.Logger
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(svc LedgerService, tokens *identity.PrincipalIssuer, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{svc: svc, tokens: tokens, logger: logger}
}

// Register mounts the journal routes on the given router group.
func (h *EventsHandler) Register(rg *gin.RouterGroup) {
	e := rg.Group("/events",
		identity.RequirePrincipal(h.tokens),
		identity.RequireRole(identity.RoleObserver),
	)
	{
		e.GET("", h.List)
		e.GET("/verify", h.Verify)
	}
}

// EventPage is the response body of GET /events.
type EventPage struct {
	Events []*ledger.Event `json:"events"`
	Next   int64           `json:"next"` // pass as ?after= to continue
}

// List handles GET /events?after=N&limit=M.
func (h *EventsHandler) List(c *gin.Context) {
	after, err := strconv.ParseInt(c.DefaultQuery("after", "0"), 10, 64)
	if err != nil || after < 0 {
		badRequest(c, "after must be a non-negative integer")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		badRequest(c, "limit must be a non-negative integer")
		return
	}

	events, err := h.svc.Events(c.Request.Context(), after, limit)
	if err != nil {
		h.logger.Error("read events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read events", "code": ledger.Code(err)})
		return
	}
	page := EventPage{Events: events, Next: after}
	if page.Events == nil {
		page.Events = []*ledger.Event{}
	}
	if n := len(events); n > 0 {
		page.Next = events[n-1].Seq
	}
	c.JSON(http.StatusOK, page)
}

// Verify handles GET /events/verify. It walks the journal and reports integrity.
func (h *EventsHandler) Verify(c *gin.Context) {
	n, err := h.svc.VerifyJournal(c.Request.Context())
	if err != nil {
		h.logger.Warn("journal integrity check failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"valid": false, "checked": n, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "checked": n})
}
