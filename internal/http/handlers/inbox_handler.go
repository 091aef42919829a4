package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ConversationsWithLastMessage godoc
// @ID          conversationsWithLastMessage
// @Summary     Inbox
// @Description Every conversation of the caller with the counterpart profile and a preview of the newest message (null when empty).
// @Tags        Inbox
// @Produce     json
// @Security    BearerAuth
// @Success     200  {array}   services.InboxEntry
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /conversations-with-last-message [get]
func (h *Handlers) ConversationsWithLastMessage(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	items, err := h.inboxSvc.WithLastMessage(c.Request.Context(), p)
	if err != nil {
		failService(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, items)
}

// ConversationsWithMessages godoc
// @ID          conversationsWithMessages
// @Summary     Inbox with full transcripts
// @Description Deprecated: loads every message of every conversation. Use /conversations-with-last-message and the paged history instead.
// @Tags        Inbox
// @Produce     json
// @Security    BearerAuth
// @Success     200  {array}   services.TranscriptEntry
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Router      /conversations-with-messages [get]
// @Deprecated
func (h *Handlers) ConversationsWithMessages(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	items, err := h.inboxSvc.WithMessages(c.Request.Context(), p)
	if err != nil {
		failService(c, err, ErrCodeListFailed)
		return
	}
	c.Header("Deprecation", "true")
	c.Header("Link", `</conversations-with-last-message>; rel="successor-version"`)
	ok(c, http.StatusOK, items)
}
