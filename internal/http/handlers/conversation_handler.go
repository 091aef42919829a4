// Conversation HTTP handlers.
//
//   - GET    /conversations       (list, ETag)
//   - POST   /conversations       (open: insert or return existing)
//   - GET    /conversations/{id}
//   - PATCH  /conversations/{id}  (status label)
//   - DELETE /conversations/{id}  (close, cascades to messages)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-jobboard-chat/internal/repo"
)

// OpenConversationRequest is the payload of POST /conversations.
type OpenConversationRequest struct {
	UserID    string `json:"userId"    binding:"required" example:"42"`
	CompanyID string `json:"companyId" binding:"required" example:"7"`
	// Status is applied only when the pairing is new; defaults to "Active".
	Status string `json:"status" example:"Active"`
}

// UpdateConversationRequest is the payload of PATCH /conversations/{id}.
type UpdateConversationRequest struct {
	Status string `json:"status" binding:"required" example:"Interviewing"`
}

// ListConversations godoc
// @ID          listConversations
// @Summary     List conversations
// @Description Returns every conversation the caller takes part in, newest first. Supports weak ETag via If-None-Match.
// @Tags        Conversations
// @Produce     json
// @Security    BearerAuth
// @Success     200  {array}   domain.Conversation
// @Success     304  "Not Modified"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	ctx := c.Request.Context()

	if h.opts.DB != nil {
		if count, last, err := repo.ConversationsStats(ctx, h.opts.DB, p); err == nil {
			if notModified(c, "conversations:"+p.Key(), count, last) {
				return
			}
		}
	}

	items, err := h.convSvc.List(ctx, p)
	if err != nil {
		failService(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, items)
}

// OpenConversation godoc
// @ID          openConversation
// @Summary     Open a conversation
// @Description Creates the user/company pairing, or returns the existing one. The caller must be one of the two sides.
// @Tags        Conversations
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.OpenConversationRequest  true  "Pairing"
// @Success     201   {object}  domain.Conversation  "Created"
// @Success     200   {object}  domain.Conversation  "Already existed"
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403   {object}  handlers.ErrorResponse  "Caller is not part of the pairing"
// @Failure     503   {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /conversations [post]
func (h *Handlers) OpenConversation(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	var req OpenConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "userId and companyId are required")
		return
	}

	conv, created, err := h.convSvc.Open(c.Request.Context(), p, req.UserID, req.CompanyID, req.Status)
	if err != nil {
		failService(c, err, ErrCodeCreateFailed)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	ok(c, status, conv)
}

// GetConversation godoc
// @ID          getConversation
// @Summary     Get a conversation
// @Tags        Conversations
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Conversation ID"
// @Success     200  {object}  domain.Conversation
// @Failure     404  {object}  handlers.ErrorResponse  "Not found or not a participant"
// @Router      /conversations/{id} [get]
func (h *Handlers) GetConversation(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	conv, err := h.convSvc.Get(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, conv)
}

// UpdateConversation godoc
// @ID          updateConversation
// @Summary     Change the status label
// @Tags        Conversations
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path      string  true  "Conversation ID"
// @Param       body  body      handlers.UpdateConversationRequest  true  "New status"
// @Success     200   {object}  domain.Conversation
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404   {object}  handlers.ErrorResponse  "Not found"
// @Router      /conversations/{id} [patch]
func (h *Handlers) UpdateConversation(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	var req UpdateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "status is required")
		return
	}
	conv, err := h.convSvc.UpdateStatus(c.Request.Context(), p, c.Param("id"), req.Status)
	if err != nil {
		failService(c, err, ErrCodeUpdateFailed)
		return
	}
	ok(c, http.StatusOK, conv)
}

// DeleteConversation godoc
// @ID          deleteConversation
// @Summary     Close a conversation
// @Description Deletes the conversation and all its messages, and drops its live room.
// @Tags        Conversations
// @Security    BearerAuth
// @Param       id   path  string  true  "Conversation ID"
// @Success     204  "Deleted"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Router      /conversations/{id} [delete]
func (h *Handlers) DeleteConversation(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	if err := h.convSvc.Close(c.Request.Context(), p, c.Param("id")); err != nil {
		failService(c, err, ErrCodeDeleteFailed)
		return
	}
	noContent(c)
}
