// Message HTTP handlers.
//
//   - POST /conversations/{id}/messages         (send; Idempotency-Key aware)
//   - GET  /conversations/{id}/messages         (paged history, ETag)
//   - GET  /conversations/{id}/messages/recent  (latest N, chronological)
//   - GET  /conversations/{id}/messages/all     (full transcript)
//
// A message posted over REST is also pushed to the conversation's live room,
// so connected participants see it without polling.
//
// Idempotency:
// When the client supplies an Idempotency-Key and a previous send exists for
// (principal, conversation, key), the recorded message is returned with
// `Idempotency-Replayed: true` and nothing is persisted or broadcast again.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-jobboard-chat/internal/domain"
	"github.com/tbourn/go-jobboard-chat/internal/http/middleware"
	"github.com/tbourn/go-jobboard-chat/internal/repo"
	"github.com/tbourn/go-jobboard-chat/internal/utils"
)

// PostMessageRequest is the payload of POST /conversations/{id}/messages.
type PostMessageRequest struct {
	Content string `json:"content" binding:"required" example:"Thanks for applying! Are you free on Thursday?"`
}

// PostMessageResponse wraps the persisted message.
type PostMessageResponse struct {
	Message *domain.Message `json:"message"`
}

// Pagination describes the page returned by ListMessages.
type Pagination struct {
	CurrentPage     int   `json:"currentPage"     example:"1"`
	HasMore         bool  `json:"hasMore"         example:"true"`
	TotalCount      int64 `json:"totalCount"      example:"32"`
	MessagesPerPage int   `json:"messagesPerPage" example:"15"`
}

// ListMessagesResponse is a page of messages in chronological order.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

// MessagesResponse is the body of the recent and transcript endpoints.
type MessagesResponse struct {
	Messages []domain.Message `json:"messages"`
	Count    int              `json:"count"`
}

// PostMessage godoc
// @ID          postMessage
// @Summary     Send a message
// @Description Persists a message from the caller and broadcasts it to the conversation room.
// @Description Supports idempotency via the Idempotency-Key header (same key, same result).
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path    string  true   "Conversation ID"
// @Param       body             body    handlers.PostMessageRequest  true  "Message payload"
// @Success     201  {object}  handlers.PostMessageResponse  "Created"
// @Success     200  {object}  handlers.PostMessageResponse  "Replayed"
// @Failure     400  {object}  handlers.ErrorResponse        "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse        "Conversation not found"
// @Failure     503  {object}  handlers.ErrorResponse        "Store unavailable"
// @Router      /conversations/{id}/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	ctx := c.Request.Context()
	conversationID := c.Param("id")

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" && h.opts.DB != nil {
		if rec, err := repo.GetIdempotency(ctx, h.opts.DB, p.Key(), conversationID, idemKey, time.Now().UTC()); err == nil {
			if prev, err := repo.GetMessage(ctx, h.opts.DB, rec.MessageID); err == nil {
				c.Header("Idempotency-Replayed", "true")
				ok(c, http.StatusOK, PostMessageResponse{Message: prev})
				return
			}
		}
	}

	m, err := h.msgSvc.Send(ctx, p, conversationID, req.Content)
	if err != nil {
		failService(c, err, ErrCodeSendFailed)
		return
	}

	// Best effort: a lost record only disables replay for this key.
	if idemKey != "" && h.opts.DB != nil {
		if _, err := repo.CreateIdempotency(ctx, h.opts.DB, p.Key(), conversationID, idemKey, m.ID, http.StatusCreated, h.opts.IdempotencyTTL); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Str("idempotency_key", idemKey).Msg("idempotency record not stored")
		}
	}

	if h.opts.Live != nil {
		h.opts.Live.Deliver(ctx, *m, "")
	}
	ok(c, http.StatusCreated, PostMessageResponse{Message: m})
}

// ListMessages godoc
// @ID          listMessages
// @Summary     Page through a conversation
// @Description Page 1 holds the newest messages; every page is returned oldest-first.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
// @Param       id     path   string  true   "Conversation ID"
// @Param       page   query  int     false  "Page number"     minimum(1) default(1)
// @Param       limit  query  int     false  "Messages per page"  minimum(1) maximum(100) default(15)
// @Success     200  {object} handlers.ListMessagesResponse
// @Success     304  "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Router      /conversations/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	ctx := c.Request.Context()
	conversationID := c.Param("id")
	page, pageSize := utils.ParsePage(c.Query("page"), c.Query("limit"), h.opts.DefaultPageSize, h.opts.MaxPageSize)

	if h.opts.DB != nil {
		// Authorize first so the ETag never reveals foreign conversations.
		if _, err := h.convSvc.Get(ctx, p, conversationID); err != nil {
			failService(c, err, ErrCodeListFailed)
			return
		}
		if count, last, err := repo.MessagesStats(ctx, h.opts.DB, conversationID); err == nil {
			scope := "messages:" + conversationID + ":" + strconv.Itoa(page) + ":" + strconv.Itoa(pageSize)
			if notModified(c, scope, count, last) {
				return
			}
		}
	}

	res, err := h.msgSvc.Page(ctx, p, conversationID, page, pageSize)
	if err != nil {
		failService(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages: res.Messages,
		Pagination: Pagination{
			CurrentPage:     res.CurrentPage,
			HasMore:         res.HasMore,
			TotalCount:      res.TotalCount,
			MessagesPerPage: res.PageSize,
		},
	})
}

// RecentMessages godoc
// @ID          recentMessages
// @Summary     Latest messages
// @Description Returns the newest `limit` messages in chronological order.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
// @Param       id     path   string  true   "Conversation ID"
// @Param       limit  query  int     false  "How many"  minimum(1) maximum(100) default(15)
// @Success     200  {object} handlers.MessagesResponse
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Router      /conversations/{id}/messages/recent [get]
func (h *Handlers) RecentMessages(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	_, limit := utils.ParsePage("1", c.Query("limit"), h.opts.DefaultPageSize, h.opts.MaxPageSize)
	items, err := h.msgSvc.Recent(c.Request.Context(), p, c.Param("id"), limit)
	if err != nil {
		failService(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, MessagesResponse{Messages: items, Count: len(items)})
}

// AllMessages godoc
// @ID          allMessages
// @Summary     Full transcript
// @Description Returns every message of the conversation, oldest first. Prefer the paged endpoint.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
// @Param       id   path  string  true  "Conversation ID"
// @Success     200  {object} handlers.MessagesResponse
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Router      /conversations/{id}/messages/all [get]
func (h *Handlers) AllMessages(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	items, err := h.msgSvc.Transcript(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		failService(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, MessagesResponse{Messages: items, Count: len(items)})
}
