package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xaenox/helpdesk-agent/internal/idempotency"
	"github.com/xaenox/helpdesk-agent/internal/retrieval"
	"go.uber.org/zap"
)

const idempotencyHeader = "Idempotency-Key"

type helpAgentRequest struct {
	TicketID       string `json:"ticketId" binding:"required"`
	UserMessage    string `json:"userMessage" binding:"required"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type helpAgentResponse struct {
	Output   string `json:"output"`
	Status   string `json:"status"`
	Degraded bool   `json:"degraded,omitempty"`
}

type chunkEmbedRequest struct {
	ArticleID   string `json:"articleId" binding:"required"`
	ArticleText string `json:"articleText"`
	ChunkSize   int    `json:"chunkSize" binding:"gte=0"`
	Overlap     *int   `json:"overlap" binding:"omitempty,gte=0"`
}

type chunkEmbedResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Chunks  int    `json:"chunks"`
	Removed bool   `json:"removed,omitempty"`
}

// HelpAgent resolves a customer message against a ticket.
// POST /v1/help-agent
func (s *Server) HelpAgent(c *gin.Context) {
	var req helpAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, fmt.Errorf("%w: %w", errRequest, err))
		return
	}

	key := req.IdempotencyKey
	if key == "" {
		key = c.GetHeader(idempotencyHeader)
	}
	ctx := c.Request.Context()

	var token string
	if key != "" && s.replies != nil {
		key = req.TicketID + ":" + key
		cached, claimToken, err := s.replies.Claim(ctx, key)
		if errors.Is(err, idempotency.ErrInFlight) {
			c.AbortWithStatusJSON(http.StatusConflict, errorResponse{
				Error:      errorBody{Message: apologyMessage, Name: ErrorConflict},
				Diagnostic: err.Error(),
			})
			return
		}
		if err != nil {
			badRequest(c, err)
			return
		}
		if cached != nil {
			c.JSON(http.StatusOK, helpAgentResponse{Output: cached.Output, Status: "completed", Degraded: cached.Degraded})
			return
		}
		token = claimToken
	} else {
		key = ""
	}

	result, err := s.resolver.Resolve(ctx, req.TicketID, req.UserMessage)
	if err != nil {
		s.logger.Error("Failed to resolve ticket", zap.String("ticket_id", req.TicketID), zap.Error(err))
		if key != "" {
			s.withDetached(func(ctx context.Context) {
				if err := s.replies.Release(ctx, key, token); err != nil {
					s.logger.Warn("Failed to release idempotency key", zap.String("key", key), zap.Error(err))
				}
			})
		}
		badRequest(c, err)
		return
	}

	if key != "" {
		s.withDetached(func(ctx context.Context) {
			reply := idempotency.Reply{Output: result.Reply, Degraded: result.Degraded}
			if err := s.replies.Complete(ctx, key, token, reply); err != nil {
				s.logger.Warn("Failed to cache reply", zap.String("key", key), zap.Error(err))
			}
		})
	}

	c.JSON(http.StatusOK, helpAgentResponse{Output: result.Reply, Status: "completed", Degraded: result.Degraded})
}

// ChunkEmbed chunks, embeds and indexes a knowledge base article.
// POST /v1/chunk-embed
func (s *Server) ChunkEmbed(c *gin.Context) {
	var req chunkEmbedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, fmt.Errorf("%w: %w", errRequest, err))
		return
	}

	result, err := s.ingester.Ingest(c.Request.Context(), retrieval.IngestRequest{
		ArticleID: req.ArticleID,
		Text:      req.ArticleText,
		ChunkSize: req.ChunkSize,
		Overlap:   req.Overlap,
	})
	if err != nil {
		s.logger.Error("Failed to embed article", zap.String("article_id", req.ArticleID), zap.Error(err))
		badRequest(c, err)
		return
	}

	message := "Chunks embedded and stored successfully."
	if result.Removed {
		message = "Article is not public or not active; removed from the index."
	}
	c.JSON(http.StatusOK, chunkEmbedResponse{
		Success: true,
		Message: message,
		Chunks:  result.Chunks,
		Removed: result.Removed,
	})
}

// withDetached runs fn with a short context that survives the request.
func (s *Server) withDetached(fn func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	fn(ctx)
}
