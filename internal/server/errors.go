package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xaenox/helpdesk-agent/internal/gateway"
	"github.com/xaenox/helpdesk-agent/internal/models"
	"github.com/xaenox/helpdesk-agent/internal/retrieval"
)

const (
	ErrorRequest   = "RequestError"
	ErrorGateway   = "GatewayError"
	ErrorEmbedding = "EmbeddingError"
	ErrorStore     = "StoreError"
	ErrorConflict  = "ConflictError"

	apologyMessage = "Sorry, something went wrong while handling your request. Please try again later."
)

// errRequest marks a malformed request body.
var errRequest = errors.New("invalid request")

type errorBody struct {
	Message string `json:"message"`
	Name    string `json:"name"`
}

type errorResponse struct {
	Error      errorBody `json:"error"`
	Diagnostic string    `json:"diagnostic,omitempty"`
}

func errorName(err error) string {
	switch {
	case errors.Is(err, errRequest),
		errors.Is(err, retrieval.ErrInvalidChunking),
		errors.Is(err, models.ErrNotFound):
		return ErrorRequest
	case errors.Is(err, gateway.ErrGateway):
		return ErrorGateway
	case errors.Is(err, retrieval.ErrEmbedding):
		return ErrorEmbedding
	default:
		return ErrorStore
	}
}

// abort writes the customer-safe apology with the error class and the
// internal detail in a separate field.
func abort(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, errorResponse{
		Error:      errorBody{Message: apologyMessage, Name: errorName(err)},
		Diagnostic: err.Error(),
	})
}

func badRequest(c *gin.Context, err error) {
	abort(c, http.StatusBadRequest, err)
}
