package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ZentaChain/zentalk-stargate/pkg/delivery"
	"github.com/ZentaChain/zentalk-stargate/pkg/session"
)

// StatusResponse is returned by GET /api/v1/status
type StatusResponse struct {
	Status    string                 `json:"status"`
	StatusVal int                    `json:"status_code"`
	State     string                 `json:"state"`
	User      string                 `json:"user,omitempty"`
	Queue     map[string]interface{} `json:"queue"`
}

// SendResponse is returned by POST /api/v1/send
type SendResponse struct {
	Success   bool   `json:"success"`
	Signature string `json:"signature"`
	Priority  int    `json:"priority"`
	Size      int    `json:"size"`
}

// CompleteRequest is the body of POST /api/v1/complete. A non-empty Error
// rejects the package.
type CompleteRequest struct {
	Signature string `json:"signature" binding:"required"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleStatus(c *gin.Context) {
	st := s.session.Status()
	c.JSON(http.StatusOK, StatusResponse{
		Status:    st.String(),
		StatusVal: int(st),
		State:     s.session.State(),
		User:      s.session.User(),
		Queue:     s.session.Queue().Stats(),
	})
}

// handleSend queues the raw request body. The optional priority query
// parameter orders it against other waiting packages (lower first).
func (s *Server) handleSend(c *gin.Context) {
	priority := 0
	if p := c.Query("priority"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid priority", Message: err.Error()})
			return
		}
		priority = n
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxBodyBytes))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "body too large", Message: err.Error()})
		return
	}
	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "empty body"})
		return
	}

	if err := s.session.SendPackage(body, nil, priority); err != nil {
		if errors.Is(err, session.ErrDuplicate) {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "duplicate package", Message: err.Error()})
			return
		}
		s.logger.Warn("⚠️ send failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "send failed", Message: err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, SendResponse{
		Success:   true,
		Signature: delivery.Signature(body),
		Priority:  priority,
		Size:      len(body),
	})
}

// handleComplete reports the application result of a delivered package
func (s *Server) handleComplete(c *gin.Context) {
	var req CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request", Message: err.Error()})
		return
	}

	var result error
	if req.Error != "" {
		result = errors.New(req.Error)
	}
	if !s.session.Complete(req.Signature, result) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "unknown package", Message: req.Signature})
		return
	}

	s.logger.Debug("📨 package completed", zap.String("signature", req.Signature), zap.Bool("rejected", result != nil))
	c.JSON(http.StatusOK, gin.H{"success": true})
}
