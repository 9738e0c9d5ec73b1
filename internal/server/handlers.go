package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"billchat/internal/agent"
	"billchat/internal/models"
	"billchat/internal/thread"
	"billchat/internal/wire"
)

type chatRequest struct {
	Message string `json:"message"`
}

type streamRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"threadId"`
}

type agentRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"threadId"`
}

type taggedRequest struct {
	Messages []taggedMessage `json:"messages"`
}

type taggedMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleChat starts a session: it allocates a thread identifier and
// registers it with the store without running the agent.
func (s *Server) handleChat(c echo.Context) error {
	var req chatRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Message) == "" {
		return requestError{Status: http.StatusBadRequest, Message: "Message is required"}
	}

	threadID := thread.Allocate()
	if err := s.threads.CreateThread(c.Request().Context(), threadID); err != nil {
		slog.Error("failed to create thread", "thread_id", threadID, "error", err)
		return requestError{Status: http.StatusInternalServerError, Message: "Failed to create chat"}
	}

	return c.JSON(http.StatusOK, map[string]string{"threadId": threadID})
}

func (s *Server) handleAgent(c echo.Context) error {
	var req agentRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Message) == "" {
		return requestError{Status: http.StatusBadRequest, Message: "Message is required"}
	}

	ctx, cancel := s.turnContext(c)
	defer cancel()

	answer, err := s.agent.Invoke(ctx, strings.TrimSpace(req.ThreadID), []models.Message{
		{Role: models.RoleUser, Content: req.Message},
	})
	if err != nil {
		slog.Error("agent turn failed", "error", err)
		return requestError{Status: http.StatusInternalServerError, Message: "Failed to run agent"}
	}

	return c.JSON(http.StatusOK, map[string]string{"response": answer})
}

func (s *Server) handleStream(c echo.Context) error {
	var req streamRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Message) == "" {
		return requestError{Status: http.StatusBadRequest, Message: "Message is required"}
	}
	threadID, err := thread.Validate(req.ThreadID)
	if err != nil {
		return requestError{Status: http.StatusBadRequest, Message: "Thread ID is required"}
	}

	ctx, cancel := s.turnContext(c)
	defer cancel()

	st, err := s.agent.Stream(ctx, threadID, []models.Message{
		{Role: models.RoleUser, Content: req.Message},
	})
	if err != nil {
		slog.Error("stream turn failed to start", "thread_id", threadID, "error", err)
		return requestError{Status: http.StatusInternalServerError, Message: "Failed to run agent"}
	}

	header := c.Response().Header()
	header.Set(echo.HeaderContentType, "text/plain; charset=utf-8")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	if err := s.pipeStream(c, st, wire.TextEncoder{}); err != nil {
		slog.Error("stream turn aborted", "thread_id", threadID, "error", err)
		panic(http.ErrAbortHandler)
	}
	return nil
}

func (s *Server) handleStreamTagged(c echo.Context) error {
	var req taggedRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	if len(req.Messages) == 0 {
		return requestError{Status: http.StatusBadRequest, Message: "Messages are required"}
	}

	last := req.Messages[len(req.Messages)-1]
	if last.Role != models.RoleUser || strings.TrimSpace(last.Content) == "" {
		return requestError{Status: http.StatusBadRequest, Message: "Last message must be a user message"}
	}

	incoming := make([]models.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if !models.ValidRole(m.Role) {
			return requestError{Status: http.StatusBadRequest, Message: "Invalid message role"}
		}
		incoming = append(incoming, models.Message{Role: m.Role, Content: m.Content})
	}

	ctx, cancel := s.turnContext(c)
	defer cancel()

	st, err := s.agent.Stream(ctx, "", incoming)
	if err != nil {
		slog.Error("tagged stream turn failed to start", "error", err)
		return requestError{Status: http.StatusInternalServerError, Message: "Failed to run agent"}
	}

	header := c.Response().Header()
	header.Set(echo.HeaderContentType, "text/plain; charset=utf-8")
	header.Set("Cache-Control", "no-cache")
	header.Set("X-Vercel-AI-Data-Stream", "v1")
	c.Response().WriteHeader(http.StatusOK)

	if err := s.pipeStream(c, st, wire.DataStreamEncoder{}); err != nil {
		slog.Error("tagged stream turn aborted", "error", err)
		panic(http.ErrAbortHandler)
	}
	return nil
}

// turnContext bounds one turn by the configured wall-clock budget.
func (s *Server) turnContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), s.cfg.Agent.TurnTimeout())
}

// pipeStream pulls events until the sequence ends, writing each admitted
// fragment as soon as it arrives. A client disconnect stops the pull and
// shuts the producer down via the deferred Close. A non-nil return means
// the response body must not end cleanly.
func (s *Server) pipeStream(c echo.Context, st *agent.Stream, enc wire.Encoder) error {
	defer st.Close()

	ctx := c.Request().Context()
	resp := c.Response()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-st.Events():
			if !ok {
				return st.Err()
			}
			fragment, admitted := wire.Admit(ev)
			if !admitted {
				continue
			}
			if err := enc.WriteFragment(resp, fragment); err != nil {
				return err
			}
			resp.Flush()
		}
	}
}
