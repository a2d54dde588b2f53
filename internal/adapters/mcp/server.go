// Package mcp exposes session operations as MCP tools, so agent hosts
// orchestrating the tutor LLM can read and write conversation state directly.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/moneymentor/mentor/pkg/domain"
	"github.com/moneymentor/mentor/pkg/session"
)

// Version is reported to MCP clients during initialization.
const Version = "1.0.0"

// SessionResult is the unified structured output of every session tool.
type SessionResult struct {
	Session *domain.Session `json:"session" jsonschema_description:"The post-operation session record"`
}

// Server wraps the session manager and exposes it as an MCP server.
type Server struct {
	sessions  *session.Manager
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP server instance.
func NewServer(sessions *session.Manager) *Server {
	s := &Server{
		sessions:  sessions,
		mcpServer: server.NewMCPServer("mentor-mcp", Version),
	}
	s.registerTools()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	// TOOL: start_session
	startTool := mcp.NewTool("start_session",
		mcp.WithDescription("Create a new tutoring session. If session_id is omitted one is generated."),
		mcp.WithString("session_id", mcp.Description("Optional session ID to reserve")),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Owning learner ID")),
		mcp.WithOutputSchema[SessionResult](),
	)
	s.mcpServer.AddTool(startTool, mcp.NewStructuredToolHandler(s.handleStartSession))

	// TOOL: get_session
	getTool := mcp.NewTool("get_session",
		mcp.WithDescription("Fetch the session record: chat transcript, quiz history and progress."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithOutputSchema[SessionResult](),
	)
	s.mcpServer.AddTool(getTool, mcp.NewStructuredToolHandler(s.handleGetSession))

	// TOOL: append_chat_message
	appendTool := mcp.NewTool("append_chat_message",
		mcp.WithDescription("Append one chat turn to the session transcript."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithString("role", mcp.Required(), mcp.Description("Message role (user or assistant)")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Message content")),
		mcp.WithOutputSchema[SessionResult](),
	)
	s.mcpServer.AddTool(appendTool, mcp.NewStructuredToolHandler(s.handleAppendChatMessage))

	// TOOL: record_quiz_result
	quizTool := mcp.NewTool("record_quiz_result",
		mcp.WithDescription("Append a quiz record to the session. The record is a free-form JSON object."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithString("record", mcp.Required(), mcp.Description("JSON object with the quiz outcome")),
		mcp.WithOutputSchema[SessionResult](),
	)
	s.mcpServer.AddTool(quizTool, mcp.NewStructuredToolHandler(s.handleRecordQuizResult))

	// TOOL: update_progress
	progressTool := mcp.NewTool("update_progress",
		mcp.WithDescription("Shallow-merge a JSON object into the learner's progress map."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithString("progress", mcp.Required(), mcp.Description("JSON object of progress keys to merge")),
		mcp.WithOutputSchema[SessionResult](),
	)
	s.mcpServer.AddTool(progressTool, mcp.NewStructuredToolHandler(s.handleUpdateProgress))
}

func (s *Server) handleStartSession(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (SessionResult, error) {
	id, _ := args["session_id"].(string)
	userID, _ := args["user_id"].(string)
	if userID == "" {
		return SessionResult{}, fmt.Errorf("user_id is required")
	}

	sess, err := s.sessions.CreateSession(ctx, id, userID)
	if err != nil {
		return SessionResult{}, fmt.Errorf("start session failed: %w", err)
	}
	return SessionResult{Session: sess}, nil
}

func (s *Server) handleGetSession(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (SessionResult, error) {
	id, _ := args["session_id"].(string)

	sess, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		return SessionResult{}, fmt.Errorf("get session failed: %w", err)
	}
	return SessionResult{Session: sess}, nil
}

func (s *Server) handleAppendChatMessage(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (SessionResult, error) {
	id, _ := args["session_id"].(string)
	role, _ := args["role"].(string)
	content, _ := args["content"].(string)
	if role == "" || content == "" {
		return SessionResult{}, fmt.Errorf("role and content are required")
	}

	sess, err := s.sessions.AppendChatMessage(ctx, id, domain.Message{Role: role, Content: content})
	if err != nil {
		return SessionResult{}, fmt.Errorf("append chat message failed: %w", err)
	}
	return SessionResult{Session: sess}, nil
}

func (s *Server) handleRecordQuizResult(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (SessionResult, error) {
	id, _ := args["session_id"].(string)
	raw, _ := args["record"].(string)

	var rec domain.QuizRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return SessionResult{}, fmt.Errorf("record must be a JSON object: %w", err)
	}

	sess, err := s.sessions.AppendQuizRecord(ctx, id, rec)
	if err != nil {
		return SessionResult{}, fmt.Errorf("record quiz result failed: %w", err)
	}
	return SessionResult{Session: sess}, nil
}

func (s *Server) handleUpdateProgress(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (SessionResult, error) {
	id, _ := args["session_id"].(string)
	raw, _ := args["progress"].(string)

	var partial map[string]any
	if err := json.Unmarshal([]byte(raw), &partial); err != nil {
		return SessionResult{}, fmt.Errorf("progress must be a JSON object: %w", err)
	}

	sess, err := s.sessions.MergeProgress(ctx, id, partial)
	if err != nil {
		return SessionResult{}, fmt.Errorf("update progress failed: %w", err)
	}
	return SessionResult{Session: sess}, nil
}
