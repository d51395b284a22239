/*
HTTP surface of the Concierge service. The server wires the LLM provider,
the capability registry, the reasoning loop, and the conversation store
together, and exposes chat (plain and SSE-streamed), document ingestion,
conversation management, cancellation, and status endpoints.
*/
package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/ledongthuc/pdf"
	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"concierge/store"
	"concierge/tools"
)

type Server struct {
	registry      *tools.Registry
	orchestrator  *Orchestrator
	conversations ConversationStore
	schedule      store.Store
	cancelManager *CancelManager
	config        *Config
	logger        *logrus.Logger
}

// NewServer creates a server instance with all dependencies initialized:
// the LLM provider, the decision model adapter, every capability, and the
// reasoning loop over them.
func NewServer(config *Config, schedule store.Store, logger *logrus.Logger) (*Server, error) {
	logger.Info("Starting server initialization")

	llm, err := initializeLLM(config, logger)
	if err != nil {
		return nil, err
	}

	adapter := NewModelAdapter(llm, config, logger)

	weatherService := tools.NewWeatherService(config.OpenWeatherMapAPIKey)
	searchTool := tools.NewSearchTool(config.SerpAPIKey)

	registry := tools.NewRegistry()
	base := []tools.Capability{
		tools.NewDateTimeTool(),
		tools.NewCurrentWeatherTool(weatherService),
		tools.NewForecastTool(weatherService),
		searchTool,
		tools.NewCreateEventTool(schedule),
		tools.NewCheckEventTool(schedule),
		tools.NewGetEventTool(schedule),
		tools.NewQueryEventsTool(schedule),
		tools.NewDeleteEventTool(schedule),
	}
	for _, capability := range base {
		if err := registry.Register(capability); err != nil {
			return nil, fmt.Errorf("failed to register capability: %w", err)
		}
	}

	// Policies compose the base capabilities with model judgments, then
	// register as capabilities themselves so the decision model can invoke
	// whole flows in one step.
	docQA := NewDocumentQAPolicy(adapter, searchTool, logger)
	if err := registry.Register(NewDocumentQATool(docQA)); err != nil {
		return nil, fmt.Errorf("failed to register capability: %w", err)
	}
	weatherGate := NewWeatherSchedulingPolicy(adapter, registry, logger)
	if err := registry.Register(NewScheduleIfGoodWeatherTool(weatherGate)); err != nil {
		return nil, fmt.Errorf("failed to register capability: %w", err)
	}

	logger.WithField("capabilities", registry.Names()).Info("Capabilities registered")

	return &Server{
		registry:      registry,
		orchestrator:  NewOrchestrator(adapter, registry, config, logger),
		conversations: NewInMemoryStore(config.SessionMaxAge, config.CleanupInterval, logger),
		schedule:      schedule,
		cancelManager: NewCancelManager(logger),
		config:        config,
		logger:        logger,
	}, nil
}

func initializeLLM(config *Config, logger *logrus.Logger) (llms.Model, error) {
	switch config.LLMProvider {
	case ProviderOpenRouter:
		logger.WithFields(logrus.Fields{
			"provider": ProviderOpenRouter,
			"model":    config.ModelName,
			"baseUrl":  config.OpenRouterBaseURL,
		}).Info("Initializing OpenRouter LLM")

		llm, err := openai.New(
			openai.WithToken(config.OpenRouterAPIKey),
			openai.WithBaseURL(config.OpenRouterBaseURL),
			openai.WithModel(config.ModelName),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenRouter LLM: %w", err)
		}
		return llm, nil

	default:
		logger.WithFields(logrus.Fields{
			"provider": ProviderOllama,
			"endpoint": config.OllamaEndpoint,
			"model":    config.OllamaModel,
		}).Info("Initializing Ollama LLM")

		llm, err := ollama.New(
			ollama.WithServerURL(config.OllamaEndpoint),
			ollama.WithModel(config.OllamaModel),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Ollama LLM: %w", err)
		}
		return llm, nil
	}
}

func (s *Server) handleChat(c echo.Context) error {
	requestLogger := s.logger.WithFields(logrus.Fields{
		"endpoint": "/chat",
		"clientIP": c.RealIP(),
	})

	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		requestLogger.WithError(err).Error("Failed to parse request body")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if strings.TrimSpace(req.Message) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Message is required"})
	}

	conversation := s.conversations.GetOrCreate(req.ConversationID)
	requestLogger = requestLogger.WithField("conversationId", conversation.ID)
	requestLogger.WithField("messageLength", len(req.Message)).Info("Received chat request")

	ctx := c.Request().Context()
	if document := conversation.Document(); document != "" {
		ctx = WithDocument(ctx, document)
	}

	startTime := time.Now()
	result, err := s.orchestrator.Run(ctx, conversation.RecentTurns(s.config.ContextLimit), req.Message, NewOrderedEmitter(NewCollectEmitter()))
	conversation.AppendTurns(result.Turns)

	if err != nil && result.State == StateFailed {
		requestLogger.WithError(err).WithField("executionTime", time.Since(startTime)).Error("Chat execution failed")
		return c.JSON(http.StatusOK, ChatResponse{
			Response:       s.errorMessage(err),
			ConversationID: conversation.ID,
		})
	}

	requestLogger.WithFields(logrus.Fields{
		"executionTime": time.Since(startTime),
		"iterations":    result.Iterations,
		"invocations":   result.Invocations,
	}).Info("Chat execution completed")

	return c.JSON(http.StatusOK, ChatResponse{
		Response:       result.Answer,
		ConversationID: conversation.ID,
	})
}

func (s *Server) handleStreamChat(c echo.Context) error {
	requestLogger := s.logger.WithFields(logrus.Fields{
		"endpoint": "/chat/stream",
		"clientIP": c.RealIP(),
	})

	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		requestLogger.WithError(err).Error("Failed to parse streaming request body")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if strings.TrimSpace(req.Message) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Message is required"})
	}

	conversation := s.conversations.GetOrCreate(req.ConversationID)

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")

	// Every event of the run flows through one ordered emitter, the
	// session and execution announcements included, so clients see a
	// single strictly ordered sequence ending in done.
	em := NewOrderedEmitter(&sseEmitter{c: c})
	em.Emit(StreamEvent{Type: EventSession, Content: conversation.ID})

	executionID := fmt.Sprintf("exec_%d", time.Now().UnixNano())
	em.Emit(StreamEvent{Type: EventExecutionStarted, Content: executionID})

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelManager.AddExecution(executionID, cancel)
	defer func() {
		s.cancelManager.RemoveExecution(executionID)
		cancel()
	}()

	if document := conversation.Document(); document != "" {
		ctx = WithDocument(ctx, document)
	}

	requestLogger = requestLogger.WithFields(logrus.Fields{
		"conversationId": conversation.ID,
		"executionId":    executionID,
	})
	requestLogger.Info("Starting streaming execution")

	startTime := time.Now()
	result, err := s.orchestrator.Run(ctx, conversation.RecentTurns(s.config.ContextLimit), req.Message, em)
	conversation.AppendTurns(result.Turns)

	if err != nil && result.State == StateFailed {
		requestLogger.WithError(err).WithField("executionTime", time.Since(startTime)).Error("Streaming execution failed")
		return nil
	}

	requestLogger.WithFields(logrus.Fields{
		"executionTime": time.Since(startTime),
		"iterations":    result.Iterations,
		"invocations":   result.Invocations,
	}).Info("Streaming execution completed")
	return nil
}

// handleIngest accepts a PDF or plain-text upload and folds its content into
// the conversation for the document QA capability.
func (s *Server) handleIngest(c echo.Context) error {
	requestLogger := s.logger.WithFields(logrus.Fields{
		"endpoint": "/ingest",
		"clientIP": c.RealIP(),
	})

	fileHeader, err := c.FormFile("file")
	if err != nil {
		requestLogger.WithError(err).Error("Ingest request missing file")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "A file upload is required"})
	}

	file, err := fileHeader.Open()
	if err != nil {
		requestLogger.WithError(err).Error("Failed to open uploaded file")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to read upload"})
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		requestLogger.WithError(err).Error("Failed to read uploaded file")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to read upload"})
	}

	var text string
	if strings.EqualFold(filepath.Ext(fileHeader.Filename), ".pdf") {
		text, err = extractPDFText(data)
		if err != nil {
			requestLogger.WithError(err).Error("Failed to extract PDF text")
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Could not extract text from the PDF"})
		}
	} else {
		text = string(data)
	}
	if strings.TrimSpace(text) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "The document contains no extractable text"})
	}

	conversation := s.conversations.GetOrCreate(c.FormValue("conversationId"))
	conversation.AttachDocument(fileHeader.Filename, text)

	requestLogger.WithFields(logrus.Fields{
		"conversationId": conversation.ID,
		"filename":       fileHeader.Filename,
		"textLength":     len(text),
	}).Info("Document ingested")

	return c.JSON(http.StatusOK, map[string]any{
		"conversationId": conversation.ID,
		"filename":       fileHeader.Filename,
		"characters":     len(text),
	})
}

func extractPDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to parse PDF: %w", err)
	}
	plainText, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to extract PDF text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plainText); err != nil {
		return "", fmt.Errorf("failed to read PDF text: %w", err)
	}
	return buf.String(), nil
}

func (s *Server) handleListConversations(c echo.Context) error {
	conversations := s.conversations.List()

	summaries := make([]map[string]any, 0, len(conversations))
	for _, conversation := range conversations {
		summaries = append(summaries, map[string]any{
			"id":        conversation.ID,
			"title":     conversation.Title(),
			"created":   conversation.Created,
			"updated":   conversation.Updated,
			"turnCount": len(conversation.History()),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"conversations": summaries})
}

func (s *Server) handleGetConversation(c echo.Context) error {
	conversationID := c.Param("conversationId")

	conversation, exists := s.conversations.Get(conversationID)
	if !exists {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Conversation not found"})
	}

	turns := conversation.History()
	return c.JSON(http.StatusOK, map[string]any{
		"id":        conversation.ID,
		"created":   conversation.Created,
		"updated":   conversation.Updated,
		"turnCount": len(turns),
		"turns":     turns,
	})
}

func (s *Server) handleClearConversation(c echo.Context) error {
	conversationID := c.Param("conversationId")

	conversation, exists := s.conversations.Get(conversationID)
	if !exists {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Conversation not found"})
	}

	cleared := conversation.Clear()
	s.logger.WithFields(logrus.Fields{
		"conversationId": conversationID,
		"clearedTurns":   cleared,
	}).Info("Conversation cleared")

	return c.JSON(http.StatusOK, map[string]any{
		"message":        "Conversation cleared successfully",
		"conversationId": conversationID,
		"clearedTurns":   cleared,
	})
}

func (s *Server) handleDeleteConversation(c echo.Context) error {
	conversationID := c.Param("conversationId")

	if !s.conversations.Delete(conversationID) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Conversation not found"})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"message":        "Conversation deleted successfully",
		"conversationId": conversationID,
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	scheduleHealthy := true
	if err := s.schedule.Init(c.Request().Context()); err != nil {
		scheduleHealthy = false
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status":           "healthy",
		"llmProvider":      s.config.LLMProvider,
		"capabilities":     s.registry.Names(),
		"conversations":    s.conversations.Stats(),
		"activeExecutions": s.cancelManager.ActiveExecutions(),
		"scheduleHealthy":  scheduleHealthy,
	})
}

func (s *Server) handleStopExecution(c echo.Context) error {
	var req StopRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, StopResponse{Message: "Invalid request format"})
	}
	if req.ExecutionID == "" {
		return c.JSON(http.StatusBadRequest, StopResponse{Message: "Execution ID is required"})
	}

	if s.cancelManager.CancelExecution(req.ExecutionID) {
		return c.JSON(http.StatusOK, StopResponse{
			Success: true,
			Message: "Execution stopped successfully",
			Stopped: true,
		})
	}
	return c.JSON(http.StatusNotFound, StopResponse{Message: "Execution not found or already completed"})
}

func (s *Server) errorMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case strings.Contains(err.Error(), "context canceled"):
		return "The request was stopped before it completed."
	case strings.Contains(err.Error(), "timed out"):
		return "The request timed out. Please try a simpler request."
	default:
		return "I encountered an error processing your request. Please try again."
	}
}

// RegisterRoutes registers all HTTP routes for the server.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.POST("/chat", s.handleChat)
	e.POST("/chat/stream", s.handleStreamChat)
	e.POST("/ingest", s.handleIngest)
	e.GET("/status", s.handleStatus)
	e.POST("/stop", s.handleStopExecution)

	e.GET("/conversations", s.handleListConversations)
	e.GET("/conversations/:conversationId", s.handleGetConversation)
	e.POST("/conversations/:conversationId/clear", s.handleClearConversation)
	e.DELETE("/conversations/:conversationId", s.handleDeleteConversation)

	s.logger.Info("Routes registered successfully")
}

// sseEmitter writes stream events as server-sent events, flushing after
// each one so clients observe progress in real time.
type sseEmitter struct {
	c echo.Context
}

func (e *sseEmitter) Emit(event StreamEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(e.c.Response(), "data: %s\n\n", data)
	e.c.Response().Flush()
}

var _ Emitter = (*sseEmitter)(nil)
