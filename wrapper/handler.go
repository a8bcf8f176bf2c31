package wrapper

import (
	"fmt"
	"net/http"
	"strings"

	"agentwrap_back/agents"
	"agentwrap_back/authorization"
	"agentwrap_back/llm"
	"agentwrap_back/retrieval"
	"github.com/gin-gonic/gin"
)

// Module relays application calls to the chat provider with optional
// retrieval context.
type Module struct {
	client   *llm.ChatClient
	service  *retrieval.Service
	registry agents.Store
	limiter  *rateLimiter
}

// RegisterRoutes mounts the /x-app surface. The invoke and hybrid routes
// require a bearer token and share a per-app fixed-window rate limit.
func RegisterRoutes(router *gin.Engine, guard *authorization.Guard, client *llm.ChatClient, service *retrieval.Service, registry agents.Store) *Module {
	module := &Module{
		client:   client,
		service:  service,
		registry: registry,
		limiter:  newRateLimiter(defaultRateLimit, defaultRateWindow),
	}

	group := router.Group("/x-app/:appId")
	group.POST("/invoke", guard.RequireBearer(), module.handleInvoke)
	group.POST("/hybrid", guard.RequireBearer(), module.handleHybrid)
	group.POST("/deploy", module.handleDeploy)
	group.GET("", module.handleHealth)

	return module
}

type invokeTool struct {
	Type string `json:"type"`
}

type invokeMetadata struct {
	AgentID   string   `json:"agent_id"`
	FileQuery string   `json:"file_query"`
	TopK      int      `json:"top_k"`
	Folders   []string `json:"folders"`
}

type invokeRequest struct {
	Model      string            `json:"model"`
	Stream     bool              `json:"stream"`
	Messages   []llm.ChatMessage `json:"messages"`
	Tools      []invokeTool      `json:"tools"`
	ToolChoice any               `json:"tool_choice"`
	Metadata   *invokeMetadata   `json:"metadata"`
}

func (r *invokeRequest) wantsFileSearch() bool {
	if choice, ok := r.ToolChoice.(string); ok && choice == "none" {
		return false
	}
	for _, tool := range r.Tools {
		if tool.Type == "file_search" {
			return true
		}
	}
	return false
}

func (m *Module) handleInvoke(c *gin.Context) {
	appID := c.Param("appId")
	if !m.limiter.Allow("invoke:" + appID) {
		errorJSON(c, http.StatusTooManyRequests, "rate_limit_exceeded", "RATE_LIMITED", "Too many requests")
		return
	}

	var req invokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_request_error", "INVALID_BODY", "request body must be JSON")
		return
	}
	model := req.Model
	if model == "" {
		model = m.client.DefaultModel()
	}

	messages := req.Messages
	if req.wantsFileSearch() && req.Metadata != nil && strings.TrimSpace(req.Metadata.FileQuery) != "" {
		context, err := m.fileSearchContext(c, appID, req.Metadata)
		if err != nil {
			errorJSON(c, http.StatusInternalServerError, "internal_error", "SEARCH_FAILED", err.Error())
			return
		}
		if context != "" {
			messages = append([]llm.ChatMessage{
				{Role: "system", Content: "Use the following retrieved context when answering. If context is irrelevant, say so."},
				{Role: "system", Content: context},
			}, messages...)
		}
	}

	if req.Stream {
		m.relayStream(c, model, messages)
		return
	}

	completion, err := m.client.CreateCompletion(c.Request.Context(), model, messages)
	if err != nil {
		errorJSON(c, http.StatusBadGateway, "internal_error", "UPSTREAM_FAILED", err.Error())
		return
	}
	response := gin.H{
		"id":     completion.ID,
		"model":  model,
		"object": "chat.completion",
		"choices": []gin.H{{
			"index":   0,
			"message": llm.ChatMessage{Role: "assistant", Content: completion.Content},
		}},
	}
	if completion.Usage != nil {
		response["usage"] = completion.Usage
	}
	c.JSON(http.StatusOK, response)
}

// fileSearchContext runs the retrieval search scoped to the agent's folders
// and formats the hits as context blocks.
func (m *Module) fileSearchContext(c *gin.Context, appID string, meta *invokeMetadata) (string, error) {
	agentID := meta.AgentID
	if agentID == "" {
		agentID = appID
	}
	folders := meta.Folders
	if len(folders) == 0 {
		folders = m.agentFolders(c, agentID)
	}
	topK := meta.TopK
	if topK <= 0 {
		topK = 5
	}

	results, err := m.service.Search(c.Request.Context(), retrieval.SearchRequest{
		AgentID: agentID,
		Query:   meta.FileQuery,
		TopK:    topK,
		Folders: folders,
	})
	if err != nil {
		return "", err
	}
	blocks := make([]string, 0, len(results))
	for _, result := range results {
		blocks = append(blocks, fmt.Sprintf("# Context (from %s)\n%s", result.Folder, result.Content))
	}
	return strings.Join(blocks, "\n\n"), nil
}

// agentFolders resolves the registered folder scope for an agent, defaulting
// to the shared folder for unknown ids.
func (m *Module) agentFolders(c *gin.Context, agentID string) []string {
	record, err := m.registry.Get(c.Request.Context(), agentID)
	if err != nil {
		return []string{"shared"}
	}
	return record.Folders()
}

// relayStream forwards provider deltas as OpenAI-style SSE chunks.
func (m *Module) relayStream(c *gin.Context, model string, messages []llm.ChatMessage) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	err := m.client.StreamCompletion(c.Request.Context(), model, messages, func(delta llm.StreamDelta) error {
		payload := gin.H{
			"object": "chat.completion.chunk",
			"choices": []gin.H{{
				"delta": gin.H{"content": delta.Content},
			}},
		}
		c.SSEvent("", payload)
		c.Writer.Flush()
		return nil
	})
	if err != nil {
		// Headers are already out; the stream just ends without [DONE].
		return
	}
	c.Writer.WriteString("data: [DONE]\n\n")
	c.Writer.Flush()
}

func (m *Module) handleDeploy(c *gin.Context) {
	appID := c.Param("appId")
	c.JSON(http.StatusOK, gin.H{
		"appId":  appID,
		"status": "deployed",
		"endpoints": gin.H{
			"invoke": "/x-app/" + appID + "/invoke",
		},
	})
}

func (m *Module) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"appId": c.Param("appId"), "health": "ok"})
}

func errorJSON(c *gin.Context, status int, errType, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{
		"type":    errType,
		"message": message,
		"code":    code,
		"run_id":  c.GetString("run_id"),
	}})
}
