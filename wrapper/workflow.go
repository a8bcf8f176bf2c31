package wrapper

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"agentwrap_back/llm"
	"agentwrap_back/retrieval"
	"github.com/gin-gonic/gin"
)

type hybridRequest struct {
	Query         string   `json:"query"`
	AgentID       string   `json:"agent_id"`
	UseFileSearch *bool    `json:"use_file_search"`
	Folders       []string `json:"folders"`
}

type hybridResponse struct {
	Type            string   `json:"type"`
	RewrittenQuery  string   `json:"rewritten_query"`
	Answer          string   `json:"answer"`
	UsedFileSearch  bool     `json:"used_file_search"`
	SearchedFolders []string `json:"searched_folders"`
}

// handleHybrid runs the staged workflow: rewrite the query, classify it,
// search files unless the category is "other", then answer with a
// category-specific prompt and any retrieved context.
func (m *Module) handleHybrid(c *gin.Context) {
	appID := c.Param("appId")
	if !m.limiter.Allow("hybrid:" + appID) {
		errorJSON(c, http.StatusTooManyRequests, "rate_limit_exceeded", "RATE_LIMITED", "Too many requests")
		return
	}

	var req hybridRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_request_error", "INVALID_BODY", "request body must be JSON")
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		errorJSON(c, http.StatusBadRequest, "invalid_request_error", "MISSING_QUERY", "query required")
		return
	}
	agentID := req.AgentID
	if agentID == "" {
		agentID = appID
	}
	useFileSearch := req.UseFileSearch == nil || *req.UseFileSearch

	ctx := c.Request.Context()

	rewritten, err := m.client.Rewrite(ctx, query)
	if err != nil {
		log.Printf("wrapper: query rewrite failed, using original: %v", err)
	}

	category, err := m.client.Classify(ctx, rewritten)
	if err != nil {
		log.Printf("wrapper: classification failed, treating as other: %v", err)
	}

	var fileContext string
	searchedFolders := []string{}
	if useFileSearch && category != llm.CategoryOther {
		folders := req.Folders
		if len(folders) == 0 {
			folders = m.agentFolders(c, agentID)
		}
		searchedFolders = folders
		results, searchErr := m.service.Search(ctx, retrieval.SearchRequest{
			AgentID: agentID,
			Query:   rewritten,
			TopK:    5,
			Folders: folders,
		})
		if searchErr != nil {
			log.Printf("wrapper: file search failed, continuing without it: %v", searchErr)
		} else {
			blocks := make([]string, 0, len(results))
			for _, result := range results {
				blocks = append(blocks, fmt.Sprintf("[%s] %s", result.Folder, result.Content))
			}
			fileContext = strings.Join(blocks, "\n\n")
		}
	}

	systemPrompt := llm.AnswerPrompt(category)
	if fileContext != "" {
		systemPrompt += "\n\nUse this information from the knowledge base:\n" + fileContext
	}
	completion, err := m.client.CreateCompletion(ctx, m.client.AnswerModel(), []llm.ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: rewritten},
	})
	if err != nil {
		errorJSON(c, http.StatusBadGateway, "internal_error", "UPSTREAM_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusOK, hybridResponse{
		Type:            category,
		RewrittenQuery:  rewritten,
		Answer:          completion.Content,
		UsedFileSearch:  fileContext != "",
		SearchedFolders: searchedFolders,
	})
}
