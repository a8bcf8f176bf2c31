package main

import (
	"log"
	"net/http"
	"os"

	"agentwrap_back/agents"
	"agentwrap_back/authorization"
	"agentwrap_back/diagnostics"
	"agentwrap_back/llm"
	"agentwrap_back/retrieval"
	"agentwrap_back/storage"
	"agentwrap_back/wrapper"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func mustLoadEnv() {
	_ = godotenv.Load()
}

// runID tags every request with an identifier that the error envelopes echo
// back, so a failing call can be matched to its logs.
func runID() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("run_id", uuid.NewString())
		c.Next()
	}
}

func main() {
	mustLoadEnv()

	r := gin.Default()
	r.Use(runID())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Manager-Token"}
	r.Use(cors.New(corsConfig))

	guard := authorization.NewGuardFromEnv()

	db, err := retrieval.OpenDatabaseFromEnv()
	if err != nil {
		log.Fatalf("open database: %v", err)
	}

	storageModule, err := storage.RegisterRoutes(r, guard)
	if err != nil {
		log.Fatalf("register storage routes: %v", err)
	}

	retrievalModule, err := retrieval.RegisterRoutes(r, guard, db, storageModule.Files())
	if err != nil {
		log.Fatalf("register retrieval routes: %v", err)
	}

	agentsModule, err := agents.RegisterRoutes(r, guard, db)
	if err != nil {
		log.Fatalf("register agent routes: %v", err)
	}

	chatClient, err := llm.NewChatClientFromEnv()
	if err != nil {
		log.Fatalf("configure chat client: %v", err)
	}
	wrapper.RegisterRoutes(r, guard, chatClient, retrievalModule.Service(), agentsModule.Registry())

	diagnostics.RegisterRoutes(r, db, storageModule.Files(), retrievalModule.Service())

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{
			"type":    "not_found",
			"message": "Route not found",
			"code":    "NOT_FOUND",
			"run_id":  c.GetString("run_id"),
		}})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	if err := r.Run(":" + port); err != nil {
		log.Fatalf("start server: %v", err)
	}
}
