package api

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes sets up all API routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	// Add CORS middleware
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// API version 1
	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", h.Health) // GET /api/v1/health

		rules := v1.Group("/rules")
		{
			rules.GET("/template", h.GetRuleTemplate) // GET /api/v1/rules/template
			rules.POST("/reload", h.ReloadRules)      // POST /api/v1/rules/reload
		}

		v1.POST("/analyze", h.Analyze) // POST /api/v1/analyze

		system := v1.Group("/system")
		{
			system.GET("/metrics", h.GetMetrics) // GET /api/v1/system/metrics
		}
	}

	// Root endpoints
	router.GET("/", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "Rules Engine API",
			"version": "1.0.0",
			"endpoints": map[string]string{
				"health":  "/api/v1/health",
				"analyze": "/api/v1/analyze",
				"rules":   "/api/v1/rules",
				"system":  "/api/v1/system",
				"docs":    "/docs",
			},
		})
	})

	// API documentation endpoint
	router.GET("/docs", func(c *gin.Context) {
		docs := map[string]interface{}{
			"title":       "Rules Engine API Documentation",
			"version":     "1.0.0",
			"description": "Control surface for the detection rules engine: health, rule-template lookup, on-demand reload, and direct rule testing",
			"endpoints": map[string]interface{}{
				"GET /api/v1/health": map[string]string{
					"description": "Check system health and last successful rule-index refresh",
					"response":    "Health status and timestamp",
				},
				"GET /api/v1/rules/template": map[string]string{
					"description": "Get the rule body template new rules should start from",
					"response":    "Rule template object",
				},
				"POST /api/v1/rules/reload": map[string]string{
					"description": "Force an immediate rule-index refresh from the control plane",
					"response":    "Success message",
				},
				"POST /api/v1/analyze": map[string]string{
					"description": "Run a batch ingest envelope or a direct-test payload through the engine",
					"body":        "Envelope or DirectTestEnvelope JSON object",
					"response":    "IngestStats or TestResponse depending on payload shape",
				},
				"GET /api/v1/system/metrics": map[string]string{
					"description": "Get rule-index and output-buffer gauges",
					"response":    "Metrics object",
				},
			},
		}

		c.JSON(200, docs)
	})
}
