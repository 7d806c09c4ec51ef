package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user/medialib/internal/handler"
	"github.com/user/medialib/internal/utils"
)

// RegisterRoutes 注册所有路由
func RegisterRoutes(r *gin.Engine, h *handler.Handler) {
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.GET("/search", h.Search)

		records := api.Group("/records")
		records.GET("", h.ListRecords)
		records.POST("", h.CreateRecord)
		records.GET("/:id", h.GetRecord)
		records.PUT("/:id", h.UpdateRecord)
		records.DELETE("/:id", h.DeleteRecord)

		records.GET("/:id/similar", h.SimilarRecords)
		records.POST("/:id/recommend", h.Recommend)
		records.GET("/:id/relations", h.ListRelations)
		records.POST("/:id/relations", h.AddRelation)
		records.GET("/:id/highlights", h.ListHighlights)
		records.POST("/:id/enrich", h.EnrichRecord)
	}

	// ==================== 管理接口 ====================
	admin := api.Group("/admin")
	{
		admin.GET("/enrich", h.AdminEnrichStatus)
		admin.POST("/enrich/:family", h.AdminEnrich)
		admin.POST("/enrich/:family/cancel", h.AdminEnrichCancel)

		admin.GET("/sync", h.AdminSyncStatus)
		admin.POST("/sync/:source", h.AdminSync)
		admin.POST("/vault/sync", h.AdminVaultSync)

		admin.POST("/reindex", h.AdminReindex)
	}

	r.NoRoute(func(c *gin.Context) {
		utils.Error(c, http.StatusNotFound, "not found")
	})
}
