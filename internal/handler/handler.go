package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/user/medialib/internal/config"
	"github.com/user/medialib/internal/logging"
	"github.com/user/medialib/internal/model"
	"github.com/user/medialib/internal/repository"
	"github.com/user/medialib/internal/search"
	"github.com/user/medialib/internal/service"
	"github.com/user/medialib/internal/utils"
)

// Services handler 依赖的服务
type Services struct {
	Media   *service.MediaService
	Similar *service.SimilarityService
	Enrich  *service.EnrichmentManager
	Syncs   *service.SyncManager
	Vault   *service.VaultSynchronizer
	Index   *search.Index
}

// Handler HTTP 处理器
type Handler struct {
	Services
	Repos  *repository.Repositories
	Config *config.Config
}

// NewHandler 创建处理器
func NewHandler(repos *repository.Repositories, cfg *config.Config, svc Services) *Handler {
	return &Handler{Services: svc, Repos: repos, Config: cfg}
}

// Health 健康检查
func (h *Handler) Health(c *gin.Context) {
	status := gin.H{"status": "ok"}
	if sqlDB, err := h.Repos.DB.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		status["status"] = "degraded"
		status["database"] = "unreachable"
	}
	if n, err := h.Repos.Media.Count(c.Request.Context()); err == nil {
		status["records"] = n
	}
	if h.Index != nil {
		if n, err := h.Index.Count(); err == nil {
			status["documents"] = n
		}
	}
	status["vectors"] = h.Repos.Embedding.IsAvailable(c.Request.Context())
	c.JSON(http.StatusOK, status)
}

// parseID 解析路径中的记录 ID
func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := model.ParseID(c.Param(name))
	if err != nil || id == 0 {
		utils.BadRequest(c, "无效的 ID")
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}

// respondError 把领域错误映射为 HTTP 状态码
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, repository.ErrNotFound):
		utils.NotFound(c, "")
	case errors.Is(err, service.ErrUnknownFamily), errors.Is(err, service.ErrUnknownSource):
		utils.NotFound(c, err.Error())
	case errors.Is(err, repository.ErrVersionConflict):
		utils.Conflict(c, "")
	case errors.Is(err, service.ErrInvalidRecord),
		errors.Is(err, model.ErrInvalidRelation),
		errors.Is(err, model.ErrScoreRequired):
		utils.BadRequest(c, err.Error())
	default:
		_ = c.Error(err)
		logging.Error().Err(err).Str("path", c.Request.URL.Path).Msg("[HTTP] 请求处理失败")
		utils.InternalServerError(c, "")
	}
}
