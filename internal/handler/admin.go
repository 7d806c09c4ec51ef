package handler

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	"github.com/user/medialib/internal/model"
	"github.com/user/medialib/internal/utils"
)

// ==================== 富化 ====================

// AdminEnrich 触发一个家族的富化批处理，?wait=true 时同步等待结果
func (h *Handler) AdminEnrich(c *gin.Context) {
	family := model.EnrichmentFamily(c.Param("family"))
	if c.Query("wait") == "true" {
		res, err := h.Enrich.Run(c.Request.Context(), family)
		if err != nil {
			respondError(c, err)
			return
		}
		utils.Success(c, res)
		return
	}

	started, err := h.Enrich.Start(family)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, utils.Response{
		Code:    http.StatusAccepted,
		Message: "accepted",
		Data:    gin.H{"family": family, "started": started},
	})
}

// AdminEnrichCancel 取消正在运行的批处理
func (h *Handler) AdminEnrichCancel(c *gin.Context) {
	family := model.EnrichmentFamily(c.Param("family"))
	if !slices.Contains(h.Enrich.Families(), family) {
		utils.NotFound(c, "未知的富化类型")
		return
	}
	utils.Success(c, gin.H{"family": family, "cancelled": h.Enrich.Cancel(family)})
}

// AdminEnrichStatus 各家族运行状态与最近结果
func (h *Handler) AdminEnrichStatus(c *gin.Context) {
	out := make([]gin.H, 0)
	for _, f := range h.Enrich.Families() {
		out = append(out, gin.H{
			"family":  f,
			"running": h.Enrich.Running(f),
			"last":    h.Enrich.LastResult(f),
		})
	}
	utils.Success(c, out)
}

// ==================== 同步 ====================

// AdminSync 触发单个来源同步
func (h *Handler) AdminSync(c *gin.Context) {
	name := c.Param("source")
	if !slices.Contains(h.Syncs.Sources(), name) {
		utils.NotFound(c, "未知的同步来源")
		return
	}
	if c.Query("wait") == "true" {
		res, err := h.Syncs.Run(c.Request.Context(), name)
		if err != nil {
			respondError(c, err)
			return
		}
		utils.Success(c, res)
		return
	}

	if err := h.Syncs.Start(name); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, utils.Response{
		Code:    http.StatusAccepted,
		Message: "accepted",
		Data:    gin.H{"source": name},
	})
}

// AdminSyncStatus 持久化的同步状态 + 本进程最近结果
func (h *Handler) AdminSyncStatus(c *gin.Context) {
	states, err := h.Repos.SyncState.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	last := make(map[string]*model.SyncResult)
	highlights := make(map[string]int64)
	for _, name := range h.Syncs.Sources() {
		if r := h.Syncs.LastResult(name); r != nil {
			last[name] = r
		}
		n, err := h.Repos.Highlight.CountBySource(c.Request.Context(), name)
		if err != nil {
			respondError(c, err)
			return
		}
		highlights[name] = n
	}
	utils.Success(c, gin.H{"states": states, "last": last, "highlights": highlights})
}

// AdminVaultSync 同步笔记库
func (h *Handler) AdminVaultSync(c *gin.Context) {
	if h.Vault == nil || !h.Vault.Enabled() {
		utils.BadRequest(c, "未配置笔记库目录")
		return
	}
	res, err := h.Vault.Run(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, res)
}

// ==================== 索引 ====================

// AdminReindex 从数据库重建检索索引
func (h *Handler) AdminReindex(c *gin.Context) {
	n, err := h.Media.ReindexAll(c.Request.Context(), h.Config.ReindexBatchSize)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.SuccessWithMessage(c, "索引重建完成", gin.H{"indexed": n})
}
