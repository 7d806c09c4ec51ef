package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/user/medialib/internal/model"
	"github.com/user/medialib/internal/search"
	"github.com/user/medialib/internal/utils"
)

// RecordRequest 新建/编辑记录的请求体
// 编辑时必须带上读取到的 version，版本不一致返回 409
type RecordRequest struct {
	Type         model.MediaType       `json:"type" binding:"required"`
	Title        string                `json:"title" binding:"required,max=500"`
	Status       model.Status          `json:"status"`
	Rating       *int                  `json:"rating" binding:"omitempty,min=1,max=5"`
	Description  string                `json:"description"`
	Notes        string                `json:"notes"`
	Topics       []string              `json:"topics" binding:"max=50,dive,max=100"`
	Genres       []string              `json:"genres" binding:"max=50,dive,max=100"`
	ThumbnailURL string                `json:"thumbnail_url" binding:"omitempty,url"`
	URL          string                `json:"url" binding:"omitempty,url"`
	Book         model.BookDetails     `json:"book"`
	Screen       model.ScreenDetails   `json:"screen"`
	Podcast      model.PodcastDetails  `json:"podcast"`
	Video        model.VideoDetails    `json:"video"`
	Web          model.WebDetails      `json:"web"`
	Document     model.DocumentDetails `json:"document"`
	Version      int                   `json:"version"`
}

// applyTo 用户可编辑字段整体覆盖，来源与富化状态保持不变；status 为空时保留原值
func (r *RecordRequest) applyTo(rec *model.MediaRecord) {
	rec.Type = r.Type
	rec.Title = r.Title
	if r.Status != "" {
		rec.Status = r.Status
	}
	rec.Rating = r.Rating
	rec.Description = r.Description
	rec.Notes = r.Notes
	rec.Topics = r.Topics
	rec.Genres = r.Genres
	rec.ThumbnailURL = r.ThumbnailURL
	if !utils.AreEquivalentURLs(r.URL, rec.URL) {
		rec.Domain = ""
	}
	rec.URL = r.URL
	rec.Book = r.Book
	rec.Screen = r.Screen
	rec.Podcast = r.Podcast
	rec.Video = r.Video
	rec.Web = r.Web
	rec.Document = r.Document
}

// CreateRecord 新建记录
func (h *Handler) CreateRecord(c *gin.Context) {
	var req RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "参数错误: "+err.Error())
		return
	}
	rec := &model.MediaRecord{Source: "manual"}
	req.applyTo(rec)
	if err := h.Media.Create(c.Request.Context(), rec); err != nil {
		respondError(c, err)
		return
	}
	utils.Created(c, rec)
}

// GetRecord 读取记录
func (h *Handler) GetRecord(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	rec, err := h.Media.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, rec)
}

// ListRecords 按类型分页列出记录
func (h *Handler) ListRecords(c *gin.Context) {
	limit := min(max(queryInt(c, "limit", 20), 1), 100)
	offset := max(queryInt(c, "offset", 0), 0)
	typ := model.MediaType(c.Query("type"))
	if typ != "" && !typ.Valid() {
		utils.BadRequest(c, "未知类型")
		return
	}
	records, err := h.Repos.Media.List(c.Request.Context(), typ, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, gin.H{"records": records, "limit": limit, "offset": offset})
}

// UpdateRecord 编辑记录（乐观锁）
func (h *Handler) UpdateRecord(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "参数错误: "+err.Error())
		return
	}
	if req.Version <= 0 {
		utils.BadRequest(c, "缺少 version")
		return
	}

	rec, err := h.Media.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	req.applyTo(rec)
	rec.Version = req.Version
	if err := h.Media.Update(c.Request.Context(), rec); err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, rec)
}

// DeleteRecord 删除记录
func (h *Handler) DeleteRecord(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.Media.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, nil)
}

// SimilarRecords 语义相似记录，type 支持逗号分隔多个类型
func (h *Handler) SimilarRecords(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var types []model.MediaType
	if raw := c.Query("type"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			mt := model.MediaType(strings.TrimSpace(t))
			if !mt.Valid() {
				utils.BadRequest(c, "未知类型: "+t)
				return
			}
			types = append(types, mt)
		}
	}
	items, err := h.Similar.FindSimilar(c.Request.Context(), id, types, queryInt(c, "limit", 10))
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, items)
}

// Recommend 生成并保存 AI 推荐关系
func (h *Handler) Recommend(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	rels, err := h.Similar.Recommend(c.Request.Context(), id, queryInt(c, "limit", 10))
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, rels)
}

// ListRelations 记录的出边
func (h *Handler) ListRelations(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	rels, err := h.Similar.Relations(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, rels)
}

// RelationRequest 手动关系，目标记录和目标笔记二选一
type RelationRequest struct {
	TargetRecordID *uint `json:"target_record_id" binding:"required_without=TargetNoteID"`
	TargetNoteID   *uint `json:"target_note_id" binding:"required_without=TargetRecordID"`
}

// AddRelation 手动添加关系
func (h *Handler) AddRelation(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req RelationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "参数错误: "+err.Error())
		return
	}
	rel, err := h.Similar.AddManualRelation(c.Request.Context(), id, req.TargetRecordID, req.TargetNoteID)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Created(c, rel)
}

// ListHighlights 记录关联的标注
func (h *Handler) ListHighlights(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	hs, err := h.Repos.Highlight.ListByRecord(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, hs)
}

// EnrichRecord 立即富化单条记录
func (h *Handler) EnrichRecord(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	res, err := h.Enrich.EnrichOne(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, res)
}

// SearchRequest 检索参数
type SearchRequest struct {
	Q         string `form:"q" binding:"max=500"`
	Type      string `form:"type"`
	Status    string `form:"status"`
	MinRating int    `form:"min_rating" binding:"omitempty,min=1,max=5"`
	Topic     string `form:"topic"`
	Genre     string `form:"genre"`
	Limit     int    `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset    int    `form:"offset" binding:"omitempty,min=0"`
}

// Search 全文检索 + 分面
func (h *Handler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		utils.BadRequest(c, "参数错误: "+err.Error())
		return
	}
	if req.Type != "" && !model.MediaType(req.Type).Valid() {
		utils.BadRequest(c, "未知类型")
		return
	}
	if req.Status != "" && !model.Status(req.Status).Valid() {
		utils.BadRequest(c, "未知状态")
		return
	}
	res, err := h.Index.Search(search.Query{
		Text:      req.Q,
		Type:      model.MediaType(req.Type),
		Status:    model.Status(req.Status),
		MinRating: req.MinRating,
		Topic:     req.Topic,
		Genre:     req.Genre,
		Limit:     req.Limit,
		Offset:    req.Offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, res)
}
