package search

import (
	"github.com/user/medialib/internal/model"
)

// 公共字段
const (
	FieldID          = "id"
	FieldTitle       = "title"
	FieldType        = "type"
	FieldDescription = "description"
	FieldTopics      = "topics"
	FieldGenres      = "genres"
	FieldStatus      = "status"
	FieldRating      = "rating"
	FieldThumbnail   = "thumbnail"
)

// BuildDocument 由规范记录生成检索文档，extra 为类型专有字段
// 每次都生成完整文档，写入时整体替换旧文档
func BuildDocument(rec *model.MediaRecord, extra map[string]any) map[string]any {
	doc := map[string]any{
		FieldID:     rec.IDString(),
		FieldTitle:  rec.Title,
		FieldType:   string(rec.Type),
		FieldStatus: string(rec.Status),
	}
	putString(doc, FieldDescription, rec.Description)
	putString(doc, FieldThumbnail, rec.ThumbnailURL)
	if len(rec.Topics) > 0 {
		doc[FieldTopics] = append([]string(nil), rec.Topics...)
	}
	if len(rec.Genres) > 0 {
		doc[FieldGenres] = append([]string(nil), rec.Genres...)
	}
	if rec.Rating != nil {
		doc[FieldRating] = float64(*rec.Rating)
	}
	for k, v := range extra {
		if _, reserved := doc[k]; reserved {
			continue
		}
		doc[k] = v
	}
	return doc
}
