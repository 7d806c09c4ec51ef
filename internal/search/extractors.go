package search

import (
	"github.com/user/medialib/internal/model"
)

// 各类型专有的检索字段
const (
	FieldAuthor        = "author"
	FieldPublisher     = "publisher"
	FieldDirector      = "director"
	FieldReleaseYear   = "release_year"
	FieldNetwork       = "network"
	FieldShow          = "show"
	FieldPlatform      = "platform"
	FieldChannel       = "channel"
	FieldSite          = "site"
	FieldDomain        = "domain"
	FieldCorrespondent = "correspondent"
	FieldDocumentType  = "document_type"
)

// ExtractFields 按记录类型提取专有字段，空值不输出
// 纯函数，每个分支互相独立
func ExtractFields(rec *model.MediaRecord) map[string]any {
	f := make(map[string]any)
	switch rec.Type {
	case model.TypeBook:
		putString(f, FieldAuthor, rec.Book.Author)
		putString(f, FieldPublisher, rec.Book.Publisher)
		putInt(f, FieldReleaseYear, rec.Book.PublishedYear)
	case model.TypeMovie:
		putString(f, FieldDirector, rec.Screen.Director)
		putInt(f, FieldReleaseYear, rec.Screen.ReleaseYear)
	case model.TypeTVShow:
		putString(f, FieldDirector, rec.Screen.Director)
		putInt(f, FieldReleaseYear, rec.Screen.ReleaseYear)
		putString(f, FieldNetwork, rec.Screen.Network)
	case model.TypePodcast, model.TypePodcastEpisode:
		putString(f, FieldPublisher, rec.Podcast.Publisher)
		putString(f, FieldShow, rec.Podcast.ShowTitle)
	case model.TypeVideo, model.TypeChannel, model.TypePlaylist:
		putString(f, FieldPlatform, rec.Video.Platform)
		putString(f, FieldChannel, rec.Video.ChannelName)
	case model.TypeArticle, model.TypeWebsite:
		putString(f, FieldAuthor, rec.Web.Byline)
		putString(f, FieldSite, rec.Web.SiteName)
		putString(f, FieldDomain, rec.Domain)
	case model.TypeDocument:
		putString(f, FieldCorrespondent, rec.Document.Correspondent)
		putString(f, FieldDocumentType, rec.Document.DocumentType)
	}
	return f
}

func putString(f map[string]any, key, value string) {
	if value != "" {
		f[key] = value
	}
}

// 数值字段统一存 float64，与 bleve 数值索引一致
func putInt(f map[string]any, key string, value int) {
	if value != 0 {
		f[key] = float64(value)
	}
}
