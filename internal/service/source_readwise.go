package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/user/medialib/internal/model"
	"github.com/user/medialib/internal/utils"
)

const readwiseBaseURL = "https://readwise.io/api/v2"

// ReadwiseSource Readwise 导出接口：书籍/文章及其标注
type ReadwiseSource struct {
	client  *utils.HTTPClient
	token   string
	baseURL string
}

func NewReadwiseSource(token string) *ReadwiseSource {
	return &ReadwiseSource{
		client:  utils.NewHTTPClient("readwise", 30*time.Second),
		token:   token,
		baseURL: readwiseBaseURL,
	}
}

// SetBaseURL 替换 API 地址（测试用）
func (s *ReadwiseSource) SetBaseURL(u string) {
	s.baseURL = u
}

func (s *ReadwiseSource) Name() string {
	return "readwise"
}

type readwiseTag struct {
	Name string `json:"name"`
}

type readwiseExport struct {
	NextPageCursor *json.Number `json:"nextPageCursor"`
	Results        []struct {
		UserBookID    int64         `json:"user_book_id"`
		Title         string        `json:"title"`
		ReadableTitle string        `json:"readable_title"`
		Author        string        `json:"author"`
		Category      string        `json:"category"`
		CoverImageURL string        `json:"cover_image_url"`
		SourceURL     string        `json:"source_url"`
		DocumentNote  string        `json:"document_note"`
		Summary       string        `json:"summary"`
		BookTags      []readwiseTag `json:"book_tags"`
		Highlights    []struct {
			ID            int64         `json:"id"`
			Text          string        `json:"text"`
			Note          string        `json:"note"`
			Location      int           `json:"location"`
			HighlightedAt *time.Time    `json:"highlighted_at"`
			UpdatedAt     *time.Time    `json:"updated_at"`
			IsDeleted     bool          `json:"is_deleted"`
			Tags          []readwiseTag `json:"tags"`
		} `json:"highlights"`
	} `json:"results"`
}

func (s *ReadwiseSource) FetchPage(ctx context.Context, cursor string, since *time.Time) (*SourcePage, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("pageCursor", cursor)
	}
	if since != nil {
		q.Set("updatedAfter", since.UTC().Format(time.RFC3339))
	}

	var resp readwiseExport
	if err := s.client.GetJSON(ctx, s.baseURL+"/export/?"+q.Encode(), &resp, utils.WithToken(s.token)); err != nil {
		return nil, fmt.Errorf("readwise export: %w", err)
	}

	page := &SourcePage{}
	if resp.NextPageCursor != nil {
		page.NextCursor = resp.NextPageCursor.String()
	}
	for _, b := range resp.Results {
		typ, ok := readwiseType(b.Category)
		if !ok {
			continue
		}
		title := b.ReadableTitle
		if title == "" {
			title = b.Title
		}
		rec := model.MediaRecord{
			Type:         typ,
			Title:        title,
			Description:  b.Summary,
			ThumbnailURL: b.CoverImageURL,
			URL:          b.SourceURL,
			Source:       s.Name(),
			ExternalID:   strconv.FormatInt(b.UserBookID, 10),
			Topics:       tagNames(b.BookTags),
		}
		switch typ {
		case model.TypeBook:
			rec.Book.Author = b.Author
		case model.TypePodcastEpisode:
			rec.Podcast.Publisher = b.Author
		default:
			rec.Web.Byline = b.Author
		}

		item := SourceItem{}
		for _, h := range b.Highlights {
			if h.IsDeleted || h.Text == "" {
				continue
			}
			if h.UpdatedAt != nil && (rec.RemoteUpdatedAt == nil || h.UpdatedAt.After(*rec.RemoteUpdatedAt)) {
				t := *h.UpdatedAt
				rec.RemoteUpdatedAt = &t
			}
			item.Highlights = append(item.Highlights, model.Highlight{
				ExternalID:    "readwise:" + strconv.FormatInt(h.ID, 10),
				Text:          h.Text,
				Note:          h.Note,
				Location:      h.Location,
				Category:      b.Category,
				Tags:          tagNames(h.Tags),
				HighlightedAt: h.HighlightedAt,
			})
		}
		item.Record = rec
		page.Items = append(page.Items, item)
	}
	return page, nil
}

func readwiseType(category string) (model.MediaType, bool) {
	switch category {
	case "books":
		return model.TypeBook, true
	case "articles", "supplementals":
		return model.TypeArticle, true
	case "podcasts":
		return model.TypePodcastEpisode, true
	}
	// tweets 等不入库
	return "", false
}

func tagNames(tags []readwiseTag) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, t.Name)
	}
	return out
}
