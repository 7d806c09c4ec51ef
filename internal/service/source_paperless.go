package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/user/medialib/internal/model"
	"github.com/user/medialib/internal/utils"
)

const paperlessExcerptRunes = 500

// PaperlessSource Paperless-ngx 文档管理系统
type PaperlessSource struct {
	client  *utils.HTTPClient
	baseURL string
	token   string
	names   *utils.LookupCache[string] // 通讯方/文档类型 ID → 名称
}

func NewPaperlessSource(baseURL, token string) *PaperlessSource {
	return &PaperlessSource{
		client:  utils.NewHTTPClient("paperless", 30*time.Second),
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		names:   utils.NewLookupCache[string](256, time.Hour),
	}
}

func (s *PaperlessSource) Name() string {
	return "paperless"
}

type paperlessDocuments struct {
	Next    *string `json:"next"`
	Results []struct {
		ID            int64     `json:"id"`
		Title         string    `json:"title"`
		Content       string    `json:"content"`
		Correspondent *int      `json:"correspondent"`
		DocumentType  *int      `json:"document_type"`
		Tags          []int     `json:"tags"`
		PageCount     int       `json:"page_count"`
		Modified      time.Time `json:"modified"`
	} `json:"results"`
}

// FetchPage cursor 是上一页返回的 next 链接
func (s *PaperlessSource) FetchPage(ctx context.Context, cursor string, since *time.Time) (*SourcePage, error) {
	endpoint := cursor
	if endpoint == "" {
		q := url.Values{}
		q.Set("page_size", "50")
		q.Set("ordering", "modified")
		if since != nil {
			q.Set("modified__gt", since.UTC().Format(time.RFC3339))
		}
		endpoint = s.baseURL + "/api/documents/?" + q.Encode()
	}

	var resp paperlessDocuments
	if err := s.client.GetJSON(ctx, endpoint, &resp, utils.WithToken(s.token)); err != nil {
		return nil, fmt.Errorf("paperless documents: %w", err)
	}

	page := &SourcePage{}
	if resp.Next != nil {
		page.NextCursor = *resp.Next
	}
	for _, d := range resp.Results {
		modified := d.Modified
		rec := model.MediaRecord{
			Type:            model.TypeDocument,
			Title:           d.Title,
			Description:     excerpt(d.Content, paperlessExcerptRunes),
			URL:             fmt.Sprintf("%s/documents/%d/details", s.baseURL, d.ID),
			Source:          s.Name(),
			ExternalID:      strconv.FormatInt(d.ID, 10),
			RemoteUpdatedAt: &modified,
		}
		rec.Document.PageCount = d.PageCount
		if d.Correspondent != nil {
			name, err := s.lookupName(ctx, "correspondents", *d.Correspondent)
			if err != nil {
				return nil, err
			}
			rec.Document.Correspondent = name
		}
		if d.DocumentType != nil {
			name, err := s.lookupName(ctx, "document_types", *d.DocumentType)
			if err != nil {
				return nil, err
			}
			rec.Document.DocumentType = name
		}
		for _, tagID := range d.Tags {
			name, err := s.lookupName(ctx, "tags", tagID)
			if err != nil {
				return nil, err
			}
			if name != "" {
				rec.Topics = append(rec.Topics, name)
			}
		}
		page.Items = append(page.Items, SourceItem{Record: rec})
	}
	return page, nil
}

func (s *PaperlessSource) lookupName(ctx context.Context, kind string, id int) (string, error) {
	key := kind + ":" + strconv.Itoa(id)
	if name, ok := s.names.Get(key); ok {
		return name, nil
	}
	var obj struct {
		Name string `json:"name"`
	}
	err := s.client.GetJSON(ctx, fmt.Sprintf("%s/api/%s/%d/", s.baseURL, kind, id), &obj, utils.WithToken(s.token))
	if errors.Is(err, utils.ErrHTTPNotFound) {
		obj.Name, err = "", nil
	}
	if err != nil {
		return "", fmt.Errorf("paperless %s %d: %w", kind, id, err)
	}
	s.names.Set(key, obj.Name)
	return obj.Name, nil
}

func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
