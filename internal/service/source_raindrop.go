package service

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/user/medialib/internal/model"
	"github.com/user/medialib/internal/utils"
)

const (
	raindropBaseURL = "https://api.raindrop.io/rest/v1"
	raindropPerPage = 50
)

// RaindropSource Raindrop.io 书签（全部收藏夹），按最后修改时间倒序翻页
type RaindropSource struct {
	client  *utils.HTTPClient
	token   string
	baseURL string
}

func NewRaindropSource(token string) *RaindropSource {
	return &RaindropSource{
		client:  utils.NewHTTPClient("raindrop", 30*time.Second),
		token:   token,
		baseURL: raindropBaseURL,
	}
}

// SetBaseURL 替换 API 地址（测试用）
func (s *RaindropSource) SetBaseURL(u string) {
	s.baseURL = u
}

func (s *RaindropSource) Name() string {
	return "raindrop"
}

type raindropResponse struct {
	Result bool `json:"result"`
	Items  []struct {
		ID         int64     `json:"_id"`
		Title      string    `json:"title"`
		Excerpt    string    `json:"excerpt"`
		Note       string    `json:"note"`
		Link       string    `json:"link"`
		Cover      string    `json:"cover"`
		Type       string    `json:"type"`
		Tags       []string  `json:"tags"`
		Domain     string    `json:"domain"`
		Created    time.Time `json:"created"`
		LastUpdate time.Time `json:"lastUpdate"`
	} `json:"items"`
}

func (s *RaindropSource) FetchPage(ctx context.Context, cursor string, since *time.Time) (*SourcePage, error) {
	pageNum := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, fmt.Errorf("invalid raindrop cursor %q", cursor)
		}
		pageNum = n
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(pageNum))
	q.Set("perpage", strconv.Itoa(raindropPerPage))
	q.Set("sort", "-lastUpdate")

	var resp raindropResponse
	if err := s.client.GetJSON(ctx, s.baseURL+"/raindrops/0?"+q.Encode(), &resp, utils.WithBearer(s.token)); err != nil {
		return nil, fmt.Errorf("raindrop list: %w", err)
	}

	page := &SourcePage{}
	reachedWatermark := false
	for _, it := range resp.Items {
		// 按修改时间倒序，遇到水位之前的数据说明后面都已同步过
		if since != nil && !it.LastUpdate.After(*since) {
			reachedWatermark = true
			break
		}
		updated := it.LastUpdate
		rec := model.MediaRecord{
			Type:            raindropType(it.Type, it.Link),
			Title:           it.Title,
			Description:     it.Excerpt,
			ThumbnailURL:    it.Cover,
			URL:             it.Link,
			Domain:          it.Domain,
			Source:          s.Name(),
			ExternalID:      strconv.FormatInt(it.ID, 10),
			Topics:          it.Tags,
			RemoteUpdatedAt: &updated,
		}
		if rec.Type == model.TypeVideo {
			rec.Video.Platform = videoPlatform(it.Domain)
		}
		page.Items = append(page.Items, SourceItem{Record: rec})
	}

	if !reachedWatermark && len(resp.Items) == raindropPerPage {
		page.NextCursor = strconv.Itoa(pageNum + 1)
	}
	return page, nil
}

// raindropType 书签类型映射；普通链接指向站点首页时视为网站
func raindropType(kind, link string) model.MediaType {
	switch kind {
	case "video":
		return model.TypeVideo
	case "document":
		return model.TypeDocument
	case "article":
		return model.TypeArticle
	}
	if u, err := url.Parse(link); err == nil && strings.Trim(u.Path, "/") == "" {
		return model.TypeWebsite
	}
	return model.TypeArticle
}

func videoPlatform(domain string) string {
	domain = strings.TrimPrefix(strings.ToLower(domain), "www.")
	switch {
	case strings.Contains(domain, "youtube.com"), domain == "youtu.be":
		return "youtube"
	case strings.Contains(domain, "vimeo.com"):
		return "vimeo"
	case strings.Contains(domain, "bilibili.com"):
		return "bilibili"
	}
	return domain
}
