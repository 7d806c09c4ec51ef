package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/user/medialib/internal/model"
	"github.com/user/medialib/internal/utils"
)

// WebsiteEnricher 抓取页面的 OpenGraph / meta 信息补全文章和网站
type WebsiteEnricher struct {
	client *utils.HTTPClient
}

func NewWebsiteEnricher() *WebsiteEnricher {
	return &WebsiteEnricher{
		client: utils.NewHTTPClient("website", 20*time.Second),
	}
}

func (e *WebsiteEnricher) Name() string {
	return "opengraph"
}

func (e *WebsiteEnricher) Lookup(ctx context.Context, rec *model.MediaRecord) (*model.MediaRecord, error) {
	if rec.URL == "" {
		return nil, ErrLookupNotFound
	}
	doc, err := e.client.GetDocument(ctx, rec.URL)
	if err != nil {
		if errors.Is(err, utils.ErrHTTPNotFound) {
			return nil, ErrLookupNotFound
		}
		var statusErr *utils.HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == 410 {
			return nil, ErrLookupNotFound
		}
		return nil, fmt.Errorf("fetch page: %w", err)
	}

	meta := extractPageMeta(doc)
	if meta.empty() {
		return nil, ErrLookupNotFound
	}

	if rec.Description == "" {
		rec.Description = meta.description
	}
	if rec.ThumbnailURL == "" {
		rec.ThumbnailURL = meta.image
	}
	if rec.Web.SiteName == "" {
		rec.Web.SiteName = meta.siteName
	}
	if rec.Web.Byline == "" {
		rec.Web.Byline = meta.author
	}
	if rec.Web.PublishedAt == nil && meta.published != nil {
		rec.Web.PublishedAt = meta.published
	}
	if rec.Title == "" {
		rec.Title = meta.title
	}
	return rec, nil
}

type pageMeta struct {
	title       string
	description string
	image       string
	siteName    string
	author      string
	published   *time.Time
}

func (m pageMeta) empty() bool {
	return m.description == "" && m.image == "" && m.siteName == "" && m.author == ""
}

func extractPageMeta(doc *goquery.Document) pageMeta {
	attr := func(selectors ...string) string {
		for _, sel := range selectors {
			if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
		return ""
	}

	m := pageMeta{
		title:       attr(`meta[property="og:title"]`, `meta[name="twitter:title"]`),
		description: attr(`meta[property="og:description"]`, `meta[name="description"]`, `meta[name="twitter:description"]`),
		image:       attr(`meta[property="og:image"]`, `meta[name="twitter:image"]`),
		siteName:    attr(`meta[property="og:site_name"]`),
		author:      attr(`meta[name="author"]`, `meta[property="article:author"]`),
	}
	if m.title == "" {
		m.title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if ts := attr(`meta[property="article:published_time"]`); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			m.published = &t
		}
	}
	return m
}
