package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/user/medialib/internal/model"
	"github.com/user/medialib/internal/utils"
)

const openLibraryBaseURL = "https://openlibrary.org"

// BookEnricher Open Library 图书富化
type BookEnricher struct {
	client  *utils.HTTPClient
	baseURL string
}

func NewBookEnricher() *BookEnricher {
	return &BookEnricher{
		client:  utils.NewHTTPClient("openlibrary", 20*time.Second),
		baseURL: openLibraryBaseURL,
	}
}

// SetBaseURL 替换 API 地址（测试用）
func (e *BookEnricher) SetBaseURL(u string) {
	e.baseURL = u
}

func (e *BookEnricher) Name() string {
	return "openlibrary"
}

type openLibrarySearch struct {
	Docs []struct {
		Key              string   `json:"key"`
		Title            string   `json:"title"`
		AuthorName       []string `json:"author_name"`
		FirstPublishYear int      `json:"first_publish_year"`
		Publisher        []string `json:"publisher"`
		ISBN             []string `json:"isbn"`
		Pages            int      `json:"number_of_pages_median"`
		CoverID          int      `json:"cover_i"`
		Subject          []string `json:"subject"`
	} `json:"docs"`
}

type openLibraryWork struct {
	// 可能是字符串，也可能是 {"type": ..., "value": ...}
	Description json.RawMessage `json:"description"`
}

func (e *BookEnricher) Lookup(ctx context.Context, rec *model.MediaRecord) (*model.MediaRecord, error) {
	q := url.Values{}
	if rec.Book.ISBN != "" {
		q.Set("isbn", rec.Book.ISBN)
	} else {
		title := utils.CleanLookupTitle(rec.Title)
		if title == "" {
			return nil, ErrLookupNotFound
		}
		q.Set("title", title)
		if rec.Book.Author != "" {
			q.Set("author", rec.Book.Author)
		}
	}
	q.Set("limit", "1")

	var res openLibrarySearch
	if err := e.client.GetJSON(ctx, e.baseURL+"/search.json?"+q.Encode(), &res); err != nil {
		return nil, fmt.Errorf("open library search: %w", err)
	}
	if len(res.Docs) == 0 {
		return nil, ErrLookupNotFound
	}
	doc := res.Docs[0]

	rec.Book.OpenLibraryID = strings.TrimPrefix(doc.Key, "/works/")
	if rec.Book.Author == "" && len(doc.AuthorName) > 0 {
		rec.Book.Author = doc.AuthorName[0]
	}
	if rec.Book.Publisher == "" && len(doc.Publisher) > 0 {
		rec.Book.Publisher = doc.Publisher[0]
	}
	if rec.Book.ISBN == "" && len(doc.ISBN) > 0 {
		rec.Book.ISBN = doc.ISBN[0]
	}
	if rec.Book.PublishedYear == 0 {
		rec.Book.PublishedYear = doc.FirstPublishYear
	}
	if rec.Book.PageCount == 0 {
		rec.Book.PageCount = doc.Pages
	}
	if rec.ThumbnailURL == "" && doc.CoverID > 0 {
		rec.ThumbnailURL = fmt.Sprintf("https://covers.openlibrary.org/b/id/%d-L.jpg", doc.CoverID)
	}
	if len(rec.Topics) == 0 && len(doc.Subject) > 0 {
		rec.Topics = append(rec.Topics, doc.Subject[:min(len(doc.Subject), 5)]...)
	}

	if rec.Description == "" && doc.Key != "" {
		desc, err := e.workDescription(ctx, doc.Key)
		if err != nil {
			return nil, err
		}
		rec.Description = desc
	}
	return rec, nil
}

func (e *BookEnricher) workDescription(ctx context.Context, key string) (string, error) {
	var work openLibraryWork
	if err := e.client.GetJSON(ctx, e.baseURL+key+".json", &work); err != nil {
		if errors.Is(err, utils.ErrHTTPNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("open library work: %w", err)
	}
	return parseWorkDescription(work.Description), nil
}

func parseWorkDescription(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return strings.TrimSpace(obj.Value)
	}
	return ""
}
