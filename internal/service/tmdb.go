package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/user/medialib/internal/model"
	"github.com/user/medialib/internal/utils"
)

const (
	tmdbDefaultBaseURL = "https://api.themoviedb.org/3"
	tmdbImageBase      = "https://image.tmdb.org/t/p/w500"
)

// TMDBEnricher 电影/剧集富化：先按标题（和年份）搜索，再取详情和演职员
type TMDBEnricher struct {
	client  *utils.HTTPClient
	token   string
	baseURL string
	kind    string // movie / tv
	ids     *utils.LookupCache[int]
}

// NewTMDBEnricher kind 取 model.FamilyMovies 或 model.FamilyTVShows
func NewTMDBEnricher(token string, family model.EnrichmentFamily) *TMDBEnricher {
	kind := "movie"
	if family == model.FamilyTVShows {
		kind = "tv"
	}
	return &TMDBEnricher{
		client:  utils.NewHTTPClient("tmdb", 15*time.Second),
		token:   token,
		baseURL: tmdbDefaultBaseURL,
		kind:    kind,
		ids:     utils.NewLookupCache[int](512, 24*time.Hour),
	}
}

// SetBaseURL 替换 API 地址（测试用）
func (e *TMDBEnricher) SetBaseURL(u string) {
	e.baseURL = u
}

func (e *TMDBEnricher) Name() string {
	return "tmdb-" + e.kind
}

type tmdbSearchResponse struct {
	Results []struct {
		ID int `json:"id"`
	} `json:"results"`
}

type tmdbDetailsResponse struct {
	ID             int    `json:"id"`
	Title          string `json:"title"`
	Name           string `json:"name"` // 电视剧
	Overview       string `json:"overview"`
	PosterPath     string `json:"poster_path"`
	ReleaseDate    string `json:"release_date"`
	FirstAirDate   string `json:"first_air_date"` // 电视剧
	Runtime        int    `json:"runtime"`
	EpisodeRunTime []int  `json:"episode_run_time"` // 电视剧
	IMDbID         string `json:"imdb_id"`
	Seasons        int    `json:"number_of_seasons"`
	Genres         []struct {
		Name string `json:"name"`
	} `json:"genres"`
	Networks []struct {
		Name string `json:"name"`
	} `json:"networks"`
	CreatedBy []struct {
		Name string `json:"name"`
	} `json:"created_by"`
	Credits struct {
		Crew []struct {
			Name string `json:"name"`
			Job  string `json:"job"`
		} `json:"crew"`
	} `json:"credits"`
	ExternalIDs struct {
		IMDbID string `json:"imdb_id"`
	} `json:"external_ids"`
}

func (e *TMDBEnricher) Lookup(ctx context.Context, rec *model.MediaRecord) (*model.MediaRecord, error) {
	id := rec.Screen.TMDBID
	if id == 0 {
		var err error
		id, err = e.search(ctx, rec)
		if err != nil {
			return nil, err
		}
	}

	details, err := e.details(ctx, id)
	if err != nil {
		return nil, err
	}
	applyTMDBDetails(rec, details)
	return rec, nil
}

func (e *TMDBEnricher) search(ctx context.Context, rec *model.MediaRecord) (int, error) {
	title := utils.CleanLookupTitle(rec.Title)
	if title == "" {
		return 0, ErrLookupNotFound
	}
	year := rec.Screen.ReleaseYear
	if year == 0 {
		year = utils.ExtractYear(rec.Title)
	}

	key := e.kind + ":" + title + ":" + strconv.Itoa(year)
	if id, ok := e.ids.Get(key); ok {
		return id, nil
	}

	q := url.Values{}
	q.Set("query", title)
	if year > 0 {
		if e.kind == "tv" {
			q.Set("first_air_date_year", strconv.Itoa(year))
		} else {
			q.Set("year", strconv.Itoa(year))
		}
	}
	var resp tmdbSearchResponse
	if err := e.client.GetJSON(ctx, fmt.Sprintf("%s/search/%s?%s", e.baseURL, e.kind, q.Encode()), &resp, utils.WithBearer(e.token)); err != nil {
		return 0, fmt.Errorf("tmdb search: %w", err)
	}
	if len(resp.Results) == 0 {
		return 0, ErrLookupNotFound
	}
	e.ids.Set(key, resp.Results[0].ID)
	return resp.Results[0].ID, nil
}

func (e *TMDBEnricher) details(ctx context.Context, id int) (*tmdbDetailsResponse, error) {
	u := fmt.Sprintf("%s/%s/%d?append_to_response=credits,external_ids", e.baseURL, e.kind, id)
	var resp tmdbDetailsResponse
	if err := e.client.GetJSON(ctx, u, &resp, utils.WithBearer(e.token)); err != nil {
		if errors.Is(err, utils.ErrHTTPNotFound) {
			return nil, ErrLookupNotFound
		}
		return nil, fmt.Errorf("tmdb details: %w", err)
	}
	return &resp, nil
}

// applyTMDBDetails 只补全缺失字段，已有值保持不变
func applyTMDBDetails(rec *model.MediaRecord, d *tmdbDetailsResponse) {
	rec.Screen.TMDBID = d.ID
	if rec.Description == "" {
		rec.Description = d.Overview
	}
	if rec.ThumbnailURL == "" && d.PosterPath != "" {
		rec.ThumbnailURL = tmdbImageBase + d.PosterPath
	}
	if rec.Screen.ReleaseYear == 0 {
		date := d.ReleaseDate
		if date == "" {
			date = d.FirstAirDate
		}
		if len(date) >= 4 {
			rec.Screen.ReleaseYear, _ = strconv.Atoi(date[:4])
		}
	}
	if rec.Screen.RuntimeMinutes == 0 {
		if d.Runtime > 0 {
			rec.Screen.RuntimeMinutes = d.Runtime
		} else if len(d.EpisodeRunTime) > 0 {
			rec.Screen.RuntimeMinutes = d.EpisodeRunTime[0]
		}
	}
	if rec.Screen.IMDbID == "" {
		rec.Screen.IMDbID = d.IMDbID
		if rec.Screen.IMDbID == "" {
			rec.Screen.IMDbID = d.ExternalIDs.IMDbID
		}
	}
	if rec.Screen.Seasons == 0 {
		rec.Screen.Seasons = d.Seasons
	}
	if rec.Screen.Network == "" && len(d.Networks) > 0 {
		rec.Screen.Network = d.Networks[0].Name
	}
	if rec.Screen.Director == "" {
		for _, c := range d.Credits.Crew {
			if c.Job == "Director" {
				rec.Screen.Director = c.Name
				break
			}
		}
		if rec.Screen.Director == "" && len(d.CreatedBy) > 0 {
			rec.Screen.Director = d.CreatedBy[0].Name
		}
	}
	if len(rec.Genres) == 0 {
		for _, g := range d.Genres {
			rec.Genres = append(rec.Genres, g.Name)
		}
	}
}
