package service

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/user/medialib/internal/model"
	"github.com/user/medialib/internal/utils"
)

// PodcastFeedSource 播客 RSS 2.0 订阅源，单页返回全部单集
type PodcastFeedSource struct {
	client  *utils.HTTPClient
	feedURL string
	name    string
}

func NewPodcastFeedSource(feedURL string) *PodcastFeedSource {
	return &PodcastFeedSource{
		client:  utils.NewHTTPClient("podcast-feed", 30*time.Second),
		feedURL: feedURL,
		name:    "podcast:" + utils.ContentHash(utils.NormalizeURL(feedURL))[:12],
	}
}

func (s *PodcastFeedSource) Name() string {
	return s.name
}

type rssFeed struct {
	Channel struct {
		Title       string `xml:"title"`
		Description string `xml:"description"`
		Author      string `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd author"`
		Image       struct {
			Href string `xml:"href,attr"`
		} `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd image"`
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	GUID        string `xml:"guid"`
	PubDate     string `xml:"pubDate"`
	Duration    string `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd duration"`
	Summary     string `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd summary"`
	Image       struct {
		Href string `xml:"href,attr"`
	} `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd image"`
	Enclosure struct {
		URL string `xml:"url,attr"`
	} `xml:"enclosure"`
}

func (s *PodcastFeedSource) FetchPage(ctx context.Context, _ string, since *time.Time) (*SourcePage, error) {
	body, err := s.client.GetBytes(ctx, s.feedURL, utils.WithHeader("Accept", "application/rss+xml, application/xml;q=0.9, */*;q=0.8"))
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	feed, err := parseRSS(body)
	if err != nil {
		return nil, err
	}

	page := &SourcePage{}
	for _, it := range feed.Channel.Items {
		published := parseRSSDate(it.PubDate)
		if since != nil && published != nil && !published.After(*since) {
			continue
		}
		externalID := strings.TrimSpace(it.GUID)
		if externalID == "" {
			externalID = strings.TrimSpace(it.Enclosure.URL)
		}
		if externalID == "" && it.Link == "" {
			continue
		}

		desc := strings.TrimSpace(it.Summary)
		if desc == "" {
			desc = utils.StripHTML(it.Description)
		}
		thumb := it.Image.Href
		if thumb == "" {
			thumb = feed.Channel.Image.Href
		}
		rec := model.MediaRecord{
			Type:         model.TypePodcastEpisode,
			Title:        strings.TrimSpace(it.Title),
			Description:  desc,
			URL:          strings.TrimSpace(it.Link),
			ThumbnailURL: thumb,
			Source:       s.name,
			ExternalID:   externalID,
		}
		rec.Podcast.ShowTitle = strings.TrimSpace(feed.Channel.Title)
		rec.Podcast.Publisher = strings.TrimSpace(feed.Channel.Author)
		rec.Podcast.FeedURL = s.feedURL
		rec.Podcast.DurationSeconds = parseDuration(it.Duration)
		rec.Podcast.PublishedAt = published
		page.Items = append(page.Items, SourceItem{Record: rec})
	}
	return page, nil
}

func parseRSS(body []byte) (*rssFeed, error) {
	var feed rssFeed
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.Strict = false
	dec.CharsetReader = charset.NewReaderLabel
	if err := dec.Decode(&feed); err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return &feed, nil
}

var rssDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	time.RFC3339,
}

func parseRSSDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range rssDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// parseDuration 支持 "3600"、"59:30"、"1:02:03"
func parseDuration(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	total := 0
	for _, part := range strings.Split(s, ":") {
		n, err := strconv.Atoi(part)
		if err != nil {
			return 0
		}
		total = total*60 + n
	}
	return total
}
