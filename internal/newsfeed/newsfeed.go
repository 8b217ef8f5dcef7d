// Package newsfeed scrapes recent Google News headlines for a query. The
// headlines only annotate the committee prompt; nothing downstream depends
// on them, so a markup shift degrades to an empty result rather than an
// error.
package newsfeed

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"github.com/hayoon/kistrade/internal/broker"
	"github.com/hayoon/kistrade/internal/quotes"
)

// Headline is one scraped article reference.
type Headline struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
}

// Client fetches and parses news.google.com search results.
type Client struct {
	http  *resty.Client
	cache *quotes.Cache
	limit int
}

// New builds a client capped at five headlines per query.
func New(cache *quotes.Cache) *Client {
	httpClient := resty.New()
	httpClient.SetTimeout(30 * time.Second)
	httpClient.SetHeader("User-Agent", "Mozilla/5.0 (compatible; kistrade/1.0)")

	return &Client{
		http:  httpClient,
		cache: cache,
		limit: 5,
	}
}

// Headlines returns the freshest articles for the query, capped at the
// client limit.
func (c *Client) Headlines(ctx context.Context, query string) ([]Headline, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query cannot be empty")
	}

	var cached []Headline
	if c.cache.Get("google_news", "headlines", query, &cached) {
		return cached, nil
	}

	var result []Headline
	err := broker.WithRetry(ctx, broker.DefaultRetryConfig(), func() error {
		resp, err := c.http.R().SetContext(ctx).Get(searchURL(query))
		if err != nil {
			return &broker.TransportError{Op: "google_news", Err: err, Retryable: true}
		}
		if resp.StatusCode() != 200 {
			return &broker.TransportError{
				Op:        "google_news",
				Err:       fmt.Errorf("HTTP %d", resp.StatusCode()),
				Retryable: resp.StatusCode() >= 500,
			}
		}

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.String()))
		if err != nil {
			return fmt.Errorf("parse news page: %w", err)
		}
		result = parseHeadlines(doc, time.Now())
		if len(result) > c.limit {
			result = result[:c.limit]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.cache.Set("google_news", "headlines", query, result)
	return result, nil
}

// Titles is the one-line form fed to the committee prompt.
func Titles(headlines []Headline) []string {
	titles := make([]string, 0, len(headlines))
	for _, h := range headlines {
		if h.Source != "" {
			titles = append(titles, fmt.Sprintf("%s (%s)", h.Title, h.Source))
			continue
		}
		titles = append(titles, h.Title)
	}
	return titles
}

func searchURL(query string) string {
	return fmt.Sprintf("https://news.google.com/search?q=%s&hl=en&gl=US&ceid=US:en",
		url.QueryEscape(query))
}

// parseHeadlines walks the article nodes. Google's markup shifts now and
// then, so every field except the title is best-effort.
func parseHeadlines(doc *goquery.Document, now time.Time) []Headline {
	var headlines []Headline

	doc.Find("article").Each(func(i int, s *goquery.Selection) {
		title := strings.TrimSpace(s.Find("h3").Text())
		if title == "" {
			title = strings.TrimSpace(s.Find("h4").Text())
		}
		if title == "" {
			title = strings.TrimSpace(s.Find("a.JtKRv").Text())
		}
		if title == "" {
			return
		}

		href, _ := s.Find("a").First().Attr("href")

		source := strings.TrimSpace(s.Find("div[data-n-tid]").Text())

		timeText := strings.TrimSpace(s.Find("time").Text())

		headlines = append(headlines, Headline{
			Title:       title,
			URL:         cleanArticleURL(href),
			Source:      source,
			PublishedAt: parseRelativeTime(timeText, now),
		})
	})

	return headlines
}

// cleanArticleURL unwraps Google's redirect and resolves relative paths.
func cleanArticleURL(href string) string {
	if strings.Contains(href, "url=") {
		parts := strings.Split(href, "url=")
		if len(parts) > 1 {
			if decoded, err := url.QueryUnescape(parts[1]); err == nil {
				return decoded
			}
		}
	}
	if strings.HasPrefix(href, "./") {
		return "https://news.google.com" + href[1:]
	}
	if strings.HasPrefix(href, "/") {
		return "https://news.google.com" + href
	}
	return href
}

var (
	minutesAgo = regexp.MustCompile(`(\d+)\s*minutes?\s*ago`)
	hoursAgo   = regexp.MustCompile(`(\d+)\s*hours?\s*ago`)
	daysAgo    = regexp.MustCompile(`(\d+)\s*days?\s*ago`)
)

// parseRelativeTime converts Google's relative stamps ("3 hours ago") into
// absolute times. Unparseable stamps count as an hour old.
func parseRelativeTime(timeText string, now time.Time) time.Time {
	timeText = strings.ToLower(strings.TrimSpace(timeText))

	if timeText == "just now" || timeText == "now" {
		return now
	}
	if m := minutesAgo.FindStringSubmatch(timeText); len(m) > 1 {
		if n := parseNumber(m[1]); n > 0 {
			return now.Add(-time.Duration(n) * time.Minute)
		}
	}
	if m := hoursAgo.FindStringSubmatch(timeText); len(m) > 1 {
		if n := parseNumber(m[1]); n > 0 {
			return now.Add(-time.Duration(n) * time.Hour)
		}
	}
	if m := daysAgo.FindStringSubmatch(timeText); len(m) > 1 {
		if n := parseNumber(m[1]); n > 0 {
			return now.Add(-time.Duration(n) * 24 * time.Hour)
		}
	}

	return now.Add(-1 * time.Hour)
}

func parseNumber(s string) int {
	var result int
	fmt.Sscanf(s, "%d", &result)
	return result
}
