package newsfeed

import (
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const samplePage = `<html><body>
<article>
  <a href="./read/CBMiExample?hl=en"></a>
  <h3>Apple unveils new chip</h3>
  <div data-n-tid="9">Reuters</div>
  <time datetime="2025-08-25T10:00:00Z">2 hours ago</time>
</article>
<article>
  <a href="/articles/xyz?url=https%3A%2F%2Fexample.com%2Fstory"></a>
  <h4>Markets rally on earnings</h4>
  <time>30 minutes ago</time>
</article>
<article><span>navigation chrome, no headline</span></article>
</body></html>`

func TestParseHeadlines(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(samplePage))
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	now := time.Date(2025, 8, 25, 12, 0, 0, 0, time.UTC)

	headlines := parseHeadlines(doc, now)
	if len(headlines) != 2 {
		t.Fatalf("got %d headlines, want 2: %+v", len(headlines), headlines)
	}

	first := headlines[0]
	if first.Title != "Apple unveils new chip" {
		t.Errorf("title = %q", first.Title)
	}
	if first.Source != "Reuters" {
		t.Errorf("source = %q", first.Source)
	}
	if first.URL != "https://news.google.com/read/CBMiExample?hl=en" {
		t.Errorf("url = %q", first.URL)
	}
	if want := now.Add(-2 * time.Hour); !first.PublishedAt.Equal(want) {
		t.Errorf("published = %v, want %v", first.PublishedAt, want)
	}

	second := headlines[1]
	if second.Title != "Markets rally on earnings" {
		t.Errorf("title = %q", second.Title)
	}
	if !strings.Contains(second.URL, "https://example.com/story") {
		t.Errorf("unwrapped url = %q", second.URL)
	}
}

func TestCleanArticleURL(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"./read/abc", "https://news.google.com/read/abc"},
		{"/articles/abc", "https://news.google.com/articles/abc"},
		{"https://example.com/story", "https://example.com/story"},
		{"/rss?url=https%3A%2F%2Fexample.com%2Fa", "https://example.com/a"},
	}
	for _, tc := range cases {
		if got := cleanArticleURL(tc.in); got != tc.want {
			t.Errorf("cleanArticleURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseRelativeTime(t *testing.T) {
	now := time.Date(2025, 8, 25, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		in   string
		want time.Time
	}{
		{"just now", now},
		{"45 minutes ago", now.Add(-45 * time.Minute)},
		{"3 hours ago", now.Add(-3 * time.Hour)},
		{"2 days ago", now.Add(-48 * time.Hour)},
		{"Yesterday", now.Add(-1 * time.Hour)},
		{"", now.Add(-1 * time.Hour)},
	}
	for _, tc := range cases {
		if got := parseRelativeTime(tc.in, now); !got.Equal(tc.want) {
			t.Errorf("parseRelativeTime(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestTitles(t *testing.T) {
	got := Titles([]Headline{
		{Title: "Apple unveils new chip", Source: "Reuters"},
		{Title: "Markets rally on earnings"},
	})
	if got[0] != "Apple unveils new chip (Reuters)" {
		t.Errorf("titles[0] = %q", got[0])
	}
	if got[1] != "Markets rally on earnings" {
		t.Errorf("titles[1] = %q", got[1])
	}
}

func TestSearchURL(t *testing.T) {
	got := searchURL("AAPL stock")
	if !strings.Contains(got, "q=AAPL+stock") || !strings.Contains(got, "ceid=US:en") {
		t.Errorf("searchURL = %q", got)
	}
}
