package feeds

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

const rssDoc = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:dc="http://purl.org/dc/elements/1.1/">
  <channel>
    <title>Frontpage</title>
    <link>https://example.org</link>
    <item>
      <title> First post </title>
      <link>https://example.org/posts/1</link>
      <dc:creator>Alice</dc:creator>
      <description><![CDATA[<p>Hello <b>world</b></p>]]></description>
      <pubDate>Mon, 01 Jan 2024 10:00:00 +0000</pubDate>
      <guid>post-1</guid>
    </item>
    <item>
      <title>Second post</title>
      <link>https://example.org/posts/2</link>
      <description>plain</description>
    </item>
  </channel>
</rss>`

const atomDoc = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Feed</title>
  <entry>
    <title>Entry</title>
    <link href="https://example.org/entry"/>
    <id>urn:entry</id>
    <updated>2024-01-02T00:00:00Z</updated>
    <author><name>Bob</name></author>
    <summary>summary text</summary>
  </entry>
</feed>`

func TestParseStringRSS(t *testing.T) {
	feed, err := ParseString(rssDoc)
	if err != nil {
		t.Fatalf("ParseString failed: %v", err)
	}
	if feed.Title != "Frontpage" {
		t.Errorf("expected title Frontpage, got %q", feed.Title)
	}
	if len(feed.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(feed.Items))
	}

	first := feed.Items[0]
	if first.Title != "First post" {
		t.Errorf("expected trimmed title, got %q", first.Title)
	}
	if first.Author != "Alice" {
		t.Errorf("expected author Alice, got %q", first.Author)
	}
	if first.Content != "<p>Hello <b>world</b></p>" {
		t.Errorf("unexpected content %q", first.Content)
	}
	if first.Published == nil || first.Published.Year() != 2024 {
		t.Errorf("expected parsed publish date, got %v", first.Published)
	}
	if feed.Items[1].Published != nil {
		t.Errorf("expected nil publish date for undated item")
	}
}

func TestParseStringAtom(t *testing.T) {
	feed, err := ParseString(atomDoc)
	if err != nil {
		t.Fatalf("ParseString failed: %v", err)
	}
	if len(feed.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(feed.Items))
	}
	entry := feed.Items[0]
	if entry.Link != "https://example.org/entry" {
		t.Errorf("unexpected link %q", entry.Link)
	}
	if entry.Author != "Bob" {
		t.Errorf("expected author Bob, got %q", entry.Author)
	}
	if entry.Published == nil {
		t.Error("expected updated date to be used as publish date")
	}
}

func TestFetchFeed(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rssDoc))
	}))
	defer srv.Close()

	fm := NewFeedManager(srv.Client(), "bulletin-test")
	feed, err := fm.FetchFeed(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchFeed failed: %v", err)
	}
	if len(feed.Items) != 2 {
		t.Errorf("expected 2 items, got %d", len(feed.Items))
	}
	if gotUA != "bulletin-test" {
		t.Errorf("expected user agent to be forwarded, got %q", gotUA)
	}
}

func TestFetchFeedErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/down":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			_, _ = w.Write([]byte("<html>not a feed</html>"))
		}
	}))
	defer srv.Close()

	fm := NewFeedManager(nil, "")
	if _, err := fm.FetchFeed(context.Background(), srv.URL+"/down"); err == nil {
		t.Error("expected error for 503 response")
	}
	if _, err := fm.FetchFeed(context.Background(), srv.URL+"/html"); err == nil {
		t.Error("expected error for non-feed document")
	}
}
