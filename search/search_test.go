package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTavilySearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["query"] != "go concurrency" {
			t.Fatalf("unexpected query: %v", body["query"])
		}
		if body["api_key"] != "key" {
			t.Fatalf("unexpected api key: %v", body["api_key"])
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"results":[{"title":"Go","url":"https://go.dev","content":"Goroutines"},{"title":"Blog","url":"https://go.dev/blog","content":"Pipelines"}]}`)
	}))
	defer server.Close()

	tavily := NewTavily("key", "")
	tavily.endpoint = server.URL

	results, err := tavily.Search(context.Background(), "go concurrency")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].URL != "https://go.dev" || results[0].Snippet != "Goroutines" {
		t.Fatalf("unexpected result: %+v", results[0])
	}
}

func TestTavilySearchMissingKey(t *testing.T) {
	tavily := NewTavily("", "")
	if _, err := tavily.Search(context.Background(), "q"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestTavilySearchHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	tavily := NewTavily("key", "")
	tavily.endpoint = server.URL
	if _, err := tavily.Search(context.Background(), "q"); err == nil {
		t.Fatal("expected error for HTTP 403")
	}
}

func TestTavilyRetriesOn429(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"results":[]}`)
	}))
	defer server.Close()

	tavily := NewTavilyWithClient("key", "", &http.Client{Timeout: 5 * time.Second})
	tavily.endpoint = server.URL

	if _, err := tavily.Search(context.Background(), "q"); err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected retry after 429, got %d calls", calls)
	}
}

func TestParseHTMLResults(t *testing.T) {
	html := `<table>
<tr><td><a rel="nofollow" class='result-link' href="https://example.com/a">First &amp; Best</a></td></tr>
<tr><td class='result-snippet'>Snippet <b>one</b> here</td></tr>
<tr><td><a rel="nofollow" class='result-link' href="https://example.com/b">Second</a></td></tr>
<tr><td class='result-snippet'>Snippet two</td></tr>
</table>`

	results := parseHTMLResults(html)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Title != "First & Best" {
		t.Fatalf("entities not decoded: %q", results[0].Title)
	}
	if results[0].Snippet != "Snippet one here" {
		t.Fatalf("tags not stripped: %q", results[0].Snippet)
	}
	if results[1].URL != "https://example.com/b" {
		t.Fatalf("unexpected url: %q", results[1].URL)
	}
}

func TestDuckDuckGoEmptyQuery(t *testing.T) {
	d := NewDuckDuckGo()
	if _, err := d.Search(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty query")
	}
}
