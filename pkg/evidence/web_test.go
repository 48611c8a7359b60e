package evidence

import "testing"

func TestExtractDDGResults(t *testing.T) {
	html := `
<div class="result">
	<a class="result__a" href="https://example.com/one">First <b>Result</b></a>
	<a class="result__snippet" href="#">Snippet for the first result</a>
</div>
<div class="result">
	<a class="result__a" href="https://example.com/two">Second Result</a>
	<a class="result__snippet" href="#">Snippet for the second result</a>
</div>`

	items := extractDDGResults(html, 5)
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Title != "First Result" {
		t.Fatalf("tags not stripped from title: %q", items[0].Title)
	}
	if items[0].URL != "https://example.com/one" {
		t.Fatalf("unexpected url %q", items[0].URL)
	}
	if items[1].Excerpt != "Snippet for the second result" {
		t.Fatalf("unexpected snippet %q", items[1].Excerpt)
	}
}

func TestExtractDDGResults_RedirectUnwrapped(t *testing.T) {
	html := `<a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2Fdoc%2F&rut=abc">Go Docs</a>`

	items := extractDDGResults(html, 5)
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if items[0].URL != "https://go.dev/doc/" {
		t.Fatalf("redirect not unwrapped: %q", items[0].URL)
	}
}

func TestNewWebSource_DisabledReturnsNil(t *testing.T) {
	if src := NewWebSource(WebSourceOptions{}); src != nil {
		t.Fatal("no enabled provider should yield nil source")
	}
	if src := NewWebSource(WebSourceOptions{DuckDuckGoEnabled: true}); src == nil {
		t.Fatal("duckduckgo enabled should yield a source")
	}
}
