package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nugget/cortexcart/internal/tools"
)

func TestExtractHTML(t *testing.T) {
	html := `<!DOCTYPE html>
<html>
<head><title>Test Page</title></head>
<body>
<nav>Navigation stuff</nav>
<script>var x = 1;</script>
<style>.foo { color: red; }</style>
<main>
<h1>Hello World</h1>
<p>This is a test paragraph with <strong>bold text</strong>.</p>
<p>Second paragraph.</p>
</main>
<footer>Footer stuff</footer>
</body>
</html>`

	doc := extractHTML(html)

	if doc.title != "Test Page" {
		t.Errorf("expected title 'Test Page', got %q", doc.title)
	}
	if !strings.Contains(doc.text, "Hello World") {
		t.Errorf("expected content to contain 'Hello World', got %q", doc.text)
	}
	if !strings.Contains(doc.text, "bold text") {
		t.Errorf("expected content to contain 'bold text', got %q", doc.text)
	}
	if strings.Contains(doc.text, "var x = 1") {
		t.Error("content should not contain script text")
	}
	if strings.Contains(doc.text, "Navigation stuff") {
		t.Error("content should not contain nav text")
	}
	if strings.Contains(doc.text, "Footer stuff") {
		t.Error("content should not contain footer text")
	}
}

const productPage = `<!DOCTYPE html>
<html>
<head>
<title>QuietBlend 3000 | Kitchen Store</title>
<meta property="product:price:amount" content="199.00">
<meta property="product:price:currency" content="USD">
</head>
<body>
<main>
<h1>QuietBlend 3000</h1>
<table class="specs">
<tr><th>Noise level</th><td>58 dB</td></tr>
<tr><th>Motor:</th><td>1200 W</td></tr>
<tr><td colspan="2">Ignored single cell</td></tr>
</table>
<dl>
<dt>Capacity</dt><dd>1.5 L</dd>
<dt>Noise level</dt><dd>duplicate key, ignored</dd>
</dl>
<section id="reviews">
<div class="review"><p>Much quieter than my old blender, smoothies are silky.</p></div>
<div class="review"><p>Lid cracked after two weeks of daily use.</p></div>
<div class="review"><p>Much quieter than my old blender,   smoothies are silky.</p></div>
<div class="review">Too short</div>
</section>
</main>
</body>
</html>`

func TestExtractProduct(t *testing.T) {
	doc := extractHTML(productPage)
	p := doc.product

	if p.price != "USD 199.00" {
		t.Errorf("price = %q, want %q", p.price, "USD 199.00")
	}

	wantSpecs := map[string]string{
		"Noise level": "58 dB",
		"Motor":       "1200 W",
		"Capacity":    "1.5 L",
	}
	if len(p.specs) != len(wantSpecs) {
		t.Errorf("specs = %v, want %v", p.specs, wantSpecs)
	}
	for k, v := range wantSpecs {
		if p.specs[k] != v {
			t.Errorf("specs[%q] = %q, want %q", k, p.specs[k], v)
		}
	}

	if len(p.reviews) != 2 {
		t.Fatalf("reviews = %q, want 2 fragments", p.reviews)
	}
	if !strings.HasPrefix(p.reviews[0], "Much quieter") || !strings.HasPrefix(p.reviews[1], "Lid cracked") {
		t.Errorf("reviews out of document order: %q", p.reviews)
	}
}

func TestFindPrice(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "microdata content",
			html: `<div itemscope><span itemprop="price" content="49.95">$49.95</span><meta itemprop="priceCurrency" content="USD"></div>`,
			want: "USD 49.95",
		},
		{
			name: "microdata text",
			html: `<span itemprop="price">£20.00</span>`,
			want: "£20.00",
		},
		{
			name: "json-ld offers",
			html: `<script type="application/ld+json">{"@context":"https://schema.org","@graph":[{"@type":"Product","name":"X","offers":{"@type":"Offer","price":129.5,"priceCurrency":"EUR"}}]}</script>`,
			want: "EUR 129.5",
		},
		{
			name: "json-ld offer list",
			html: `<script type="application/ld+json">{"@type":"Product","offers":[{"lowPrice":"89.00"}]}</script>`,
			want: "89.00",
		},
		{
			name: "class name",
			html: `<div class="product-price-box"><span>Now only $1,299.00 while stocks last</span></div>`,
			want: "$1,299.00",
		},
		{
			name: "none",
			html: `<p>No money talk here.</p>`,
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := extractHTML("<html><head></head><body>" + tt.html + "</body></html>")
			if got := doc.product.price; got != tt.want {
				t.Errorf("price = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFindPriceInText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"On sale for $89.99 this week", "$89.99"},
		{"Price: 249.00 USD incl. VAT", "249.00 USD"},
		{"Costs €1.299,00 in Germany", "€1.299,00"},
		{"model 3000 with 2 speeds", ""},
	}
	for _, tt := range tests {
		if got := findPriceInText(tt.in); got != tt.want {
			t.Errorf("findPriceInText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFindReviewsFallback(t *testing.T) {
	doc := extractHTML(`<html><body>
<nav><p>This navigation paragraph is long enough to be mistaken for text.</p></nav>
<p>Short blurb.</p>
<p>I have used this kettle every morning for a year and it still works.</p>
<ul><li>Boils a full litre in under three minutes according to my timer.</li></ul>
</body></html>`)

	got := doc.product.reviews
	if len(got) != 2 {
		t.Fatalf("fallback reviews = %q, want 2", got)
	}
	if !strings.Contains(got[0], "kettle") || !strings.Contains(got[1], "litre") {
		t.Errorf("unexpected fallback fragments: %q", got)
	}
}

func TestFindReviewsBounded(t *testing.T) {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < maxReviews+10; i++ {
		b.WriteString(`<blockquote>Review number `)
		b.WriteString(strings.Repeat("x", i+1))
		b.WriteString(` says this product is pretty good overall.</blockquote>`)
	}
	b.WriteString(`<blockquote>` + strings.Repeat("long ", 500) + `</blockquote>`)
	b.WriteString("</body></html>")

	got := extractHTML(b.String()).product.reviews
	if len(got) != maxReviews {
		t.Errorf("got %d reviews, want %d", len(got), maxReviews)
	}
	for _, r := range got {
		if len([]rune(r)) > maxReviewChars {
			t.Errorf("fragment exceeds %d chars: %d", maxReviewChars, len(r))
		}
	}
}

func TestExtractEmptyPage(t *testing.T) {
	doc := extractHTML(`<html><head><title>Empty</title></head><body></body></html>`)
	if doc.product.price != "" || doc.product.specs != nil || doc.product.reviews != nil {
		t.Errorf("expected empty product, got %+v", doc.product)
	}
}

func TestFetch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Verify User-Agent is set
		ua := r.Header.Get("User-Agent")
		if !strings.HasPrefix(ua, "CortexCart/") {
			t.Errorf("expected CortexCart User-Agent, got %q", ua)
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head><title>Test</title></head><body><p>Hello from test server, now $15.00</p></body></html>`))
	}))
	defer ts.Close()

	f := New()
	result, err := f.Fetch(context.Background(), ts.URL, 0)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if result.Title != "Test" {
		t.Errorf("expected title 'Test', got %q", result.Title)
	}
	if !strings.Contains(result.Content, "Hello from test server") {
		t.Errorf("expected content to contain 'Hello from test server', got %q", result.Content)
	}
	if result.StatusCode != 200 {
		t.Errorf("expected status 200, got %d", result.StatusCode)
	}
	if result.Price != "$15.00" {
		t.Errorf("expected text price fallback, got %q", result.Price)
	}
}

func TestFetchBrowserUserAgent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != BrowserUserAgent {
			t.Errorf("User-Agent = %q", ua)
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	}))
	defer ts.Close()

	if _, err := New(WithBrowserUserAgent()).Fetch(context.Background(), ts.URL, 0); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
}

func TestFetchPlainText(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("Just plain text content"))
	}))
	defer ts.Close()

	f := New()
	result, err := f.Fetch(context.Background(), ts.URL, 0)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if result.Content != "Just plain text content" {
		t.Errorf("expected plain text content, got %q", result.Content)
	}
}

func TestFetchTruncation(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(strings.Repeat("x", 1000)))
	}))
	defer ts.Close()

	f := New()
	result, err := f.Fetch(context.Background(), ts.URL, 100)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if !result.Truncated {
		t.Error("expected truncated=true")
	}
	if result.Length > 100 {
		t.Errorf("expected length <= 100, got %d", result.Length)
	}
}

func TestFetchWithMaxChars(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(strings.Repeat("y", 500)))
	}))
	defer ts.Close()

	result, err := New(WithMaxChars(50)).Fetch(context.Background(), ts.URL, 0)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !result.Truncated || result.Length > 50 {
		t.Errorf("expected truncation to 50 chars, got truncated=%v length=%d", result.Truncated, result.Length)
	}
}

func TestFetchStatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()

	_, err := New().Fetch(context.Background(), ts.URL, 0)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if se.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d", se.StatusCode)
	}
}

func TestFetchEmptyURL(t *testing.T) {
	f := New()
	_, err := f.Fetch(context.Background(), "", 0)
	if err == nil {
		t.Error("expected error for empty URL")
	}
}

func TestCleanWhitespace(t *testing.T) {
	input := "  Hello   world  \n\n\n\n  Second line  \n\n\n Third  "
	got := cleanWhitespace(input)
	if strings.Contains(got, "\n\n\n") {
		t.Errorf("should not have triple newlines: %q", got)
	}
}

func TestTruncateUTF8(t *testing.T) {
	// Ensure we don't break multi-byte characters
	s := "Héllo wörld café"
	truncated := truncateUTF8(s, 5)
	if len([]rune(truncated)) > 5 {
		t.Errorf("expected at most 5 runes, got %d: %q", len([]rune(truncated)), truncated)
	}
}

func TestScrapeTool(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(productPage))
	}))
	defer ts.Close()

	tool := NewScrapeTool(New(), 5*time.Second, nil)
	obs := tool.Invoke(context.Background(), ts.URL+"/p/quietblend")
	if obs.Failed() {
		t.Fatalf("unexpected failure: %v", obs.Failure)
	}
	if obs.Page == nil {
		t.Fatal("expected page")
	}
	if obs.Page.URL != ts.URL+"/p/quietblend" {
		t.Errorf("page URL = %q", obs.Page.URL)
	}
	if obs.Page.Title != "QuietBlend 3000 | Kitchen Store" {
		t.Errorf("title = %q", obs.Page.Title)
	}
	if !obs.Page.HasPrice() || len(obs.Page.Reviews) != 2 {
		t.Errorf("unexpected page: %+v", obs.Page)
	}
}

func TestScrapeToolEmptyPageSucceeds(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><p>hi</p></body></html>`))
	}))
	defer ts.Close()

	obs := NewScrapeTool(New(), 0, nil).Invoke(context.Background(), ts.URL)
	if obs.Failed() {
		t.Fatalf("empty page should succeed, got %v", obs.Failure)
	}
	if !obs.Page.Empty() {
		t.Errorf("expected empty page, got %+v", obs.Page)
	}
}

func TestScrapeToolFailures(t *testing.T) {
	var loop *httptest.Server
	loop = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, loop.URL+"/next", http.StatusFound)
	}))
	defer loop.Close()

	missing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer missing.Close()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	tests := []struct {
		name    string
		url     string
		timeout time.Duration
		kind    tools.ErrorKind
		detail  string
	}{
		{"redirect loop", loop.URL, 0, tools.KindFetchFailed, "redirect loop"},
		{"non-2xx", missing.URL, 0, tools.KindFetchFailed, "HTTP 503"},
		{"timeout", slow.URL, 50 * time.Millisecond, tools.KindFetchFailed, "timed out"},
		{"relative url", "/p/1", 0, tools.KindInvalidInput, "absolute"},
		{"no scheme", "shop.example/p/1", 0, tools.KindInvalidInput, "absolute"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := NewScrapeTool(New(), tt.timeout, nil).Invoke(context.Background(), tt.url)
			if !obs.FailedWith(tt.kind) {
				t.Fatalf("expected %s, got %+v", tt.kind, obs)
			}
			if !strings.Contains(obs.Failure.Detail, tt.detail) {
				t.Errorf("detail %q does not mention %q", obs.Failure.Detail, tt.detail)
			}
			if obs.Page != nil {
				t.Error("failed observation carries a page")
			}
		})
	}
}
