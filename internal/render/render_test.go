package render

import (
	"strings"
	"testing"
)

func TestPlain(t *testing.T) {
	tests := []struct {
		name string
		md   string
		want string
	}{
		{
			name: "bold",
			md:   "The **Anker Soundcore** is the pick",
			want: "The Anker Soundcore is the pick",
		},
		{
			name: "italic",
			md:   "Battery life is *excellent*",
			want: "Battery life is excellent",
		},
		{
			name: "link",
			md:   "See [the listing](https://shop.example/p/1) for details",
			want: "See the listing (https://shop.example/p/1) for details",
		},
		{
			name: "heading",
			md:   "## Recommendation\n\nBuy it.",
			want: "Recommendation\n\nBuy it.",
		},
		{
			name: "inline code",
			md:   "Model `WH-1000XM5` is quieter",
			want: "Model WH-1000XM5 is quieter",
		},
		{
			name: "code block",
			md:   "Before\n```\nSKU 1234\n```\nAfter",
			want: "Before\nSKU 1234\n\nAfter",
		},
		{
			name: "image",
			md:   "Look ![front view](https://shop.example/img.png) here",
			want: "Look front view here",
		},
		{
			name: "list items preserved",
			md:   "- quiet\n- light\n- cheap",
			want: "- quiet\n- light\n- cheap",
		},
		{
			name: "plain text unchanged",
			md:   "Just some regular text.",
			want: "Just some regular text.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Plain(tt.md)
			if got != tt.want {
				t.Errorf("Plain(%q) =\n  %q\nwant\n  %q", tt.md, got, tt.want)
			}
		})
	}
}

func TestFragment(t *testing.T) {
	html, err := Fragment("Get the **blue** one.\n\n- quiet\n- cheap")
	if err != nil {
		t.Fatalf("Fragment() error: %v", err)
	}
	if !strings.Contains(html, "<strong>blue</strong>") || !strings.Contains(html, "<li>quiet</li>") {
		t.Errorf("Fragment() = %q", html)
	}
	if strings.Contains(html, "<!DOCTYPE") {
		t.Error("fragment should not carry a document wrapper")
	}
}

func TestDocument(t *testing.T) {
	html, err := Document("kettles <& more>", "Hello **world**")
	if err != nil {
		t.Fatalf("Document() error: %v", err)
	}
	if !strings.Contains(html, "<strong>world</strong>") {
		t.Error("HTML should contain <strong> tag for bold")
	}
	if !strings.Contains(html, "<!DOCTYPE html>") {
		t.Error("HTML should have DOCTYPE wrapper")
	}
	if !strings.Contains(html, `charset="utf-8"`) {
		t.Error("HTML should declare utf-8 charset")
	}
	if !strings.Contains(html, "<title>kettles &lt;&amp; more&gt;</title>") {
		t.Error("title not escaped")
	}
}
