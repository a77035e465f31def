package fetch

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Extraction bounds. A page that yields more is cut, not rejected.
const (
	maxSpecs          = 40
	maxSpecKeyChars   = 80
	maxSpecValueChars = 240
	maxReviews        = 20
	maxReviewChars    = 600
	minReviewChars    = 20
	minFallbackChars  = 40
	maxPriceChars     = 40
)

// product is the structured record extracted from a product page.
type product struct {
	price   string
	specs   map[string]string
	reviews []string
}

func extractProduct(doc *html.Node) product {
	return product{
		price:   findPrice(doc),
		specs:   findSpecs(doc),
		reviews: findReviews(doc),
	}
}

// attr returns the value of the named attribute, or "".
func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

// classOrID returns the lowercased class and id attributes joined.
func classOrID(n *html.Node) string {
	return strings.ToLower(attr(n, "class") + " " + attr(n, "id"))
}

// walk calls fn for every element node in document order. Returning
// false from fn skips the node's children.
func walk(n *html.Node, fn func(*html.Node) bool) {
	if n.Type == html.ElementNode && !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

// --- price ---

// currencyPattern matches a price with a leading symbol or code, or a
// trailing code: "$129.99", "EUR 89,00", "249.00 USD".
var currencyPattern = regexp.MustCompile(
	`(?:[$€£¥]|\b(?:USD|EUR|GBP|CAD|AUD)\s?)\s?\d{1,3}(?:[,.\s]?\d{3})*(?:[.,]\d{2})?` +
		`|\b\d{1,3}(?:[,.]?\d{3})*(?:[.,]\d{2})?\s?(?:USD|EUR|GBP|CAD|AUD)\b`)

// findPrice tries the structured sources in order of reliability:
// microdata, Open Graph product meta, JSON-LD offers, then elements
// whose class or id mentions "price".
func findPrice(doc *html.Node) string {
	if p := microdataPrice(doc); p != "" {
		return p
	}
	if p := metaPrice(doc); p != "" {
		return p
	}
	if p := jsonLDPrice(doc); p != "" {
		return p
	}
	return classPrice(doc)
}

func microdataPrice(doc *html.Node) string {
	var price, currency string
	walk(doc, func(n *html.Node) bool {
		switch strings.ToLower(attr(n, "itemprop")) {
		case "price":
			if price == "" {
				price = attr(n, "content")
				if price == "" {
					price = collapse(getTextContent(n))
				}
			}
		case "pricecurrency":
			if currency == "" {
				currency = attr(n, "content")
			}
		}
		return true
	})
	return formatPrice(price, currency)
}

func metaPrice(doc *html.Node) string {
	var amount, currency string
	walk(doc, func(n *html.Node) bool {
		if n.DataAtom != atom.Meta {
			return true
		}
		key := strings.ToLower(attr(n, "property"))
		if key == "" {
			key = strings.ToLower(attr(n, "name"))
		}
		switch key {
		case "product:price:amount", "og:price:amount":
			if amount == "" {
				amount = attr(n, "content")
			}
		case "product:price:currency", "og:price:currency":
			if currency == "" {
				currency = attr(n, "content")
			}
		}
		return true
	})
	return formatPrice(amount, currency)
}

func jsonLDPrice(doc *html.Node) string {
	var price string
	walk(doc, func(n *html.Node) bool {
		if price != "" {
			return false
		}
		if n.DataAtom != atom.Script || !strings.Contains(strings.ToLower(attr(n, "type")), "ld+json") {
			return true
		}
		var v any
		if err := json.Unmarshal([]byte(getScriptText(n)), &v); err != nil {
			return false
		}
		price = offerPrice(v)
		return false
	})
	return price
}

func getScriptText(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

// offerPrice searches a decoded JSON-LD value for the first
// offers.price (or offers.lowPrice), following @graph and nested arrays.
func offerPrice(v any) string {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if p := offerPrice(item); p != "" {
				return p
			}
		}
	case map[string]any:
		if offers, ok := t["offers"]; ok {
			if p := priceFromOffer(offers); p != "" {
				return p
			}
		}
		for _, key := range []string{"@graph", "mainEntity", "itemListElement", "item"} {
			if nested, ok := t[key]; ok {
				if p := offerPrice(nested); p != "" {
					return p
				}
			}
		}
	}
	return ""
}

func priceFromOffer(v any) string {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if p := priceFromOffer(item); p != "" {
				return p
			}
		}
	case map[string]any:
		currency, _ := t["priceCurrency"].(string)
		for _, key := range []string{"price", "lowPrice"} {
			if p := jsonScalar(t[key]); p != "" {
				return formatPrice(p, currency)
			}
		}
		if spec, ok := t["priceSpecification"]; ok {
			return priceFromOffer(spec)
		}
	}
	return ""
}

func jsonScalar(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

func classPrice(doc *html.Node) string {
	var price string
	walk(doc, func(n *html.Node) bool {
		if price != "" {
			return false
		}
		if skipElements[n.DataAtom] {
			return false
		}
		if !strings.Contains(classOrID(n), "price") {
			return true
		}
		text := collapse(getTextContent(n))
		if m := currencyPattern.FindString(text); m != "" {
			price = strings.TrimSpace(m)
			return false
		}
		if text != "" && len(text) <= maxPriceChars && strings.ContainsAny(text, "0123456789") {
			price = text
			return false
		}
		return true
	})
	return price
}

// findPriceInText returns the first currency-looking token in readable
// page text.
func findPriceInText(text string) string {
	return strings.TrimSpace(currencyPattern.FindString(text))
}

func formatPrice(amount, currency string) string {
	amount = strings.TrimSpace(amount)
	currency = strings.TrimSpace(currency)
	if amount == "" || len(amount) > maxPriceChars {
		return ""
	}
	if currency == "" || strings.Contains(amount, currency) {
		return amount
	}
	return currency + " " + amount
}

// --- specs ---

// findSpecs collects key/value pairs from two-cell table rows and from
// definition lists, in document order. The first occurrence of a key
// wins.
func findSpecs(doc *html.Node) map[string]string {
	specs := make(map[string]string)
	add := func(k, v string) {
		k = strings.TrimSuffix(collapse(k), ":")
		v = collapse(v)
		if k == "" || v == "" || len(k) > maxSpecKeyChars || len(v) > maxSpecValueChars {
			return
		}
		if _, exists := specs[k]; exists || len(specs) >= maxSpecs {
			return
		}
		specs[k] = v
	}

	walk(doc, func(n *html.Node) bool {
		if skipElements[n.DataAtom] {
			return false
		}
		switch n.DataAtom {
		case atom.Tr:
			cells := childElements(n, atom.Th, atom.Td)
			if len(cells) == 2 {
				add(getTextContent(cells[0]), getTextContent(cells[1]))
			}
			return false
		case atom.Dl:
			var key string
			for _, c := range childElements(n, atom.Dt, atom.Dd) {
				if c.DataAtom == atom.Dt {
					key = getTextContent(c)
					continue
				}
				if key != "" {
					add(key, getTextContent(c))
					key = ""
				}
			}
			return false
		}
		return true
	})

	if len(specs) == 0 {
		return nil
	}
	return specs
}

// childElements returns the direct element children of n with one of the
// given atoms. Definition lists may wrap pairs in a <div>, which is
// looked through.
func childElements(n *html.Node, atoms ...atom.Atom) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if c.DataAtom == atom.Div && n.DataAtom == atom.Dl {
			out = append(out, childElements(c, atoms...)...)
			continue
		}
		for _, a := range atoms {
			if c.DataAtom == a {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// --- reviews ---

// isReviewNode reports whether an element is marked up as a review.
func isReviewNode(n *html.Node) bool {
	if strings.EqualFold(attr(n, "itemprop"), "reviewBody") {
		return true
	}
	if n.DataAtom == atom.Blockquote {
		return true
	}
	ci := classOrID(n)
	if strings.Contains(ci, "preview") {
		return false
	}
	return strings.Contains(ci, "review") ||
		strings.Contains(ci, "comment") ||
		strings.Contains(ci, "testimonial")
}

// hasReviewDescendant reports whether any element below n is itself a
// review node, in which case n is a container rather than a review.
func hasReviewDescendant(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (isReviewNode(c) || hasReviewDescendant(c)) {
			return true
		}
	}
	return false
}

// findReviews collects review fragments in document order. When no
// element is marked up as a review, paragraphs and list items long
// enough to carry an opinion are used instead.
func findReviews(doc *html.Node) []string {
	var c fragmentCollector
	walk(doc, func(n *html.Node) bool {
		if c.full() || skipElements[n.DataAtom] {
			return false
		}
		if isReviewNode(n) && !hasReviewDescendant(n) {
			c.add(getTextContent(n), minReviewChars+1)
			return false
		}
		return true
	})
	if len(c.out) > 0 {
		return c.out
	}

	walk(doc, func(n *html.Node) bool {
		if c.full() || skipElements[n.DataAtom] {
			return false
		}
		if n.DataAtom == atom.P || n.DataAtom == atom.Li {
			c.add(getTextContent(n), minFallbackChars+1)
			return false
		}
		return true
	})
	return c.out
}

// fragmentCollector accumulates bounded, deduplicated text fragments.
type fragmentCollector struct {
	out  []string
	seen map[string]bool
}

func (c *fragmentCollector) full() bool {
	return len(c.out) >= maxReviews
}

func (c *fragmentCollector) add(text string, minChars int) {
	text = collapse(text)
	if len(text) < minChars {
		return
	}
	text = truncateUTF8(text, maxReviewChars)
	key := strings.ToLower(text)
	if c.seen == nil {
		c.seen = make(map[string]bool)
	}
	if c.seen[key] {
		return
	}
	c.seen[key] = true
	c.out = append(c.out, text)
}
