package sources

import (
	"bytes"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"golang.org/x/net/html"
)

var blankRunRe = regexp.MustCompile(`\n{4,}`)

// Elements dropped before conversion when the page has no main/article.
var (
	noiseTags = map[string]bool{
		"nav": true, "header": true, "footer": true, "aside": true,
		"script": true, "style": true, "noscript": true, "iframe": true,
		"object": true, "embed": true, "form": true, "button": true,
	}
	noiseClasses = map[string]bool{
		"nav": true, "navbar": true, "sidebar": true, "menu": true, "toc": true,
		"footer": true, "header": true, "ad": true, "advertisement": true,
		"social": true, "share": true, "comments": true, "related": true,
		"cookie-banner": true, "breadcrumb": true,
	}
)

// Converter renders HTML source pages as markdown.
type Converter struct {
	converter *md.Converter
}

// NewConverter creates a converter with GitHub-flavored tables.
func NewConverter() *Converter {
	c := md.NewConverter("", true, nil)
	c.Use(plugin.GitHubFlavored())
	return &Converter{converter: c}
}

// Convert returns the page title and the markdown of its main content.
func (c *Converter) Convert(content []byte) (title, markdown string, err error) {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return "", "", err
	}

	if n := find(doc, isTag("title")); n != nil && n.FirstChild != nil {
		title = strings.TrimSpace(n.FirstChild.Data)
	}

	root := find(doc, func(n *html.Node) bool {
		return n.Data == "main" || n.Data == "article" || attr(n, "role") == "main"
	})
	if root == nil {
		prune(doc)
		root = find(doc, isTag("body"))
	}
	if root == nil {
		root = doc
	}

	var sb strings.Builder
	if err := html.Render(&sb, root); err != nil {
		return "", "", err
	}
	markdown, err = c.converter.ConvertString(sb.String())
	if err != nil {
		return "", "", err
	}
	markdown = tidy(markdown)

	if title == "" {
		title = firstHeading(markdown)
	}
	return title, markdown, nil
}

func isTag(tag string) func(*html.Node) bool {
	return func(n *html.Node) bool { return n.Data == tag }
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// find returns the first element in document order that matches.
func find(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, match); found != nil {
			return found
		}
	}
	return nil
}

func isNoise(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if noiseTags[n.Data] {
		return true
	}
	for _, class := range strings.Fields(strings.ToLower(attr(n, "class"))) {
		if noiseClasses[class] {
			return true
		}
	}
	return false
}

func prune(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if isNoise(c) {
			n.RemoveChild(c)
		} else {
			prune(c)
		}
		c = next
	}
}

func tidy(s string) string {
	s = blankRunRe.ReplaceAllString(s, "\n\n\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func firstHeading(markdown string) string {
	for _, line := range strings.Split(markdown, "\n") {
		if trimmed := strings.TrimSpace(line); strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
