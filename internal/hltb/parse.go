package hltb

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ParseCategories extracts the ".shadow_shadow ul > li" entries of a game
// page.
func ParseCategories(r io.Reader) ([]Category, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse game page: %w", err)
	}

	var categories []Category
	for _, container := range findAll(doc, func(n *html.Node) bool { return hasClass(n, "shadow_shadow") }) {
		for _, list := range findAll(container, func(n *html.Node) bool { return n.DataAtom == atom.Ul }) {
			for li := list.FirstChild; li != nil; li = li.NextSibling {
				if li.Type != html.ElementNode || li.DataAtom != atom.Li {
					continue
				}
				categories = append(categories, Category{
					Title:    textOf(first(li, atom.H4)),
					Duration: textOf(first(li, atom.H5)),
					Accuracy: accuracy(li),
				})
			}
		}
	}
	return categories, nil
}

// accuracy reads the suffix of the second class, e.g. "time_100" -> "100".
func accuracy(n *html.Node) string {
	classes := strings.Fields(attr(n, "class"))
	if len(classes) < 2 {
		return ""
	}
	_, after, found := strings.Cut(classes[1], "time_")
	if !found {
		return ""
	}
	return after
}

func findAll(root *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && match(c) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

func first(root *html.Node, a atom.Atom) *html.Node {
	nodes := findAll(root, func(n *html.Node) bool { return n.DataAtom == a })
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

func textOf(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}
