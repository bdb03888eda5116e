package fetch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/kbforge/kbforge/pkg/log"
	"github.com/kbforge/kbforge/pkg/models"
	"golang.org/x/net/html"
)

const maxPageBytes = 5 << 20

// crawl walks same-host links breadth first from cfg.BaseURL.
func (s *Step) crawl(ctx context.Context, cfg Config) (map[string]any, int, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Host == "" {
		return nil, 0, models.NewInvalidStepConfigError("fetch", fmt.Sprintf("invalid baseUrl %q", cfg.BaseURL))
	}

	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}

	var disallowed []string
	if cfg.RespectRobots {
		disallowed = s.robotsDisallow(ctx, base)
	}

	queue := []*url.URL{base}
	seen := map[string]bool{canonical(base): true}
	pages := make([]models.Document, 0, maxPages)

	for len(queue) > 0 && len(pages) < maxPages {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		current := queue[0]
		queue = queue[1:]

		if blocked(current.Path, disallowed) {
			continue
		}

		body, contentType, err := s.get(ctx, current.String())
		if err != nil {
			log.FromContext(ctx).WarnContext(ctx, "Skipping page", "url", current.String(), "error", err)

			continue
		}

		format := "html"
		if !strings.Contains(contentType, "html") {
			format = extension(current.Path)
			if format == "" {
				format = "txt"
			}
		}

		pages = append(pages, models.Document{
			Path:     current.String(),
			Title:    current.Path,
			Format:   format,
			Content:  string(body),
			Size:     int64(len(body)),
			Metadata: map[string]any{"content_type": contentType},
		})

		if format != "html" {
			continue
		}

		for _, link := range extractLinks(body, current) {
			key := canonical(link)
			if link.Host != base.Host || seen[key] {
				continue
			}

			seen[key] = true
			queue = append(queue, link)
		}
	}

	return map[string]any{
		"source_type": SourceWebCrawler,
		"base_url":    cfg.BaseURL,
		"pages":       pages,
		"total_pages": len(pages),
	}, len(pages), nil
}

func (s *Step) get(ctx context.Context, target string) ([]byte, string, error) {
	req, err := retryablehttp.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := s.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, "", err
	}

	return body, resp.Header.Get("Content-Type"), nil
}

// robotsDisallow returns the Disallow prefixes that apply to every user agent.
func (s *Step) robotsDisallow(ctx context.Context, base *url.URL) []string {
	robots := &url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/robots.txt"}

	body, _, err := s.get(ctx, robots.String())
	if err != nil {
		return nil
	}

	var (
		rules     []string
		appliesTo bool
	)

	scanner := bufio.NewScanner(strings.NewReader(string(body)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if i := strings.Index(line, "#"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}

		value = strings.TrimSpace(value)

		switch strings.ToLower(strings.TrimSpace(key)) {
		case "user-agent":
			appliesTo = value == "*"
		case "disallow":
			if appliesTo && value != "" {
				rules = append(rules, value)
			}
		}
	}

	return rules
}

func blocked(path string, disallowed []string) bool {
	if path == "" {
		path = "/"
	}

	for _, prefix := range disallowed {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}

	return false
}

func extractLinks(body []byte, page *url.URL) []*url.URL {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil
	}

	links := make([]*url.URL, 0)

	var visit func(n *html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}

				ref, err := url.Parse(strings.TrimSpace(attr.Val))
				if err != nil {
					continue
				}

				resolved := page.ResolveReference(ref)
				if resolved.Scheme == "http" || resolved.Scheme == "https" {
					resolved.Fragment = ""
					links = append(links, resolved)
				}
			}
		}

		for child := n.FirstChild; child != nil; child = child.NextSibling {
			visit(child)
		}
	}

	visit(doc)

	return links
}

func canonical(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.Path = strings.TrimSuffix(c.Path, "/")

	return c.String()
}
