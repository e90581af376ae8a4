package serp

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/serp-reporter/internal/crawl"
)

// ParseListings extracts organic result listings from a search results page.
// Listings are returned in page order, capped at maxResults when it is
// positive. Blocks without a title or an external link are skipped.
func ParseListings(body io.Reader, maxResults int) ([]crawl.RawListing, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse results page: %w", err)
	}

	var listings []crawl.RawListing
	doc.Find("div.g").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if maxResults > 0 && len(listings) >= maxResults {
			return false
		}
		listing, ok := parseBlock(sel)
		if !ok {
			return true
		}
		listings = append(listings, listing)
		return true
	})
	return listings, nil
}

func parseBlock(sel *goquery.Selection) (crawl.RawListing, bool) {
	title := strings.TrimSpace(sel.Find("h3").First().Text())
	if title == "" {
		return crawl.RawListing{}, false
	}
	href, _ := sel.Find("a[href]").First().Attr("href")
	if !keepHref(href) {
		return crawl.RawListing{}, false
	}
	snippet := strings.TrimSpace(sel.Find("div.VwiC3b").First().Text())
	if snippet == "" {
		snippet = strings.TrimSpace(sel.Find("span.aCOpRe").First().Text())
	}
	return crawl.RawListing{
		URL:     href,
		Title:   title,
		Snippet: snippet,
	}, true
}

// keepHref drops internal navigation links and links back to the search
// engine itself.
func keepHref(href string) bool {
	if href == "" || strings.HasPrefix(href, "/search") || strings.HasPrefix(href, "#") {
		return false
	}
	if !strings.HasPrefix(href, "http") {
		return false
	}
	if strings.Contains(href, "google.com") {
		return false
	}
	return true
}
