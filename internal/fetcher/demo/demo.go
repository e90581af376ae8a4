// Package demo provides a deterministic crawl.Fetcher for development and
// demos, so the full pipeline can run without touching a search engine.
package demo

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/JakeFAU/serp-reporter/internal/crawl"
)

// sampleSites mirror the kind of mix a real results page returns: job
// boards, company pages, and aggregators.
var sampleSites = []struct {
	host    string
	path    string
	title   string
	snippet string
}{
	{"www.linkedin.com", "/jobs/search", "%s Jobs | LinkedIn", "Browse the latest %s openings posted this week."},
	{"www.indeed.com", "/q-%s-jobs.html", "%s Jobs, Employment | Indeed", "Apply to %s positions hiring now."},
	{"stackoverflow.com", "/jobs/%s", "%s Developer Jobs - Stack Overflow", "Find your next %s role at companies that value engineers."},
	{"www.glassdoor.com", "/Job/%s-jobs", "%s Openings with Salaries | Glassdoor", "Compare %s salaries and read company reviews."},
	{"weworkremotely.com", "/remote-%s-jobs", "Remote %s Jobs - We Work Remotely", "Fully remote %s positions, updated daily."},
	{"news.ycombinator.com", "/item", "Who is hiring? %s threads", "Monthly hiring thread mentioning %s."},
}

// Fetcher returns canned listings derived from the keyword. The same keyword
// always yields the same listings, so dedup and ranking behavior can be
// exercised offline.
type Fetcher struct{}

// New builds a demo Fetcher.
func New() *Fetcher {
	return &Fetcher{}
}

// Fetch synthesizes up to maxResults listings for keyword. It never fails
// and never performs network I/O, but still honors cancellation so the demo
// provider behaves like a real one.
func (f *Fetcher) Fetch(ctx context.Context, keyword string, maxResults int) ([]crawl.RawListing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	slug := slugify(keyword)
	count := len(sampleSites)
	if maxResults > 0 && maxResults < count {
		count = maxResults
	}
	listings := make([]crawl.RawListing, 0, count)
	for _, site := range sampleSites[:count] {
		path := site.path
		if strings.Contains(path, "%s") {
			path = fmt.Sprintf(path, slug)
		}
		listings = append(listings, crawl.RawListing{
			URL:     fmt.Sprintf("https://%s%s?ref=%s", site.host, path, url.QueryEscape(slug)),
			Title:   fmt.Sprintf(site.title, titleCase(keyword)),
			Snippet: fmt.Sprintf(site.snippet, keyword),
		})
	}
	return listings, nil
}

func slugify(keyword string) string {
	fields := strings.Fields(strings.ToLower(keyword))
	return strings.Join(fields, "-")
}

func titleCase(keyword string) string {
	fields := strings.Fields(keyword)
	for i, field := range fields {
		r, size := utf8.DecodeRuneInString(field)
		if r == utf8.RuneError && size <= 1 {
			continue
		}
		fields[i] = string(unicode.ToUpper(r)) + field[size:]
	}
	return strings.Join(fields, " ")
}
