package crawl

import (
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/google/uuid"
)

// trackingParams are query parameters stripped before fingerprinting. They
// identify campaigns, not pages.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"gclid":        {},
	"fbclid":       {},
	"msclkid":      {},
	"ref":          {},
}

// Normalizer canonicalizes raw listings into result records and computes
// their dedup fingerprints.
type Normalizer struct {
	hasher Hasher
	logger *zap.Logger
}

// NewNormalizer constructs a Normalizer.
func NewNormalizer(hasher Hasher, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{hasher: hasher, logger: logger}
}

// Normalize cleans a raw listing and returns a record with everything except
// rank and discovery time filled in. It returns nil for records that carry
// neither a usable URL nor a domain/title pair; those are logged and skipped
// rather than failing the session.
func (n *Normalizer) Normalize(sessionID uuid.UUID, keyword string, raw RawListing) *ResultRecord {
	title := collapseSpace(raw.Title)
	snippet := collapseSpace(raw.Snippet)
	rawURL := strings.TrimSpace(raw.URL)

	storedURL, domain := normalizeStoredURL(rawURL)
	fp, err := n.fingerprint(rawURL, domain, title)
	if err != nil {
		n.logger.Debug("skipping unusable listing",
			zap.String("keyword", keyword),
			zap.String("url", rawURL),
			zap.String("title", title),
		)
		return nil
	}

	return &ResultRecord{
		SessionID:   sessionID,
		Keyword:     keyword,
		URL:         storedURL,
		Title:       title,
		Snippet:     snippet,
		Domain:      domain,
		Fingerprint: fp,
	}
}

// fingerprint hashes the normalized URL, falling back to domain|title when the
// URL is empty or unparsable. Both empty means the record is unusable.
func (n *Normalizer) fingerprint(rawURL, domain, title string) (string, error) {
	if canonical := fingerprintURL(rawURL); canonical != "" {
		return n.hasher.Hash([]byte(canonical))
	}
	if domain != "unknown" || title != "" {
		return n.hasher.Hash([]byte(domain + "|" + title))
	}
	return "", fmt.Errorf("listing has no url, domain, or title")
}

// normalizeStoredURL lowercases scheme and host, strips default ports and the
// fragment, and extracts the domain. The path and query keep their original
// form. Malformed URLs yield domain "unknown".
func normalizeStoredURL(rawURL string) (stored, domain string) {
	if rawURL == "" {
		return "", "unknown"
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL, "unknown"
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Host = strings.TrimSuffix(u.Host, defaultPort(u.Scheme))
	u.Fragment = ""
	return u.String(), u.Hostname()
}

// fingerprintURL builds the canonical form hashed for deduplication: lowercase
// scheme/host/path, sorted query with tracking parameters removed, no
// fragment. Returns "" when the URL cannot be canonicalized.
func fingerprintURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Host = strings.TrimSuffix(u.Host, defaultPort(u.Scheme))
	u.Path = strings.ToLower(u.Path)
	u.Fragment = ""

	q := u.Query()
	for param := range q {
		if _, tracking := trackingParams[strings.ToLower(param)]; tracking {
			q.Del(param)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func defaultPort(scheme string) string {
	switch scheme {
	case "http":
		return ":80"
	case "https":
		return ":443"
	default:
		return ""
	}
}

// collapseSpace trims the string and folds internal whitespace runs into
// single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
