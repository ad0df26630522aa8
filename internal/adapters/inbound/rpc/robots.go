package rpc

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fetchcore/internal/domain/model"
)

// fetchTimeout bounds the robots.txt/sitemap lookups this package
// issues on a caller's behalf; both are small, same-host documents so
// the default fetch_url timeout would be needlessly generous.
const fetchTimeout = 10 * time.Second

// robotsCheckArgs names the candidate URL and the user agent token to
// evaluate it against; agent defaults to "*" when empty.
type robotsCheckArgs struct {
	URL   string `json:"url"`
	Agent string `json:"agent"`
}

type robotsCheckResult struct {
	Allowed         bool     `json:"allowed"`
	MatchedRule     string   `json:"matched_rule,omitempty"`
	CrawlDelay      float64  `json:"crawl_delay,omitempty"`
	Sitemaps        []string `json:"sitemaps,omitempty"`
	RobotsStatus    int      `json:"robots_status"`
}

// invokeRobotsCheck fetches /robots.txt for args.URL's host through the
// engine — so the lookup itself is rate-limited, breaker-guarded, and
// cacheable like any other fetch — and evaluates the path against the
// record matching args.Agent per the longest-match rule in the robots
// exclusion standard (RFC 9309 §2.2.2). A robots.txt fetch failure or a
// status of 400 or above is treated as "allow everything".
func (d *Dispatcher) invokeRobotsCheck(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args robotsCheckArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("decoding robots_check arguments: %w", err)
	}

	agent := args.Agent
	if agent == "" {
		agent = "*"
	}

	target, err := url.Parse(args.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing url: %w", err)
	}

	robotsURL := (&url.URL{Scheme: target.Scheme, Host: target.Host, Path: "/robots.txt"}).String()

	resp, err := d.engine.Execute(ctx, &model.Request{
		Method:  http.MethodGet,
		URL:     robotsURL,
		Headers: make(http.Header),
		Timeout: fetchTimeout,
	})
	if err != nil || resp.StatusCode >= http.StatusBadRequest {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}

		return json.Marshal(robotsCheckResult{Allowed: true, RobotsStatus: status})
	}

	record := parseRobotsTxt(string(resp.Body), agent)
	allowed, matched := record.evaluate(target.EscapedPath())

	return json.Marshal(robotsCheckResult{
		Allowed:      allowed,
		MatchedRule:  matched,
		CrawlDelay:   record.crawlDelay,
		Sitemaps:     record.sitemaps,
		RobotsStatus: resp.StatusCode,
	})
}

type robotsRule struct {
	path  string
	allow bool
}

type robotsRecord struct {
	rules      []robotsRule
	crawlDelay float64
	sitemaps   []string
}

// evaluate applies the longest-matching-prefix rule; ties favor Allow,
// per the de facto convention most crawlers follow when the standard
// leaves the tie-break unspecified.
func (r robotsRecord) evaluate(path string) (bool, string) {
	bestLen := -1
	allowed := true
	matched := ""

	for _, rule := range r.rules {
		if !strings.HasPrefix(path, rule.path) {
			continue
		}

		l := len(rule.path)
		if l < bestLen {
			continue
		}
		if l == bestLen && !rule.allow && allowed {
			continue
		}

		bestLen = l
		allowed = rule.allow
		matched = rule.path
	}

	return allowed, matched
}

// parseRobotsTxt implements the subset of RFC 9309 this service needs:
// group selection by User-agent (exact match preferred over "*"),
// Allow/Disallow rule collection, and the Sitemap/Crawl-delay
// directives, which apply regardless of which group they trail.
func parseRobotsTxt(body, agent string) robotsRecord {
	var (
		exact, wildcard  []robotsRule
		inExact, inWild  bool
		sawExactGroup    bool
		crawlDelay       float64
		sitemaps         []string
	)

	agent = strings.ToLower(agent)

	flush := func() { inExact, inWild = false, false }

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		field, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		field = strings.ToLower(strings.TrimSpace(field))
		value = strings.TrimSpace(value)

		switch field {
		case "user-agent":
			ua := strings.ToLower(value)
			switch {
			case ua == agent:
				flush()
				inExact = true
				sawExactGroup = true
			case ua == "*" && !sawExactGroup:
				inWild = true
			default:
				flush()
			}
		case "allow", "disallow":
			if !inExact && !inWild {
				continue
			}

			rule := robotsRule{path: value, allow: field == "allow"}
			if inExact {
				exact = append(exact, rule)
			} else {
				wildcard = append(wildcard, rule)
			}
		case "crawl-delay":
			fmt.Sscanf(value, "%f", &crawlDelay)
		case "sitemap":
			sitemaps = append(sitemaps, value)
		}
	}

	rules := wildcard
	if sawExactGroup {
		rules = exact
	}

	return robotsRecord{rules: rules, crawlDelay: crawlDelay, sitemaps: sitemaps}
}

// sitemapParseArgs names the sitemap (or sitemap index) URL to fetch.
type sitemapParseArgs struct {
	URL string `json:"url"`
}

type sitemapEntry struct {
	URL        string `json:"url"`
	LastMod    string `json:"last_modified,omitempty"`
	ChangeFreq string `json:"change_frequency,omitempty"`
}

type sitemapParseResult struct {
	URLs     []sitemapEntry `json:"urls"`
	Indexed  []string       `json:"indexed_sitemaps,omitempty"`
}

// xmlURLSet and xmlSitemapIndex mirror the two documented sitemaps.org
// schemas; encoding/xml's struct-tag decoding handles both the same
// way the s3proxy teacher's ListBucketResult/ListAllMyBucketsResult
// types decode S3's XML responses.
type xmlURLSet struct {
	XMLName xml.Name  `xml:"urlset"`
	URLs    []xmlURL  `xml:"url"`
}

type xmlURL struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod"`
	ChangeFreq string `xml:"changefreq"`
}

type xmlSitemapIndex struct {
	XMLName  xml.Name    `xml:"sitemapindex"`
	Sitemaps []xmlSIEntry `xml:"sitemap"`
}

type xmlSIEntry struct {
	Loc string `xml:"loc"`
}

// invokeSitemapParse fetches args.URL through the engine and decodes
// either a <urlset> (leaf sitemap) or a <sitemapindex> (one level of
// nested sitemap references, returned unexpanded in Indexed so the
// caller can choose whether to recurse).
func (d *Dispatcher) invokeSitemapParse(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args sitemapParseArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("decoding sitemap_parse arguments: %w", err)
	}

	resp, err := d.engine.Execute(ctx, &model.Request{
		Method:  http.MethodGet,
		URL:     args.URL,
		Headers: make(http.Header),
		Timeout: fetchTimeout,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("fetching sitemap: status %d", resp.StatusCode)
	}

	var index xmlSitemapIndex
	if err := xml.Unmarshal(resp.Body, &index); err == nil && len(index.Sitemaps) > 0 {
		indexed := make([]string, len(index.Sitemaps))
		for i, s := range index.Sitemaps {
			indexed[i] = s.Loc
		}

		return json.Marshal(sitemapParseResult{Indexed: indexed})
	}

	var set xmlURLSet
	if err := xml.Unmarshal(resp.Body, &set); err != nil {
		return nil, fmt.Errorf("decoding sitemap xml: %w", err)
	}

	urls := make([]sitemapEntry, len(set.URLs))
	for i, u := range set.URLs {
		urls[i] = sitemapEntry{URL: u.Loc, LastMod: u.LastMod, ChangeFreq: u.ChangeFreq}
	}

	return json.Marshal(sitemapParseResult{URLs: urls})
}

// cacheManagementArgs drives the one supported administrative action:
// evicting a single URL's cache entry, keyed the same way the engine
// fingerprints a plain GET for that URL (§4.5 fingerprinting whitelist
// excludes bodies and most headers, so a bare GET fingerprint is
// reproducible from the URL alone).
type cacheManagementArgs struct {
	Action string `json:"action"`
	URL    string `json:"url"`
}

type cacheManagementResult struct {
	Purged bool `json:"purged"`
}

func (d *Dispatcher) invokeCacheManagement(_ context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args cacheManagementArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("decoding cache_management arguments: %w", err)
	}

	if args.Action != "purge" {
		return nil, fmt.Errorf("unsupported cache_management action %q, only \"purge\" is implemented", args.Action)
	}
	if args.URL == "" {
		return nil, fmt.Errorf("cache_management purge requires url")
	}

	_, normalized, err := model.NormalizeURL(args.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing url: %w", err)
	}

	fp := model.ComputeFingerprint(http.MethodGet, normalized, make(http.Header), nil)
	d.engine.Cache().Purge(fp)

	return json.Marshal(cacheManagementResult{Purged: true})
}
