package spotify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"spotify-lyrics-api-go/logcolors"
	"spotify-lyrics-api-go/stats"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/karlseguin/ccache/v3"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// Link is the state threaded through the resolver steps. Original is what the
// caller submitted; Current is the URL as rewritten by earlier steps.
type Link struct {
	Original string
	Current  string
}

// Step is one resolution strategy. A step returns a reference when it
// resolves the link, (nil, nil) to pass, or an error that the resolver logs
// and swallows. Steps may rewrite link.Current for the steps after them.
type Step interface {
	Name() string
	Resolve(ctx context.Context, link *Link) (*Reference, error)
}

// Resolver tries its steps in order; the first reference wins
type Resolver struct {
	steps   []Step
	memo    *ccache.Cache[*Reference]
	memoTTL time.Duration
}

// NewResolver creates a resolver. A memoTTL of 0 disables memoization.
func NewResolver(steps []Step, memoTTL time.Duration) *Resolver {
	r := &Resolver{steps: steps, memoTTL: memoTTL}
	if memoTTL > 0 {
		r.memo = ccache.New(ccache.Configure[*Reference]().MaxSize(5000).GetsPerPromote(3).PercentToPrune(10))
	}
	return r
}

// Steps returns the step names in order
func (r *Resolver) Steps() []string {
	names := make([]string, len(r.steps))
	for i, s := range r.steps {
		names[i] = s.Name()
	}
	return names
}

// Resolve turns any supported link into a reference, or returns ErrUnresolvable
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (*Reference, error) {
	rawURL = strings.TrimSpace(rawURL)

	if r.memo != nil {
		if item := r.memo.Get(rawURL); item != nil && !item.Expired() {
			stats.Get().ResolveMemoHits.Add(1)
			ref := *item.Value()
			log.Debugf("%s %s -> %s", logcolors.LogCacheResolve, rawURL, ref)
			return &ref, nil
		}
	}

	link := &Link{Original: rawURL, Current: rawURL}
	for _, step := range r.steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ref, err := step.Resolve(ctx, link)
		if err != nil {
			log.Warnf("%s %v", logcolors.StepPrefix(step.Name()), err)
			continue
		}
		if ref == nil {
			continue
		}

		log.Infof("%s Resolved %s -> %s", logcolors.StepPrefix(step.Name()), rawURL, ref)
		stats.Get().RecordResolveStep(step.Name())
		if r.memo != nil {
			memoized := *ref
			r.memo.Set(rawURL, &memoized, r.memoTTL)
		}
		return ref, nil
	}

	stats.Get().ResolveFailures.Add(1)
	log.Warnf("%s No step could resolve %s", logcolors.LogResolve, rawURL)
	return nil, ErrUnresolvable
}

// StepOptions configures DefaultSteps
type StepOptions struct {
	HTTPClient      *http.Client
	ShortLinkHosts  []string
	SongwhipURL     string
	SongwhipCountry string
	EnableSongwhip  bool
}

// DefaultSteps returns the standard chain: direct match, redirect following,
// short-link page scraping, pattern match on the rewritten URL, and the
// Songwhip fallback.
func DefaultSteps(opts StepOptions) []Step {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	steps := []Step{
		DirectStep{},
		&RedirectStep{Client: client},
		&ShortLinkStep{Client: client, Hosts: opts.ShortLinkHosts},
		PatternStep{},
	}
	if opts.EnableSongwhip && opts.SongwhipURL != "" {
		steps = append(steps, &SongwhipStep{Client: client, Endpoint: opts.SongwhipURL, Country: opts.SongwhipCountry})
	}
	return steps
}

// DirectStep matches the submitted link without any network call
type DirectStep struct{}

func (DirectStep) Name() string { return "direct" }

func (DirectStep) Resolve(_ context.Context, link *Link) (*Reference, error) {
	ref, _ := Match(link.Original)
	return ref, nil
}

// PatternStep matches the link as rewritten by earlier steps
type PatternStep struct{}

func (PatternStep) Name() string { return "pattern" }

func (PatternStep) Resolve(_ context.Context, link *Link) (*Reference, error) {
	ref, _ := Match(link.Current)
	return ref, nil
}

// RedirectStep follows HTTP redirects and records the final URL. It tries
// HEAD first and falls back to GET for hosts that refuse HEAD.
type RedirectStep struct {
	Client *http.Client
}

func (s *RedirectStep) Name() string { return "redirect" }

func (s *RedirectStep) Resolve(ctx context.Context, link *Link) (*Reference, error) {
	if !isHTTP(link.Current) {
		return nil, nil
	}

	final, err := s.follow(ctx, http.MethodHead, link.Current)
	if err != nil {
		final, err = s.follow(ctx, http.MethodGet, link.Current)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve URL: %w", err)
		}
	}
	if final != link.Current {
		log.Debugf("%s %s redirected to %s", logcolors.StepPrefix(s.Name()), link.Current, final)
	}
	link.Current = final
	return nil, nil
}

func (s *RedirectStep) follow(ctx context.Context, method, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.Request.URL.String(), nil
}

var shortLinkPattern = regexp.MustCompile(`window\.top\.location = validateProtocol\("([^"]+)"\);`)

// ShortLinkStep reads the redirect target that spotify.link pages embed in a script
type ShortLinkStep struct {
	Client *http.Client
	Hosts  []string
}

func (s *ShortLinkStep) Name() string { return "shortlink" }

func (s *ShortLinkStep) Resolve(ctx context.Context, link *Link) (*Reference, error) {
	if !s.isShortLink(link.Current) {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link.Current, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch short link page: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read short link page: %w", err)
	}

	target := extractShortLinkTarget(body)
	if target == "" {
		return nil, fmt.Errorf("no redirect target found on %s", link.Current)
	}
	link.Current = target
	return nil, nil
}

func (s *ShortLinkStep) isShortLink(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range s.Hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// extractShortLinkTarget scans script bodies first and the raw page second
func extractShortLinkTarget(page []byte) string {
	var target string
	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page)); err == nil {
		doc.Find("script").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			if m := shortLinkPattern.FindStringSubmatch(sel.Text()); m != nil {
				target = m[1]
				return false
			}
			return true
		})
	}
	if target == "" {
		if m := shortLinkPattern.FindSubmatch(page); m != nil {
			target = string(m[1])
		}
	}
	return target
}

// SongwhipStep asks Songwhip to map a foreign link (Apple Music, YouTube...)
// to its Spotify equivalent.
type SongwhipStep struct {
	Client   *http.Client
	Endpoint string
	Country  string
}

func (s *SongwhipStep) Name() string { return "songwhip" }

func (s *SongwhipStep) Resolve(ctx context.Context, link *Link) (*Reference, error) {
	if !isHTTP(link.Original) {
		return nil, nil
	}

	country := s.Country
	if country == "" {
		country = "US"
	}
	payload, _ := json.Marshal(map[string]string{"url": link.Original, "country": country})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("songwhip request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read songwhip response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("songwhip API call failed: %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("songwhip returned invalid JSON")
	}

	spotifyLink := gjson.GetBytes(body, "data.item.links.spotify.0.link").String()
	if spotifyLink == "" {
		return nil, nil
	}
	ref, _ := Match(spotifyLink)
	return ref, nil
}

func isHTTP(raw string) bool {
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}
