package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/linkaudit/internal/models"
)

// httpResult is the final response of a followed redirect chain
type httpResult struct {
	finalURL    string
	contentType string
	body        []byte
	hops        int
}

// newHTTPClient returns a client that never follows redirects itself and
// closes the connection after every request
func newHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout: timeout,
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			DisableKeepAlives:     true,
			TLSHandshakeTimeout:   timeout,
			ResponseHeaderTimeout: timeout,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// fetchHTTP issues GETs along the redirect chain starting at rawURL.
// 302 and 307 are followed, as is a 301 that only adds or drops a trailing
// slash. Following more than maxRedirects hops fails with REDIRECT_LIMIT
// before the extra hop is requested.
func (f *Fetcher) fetchHTTP(ctx context.Context, rawURL string) (*httpResult, error) {
	current := rawURL

	for hops := 0; ; hops++ {
		resp, err := f.get(ctx, current)
		if err != nil {
			return nil, err
		}

		switch resp.StatusCode {
		case http.StatusOK:
			body, err := f.readBody(resp)
			resp.Body.Close()
			if err != nil {
				return nil, err
			}
			contentType := resp.Header.Get("Content-Type")
			if contentType == "" {
				contentType = http.DetectContentType(body)
			}
			return &httpResult{
				finalURL:    current,
				contentType: contentType,
				body:        body,
				hops:        hops,
			}, nil

		case http.StatusFound, http.StatusTemporaryRedirect, http.StatusMovedPermanently:
			location := resp.Header.Get("Location")
			resp.Body.Close()
			if location == "" {
				return nil, newFetchError(models.KindHTTPHeader, "redirect without Location header", strconv.Itoa(resp.StatusCode))
			}
			next, err := resolveLocation(current, location)
			if err != nil {
				return nil, newFetchError(models.KindHTTPHeader, "unparseable Location header", location)
			}

			if resp.StatusCode == http.StatusMovedPermanently && !trailingSlashOnly(current, next) {
				return nil, newFetchError(models.KindPermanentRedirect, "moved permanently", next)
			}

			if hops >= f.config.MaxRedirects {
				return nil, newFetchError(models.KindRedirectLimit,
					fmt.Sprintf("more than %d redirects", f.config.MaxRedirects), next)
			}
			f.logger.Trace().Str("from", current).Str("to", next).Int("hop", hops+1).Msg("Following redirect")
			current = next

		default:
			resp.Body.Close()
			return nil, statusError(resp.StatusCode)
		}
	}
}

func (f *Fetcher) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, newFetchError(models.KindURLSyntax, "invalid request URL", err.Error())
	}
	req.Close = true
	req.Header.Set("Connection", "close")
	if f.config.UserAgent != "" {
		req.Header.Set("User-Agent", f.config.UserAgent)
	}
	return f.httpClient.Do(req)
}

// readBody reads up to MaxContentBytes or the declared length, whichever is smaller
func (f *Fetcher) readBody(resp *http.Response) ([]byte, error) {
	limit := f.config.MaxContentBytes
	if resp.ContentLength >= 0 && resp.ContentLength < limit {
		limit = resp.ContentLength
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil && len(body) == 0 {
		return nil, err
	}
	return body, nil
}

func statusError(code int) error {
	aux := strconv.Itoa(code)
	switch code {
	case http.StatusPaymentRequired:
		return newFetchError(models.KindAuthorization, "authorization required", aux)
	case http.StatusNotFound:
		return newFetchError(models.KindNotFound, "not found", aux)
	case http.StatusInternalServerError:
		return newFetchError(models.KindServerError, "server error", aux)
	}
	return newFetchError(models.KindHTTPResponse, "unexpected HTTP response code", aux)
}

// resolveLocation resolves a Location header against the current URL. An
// absolute URL is used as is; a path is substituted onto the current scheme
// and host.
func resolveLocation(current, location string) (string, error) {
	base, err := url.Parse(current)
	if err != nil {
		return "", err
	}
	loc, err := url.Parse(strings.TrimSpace(location))
	if err != nil {
		return "", err
	}
	if loc.IsAbs() {
		return loc.String(), nil
	}
	if strings.HasPrefix(loc.Path, "/") {
		resolved := &url.URL{
			Scheme:   base.Scheme,
			User:     base.User,
			Host:     base.Host,
			Path:     loc.Path,
			RawPath:  loc.RawPath,
			RawQuery: loc.RawQuery,
			Fragment: loc.Fragment,
		}
		if loc.Host != "" {
			// protocol-relative "//host/path"
			resolved.Host = loc.Host
		}
		return resolved.String(), nil
	}
	return base.ResolveReference(loc).String(), nil
}

// trailingSlashOnly reports whether a and b differ only by a trailing slash
func trailingSlashOnly(a, b string) bool {
	return a != b && strings.TrimSuffix(a, "/") == strings.TrimSuffix(b, "/")
}
