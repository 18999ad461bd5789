package fetch

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/linkaudit/internal/models"
)

func newTestFetcher(t *testing.T) *Fetcher {
	t.Helper()
	return NewFetcher(Config{
		Timeout:         2 * time.Second,
		MaxRedirects:    10,
		MaxContentBytes: 50 * 1024,
		UserAgent:       "linkaudit-test",
		ContactEmail:    "audit@example.org",
	}, nil, arbor.NewLogger())
}

func newPrimaryPage(url string, mode models.ChecksumMode) *models.PageDesc {
	r := models.NewResourceDesc("coll", "dif", "/tmp", "rec.xml")
	r.ID = "rec-1"
	return r.AddPage("/Related_URL", models.LabelPrimary, url, mode)
}

func TestFetch_RelativeRedirect(t *testing.T) {
	var hitB int32
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/b")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hitB, 1)
		assert.Equal(t, "close", r.Header.Get("Connection"))
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><head><title>B</title></head><body><h1>Landing</h1></body></html>")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	page := newPrimaryPage(server.URL+"/a", models.ChecksumStandard)
	newTestFetcher(t).Fetch(context.Background(), page)

	assert.True(t, page.OK(), "redirected fetch should succeed: %v", page.Warning)
	assert.Equal(t, server.URL+"/b", page.FinalURL)
	assert.Equal(t, server.URL+"/a", page.URL)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hitB))
	assert.NotZero(t, page.Checksum)
	assert.Contains(t, page.PrimaryText, "Landing")
	assert.Nil(t, page.Content(), "content buffer should be released")
}

func TestFetch_RedirectLimit(t *testing.T) {
	var requested [12]int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n int
		if _, err := fmt.Sscanf(r.URL.Path, "/r/%d", &n); err != nil || n > 11 {
			http.NotFound(w, r)
			return
		}
		atomic.AddInt32(&requested[n], 1)
		if n == 11 {
			fmt.Fprint(w, "end of chain")
			return
		}
		w.Header().Set("Location", fmt.Sprintf("/r/%d", n+1))
		w.WriteHeader(http.StatusTemporaryRedirect)
	}))
	defer server.Close()

	page := newPrimaryPage(server.URL+"/r/0", models.ChecksumExact)
	newTestFetcher(t).Fetch(context.Background(), page)

	require.True(t, page.Attempted())
	assert.Equal(t, models.KindRedirectLimit, page.Outcome)
	require.NotNil(t, page.Warning)
	assert.Equal(t, models.KindRedirectLimit, page.Warning.Kind())
	for i := 0; i <= 10; i++ {
		assert.EqualValues(t, 1, atomic.LoadInt32(&requested[i]), "hop %d", i)
	}
	assert.EqualValues(t, 0, atomic.LoadInt32(&requested[11]), "the 11th hop must never be fetched")
}

func TestFetch_TenRedirectsSucceed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n int
		fmt.Sscanf(r.URL.Path, "/r/%d", &n)
		if n == 10 {
			fmt.Fprint(w, "done")
			return
		}
		http.Redirect(w, r, fmt.Sprintf("/r/%d", n+1), http.StatusFound)
	}))
	defer server.Close()

	page := newPrimaryPage(server.URL+"/r/0", models.ChecksumExact)
	newTestFetcher(t).Fetch(context.Background(), page)
	assert.True(t, page.OK())
}

func TestFetch_StatusPolicy(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/dir", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/dir/")
		w.WriteHeader(http.StatusMovedPermanently)
	})
	mux.HandleFunc("/dir/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "index")
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "http://elsewhere.example/new")
		w.WriteHeader(http.StatusMovedPermanently)
	})
	mux.HandleFunc("/pay", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	})
	mux.HandleFunc("/boom", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/forbidden", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	tests := []struct {
		path    string
		outcome models.ErrorKind
		aux     string
	}{
		{"/dir", models.KindNone, ""},
		{"/moved", models.KindPermanentRedirect, "http://elsewhere.example/new"},
		{"/pay", models.KindAuthorization, "402"},
		{"/missing", models.KindNotFound, "404"},
		{"/boom", models.KindServerError, "500"},
		{"/forbidden", models.KindHTTPResponse, "403"},
	}

	fetcher := newTestFetcher(t)
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			page := newPrimaryPage(server.URL+tt.path, models.ChecksumExact)
			fetcher.Fetch(context.Background(), page)

			require.True(t, page.Attempted())
			assert.Equal(t, tt.outcome, page.Outcome)
			if tt.outcome != models.KindNone {
				require.NotNil(t, page.Warning)
				assert.Equal(t, tt.aux, page.Warning.Aux())
				assert.Equal(t, "rec-1", page.Warning.ResourceID())
				assert.Equal(t, models.LabelPrimary, page.Warning.Label())
			}
		})
	}
}

func TestFetch_BodyCap(t *testing.T) {
	big := strings.Repeat("x", 200*1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		fmt.Fprint(w, big)
	}))
	defer server.Close()

	page := newPrimaryPage(server.URL, models.ChecksumExact)
	newTestFetcher(t).Fetch(context.Background(), page)

	require.True(t, page.OK())
	assert.Equal(t, HashBytes([]byte(big[:50*1024])), page.Checksum)
}

// rawServer answers every connection with a canned response
func rawServer(t *testing.T, response string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				reader := bufio.NewReader(c)
				for {
					line, err := reader.ReadString('\n')
					if err != nil || line == "\r\n" {
						break
					}
				}
				c.Write([]byte(response))
			}(conn)
		}
	}()
	return "http://" + ln.Addr().String() + "/"
}

func TestFetch_MalformedResponses(t *testing.T) {
	fetcher := newTestFetcher(t)

	page := newPrimaryPage(rawServer(t, "GARBAGE\r\n\r\n"), models.ChecksumExact)
	fetcher.Fetch(context.Background(), page)
	assert.Equal(t, models.KindHTTPStatusLine, page.Outcome)

	page = newPrimaryPage(rawServer(t, "HTTP/1.1 200 OK\r\nBroken header line\r\n\r\nbody"), models.ChecksumExact)
	fetcher.Fetch(context.Background(), page)
	assert.Equal(t, models.KindHTTPHeader, page.Outcome)
}

func TestFetch_NetworkFailures(t *testing.T) {
	fetcher := newTestFetcher(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	page := newPrimaryPage("http://"+addr+"/", models.ChecksumExact)
	fetcher.Fetch(context.Background(), page)
	assert.Equal(t, models.KindConnectRefused, page.Outcome)

	page = newPrimaryPage("http://no-such-host.invalid/", models.ChecksumExact)
	fetcher.Fetch(context.Background(), page)
	assert.Equal(t, models.KindUnknownHost, page.Outcome)

	page = newPrimaryPage("gopher://example.org/", models.ChecksumExact)
	fetcher.Fetch(context.Background(), page)
	assert.Equal(t, models.KindUnknownProtocol, page.Outcome)
}

func TestFetch_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	page := newPrimaryPage(server.URL, models.ChecksumExact)
	newTestFetcher(t).Fetch(ctx, page)
	assert.Equal(t, models.KindTimeout, page.Outcome)
}

func TestFetch_CompareByURL(t *testing.T) {
	var n int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "<html><body><h1>hit %d</h1></body></html>", atomic.AddInt32(&n, 1))
	}))
	defer server.Close()

	fetcher := NewFetcher(Config{
		Timeout:      time.Second,
		MaxRedirects: 10,
		CompareByURL: []string{server.URL + "/portal"},
	}, nil, arbor.NewLogger())

	page := newPrimaryPage(server.URL+"/portal", models.ChecksumStandard)
	fetcher.Fetch(context.Background(), page)
	require.True(t, page.OK())
	assert.Equal(t, HashString(server.URL+"/portal"), page.Checksum)
}

func TestResolveLocation(t *testing.T) {
	tests := []struct {
		current, location, want string
	}{
		{"http://h/a", "/b", "http://h/b"},
		{"http://h:8080/x/y", "/b?q=1", "http://h:8080/b?q=1"},
		{"http://h/a", "https://other/c", "https://other/c"},
		{"http://h/dir/a", "b", "http://h/dir/b"},
		{"https://h/a", "//cdn.example/z", "https://cdn.example/z"},
	}
	for _, tt := range tests {
		got, err := resolveLocation(tt.current, tt.location)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s + %s", tt.current, tt.location)
	}
}
