package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	tls "github.com/refraction-networking/utls"
)

// DocumentClient downloads non-HTML documents (PDFs) that the browser would
// only show in a viewer. It presents a Chrome-like TLS fingerprint.
type DocumentClient struct {
	maxBody int64

	mu      sync.Mutex
	clients map[clientKey]*http.Client
}

type clientKey struct {
	proxy    string
	insecure bool
}

// DocumentRequest describes one download.
type DocumentRequest struct {
	URL                string
	Headers            map[string]string
	Proxy              string
	InsecureSkipVerify bool
}

// Document is a downloaded body.
type Document struct {
	Body        []byte
	ContentType string
	StatusCode  int
	FinalURL    string
	Header      http.Header
}

// chromeH1Spec is a Chrome-like TLS ClientHello with ALPN forced to http/1.1
// only. Computed once at init time and reused for every connection.
var chromeH1Spec tls.ClientHelloSpec

func init() {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return
	}
	// Go's http.Transport cannot speak h2 over a utls connection.
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	chromeH1Spec = spec
}

// NewDocumentClient creates a DocumentClient reading at most maxBody bytes
// per document.
func NewDocumentClient(maxBody int64) *DocumentClient {
	if maxBody <= 0 {
		maxBody = 50 << 20
	}
	return &DocumentClient{maxBody: maxBody, clients: make(map[clientKey]*http.Client)}
}

func (c *DocumentClient) client(proxy string, insecure bool) (*http.Client, error) {
	key := clientKey{proxy: proxy, insecure: insecure}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[key]; ok {
		return cl, nil
	}

	transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: 10 * time.Second}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host, _, _ := net.SplitHostPort(addr)
			tlsConn := tls.UClient(conn, &tls.Config{ServerName: host, InsecureSkipVerify: insecure}, tls.HelloCustom)
			if err := tlsConn.ApplyPreset(&chromeH1Spec); err != nil {
				conn.Close()
				return nil, fmt.Errorf("document: apply tls spec: %w", err)
			}
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, err
			}
			return tlsConn, nil
		},
		ForceAttemptHTTP2: false,
	}
	if proxy != "" {
		u, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("document: parse proxy: %w", err)
		}
		transport.Proxy = http.ProxyURL(u)
	}

	cl := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}
	c.clients[key] = cl
	return cl, nil
}

// Download fetches req.URL and returns the body, bounded by the client's
// size limit. Non-2xx responses are returned, not treated as errors.
func (c *DocumentClient) Download(ctx context.Context, req DocumentRequest) (*Document, error) {
	cl, err := c.client(req.Proxy, req.InsecureSkipVerify)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("document: build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36")
	httpReq.Header.Set("Accept", "application/pdf,text/html;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Encoding", "identity")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := cl.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("document: do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return nil, fmt.Errorf("document: read body: %w", err)
	}

	return &Document{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
		FinalURL:    resp.Request.URL.String(),
		Header:      resp.Header,
	}, nil
}

// IsPDF reports whether a response is a PDF document, by content type or
// magic bytes.
func IsPDF(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "application/pdf") {
		return true
	}
	return bytes.HasPrefix(body, []byte("%PDF-"))
}
