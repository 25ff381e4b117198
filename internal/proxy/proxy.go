// Package proxy is the per-request data path: it reads the current upstream
// selection from the shared state cell, rewrites and forwards the incoming
// request, and streams the response back. It is grounded in the teacher's
// SherpaProxyService (shared transport, copyHeaders, streamResponse-with-
// Flusher) but strips the endpoint-discovery/selector machinery down to a
// single state-cell read, and adds hop-by-hop header stripping and the
// admin routes the teacher's proxy never needed.
package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/corvidae/relay/internal/logger"
	"github.com/corvidae/relay/internal/state"
	"github.com/corvidae/relay/internal/upstream"
	"github.com/corvidae/relay/internal/util"
	"github.com/corvidae/relay/pkg/pool"
)

const (
	healthPath  = "/__failover/health"
	statePath   = "/__failover/state"
	adminPrefix = "/__failover/"

	streamBufferSize = 32 * 1024
)

// streamBuffers pools the per-request streaming buffer so a busy proxy
// doesn't allocate 32KB on every forwarded response body.
var streamBuffers = pool.NewLitePool(func() []byte {
	return make([]byte, streamBufferSize)
})

// hopByHopHeaders are stripped from both the forwarded request and the
// returned response, per RFC 7230 §6.1 and spec §4.4 item 5.
var hopByHopHeaders = []string{
	"Connection", "Proxy-Connection", "Keep-Alive",
	"Transfer-Encoding", "TE", "Trailer", "Upgrade",
}

// Proxier serves every incoming request: the two admin routes directly, and
// everything else forwarded to whichever upstream the state cell currently
// selects.
type Proxier struct {
	cell   *state.Cell
	client *upstream.Client
	log    *logger.StyledLogger

	maxBodyBytes   int64
	forwardTimeout time.Duration
}

// New builds a Proxier. maxBodyBytes bounds both the Content-Length fast
// path and the streaming read cap; forwardTimeout bounds the overall
// outbound request.
func New(cell *state.Cell, client *upstream.Client, log *logger.StyledLogger, maxBodyBytes int64, forwardTimeout time.Duration) *Proxier {
	return &Proxier{
		cell:           cell,
		client:         client,
		log:            log,
		maxBodyBytes:   maxBodyBytes,
		forwardTimeout: forwardTimeout,
	}
}

// ServeHTTP implements http.Handler.
func (p *Proxier) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case healthPath:
		p.serveHealth(w)
		return
	case statePath:
		p.serveState(w)
		return
	}

	// The /__failover/ prefix is reserved; anything else under it is a 404,
	// never forwarded upstream.
	if strings.HasPrefix(r.URL.Path, adminPrefix) {
		http.NotFound(w, r)
		return
	}

	p.forward(w, r)
}

func (p *Proxier) serveHealth(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// forward is the per-request hot path: selection snapshot, size enforcement,
// URL composition, header rewriting, and streamed forward-and-respond.
func (p *Proxier) forward(w http.ResponseWriter, r *http.Request) {
	requestID, _ := r.Context().Value(requestIDKey{}).(string)
	if requestID == "" {
		requestID = util.GenerateRequestID()
	}

	defer func() {
		if rec := recover(); rec != nil {
			if p.log != nil {
				p.log.Error("proxy request panic recovered",
					"request_id", requestID, "panic", rec,
					"method", r.Method, "path", r.URL.Path)
			}
			if w.Header().Get("Content-Type") == "" {
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}
	}()

	base := p.cell.SelectedURL()

	if r.ContentLength > p.maxBodyBytes {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	targetURL, err := composeTargetURL(base, r.URL)
	if err != nil {
		if p.log != nil {
			p.log.Error("failed to compose target URL", "request_id", requestID, "error", err, "base", base)
		}
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	ctx := r.Context()
	if p.forwardTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.forwardTimeout)
		defer cancel()
	}

	body := http.MaxBytesReader(w, r.Body, p.maxBodyBytes)

	outReq, err := http.NewRequestWithContext(ctx, r.Method, targetURL, body)
	if err != nil {
		if p.log != nil {
			p.log.Error("failed to build outbound request", "request_id", requestID, "error", err)
		}
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	outReq.ContentLength = r.ContentLength

	copyRequestHeaders(outReq, r, targetURL)

	resp, err := p.client.Transport().RoundTrip(outReq)
	if err != nil {
		if p.log != nil {
			p.log.Warn("upstream forwarding failed before response started",
				"request_id", requestID, "error", err, "target", targetURL)
		}
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	if err := streamResponse(w, resp.Body); err != nil && p.log != nil {
		p.log.Warn("response streaming interrupted", "request_id", requestID, "error", err, "target", targetURL)
	}
}

// requestIDKey is the context key an upstream middleware could set a
// pre-generated request ID under; forward falls back to generating its own
// when none is present, the same fallback the teacher's ProxyRequest takes.
type requestIDKey struct{}

// composeTargetURL joins the selected base URL with the incoming request's
// path and query. No normalization that changes semantics: no collapsing of
// repeated slashes, no case-folding. Exactly one slash is removed when both
// the base and the request path would otherwise produce a double slash.
func composeTargetURL(base string, reqURL *url.URL) (string, error) {
	if _, err := url.Parse(base); err != nil {
		return "", fmt.Errorf("parsing base URL %q: %w", base, err)
	}

	out := util.JoinURLPath(base, reqURL.Path)
	if reqURL.RawQuery != "" {
		out += "?" + reqURL.RawQuery
	}
	return out, nil
}

// copyRequestHeaders clones the inbound header set onto the outbound
// request, stripping hop-by-hop headers and the field-named-in-Connection
// extensions, then sets Host, X-Forwarded-For, and X-Forwarded-Proto.
func copyRequestHeaders(outReq, inReq *http.Request, targetURL string) {
	strip := hopByHopSet(inReq.Header)

	for k, vals := range inReq.Header {
		if strip[strings.ToLower(k)] {
			continue
		}
		for _, v := range vals {
			outReq.Header.Add(k, v)
		}
	}

	if parsed, err := url.Parse(targetURL); err == nil {
		outReq.Host = parsed.Host
	}

	ip := util.GetClientIP(inReq, false, nil)
	if prior := outReq.Header.Get("X-Forwarded-For"); prior != "" {
		outReq.Header.Set("X-Forwarded-For", prior+", "+ip)
	} else {
		outReq.Header.Set("X-Forwarded-For", ip)
	}

	proto := "http"
	if inReq.TLS != nil {
		proto = "https"
	}
	outReq.Header.Set("X-Forwarded-Proto", proto)
}

// copyResponseHeaders copies upstream response headers onto the client
// response, stripping the same hop-by-hop set.
func copyResponseHeaders(dst http.Header, src http.Header) {
	strip := hopByHopSet(src)
	for k, vals := range src {
		if strip[strings.ToLower(k)] {
			continue
		}
		for _, v := range vals {
			dst.Add(k, v)
		}
	}
}

// hopByHopSet builds the lowercase set of headers to strip: the fixed
// RFC-listed set plus any header named in the request's own Connection
// field.
func hopByHopSet(h http.Header) map[string]bool {
	set := make(map[string]bool, len(hopByHopHeaders)+2)
	for _, name := range hopByHopHeaders {
		set[strings.ToLower(name)] = true
	}
	for _, field := range h.Values("Connection") {
		for _, token := range strings.Split(field, ",") {
			token = strings.ToLower(strings.TrimSpace(token))
			if token != "" {
				set[token] = true
			}
		}
	}
	return set
}

// streamResponse copies the upstream body to the client, flushing after
// every read so the client starts receiving bytes before the upstream body
// reaches EOF. A failure here occurs after headers (and possibly bytes)
// have already been written, so the caller only logs it; the connection is
// left to close on return.
func streamResponse(w http.ResponseWriter, body io.Reader) error {
	flusher, canFlush := w.(http.Flusher)
	buf := streamBuffers.Get()
	defer streamBuffers.Put(buf)

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return readErr
		}
	}
}
