// Package web serves verdicts and metrics over HTTP.
package web

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/tokensieve/internal/domain"
	"github.com/vadiminshakov/tokensieve/internal/storage/verdicts"
)

const (
	pollInterval      = 2 * time.Second
	heartbeatInterval = 30 * time.Second
	writeWait         = 10 * time.Second
)

type verdictReader interface {
	Verdicts() ([]domain.Verdict, error)
	EventsAfter(index uint64) ([]verdicts.Record, error)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server exposes the verdict journal as JSON, an SSE stream and a websocket stream.
type Server struct {
	Addr    string
	Store   verdictReader
	Metrics http.Handler

	poll time.Duration
	l    *zap.Logger
}

// NewServer creates a new web server instance. metrics may be nil.
func NewServer(addr string, store verdictReader, metrics http.Handler, l *zap.Logger) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	return &Server{Addr: addr, Store: store, Metrics: metrics, poll: pollInterval, l: l}
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	mux.HandleFunc("/verdicts", s.handleVerdicts)
	mux.HandleFunc("/verdicts/stream", s.handleVerdictStream)
	mux.HandleFunc("/verdicts/ws", s.handleVerdictSocket)
	if s.Metrics != nil {
		mux.Handle("/metrics", s.Metrics)
	}
	return mux
}

const shutdownTimeout = 5 * time.Second

func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// serve runs listen until it fails or ctx is done, then shuts srv down gracefully.
func serve(ctx context.Context, srv *http.Server, listen func() error) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- listen()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Start serves plain HTTP until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := newHTTPServer(s.Addr, s.Handler())
	s.l.Info("web server started", zap.String("addr", s.Addr))
	return serve(ctx, srv, srv.ListenAndServe)
}

// StartWithAutoTLS serves HTTPS with certificates obtained through ACME for domains.
// ACME HTTP-01 challenges are answered on port 80.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if len(domains) == 0 {
		return errors.New("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}
	challenge := newHTTPServer(":80", manager.HTTPHandler(nil))
	secure := newHTTPServer(s.Addr, s.Handler())
	secure.TLSConfig = manager.TLSConfig()
	secure.TLSConfig.MinVersion = tls.VersionTLS12

	s.l.Info("web server started with automatic TLS", zap.String("addr", s.Addr), zap.Strings("domains", domains))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serve(gctx, challenge, challenge.ListenAndServe)
	})
	g.Go(func() error {
		return serve(gctx, secure, func() error { return secure.ListenAndServeTLS("", "") })
	})
	return g.Wait()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

// handleVerdicts serves the latest verdict of every token. ?status= narrows the list.
func (s *Server) handleVerdicts(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		http.Error(w, "verdict store not available", http.StatusServiceUnavailable)
		return
	}

	list, err := s.Store.Verdicts()
	if err != nil {
		s.l.Error("failed to load verdicts", zap.Error(err))
		http.Error(w, "failed to load verdicts", http.StatusInternalServerError)
		return
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := list[:0]
		for _, v := range list {
			if string(v.Status) == status {
				filtered = append(filtered, v)
			}
		}
		list = filtered
	}
	if list == nil {
		list = []domain.Verdict{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(list); err != nil {
		s.l.Warn("failed to write verdicts", zap.Error(err))
	}
}

func (s *Server) handleVerdictStream(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		http.Error(w, "verdict store not available", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	// send a comment heartbeat so proxies keep the connection
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(s.poll)
	defer pollTicker.Stop()

	lastIndex := s.parseLastEventID(r.Header.Get("Last-Event-ID"), r.URL.Query().Get("last_event_id"))
	sendVerdicts := func() error {
		records, err := s.Store.EventsAfter(lastIndex)
		if err != nil {
			return err
		}
		for _, record := range records {
			payload, err := json.Marshal(record.Verdict)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "id: %d\nevent: verdict\ndata: %s\n\n", record.Index, payload)
			flusher.Flush()
			lastIndex = record.Index
		}
		return nil
	}

	if err := sendVerdicts(); err != nil {
		http.Error(w, "failed to load verdicts", http.StatusInternalServerError)
		s.l.Error("verdict stream initial load", zap.Error(err))
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendVerdicts(); err != nil {
				s.l.Warn("verdict stream poll", zap.Error(err))
			}
		}
	}
}

// handleVerdictSocket pushes the same records as the SSE stream as JSON websocket messages.
func (s *Server) handleVerdictSocket(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		http.Error(w, "verdict store not available", http.StatusServiceUnavailable)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.l.Warn("failed to upgrade the websocket", zap.Error(err))
		return
	}
	defer ws.Close()

	// drain client frames so close and pong messages are processed
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(s.poll)
	defer pollTicker.Stop()

	lastIndex := s.parseLastEventID("", r.URL.Query().Get("last_event_id"))
	sendVerdicts := func() error {
		records, err := s.Store.EventsAfter(lastIndex)
		if err != nil {
			return err
		}
		for _, record := range records {
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(record); err != nil {
				return err
			}
			lastIndex = record.Index
		}
		return nil
	}

	if err := sendVerdicts(); err != nil {
		s.l.Warn("verdict socket initial load", zap.Error(err))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-heartbeat.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-pollTicker.C:
			if err := sendVerdicts(); err != nil {
				s.l.Warn("verdict socket poll", zap.Error(err))
				return
			}
		}
	}
}

// parseLastEventID extracts an SSE event ID from either the Last-Event-ID header or a query parameter.
// The header is preferred; the query parameter allows manual reconnects to resume from a known index.
func (s *Server) parseLastEventID(headerVal, queryVal string) uint64 {
	idStr := strings.TrimSpace(headerVal)
	if idStr == "" {
		idStr = strings.TrimSpace(queryVal)
	}
	if idStr == "" {
		return 0
	}

	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		s.l.Debug("invalid last event id", zap.String("id", idStr), zap.Error(err))
		return 0
	}
	return id
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>tokensieve</title>
  <style>
    body { margin:2rem; font-family:'Space Mono','JetBrains Mono',monospace; color:#111; }
    table { border-collapse:collapse; width:100%; }
    th, td { border-bottom:1px solid #ddd; padding:.4rem .6rem; text-align:left; }
    .honeypot { color:#b00020; }
    .safe { color:#0a7d32; }
    .inconclusive { color:#9c9c9c; }
  </style>
</head>
<body>
  <h1>tokensieve</h1>
  <table>
    <thead><tr><th>token</th><th>status</th><th>reason</th><th>buy</th><th>sell</th><th>transfer</th><th>block</th></tr></thead>
    <tbody id="rows"></tbody>
  </table>
  <script>
    const rows = new Map();
    const bps = v => v === undefined || v === null ? '' : (v / 100).toFixed(2) + '%';
    function render(v) {
      let tr = rows.get(v.token.address);
      if (!tr) {
        tr = document.createElement('tr');
        rows.set(v.token.address, tr);
        document.getElementById('rows').prepend(tr);
      }
      tr.className = v.status;
      tr.innerHTML = '<td>' + (v.token.symbol || '') + ' ' + v.token.address + '</td><td>' + v.status +
        '</td><td>' + (v.reason || v.error || '') + '</td><td>' + bps(v.buy_tax_bps) + '</td><td>' +
        bps(v.sell_tax_bps) + '</td><td>' + bps(v.transfer_tax_bps) + '</td><td>' + v.block + '</td>';
    }
    const es = new EventSource('/verdicts/stream');
    es.addEventListener('verdict', e => render(JSON.parse(e.data)));
  </script>
</body>
</html>
`
