// internal/proxy/proxy.go
//
// Package proxy runs a local forwarding proxy for the browser. Chrome's
// --proxy-server flag cannot carry credentials, so the browser talks to this
// proxy without auth and every request leaves through the configured upstream
// with Proxy-Authorization attached.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/elazarl/goproxy"
	"go.uber.org/zap"

	"github.com/Ian-Gutierrez96/nox-autofill-sub000/internal/config"
)

// Forwarder chains browser traffic to an authenticated upstream proxy.
type Forwarder struct {
	proxy      *goproxy.ProxyHttpServer
	upstream   *url.URL
	listenAddr string
	logger     *zap.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

// New builds a forwarder from cfg. Credentials in cfg override any userinfo
// already present in the upstream URL.
func New(cfg config.ProxyConfig, logger *zap.Logger) (*Forwarder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	upstream, err := url.Parse(cfg.Upstream)
	if err != nil || upstream.Host == "" {
		return nil, fmt.Errorf("proxy: invalid upstream %q", cfg.Upstream)
	}
	if upstream.Scheme == "" {
		upstream.Scheme = "http"
	}
	if cfg.Username != "" {
		upstream.User = url.UserPassword(cfg.Username, cfg.Password)
	}

	f := &Forwarder{
		proxy:      goproxy.NewProxyHttpServer(),
		upstream:   upstream,
		listenAddr: cfg.ListenAddr,
		logger:     logger.Named("proxy"),
	}
	if f.listenAddr == "" {
		f.listenAddr = "127.0.0.1:0"
	}

	// Plain HTTP: the transport adds Proxy-Authorization from the URL's userinfo.
	f.proxy.Tr = &http.Transport{
		Proxy:                 http.ProxyURL(upstream),
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	// CONNECT tunnels are dialed through the upstream with the same credentials.
	auth := basicAuth(upstream.User)
	f.proxy.ConnectDial = f.proxy.NewConnectDialToProxyWithHandler(upstream.String(), func(req *http.Request) {
		if auth != "" {
			req.Header.Set("Proxy-Authorization", auth)
		}
	})

	f.proxy.OnRequest().DoFunc(f.handleRequest)
	f.proxy.OnResponse().DoFunc(f.handleResponse)
	return f, nil
}

// Handler exposes the proxy handler, mainly for tests that serve it themselves.
func (f *Forwarder) Handler() http.Handler { return f.proxy }

// Start listens on the configured address and serves until ctx is done or
// Close is called. It returns once the listener is bound.
func (f *Forwarder) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.server != nil {
		return errors.New("proxy: already started")
	}

	ln, err := net.Listen("tcp", f.listenAddr)
	if err != nil {
		return fmt.Errorf("proxy: listen on %s: %w", f.listenAddr, err)
	}
	server := &http.Server{
		Handler:     f.proxy,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		ErrorLog:    zap.NewStdLog(f.logger.Named("http_server")),
	}
	done := make(chan struct{})
	f.server, f.listener, f.done = server, ln, done

	go func() {
		defer close(done)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			f.logger.Error("Proxy server stopped with an error.", zap.Error(err))
		}
	}()
	context.AfterFunc(ctx, func() { _ = f.Close() })

	f.logger.Info("Forwarding proxy started.",
		zap.String("address", ln.Addr().String()),
		zap.String("upstream", f.upstream.Redacted()))
	return nil
}

// Addr is the bound listen address, or "" before Start.
func (f *Forwarder) Addr() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listener == nil {
		return ""
	}
	return f.listener.Addr().String()
}

// Close shuts the server down and waits for it to stop. Closing twice is a no-op.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	server, done := f.server, f.done
	f.server = nil
	f.mu.Unlock()
	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := server.Shutdown(ctx)
	<-done
	f.logger.Info("Forwarding proxy stopped.")
	return err
}

func (f *Forwarder) handleRequest(r *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	f.logger.Debug("Forwarding request.", zap.String("method", r.Method), zap.String("url", requestURL(ctx)))
	return r, nil
}

func (f *Forwarder) handleResponse(r *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	if r != nil {
		return r
	}
	msg := "unknown error"
	if ctx.Error != nil {
		msg = ctx.Error.Error()
	}
	f.logger.Warn("Upstream returned no response.", zap.String("url", requestURL(ctx)), zap.String("error", msg))
	if ctx.Req == nil {
		return nil
	}
	return goproxy.NewResponse(ctx.Req, goproxy.ContentTypeText, http.StatusBadGateway, "Proxy error: upstream connection failed: "+msg)
}

func basicAuth(user *url.Userinfo) string {
	if user == nil {
		return ""
	}
	pass, _ := user.Password()
	r := &http.Request{Header: make(http.Header)}
	r.SetBasicAuth(user.Username(), pass)
	return r.Header.Get("Authorization")
}

func requestURL(ctx *goproxy.ProxyCtx) string {
	if ctx != nil && ctx.Req != nil && ctx.Req.URL != nil {
		return ctx.Req.URL.String()
	}
	return "unknown"
}
