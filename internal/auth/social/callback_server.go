package social

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"
)

// CallbackPath is the fixed loopback path registered as the redirect URI.
const CallbackPath = "/oauth/callback"

// ErrCallbackTimeout means no callback arrived within the wait budget.
// Terminal; the user must restart the flow.
var ErrCallbackTimeout = errors.New("oauth callback timeout")

// CallbackResult is what the browser redirect delivered.
type CallbackResult struct {
	Code             string
	State            string
	AuthError        string
	ErrorDescription string
}

// CallbackServer is a one-shot loopback HTTP listener. It accepts exactly
// one request matching CallbackPath and is torn down immediately after —
// it must never linger past one request. The port is a scarce shared
// resource: a bind conflict is a fatal configuration error, not retried.
type CallbackServer struct {
	port     int
	listener net.Listener
	srv      *http.Server
	results  chan CallbackResult

	recvOnce  sync.Once
	closeOnce sync.Once
}

// NewCallbackServer prepares a listener for the given fixed port.
func NewCallbackServer(port int) *CallbackServer {
	return &CallbackServer{
		port:    port,
		results: make(chan CallbackResult, 1),
	}
}

// RedirectURI returns the loopback redirect URI for this listener.
func (s *CallbackServer) RedirectURI() string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", s.port, CallbackPath)
}

// Start binds the port and begins serving in the background.
func (s *CallbackServer) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		return fmt.Errorf("callback port %d unavailable (another flow active?): %w", s.port, err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc(CallbackPath, s.handleCallback)
	s.srv = &http.Server{Handler: mux}

	go func() {
		if err := s.srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("[OAuth] Callback server error: %v", err)
		}
	}()
	log.Printf("[OAuth] Callback server listening on %s", s.RedirectURI())
	return nil
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var result CallbackResult
	switch {
	case query.Get("code") != "":
		result = CallbackResult{
			Code:  query.Get("code"),
			State: query.Get("state"),
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, successPage)
	case query.Get("error") != "":
		result = CallbackResult{
			AuthError:        query.Get("error"),
			ErrorDescription: query.Get("error_description"),
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, errorPage, result.AuthError, result.ErrorDescription)
	default:
		http.Error(w, "Invalid OAuth callback", http.StatusBadRequest)
		return
	}

	delivered := false
	s.recvOnce.Do(func() {
		s.results <- result
		delivered = true
	})
	if delivered {
		// One request served; the listener must not stay bound.
		go s.Close()
	}
}

// Wait blocks until the callback arrives, the timeout elapses, or ctx is
// cancelled.
func (s *CallbackServer) Wait(ctx context.Context, timeout time.Duration) (CallbackResult, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-s.results:
		return result, nil
	case <-timer.C:
		return CallbackResult{}, fmt.Errorf("%w after %s", ErrCallbackTimeout, timeout)
	case <-ctx.Done():
		return CallbackResult{}, ctx.Err()
	}
}

// Close shuts the listener down. Safe to call more than once.
func (s *CallbackServer) Close() {
	s.closeOnce.Do(func() {
		if s.srv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := s.srv.Shutdown(ctx); err != nil {
				log.Printf("[OAuth] Callback server shutdown: %v", err)
			}
		}
		log.Printf("[OAuth] Callback server stopped")
	})
}

const successPage = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Authorization Successful</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, sans-serif; display: flex; justify-content: center; align-items: center; height: 100vh; margin: 0; background: #1a1a2e; color: #eee; }
.card { background: #16213e; padding: 40px; border-radius: 10px; text-align: center; max-width: 400px; }
h1 { font-size: 24px; color: #4ade80; }
</style></head>
<body><div class="card">
<h1>Authorization Successful</h1>
<p>You can close this window and return to the application.</p>
<p>Token exchange is in progress...</p>
</div>
<script>setTimeout(function(){ window.close(); }, 3000);</script>
</body></html>`

const errorPage = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Authorization Failed</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, sans-serif; display: flex; justify-content: center; align-items: center; height: 100vh; margin: 0; background: #1a1a2e; color: #eee; }
.card { background: #16213e; padding: 40px; border-radius: 10px; text-align: center; max-width: 400px; }
h1 { font-size: 24px; color: #f87171; }
code { background: #374151; padding: 2px 6px; border-radius: 4px; }
</style></head>
<body><div class="card">
<h1>Authorization Failed</h1>
<p><code>%s</code></p>
<p>%s</p>
</div></body></html>`
