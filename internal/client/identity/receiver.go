package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/seckatie/marksync/internal/core/api"
)

const callbackPath = "/callback"

const callbackPage = `<!doctype html>
<html><head><title>marksync</title></head>
<body><p>%s</p><p>You can close this window.</p></body></html>`

// Receiver is a one-shot loopback HTTP listener that catches the access
// token the store server appends to redirect_to after sign-in.
type Receiver struct {
	ln     net.Listener
	srv    *http.Server
	result chan receiveResult
	once   sync.Once
	log    zerolog.Logger
}

type receiveResult struct {
	token string
	err   error
}

// NewReceiver listens on an ephemeral loopback port.
func NewReceiver(log zerolog.Logger) (*Receiver, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen for sign-in callback: %w", err)
	}

	r := &Receiver{
		ln:     ln,
		result: make(chan receiveResult, 1),
		log:    log,
	}
	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, r.handleCallback)
	r.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := r.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.finish(receiveResult{err: fmt.Errorf("callback listener failed: %w", err)})
		}
	}()
	return r, nil
}

// RedirectURL is the value to pass as redirect_to.
func (r *Receiver) RedirectURL() string {
	return "http://" + r.ln.Addr().String() + callbackPath
}

// Wait blocks until the callback arrives or ctx ends, then stops listening.
func (r *Receiver) Wait(ctx context.Context) (string, error) {
	defer r.Close()

	select {
	case res := <-r.result:
		return res.token, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *Receiver) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return r.srv.Shutdown(ctx)
}

func (r *Receiver) handleCallback(w http.ResponseWriter, req *http.Request) {
	token := req.URL.Query().Get(api.AccessTokenParam)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if token == "" {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, callbackPage, "Sign-in did not return an access token.")
		r.finish(receiveResult{err: errors.New("callback carried no access token")})
		return
	}

	fmt.Fprintf(w, callbackPage, "Signed in to marksync.")
	r.log.Debug().Msg("received sign-in callback")
	r.finish(receiveResult{token: token})
}

func (r *Receiver) finish(res receiveResult) {
	r.once.Do(func() { r.result <- res })
}
