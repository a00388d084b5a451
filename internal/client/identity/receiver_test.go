package identity

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceiver(t *testing.T) {
	r, err := NewReceiver(zerolog.Nop())
	require.NoError(t, err)

	assert.Contains(t, r.RedirectURL(), "http://127.0.0.1:")

	go func() {
		resp, err := http.Get(r.RedirectURL() + "?access_token=tok-123")
		if err == nil {
			resp.Body.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	token, err := r.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)
}

func TestReceiver_MissingToken(t *testing.T) {
	r, err := NewReceiver(zerolog.Nop())
	require.NoError(t, err)

	go func() {
		resp, err := http.Get(r.RedirectURL())
		if err == nil {
			resp.Body.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = r.Wait(ctx)
	assert.Error(t, err)
}

func TestReceiver_ContextCancelled(t *testing.T) {
	r, err := NewReceiver(zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
