package scoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.png":
			w.Header().Set("Content-Type", "image/png; charset=binary")
			_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
		case "/untyped":
			w.Header().Set("Content-Type", "")
			_, _ = w.Write([]byte("raw"))
		case "/slow":
			time.Sleep(200 * time.Millisecond)
			_, _ = w.Write([]byte("late"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := &ImageFetcher{Client: srv.Client()}

	data, mt, err := f.Fetch(context.Background(), srv.URL+"/ok.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", mt)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data)

	_, _, err = f.Fetch(context.Background(), srv.URL+"/missing")
	assert.ErrorIs(t, err, ErrUnavailable)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err = f.Fetch(ctx, srv.URL+"/slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, Retryable(err))
}
