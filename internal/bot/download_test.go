package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageDownloader(t *testing.T) {
	png := []byte{0x89, 0x50, 0x4E, 0x47}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/photo.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write(png)
		case "/page":
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html></html>"))
		case "/huge":
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write(make([]byte, 64))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	tests := []struct {
		name    string
		path    string
		want    []byte
		wantErr string
	}{
		{name: "image", path: "/photo.png", want: png},
		{name: "not found", path: "/missing", wantErr: "status 404"},
		{name: "not an image", path: "/page", wantErr: "invalid content type"},
		{name: "too large", path: "/huge", wantErr: "image too large"},
	}

	d := NewImageDownloader().WithMaxSize(32)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := d.DownloadFromURL(context.Background(), ts.URL+tt.path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, data)
		})
	}
}

func TestImageDownloader_ContextCanceled(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should have been canceled")
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewImageDownloader().DownloadFromURL(ctx, ts.URL)
	assert.Error(t, err)
}

func TestDownloadFromTelegramFileID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/file/foo.jpeg", r.URL.Path)
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("123"))
	}))
	defer ts.Close()

	d := NewImageDownloader()
	data, err := d.DownloadFromTelegramFileID(context.Background(), func(fileID string) (string, error) {
		return fmt.Sprintf("%s/file/%s.jpeg", ts.URL, fileID), nil
	}, "foo")
	require.NoError(t, err)
	assert.Equal(t, []byte("123"), data)

	_, err = d.DownloadFromTelegramFileID(context.Background(), func(string) (string, error) {
		return "", errors.New("bad file id")
	}, "foo")
	assert.ErrorContains(t, err, "failed to get file URL")
}
