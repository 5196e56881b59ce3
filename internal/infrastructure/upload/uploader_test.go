package upload

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hi-zp/recording/internal/core/domain"
	apperrors "github.com/hi-zp/recording/pkg/errors"
	"github.com/hi-zp/recording/pkg/logger"
	"github.com/hi-zp/recording/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecording() *domain.Recording {
	return &domain.Recording{
		Data:       []byte("RIFFdata"),
		Format:     "wav",
		SampleRate: 48000,
		Channels:   2,
		CreatedAt:  time.UnixMilli(1700000000000),
	}
}

func noRetry() retry.Config {
	return retry.Config{Enabled: false}
}

func TestUploadPostsMultipartFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()

		assert.Equal(t, "audio_1700000000000.wav", header.Filename)
		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, []byte("RIFFdata"), data)

		w.Write([]byte(`{"ok":true,"url":"/uploads/audio_1700000000000.wav"}`))
	}))
	defer srv.Close()

	u := NewUploader(srv.URL, noRetry(), logger.New("error").Sugar())
	url, err := u.Upload(context.Background(), testRecording())
	require.NoError(t, err)
	assert.Equal(t, "/uploads/audio_1700000000000.wav", url)
}

func TestUploadRetriesUntilSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"transient"}`))
			return
		}
		w.Write([]byte(`{"ok":true,"url":"/uploads/a.wav"}`))
	}))
	defer srv.Close()

	cfg := retry.Config{
		Enabled:      true,
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
	}
	u := NewUploader(srv.URL, cfg, logger.New("error").Sugar())
	url, err := u.Upload(context.Background(), testRecording())
	require.NoError(t, err)
	assert.Equal(t, "/uploads/a.wav", url)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestUploadSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInsufficientStorage)
		w.Write([]byte(`{"error":"disk full"}`))
	}))
	defer srv.Close()

	u := NewUploader(srv.URL, noRetry(), logger.New("error").Sugar())
	_, err := u.Upload(context.Background(), testRecording())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "disk full"))
}

func TestUploadRejectsEmptyRecording(t *testing.T) {
	u := NewUploader("http://localhost:0", noRetry(), logger.New("error").Sugar())
	_, err := u.Upload(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.CodeOf(err))
}
