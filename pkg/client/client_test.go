package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analyze", r.URL.Path)
		assert.Equal(t, "async", r.URL.Query().Get("mode"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		f, fh, err := r.FormFile("image")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, []byte{0xff, 0xd8}, data)
		assert.Equal(t, "image/jpeg", fh.Header.Get("Content-Type"))

		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"analysisId":"abc"}`))
	}))
	defer srv.Close()

	id, err := New(srv.URL, WithToken("tok")).SubmitImage(context.Background(), []byte{0xff, 0xd8}, "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "abc", id)
}

func TestSubmitAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"No image or audio provided"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).SubmitAudio(context.Background(), nil, "audio/webm")
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "No image or audio provided", apiErr.Message)
}

func TestPollUntilComplete(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"status":"pending"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"complete","foods":[{"name":"eggs","estimatedPortion":{"count":100,"unit":"g"},"calories":143,"protein":12.6}],"image":"https://img"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, WithPollInterval(5*time.Millisecond))
	a, err := c.Poll(context.Background(), "job")
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, a.Status)
	require.Len(t, a.Foods, 1)
	assert.Equal(t, "g", a.Foods[0].EstimatedPortion.Unit)
	assert.EqualValues(t, 3, calls.Load())

	// stops polling once terminal
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 3, calls.Load())
}

func TestPollErrorStatusIsNotTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"error","error":"Failed to analyze meal"}`))
	}))
	defer srv.Close()

	a, err := New(srv.URL, WithPollInterval(time.Millisecond)).Poll(context.Background(), "job")
	var failed *AnalysisFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "Failed to analyze meal", failed.Message)
	assert.Equal(t, StatusError, a.Status)

	var te *TransportError
	assert.False(t, errors.As(err, &te))
}

func TestPollTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(url, WithPollInterval(time.Millisecond), WithMaxPollFailures(2)).Poll(context.Background(), "job")
	var te *TransportError
	require.ErrorAs(t, err, &te)

	var failed *AnalysisFailedError
	assert.False(t, errors.As(err, &failed))
}

func TestPollNotFoundStopsImmediately(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"Analysis not found"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, WithPollInterval(time.Millisecond)).Poll(context.Background(), "gone")
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.EqualValues(t, 1, calls.Load())
}

func TestPollHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"status":"pending"}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := New(srv.URL, WithPollInterval(5*time.Millisecond)).Poll(ctx, "job")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
