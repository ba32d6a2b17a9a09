package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/position-tracker/internal/model"
)

func changedEvent(sid int64) model.Event {
	prev := 10
	return model.Event{
		Kind:       model.EventChanged,
		Key:        model.Key{SubscriberID: sid, ArticleID: 42, Query: "чайник"},
		Position:   4,
		Previous:   &prev,
		Delta:      6,
		Direction:  model.DirectionUp,
		OccurredAt: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC),
	}
}

func fastWebhook(url string) *WebhookSink {
	s := NewWebhookSink(url, time.Second)
	s.retry.BaseDelay = time.Millisecond
	s.retry.MaxDelay = time.Millisecond
	return s
}

func TestWebhookSink_PostsJSON(t *testing.T) {
	var got model.Event
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := fastWebhook(srv.URL).Notify(context.Background(), changedEvent(1))
	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, model.EventChanged, got.Kind)
	assert.Equal(t, int64(42), got.Key.ArticleID)
	require.NotNil(t, got.Previous)
	assert.Equal(t, 10, *got.Previous)
	assert.Equal(t, model.DirectionUp, got.Direction)
}

func TestWebhookSink_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, fastWebhook(srv.URL).Notify(context.Background(), changedEvent(1)))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookSink_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := fastWebhook(srv.URL).Notify(context.Background(), changedEvent(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestFanOut(t *testing.T) {
	var a, b int
	fan := FanOut{
		SinkFunc(func(context.Context, model.Event) error { a++; return nil }),
		nil,
		SinkFunc(func(context.Context, model.Event) error { return errors.New("sink down") }),
		SinkFunc(func(context.Context, model.Event) error { b++; return nil }),
	}

	err := fan.Notify(context.Background(), changedEvent(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink down")
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b, "a failing sink does not stop later ones")
}

func TestLogSink(t *testing.T) {
	s := NewLogSink()
	ctx := context.Background()
	for _, ev := range []model.Event{
		changedEvent(1),
		{Kind: model.EventInitial, Position: 3},
		{Kind: model.EventError, ErrorKind: "transport", Error: "boom"},
		{Kind: model.EventNotFound},
	} {
		assert.NoError(t, s.Notify(ctx, ev))
	}
}

func TestInbox(t *testing.T) {
	box := NewInbox(3)
	ctx := context.Background()

	for range 5 {
		require.NoError(t, box.Notify(ctx, changedEvent(1)))
	}
	require.NoError(t, box.Notify(ctx, changedEvent(2)))

	got := box.Since(1, 0)
	require.Len(t, got, 3, "only the newest events are kept")
	assert.Equal(t, uint64(3), got[0].Seq)
	assert.Equal(t, uint64(5), got[2].Seq)

	assert.Len(t, box.Since(1, 4), 1)
	assert.Empty(t, box.Since(1, 5))
	assert.Len(t, box.Since(2, 0), 1)
	assert.Empty(t, box.Since(3, 0))
}
