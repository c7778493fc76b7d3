package remindersdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	cws "github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTaskSendsAlarmAndAuth(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		gotKey = r.Header.Get("X-Api-Key")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Task{ID: "t1", Title: "Tea", AlarmState: "armed"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.APIKey = "trk_abc"
	alarm := In(90 * time.Minute)
	task, err := c.CreateTask(context.Background(), "Tea", "", &alarm)
	require.NoError(t, err)

	assert.Equal(t, "POST /v1/tasks", gotPath)
	assert.Equal(t, "trk_abc", gotKey)
	assert.Equal(t, "Tea", gotBody["title"])
	a, ok := gotBody["alarm"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, a["enabled"])
	assert.Equal(t, "duration", a["mode"])
	assert.EqualValues(t, 1, a["hours"])
	assert.EqualValues(t, 30, a["minutes"])
	assert.Equal(t, "armed", task.AlarmState)
}

func TestAtBuildsDatetimePatch(t *testing.T) {
	when := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	p := At(when)
	require.NotNil(t, p.Timestamp)
	assert.Equal(t, when.UnixMilli(), *p.Timestamp)
	assert.Equal(t, "datetime", *p.Mode)
}

func TestDeleteTaskNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/v1/tasks/a%2Fb", r.URL.EscapedPath())
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	require.NoError(t, c.DeleteTask(context.Background(), "a/b"))
}

func TestAPIErrorOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"not_found","message":"not found"}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).GetTask(context.Background(), "missing")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "not_found")
}

func TestEventsPageQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/events", r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "42", r.URL.Query().Get("cursor"))
		_ = json.NewEncoder(w).Encode(PaginatedEvents{Items: []Event{{ID: 41, Type: "alarm.fired"}}, NextCursor: "41"})
	}))
	defer srv.Close()

	page, err := New(srv.URL).EventsPage(context.Background(), 10, "42")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "alarm.fired", page.Items[0].Type)
	assert.Equal(t, "41", page.NextCursor)
}

func TestStreamDeliversNotifications(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/stream", r.URL.Path)
		conn, err := cws.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		_ = conn.Write(ctx, cws.MessageText, []byte(`{"type":"other"}`))
		_ = conn.Write(ctx, cws.MessageText, []byte(`{"type":"alarm-triggered","notification":{"task_id":"t9","title":"Walk","message":"Time's up for: Walk"}}`))
		conn.Close(cws.StatusNormalClosure, "")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := New(srv.URL).Stream(ctx)
	require.NoError(t, err)

	select {
	case n := <-ch:
		assert.Equal(t, "t9", n.TaskID)
		assert.Equal(t, "Time's up for: Walk", n.Message)
	case <-ctx.Done():
		t.Fatal("no notification received")
	}
	for range ch {
	}
}
