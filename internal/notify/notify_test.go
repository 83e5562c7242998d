package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poelzi/engelsystem/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBus_FansOutInOrder(t *testing.T) {
	var got []string
	bus := NewBus(SinkFunc(func(_ context.Context, ev Event) { got = append(got, "a:"+ev.Name()) }))
	bus.Subscribe(SinkFunc(func(_ context.Context, ev Event) { got = append(got, "b:"+ev.Name()) }))

	bus.Publish(context.Background(), ShiftUpdating{})

	assert.Equal(t, []string{"a:shift.updating", "b:shift.updating"}, got)
}

func TestLogSink_WritesEventFields(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))

	sink.Publish(context.Background(), ShiftEntryDeleting{
		UserName: "alice",
		Title:    "Opening",
		Location: model.Location{ID: 1, Name: "Main Hall"},
		Start:    time.Date(2026, 8, 20, 9, 45, 0, 0, time.UTC),
		End:      time.Date(2026, 8, 20, 11, 10, 0, 0, time.UTC),
	})

	out := buf.String()
	assert.Contains(t, out, "user=alice")
	assert.Contains(t, out, `location="Main Hall"`)
	assert.Contains(t, out, "from=2026-08-20T09:45:00Z")
}

func TestWebhookSink_PostsEnvelope(t *testing.T) {
	var received atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received.Store(body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, 1, discardLogger())
	sink.Publish(context.Background(), ShiftEntryDeleting{UserName: "bob", Title: "Workshop"})
	sink.Wait()

	raw, ok := received.Load().([]byte)
	require.True(t, ok, "webhook was not called")

	var env struct {
		Event   string          `json:"event"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, NameShiftEntryDeleting, env.Event)
	assert.Contains(t, string(env.Payload), `"user_name":"bob"`)
}

func TestEvents_PayloadKeysAreSnakeCase(t *testing.T) {
	start := time.Date(2026, 8, 20, 9, 45, 0, 0, time.UTC)
	shift := model.Shift{ID: 4, Title: "Opening", ShiftTypeID: 1, LocationID: 2, Start: start, End: start.Add(time.Hour)}

	for _, ev := range []Event{
		ShiftEntryDeleting{UserID: 1, UserName: "alice", Location: model.Location{ID: 2, Name: "Main Hall"}},
		ShiftUpdating{Old: shift, New: shift},
	} {
		raw, err := json.Marshal(ev)
		require.NoError(t, err)

		var fields map[string]any
		require.NoError(t, json.Unmarshal(raw, &fields))
		assertSnakeCase(t, ev.Name(), fields)
	}
}

// assertSnakeCase fails for any key, at any depth, that is not lower case.
func assertSnakeCase(t *testing.T, path string, v any) {
	t.Helper()
	switch v := v.(type) {
	case map[string]any:
		for k, child := range v {
			assert.Equal(t, strings.ToLower(k), k, "key %q in %s", k, path)
			assertSnakeCase(t, path+"."+k, child)
		}
	case []any:
		for _, child := range v {
			assertSnakeCase(t, path, child)
		}
	}
}

func TestWebhookSink_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, 3, discardLogger())
	sink.Publish(context.Background(), ShiftUpdating{})
	sink.Wait()

	assert.Equal(t, int32(1), calls.Load())
}
