package platform

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/meetscribe/internal/utils"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type recordingHandler struct {
	mu     sync.Mutex
	joins  []string
	leaves []string
	frames []string
	ends   []string
}

func (h *recordingHandler) HandleJoin(channelID, channelName, participant string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joins = append(h.joins, channelID+"/"+channelName+"/"+participant)
}

func (h *recordingHandler) HandleLeave(channelID, participant string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaves = append(h.leaves, channelID+"/"+participant)
}

func (h *recordingHandler) HandleFrame(channelID, participant string, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, participant+":"+string(frame))
}

func (h *recordingHandler) HandleEndCommand(channelID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ends = append(h.ends, channelID)
}

// bridge is a minimal in-process stand-in for the voice platform endpoint.
type bridge struct {
	upgrader websocket.Upgrader
	mu       sync.Mutex
	conn     *websocket.Conn
	respond  func(env envelope) *envelope
}

func (b *bridge) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		if b.respond != nil {
			if resp := b.respond(env); resp != nil {
				resp.ReqID = env.ReqID
				_ = conn.WriteJSON(resp)
			}
		}
	}
}

func (b *bridge) push(t *testing.T, env envelope) {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotNil(t, b.conn)
	require.NoError(t, b.conn.WriteJSON(env))
}

func dialBridge(t *testing.T, b *bridge, h EventHandler) *WSVoice {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(b.handler))
	t.Cleanup(srv.Close)

	w := NewWSVoice("ws"+strings.TrimPrefix(srv.URL, "http"), h, testLog())
	require.NoError(t, w.Connect(context.Background()))
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestCreateVoiceChannelRoundTrip(t *testing.T) {
	b := &bridge{respond: func(env envelope) *envelope {
		if env.Type == "create_channel" {
			return &envelope{Type: "result", ChannelID: "chan-42"}
		}
		return nil
	}}
	w := dialBridge(t, b, &recordingHandler{})

	id, err := w.CreateVoiceChannel(context.Background(), "meeting-x")
	require.NoError(t, err)
	assert.Equal(t, "chan-42", id)
}

func TestRequestSurfacesBridgeError(t *testing.T) {
	b := &bridge{respond: func(env envelope) *envelope {
		return &envelope{Type: "result", Error: "channel limit reached"}
	}}
	w := dialBridge(t, b, &recordingHandler{})

	_, err := w.CreateVoiceChannel(context.Background(), "meeting-x")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeUnavailable))
	assert.Contains(t, err.Error(), "channel limit reached")
}

func TestRequestTimesOutWithoutAnswer(t *testing.T) {
	b := &bridge{} // never responds
	w := dialBridge(t, b, &recordingHandler{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := w.PostMessage(ctx, "thread-1", "hello")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeTimeout))
}

func TestInboundEventsDispatchToHandler(t *testing.T) {
	h := &recordingHandler{}
	b := &bridge{}
	w := dialBridge(t, b, h)
	defer w.Close()

	b.push(t, envelope{Type: "join", ChannelID: "c1", ChannelName: "meeting-room", Participant: "alice"})
	b.push(t, envelope{Type: "frame", ChannelID: "c1", Participant: "alice",
		DataBase64: base64.StdEncoding.EncodeToString([]byte("pcm-bytes"))})
	b.push(t, envelope{Type: "leave", ChannelID: "c1", Participant: "alice"})
	b.push(t, envelope{Type: "end_meeting", ChannelID: "c1"})

	waitFor(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.ends) == 1
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, []string{"c1/meeting-room/alice"}, h.joins)
	assert.Equal(t, []string{"alice:pcm-bytes"}, h.frames)
	assert.Equal(t, []string{"c1/alice"}, h.leaves)
	assert.Equal(t, []string{"c1"}, h.ends)
}

func TestUndecodableFrameIsDropped(t *testing.T) {
	h := &recordingHandler{}
	b := &bridge{}
	w := dialBridge(t, b, h)
	defer w.Close()

	b.push(t, envelope{Type: "frame", ChannelID: "c1", Participant: "alice", DataBase64: "!!not-base64!!"})
	b.push(t, envelope{Type: "end_meeting", ChannelID: "c1"})

	waitFor(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.ends) == 1
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Empty(t, h.frames)
}
