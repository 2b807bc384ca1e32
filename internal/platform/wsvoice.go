package platform

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/meetscribe/internal/utils"
)

// envelope is the JSON frame exchanged with the voice platform bridge.
type envelope struct {
	Type  string `json:"type"`
	ReqID string `json:"req_id,omitempty"`

	ChannelID   string `json:"channel_id,omitempty"`
	ChannelName string `json:"channel_name,omitempty"`
	Participant string `json:"participant,omitempty"`

	Title      string `json:"title,omitempty"`
	Content    string `json:"content,omitempty"`
	FileName   string `json:"file_name,omitempty"`
	DataBase64 string `json:"data_base64,omitempty"`
	Reason     string `json:"reason,omitempty"`

	Error string `json:"error,omitempty"`
}

// WSVoice speaks to the voice platform over a single websocket: inbound
// join/leave/frame/end events are dispatched to the handler, outbound commands
// are request/response correlated by req_id.
type WSVoice struct {
	url     string
	handler EventHandler
	log     *logrus.Entry

	conn    *websocket.Conn
	writeMu sync.Mutex // gorilla allows one concurrent writer

	// events decouples handler dispatch from the read loop: handlers issue
	// commands whose results arrive on the same socket, so dispatching inline
	// would deadlock the loop against itself. A single dispatch goroutine
	// preserves event order.
	events chan envelope

	mu      sync.Mutex
	pending map[string]chan envelope
	closed  bool
}

func NewWSVoice(url string, handler EventHandler, log *logrus.Entry) *WSVoice {
	return &WSVoice{
		url:     url,
		handler: handler,
		log:     log,
		events:  make(chan envelope, 1024),
		pending: make(map[string]chan envelope),
	}
}

// Connect dials the bridge and starts the read loop.
func (w *WSVoice) Connect(ctx context.Context) error {
	const op = "WSVoice.Connect"

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return utils.E(utils.CodeUnavailable, op, "failed to dial voice bridge", err)
	}
	w.conn = conn
	go w.readLoop()
	go w.dispatchLoop()
	return nil
}

func (w *WSVoice) Close() error {
	w.mu.Lock()
	w.closed = true
	for id, ch := range w.pending {
		close(ch)
		delete(w.pending, id)
	}
	w.mu.Unlock()
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}

func (w *WSVoice) readLoop() {
	defer close(w.events)
	for {
		var env envelope
		if err := w.conn.ReadJSON(&env); err != nil {
			w.mu.Lock()
			closed := w.closed
			w.mu.Unlock()
			if !closed {
				w.log.WithError(err).Error("voice bridge read failed")
			}
			return
		}

		if env.Type == "result" {
			w.resolve(env)
			continue
		}
		w.events <- env
	}
}

func (w *WSVoice) dispatchLoop() {
	for env := range w.events {
		switch env.Type {
		case "join":
			w.handler.HandleJoin(env.ChannelID, env.ChannelName, env.Participant)
		case "leave":
			w.handler.HandleLeave(env.ChannelID, env.Participant)
		case "frame":
			frame, err := base64.StdEncoding.DecodeString(env.DataBase64)
			if err != nil {
				w.log.WithError(err).Warn("dropping undecodable audio frame")
				continue
			}
			w.handler.HandleFrame(env.ChannelID, env.Participant, frame)
		case "end_meeting":
			w.handler.HandleEndCommand(env.ChannelID)
		default:
			w.log.WithField("type", env.Type).Warn("unknown envelope type")
		}
	}
}

func (w *WSVoice) resolve(env envelope) {
	w.mu.Lock()
	ch, ok := w.pending[env.ReqID]
	if ok {
		delete(w.pending, env.ReqID)
	}
	w.mu.Unlock()
	if ok {
		ch <- env
	}
}

func (w *WSVoice) send(env envelope) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, b)
}

// request sends a command and waits for its correlated result.
func (w *WSVoice) request(ctx context.Context, env envelope) (envelope, error) {
	const op = "WSVoice.request"

	env.ReqID = uuid.NewString()
	ch := make(chan envelope, 1)
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return envelope{}, utils.E(utils.CodeUnavailable, op, "voice bridge closed", nil)
	}
	w.pending[env.ReqID] = ch
	w.mu.Unlock()

	if err := w.send(env); err != nil {
		w.mu.Lock()
		delete(w.pending, env.ReqID)
		w.mu.Unlock()
		return envelope{}, utils.E(utils.CodeUnavailable, op, "failed to send command", err)
	}

	select {
	case <-ctx.Done():
		w.mu.Lock()
		delete(w.pending, env.ReqID)
		w.mu.Unlock()
		return envelope{}, utils.E(utils.CodeTimeout, op, "voice bridge did not answer", ctx.Err())
	case resp, ok := <-ch:
		if !ok {
			return envelope{}, utils.E(utils.CodeUnavailable, op, "voice bridge closed", nil)
		}
		if resp.Error != "" {
			return envelope{}, utils.E(utils.CodeUnavailable, op, resp.Error, nil)
		}
		return resp, nil
	}
}

func (w *WSVoice) CreateVoiceChannel(ctx context.Context, name string) (string, error) {
	resp, err := w.request(ctx, envelope{Type: "create_channel", ChannelName: name})
	if err != nil {
		return "", err
	}
	return resp.ChannelID, nil
}

func (w *WSVoice) RemoveVoiceChannel(ctx context.Context, channelID, reason string) error {
	_, err := w.request(ctx, envelope{Type: "remove_channel", ChannelID: channelID, Reason: reason})
	return err
}

func (w *WSVoice) MoveParticipant(ctx context.Context, participant, channelID string) error {
	_, err := w.request(ctx, envelope{Type: "move_participant", Participant: participant, ChannelID: channelID})
	return err
}

func (w *WSVoice) CreateThread(ctx context.Context, title, content string) (string, error) {
	resp, err := w.request(ctx, envelope{Type: "create_thread", Title: title, Content: content})
	if err != nil {
		return "", err
	}
	return resp.ChannelID, nil
}

func (w *WSVoice) PostMessage(ctx context.Context, threadID, content string) error {
	_, err := w.request(ctx, envelope{Type: "post_message", ChannelID: threadID, Content: content})
	return err
}

func (w *WSVoice) PostFile(ctx context.Context, threadID, message, fileName string, content []byte) error {
	_, err := w.request(ctx, envelope{
		Type:       "post_file",
		ChannelID:  threadID,
		Content:    message,
		FileName:   fileName,
		DataBase64: base64.StdEncoding.EncodeToString(content),
	})
	return err
}
