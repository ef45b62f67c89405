package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thereayou/roomchat/internal/config"
	"github.com/thereayou/roomchat/internal/handlers/dto"
	"github.com/thereayou/roomchat/internal/models"
	ws "github.com/thereayou/roomchat/internal/websocket"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

type testEnv struct {
	srv *Server
	ts  *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	vars := map[string]string{
		"LOG_BACKEND":        "memory",
		"JWT_SECRET":         "test-secret",
		"ATTACHMENT_DB_PATH": "",
		"GIN_MODE":           "test",
		"PUBLIC_BASE_URL":    "http://files.test",
		"SYNC_RETRY_MIN":     "5ms",
		"SYNC_RETRY_MAX":     "20ms",
	}
	cfg, err := config.FromEnv(func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	})
	require.NoError(t, err)

	srv, err := NewServer(cfg)
	require.NoError(t, err)
	go srv.Hub.Run()

	ts := httptest.NewServer(srv.Router)
	t.Cleanup(func() {
		srv.Hub.Stop()
		ts.Close()
		srv.Close()
	})
	return &testEnv{srv: srv, ts: ts}
}

func (e *testEnv) token(t *testing.T, name string) (models.Author, string) {
	t.Helper()
	author := models.Author{ID: uuid.New(), DisplayName: name}
	tok, err := e.srv.JWTManager.Generate(author)
	require.NoError(t, err)
	return author, tok
}

func (e *testEnv) do(t *testing.T, method, path, token, contentType string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.ts.URL+path, body)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) sendJSON(t *testing.T, token, room string, v interface{}) *http.Response {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return e.do(t, http.MethodPost, "/api/v1/rooms/"+room+"/messages", token, "application/json", bytes.NewReader(b))
}

func (e *testEnv) list(t *testing.T, token, room string) []dto.MessageResponse {
	t.Helper()
	resp := e.do(t, http.MethodGet, "/api/v1/rooms/"+room+"/messages", token, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Messages []dto.MessageResponse `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out.Messages
}

func decodeSent(t *testing.T, resp *http.Response) dto.SentPayload {
	t.Helper()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var sent dto.SentPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sent))
	return sent
}

func TestHealthAndAuth(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/healthz", "", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/me", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/me", "not-a-token", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	author, tok := env.token(t, "ann")
	resp = env.do(t, http.MethodGet, "/api/v1/me", tok, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me dto.UserInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
	assert.Equal(t, author.ID, me.ID)
	assert.Equal(t, "ann", me.DisplayName)

	// Revocation needs redis, which this server does not have.
	resp = env.do(t, http.MethodPost, "/api/v1/auth/logout", tok, "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSendAndListText(t *testing.T) {
	env := newTestEnv(t)
	author, tok := env.token(t, "ann")

	sent := decodeSent(t, env.sendJSON(t, tok, "lobby", dto.SendRequest{Text: "hello"}))
	assert.NotEqual(t, uuid.Nil, sent.MessageID)
	assert.Equal(t, "lobby", sent.RoomID)

	decodeSent(t, env.sendJSON(t, tok, "lobby", dto.SendRequest{Text: "again"}))

	msgs := env.list(t, tok, "lobby")
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.Equal(t, "again", msgs[1].Text)
	assert.Equal(t, sent.MessageID, msgs[0].ID)
	assert.Equal(t, author.ID, msgs[0].Author.ID)
	assert.Equal(t, "ann", msgs[0].Author.DisplayName)
	assert.Nil(t, msgs[0].AttachmentURL)
	assert.Empty(t, msgs[0].Reactions)

	assert.Empty(t, env.list(t, tok, "elsewhere"))
}

func TestSendBlankIsRejected(t *testing.T) {
	env := newTestEnv(t)
	_, tok := env.token(t, "ann")

	resp := env.sendJSON(t, tok, "lobby", dto.SendRequest{Text: "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, env.list(t, tok, "lobby"))
}

func multipartBody(t *testing.T, text, filename string, data []byte) (string, io.Reader) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("text", text))
	if data != nil {
		part, err := w.CreateFormFile("image", filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return w.FormDataContentType(), &buf
}

func TestSendImage(t *testing.T) {
	env := newTestEnv(t)
	_, tok := env.token(t, "ann")

	ct, body := multipartBody(t, "look", "cat.png", pngBytes)
	decodeSent(t, env.do(t, http.MethodPost, "/api/v1/rooms/lobby/messages", tok, ct, body))

	msgs := env.list(t, tok, "lobby")
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].AttachmentURL)
	url := *msgs[0].AttachmentURL
	require.True(t, strings.HasPrefix(url, "http://files.test/attachments/images/"), url)
	assert.Equal(t, "look", msgs[0].Text)

	path := strings.TrimPrefix(url, "http://files.test")
	resp := env.do(t, http.MethodGet, path, "", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, got)

	resp = env.do(t, http.MethodGet, "/attachments/images/1_missing.png", "", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = env.do(t, http.MethodGet, "/attachments/other/thing", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendNonImageIsRejected(t *testing.T) {
	env := newTestEnv(t)
	_, tok := env.token(t, "ann")

	ct, body := multipartBody(t, "", "notes.txt", []byte("just some text"))
	resp := env.do(t, http.MethodPost, "/api/v1/rooms/lobby/messages", tok, ct, body)
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	assert.Empty(t, env.list(t, tok, "lobby"))
}

func TestReact(t *testing.T) {
	env := newTestEnv(t)
	ann, annTok := env.token(t, "ann")
	bob, bobTok := env.token(t, "bob")

	sent := decodeSent(t, env.sendJSON(t, annTok, "lobby", dto.SendRequest{Text: "react to me"}))
	path := "/api/v1/rooms/lobby/messages/" + sent.MessageID.String() + "/reactions"

	react := func(tok, emoji string) int {
		b, _ := json.Marshal(dto.ReactRequest{Emoji: emoji})
		return env.do(t, http.MethodPut, path, tok, "application/json", bytes.NewReader(b)).StatusCode
	}

	assert.Equal(t, http.StatusOK, react(annTok, "😀"))
	assert.Equal(t, http.StatusOK, react(bobTok, "👍"))
	assert.Equal(t, http.StatusOK, react(annTok, "👍"))
	assert.Equal(t, http.StatusBadRequest, react(annTok, "🦄"))

	msgs := env.list(t, annTok, "lobby")
	require.Len(t, msgs, 1)
	assert.Len(t, msgs[0].Reactions, 2)
	for _, r := range msgs[0].Reactions {
		assert.Equal(t, "👍", r.Emoji)
		assert.Contains(t, []string{ann.ID.String(), bob.ID.String()}, r.UserID)
	}
	require.Len(t, msgs[0].ReactionGroups, 1)
	assert.Equal(t, 2, msgs[0].ReactionGroups[0].Count)

	b, _ := json.Marshal(dto.ReactRequest{Emoji: "👍"})
	resp := env.do(t, http.MethodPut, "/api/v1/rooms/lobby/messages/"+uuid.NewString()+"/reactions", annTok, "application/json", bytes.NewReader(b))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodPut, "/api/v1/rooms/lobby/messages/nope/reactions", annTok, "application/json", bytes.NewReader(b))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPalette(t *testing.T) {
	env := newTestEnv(t)
	_, tok := env.token(t, "ann")

	resp := env.do(t, http.MethodGet, "/api/v1/reactions/palette", tok, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Emojis []string `json:"emojis"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, []string{"😀", "❤️", "👍", "😂"}, out.Emojis)
}

func dial(t *testing.T, env *testEnv, room, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws?room=" + room + "&token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ ws.MessageType, data interface{}) {
	t.Helper()
	msg := map[string]interface{}{"type": typ}
	if data != nil {
		msg["data"] = data
	}
	require.NoError(t, conn.WriteJSON(msg))
}

// readSnapshot reads frames until a snapshot satisfies ok.
func readSnapshot(t *testing.T, conn *websocket.Conn, ok func(dto.SnapshotPayload) bool) dto.SnapshotPayload {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		var msg ws.Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == ws.TypeError {
			t.Fatalf("error frame: %s", msg.Data)
		}
		if msg.Type != ws.TypeSnapshot {
			continue
		}
		var snap dto.SnapshotPayload
		require.NoError(t, json.Unmarshal(msg.Data, &snap))
		if ok(snap) {
			return snap
		}
	}
}

func snapshotTexts(snap dto.SnapshotPayload) []string {
	out := make([]string, len(snap.Messages))
	for i, m := range snap.Messages {
		out[i] = m.Text
	}
	return out
}

func TestWebSocketViewsConverge(t *testing.T) {
	env := newTestEnv(t)
	_, annTok := env.token(t, "ann")
	_, bobTok := env.token(t, "bob")

	ann := dial(t, env, "lobby", annTok)
	bob := dial(t, env, "lobby", bobTok)

	readSnapshot(t, ann, func(s dto.SnapshotPayload) bool { return s.State == "live" })
	readSnapshot(t, bob, func(s dto.SnapshotPayload) bool { return s.State == "live" })

	send(t, ann, ws.TypeMessage, dto.ComposeTextPayload{Text: "hi"})
	readSnapshot(t, ann, func(s dto.SnapshotPayload) bool { return len(s.Messages) == 1 })
	send(t, bob, ws.TypeMessage, dto.ComposeTextPayload{Text: "yo"})

	want := []string{"hi", "yo"}
	annView := readSnapshot(t, ann, func(s dto.SnapshotPayload) bool { return len(s.Messages) == 2 })
	bobView := readSnapshot(t, bob, func(s dto.SnapshotPayload) bool { return len(s.Messages) == 2 })
	assert.Equal(t, want, snapshotTexts(annView))
	assert.Equal(t, want, snapshotTexts(bobView))
	assert.Equal(t, "lobby", annView.RoomID)

	// A reaction lands in place on both views.
	target := annView.Messages[0].ID
	send(t, bob, ws.TypeReact, dto.ReactPayload{MessageID: target, Emoji: "❤️"})
	reacted := readSnapshot(t, ann, func(s dto.SnapshotPayload) bool {
		return len(s.Messages) == 2 && len(s.Messages[0].Reactions) == 1
	})
	assert.Equal(t, "❤️", reacted.Messages[0].Reactions[0].Emoji)
	assert.Equal(t, want, snapshotTexts(reacted))
}

func TestWebSocketDraftSubmit(t *testing.T) {
	env := newTestEnv(t)
	_, tok := env.token(t, "ann")
	conn := dial(t, env, "lobby", tok)
	readSnapshot(t, conn, func(s dto.SnapshotPayload) bool { return s.State == "live" })

	send(t, conn, ws.TypeComposeText, dto.ComposeTextPayload{Text: "with a picture"})
	send(t, conn, ws.TypeComposeAttachment, dto.ComposeAttachmentPayload{Name: "cat.png", Data: pngBytes})
	send(t, conn, ws.TypeSubmit, nil)

	snap := readSnapshot(t, conn, func(s dto.SnapshotPayload) bool { return len(s.Messages) == 1 })
	assert.Equal(t, "with a picture", snap.Messages[0].Text)
	require.NotNil(t, snap.Messages[0].AttachmentURL)

	// The draft was cleared, so a second submit appends nothing.
	send(t, conn, ws.TypeSubmit, nil)
	send(t, conn, ws.TypeMessage, dto.ComposeTextPayload{Text: "marker"})
	snap = readSnapshot(t, conn, func(s dto.SnapshotPayload) bool { return len(s.Messages) >= 2 })
	assert.Equal(t, []string{"with a picture", "marker"}, snapshotTexts(snap))
}

func TestWebSocketRoomSwitch(t *testing.T) {
	env := newTestEnv(t)
	_, tok := env.token(t, "ann")
	decodeSent(t, env.sendJSON(t, tok, "other", dto.SendRequest{Text: "over here"}))

	conn := dial(t, env, "lobby", tok)
	readSnapshot(t, conn, func(s dto.SnapshotPayload) bool { return s.State == "live" && s.RoomID == "lobby" })

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": ws.TypeRoomJoin, "room_id": "other"}))
	snap := readSnapshot(t, conn, func(s dto.SnapshotPayload) bool { return s.RoomID == "other" && len(s.Messages) == 1 })
	assert.Equal(t, []string{"over here"}, snapshotTexts(snap))

	assert.Eventually(t, func() bool { return len(env.srv.Hub.RoomUsers("other")) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, env.srv.Hub.RoomUsers("lobby"))
}

func TestWebSocketRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws?room=lobby"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
