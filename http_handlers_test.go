package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/himanshub16/upnext-room/hub"
	"github.com/himanshub16/upnext-room/room"
	"github.com/labstack/echo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPlayer struct {
	mu    sync.Mutex
	calls []string
}

func (p *recordingPlayer) ListDevices(ctx context.Context) ([]string, error) {
	return []string{"speaker"}, nil
}

func (p *recordingPlayer) Play(ctx context.Context, deviceID, trackURI string, positionMs int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "play "+deviceID+" "+trackURI)
	return nil
}

func (p *recordingPlayer) Pause(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "pause")
	return nil
}

func (p *recordingPlayer) log() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

type testServer struct {
	service *ServiceImpl
	player  *recordingPlayer
	router  *echo.Echo
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	service := newTestService(t)
	player := &recordingPlayer{}
	radio := NewRadio(room.DefaultConfig(), service, player, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- radio.Start(ctx) }()
	t.Cleanup(func() {
		radio.Shutdown()
		cancel()
		assert.NoError(t, <-done)
	})

	return &testServer{
		service: service,
		player:  player,
		router:  NewHTTPRouter(service, radio, testSecret),
	}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) login(t *testing.T, userID, firstName string) string {
	t.Helper()
	form := url.Values{"user_id": {userID}, "firstname": {firstName}}
	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)

	rec := s.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := struct {
		Token     string `json:"token"`
		ExpiresAt int64  `json:"expires_at"`
	}{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	assert.Greater(t, resp.ExpiresAt, time.Now().Unix())
	return resp.Token
}

func (s *testServer) get(t *testing.T, path, token string, out interface{}) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := s.do(req)
	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

// queue fetches the queue without failing the test, for use in polling.
func (s *testServer) queue(token string) ([]queueItem, bool) {
	req := httptest.NewRequest(http.MethodGet, "/api/radio/queue", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := s.do(req)
	if rec.Code != http.StatusOK {
		return nil, false
	}
	resp := struct {
		Queue []queueItem `json:"queue"`
	}{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		return nil, false
	}
	return resp.Queue, true
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "I am up and running!", rec.Body.String())
}

func TestLoginRequiresUserIDField(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader("firstname=x"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	assert.Equal(t, http.StatusBadRequest, s.do(req).Code)
}

func TestRadioRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/api/radio/now_playing", "/api/radio/queue", "/api/radio/history"} {
		assert.NotEqual(t, http.StatusOK, s.get(t, path, "", nil), path)
	}
}

func TestRadioIdle(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "alice", "Alice")

	nowPlaying := map[string]interface{}{}
	require.Equal(t, http.StatusOK, s.get(t, "/api/radio/now_playing", token, &nowPlaying))
	assert.Equal(t, "idle", nowPlaying["state"])
	assert.Nil(t, nowPlaying["track"])

	queue, ok := s.queue(token)
	require.True(t, ok)
	assert.Empty(t, queue)

	history := struct {
		Plays []Play `json:"plays"`
	}{}
	require.Equal(t, http.StatusOK, s.get(t, "/api/radio/history?limit=5", token, &history))
	assert.Empty(t, history.Plays)
	assert.Equal(t, http.StatusBadRequest, s.get(t, "/api/radio/history?limit=zero", token, nil))
}

func TestPlayerTime(t *testing.T) {
	start := time.Unix(100, 0)
	np := &room.NowPlayingView{StartedAt: start.UnixNano() / int64(time.Millisecond), DurationMs: 60000}

	assert.EqualValues(t, 0, playerTime(np, start.Add(-time.Second)))
	assert.EqualValues(t, 12, playerTime(np, start.Add(12500*time.Millisecond)))
	assert.EqualValues(t, 60, playerTime(np, start.Add(5*time.Minute)))
}

type wsClient struct {
	t  *testing.T
	ws *websocket.Conn
}

func dialRoom(t *testing.T, srv *httptest.Server) *wsClient {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return &wsClient{t: t, ws: ws}
}

func (c *wsClient) send(event string, payload interface{}) {
	data, err := hub.Encode(event, payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.ws.WriteMessage(websocket.TextMessage, data))
}

// next reads exactly one message.
func (c *wsClient) next() hub.Message {
	c.t.Helper()
	c.ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg hub.Message
	require.NoError(c.t, c.ws.ReadJSON(&msg))
	return msg
}

// waitFor reads messages until one with the given event arrives.
func (c *wsClient) waitFor(event string, v interface{}) {
	c.t.Helper()
	c.ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg hub.Message
		require.NoError(c.t, c.ws.ReadJSON(&msg), "waiting for %s", event)
		if msg.Event == event {
			if v != nil {
				require.NoError(c.t, msg.Decode(v))
			}
			return
		}
	}
}

func TestWebsocketRoom(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "alice", "Alice")
	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)

	alice := dialRoom(t, srv)
	alice.send("join", map[string]string{"participantId": "alice"})

	var roster []room.RosterEntry
	alice.waitFor(room.EventRosterUpdated, &roster)
	assert.Equal(t, []room.RosterEntry{{ParticipantID: "alice"}}, roster)

	var cred room.CredentialView
	alice.waitFor(room.EventCredentialRefreshed, &cred)
	assert.Equal(t, "alice", parseClaims(t, cred.Token)["user_id"])

	alice.send("enqueue", map[string]interface{}{
		"track": room.Track{
			ID: "abc", URI: "spotify:track:abc", Name: "Song", DurationMs: 180000,
		},
	})
	var np *room.NowPlayingView
	alice.waitFor(room.EventNowPlaying, &np)
	require.NotNil(t, np)
	assert.Equal(t, "abc", np.TrackID)
	assert.Equal(t, "alice", np.SubmittedBy)

	assert.Eventually(t, func() bool {
		calls := s.player.log()
		return len(calls) == 1 && calls[0] == "play speaker spotify:track:abc"
	}, 2*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		plays, err := s.service.RecentPlays(context.Background(), 10)
		return err == nil && len(plays) == 1 && plays[0].TrackID == "abc"
	}, 2*time.Second, 10*time.Millisecond)

	nowPlaying := map[string]interface{}{}
	require.Equal(t, http.StatusOK, s.get(t, "/api/radio/now_playing", token, &nowPlaying))
	assert.Equal(t, "running", nowPlaying["state"])
	assert.Equal(t, "Alice", nowPlaying["submitted_by"].(map[string]interface{})["firstname"])
}

func TestWebsocketQueueVotes(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "alice", "Alice")
	s.login(t, "bob", "Bob")
	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)

	alice := dialRoom(t, srv)
	alice.send("join", map[string]string{"participantId": "alice"})
	alice.waitFor(room.EventCredentialRefreshed, nil)

	for _, id := range []string{"first", "second", "third"} {
		alice.send("enqueue", map[string]interface{}{
			"track": room.Track{ID: id, URI: "spotify:track:" + id, DurationMs: 60000},
		})
	}
	alice.send("vote", map[string]interface{}{"trackId": "third", "value": 5})

	assert.Eventually(t, func() bool {
		queue, ok := s.queue(token)
		if !ok || len(queue) != 2 {
			return false
		}
		return queue[0].TrackID == "third" && queue[0].MyVote == 5 &&
			queue[1].TrackID == "second" && queue[1].MyVote == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebsocketRejectsUnknownParticipant(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)

	mallory := dialRoom(t, srv)
	mallory.send("join", map[string]string{"participantId": "mallory"})
	mallory.waitFor(room.EventAdmissionRejected, nil)
}

func TestWebsocketRejectedConnectionStaysOutsideTheRoom(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "alice", "Alice")
	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)

	alice := dialRoom(t, srv)
	alice.send("join", map[string]string{"participantId": "alice"})
	alice.waitFor(room.EventCredentialRefreshed, nil)

	mallory := dialRoom(t, srv)
	mallory.send("join", map[string]string{"participantId": "mallory"})
	assert.Equal(t, room.EventAdmissionRejected, mallory.next().Event)

	for _, id := range []string{"a", "b"} {
		alice.send("enqueue", map[string]interface{}{
			"track": room.Track{ID: id, URI: "spotify:track:" + id, DurationMs: 60000},
		})
	}
	require.Eventually(t, func() bool {
		queue, ok := s.queue(token)
		return ok && len(queue) == 1 && queue[0].TrackID == "b"
	}, 2*time.Second, 10*time.Millisecond)

	// mallory claims to be alice; the vote is judged by mallory's connection
	mallory.send("vote", map[string]interface{}{"participantId": "alice", "trackId": "b", "value": -1})
	mallory.send("enqueue", map[string]interface{}{
		"participantId": "alice",
		"track":         room.Track{ID: "c", URI: "spotify:track:c"},
	})
	mallory.send("join", map[string]string{"participantId": "mallory"})

	// messages on one connection are handled in order, so the second
	// rejection proves the vote was processed, and no room event came first
	assert.Equal(t, room.EventAdmissionRejected, mallory.next().Event)

	queue, ok := s.queue(token)
	require.True(t, ok)
	require.Len(t, queue, 1)
	assert.Equal(t, "b", queue[0].TrackID)
	assert.Equal(t, map[string]int{"alice": 1}, queue[0].Votes)
	assert.Equal(t, 1, queue[0].MyVote)
}

func TestWebsocketTrackWithoutURIIsRefused(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "alice", "Alice")
	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)

	alice := dialRoom(t, srv)
	alice.send("join", map[string]string{"participantId": "alice"})
	alice.waitFor(room.EventCredentialRefreshed, nil)

	// no metadata resolver is configured, so the uri stays empty
	alice.send("enqueue", map[string]interface{}{"track": room.Track{ID: "bare"}})
	alice.send("join", map[string]string{"participantId": "alice"})
	alice.waitFor(room.EventRosterUpdated, nil)

	nowPlaying := map[string]interface{}{}
	require.Equal(t, http.StatusOK, s.get(t, "/api/radio/now_playing", token, &nowPlaying))
	assert.Equal(t, "idle", nowPlaying["state"])
	queue, ok := s.queue(token)
	require.True(t, ok)
	assert.Empty(t, queue)
	assert.Empty(t, s.player.log())
}
