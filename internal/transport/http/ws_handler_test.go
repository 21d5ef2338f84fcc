package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chat-quiz-service/internal/app"
	"chat-quiz-service/internal/domain"
	"chat-quiz-service/internal/infra/memory"
	"github.com/gorilla/websocket"
)

func TestWebSocketQuizFlow(t *testing.T) {
	server, attempts := newTestServer(t)

	alice := dial(t, server, "chat-1", "u1", "Alice")
	bob := dial(t, server, "chat-1", "u2", "Bob")
	// a round trip proves both connections are registered with the hub
	for _, conn := range []*websocket.Conn{alice, bob} {
		send(t, conn, "state", nil)
		readUntil(t, conn, "error")
	}

	send(t, alice, "start", map[string]any{"quizId": "quiz-1"})

	state := readUntil(t, alice, "state")
	if state["status"] != string(domain.StatusActive) {
		t.Fatalf("expected active session, got %v", state)
	}
	if participants, _ := state["participants"].([]any); len(participants) != 2 {
		t.Fatalf("expected both connected users to play, got %v", state["participants"])
	}

	for _, conn := range []*websocket.Conn{alice, bob} {
		question := readUntil(t, conn, "question")
		if question["text"] != "What is 2 + 2?" {
			t.Fatalf("unexpected question: %v", question)
		}
		if _, leaked := question["correctOption"]; leaked {
			t.Fatalf("question leaks the correct option: %v", question)
		}
	}

	send(t, alice, "answer", map[string]any{"questionIndex": 0, "option": 1})
	result := readUntil(t, alice, "answerResult")
	if result["correct"] != true || result["scoreDelta"] != float64(1) {
		t.Fatalf("unexpected answer result: %v", result)
	}

	send(t, bob, "answer", map[string]any{"questionIndex": 0, "option": 0})
	readUntil(t, bob, "answerResult")

	final := readUntil(t, alice, "result")
	if list, _ := final["attempts"].([]any); len(list) != 2 {
		t.Fatalf("expected two attempts in result, got %v", final)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(attempts.Attempts()) != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("attempts were not persisted")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebSocketReportsUserFacingErrors(t *testing.T) {
	server, _ := newTestServer(t)
	conn := dial(t, server, "chat-2", "u1", "Alice")

	send(t, conn, "pause", nil)
	if msg := readUntil(t, conn, "error"); msg["message"] != domain.ErrSessionNotFound.Error() {
		t.Fatalf("unexpected error: %v", msg)
	}

	send(t, conn, "start", map[string]any{"quizId": "missing"})
	if msg := readUntil(t, conn, "error"); msg["message"] != domain.ErrQuizNotFound.Error() {
		t.Fatalf("unexpected error: %v", msg)
	}

	send(t, conn, "dance", nil)
	if msg := readUntil(t, conn, "error"); msg["message"] != "unsupported message type" {
		t.Fatalf("unexpected error: %v", msg)
	}
}

func TestWebSocketRequiresIdentity(t *testing.T) {
	handler := NewWSHandler(nil, NewHub(nil), nil)
	rec := httptest.NewRecorder()
	handler.ServeWS(rec, httptest.NewRequest(http.MethodGet, "/ws?chatId=c1", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHubDropsForSlowClients(t *testing.T) {
	hub := NewHub(nil)
	c := hub.register("chat", domain.Participant{ID: "u1"})
	for i := 0; i < clientBuffer+5; i++ {
		hub.broadcast("chat", outboundMessage[any]{Type: "question"})
	}
	if len(c.send) != clientBuffer {
		t.Fatalf("expected a full buffer, got %d", len(c.send))
	}
	hub.unregister(c)
	hub.unregister(c)
	if got := hub.Participants("chat"); len(got) != 0 {
		t.Fatalf("expected no participants, got %v", got)
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *memory.AttemptStore) {
	t.Helper()
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(sampleQuiz()), time.Minute)
	attempts := memory.NewAttemptStore()
	hub := NewHub(nil)
	dispatcher := app.NewDispatcher(hub, 2, 64, nil)
	engine := app.NewEngine(app.NewRegistry(10, nil, nil), quizzes, attempts, dispatcher, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", NewWSHandler(engine, hub, nil).ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		server.Close()
		dispatcher.Close()
	})
	return server, attempts
}

func dial(t *testing.T, server *httptest.Server, chatID, userID, name string) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + "/ws?chatId=" + chatID + "&userId=" + userID + "&name=" + name
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	msg := map[string]any{"type": typ}
	if payload != nil {
		msg["payload"] = payload
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// readUntil skips messages of other types; chat broadcasts and direct replies interleave.
func readUntil(t *testing.T, conn *websocket.Conn, expect string) map[string]any {
	t.Helper()
	for i := 0; i < 10; i++ {
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read json waiting for %s: %v", expect, err)
		}
		if msg.Type != expect {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			t.Fatalf("decode %s payload: %v", expect, err)
		}
		return payload
	}
	t.Fatalf("no %s message received", expect)
	return nil
}

func sampleQuiz() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID: "quiz-1",
			Questions: []domain.Question{
				{
					Text:          "What is 2 + 2?",
					Options:       []string{"3", "4", "5"},
					CorrectOption: 1,
					Points:        1,
				},
			},
		},
	}
}
