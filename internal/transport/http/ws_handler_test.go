package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"learnquest/internal/app"
	"learnquest/internal/domain"
	"learnquest/internal/infra/memory"
	"learnquest/internal/logger"
	"learnquest/internal/srs"
	"github.com/gorilla/websocket"
)

type testEnv struct {
	progress *memory.ProgressStore
	loader   *memory.StaticQuizLoader
	service  *app.ProgressService
	mux      *http.ServeMux
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	loader := memory.NewStaticQuizLoader(sampleQuizzes())
	progress := memory.NewProgressStore(nil)
	service := app.NewProgressService(
		progress,
		memory.NewDismissalStore(),
		memory.NewQuizRepository(loader, time.Minute),
		srs.NewEngine(srs.DefaultConfig()),
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/session", NewWSHandler(service, logger.Nop()).ServeWS)
	NewAPIHandler(service, logger.Nop()).Register(mux)
	return &testEnv{progress: progress, loader: loader, service: service, mux: mux}
}

func TestWebSocketQuizSession(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.mux)
	defer server.Close()

	conn := dial(t, server, "/ws/session?username=ana&quizId=quiz-1")
	defer conn.Close()

	_, payload := readNext(conn, t, "session")
	if questions, _ := payload["questions"].([]any); len(questions) != 2 {
		t.Fatalf("expected two questions, got %v", payload["questions"])
	}
	first := payload["questions"].([]any)[0].(map[string]any)
	if _, leaked := first["correctIndex"]; leaked {
		t.Fatalf("correct index must not be sent before answering")
	}

	send(t, conn, "answer", map[string]any{"key": "quiz-1_0", "optionIndex": 1})
	_, payload = readNext(conn, t, "answerResult")
	if payload["correct"] != true {
		t.Fatalf("expected correct answer, got %v", payload)
	}
	srsState := payload["srs"].(map[string]any)
	if srsState["difficultyLevel"] != float64(1) || srsState["nextReviewDate"] == nil {
		t.Fatalf("unexpected srs state %v", srsState)
	}

	send(t, conn, "answer", map[string]any{"key": "capital", "optionIndex": 0})
	_, payload = readNext(conn, t, "answerResult")
	if payload["correct"] != false || payload["correctIndex"] != float64(2) {
		t.Fatalf("expected wrong answer, got %v", payload)
	}

	send(t, conn, "answer", map[string]any{"key": "quiz-1_0", "optionIndex": 9})
	readNext(conn, t, "error")

	send(t, conn, "finish", nil)
	_, payload = readNext(conn, t, "sessionResult")
	earned, _ := payload["xpEarned"].(float64)
	// One of two questions solved: 20 base * 0.9 * 1.3 speed.
	if earned != 23 || payload["delta"] != earned || payload["completed"] != false {
		t.Fatalf("unexpected session result %v", payload)
	}

	record, ok, err := env.progress.Read(context.Background(), "ana", "quiz-1")
	if err != nil || !ok {
		t.Fatalf("read progress: ok=%v err=%v", ok, err)
	}
	if record.TotalTries != 1 || record.XP == nil || *record.XP != int(earned) {
		t.Fatalf("unexpected stored record %+v", record)
	}
	if q := record.Questions["capital"]; q.Answered || q.Attempts != 1 || q.LastAnswerCorrect {
		t.Fatalf("wrong answer not recorded: %+v", q)
	}
}

func TestWebSocketWrongPoolSession(t *testing.T) {
	env := newTestEnv(t)
	env.progress.Put("ana", "quiz-1", []byte(`{"questions":{"quiz-1_0":{"answered":true,"attempts":1,"lastAnswerCorrect":false}}}`))
	env.progress.Put("ana", "quiz-2", []byte(`{"questions":{"quiz-2_0":{"answered":true,"attempts":2,"lastAnswerCorrect":false}}}`))

	server := httptest.NewServer(env.mux)
	defer server.Close()
	conn := dial(t, server, "/ws/session?username=ana&quizId=wrong-pool")
	defer conn.Close()

	_, payload := readNext(conn, t, "session")
	if payload["pooled"] != true {
		t.Fatalf("expected pooled session, got %v", payload)
	}
	questions := payload["questions"].([]any)
	if len(questions) != 2 {
		t.Fatalf("expected two pooled questions, got %d", len(questions))
	}
	for _, raw := range questions {
		q := raw.(map[string]any)
		origin := q["origin"].(map[string]any)
		send(t, conn, "answer", map[string]any{
			"key":          q["key"],
			"originQuizId": origin["originQuizId"],
			"optionIndex":  1,
		})
		readNext(conn, t, "answerResult")
	}

	send(t, conn, "finish", nil)
	_, payload = readNext(conn, t, "sessionResult")
	if flushed, _ := payload["flushed"].([]any); len(flushed) != 2 {
		t.Fatalf("expected both origins flushed, got %v", payload["flushed"])
	}

	record, _, _ := env.progress.Read(context.Background(), "ana", "quiz-2")
	if q := record.Questions["quiz-2_0"]; !q.LastAnswerCorrect || q.Attempts != 3 {
		t.Fatalf("pooled answer not written back: %+v", q)
	}
}

func TestWebSocketRejectsEmptyPool(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.mux)
	defer server.Close()

	conn := dial(t, server, "/ws/session?username=ana&quizId=wrong-pool")
	defer conn.Close()
	_, payload := readNext(conn, t, "error")
	if payload["message"] != domain.ErrEmptyPool.Error() {
		t.Fatalf("unexpected error %v", payload)
	}
}

func TestWebSocketRequiresParams(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/session?quizId=quiz-1", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func dial(t *testing.T, server *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + path
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": typ, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s (%v)", expect, msg.Type, msg.Payload)
	}
	return msg.Type, msg.Payload
}

func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Basics",
			Questions: []domain.Question{
				{
					Prompt:       "What is 2 + 2?",
					Options:      []domain.Option{{Text: "3"}, {Text: "4"}, {Text: "5"}},
					CorrectIndex: 1,
				},
				{
					ID:           "capital",
					Prompt:       "Capital of France?",
					Options:      []domain.Option{{Text: "Rome"}, {Text: "Madrid"}, {Text: "Paris"}},
					CorrectIndex: 2,
				},
			},
		},
		"quiz-2": {
			ID:    "quiz-2",
			Title: "Colours",
			Questions: []domain.Question{
				{
					Prompt:       "Colour of the sky?",
					Options:      []domain.Option{{Text: "Green"}, {Text: "Blue"}},
					CorrectIndex: 1,
				},
			},
		},
		"quiz-3": {
			ID:    "quiz-3",
			Title: "Shapes",
			Questions: []domain.Question{
				{
					Prompt:       "Sides of a triangle?",
					Options:      []domain.Option{{Text: "3"}, {Text: "4"}},
					CorrectIndex: 0,
				},
			},
		},
	}
}

func TestDeliverStopsAfterWriterExits(t *testing.T) {
	send := make(chan outboundMessage[any], 1)
	writerDone := make(chan struct{})

	if !deliver(send, writerDone, errorMessage("first")) {
		t.Fatalf("expected delivery while the writer runs")
	}

	// The buffer is full and the writer is gone: a plain send would block forever.
	close(writerDone)
	returned := make(chan bool, 1)
	go func() { returned <- deliver(send, writerDone, errorMessage("second")) }()
	select {
	case ok := <-returned:
		if ok {
			t.Fatalf("message accepted after the writer exited")
		}
	case <-time.After(time.Second):
		t.Fatalf("deliver blocked after the writer exited")
	}
}
