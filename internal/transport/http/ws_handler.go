package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"learnquest/internal/app"
	"learnquest/internal/logger"
	"github.com/gorilla/websocket"
)

// closeTimeout bounds the final flush of a pooled session after the socket drops.
const closeTimeout = 5 * time.Second

type WSHandler struct {
	service  *app.ProgressService
	log      *logger.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.ProgressService, log *logger.Logger) *WSHandler {
	return &WSHandler{
		service: service,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	Key          string `json:"key"`
	OriginQuizID string `json:"originQuizId"`
	OptionIndex  int    `json:"optionIndex"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS plays one session over a websocket: a "session" message with the
// questions, an "answerResult" per "answer", and a "sessionResult" on "finish".
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	quizID := r.URL.Query().Get("quizId")
	if username == "" || quizID == "" {
		http.Error(w, "missing username or quizId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sess, err := h.service.StartSession(r.Context(), username, quizID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	log := h.log.With("session", sess.ID(), "user", username, "quiz", quizID)
	defer func() {
		// The request context is gone once the peer disconnects.
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := sess.Close(ctx); err != nil {
			log.Error("close session", "error", err)
		}
	}()

	send := make(chan outboundMessage[any], 16)
	writerDone := make(chan struct{})

	// Only this goroutine writes to conn. A failed write closes conn so the
	// read loop below stops too.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Warn("ws write error", "error", err)
				conn.Close()
				return
			}
		}
	}()

	emit := func(msg outboundMessage[any]) bool {
		return deliver(send, writerDone, msg)
	}

	if !emit(outboundMessage[any]{Type: "session", Payload: newSessionView(sess)}) {
		return
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		var reply outboundMessage[any]
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				reply = errorMessage("invalid answer payload")
				break
			}
			result, err := sess.Answer(r.Context(), payload.OriginQuizID, payload.Key, payload.OptionIndex)
			if err != nil {
				reply = errorMessage(err.Error())
				break
			}
			reply = outboundMessage[any]{Type: "answerResult", Payload: newAnswerView(result)}
		case "finish":
			result, err := sess.Finish(r.Context())
			if err != nil {
				reply = errorMessage(err.Error())
				break
			}
			reply = outboundMessage[any]{Type: "sessionResult", Payload: result}
		default:
			reply = errorMessage("unsupported message type")
		}
		if !emit(reply) {
			break
		}
	}

	close(send)
	<-writerDone
}

// deliver queues msg for the writer. It reports false once the writer has
// exited, in which case msg is dropped.
func deliver(send chan<- outboundMessage[any], writerDone <-chan struct{}, msg outboundMessage[any]) bool {
	select {
	case <-writerDone:
		return false
	default:
	}
	select {
	case send <- msg:
		return true
	case <-writerDone:
		return false
	}
}

func errorMessage(msg string) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: msg}}
}
