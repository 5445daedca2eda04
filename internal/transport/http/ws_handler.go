package http

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quiz-offline-service/internal/app"
	"quiz-offline-service/internal/domain"
)

type WSHandler struct {
	service  *app.ProgressService
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.ProgressService, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		service: service,
		logger:  logger,
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

type selectPayload struct {
	QuestionID string `json:"questionId"`
	AnswerID   string `json:"answerId"`
}

type submitPayload struct {
	QuestionID string   `json:"questionId"`
	Selected   []string `json:"selected"`
}

type resetPayload struct {
	QuestionID string `json:"questionId"`
}

type joinedPayload struct {
	UserID string       `json:"userId"`
	Stats  domain.Stats `json:"stats"`
}

type answerResult struct {
	QuestionID string `json:"questionId"`
	Correct    bool   `json:"correct"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// ServeWS upgrades HTTP requests to websockets and wires them into the progress use cases.
// Every mutation, from this socket or any other surface, is pushed as a "progress" message.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	updates, cancel, err := h.service.Subscribe(r.Context(), userID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancel()

	// the first update is the snapshot; it becomes the joined payload
	snapshot := <-updates

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("ws write failed", zap.String("user", userID), zap.Error(err))
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "joined", Payload: joinedPayload{UserID: userID, Stats: snapshot.Stats}}

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "progress", Payload: update}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		send <- h.dispatch(r, userID, inbound)
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func wsError(message string) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: message}}
}

func (h *WSHandler) dispatch(r *http.Request, userID string, inbound inboundMessage) outboundMessage[any] {
	ctx := r.Context()
	switch inbound.Type {
	case "select":
		var payload selectPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return wsError("invalid select payload")
		}
		sel, err := h.service.Select(ctx, userID, payload.QuestionID, payload.AnswerID)
		if err != nil {
			return wsError(err.Error())
		}
		return outboundMessage[any]{Type: "selection", Payload: sel}
	case "submit":
		var payload submitPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return wsError("invalid submit payload")
		}
		correct, err := h.service.SubmitByID(ctx, userID, payload.QuestionID, payload.Selected)
		if err != nil {
			return wsError(err.Error())
		}
		return outboundMessage[any]{Type: "answerResult", Payload: answerResult{
			QuestionID: payload.QuestionID,
			Correct:    correct,
		}}
	case "reset":
		var payload resetPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return wsError("invalid reset payload")
		}
		sel, err := h.service.Reset(ctx, userID, payload.QuestionID)
		if err != nil {
			return wsError(err.Error())
		}
		return outboundMessage[any]{Type: "selection", Payload: sel}
	case "stats":
		stats, err := h.service.Stats(ctx, userID)
		if err != nil {
			return wsError(err.Error())
		}
		return outboundMessage[any]{Type: "stats", Payload: stats}
	default:
		return wsError("unsupported message type")
	}
}
