package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"

	"livequiz-service/internal/app"
	"livequiz-service/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Error kinds surfaced to clients. Messages are stable and user-safe;
// Details carries the underlying error only outside production.
const (
	errKindConnection = "connection"
	errKindAuth       = "auth"
	errKindGame       = "game"
	errKindQuiz       = "quiz"
	errKindPlayer     = "player"
	errKindServer     = "server"
)

type errorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type rosterPayload struct {
	Code        string               `json:"code"`
	Players     []domain.Participant `json:"players"`
	PlayerCount int                  `json:"playerCount"`
}

type joinedPayload struct {
	Code        string               `json:"code"`
	Title       string               `json:"title"`
	IsHost      bool                 `json:"isHost"`
	Players     []domain.Participant `json:"players"`
	PlayerCount int                  `json:"playerCount"`
}

type tickPayload struct {
	SecondsLeft int `json:"secondsLeft"`
}

type revealPayload struct {
	Correct int `json:"correct"`
}

type leaderboardPayload struct {
	Entries []domain.LeaderboardEntry `json:"entries"`
}

type gameOverPayload struct {
	Entries []domain.LeaderboardEntry `json:"entries"`
	Winner  string                    `json:"winner"`
}

type answerResultPayload struct {
	Awarded    int `json:"awarded"`
	TotalScore int `json:"totalScore"`
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerInbound struct {
	Option      int `json:"option"`
	SecondsLeft int `json:"secondsLeft"`
}

// WSHandler translates websocket frames into engine calls and engine results
// into room events. Moderator-only guards live here, not in the engine.
type WSHandler struct {
	engine        *app.Engine
	hub           *Hub
	upgrader      websocket.Upgrader
	exposeDetails bool

	mu   sync.Mutex
	open map[string]int // code -> index of the question still accepting answers
}

func NewWSHandler(engine *app.Engine, exposeDetails bool) *WSHandler {
	return &WSHandler{
		engine: engine,
		hub:    NewHub(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		exposeDetails: exposeDetails,
		open:          make(map[string]int),
	}
}

// ServeWS upgrades the request and wires the connection into a game session.
// Query params: code (game PIN), name (display name, "host" reserved for the
// moderator), team (optional team ID).
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	name := r.URL.Query().Get("name")
	if code == "" || name == "" {
		http.Error(w, "missing code or name", http.StatusBadRequest)
		return
	}
	teamID := 0
	if raw := r.URL.Query().Get("team"); raw != "" {
		if id, err := strconv.Atoi(raw); err == nil {
			teamID = id
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}

	connID := uuid.NewString()
	c := newClient(connID, code, name, conn)

	joined, err := h.engine.Join(r.Context(), code, name, teamID, connID)
	if err != nil {
		_ = conn.WriteJSON(event{Type: "error", Payload: h.errorFor(err)})
		_ = conn.Close()
		return
	}

	h.hub.Add(c)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for ev := range c.send {
			if err := c.conn.WriteJSON(ev); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	c.enqueue(event{Type: "joined", Payload: joinedPayload{
		Code:        joined.Code,
		Title:       joined.Title,
		IsHost:      joined.IsHost,
		Players:     joined.Players,
		PlayerCount: joined.PlayerCount,
	}})
	h.hub.Broadcast(code, event{Type: "roster", Payload: rosterPayload{
		Code:        joined.Code,
		Players:     joined.Players,
		PlayerCount: joined.PlayerCount,
	}})

	h.readLoop(c)

	h.hub.Remove(c)
	c.close()
	<-writerDone
	_ = conn.Close()

	res, err := h.engine.HandleDisconnect(context.Background(), connID)
	if err != nil {
		log.Printf("disconnect cleanup for %s: %v", code, err)
		return
	}
	if res != nil && !res.Removed {
		h.hub.Broadcast(code, event{Type: "roster", Payload: rosterPayload{
			Code:        res.Code,
			Players:     res.Players,
			PlayerCount: res.PlayerCount,
		}})
	}
}

func (h *WSHandler) readLoop(c *client) {
	for {
		var inbound inboundMessage
		if err := c.conn.ReadJSON(&inbound); err != nil {
			return
		}
		switch inbound.Type {
		case "start":
			h.handleStart(c)
		case "next":
			h.handleNext(c)
		case "answer":
			h.handleAnswer(c, inbound.Payload)
		case "disconnectAll":
			h.handleDisconnectAll(c)
		case "leave":
			h.handleLeave(c)
			return
		default:
			c.enqueue(event{Type: "error", Payload: errorPayload{Kind: errKindConnection, Message: "unsupported message type"}})
		}
	}
}

func (h *WSHandler) handleStart(c *client) {
	if !h.requireHost(c) {
		return
	}
	ctx := context.Background()

	count, err := h.engine.PlayerCount(ctx, c.code)
	if err != nil {
		c.enqueue(event{Type: "error", Payload: h.errorFor(err)})
		return
	}
	if count == 0 {
		c.enqueue(event{Type: "error", Payload: errorPayload{Kind: errKindGame, Message: "cannot start without players"}})
		return
	}

	res, err := h.engine.Start(ctx, c.code)
	if err != nil {
		c.enqueue(event{Type: "error", Payload: h.errorFor(err)})
		return
	}
	h.pushQuestion(c.code, res)
}

func (h *WSHandler) handleNext(c *client) {
	if !h.requireHost(c) {
		return
	}
	res, err := h.engine.Advance(context.Background(), c.code)
	if err != nil {
		c.enqueue(event{Type: "error", Payload: h.errorFor(err)})
		return
	}
	if res.Over {
		h.closeCode(c.code)
		h.hub.Broadcast(c.code, event{Type: "gameOver", Payload: gameOverPayload{
			Entries: res.Final,
			Winner:  res.Winner,
		}})
		return
	}
	h.pushQuestion(c.code, res)
}

func (h *WSHandler) handleAnswer(c *client, raw json.RawMessage) {
	var payload answerInbound
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.enqueue(event{Type: "error", Payload: errorPayload{Kind: errKindPlayer, Message: "invalid answer payload"}})
		return
	}
	// Once the deadline fires, answer frames for the closed question are
	// dropped here; the engine itself never rejects them.
	if !h.isOpen(c.code) {
		return
	}
	res, err := h.engine.SubmitAnswer(context.Background(), c.code, c.name, payload.Option, payload.SecondsLeft)
	if err != nil {
		c.enqueue(event{Type: "error", Payload: h.errorFor(err)})
		return
	}
	if res == nil {
		return
	}
	c.enqueue(event{Type: "answerResult", Payload: answerResultPayload{
		Awarded:    res.Awarded,
		TotalScore: res.TotalScore,
	}})
}

func (h *WSHandler) handleDisconnectAll(c *client) {
	if !h.requireHost(c) {
		return
	}
	res, err := h.engine.DisconnectAll(context.Background(), c.code)
	if err != nil {
		c.enqueue(event{Type: "error", Payload: h.errorFor(err)})
		return
	}
	for _, connID := range res.Evicted {
		h.hub.CloseConn(c.code, connID)
	}
	h.hub.Broadcast(c.code, event{Type: "roster", Payload: rosterPayload{Code: c.code, Players: nil, PlayerCount: 0}})
}

func (h *WSHandler) handleLeave(c *client) {
	res, err := h.engine.Leave(context.Background(), c.code, c.id)
	if err != nil {
		log.Printf("leave %s: %v", c.code, err)
		return
	}
	if res != nil && !res.Removed {
		h.hub.Broadcast(c.code, event{Type: "roster", Payload: rosterPayload{
			Code:        res.Code,
			Players:     res.Players,
			PlayerCount: res.PlayerCount,
		}})
	}
}

// pushQuestion fans the per-audience payloads out and arms the countdown.
// The question index rides along into the expiry callback so a settle that
// lost a race against an advance targets the question that actually expired.
func (h *WSHandler) pushQuestion(code string, res *app.AdvanceResult) {
	index := res.Host.Index
	h.openQuestion(code, index)
	h.hub.SendHost(code, event{Type: "question", Payload: res.Host})
	h.hub.BroadcastPlayers(code, event{Type: "question", Payload: res.Player})

	h.engine.Countdowns().Start(code, res.TimeLimitSec,
		func(secondsLeft int) {
			h.hub.Broadcast(code, event{Type: "tick", Payload: tickPayload{SecondsLeft: secondsLeft}})
		},
		func() {
			h.settle(code, index)
		},
	)
}

// settle runs on deadline expiry: close submissions for the question that
// expired, reveal its answer, publish the leaderboard. A stale expiry for a
// question the session has moved past is dropped.
func (h *WSHandler) settle(code string, questionIndex int) {
	if !h.closeQuestion(code, questionIndex) {
		return
	}
	res, err := h.engine.SettleQuestion(context.Background(), code, questionIndex)
	if err != nil {
		log.Printf("settle %s: %v", code, err)
		return
	}
	if res == nil {
		return
	}
	h.hub.Broadcast(code, event{Type: "reveal", Payload: revealPayload{Correct: res.Correct}})
	h.hub.Broadcast(code, event{Type: "leaderboard", Payload: leaderboardPayload{Entries: res.Leaderboard}})
}

func (h *WSHandler) requireHost(c *client) bool {
	if c.name != domain.HostName {
		c.enqueue(event{Type: "error", Payload: errorPayload{Kind: errKindAuth, Message: "moderator only"}})
		return false
	}
	return true
}

func (h *WSHandler) openQuestion(code string, index int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.open[code] = index
}

// closeQuestion closes submissions only if the given question is still the
// open one; a stale close must not gate the active question.
func (h *WSHandler) closeQuestion(code string, index int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.open[code]; ok && cur == index {
		delete(h.open, code)
		return true
	}
	return false
}

func (h *WSHandler) closeCode(code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.open, code)
}

func (h *WSHandler) isOpen(code string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.open[code]
	return ok
}

// errorFor maps engine errors onto the typed wire taxonomy.
func (h *WSHandler) errorFor(err error) errorPayload {
	p := errorPayload{Kind: errKindServer, Message: "internal error"}
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		p = errorPayload{Kind: errKindGame, Message: "no game for that code"}
	case errors.Is(err, domain.ErrInvalidState):
		p = errorPayload{Kind: errKindGame, Message: "action not allowed right now"}
	case errors.Is(err, domain.ErrQuizNotFound):
		p = errorPayload{Kind: errKindQuiz, Message: "no quiz for that code"}
	default:
		log.Printf("engine error: %v", err)
	}
	if h.exposeDetails {
		p.Details = err.Error()
	}
	return p
}
