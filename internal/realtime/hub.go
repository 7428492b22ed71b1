// Package realtime рассылает подписчикам изменения профиля и смену календарного дня по WebSocket.
package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mmeshcher/gamehub-rewards/internal/calendar"
	"github.com/mmeshcher/gamehub-rewards/internal/model"
)

// Типы сообщений.
const (
	MessageProfile     = "profile"
	MessageDayRollover = "day_rollover"
)

const (
	sendBuffer = 16
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Message описывает сообщение подписчику.
type Message struct {
	Type     string         `json:"type"`
	Profile  *model.Profile `json:"profile,omitempty"`
	Day      string         `json:"day,omitempty"`
	TestMode bool           `json:"testMode,omitempty"`
}

// Subscriber представляет подписку одного соединения на изменения профиля.
type Subscriber struct {
	userID   string
	testMode bool
	send     chan Message
}

// C возвращает канал сообщений подписчика.
func (s *Subscriber) C() <-chan Message {
	return s.send
}

func (s *Subscriber) deliver(m Message) bool {
	select {
	case s.send <- m:
		return true
	default:
		return false
	}
}

// Hub хранит подписки по идентификатору пользователя.
type Hub struct {
	mu       sync.Mutex
	subs     map[string]map[*Subscriber]struct{}
	logger   *zap.Logger
	clock    calendar.Clock
	upgrader websocket.Upgrader
}

// NewHub создаёт пустой набор подписок.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:   make(map[string]map[*Subscriber]struct{}),
		logger: logger,
		clock:  calendar.System,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Subscribe регистрирует подписчика на профиль пользователя в обычном или тестовом режиме.
func (h *Hub) Subscribe(userID string, testMode bool) *Subscriber {
	s := &Subscriber{userID: userID, testMode: testMode, send: make(chan Message, sendBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*Subscriber]struct{})
	}
	h.subs[userID][s] = struct{}{}
	return s
}

// Unsubscribe удаляет подписчика.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.subs[s.userID]
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, s.userID)
	}
}

// Subscribers возвращает число подписок пользователя.
func (h *Hub) Subscribers(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}

// ProfileChanged отправляет профиль всем подпискам пользователя в том же режиме.
// Медленный подписчик пропускает сообщение, следующее всё равно содержит актуальный профиль.
func (h *Hub) ProfileChanged(userID string, p model.Profile, testMode bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.subs[userID] {
		if s.testMode != testMode {
			continue
		}
		p := p
		if !s.deliver(Message{Type: MessageProfile, Profile: &p, TestMode: testMode}) {
			h.logger.Warn("drop profile update for slow subscriber", zap.String("userID", userID))
		}
	}
}

// Session описывает подключающегося пользователя.
type Session struct {
	UserID   string
	TestMode bool
	Location *time.Location
	Initial  *model.Profile
}

// ServeWS переводит запрос на WebSocket и держит соединение до его закрытия клиентом
// или отмены контекста запроса. В каждую локальную полночь отправляется сообщение day_rollover.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, sess Session) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := h.Subscribe(sess.UserID, sess.TestMode)
	defer h.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if sess.Initial != nil {
		sub.deliver(Message{Type: MessageProfile, Profile: sess.Initial, TestMode: sess.TestMode})
	}

	scheduler := calendar.NewScheduler(sess.Location, h.clock, func(day string) {
		sub.deliver(Message{Type: MessageDayRollover, Day: day, TestMode: sess.TestMode})
	})
	go scheduler.Run(ctx)

	go func() {
		defer cancel()
		readLoop(conn)
	}()

	h.writeLoop(ctx, conn, sub)
}

// readLoop отбрасывает входящие сообщения и обновляет дедлайн чтения на каждый pong.
func readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, conn *websocket.Conn, sub *Subscriber) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case m := <-sub.C():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(m); err != nil {
				h.logger.Debug("websocket write", zap.String("userID", sub.userID), zap.Error(err))
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
