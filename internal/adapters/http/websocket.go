package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/nearby/internal/core/domain"
	"github.com/samirrijal/nearby/internal/core/usecases"
	"github.com/samirrijal/nearby/internal/pkg/metrics"
)

const (
	wsPingInterval  = 30 * time.Second
	wsWriteTimeout  = 10 * time.Second
	wsReadLimit     = 16 << 10
	wsOutboxLimit   = 256
	snapshotTimeout = 5 * time.Second
)

// Client messages. Every frame is a JSON object with a "type" field; the
// rest of the object is decoded into the payload type of that message.
//
//	{"type":"watch","category":"subway"}
//	{"type":"location","lat":43.263,"lon":-2.935,"accuracy":12}
//	{"type":"orientation","degrees":87.5}
//	{"type":"refresh","category":"subway","force":true}
type wsEnvelope struct {
	Type string `json:"type" validate:"required,oneof=watch unwatch location orientation sensors scroll refresh cancel snapshot"`
}

type wsWatch struct {
	Category string `json:"category" validate:"required,oneof=bus subway bike route_stop"`
	Scope    string `json:"scope" validate:"max=128"`
}

// wsTarget names one watched key, or every key of the session when
// Category is empty.
type wsTarget struct {
	Category string `json:"category" validate:"omitempty,oneof=bus subway bike route_stop"`
	Scope    string `json:"scope" validate:"max=128"`
	Force    bool   `json:"force"`
}

type wsLocation struct {
	Lat      *float64  `json:"lat" validate:"required,min=-90,max=90"`
	Lon      *float64  `json:"lon" validate:"required,min=-180,max=180"`
	Accuracy float64   `json:"accuracy" validate:"min=0"`
	Altitude float64   `json:"altitude"`
	Time     time.Time `json:"time"`
	Provider string    `json:"provider" validate:"max=32"`
}

type wsOrientation struct {
	Degrees *float64 `json:"degrees" validate:"required,min=0,max=360"`
}

type wsSensors struct {
	Gravity     *[3]float64 `json:"gravity" validate:"required"`
	Geomagnetic *[3]float64 `json:"geomagnetic" validate:"required"`
}

type wsScroll struct {
	State string `json:"state" validate:"required,oneof=idle scrolling touch fling"`
}

// wsServerMessage is every frame the server sends.
type wsServerMessage struct {
	Type    string               `json:"type"` // session | watching | unwatched | update | snapshot | error
	Session string               `json:"session,omitempty"`
	Key     *domain.QueryKey     `json:"key,omitempty"`
	Result  *domain.SearchResult `json:"result,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// WebSocketHandler binds one connection to one engine session. Updates of
// every watched key are pushed as they happen; a slow client only ever has
// the latest update of each key pending.
func WebSocketHandler(deps *Dependencies) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		userID, _ := c.Locals(localUserID).(string)
		log := slog.Default().With("remote", c.RemoteAddr().String())

		out := newWSOutbox()
		sess := deps.Nearby.OpenSession(userID, func(r domain.SearchResult) {
			out.push(wsServerMessage{Type: "update", Key: &r.Key, Result: &r})
		})
		log = log.With("session", sess.ID)
		log.Info("ws session opened", "user", userID != "")

		done := make(chan struct{})
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			wsWriteLoop(c, out, done, log)
			out.close()
			select {
			case <-done:
			default:
				// The writer gave up on its own; unblock the reader.
				_ = c.Close()
			}
		}()

		defer func() {
			sess.Close()
			close(done)
			<-writerDone
			_ = c.Close()
			log.Info("ws session closed")
		}()

		out.push(wsServerMessage{Type: "session", Session: sess.ID})

		c.SetReadLimit(wsReadLimit)
		for {
			_, frame, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn("ws read failed", "error", err)
				}
				return
			}
			reply, err := handleWSFrame(sess, frame)
			if err != nil {
				reply = &wsServerMessage{Type: "error", Error: wsErrorText(err)}
			}
			if reply != nil && !out.push(*reply) {
				log.Warn("ws client not reading, closing", "pending", wsOutboxLimit)
				return
			}
		}
	}
}

// handleWSFrame applies one client frame to the session and returns the
// direct reply, if the message has one.
func handleWSFrame(sess *usecases.Session, frame []byte) (*wsServerMessage, error) {
	var env wsEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, errors.New("invalid JSON")
	}
	if err := validate.Struct(env); err != nil {
		return nil, err
	}
	metrics.WSMessages.WithLabelValues("in", env.Type).Inc()

	switch env.Type {
	case "watch":
		var m wsWatch
		if err := decodeWS(frame, &m); err != nil {
			return nil, err
		}
		key, err := sess.Watch(domain.Category(m.Category), m.Scope)
		if err != nil {
			return nil, err
		}
		return &wsServerMessage{Type: "watching", Key: &key}, nil

	case "unwatch":
		var m wsWatch
		if err := decodeWS(frame, &m); err != nil {
			return nil, err
		}
		key := domain.QueryKey{Session: sess.ID, Category: domain.Category(m.Category), Scope: m.Scope}
		if err := sess.Unwatch(key); err != nil {
			return nil, err
		}
		return &wsServerMessage{Type: "unwatched", Key: &key}, nil

	case "location":
		var m wsLocation
		if err := decodeWS(frame, &m); err != nil {
			return nil, err
		}
		at := m.Time
		if at.IsZero() {
			at = time.Now()
		}
		sess.OnLocationChanged(domain.Location{
			Lat:      *m.Lat,
			Lon:      *m.Lon,
			Accuracy: m.Accuracy,
			Altitude: m.Altitude,
			Time:     at,
			Provider: m.Provider,
		})

	case "orientation":
		var m wsOrientation
		if err := decodeWS(frame, &m); err != nil {
			return nil, err
		}
		sess.OnOrientationChanged(*m.Degrees)

	case "sensors":
		var m wsSensors
		if err := decodeWS(frame, &m); err != nil {
			return nil, err
		}
		sess.OnSensorSamples(*m.Gravity, *m.Geomagnetic)

	case "scroll":
		var m wsScroll
		if err := decodeWS(frame, &m); err != nil {
			return nil, err
		}
		st, err := domain.ParseScrollState(m.State)
		if err != nil {
			return nil, err
		}
		sess.OnScrollStateChanged(st)

	case "refresh", "cancel":
		var m wsTarget
		if err := decodeWS(frame, &m); err != nil {
			return nil, err
		}
		key := m.key(sess.ID)
		if env.Type == "refresh" {
			return nil, sess.Refresh(key, m.Force)
		}
		return nil, sess.Cancel(key)

	case "snapshot":
		var m wsWatch
		if err := decodeWS(frame, &m); err != nil {
			return nil, err
		}
		key := domain.QueryKey{Session: sess.ID, Category: domain.Category(m.Category), Scope: m.Scope}
		ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
		defer cancel()
		res, err := sess.Snapshot(ctx, key)
		if err != nil {
			return nil, err
		}
		return &wsServerMessage{Type: "snapshot", Key: &key, Result: &res}, nil
	}
	return nil, nil
}

func (t wsTarget) key(session string) *domain.QueryKey {
	if t.Category == "" {
		return nil
	}
	return &domain.QueryKey{Session: session, Category: domain.Category(t.Category), Scope: t.Scope}
}

func decodeWS(frame []byte, v any) error {
	if err := json.Unmarshal(frame, v); err != nil {
		return errors.New("invalid payload: " + err.Error())
	}
	return validate.Struct(v)
}

func wsErrorText(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return validationMessage(verrs)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return err.Error()
}

// wsWriteLoop owns all writes to the connection.
func wsWriteLoop(c *websocket.Conn, out *wsOutbox, done <-chan struct{}, log *slog.Logger) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-out.wake:
			for _, msg := range out.drain() {
				data, err := json.Marshal(msg)
				if err != nil {
					log.Error("ws encode failed", "type", msg.Type, "error", err)
					continue
				}
				_ = c.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
					log.Debug("ws write failed", "error", err)
					return
				}
				metrics.WSMessages.WithLabelValues("out", msg.Type).Inc()
			}
		case <-ping.C:
			_ = c.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// wsOutbox queues frames for the writer. A queued update is replaced in
// place by a newer update of the same key. At most wsOutboxLimit frames
// are pending.
type wsOutbox struct {
	mu      sync.Mutex
	queue   []wsServerMessage
	updates map[domain.QueryKey]int // key -> index in queue
	closed  bool
	wake    chan struct{}
}

func newWSOutbox() *wsOutbox {
	return &wsOutbox{
		updates: make(map[domain.QueryKey]int),
		wake:    make(chan struct{}, 1),
	}
}

// push queues msg. It reports false, dropping msg, when the outbox is
// closed or full.
func (o *wsOutbox) push(msg wsServerMessage) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	if msg.Type == "update" && msg.Key != nil {
		if i, ok := o.updates[*msg.Key]; ok {
			o.queue[i] = msg
			o.mu.Unlock()
			return true
		}
	}
	if len(o.queue) >= wsOutboxLimit {
		o.mu.Unlock()
		return false
	}
	if msg.Type == "update" && msg.Key != nil {
		o.updates[*msg.Key] = len(o.queue)
	}
	o.queue = append(o.queue, msg)
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
	return true
}

// close drops everything pending and refuses further frames.
func (o *wsOutbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.queue = nil
	clear(o.updates)
}

func (o *wsOutbox) drain() []wsServerMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	q := o.queue
	o.queue = nil
	clear(o.updates)
	return q
}
