package dhan

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Vishtheendodoc/orderflow-new/internal/app"
	"github.com/Vishtheendodoc/orderflow-new/internal/model"
)

const (
	initialAuthBackoff = 5 * time.Second
	maxAuthBackoff     = 1800 * time.Second
	reconnectDelay     = 5 * time.Second
	idleRetryDelay     = 2 * time.Second
	subscribePace      = 100 * time.Millisecond
)

// SessionConfig configures the upstream session manager.
type SessionConfig struct {
	WSURL    string // e.g. wss://api-feed.dhan.co
	ClientID string
}

// Session owns the single outbound market-data socket. It subscribes the
// registered instruments in batches, dispatches frames to the decoder and
// router, and reconnects with differentiated backoff: a fixed 5 s for
// transient errors, exponential (5 s doubling to 1800 s) for auth failures
// with early wake on a token update.
type Session struct {
	cfg   SessionConfig
	state *app.State

	subPace *rate.Limiter

	mu          sync.Mutex
	authBackoff time.Duration
	connected   bool

	addCh chan []model.Instrument

	// RunSynthetic is invoked instead of the socket loop when credentials
	// are absent. Terminal until the process restarts with credentials.
	RunSynthetic func(ctx context.Context)

	// Hooks (optional).
	OnConnected  func(bool)
	OnReconnect  func()
	OnFrameError func()
}

// NewSession creates a session manager bound to the shared state.
func NewSession(cfg SessionConfig, state *app.State) *Session {
	return &Session{
		cfg:         cfg,
		state:       state,
		subPace:     rate.NewLimiter(rate.Every(subscribePace), 1),
		authBackoff: initialAuthBackoff,
		addCh:       make(chan []model.Instrument, 16),
	}
}

// AddInstruments queues a subscription delta for the live socket. When the
// socket is down the delta is ignored; the next connect subscribes the full
// registry anyway.
func (s *Session) AddInstruments(instruments []model.Instrument) {
	select {
	case s.addCh <- instruments:
	default:
	}
}

// AuthBackoff reports the current auth backoff, exposed in the health
// readout so an operator can see the session is waiting on a token.
func (s *Session) AuthBackoff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authBackoff
}

// Connected reports whether the upstream socket is currently up.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Run drives the session lifecycle until ctx is cancelled.
func (s *Session) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if s.state.EngineCount() == 0 {
			sleep(ctx, idleRetryDelay)
			continue
		}

		if s.cfg.ClientID == "" || s.state.Token() == "" {
			log.Println("[dhan] credentials not set, switching to synthetic feed")
			if s.RunSynthetic != nil {
				s.RunSynthetic(ctx)
			}
			return
		}

		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if s.OnReconnect != nil {
			s.OnReconnect()
		}

		if isAuthError(err) {
			s.waitForToken(ctx)
			continue
		}
		log.Printf("[dhan] session error: %v (reconnecting in %s)", err, reconnectDelay)
		sleep(ctx, reconnectDelay)
	}
}

// runOnce opens the socket, subscribes, and reads frames until the
// connection drops. The returned error classifies the disconnect.
func (s *Session) runOnce(ctx context.Context) error {
	u := fmt.Sprintf("%s?version=2&token=%s&clientId=%s&authType=2",
		s.cfg.WSURL, url.QueryEscape(s.state.Token()), url.QueryEscape(s.cfg.ClientID))

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("dial: authentication failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	log.Printf("[dhan] connected to %s", s.cfg.WSURL)
	s.setConnected(true)
	defer s.setConnected(false)

	// Handshake succeeded: the token works, reset the auth backoff.
	s.mu.Lock()
	s.authBackoff = initialAuthBackoff
	s.mu.Unlock()

	var writeMu sync.Mutex
	if err := s.subscribe(ctx, conn, &writeMu, s.state.Instruments()); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	// Watcher: closes the socket on ctx cancel and pushes subscription
	// deltas onto the live connection.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-watchDone:
				return
			case added := <-s.addCh:
				if err := s.subscribe(ctx, conn, &writeMu, added); err != nil {
					log.Printf("[dhan] delta subscribe: %v", err)
				}
			}
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		s.handleFrame(msgType, data)
	}
}

// subscribe sends the instrument list in paced batches of at most 100.
func (s *Session) subscribe(ctx context.Context, conn *websocket.Conn, writeMu *sync.Mutex, instruments []model.Instrument) error {
	if len(instruments) == 0 {
		return nil
	}
	msgs := buildSubscribeMessages(instruments)
	for _, msg := range msgs {
		if err := s.subPace.Wait(ctx); err != nil {
			return err
		}
		writeMu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, msg)
		writeMu.Unlock()
		if err != nil {
			return err
		}
	}
	log.Printf("[dhan] subscribed %d instruments in %d message(s)", len(instruments), len(msgs))
	return nil
}

// handleFrame dispatches one websocket message. Per-frame errors are logged
// and swallowed; nothing on this path aborts the session.
func (s *Session) handleFrame(msgType int, data []byte) {
	switch msgType {
	case websocket.BinaryMessage:
		ticks, err := Decode(data)
		if err != nil {
			log.Printf("[dhan] %v", err)
			if s.OnFrameError != nil {
				s.OnFrameError()
			}
		}
		for _, t := range ticks {
			s.state.Route(t)
		}
	case websocket.TextMessage:
		var info map[string]interface{}
		if json.Unmarshal(data, &info) != nil {
			return // not JSON, drop silently
		}
		log.Printf("[dhan] feed message: %s", data)
	}
}

// waitForToken blocks for the current auth backoff or until a token update
// arrives, whichever is first. A token update resets the backoff; a timeout
// doubles it up to the cap.
func (s *Session) waitForToken(ctx context.Context) {
	s.mu.Lock()
	backoff := s.authBackoff
	s.mu.Unlock()

	log.Printf("[dhan] authentication failure, backing off %s (or until token update)", backoff)

	timer := time.NewTimer(backoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-s.state.TokenUpdated():
		log.Println("[dhan] token updated, retrying immediately")
		s.mu.Lock()
		s.authBackoff = initialAuthBackoff
		s.mu.Unlock()
	case <-timer.C:
		s.mu.Lock()
		s.authBackoff *= 2
		if s.authBackoff > maxAuthBackoff {
			s.authBackoff = maxAuthBackoff
		}
		s.mu.Unlock()
	}
}

func (s *Session) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
	if s.OnConnected != nil {
		s.OnConnected(v)
	}
}

// isAuthError classifies a disconnect as operator-actionable auth failure.
func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range []string{
		"unauthorized",
		"invalid token",
		"token expired",
		"authentication failed",
		"rejected",
	} {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
