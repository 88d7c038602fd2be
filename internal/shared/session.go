// Package shared holds the per-visitor session plumbing used by the HTTP layer.
package shared

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Notice is a one-time, non-blocking message for the visitor.
type Notice struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Notice kinds.
const (
	NoticeSuccess = "success"
	NoticeError   = "error"
)

// SessionManager orchestrates cookie based sessions backed by Redis.
type SessionManager struct {
	client     *redis.Client
	cookieName string
	secret     []byte
	ttl        time.Duration
	secure     bool
}

// Session holds the per-visitor state: the serialized workflow machine,
// pending notices and small string values such as the CSRF token.
type Session struct {
	ID       string
	values   map[string]string
	machine  json.RawMessage
	notices  []Notice
	previous string
	isNew    bool
	dirty    bool
	// machineSet marks a snapshot written by this request.
	machineSet bool
	destroyed  bool
}

type sessionPayload struct {
	Values  map[string]string `json:"values"`
	Machine json.RawMessage   `json:"machine,omitempty"`
	Notices []Notice          `json:"notices,omitempty"`
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(client *redis.Client, cookieName string, secret string, ttl time.Duration, secure bool) *SessionManager {
	return &SessionManager{
		client:     client,
		cookieName: cookieName,
		secret:     []byte(secret),
		ttl:        ttl,
		secure:     secure,
	}
}

// Load loads the session named by the request cookie, or starts a new one.
// Unknown, expired or unsigned ids never resurrect: a fresh id is issued
// instead.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sm.cookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return sm.newSession(), nil
		}
		return nil, err
	}
	id, ok := sm.verify(cookie.Value)
	if !ok {
		return sm.newSession(), nil
	}

	payload, err := sm.client.Get(ctx, sm.redisKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return sm.newSession(), nil
		}
		return nil, err
	}

	var stored sessionPayload
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, err
	}
	if stored.Values == nil {
		stored.Values = make(map[string]string)
	}
	return &Session{
		ID:      id,
		values:  stored.Values,
		machine: stored.Machine,
		notices: stored.Notices,
	}, nil
}

// Commit persists the session and writes cookie headers as needed.
func (sm *SessionManager) Commit(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	if sess == nil {
		return nil
	}

	if sess.destroyed {
		if err := sm.client.Del(ctx, sm.redisKey(sess.ID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		http.SetCookie(w, sm.cookie("", -1))
		return nil
	}

	if sess.previous != "" {
		if err := sm.client.Del(ctx, sm.redisKey(sess.previous)).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		sess.previous = ""
	}

	if sess.dirty || sess.isNew {
		if err := sm.save(ctx, sess); err != nil {
			return err
		}
		sess.dirty = false
		sess.isNew = false
		sess.machineSet = false
	}

	http.SetCookie(w, sm.cookie(sm.sign(sess.ID), 0))
	return nil
}

// save writes the session payload. When this request did not replace the
// workflow snapshot, the stored one is kept so a slower request on the same
// session cannot roll back a transition committed meanwhile.
func (sm *SessionManager) save(ctx context.Context, sess *Session) error {
	key := sm.redisKey(sess.ID)
	if sess.isNew || sess.machineSet {
		data, err := json.Marshal(sessionPayload{Values: sess.values, Machine: sess.machine, Notices: sess.notices})
		if err != nil {
			return err
		}
		return sm.client.Set(ctx, key, data, sm.ttl).Err()
	}

	txf := func(tx *redis.Tx) error {
		machine := sess.machine
		current, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var stored sessionPayload
			if json.Unmarshal(current, &stored) == nil {
				machine = stored.Machine
			}
		case !errors.Is(err, redis.Nil):
			return err
		}
		data, err := json.Marshal(sessionPayload{Values: sess.values, Machine: machine, Notices: sess.notices})
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, sm.ttl)
			return nil
		})
		return err
	}
	for attempt := 0; attempt < 3; attempt++ {
		err := sm.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return redis.TxFailedErr
}

// sign appends an HMAC of id to the cookie value.
func (sm *SessionManager) sign(id string) string {
	return id + "." + sm.mac(id)
}

func (sm *SessionManager) verify(value string) (string, bool) {
	id, sig, found := strings.Cut(value, ".")
	if !found || id == "" {
		return "", false
	}
	if !hmac.Equal([]byte(sig), []byte(sm.mac(id))) {
		return "", false
	}
	return id, true
}

func (sm *SessionManager) mac(id string) string {
	h := hmac.New(sha256.New, sm.secret)
	_, _ = h.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// Destroy marks the session for deletion.
func (sm *SessionManager) Destroy(sess *Session) {
	if sess == nil {
		return
	}
	sess.destroyed = true
}

// TTL exposes the configured session lifetime.
func (sm *SessionManager) TTL() time.Duration {
	return sm.ttl
}

// CookieName returns the cookie identifier used for sessions.
func (sm *SessionManager) CookieName() string {
	return sm.cookieName
}

func (sm *SessionManager) cookie(value string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     sm.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteStrictMode,
	}
	if maxAge == 0 {
		c.Expires = time.Now().Add(sm.ttl)
	}
	return c
}

// Set stores a key-value pair.
func (s *Session) Set(key, value string) {
	s.values[key] = value
	s.dirty = true
}

// Get retrieves a value.
func (s *Session) Get(key string) string {
	return s.values[key]
}

// Delete removes a value.
func (s *Session) Delete(key string) {
	delete(s.values, key)
	s.dirty = true
}

// Machine returns the stored workflow snapshot, if any.
func (s *Session) Machine() []byte {
	return s.machine
}

// SetMachine replaces the stored workflow snapshot.
func (s *Session) SetMachine(snapshot []byte) {
	s.machine = append(json.RawMessage(nil), snapshot...)
	s.machineSet = true
	s.dirty = true
}

// AddNotice queues a notice.
func (s *Session) AddNotice(n Notice) {
	s.notices = append(s.notices, n)
	s.dirty = true
}

// PopNotices returns and clears every queued notice.
func (s *Session) PopNotices() []Notice {
	if len(s.notices) == 0 {
		return nil
	}
	out := s.notices
	s.notices = nil
	s.dirty = true
	return out
}

// Renew moves the session to a fresh id, dropping the old one on commit.
// Call it whenever the session gains or loses privileges.
func (s *Session) Renew() {
	if !s.isNew {
		s.previous = s.ID
	}
	s.ID = uuid.NewString()
	delete(s.values, CSRFSessionKey)
	s.dirty = true
}

func (sm *SessionManager) newSession() *Session {
	return &Session{
		ID:     uuid.NewString(),
		values: make(map[string]string),
		isNew:  true,
		dirty:  true,
	}
}

func (sm *SessionManager) redisKey(id string) string {
	return "session:" + id
}

type sessionContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}
