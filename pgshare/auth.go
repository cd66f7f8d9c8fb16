package pgshare

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized names the failed-token-check error kind. TokenValidator
// reports only a bool, and the upgrade handler answers a failed check with
// HTTP 401; no function in pgshare returns this value.
var ErrUnauthorized = errors.New("unauthorized")

// TokenValidator is the pluggable predicate gating WebSocket upgrade. The
// core never parses JWT itself; it only calls Validate.
type TokenValidator interface {
	Validate(token string) bool
}

// ExtractToken recovers the bearer token from a request, preferring the
// Authorization header over the token query parameter.
func ExtractToken(r *http.Request) (string, bool) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		const prefix = "Bearer "
		if strings.HasPrefix(auth, prefix) {
			return strings.TrimPrefix(auth, prefix), true
		}
		return "", false
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok, true
	}
	return "", false
}

// StaticTokenValidator validates a bearer token by constant-time comparison
// against a shared secret loaded from a file, reloading it whenever the file
// changes on disk so a rotated secret takes effect without a server restart.
type StaticTokenValidator struct {
	logger Logger
	path   string

	mu     sync.RWMutex
	secret string

	watcher *fsnotify.Watcher
}

// NewStaticTokenValidator loads the shared secret from path and starts
// watching it for changes. Returns an error if the file cannot be read or a
// watcher cannot be established.
func NewStaticTokenValidator(logger Logger, path string) (*StaticTokenValidator, error) {
	v := &StaticTokenValidator{logger: logger, path: path}
	if err := v.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, logger.Errorf("failed to create token file watcher: %s", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, logger.Errorf("failed to watch token file %s: %s", path, err)
	}
	v.watcher = watcher
	go v.watchLoop()
	return v, nil
}

// NewStaticTokenValidatorFromSecret creates a validator around an in-memory
// secret, with no file to watch (used by tests and by callers who configure
// the secret directly rather than via a file).
func NewStaticTokenValidatorFromSecret(secret string) *StaticTokenValidator {
	return &StaticTokenValidator{secret: secret}
}

func (v *StaticTokenValidator) reload() error {
	b, err := os.ReadFile(v.path)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.secret = strings.TrimSpace(string(b))
	v.mu.Unlock()
	return nil
}

func (v *StaticTokenValidator) watchLoop() {
	for {
		select {
		case event, ok := <-v.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := v.reload(); err != nil {
					v.logger.WLogf("failed to reload token file %s: %s", v.path, err)
				} else {
					v.logger.ILogf("reloaded token file %s", v.path)
				}
			}
		case err, ok := <-v.watcher.Errors:
			if !ok {
				return
			}
			v.logger.WLogf("token file watcher error: %s", err)
		}
	}
}

// Close stops the file watcher, if any.
func (v *StaticTokenValidator) Close() error {
	if v.watcher != nil {
		return v.watcher.Close()
	}
	return nil
}

// Validate compares token against the current secret in constant time.
func (v *StaticTokenValidator) Validate(token string) bool {
	v.mu.RLock()
	secret := v.secret
	v.mu.RUnlock()
	if secret == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}

// JWTTokenValidator validates a bearer token as a JWT signed under key, with
// the claim shape a companion token-minting tool produces: subject = the
// tunnel's connection id, standard expiry.
type JWTTokenValidator struct {
	key         interface{}
	methods     []string
	connID      ConnID
	checkConnID bool
}

// NewJWTTokenValidator creates a validator that checks signature and
// expiration using one of the given signing methods (e.g. "HS256"). If
// connID is non-nil, the token's subject claim must also match it, binding a
// given JWT to a single tunnel connection id.
func NewJWTTokenValidator(key interface{}, methods []string, connID *ConnID) *JWTTokenValidator {
	v := &JWTTokenValidator{key: key, methods: methods}
	if connID != nil {
		v.connID = *connID
		v.checkConnID = true
	}
	return v
}

// Validate parses and verifies token as a JWT.
func (v *JWTTokenValidator) Validate(token string) bool {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.key, nil
	}, jwt.WithValidMethods(v.methods))
	if err != nil || !parsed.Valid {
		return false
	}
	if !v.checkConnID {
		return true
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return false
	}
	return sub == v.connID.String()
}
