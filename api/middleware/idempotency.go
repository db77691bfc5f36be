package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/orgplans-backend/api/responses"
	pkgerrors "github.com/angelmondragon/orgplans-backend/pkg/errors"
	"github.com/angelmondragon/orgplans-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/orgplans-backend/pkg/redis"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
	maxIdempotencyKey = 255

	defaultIdempotencyTTL = 24 * time.Hour
	// Cancellation replays are kept longer since clients retry it after gateway outages.
	criticalIdempotencyTTL = 7 * 24 * time.Hour
	// A reservation outlives any handler; gateway calls time out well before this.
	pendingTTL = 2 * time.Minute
)

const (
	stateInFlight = "in_flight"
	stateDone     = "done"
)

var (
	errReplayInFlight = pkgerrors.New(pkgerrors.CodeConflict, "a request with this Idempotency-Key is still being processed")
	errReplayMismatch = pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body")
)

// ReplayStore is the redis surface the replay cache needs.
type ReplayStore interface {
	pkgredis.IdempotencyStore
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

type idempotencyRoute struct {
	method  string
	pattern string
	ttl     time.Duration
}

var idempotencyRoutes = []idempotencyRoute{
	{method: http.MethodPost, pattern: "/api/v1/subscription/checkout", ttl: defaultIdempotencyTTL},
	{method: http.MethodPost, pattern: "/api/v1/subscription/portal", ttl: defaultIdempotencyTTL},
	{method: http.MethodPost, pattern: "/api/v1/subscription/cancel", ttl: criticalIdempotencyTTL},
}

type replayRecord struct {
	State       string `json:"state"`
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        string `json:"body,omitempty"`
}

// Idempotency makes the billing mutations safe to retry. The first request for
// an (organization, route, Idempotency-Key) reserves the key, runs, and stores
// its response; later ones replay it. A concurrent duplicate gets 409 while the
// first is still running, so a double-clicked checkout opens one session.
// Server errors release the reservation. ttl overrides the default retention.
func Idempotency(store ReplayStore, ttl time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			keepFor, ok := routeTTL(r.Method, routePattern(r))
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			if ttl > 0 && keepFor == defaultIdempotencyTTL {
				keepFor = ttl
			}
			ctx := r.Context()

			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			switch {
			case clientKey == "":
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			case len(clientKey) > maxIdempotencyKey:
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header too long"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			hash := hashBody(body)
			key := store.IdempotencyKey(replayScope(r), clientKey)

			reservation, _ := json.Marshal(replayRecord{State: stateInFlight, RequestHash: hash})
			won, err := store.SetNX(ctx, key, string(reservation), pendingTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
				return
			}
			if !won {
				replayExisting(ctx, store, key, hash, w, logg)
				return
			}

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			var captured bytes.Buffer
			ww.Tee(&captured)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			// Server-side failures are not replayed so the client can retry.
			if status >= http.StatusInternalServerError {
				if delErr := store.Del(context.WithoutCancel(ctx), key); delErr != nil {
					logError(ctx, logg, "release idempotency reservation", delErr)
				}
				return
			}
			done, _ := json.Marshal(replayRecord{
				State:       stateDone,
				RequestHash: hash,
				Status:      status,
				ContentType: ww.Header().Get("Content-Type"),
				Body:        base64.StdEncoding.EncodeToString(captured.Bytes()),
			})
			if setErr := store.Set(context.WithoutCancel(ctx), key, string(done), keepFor); setErr != nil {
				logError(ctx, logg, "persist idempotency record", setErr)
			}
		})
	}
}

func replayExisting(ctx context.Context, store ReplayStore, key, hash string, w http.ResponseWriter, logg *logger.Logger) {
	stored, err := store.Get(ctx, key)
	if err != nil && !errors.Is(err, redis.Nil) {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read idempotency record"))
		return
	}
	if stored == "" {
		// the reservation expired between SETNX and GET
		responses.WriteError(ctx, logg, w, errReplayInFlight)
		return
	}
	var record replayRecord
	if err := json.Unmarshal([]byte(stored), &record); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	switch {
	case record.RequestHash != hash:
		responses.WriteError(ctx, logg, w, errReplayMismatch)
	case record.State != stateDone:
		responses.WriteError(ctx, logg, w, errReplayInFlight)
	default:
		writeReplay(w, record)
	}
}

func writeReplay(w http.ResponseWriter, record replayRecord) {
	if record.ContentType != "" {
		w.Header().Set("Content-Type", record.ContentType)
	}
	w.Header().Set(replayedHeader, "true")
	w.WriteHeader(record.Status)
	if decoded, err := base64.StdEncoding.DecodeString(record.Body); err == nil {
		_, _ = w.Write(decoded)
	}
}

func replayScope(r *http.Request) string {
	return OrganizationIDFromContext(r.Context()).String() + "|" + r.Method + "|" + r.URL.Path
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base64.RawStdEncoding.EncodeToString(sum[:])
}

// routePattern prefers the matched chi pattern. Inside a sub-router the
// pattern is still the mount wildcard until the route matches.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" && !strings.HasSuffix(pattern, "*") {
			return pattern
		}
	}
	return strings.TrimSuffix(r.URL.Path, "/")
}

func routeTTL(method, pattern string) (time.Duration, bool) {
	for _, route := range idempotencyRoutes {
		if route.method == method && route.pattern == pattern {
			return route.ttl, true
		}
	}
	return 0, false
}

func logError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil || err == nil {
		return
	}
	logg.Error(ctx, msg, err)
}
