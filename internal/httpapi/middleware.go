package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/safar/autoparts-store/internal/models"
	"github.com/sirupsen/logrus"
)

type ctxKeyLog struct{}
type ctxKeyActor struct{}

type responseRecorder struct {
	b      int
	status int
	w      http.ResponseWriter
}

func (r *responseRecorder) Header() http.Header { return r.w.Header() }

func (r *responseRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.w.Write(p)
	r.b += n
	return n, err
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.w.WriteHeader(statusCode)
}

// requestLogger tags each request with an id and logs it on completion.
func requestLogger(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", requestID)

			start := time.Now()
			rr := &responseRecorder{w: w}
			entry := log.WithFields(logrus.Fields{
				"http.req.path":   r.URL.Path,
				"http.req.method": r.Method,
				"http.req.id":     requestID,
			})

			defer func() {
				entry.WithFields(logrus.Fields{
					"http.resp.took_ms": int64(time.Since(start) / time.Millisecond),
					"http.resp.status":  rr.status,
					"http.resp.bytes":   rr.b,
				}).Info("request complete")
			}()

			ctx := context.WithValue(r.Context(), ctxKeyLog{}, logrus.FieldLogger(entry))
			next.ServeHTTP(rr, r.WithContext(ctx))
		})
	}
}

// Claims are issued by the auth service: sub is the user id, role is
// "customer" or "staff".
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// authenticate verifies the HS256 bearer token and puts the caller's Actor on
// the request context.
func authenticate(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := actorFromToken(r, secret)
			if !ok {
				respondError(w, r, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyActor{}, actor)
			if l, ok := ctx.Value(ctxKeyLog{}).(logrus.FieldLogger); ok {
				ctx = context.WithValue(ctx, ctxKeyLog{}, l.WithField("user_id", actor.UserID))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func actorFromToken(r *http.Request, secret []byte) (models.Actor, bool) {
	header := r.Header.Get("Authorization")
	tokenStr, found := strings.CutPrefix(header, "Bearer ")
	if !found || tokenStr == "" {
		return models.Actor{}, false
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return models.Actor{}, false
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return models.Actor{}, false
	}

	role := models.ActorRole(claims.Role)
	switch role {
	case "":
		role = models.RoleCustomer
	case models.RoleCustomer, models.RoleStaff:
	default:
		// system is never granted through a token
		return models.Actor{}, false
	}

	return models.Actor{UserID: userID, Role: role}, true
}

func requireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actorFrom(r).Role != models.RoleStaff {
			respondError(w, r, http.StatusForbidden, "forbidden", "staff only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func actorFrom(r *http.Request) models.Actor {
	actor, _ := r.Context().Value(ctxKeyActor{}).(models.Actor)
	return actor
}
