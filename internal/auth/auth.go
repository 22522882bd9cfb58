package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/iurnickita/foodmart/internal/model"
	"github.com/iurnickita/foodmart/internal/token"
)

type Auth interface {
	Middleware(h http.Handler) http.Handler
}

const cookieUserToken = "foodmartUserToken"

type ctxKey struct{}

type auth struct {
	secret string
}

func NewAuth(secret string) Auth {
	return &auth{secret: secret}
}

func (a *auth) Middleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// кто вызывает
		actor, err := a.getActor(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		// передаём управление хендлеру
		h.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

// токен из заголовка Authorization, иначе из куки
func (a *auth) getActor(r *http.Request) (model.Actor, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return model.Actor{}, token.ErrInvalidToken
		}
		return token.Parse(a.secret, raw)
	}

	tokenCookie, err := r.Cookie(cookieUserToken)
	if err != nil {
		return model.Actor{}, err
	}
	return token.Parse(a.secret, tokenCookie.Value)
}

func WithActor(ctx context.Context, actor model.Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, actor)
}

func ActorFrom(ctx context.Context) (model.Actor, bool) {
	actor, ok := ctx.Value(ctxKey{}).(model.Actor)
	return actor, ok
}
