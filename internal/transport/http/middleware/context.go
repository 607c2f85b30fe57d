package middleware

import (
	"context"

	"payrun/internal/domain/payroll"
	"payrun/internal/requestctx"
)

type ctxKey string

const ctxKeyActor ctxKey = "actor"

func WithActor(ctx context.Context, actor payroll.Actor) context.Context {
	return context.WithValue(ctx, ctxKeyActor, actor)
}

func GetActor(ctx context.Context) (payroll.Actor, bool) {
	actor, ok := ctx.Value(ctxKeyActor).(payroll.Actor)
	return actor, ok
}

func GetRequestID(ctx context.Context) string {
	return requestctx.GetRequestID(ctx)
}
