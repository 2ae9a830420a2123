package controllers

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/towline/towline-backend/api/middleware"
	"github.com/towline/towline-backend/pkg/enums"
	"github.com/towline/towline-backend/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func asActor(req *http.Request, role enums.ActorRole, actorID uuid.UUID) *http.Request {
	return req.WithContext(middleware.WithIdentity(req.Context(), uuid.NewString(), actorID, role))
}

// withURLParam sets a chi path parameter without routing the request.
func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(req.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	}
	rctx.URLParams.Add(key, value)
	return req
}
