package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/towline/towline-backend/api/middleware"
	"github.com/towline/towline-backend/internal/requests"
)

func callerFrom(r *http.Request) requests.Caller {
	return requests.Caller{
		Role:    middleware.RoleFromContext(r.Context()),
		ActorID: middleware.ActorIDFromContext(r.Context()),
	}
}

func urlParam(r *http.Request, key string) string {
	return strings.TrimSpace(chi.URLParam(r, key))
}
