package feedsearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
)

// HeaderUserID carries the authenticated requester id.  Requests without
// it are served as guests.
const HeaderUserID = "X-User-ID"

type ctxKeyRealIP struct{}

func ctxWithRealIP(ctx context.Context, r *http.Request) context.Context {
	return context.WithValue(ctx, ctxKeyRealIP{}, RealIP(r))
}

// GetRealIP returns the client address stored in ctx, or "".
func GetRealIP(ctx context.Context) string {
	ip, _ := ctx.Value(ctxKeyRealIP{}).(string)
	return ip
}

func RealIP(r *http.Request) string {
	if addr := r.Header.Get("X-Real-IP"); addr != "" {
		return addr
	} else if addr := r.Header.Get("X-Forwarded-For"); addr != "" {
		return addr
	}
	return r.RemoteAddr
}

type HandlerOption struct {
	Logger *slog.Logger
}

// Handler serves the search API over HTTP.
//
//	GET /search/tweets?content=&media_type=&people_follow=&limit=&page=
//	GET /search/users?content=&limit=&page=
type Handler struct {
	service *SearchService
	mux     *http.ServeMux
	logger  *slog.Logger
}

func NewHandler(service *SearchService, opt *HandlerOption) *Handler {
	if opt == nil {
		opt = &HandlerOption{}
	}

	h := &Handler{
		service: service,
		mux:     http.NewServeMux(),
		logger:  opt.Logger,
	}
	h.mux.HandleFunc("GET /search/tweets", h.serveTweets)
	h.mux.HandleFunc("GET /search/users", h.serveUsers)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx = ctxWithRealIP(ctx, r)
	ctx = ctxWithRequestID(ctx)
	r = r.WithContext(ctx)

	w.Header().Set("X-Request-ID", GetRequestID(ctx))

	debugLog(ctx, h.logger, "http request", "method", r.Method, "path", r.URL.Path, "realIP", GetRealIP(ctx))

	h.mux.ServeHTTP(w, r)
}

func (h *Handler) serveTweets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	params := r.URL.Query()

	q := SearchQuery{
		Content:   params.Get("content"),
		Requester: r.Header.Get(HeaderUserID),
	}

	var err error
	if q.Media, err = ParseMediaFilter(params.Get("media_type")); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	if q.FollowScope, err = parseBoolParam(params.Get("people_follow"), "people_follow"); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	if q.Page, q.Limit, err = parsePageParams(params.Get("page"), params.Get("limit")); err != nil {
		h.writeError(ctx, w, err)
		return
	}

	res, err := h.service.Search(ctx, q)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, res)
}

func (h *Handler) serveUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	params := r.URL.Query()

	q := UserQuery{
		Content:   params.Get("content"),
		Requester: r.Header.Get(HeaderUserID),
	}

	var err error
	if q.Page, q.Limit, err = parsePageParams(params.Get("page"), params.Get("limit")); err != nil {
		h.writeError(ctx, w, err)
		return
	}

	res, err := h.service.SearchUsers(ctx, q)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, res)
}

func parseBoolParam(s, name string) (bool, error) {
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", ErrInvalidQuery, name)
	}
	return b, nil
}

// parsePageParams parses page and limit.  Missing values are zero and get
// defaulted by the service.
func parsePageParams(page, limit string) (int, int, error) {
	var p, l int
	var err error
	if page != "" {
		if p, err = strconv.Atoi(page); err != nil {
			return 0, 0, fmt.Errorf("%w: page must be an integer", ErrInvalidQuery)
		}
	}
	if limit != "" {
		if l, err = strconv.Atoi(limit); err != nil {
			return 0, 0, fmt.Errorf("%w: limit must be an integer", ErrInvalidQuery)
		}
	}
	return p, l, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidQuery):
		status = http.StatusBadRequest
	case errors.Is(err, ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		errorLog(ctx, h.logger, "search request failed", "status", status, "err", err)
	}

	msg := err.Error()
	if status != http.StatusBadRequest {
		msg = http.StatusText(status)
	}
	h.writeJSON(ctx, w, status, errorResponse{Error: msg})
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		warnLog(ctx, h.logger, "failed to write response", "err", err)
	}
}
