package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"safetunes/internal/approval"
	"safetunes/internal/metrics"
	"safetunes/internal/middleware"
	"safetunes/internal/models"
	"safetunes/internal/moderation"
	"safetunes/internal/notify"
	"safetunes/internal/repository"
	"safetunes/internal/reviewer"
)

var secret = []byte("handler-test-secret-0123")

type fakeModeration struct {
	err error
}

func (f *fakeModeration) GetOrFetchLyrics(_ context.Context, track, artist string) (*moderation.LyricsResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &moderation.LyricsResult{Track: track, Artist: artist, Lyrics: "la la la"}, nil
}

func (f *fakeModeration) SaveManualLyrics(_ context.Context, track, artist, text string) (*moderation.LyricsResult, error) {
	return &moderation.LyricsResult{Track: track, Artist: artist, Lyrics: text}, nil
}

func (f *fakeModeration) GetOrCreateReview(_ context.Context, target moderation.SongTarget) (*moderation.ReviewResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &moderation.ReviewResult{Review: &models.SongReview{Summary: "fine", OverallRating: models.RatingClean}}, nil
}

func (f *fakeModeration) ReviewAlbum(_ context.Context, target moderation.AlbumTarget) (*moderation.AlbumResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &moderation.AlbumResult{Overview: &models.AlbumOverview{Summary: "fine", Recommendation: models.AlbumLikelySafe}}, nil
}

func (f *fakeModeration) GetCacheStats(_ context.Context, topN int) (*models.CacheStats, error) {
	return &models.CacheStats{TotalEntries: 4, TotalReuse: 4, HitRate: 0.5, TopReused: []*models.ModerationCacheEntry{}}, nil
}

func (f *fakeModeration) Recommend(_ context.Context, in reviewer.RecommendationInput) ([]models.Recommendation, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	return []models.Recommendation{{Track: "Here Comes the Sun", Artist: "The Beatles"}}, true, nil
}

func (f *fakeModeration) Search(_ context.Context, in reviewer.SearchInput) ([]models.SearchResult, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	return []models.SearchResult{{Track: "Octopus's Garden", Artist: "The Beatles"}}, false, nil
}

type testServer struct {
	router *gin.Engine
	parent string
	child  string
}

func newTestServer(t *testing.T, mod ModerationService) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_time_format=sqlite", uuid.NewString())
	db, err := repository.NewSQLiteDB(dsn, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, repository.MigrateDB(db, zap.NewNop()))

	registry := prometheus.NewRegistry()
	m, err := metrics.NewMetrics(registry)
	require.NoError(t, err)
	engine := approval.NewEngine(repository.NewStore(db, zap.NewNop()), notify.NopNotifier{}, m, zap.NewNop())

	router := gin.New()
	NewHandler(engine, mod, registry, zap.NewNop()).RegisterRoutes(router, middleware.AuthMiddleware(secret, zap.NewNop()))

	parent, _, err := middleware.IssueToken(secret, "acc-1", "", models.RoleParent, time.Hour)
	require.NoError(t, err)
	child, _, err := middleware.IssueToken(secret, "acc-1", "kid-1", models.RoleChild, time.Hour)
	require.NoError(t, err)

	return &testServer{router: router, parent: parent, child: child}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func requestID(t *testing.T, body map[string]any) string {
	t.Helper()
	req, ok := body["request"].(map[string]any)
	require.True(t, ok, "response has no request: %v", body)
	return req["id"].(string)
}

func TestRequestLifecycle(t *testing.T) {
	s := newTestServer(t, &fakeModeration{})
	song := map[string]any{"kind": "song", "content_id": "song-1", "name": "Let It Be", "artist": "The Beatles"}

	w, body := s.do(t, http.MethodPost, "/api/v1/requests", s.child, song)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := requestID(t, body)

	w, body = s.do(t, http.MethodPost, "/api/v1/requests", s.child, song)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, requestID(t, body))
	assert.Equal(t, false, body["created"])

	w, _ = s.do(t, http.MethodPost, "/api/v1/requests", s.parent, song)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body = s.do(t, http.MethodGet, "/api/v1/requests?status=pending", s.parent, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["requests"], 1)

	w, _ = s.do(t, http.MethodPost, "/api/v1/requests/"+id+"/approve", s.child, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body = s.do(t, http.MethodPost, "/api/v1/requests/"+id+"/approve", s.parent, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(1), body["songs_added"])

	w, _ = s.do(t, http.MethodPost, "/api/v1/requests/"+id+"/approve", s.parent, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, body = s.do(t, http.MethodGet, "/api/v1/approved", s.child, nil)
	require.Equal(t, http.StatusOK, w.Code)
	items := body["items"].([]any)
	require.Len(t, items, 1)
	itemID := items[0].(map[string]any)["id"].(string)

	w, body = s.do(t, http.MethodPatch, "/api/v1/approved/"+itemID+"/artwork", s.parent, map[string]any{"hide_artwork": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["item"].(map[string]any)["hide_artwork"])

	w, body = s.do(t, http.MethodPost, "/api/v1/requests/"+id+"/undo", s.parent, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pending", body["request"].(map[string]any)["status"])

	w, body = s.do(t, http.MethodGet, "/api/v1/approved", s.child, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, body["items"])

	w, _ = s.do(t, http.MethodGet, "/api/v1/requests/"+uuid.NewString(), s.parent, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/v1/requests", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestApproveDenied_MissingCatalogIDIsUnprocessable(t *testing.T) {
	s := newTestServer(t, &fakeModeration{})

	w, body := s.do(t, http.MethodPost, "/api/v1/requests", s.child,
		map[string]any{"kind": "album", "name": "Let It Be", "artist": "The Beatles"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := requestID(t, body)

	w, _ = s.do(t, http.MethodPost, "/api/v1/requests/"+id+"/deny", s.parent, map[string]any{"reason": "Later"})
	require.Equal(t, http.StatusOK, w.Code)

	w, body = s.do(t, http.MethodPost, "/api/v1/requests/"+id+"/approve-denied", s.parent, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "Cannot approve album — missing catalog ID. Please re-request.", body["error"])
}

func TestModerationRoutes(t *testing.T) {
	s := newTestServer(t, &fakeModeration{})

	w, body := s.do(t, http.MethodPost, "/api/v1/moderation/reviews", s.parent,
		map[string]any{"content_id": "song-1", "track": "Let It Be", "artist": "The Beatles"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "clean", body["review"].(map[string]any)["overall_rating"])

	w, _ = s.do(t, http.MethodPost, "/api/v1/moderation/reviews", s.child,
		map[string]any{"track": "Let It Be", "artist": "The Beatles"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body = s.do(t, http.MethodGet, "/api/v1/moderation/stats?top=5", s.parent, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0.5, body["hit_rate"])

	w, _ = s.do(t, http.MethodGet, "/api/v1/moderation/stats?top=0", s.parent, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = s.do(t, http.MethodPost, "/api/v1/moderation/recommendations", s.parent,
		map[string]any{"artists": []string{"The Beatles"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["cached"])

	w, body = s.do(t, http.MethodPost, "/api/v1/moderation/search", s.parent,
		map[string]any{"query": "songs about the sea"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["cached"])
	assert.Len(t, body["results"], 1)

	w, _ = s.do(t, http.MethodPost, "/api/v1/moderation/search", s.parent, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/moderation/search", s.child,
		map[string]any{"query": "songs about the sea"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestModerationErrorsDegrade(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{
			name:    "upstream failure",
			err:     models.WrapError(models.ErrUpstreamFailure, "provider down", fmt.Errorf("503")),
			status:  http.StatusBadGateway,
			message: reviewer.AnalysisUnavailable,
		},
		{
			name:    "lyrics not found",
			err:     models.NewError(models.ErrLyricsNotFound, "lyrics not found; you may enter them manually"),
			status:  http.StatusNotFound,
			message: "lyrics not found; you may enter them manually",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeModeration{err: tt.err})

			w, body := s.do(t, http.MethodPost, "/api/v1/moderation/lyrics", s.parent,
				map[string]any{"track": "Let It Be", "artist": "The Beatles"})
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.message, body["error"])
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)

	w, body := s.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])

	_, _ = s.do(t, http.MethodPost, "/api/v1/requests", s.child,
		map[string]any{"kind": "song", "content_id": "song-9", "name": "Help!", "artist": "The Beatles"})

	w, _ = s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "safetunes_request_transitions_total")

	w, _ = s.do(t, http.MethodPost, "/api/v1/moderation/lyrics", s.parent, map[string]any{"track": "a", "artist": "b"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
