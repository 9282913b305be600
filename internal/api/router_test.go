package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/d60-Lab/newsfeed/internal/api/handler"
	"github.com/d60-Lab/newsfeed/internal/api/middleware"
	"github.com/d60-Lab/newsfeed/internal/cache"
	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/pagination"
	"github.com/d60-Lab/newsfeed/internal/repository"
	"github.com/d60-Lab/newsfeed/internal/service"
	"github.com/d60-Lab/newsfeed/internal/taskqueue"
	"github.com/d60-Lab/newsfeed/pkg/database"
)

const testSecret = "test-secret"

type apiEnv struct {
	router *gin.Engine
	db     *gorm.DB
	queue  *taskqueue.MemoryQueue
	repl   *service.FanReplicator
}

func newAPIEnv(t *testing.T, readLimiter *middleware.Limiter) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := database.NewTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	feeds := repository.NewFeedRepository(db)
	fans := repository.NewFanRepository(db)
	items := repository.NewItemRepository(db)
	attrs := repository.NewAttributeRepository(db)
	comments := repository.NewCommentRepository(db)

	feedWindow := cache.NewWindowCache[model.FeedEntry](rdb, feeds, cache.WindowOptions{Name: "newsfeed", KeyFormat: "newsfeeds:%d", MaxLen: 10, TTL: time.Hour})
	timeline := cache.NewWindowCache[model.ItemRef](rdb, items, cache.WindowOptions{Name: "timeline", KeyFormat: "timelines:%d", MaxLen: 10, TTL: time.Hour})
	counters := cache.NewCounters(rdb, attrs, time.Hour)
	itemCache := cache.NewItemCache(rdb, items, time.Hour)

	clock := service.NewClock()
	q := taskqueue.NewMemoryQueue(2)
	fanout := service.NewFanoutService(feeds, fans, repository.NewFanoutRepository(db), feedWindow, q, service.FanoutOptions{
		BatchSize: 10, BatchTimeLimit: 5 * time.Second, MaxAttempts: 2, RetryInterval: time.Millisecond, Clock: clock,
	})
	fanout.Register(q)
	repl := service.NewFanReplicator(fans, 64)
	stopRepl := repl.Start(1)

	h := handler.New(
		service.NewPublisher(db, fanout, timeline, clock),
		service.NewFeedService(
			pagination.NewPaginator[model.FeedEntry](feedWindow, feeds, 20, 100),
			pagination.NewPaginator[model.ItemRef](timeline, items, 20, 100),
			itemCache, counters, comments,
		),
		service.NewEngagementService(db, counters, itemCache, clock),
		service.NewRelationshipService(repository.NewFollowRepository(db), fans, attrs, counters, repl),
		fanout,
	)
	router, err := NewRouter(h, Options{JWTSecret: testSecret, ReadLimiter: readLimiter, DB: db, Redis: rdb})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Run(ctx)
	}()
	t.Cleanup(func() {
		_ = stopRepl(context.Background())
		cancel()
		_ = q.Close()
		<-done
	})
	return &apiEnv{router: router, db: db, queue: q, repl: repl}
}

func (e *apiEnv) user(t *testing.T, name string) (uint64, string) {
	t.Helper()
	u := model.User{Username: name}
	require.NoError(t, e.db.Create(&u).Error)
	token, err := middleware.IssueToken(testSecret, u.ID, time.Hour)
	require.NoError(t, err)
	return u.ID, token
}

func (e *apiEnv) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.queue.Drain(ctx))
	require.NoError(t, e.repl.Wait(ctx))
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *apiEnv) do(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

type feedPage struct {
	Results []struct {
		ID         uint64 `json:"id"`
		Content    string `json:"content"`
		LikesCount int64  `json:"likes_count"`
		Cursor     int64  `json:"cursor"`
	} `json:"results"`
	HasNextPage bool   `json:"has_next_page"`
	NextBefore  *int64 `json:"next_before"`
}

func TestPublishFollowAndReadFeed(t *testing.T) {
	e := newAPIEnv(t, nil)
	authorID, authorTok := e.user(t, "author")
	_, readerTok := e.user(t, "reader")

	code, _ := e.do(t, http.MethodPost, "/api/v1/relations/follow", readerTok, map[string]any{"to_user_id": authorID})
	require.Equal(t, http.StatusOK, code)
	e.settle(t)

	for i := 0; i < 3; i++ {
		code, _ = e.do(t, http.MethodPost, "/api/v1/items", authorTok, map[string]any{"content": fmt.Sprintf("post %d", i)})
		require.Equal(t, http.StatusCreated, code)
		e.settle(t)
	}

	code, env := e.do(t, http.MethodGet, "/api/v1/feed?page_size=2", readerTok, nil)
	require.Equal(t, http.StatusOK, code)
	var page feedPage
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.Results, 2)
	assert.Equal(t, "post 2", page.Results[0].Content)
	assert.True(t, page.HasNextPage)
	require.NotNil(t, page.NextBefore)

	code, env = e.do(t, http.MethodGet, fmt.Sprintf("/api/v1/feed?before=%d", *page.NextBefore), readerTok, nil)
	require.Equal(t, http.StatusOK, code)
	page = feedPage{}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.Results, 1)
	assert.Equal(t, "post 0", page.Results[0].Content)
	assert.False(t, page.HasNextPage)

	code, env = e.do(t, http.MethodGet, fmt.Sprintf("/api/v1/users/%d/items", authorID), "", nil)
	require.Equal(t, http.StatusOK, code)
	page = feedPage{}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Len(t, page.Results, 3)

	code, env = e.do(t, http.MethodGet, fmt.Sprintf("/api/v1/fanouts/%d", page.Results[0].ID), "", nil)
	require.Equal(t, http.StatusOK, code)
	var f model.Fanout
	require.NoError(t, json.Unmarshal(env.Data, &f))
	assert.Equal(t, model.FanoutDone, f.Status)
	assert.Equal(t, int64(1), f.Recipients)
}

func TestLikeAndCounter(t *testing.T) {
	e := newAPIEnv(t, nil)
	_, tok := e.user(t, "alice")

	code, env := e.do(t, http.MethodPost, "/api/v1/items", tok, map[string]any{"content": "like me"})
	require.Equal(t, http.StatusCreated, code)
	var item model.Item
	require.NoError(t, json.Unmarshal(env.Data, &item))

	body := map[string]any{"kind": "item", "object_id": item.ID}
	code, env = e.do(t, http.MethodPost, "/api/v1/likes", tok, body)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, fmt.Sprintf(`{"kind":"item","id":%d,"attribute":"likes_count","value":1}`, item.ID), string(env.Data))

	code, env = e.do(t, http.MethodGet, fmt.Sprintf("/api/v1/counters/item/%d/likes_count", item.ID), "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"value":1`)

	code, _ = e.do(t, http.MethodDelete, "/api/v1/likes", tok, body)
	require.Equal(t, http.StatusOK, code)

	code, _ = e.do(t, http.MethodPost, "/api/v1/likes", tok, map[string]any{"kind": "tweet", "object_id": item.ID})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = e.do(t, http.MethodPost, "/api/v1/likes", tok, map[string]any{"kind": "item", "object_id": 9999})
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = e.do(t, http.MethodGet, fmt.Sprintf("/api/v1/counters/item/%d/secret", item.ID), "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCommentsEndpoints(t *testing.T) {
	e := newAPIEnv(t, nil)
	_, tok := e.user(t, "bob")
	code, env := e.do(t, http.MethodPost, "/api/v1/items", tok, map[string]any{"content": "thread"})
	require.Equal(t, http.StatusCreated, code)
	var item model.Item
	require.NoError(t, json.Unmarshal(env.Data, &item))

	path := fmt.Sprintf("/api/v1/items/%d/comments", item.ID)
	code, _ = e.do(t, http.MethodPost, path, tok, map[string]any{"content": "first"})
	require.Equal(t, http.StatusCreated, code)
	code, _ = e.do(t, http.MethodPost, path, tok, map[string]any{"content": "second"})
	require.Equal(t, http.StatusCreated, code)

	code, env = e.do(t, http.MethodGet, path+"?page_size=1", "", nil)
	require.Equal(t, http.StatusOK, code)
	var page struct {
		Results     []model.Comment `json:"results"`
		HasNextPage bool            `json:"has_next_page"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.Results, 1)
	assert.Equal(t, "second", page.Results[0].Content)
	assert.True(t, page.HasNextPage)

	code, env = e.do(t, http.MethodGet, fmt.Sprintf("/api/v1/items/%d", item.ID), "", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &item))
	assert.Equal(t, int64(2), item.CommentsCount)
}

func TestRequestValidation(t *testing.T) {
	e := newAPIEnv(t, nil)
	_, tok := e.user(t, "carol")

	code, _ := e.do(t, http.MethodGet, "/api/v1/feed", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = e.do(t, http.MethodGet, "/api/v1/feed", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = e.do(t, http.MethodGet, "/api/v1/feed?before=abc", tok, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = e.do(t, http.MethodGet, "/api/v1/feed?after=20&before=10", tok, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = e.do(t, http.MethodGet, "/api/v1/feed?page_size=-1", tok, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, env := e.do(t, http.MethodGet, "/api/v1/feed?page_size=5000", tok, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"results":[],"has_next_page":false}`, string(env.Data))

	code, _ = e.do(t, http.MethodPost, "/api/v1/relations/follow", tok, map[string]any{"to_user_id": 424242})
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = e.do(t, http.MethodGet, "/api/v1/items/0", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = e.do(t, http.MethodGet, "/api/v1/fanouts/77", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestFeedReadsAreRateLimited(t *testing.T) {
	e := newAPIEnv(t, middleware.NewLimiter(1, 2))
	_, tok := e.user(t, "dave")

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		code, _ := e.do(t, http.MethodGet, "/api/v1/feed", tok, nil)
		codes = append(codes, code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestHealthz(t *testing.T) {
	e := newAPIEnv(t, nil)
	code, _ := e.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, code)
}
