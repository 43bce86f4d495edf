package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestCORSMiddleware_AllowList(t *testing.T) {
	router := gin.New()
	router.Use(CORSMiddleware([]string{"https://app.example"}))
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	testCases := []struct {
		name   string
		origin string
		want   string
	}{
		{"allowed origin", "https://app.example", "https://app.example"},
		{"unknown origin", "https://evil.example", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			req.Header.Set("Origin", tc.origin)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tc.want {
				t.Errorf("expected allow origin %q, got %q", tc.want, got)
			}
		})
	}

	req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204 for preflight, got %d", w.Code)
	}
}

func TestRateLimiter_PerRider(t *testing.T) {
	limiter := NewRateLimiter(1, 2, nil)
	router := gin.New()
	router.PUT("/rides/:id/riders/:rider/position", limiter.Middleware(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	do := func(rider string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPut, "/rides/r1/riders/"+rider+"/position", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 2; i++ {
		if w := do("a"); w.Code != http.StatusNoContent {
			t.Fatalf("request %d: expected 204, got %d", i, w.Code)
		}
	}
	w := do("a")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	// Another rider has its own bucket.
	if w := do("b"); w.Code != http.StatusNoContent {
		t.Errorf("expected 204 for another rider, got %d", w.Code)
	}
}

func checkInRouter(client *redis.Client, handler gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.POST("/rides/:id/checkpoints/:checkpoint/checkins", CheckInReplay(client), handler)
	return router
}

func sendCheckIn(router *gin.Engine, ride, rider, key string) *httptest.ResponseRecorder {
	body := `{"rider_id":"` + rider + `","latitude":1,"longitude":2}`
	req := httptest.NewRequest(http.MethodPost, "/rides/"+ride+"/checkpoints/cp-1/checkins", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(replayKeyHeader, key)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCheckInReplay_ReplaysRetriedCheckIn(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	calls := 0
	router := checkInRouter(client, func(c *gin.Context) {
		var req struct {
			RiderID string `json:"rider_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Status(http.StatusBadRequest)
			return
		}
		calls++
		c.JSON(http.StatusCreated, gin.H{"call": calls, "rider": req.RiderID})
	})

	first := sendCheckIn(router, "ride-1", "rider-1", "key-1")
	second := sendCheckIn(router, "ride-1", "rider-1", "key-1")
	if calls != 1 {
		t.Fatalf("expected handler to run once, ran %d times", calls)
	}
	if first.Code != http.StatusCreated {
		t.Fatalf("expected handler to see the body, got %d", first.Code)
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Errorf("expected replayed response %q, got %d %q", first.Body.String(), second.Code, second.Body.String())
	}
	if second.Header().Get(replayHeader) != "true" {
		t.Error("expected replay header")
	}

	sendCheckIn(router, "ride-1", "rider-1", "")
	sendCheckIn(router, "ride-1", "rider-1", "")
	if calls != 3 {
		t.Errorf("expected check-ins without key to run, got %d calls", calls)
	}
}

func TestCheckInReplay_KeyIsScopedToRiderAndRide(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	calls := 0
	router := checkInRouter(client, func(c *gin.Context) {
		calls++
		c.JSON(http.StatusCreated, gin.H{"call": calls})
	})

	testCases := []struct {
		name  string
		ride  string
		rider string
		calls int
	}{
		{"first rider", "ride-1", "rider-1", 1},
		{"other rider same key", "ride-1", "rider-2", 2},
		{"same rider other ride", "ride-2", "rider-1", 3},
		{"retry of first rider", "ride-1", "rider-1", 3},
	}

	for _, tc := range testCases {
		w := sendCheckIn(router, tc.ride, tc.rider, "shared-key")
		if w.Code != http.StatusCreated {
			t.Errorf("%s: expected 201, got %d", tc.name, w.Code)
		}
		if calls != tc.calls {
			t.Errorf("%s: expected %d handler calls, got %d", tc.name, tc.calls, calls)
		}
	}
}

func TestCheckInReplay_ConcurrentRetryIsRefused(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	s.Set(checkInReplayKey("ride-1", "cp-1", "rider-1", "key-3"), claimMarker)

	calls := 0
	router := checkInRouter(client, func(c *gin.Context) {
		calls++
		c.Status(http.StatusCreated)
	})

	w := sendCheckIn(router, "ride-1", "rider-1", "key-3")
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 while the first attempt runs, got %d", w.Code)
	}
	if calls != 0 {
		t.Errorf("expected handler not to run, ran %d times", calls)
	}
}

func TestCheckInReplay_ServerErrorIsNotRecorded(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	calls := 0
	router := checkInRouter(client, func(c *gin.Context) {
		calls++
		if calls == 1 {
			c.Status(http.StatusServiceUnavailable)
			return
		}
		c.Status(http.StatusCreated)
	})

	if w := sendCheckIn(router, "ride-1", "rider-1", "key-4"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if w := sendCheckIn(router, "ride-1", "rider-1", "key-4"); w.Code != http.StatusCreated {
		t.Errorf("expected retry to be processed, got %d", w.Code)
	}
	if calls != 2 {
		t.Errorf("expected two handler calls, got %d", calls)
	}
}

func TestCheckInReplay_RedisDownProcessesCheckIn(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1})
	defer client.Close()
	s.Close()

	router := checkInRouter(client, func(c *gin.Context) { c.Status(http.StatusCreated) })
	if w := sendCheckIn(router, "ride-1", "rider-1", "key-2"); w.Code != http.StatusCreated {
		t.Errorf("expected check-in to be processed, got %d", w.Code)
	}
}
