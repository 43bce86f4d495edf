package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	replayKeyHeader = "Idempotency-Key"
	replayHeader    = "Idempotent-Replay"

	// A retried check-in within replayTTL gets the first answer back.
	replayTTL = 24 * time.Hour
	// claimTTL bounds how long an unfinished attempt blocks its retries.
	claimTTL = 30 * time.Second

	claimMarker = "in-flight"
)

// recordedCheckIn is the first answer given to a check-in attempt.
type recordedCheckIn struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

// teeWriter copies the handler's response body aside.
type teeWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *teeWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// CheckInReplay guards the check-in route against device retries. A check-in
// resent with the same Idempotency-Key by the same rider at the same
// checkpoint gets the recorded answer instead of appending a second record.
// A retry racing the first attempt is refused with 409. Without Redis, a key
// or a readable rider_id the request passes through.
func CheckInReplay(client *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(replayKeyHeader)
		if client == nil || token == "" {
			c.Next()
			return
		}
		riderID := peekRiderID(c)
		if riderID == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key := checkInReplayKey(c.Param("id"), c.Param("checkpoint"), riderID, token)

		claimed, err := client.SetNX(ctx, key, claimMarker, claimTTL).Result()
		if err != nil {
			log.Printf("[CHECKIN_REPLAY] claim failed ride=%s rider=%s, processing: %v", c.Param("id"), riderID, err)
			c.Next()
			return
		}
		if !claimed {
			replayCheckIn(c, client, key)
			return
		}

		w := &teeWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		// The request context may already be gone once the handler returns.
		ctx = context.WithoutCancel(ctx)
		if w.Status() >= http.StatusInternalServerError {
			if err := client.Del(ctx, key).Err(); err != nil {
				log.Printf("[CHECKIN_REPLAY] release failed key=%s: %v", key, err)
			}
			return
		}

		data, err := json.Marshal(recordedCheckIn{Status: w.Status(), Body: w.body.Bytes()})
		if err == nil {
			err = client.Set(ctx, key, data, replayTTL).Err()
		}
		if err != nil {
			log.Printf("[CHECKIN_REPLAY] record failed key=%s: %v", key, err)
		}
	}
}

func checkInReplayKey(rideID, checkpointID, riderID, token string) string {
	return "checkin-replay:" + rideID + ":" + checkpointID + ":" + riderID + ":" + token
}

// peekRiderID reads rider_id from the JSON body and puts the body back for
// the handler. It returns "" when the body has none.
func peekRiderID(c *gin.Context) string {
	if c.Request.Body == nil {
		return ""
	}
	raw, err := io.ReadAll(c.Request.Body)
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		return ""
	}

	var body struct {
		RiderID string `json:"rider_id"`
	}
	if json.Unmarshal(raw, &body) != nil {
		return ""
	}
	return body.RiderID
}

func replayCheckIn(c *gin.Context, client *redis.Client, key string) {
	data, err := client.Get(c.Request.Context(), key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		// Expired between claim and read; treat as a fresh attempt.
		c.Next()
		return
	case err != nil:
		log.Printf("[CHECKIN_REPLAY] lookup failed key=%s, processing: %v", key, err)
		c.Next()
		return
	}

	if string(data) == claimMarker {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "check-in already in progress", "code": "CHECKIN_409"})
		return
	}

	var rec recordedCheckIn
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Printf("[CHECKIN_REPLAY] corrupt record key=%s, processing: %v", key, err)
		c.Next()
		return
	}
	c.Header(replayHeader, "true")
	c.Data(rec.Status, "application/json; charset=utf-8", rec.Body)
	c.Abort()
}
