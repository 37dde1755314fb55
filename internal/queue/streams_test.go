package queue

import (
	"testing"
	"time"

	"github.com/iago/fleetops-back/internal/domain"
	"github.com/redis/go-redis/v9"
)

func TestParseStreamMessageReadsRedisValues(t *testing.T) {
	requestedAt := time.Date(2024, 3, 4, 5, 6, 7, 8, time.UTC)
	values := streamValues(domain.QueueMessage{
		JobID:       "route-1",
		Kind:        domain.JobKindRoute,
		OwnerID:     "manager-1",
		Attempt:     2,
		RequestedAt: requestedAt,
	})
	// Redis hands every field back as a string.
	values["attempt"] = "2"

	message, err := parseStreamMessage(redis.XMessage{ID: "1-0", Values: values})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if message.JobID != "route-1" || message.OwnerID != "manager-1" || message.Attempt != 2 {
		t.Fatalf("unexpected message %+v", message)
	}
	if !message.RequestedAt.Equal(requestedAt) {
		t.Fatalf("requested_at mismatch: %v", message.RequestedAt)
	}
}

func TestParseStreamMessageRejectsBadEntries(t *testing.T) {
	base := func() map[string]any {
		return map[string]any{
			"job_id":       "route-1",
			"kind":         "route",
			"owner_id":     "m",
			"attempt":      "0",
			"requested_at": time.Now().UTC().Format(time.RFC3339Nano),
		}
	}
	cases := map[string]func(map[string]any){
		"missing job":  func(v map[string]any) { delete(v, "job_id") },
		"empty job":    func(v map[string]any) { v["job_id"] = " " },
		"unknown kind": func(v map[string]any) { v["kind"] = "summary" },
		"bad attempt":  func(v map[string]any) { v["attempt"] = "x" },
		"bad time":     func(v map[string]any) { v["requested_at"] = "yesterday" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			values := base()
			mutate(values)
			if _, err := parseStreamMessage(redis.XMessage{ID: "1-0", Values: values}); err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}
