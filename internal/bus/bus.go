// Package bus wraps the Redis key-value + pub/sub surface described in
// the external interfaces (job control/status channels, the per-job
// status snapshot, the per-campaign lead cache hash, and per-account
// batch locks). All channel payloads are UTF-8 JSON.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"outreach-engine/internal/logger"
	"outreach-engine/internal/validation"
)

const (
	statusSnapshotTTL = 600 * time.Second
	batchLockTTL      = 300 * time.Second
)

// Bus wraps one Redis client with the outreach-engine's channel and key
// naming conventions. Grounded on the teacher's cache-then-store handler
// style for Redis access, generalized here to pub/sub.
type Bus struct {
	client *redis.Client
	log    logger.Logger
}

func New(client *redis.Client, log logger.Logger) *Bus {
	return &Bus{client: client, log: log}
}

func controlChannel(jobID string) string { return fmt.Sprintf("job:%s:control", jobID) }
func statusChannel(jobID string) string  { return fmt.Sprintf("job:%s:status", jobID) }
func statusSnapshotKey(jobID string) string { return fmt.Sprintf("job:%s:status:last", jobID) }
func leadCacheKey(campaignID string) string { return fmt.Sprintf("campaign:%s:leads", campaignID) }
func batchLockKey(accountID string) string  { return fmt.Sprintf("account:%s:batch-lock", accountID) }

// ControlSignal is the control channel payload — any action other than
// pause/cancel is ignored by the receiver.
type ControlSignal struct {
	Action    string    `json:"action"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusEvent is the status channel payload, published on every progress
// tick and at the terminal transition.
type StatusEvent struct {
	Type               string      `json:"type"`
	JobID              string      `json:"jobId"`
	CampaignID         string      `json:"campaignId"`
	Status             string      `json:"status"`
	Progress           int         `json:"progress"`
	TotalLeads         int         `json:"totalLeads"`
	ProcessedLeads     int         `json:"processedLeads,omitempty"`
	CurrentLead        string      `json:"currentLead,omitempty"`
	FractionalProgress float64     `json:"fractionalProgress,omitempty"`
	Stage              string      `json:"stage,omitempty"`
	Results            interface{} `json:"results,omitempty"`
	StartedAt          *time.Time  `json:"startedAt,omitempty"`
	CompletedAt        *time.Time  `json:"completedAt,omitempty"`
	ErrorMessage        string     `json:"errorMessage,omitempty"`
	Timestamp          time.Time   `json:"timestamp"`
}

// PublishStatus publishes a status event and writes the same payload to
// the snapshot key with a 10 minute TTL, so a late subscriber (or a
// fallback poller) can read the last-known status instead of a stream.
func (b *Bus) PublishStatus(ctx context.Context, jobID string, event StatusEvent) error {
	event.Timestamp = timeNow()
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}
	if err := validation.ValidateStatusEvent(payload); err != nil {
		return fmt.Errorf("status event failed validation: %w", err)
	}

	if err := b.client.Publish(ctx, statusChannel(jobID), payload).Err(); err != nil {
		b.log.WithError(err).Warn("publish status event failed", nil)
	}

	if err := b.client.Set(ctx, statusSnapshotKey(jobID), payload, statusSnapshotTTL).Err(); err != nil {
		return fmt.Errorf("write status snapshot: %w", err)
	}
	return nil
}

// LastStatus reads the most recent published snapshot, if any.
func (b *Bus) LastStatus(ctx context.Context, jobID string) (*StatusEvent, error) {
	payload, err := b.client.Get(ctx, statusSnapshotKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read status snapshot: %w", err)
	}
	var event StatusEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("unmarshal status snapshot: %w", err)
	}
	return &event, nil
}

// PublishControl publishes a pause/cancel signal on the job's control
// channel.
func (b *Bus) PublishControl(ctx context.Context, jobID string, signal ControlSignal) error {
	signal.Timestamp = timeNow()
	payload, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("marshal control signal: %w", err)
	}
	if err := validation.ValidateControlSignal(payload); err != nil {
		return fmt.Errorf("control signal failed validation: %w", err)
	}
	if err := b.client.Publish(ctx, controlChannel(jobID), payload).Err(); err != nil {
		return fmt.Errorf("publish control signal: %w", err)
	}
	return nil
}

// ControlSubscriber wraps a live subscription to a job's control channel.
// Callers read from Signals() and must Close when done.
type ControlSubscriber struct {
	sub     *redis.PubSub
	signals chan ControlSignal
	log     logger.Logger
}

// SubscribeControl opens a subscription to job:{id}:control. Per the
// external contract, the caller must tolerate this failing — a nil,
// error return means the job falls back to polling Status() instead.
func (b *Bus) SubscribeControl(ctx context.Context, jobID string) (*ControlSubscriber, error) {
	sub := b.client.Subscribe(ctx, controlChannel(jobID))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe control channel: %w", err)
	}

	cs := &ControlSubscriber{sub: sub, signals: make(chan ControlSignal, 8), log: b.log}
	go cs.pump(sub.Channel())
	return cs, nil
}

func (cs *ControlSubscriber) pump(ch <-chan *redis.Message) {
	defer close(cs.signals)
	for msg := range ch {
		payload := []byte(msg.Payload)
		if err := validation.ValidateControlSignal(payload); err != nil {
			cs.log.WithError(err).Warn("discarding control signal that failed validation", nil)
			continue
		}
		var signal ControlSignal
		if err := json.Unmarshal(payload, &signal); err != nil {
			cs.log.WithError(err).Warn("discarding malformed control signal", nil)
			continue
		}
		if signal.Action != "pause" && signal.Action != "cancel" {
			continue
		}
		cs.signals <- signal
	}
}

func (cs *ControlSubscriber) Signals() <-chan ControlSignal { return cs.signals }

func (cs *ControlSubscriber) Close() error { return cs.sub.Close() }

// StatusSubscriber wraps a live subscription to a job's status channel,
// used by the control plane's streamStatus to re-emit events to a caller.
type StatusSubscriber struct {
	sub    *redis.PubSub
	events chan StatusEvent
	log    logger.Logger
}

// SubscribeStatus opens a subscription to job:{id}:status.
func (b *Bus) SubscribeStatus(ctx context.Context, jobID string) (*StatusSubscriber, error) {
	sub := b.client.Subscribe(ctx, statusChannel(jobID))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe status channel: %w", err)
	}

	ss := &StatusSubscriber{sub: sub, events: make(chan StatusEvent, 16), log: b.log}
	go ss.pump(sub.Channel())
	return ss, nil
}

func (ss *StatusSubscriber) pump(ch <-chan *redis.Message) {
	defer close(ss.events)
	for msg := range ch {
		payload := []byte(msg.Payload)
		if err := validation.ValidateStatusEvent(payload); err != nil {
			ss.log.WithError(err).Warn("discarding status event that failed validation", nil)
			continue
		}
		var event StatusEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			ss.log.WithError(err).Warn("discarding malformed status event", nil)
			continue
		}
		ss.events <- event
	}
}

func (ss *StatusSubscriber) Events() <-chan StatusEvent { return ss.events }

func (ss *StatusSubscriber) Close() error { return ss.sub.Close() }

// LeadCache wraps the per-campaign lead snapshot hash. Entries are keyed
// by leadId so concurrent writers from different code paths (C2, C4, C6)
// do not clobber each other's unrelated fields — the field-level clobber
// that remains is acceptable because the relational store stays
// authoritative.
type LeadCache struct {
	client *redis.Client
}

func NewLeadCache(client *redis.Client) *LeadCache {
	return &LeadCache{client: client}
}

func (c *LeadCache) GetAll(ctx context.Context, campaignID string) (map[string]string, error) {
	result, err := c.client.HGetAll(ctx, leadCacheKey(campaignID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read lead cache: %w", err)
	}
	return result, nil
}

func (c *LeadCache) SetMany(ctx context.Context, campaignID string, entries map[string]string) error {
	if len(entries) == 0 {
		return nil
	}
	fields := make(map[string]interface{}, len(entries))
	for k, v := range entries {
		fields[k] = v
	}
	if err := c.client.HSet(ctx, leadCacheKey(campaignID), fields).Err(); err != nil {
		return fmt.Errorf("populate lead cache: %w", err)
	}
	return nil
}

func (c *LeadCache) Set(ctx context.Context, campaignID, leadID, serialized string) error {
	if err := c.client.HSet(ctx, leadCacheKey(campaignID), leadID, serialized).Err(); err != nil {
		return fmt.Errorf("set lead cache entry: %w", err)
	}
	return nil
}

// ScanCampaignKeys returns the campaignId portion of every campaign:*:leads
// key currently in the cache, for updateLeadStatusGlobally's cache scan.
func (c *LeadCache) ScanCampaignKeys(ctx context.Context) ([]string, error) {
	var campaignIDs []string
	iter := c.client.Scan(ctx, 0, "campaign:*:leads", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		trimmed := key
		trimmed = trimmed[len("campaign:") : len(trimmed)-len(":leads")]
		campaignIDs = append(campaignIDs, trimmed)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan campaign lead keys: %w", err)
	}
	return campaignIDs, nil
}

// BatchLock acquires the per-account batch-mutual-exclusion lock with a
// 5 minute TTL using SET NX. No call site takes this lock, and nothing
// else stops two jobs on the same account from running at once: the
// control plane only refuses a second processing job for the same user
// and campaign.
func (b *Bus) BatchLock(ctx context.Context, accountID string) (bool, error) {
	ok, err := b.client.SetNX(ctx, batchLockKey(accountID), "1", batchLockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire batch lock: %w", err)
	}
	return ok, nil
}

func (b *Bus) ReleaseBatchLock(ctx context.Context, accountID string) error {
	return b.client.Del(ctx, batchLockKey(accountID)).Err()
}

func timeNow() time.Time { return time.Now().UTC() }
