/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package maintflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maintflow/maintflow/config"
	redlock "github.com/maintflow/maintflow/internal/lock"
	"github.com/maintflow/maintflow/internal/notification"
	"github.com/maintflow/maintflow/internal/webhook"
	"github.com/maintflow/maintflow/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// DispatcherLeaseKey is the Redis key that keeps dispatch cycles of several
// instances from overlapping.
const DispatcherLeaseKey = "maintflow:approval-outbox-dispatcher"

// OutboxDispatcher delivers pending approval outbox rows to their callback
// URLs. It polls at a fixed interval and processes one batch per tick.
type OutboxDispatcher struct {
	maintflow       *Maintflow
	client          *webhook.Client
	callbackBaseURL string
	batchSize       int
	pollInterval    time.Duration
	maxAttempts     int
	backoff         time.Duration
	leaseTimeout    time.Duration
	lease           *redlock.Locker
	wake            chan struct{}
	stopCh          chan struct{}
	wg              sync.WaitGroup
	running         bool
	mu              sync.Mutex
}

// NewOutboxDispatcher creates a dispatcher from the approval settings. When
// the service has a Redis client every cycle runs under a lease.
func NewOutboxDispatcher(m *Maintflow, cfg config.ApprovalConfig) *OutboxDispatcher {
	d := &OutboxDispatcher{
		maintflow:       m,
		client:          webhook.NewClient(cfg.HmacSecret, cfg.RequestTimeout()),
		callbackBaseURL: cfg.CallbackBaseUrl,
		batchSize:       cfg.BatchSize,
		pollInterval:    cfg.PollInterval(),
		maxAttempts:     cfg.MaxAttempts,
		backoff:         cfg.Backoff(),
		leaseTimeout:    cfg.LeaseTimeout(),
		wake:            make(chan struct{}, 1),
		stopCh:          make(chan struct{}),
	}
	if m.redis != nil {
		d.lease = redlock.NewLocker(m.redis, DispatcherLeaseKey, uuid.NewString())
	}
	return d
}

func (d *OutboxDispatcher) WithBatchSize(size int) *OutboxDispatcher {
	d.batchSize = size
	return d
}

func (d *OutboxDispatcher) WithPollInterval(interval time.Duration) *OutboxDispatcher {
	d.pollInterval = interval
	return d
}

// WithRetryPolicy sets the attempt limit and the linear backoff step.
func (d *OutboxDispatcher) WithRetryPolicy(maxAttempts int, backoff time.Duration) *OutboxDispatcher {
	d.maxAttempts = maxAttempts
	d.backoff = backoff
	return d
}

func (d *OutboxDispatcher) WithClient(client *webhook.Client) *OutboxDispatcher {
	d.client = client
	return d
}

// WithLease replaces the cross-instance lease. A nil locker disables it.
func (d *OutboxDispatcher) WithLease(locker *redlock.Locker, timeout time.Duration) *OutboxDispatcher {
	d.lease = locker
	d.leaseTimeout = timeout
	return d
}

// Start begins polling in the background until ctx is done or Stop is called.
func (d *OutboxDispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx)
	}()
	logrus.WithFields(logrus.Fields{
		"poll_interval": d.pollInterval.String(),
		"batch_size":    d.batchSize,
		"max_attempts":  d.maxAttempts,
		"leased":        d.lease != nil,
	}).Info("approval outbox dispatcher started")
}

// Stop signals the loop and waits for the cycle in flight to finish.
func (d *OutboxDispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.stopCh)
	d.mu.Unlock()

	d.wg.Wait()
	logrus.Info("approval outbox dispatcher stopped")
}

func (d *OutboxDispatcher) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Wake asks the loop to run a cycle now instead of at the next tick.
// Repeated calls before the cycle starts collapse into one.
func (d *OutboxDispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// HandleNotification wakes the dispatcher for every outbox notification.
func (d *OutboxDispatcher) HandleNotification(channel, payload string) error {
	d.Wake()
	return nil
}

func (d *OutboxDispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("approval outbox dispatcher context cancelled")
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.ProcessBatch(ctx)
		case <-d.wake:
			d.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch runs one dispatch cycle and returns how many rows it handled.
func (d *OutboxDispatcher) ProcessBatch(ctx context.Context) int {
	ctx, span := tracer.Start(ctx, "DispatchApprovalOutbox")
	defer span.End()

	if d.lease != nil {
		ok, err := d.lease.TryLock(ctx, d.leaseTimeout)
		if err != nil {
			logrus.WithError(err).Error("failed to acquire approval dispatcher lease")
			return 0
		}
		if !ok {
			logrus.Debug("approval dispatcher lease held elsewhere, skipping cycle")
			return 0
		}
		defer func() {
			if err := d.lease.Unlock(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redlock.ErrNotHeld) {
				logrus.WithError(err).Warn("failed to release approval dispatcher lease")
			}
		}()
	}

	entries, err := d.maintflow.datasource.FetchDueOutbox(ctx, d.maintflow.clock(), d.batchSize)
	if err != nil {
		logrus.WithError(err).Error("failed to fetch due approval outbox entries")
		return 0
	}
	span.SetAttributes(attribute.Int("outbox.batch", len(entries)))

	processed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		d.processEntry(ctx, entry)
		processed++

		if d.lease != nil {
			if err := d.lease.Extend(ctx, d.leaseTimeout); err != nil {
				logrus.WithError(err).Warn("approval dispatcher lease lost, ending cycle early")
				break
			}
		}
	}
	return processed
}

// processEntry makes one delivery attempt. A panic is contained to the row,
// which stays PENDING for the next cycle.
func (d *OutboxDispatcher) processEntry(ctx context.Context, entry model.ApprovalOutbox) {
	fields := logrus.Fields{
		"outbox_id":   entry.OutboxID,
		"approval_id": entry.ApprovalID,
		"event_type":  entry.EventType,
	}
	defer func() {
		if r := recover(); r != nil {
			notification.NotifyError(fmt.Errorf("panic delivering approval outbox %d: %v", entry.OutboxID, r))
		}
	}()

	url := webhook.ResolveURL(d.callbackBaseURL, entry.CallbackURL)
	fields["url"] = url
	result := d.client.Send(ctx, webhook.Delivery{
		URL:            url,
		EventType:      entry.EventType,
		IdempotencyKey: entry.IdempotencyKey,
		Body:           entry.Payload,
	})
	if result.StatusCode != nil {
		fields["status_code"] = *result.StatusCode
	}

	now := d.maintflow.clock()
	errMsg := result.ErrorMessage()
	if err := d.maintflow.datasource.RecordWebhookLog(ctx, &model.WebhookLog{
		OutboxID:     entry.OutboxID,
		URL:          url,
		EventType:    entry.EventType,
		StatusCode:   result.StatusCode,
		ResponseBody: result.Body,
		ErrorMessage: errMsg,
		AttemptedAt:  now,
	}); err != nil {
		logrus.WithFields(fields).WithError(err).Warn("failed to record webhook log")
	}

	next := nextDeliveryState(entry.RetryCount, result.Outcome, d.maxAttempts, d.backoff, now)
	fields["retry_count"] = next.RetryCount

	var err error
	switch next.Status {
	case model.ApprovalOutboxSent:
		err = d.maintflow.datasource.MarkOutboxSent(ctx, entry.OutboxID, now)
		logrus.WithFields(fields).Info("approval webhook delivered")
	case model.ApprovalOutboxFailed:
		err = d.maintflow.datasource.MarkOutboxFailed(ctx, entry.OutboxID, next.RetryCount, errMsg, now)
		entry.Status = model.ApprovalOutboxFailed
		entry.RetryCount = next.RetryCount
		entry.LastErrorMessage = errMsg
		notification.NotifyDeliveryFailed(entry)
	default:
		err = d.maintflow.datasource.MarkOutboxRetry(ctx, entry.OutboxID, next.RetryCount, errMsg, now, next.NextAttemptAt)
		fields["next_attempt_at"] = next.NextAttemptAt
		logrus.WithFields(fields).Warn("approval webhook delivery will be retried")
	}
	if err != nil {
		logrus.WithFields(fields).WithError(err).Error("failed to update approval outbox entry")
	}
}

type deliveryState struct {
	Status        string
	RetryCount    int
	NextAttemptAt time.Time
}

// nextDeliveryState applies the outcome policy: 2xx is final, 4xx fails at
// once, everything else is retried with a linear backoff until maxAttempts.
func nextDeliveryState(retryCount int, outcome webhook.Outcome, maxAttempts int, backoff time.Duration, now time.Time) deliveryState {
	switch outcome {
	case webhook.Delivered:
		return deliveryState{Status: model.ApprovalOutboxSent, RetryCount: retryCount}
	case webhook.Rejected:
		return deliveryState{Status: model.ApprovalOutboxFailed, RetryCount: retryCount}
	}

	retryCount++
	if retryCount >= maxAttempts {
		return deliveryState{Status: model.ApprovalOutboxFailed, RetryCount: retryCount}
	}
	return deliveryState{
		Status:        model.ApprovalOutboxPending,
		RetryCount:    retryCount,
		NextAttemptAt: now.Add(backoff * time.Duration(retryCount)),
	}
}
