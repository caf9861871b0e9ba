package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/buildgrid/platform/shared/models"
)

// RetrySweeper re-attempts failed webhook deliveries with exponential
// backoff and a capped retry count.
type RetrySweeper struct {
	db            *gorm.DB
	webhook       *WebhookClient
	maxRetries    int
	batchSize     int
	checkInterval time.Duration
}

// NewRetrySweeper creates a sweeper with the standard 30s cadence.
func NewRetrySweeper(db *gorm.DB, webhook *WebhookClient) *RetrySweeper {
	return &RetrySweeper{
		db:            db,
		webhook:       webhook,
		maxRetries:    8,
		batchSize:     100,
		checkInterval: 30 * time.Second,
	}
}

// Run sweeps pending deliveries until stop is closed.
func (rs *RetrySweeper) Run(stop <-chan struct{}) {
	logrus.Info("delivery retry sweeper started")

	ticker := time.NewTicker(rs.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rs.sweep()
		case <-stop:
			return
		}
	}
}

// sweep retries one batch of due deliveries, newest first.
func (rs *RetrySweeper) sweep() {
	var due []models.FailedDelivery
	err := rs.db.Where("status = ? AND next_retry_at <= ?", "pending", time.Now()).
		Order("created_at DESC").
		Limit(rs.batchSize).
		Find(&due).Error
	if err != nil {
		logrus.Errorf("error fetching failed deliveries: %v", err)
		return
	}
	if len(due) == 0 {
		return
	}

	logrus.Infof("retrying %d failed deliveries", len(due))
	for _, failed := range due {
		if err := rs.retryOne(failed); err != nil {
			logrus.Errorf("retry bookkeeping failed for delivery %s: %v", failed.ID, err)
		}
	}
}

func (rs *RetrySweeper) retryOne(failed models.FailedDelivery) error {
	err := rs.webhook.Deliver(failed.TenantID.String(), failed.EventType, []byte(failed.Payload))
	if err != nil {
		return rs.recordFailure(failed, err)
	}
	return rs.markResolved(failed)
}

// recordFailure bumps the retry count and schedules the next attempt with
// exponential backoff: 1m, 2m, 4m and so on. The cap turns the row into a
// permanent failure.
func (rs *RetrySweeper) recordFailure(failed models.FailedDelivery, deliveryErr error) error {
	failed.RetryCount++
	failed.UpdatedAt = time.Now()

	if failed.RetryCount >= rs.maxRetries {
		now := time.Now()
		failed.Status = "permanently_failed"
		failed.ResolvedAt = &now
		failed.ErrorMessage = fmt.Sprintf("max retries reached: %s", deliveryErr.Error())
	} else {
		baseDelay := 1 * time.Minute
		delay := baseDelay * time.Duration(1<<(failed.RetryCount-1))
		nextRetryAt := time.Now().Add(delay)
		failed.NextRetryAt = &nextRetryAt
		failed.ErrorMessage = deliveryErr.Error()
	}

	return rs.db.Save(&failed).Error
}

func (rs *RetrySweeper) markResolved(failed models.FailedDelivery) error {
	now := time.Now()
	failed.Status = "resolved"
	failed.UpdatedAt = now
	failed.ResolvedAt = &now
	return rs.db.Save(&failed).Error
}

// Stats returns delivery retry counters for the stats endpoint.
func (rs *RetrySweeper) Stats() map[string]interface{} {
	var stats struct {
		Pending           int64 `json:"pending"`
		Resolved          int64 `json:"resolved"`
		PermanentlyFailed int64 `json:"permanently_failed"`
	}

	rs.db.Model(&models.FailedDelivery{}).Where("status = ?", "pending").Count(&stats.Pending)
	rs.db.Model(&models.FailedDelivery{}).Where("status = ?", "resolved").Count(&stats.Resolved)
	rs.db.Model(&models.FailedDelivery{}).Where("status = ?", "permanently_failed").Count(&stats.PermanentlyFailed)

	return map[string]interface{}{
		"retry_stats": stats,
		"config": map[string]interface{}{
			"max_retries":    rs.maxRetries,
			"batch_size":     rs.batchSize,
			"check_interval": rs.checkInterval.String(),
		},
	}
}
