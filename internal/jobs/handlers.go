package jobs

import (
	"context"
	"time"

	"github.com/hibiken/asynq"

	"github.com/memcortex/fabric/internal/logger"
	"github.com/memcortex/fabric/internal/scoring"
	"github.com/memcortex/fabric/internal/types"
	"github.com/memcortex/fabric/internal/vectorstore"
)

// vectorRecordFor rebuilds the Raw-collection payload for an item whose
// vector object went missing, from the relational row alone — the row is
// canonical, so this is always enough to rebuild it (spec.md §3).
func vectorRecordFor(item types.MemoryItem) types.VectorRecord {
	return types.VectorRecord{
		Content:      item.Content,
		ContentHash:  item.ContentHash,
		SourceID:     item.MemoryID.String(),
		SourceType:   types.SourceTypeMemory,
		UserID:       item.UserID.String(),
		PrivacyLevel: item.PrivacyLevel,
		Tags:         item.Tags,
		CreatedAt:    item.CreatedAt,
	}
}

// sweepPage is the ListForSweep page size every full-scan job body uses.
const handlerSweepPageSize = sweepPageSize

// handleCompactionTopics runs the level 2->3 rollup for every active user.
// One user's synthesis failure never aborts the rest; CompactToTopicSummaries
// itself already tolerates per-cluster errors (spec.md §4.12).
func (s *Scheduler) handleCompactionTopics(ctx context.Context, _ *asynq.Task) error {
	return s.runAudited(ctx, TaskCompactionTopics, func(ctx context.Context) (RunStats, error) {
		users, err := s.users.ListActive(ctx)
		if err != nil {
			return RunStats{}, err
		}
		stats := RunStats{Detail: map[string]any{}}
		for _, u := range users {
			result, err := s.compactor.CompactToTopicSummaries(ctx, u.UserID, u.TenantID)
			if err != nil {
				stats.Errors++
				logger.ErrorWithFields(ctx, err, map[string]any{"user_id": u.UserID, "step": "compaction_topics"})
				continue
			}
			stats.ItemsProcessed += result.TopicsCreated
			stats.Errors += result.Errors
		}
		stats.Detail["users_scanned"] = len(users)
		return stats, nil
	})
}

// handleCompactionDomains runs the level 3->4 rollup for every active user.
func (s *Scheduler) handleCompactionDomains(ctx context.Context, _ *asynq.Task) error {
	return s.runAudited(ctx, TaskCompactionDomains, func(ctx context.Context) (RunStats, error) {
		users, err := s.users.ListActive(ctx)
		if err != nil {
			return RunStats{}, err
		}
		stats := RunStats{Detail: map[string]any{}}
		for _, u := range users {
			result, err := s.compactor.CompactToDomainMaps(ctx, u.UserID, u.TenantID)
			if err != nil {
				stats.Errors++
				logger.ErrorWithFields(ctx, err, map[string]any{"user_id": u.UserID, "step": "compaction_domains"})
				continue
			}
			stats.ItemsProcessed += result.DomainsCreated
			stats.Errors += result.Errors
		}
		stats.Detail["users_scanned"] = len(users)
		return stats, nil
	})
}

// handleAutoTuner mirrors the feedback window into the analytical store
// (DESIGN.md's duckdb rollup), then runs the three analyzers.
func (s *Scheduler) handleAutoTuner(ctx context.Context, _ *asynq.Task) error {
	return s.runAudited(ctx, TaskAutoTuner, func(ctx context.Context) (RunStats, error) {
		since := s.now().Add(-30 * 24 * time.Hour)
		if err := s.stats.Sync(ctx, since); err != nil {
			return RunStats{}, err
		}
		decision, err := s.tuner.AnalyzeAndApply(ctx)
		if err != nil {
			return RunStats{}, err
		}
		stats := RunStats{Detail: map[string]any{}}
		if decision != nil {
			stats.ItemsProcessed = 1
			stats.Detail["action"] = string(decision.Action)
			stats.Detail["confidence"] = decision.Confidence
		} else {
			stats.Detail["action"] = "none"
		}
		return stats, nil
	})
}

// handleCRSDecay walks every memory item and recomputes its CRS from the
// stored similarity (the last value it was ranked at) against the item's
// current age, tier, feedback summary, and access count — the daily pass
// that keeps stale items from permanently outranking fresher ones.
func (s *Scheduler) handleCRSDecay(ctx context.Context, _ *asynq.Task) error {
	return s.runAudited(ctx, TaskCRSDecay, func(ctx context.Context) (RunStats, error) {
		stats := RunStats{Detail: map[string]any{}}
		now := s.now()
		offset := 0
		for {
			items, err := s.memories.ListForSweep(ctx, handlerSweepPageSize, offset)
			if err != nil {
				return stats, err
			}
			if len(items) == 0 {
				break
			}
			for _, item := range items {
				var fb *scoring.FeedbackSummaryInput
				if item.FeedbackSummary.TotalRatings > 0 {
					avg := (item.FeedbackSummary.AvgRating - 3) / 2 // 1..5 stars -> -1..1
					fb = &scoring.FeedbackSummaryInput{
						AvgRating:  &avg,
						ThumbsUp:   item.FeedbackSummary.ThumbsUp,
						ThumbsDown: item.FeedbackSummary.ThumbsDown,
					}
				}
				breakdown := s.scorer.Score(item.Scores.Similarity, item.CreatedAt, now, item.Tier, fb, item.AccessCount)
				item.Scores = breakdown
				item.CRSScore = breakdown.Composite
				if err := s.memories.Update(ctx, &item); err != nil {
					stats.Errors++
					logger.ErrorWithFields(ctx, err, map[string]any{"memory_id": item.MemoryID, "step": "crs_decay"})
					continue
				}
				stats.ItemsProcessed++
			}
			offset += len(items)
			if len(items) < handlerSweepPageSize {
				break
			}
		}
		return stats, nil
	})
}

// handleDedupSweep catches duplicates a race in the write path's unique
// constraint check could have let through (concurrent creates with the
// same (user, content_hash) racing the SELECT-then-INSERT): it keeps the
// earliest row per (user_id, content_hash) and deletes the rest, vector
// first per spec.md §4.5's delete ordering.
func (s *Scheduler) handleDedupSweep(ctx context.Context, _ *asynq.Task) error {
	return s.runAudited(ctx, TaskDedupSweep, func(ctx context.Context) (RunStats, error) {
		stats := RunStats{Detail: map[string]any{}}
		type key struct {
			user string
			hash string
		}
		seen := make(map[key]bool)
		offset := 0
		for {
			items, err := s.memories.ListForSweep(ctx, handlerSweepPageSize, offset)
			if err != nil {
				return stats, err
			}
			if len(items) == 0 {
				break
			}
			for _, item := range items {
				k := key{user: item.UserID.String(), hash: item.ContentHash}
				if !seen[k] {
					seen[k] = true
					continue
				}
				if item.EmbeddingVectorID != "" {
					if _, err := s.vectors.Delete(ctx, vectorstore.CollectionRaw, item.EmbeddingVectorID); err != nil {
						logger.ErrorWithFields(ctx, err, map[string]any{"memory_id": item.MemoryID, "step": "dedup_vector_delete"})
					}
				}
				if err := s.memories.Delete(ctx, item.MemoryID); err != nil {
					stats.Errors++
					logger.ErrorWithFields(ctx, err, map[string]any{"memory_id": item.MemoryID, "step": "dedup_row_delete"})
					continue
				}
				stats.ItemsProcessed++
			}
			offset += len(items)
			if len(items) < handlerSweepPageSize {
				break
			}
		}
		return stats, nil
	})
}

// handleVectorReconcile is the sweep spec.md §3's MemoryItem invariant names
// directly: for every item with a recorded vector id, confirm the Raw
// collection actually has it; when it's missing, re-embed the plaintext
// content and re-insert under the same vector id convention so the
// relational row never needs to change.
func (s *Scheduler) handleVectorReconcile(ctx context.Context, _ *asynq.Task) error {
	return s.runAudited(ctx, TaskVectorReconcile, func(ctx context.Context) (RunStats, error) {
		stats := RunStats{Detail: map[string]any{}}
		offset := 0
		for {
			items, err := s.memories.ListForSweep(ctx, handlerSweepPageSize, offset)
			if err != nil {
				return stats, err
			}
			if len(items) == 0 {
				break
			}
			for _, item := range items {
				if item.EmbeddingVectorID == "" {
					continue
				}
				_, err := s.vectors.FetchByID(ctx, vectorstore.CollectionRaw, item.EmbeddingVectorID)
				if err == nil {
					continue
				}
				result, embedErr := s.embedder.Embed(ctx, item.Content)
				if embedErr != nil {
					stats.Errors++
					logger.ErrorWithFields(ctx, embedErr, map[string]any{"memory_id": item.MemoryID, "step": "reconcile_embed"})
					continue
				}
				newVectorID, insErr := s.vectors.Insert(ctx, vectorstore.CollectionRaw, result.Vector, vectorRecordFor(item))
				if insErr != nil {
					stats.Errors++
					logger.ErrorWithFields(ctx, insErr, map[string]any{"memory_id": item.MemoryID, "step": "reconcile_insert"})
					continue
				}
				item.EmbeddingVectorID = newVectorID
				if updErr := s.memories.Update(ctx, &item); updErr != nil {
					stats.Errors++
					logger.ErrorWithFields(ctx, updErr, map[string]any{"memory_id": item.MemoryID, "step": "reconcile_update_row"})
					continue
				}
				stats.ItemsProcessed++
			}
			offset += len(items)
			if len(items) < handlerSweepPageSize {
				break
			}
		}
		return stats, nil
	})
}

// handleRetentionCleanup archives then purges query_metrics and audit_logs
// rows past their retention window (spec.md §4.15's Sunday 05:00 job).
// Archival runs before the purge transaction commits its delete, so a
// failed archive write aborts that page's purge rather than losing rows.
func (s *Scheduler) handleRetentionCleanup(ctx context.Context, _ *asynq.Task) error {
	return s.runAudited(ctx, TaskRetentionCleanup, func(ctx context.Context) (RunStats, error) {
		stats := RunStats{Detail: map[string]any{}}
		queryCutoff := s.now().Add(-s.queryMetricsRetention)
		for {
			purged, err := s.queries.PurgeBefore(ctx, queryCutoff, purgePageSize)
			if err != nil {
				return stats, err
			}
			if len(purged) == 0 {
				break
			}
			if err := s.archiver.ArchiveQueryMetrics(purged); err != nil {
				stats.Errors++
				logger.ErrorWithFields(ctx, err, map[string]any{"step": "archive_query_metrics"})
			}
			stats.ItemsProcessed += len(purged)
			if len(purged) < purgePageSize {
				break
			}
		}

		auditCutoff := s.now().Add(-s.auditRetention)
		for {
			purged, err := s.auditRepo.PurgeBefore(ctx, auditCutoff, purgePageSize)
			if err != nil {
				return stats, err
			}
			if len(purged) == 0 {
				break
			}
			if err := s.archiver.ArchiveAuditEvents(purged); err != nil {
				stats.Errors++
				logger.ErrorWithFields(ctx, err, map[string]any{"step": "archive_audit_events"})
			}
			stats.ItemsProcessed += len(purged)
			if len(purged) < purgePageSize {
				break
			}
		}
		return stats, nil
	})
}
