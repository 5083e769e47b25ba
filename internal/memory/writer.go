// Package memory implements the memory write path (C6): the single entry
// point that turns plaintext content into an encrypted relational row plus
// its vector-store mirror, with deduplication, privacy classification, and
// audit emission in between.
package memory

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/memcortex/fabric/internal/audit"
	"github.com/memcortex/fabric/internal/crypto"
	"github.com/memcortex/fabric/internal/embedding"
	fabricerrors "github.com/memcortex/fabric/internal/errors"
	"github.com/memcortex/fabric/internal/logger"
	"github.com/memcortex/fabric/internal/privacy"
	"github.com/memcortex/fabric/internal/repository"
	"github.com/memcortex/fabric/internal/types"
	"github.com/memcortex/fabric/internal/vectorstore"
)

// CreateInput is the caller-facing contract for Writer.Create.
type CreateInput struct {
	UserID            uuid.UUID
	TenantID          string
	Content           string
	Tags              []string
	Source            string
	Phase             string
	Tier              types.MemoryTier
	PrivacyLevel      types.PrivacyLevel // empty triggers auto-detection
	AutoDetectPrivacy bool
	Metadata          map[string]any
}

// Writer owns the full create/update/delete pipeline for memory items.
type Writer struct {
	items    repository.MemoryItemRepository
	vectors  vectorstore.Store
	crypto   *crypto.Manager
	embedder embedding.Embedder
	audit    *audit.Logger
}

func NewWriter(items repository.MemoryItemRepository, vectors vectorstore.Store, cryptoMgr *crypto.Manager, embedder embedding.Embedder, auditLogger *audit.Logger) *Writer {
	return &Writer{items: items, vectors: vectors, crypto: cryptoMgr, embedder: embedder, audit: auditLogger}
}

// qaPollutionPatterns flags memory content that is actually a captured
// question/answer exchange rather than a standalone fact, so it can be
// excluded from knowledge-quality retrieval paths without being rejected
// outright at write time.
var qaPollutionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)^Q:\s*.+\n+A:\s*.+`),
	regexp.MustCompile(`(?is)^User:\s*.+\n+Assistant:\s*.+`),
	regexp.MustCompile(`(?is)^Query:\s*.+\n+Response:\s*.+`),
	regexp.MustCompile(`(?is)^Question:\s*.+\n+Answer:\s*.+`),
}

func isQAPollution(content string) bool {
	for _, p := range qaPollutionPatterns {
		if p.MatchString(content) {
			return true
		}
	}
	return false
}

// Create runs the full write pipeline and returns the new memory id, or nil
// with no error when (user, content_hash) already exists.
func (w *Writer) Create(ctx context.Context, in CreateInput) (*uuid.UUID, error) {
	contentHash := crypto.HashContent(in.Content)

	existing, err := w.items.GetByContentHash(ctx, in.UserID, contentHash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		w.audit.Emit(ctx, audit.Event{
			Kind:      types.AuditTransform,
			Source:    "memory",
			Operation: "create_memory_duplicate",
			ItemCount: 0,
		})
		return nil, nil
	}

	level := in.PrivacyLevel
	if level == "" {
		if in.AutoDetectPrivacy {
			level = privacy.Detect(in.Content, in.Tags, types.PrivacyInternal)
		} else {
			level = types.PrivacyInternal
		}
	}
	if !privacy.Validate(level) {
		return nil, fmt.Errorf("%w: invalid privacy level %q", fabricerrors.ErrValidation, level)
	}

	encrypted, err := w.crypto.EncryptToBase64(in.Content, nil)
	if err != nil {
		return nil, err
	}

	embedStart := time.Now()
	embedResult, err := w.embedder.Embed(ctx, in.Content)
	if err != nil {
		return nil, err
	}
	embeddingLatency := time.Since(embedStart)

	memoryID := uuid.New()
	metadata := map[string]any{}
	for k, v := range in.Metadata {
		metadata[k] = v
	}
	if in.Source != "" {
		metadata["source"] = in.Source
	}

	vectorID, err := w.vectors.Insert(ctx, vectorstore.CollectionRaw, embedResult.Vector, types.VectorRecord{
		Content:      in.Content,
		ContentHash:  contentHash,
		SourceID:     memoryID.String(), // resolved up front; no chicken-and-egg update needed
		SourceType:   types.SourceTypeMemory,
		UserID:       in.UserID.String(),
		PrivacyLevel: level,
		Tags:         in.Tags,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	tier := in.Tier
	if tier == "" {
		tier = types.TierShort
	}

	item := &types.MemoryItem{
		MemoryID:          memoryID,
		UserID:            in.UserID,
		TenantID:          in.TenantID,
		Content:           in.Content,
		ContentHash:       contentHash,
		EncryptedContent:  []byte(encrypted),
		EmbeddingVectorID: vectorID,
		Tier:              tier,
		Phase:             in.Phase,
		Tags:              in.Tags,
		PrivacyLevel:      level,
		QAPollution:       isQAPollution(in.Content),
		CreatedAt:         time.Now().UTC(),
		UpdatedAt:         time.Now().UTC(),
		Metadata:          metadata,
	}

	if err := w.items.Create(ctx, item); err != nil {
		// the row never landed; best-effort remove the orphaned vector so a
		// reconciliation sweep doesn't have to do it later.
		if _, delErr := w.vectors.Delete(ctx, vectorstore.CollectionRaw, vectorID); delErr != nil {
			logger.ErrorWithFields(ctx, delErr, map[string]any{"vector_id": vectorID, "reason": "rollback after relational insert failure"})
		}
		return nil, err
	}

	w.audit.Emit(ctx, audit.Event{
		Kind:               types.AuditTransform,
		Source:             "memory",
		Operation:          "create",
		Destination:        "vectorstore",
		ItemCount:          1,
		DataClassification: level,
		Metadata: map[string]any{
			"memory_id":            memoryID.String(),
			"tier":                 string(tier),
			"content_length":       len(in.Content),
			"embedding_latency_ms": embeddingLatency.Milliseconds(),
		},
	})

	return &memoryID, nil
}

// UpdateInput carries only the fields the caller wants to change; a nil
// pointer/empty value means "leave as-is", matching memory_crud.py's
// Optional-parameter update semantics.
type UpdateInput struct {
	Content      *string
	Tags         []string
	Tier         types.MemoryTier
	Phase        *string
	PrivacyLevel types.PrivacyLevel
	Metadata     map[string]any
}

// Update applies partial changes. A content change re-encrypts and
// re-embeds and replaces the vector outright; a tag/privacy-only change
// patches the existing vector's payload without touching its embedding.
func (w *Writer) Update(ctx context.Context, memoryID uuid.UUID, in UpdateInput) error {
	item, err := w.items.GetByID(ctx, memoryID)
	if err != nil {
		return err
	}

	vectorPatch := &types.VectorRecord{}
	var newVector []float32
	patched := false

	if in.Content != nil {
		item.Content = *in.Content
		item.ContentHash = crypto.HashContent(*in.Content)
		encrypted, err := w.crypto.EncryptToBase64(*in.Content, nil)
		if err != nil {
			return err
		}
		item.EncryptedContent = []byte(encrypted)

		embedResult, err := w.embedder.Embed(ctx, *in.Content)
		if err != nil {
			return err
		}
		newVector = embedResult.Vector
		vectorPatch.Content = *in.Content
		patched = true
	}

	if in.Tags != nil {
		item.Tags = in.Tags
		vectorPatch.Tags = in.Tags
		patched = true
	}

	if in.Tier != "" {
		item.Tier = in.Tier
	}

	if in.Phase != nil {
		item.Phase = *in.Phase
	}

	if in.PrivacyLevel != "" {
		if !privacy.Validate(in.PrivacyLevel) {
			return fmt.Errorf("%w: invalid privacy level %q", fabricerrors.ErrValidation, in.PrivacyLevel)
		}
		item.PrivacyLevel = in.PrivacyLevel
		vectorPatch.PrivacyLevel = in.PrivacyLevel
		patched = true
	}

	if in.Metadata != nil {
		item.Metadata = in.Metadata
	}

	if patched {
		if err := w.vectors.Update(ctx, vectorstore.CollectionRaw, item.EmbeddingVectorID, newVector, vectorPatch); err != nil {
			return err
		}
	}

	item.UpdatedAt = time.Now().UTC()

	if err := w.items.Update(ctx, item); err != nil {
		return err
	}

	w.audit.Emit(ctx, audit.Event{
		Kind:      types.AuditTransform,
		Source:    "memory",
		Operation: "update",
		ItemCount: 1,
		Metadata:  map[string]any{"memory_id": memoryID.String()},
	})
	return nil
}

// Delete removes the vector first (best-effort; missing is fine), then the
// relational row, per spec.md §4.5.
func (w *Writer) Delete(ctx context.Context, memoryID uuid.UUID) error {
	item, err := w.items.GetByID(ctx, memoryID)
	if err != nil {
		return err
	}

	if item.EmbeddingVectorID != "" {
		if _, err := w.vectors.Delete(ctx, vectorstore.CollectionRaw, item.EmbeddingVectorID); err != nil {
			logger.ErrorWithFields(ctx, err, map[string]any{"memory_id": memoryID.String(), "vector_id": item.EmbeddingVectorID})
		}
	}

	if err := w.items.Delete(ctx, memoryID); err != nil {
		return err
	}

	w.audit.Emit(ctx, audit.Event{
		Kind:      types.AuditTransform,
		Source:    "memory",
		Operation: "delete",
		ItemCount: 1,
		Metadata:  map[string]any{"memory_id": memoryID.String()},
	})
	return nil
}
