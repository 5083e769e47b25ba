package audit

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/memcortex/fabric/internal/logger"
	"github.com/memcortex/fabric/internal/types"
)

// SecondaryIndex mirrors audit events into Elasticsearch for operator
// full-text search/export. The relational table in repository.AuditRepository
// remains canonical and append-only; this index is a best-effort secondary
// read path, never the write-of-record.
type SecondaryIndex struct {
	client *elasticsearch.Client
	index  string
}

// NewSecondaryIndex builds an indexer over the given ES addresses. A caller
// with no ES configured should simply not construct one and pass a nil
// *SecondaryIndex to NewLogger's WithIndex.
func NewSecondaryIndex(addresses []string, index string) (*SecondaryIndex, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: addresses})
	if err != nil {
		return nil, err
	}
	if index == "" {
		index = "audit-events"
	}
	return &SecondaryIndex{client: client, index: index}, nil
}

// mirror asynchronously mirrors one event; failures are logged, never
// surfaced, matching the same best-effort contract as the relational write.
func (s *SecondaryIndex) mirror(ctx context.Context, event *types.AuditEvent) {
	go func() {
		body, err := json.Marshal(event)
		if err != nil {
			logger.Warnf(ctx, "audit: marshaling event for secondary index: %v", err)
			return
		}
		req := esapi.IndexRequest{
			Index:      s.index,
			DocumentID: event.EventID.String(),
			Body:       bytes.NewReader(body),
			Refresh:    "false",
		}
		res, err := req.Do(context.Background(), s.client)
		if err != nil {
			logger.Warnf(ctx, "audit: secondary index write failed: %v", err)
			return
		}
		defer res.Body.Close()
		if res.IsError() {
			logger.Warnf(ctx, "audit: secondary index responded %s", res.Status())
		}
	}()
}
