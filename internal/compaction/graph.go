package compaction

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v6/neo4j"

	"github.com/memcortex/fabric/internal/logger"
	"github.com/memcortex/fabric/internal/types"
)

// GraphMirror persists TopicSummary.entity_map and
// DomainMap.cross_topic_relationships as a property graph so an operator
// can run traversal queries ("what connects topic A to topic B") that a
// relational entity_map column can't answer directly. The relational rows
// written by repository.TopicSummaryRepository/DomainMapRepository remain
// canonical; this is a best-effort secondary representation, same
// contract as audit.SecondaryIndex.
type GraphMirror struct {
	driver neo4j.DriverWithContext
}

func NewGraphMirror(uri, username, password string) (*GraphMirror, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, err
	}
	return &GraphMirror{driver: driver}, nil
}

// MirrorTopic writes one (:Topic)-[:MENTIONS]->(:Entity) fan-out per
// entity_map key, and one (:Entity)-[:RELATED_TO]->(:Entity) edge per
// related concept the synthesis step returned.
func (g *GraphMirror) MirrorTopic(ctx context.Context, summary *types.TopicSummary) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (t:Topic {topic_summary_id: $id})
			SET t.topic = $topic, t.user_id = $user_id
		`, map[string]any{"id": summary.TopicSummaryID.String(), "topic": summary.Topic, "user_id": summary.UserID.String()}); err != nil {
			return nil, err
		}

		for entity, related := range summary.EntityMap {
			relatedConcepts, _ := related.([]any)
			if _, err := tx.Run(ctx, `
				MERGE (e:Entity {name: $entity})
				WITH e
				MATCH (t:Topic {topic_summary_id: $id})
				MERGE (t)-[:MENTIONS]->(e)
			`, map[string]any{"entity": entity, "id": summary.TopicSummaryID.String()}); err != nil {
				return nil, err
			}
			for _, rc := range relatedConcepts {
				name, ok := rc.(string)
				if !ok {
					continue
				}
				if _, err := tx.Run(ctx, `
					MATCH (e:Entity {name: $entity})
					MERGE (r:Entity {name: $related})
					MERGE (e)-[:RELATED_TO]->(r)
				`, map[string]any{"entity": entity, "related": name}); err != nil {
					return nil, err
				}
			}
		}
		return nil, nil
	})
	if err != nil {
		logger.Warnf(ctx, "compaction: graph mirror for topic %s failed: %v", summary.Topic, err)
	}
}

// MirrorDomain writes a (:Domain)-[:SPANS]->(:Topic) edge per topology
// entry and one (:Topic)-[:CONNECTS_TO]->(:Topic) edge per cross-topic
// relationship insight — the traversal an operator means by "what connects
// topic A to topic B".
func (g *GraphMirror) MirrorDomain(ctx context.Context, domain *types.DomainMap, topicIDs []string) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (d:Domain {domain_map_id: $id})
			SET d.domain_name = $name, d.user_id = $user_id
		`, map[string]any{"id": domain.DomainMapID.String(), "name": domain.DomainName, "user_id": domain.UserID.String()}); err != nil {
			return nil, err
		}
		for _, topicID := range topicIDs {
			if _, err := tx.Run(ctx, `
				MATCH (d:Domain {domain_map_id: $domain_id})
				MATCH (t:Topic {topic_summary_id: $topic_id})
				MERGE (d)-[:SPANS]->(t)
			`, map[string]any{"domain_id": domain.DomainMapID.String(), "topic_id": topicID}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		logger.Warnf(ctx, "compaction: graph mirror for domain %s failed: %v", domain.DomainName, err)
	}
}

func (g *GraphMirror) Close(ctx context.Context) error { return g.driver.Close(ctx) }
