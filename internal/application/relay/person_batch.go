package relay

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/neese/crmsync/internal/domain/relay"
)

// DefaultPersonConcurrency bounds concurrent person lookups
const DefaultPersonConcurrency = 8

// ResolvePersons resolves each distinct person id with one call per id,
// concurrently, and returns the persons found. Lookup failures are logged
// and leave the id unresolved.
func ResolvePersons(
	ctx context.Context,
	resolver relay.PersonResolver,
	ids []int64,
	concurrency int,
	logger *zap.Logger,
) map[int64]*relay.PersonRecord {
	distinct := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		distinct = append(distinct, id)
	}

	resolved := make([]*relay.PersonRecord, len(distinct))
	if concurrency <= 0 {
		concurrency = DefaultPersonConcurrency
	}

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, id := range distinct {
		g.Go(func() error {
			person, err := resolver.ResolvePerson(ctx, id)
			if err != nil {
				logger.Warn("Person lookup failed",
					zap.Int64("person_id", id),
					zap.Error(err),
				)
				return nil
			}
			resolved[i] = person
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[int64]*relay.PersonRecord, len(distinct))
	for i, id := range distinct {
		if resolved[i] != nil {
			out[id] = resolved[i]
		}
	}
	return out
}
