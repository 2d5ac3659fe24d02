// Package foreignkeys resolves dotted column references such as
// "author.profile.bio" into a tree of foreign key joins.
package foreignkeys

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/ekaya-inc/ekaya-rest/pkg/tablestats"
)

// Reference is one foreign key hop. NestedFKs is nil when no requested path
// continues past the referred table, and also when paths do continue but none
// of their next segments is a foreign key of the referred table. An empty
// nested result is never stored as an empty slice.
type Reference struct {
	// OriginalRefs are the requested column strings that go through this hop,
	// relative to the table the hop starts from.
	OriginalRefs        []string
	ReferringColumn     string
	TableReferred       string
	TableColumnReferred string
	NestedFKs           []Reference
}

// StatsSource provides column metadata; *tablestats.Cache implements it.
type StatsSource interface {
	Get(ctx context.Context, table string) (*tablestats.TableStats, error)
}

// Resolver builds foreign key trees from table metadata.
type Resolver struct {
	stats StatsSource
}

// NewResolver creates a Resolver reading metadata from stats.
func NewResolver(stats StatsSource) *Resolver {
	return &Resolver{stats: stats}
}

type group struct {
	remainders   []string
	originalRefs []string
}

// Resolve returns the foreign key references implied by the dotted entries
// of columns, or nil when none contains a dot. References are ordered by the
// ordinal position of their referring column. Dotted columns whose first
// segment is not a foreign key of table are dropped.
func (r *Resolver) Resolve(ctx context.Context, table string, columns []string) ([]Reference, error) {
	var dotted []string
	for _, col := range columns {
		if strings.Contains(col, ".") {
			dotted = append(dotted, col)
		}
	}
	if len(dotted) == 0 {
		return nil, nil
	}
	slices.Sort(dotted)
	dotted = slices.Compact(dotted)

	groups := make(map[string]*group)
	for _, col := range dotted {
		parent, rest, _ := strings.Cut(col, ".")
		g, ok := groups[parent]
		if !ok {
			g = &group{}
			groups[parent] = g
		}
		g.remainders = append(g.remainders, rest)
		g.originalRefs = append(g.originalRefs, col)
	}

	stats, err := r.stats.Get(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats for %s: %w", table, err)
	}

	refs := make([]Reference, 0, len(groups))
	for _, stat := range stats.Columns {
		if !stat.IsForeignKey || stat.ForeignKeyTable == nil {
			continue
		}
		g, ok := groups[stat.ColumnName]
		if !ok {
			continue
		}

		ref := Reference{
			OriginalRefs:    g.originalRefs,
			ReferringColumn: stat.ColumnName,
			TableReferred:   *stat.ForeignKeyTable,
		}
		if stat.ForeignKeyColumn != nil {
			ref.TableColumnReferred = *stat.ForeignKeyColumn
		}

		if slices.ContainsFunc(g.remainders, func(s string) bool { return strings.Contains(s, ".") }) {
			nested, err := r.Resolve(ctx, ref.TableReferred, g.remainders)
			if err != nil {
				return nil, err
			}
			// Unmatched nested paths collapse to nil.
			if len(nested) > 0 {
				ref.NestedFKs = nested
			}
		}

		refs = append(refs, ref)
	}

	return refs, nil
}

// Unmatched returns the dotted columns, sorted, that no reference in refs
// covers. An empty result means every dotted column resolved to a join path.
func Unmatched(columns []string, refs []Reference) []string {
	covered := make(map[string]bool)
	collectCovered(refs, "", covered)

	var missing []string
	for _, col := range columns {
		if !strings.Contains(col, ".") || covered[col] {
			continue
		}
		missing = append(missing, col)
	}
	slices.Sort(missing)
	return slices.Compact(missing)
}

// collectCovered marks every column string whose whole join path exists.
// A path is complete when its final segment is a plain column of the last
// referred table.
func collectCovered(refs []Reference, prefix string, covered map[string]bool) {
	for _, ref := range refs {
		for _, orig := range ref.OriginalRefs {
			_, rest, _ := strings.Cut(orig, ".")
			if !strings.Contains(rest, ".") {
				covered[prefix+orig] = true
			}
		}
		collectCovered(ref.NestedFKs, prefix+ref.ReferringColumn+".", covered)
	}
}
