// Package resolver maps free-text names to canonical entity and category
// identifiers.
package resolver

import (
	"strings"

	"github.com/dvloznov/voice-ledger/internal/domain"
	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
)

// Rule names the matching rule that produced a result.
type Rule string

const (
	RuleNone     Rule = "none"
	RuleExact    Rule = "exact"
	RuleContains Rule = "contains"
)

// Candidate is a record a name may resolve to.
type Candidate struct {
	ID   string
	Name string
}

// Result describes one resolution.
type Result struct {
	ID        string
	Rule      Rule
	Ambiguous bool
	// Alternatives lists the ids of every candidate the winning rule
	// matched, in candidate order.
	Alternatives []string
}

// Matched reports whether a candidate was found.
func (r Result) Matched() bool {
	return r.Rule != RuleNone
}

// Resolver applies the matching policy: case-insensitive exact match, then
// case-insensitive containment in either direction, then no match. Within a
// rule the first candidate in list order wins.
//
// A Resolver is safe for concurrent use.
type Resolver struct {
	log zerolog.Logger
}

// New creates a resolver.
func New(log zerolog.Logger) *Resolver {
	return &Resolver{log: log}
}

// Resolve returns the id name resolves to, or "" when name is nil, blank,
// or matches nothing.
func (r *Resolver) Resolve(name *string, candidates []Candidate) string {
	if name == nil {
		return ""
	}
	return r.Match(*name, candidates).ID
}

// Match resolves name and reports how.
func (r *Resolver) Match(name string, candidates []Candidate) Result {
	// Casers are stateful and not shared between goroutines.
	fold := cases.Fold()
	needle := normalize(fold, name)
	if needle == "" {
		return Result{Rule: RuleNone}
	}

	folded := make([]string, len(candidates))
	for i, c := range candidates {
		folded[i] = normalize(fold, c.Name)
	}

	var exact []string
	for i, c := range candidates {
		if folded[i] == needle {
			exact = append(exact, c.ID)
		}
	}
	if len(exact) > 0 {
		return r.result(name, RuleExact, exact)
	}

	var partial []string
	for i, c := range candidates {
		if folded[i] == "" {
			continue
		}
		if strings.Contains(folded[i], needle) || strings.Contains(needle, folded[i]) {
			partial = append(partial, c.ID)
		}
	}
	if len(partial) > 0 {
		return r.result(name, RuleContains, partial)
	}

	r.log.Debug().Str("name", name).Msg("No candidate matched")
	return Result{Rule: RuleNone}
}

func (r *Resolver) result(name string, rule Rule, ids []string) Result {
	res := Result{ID: ids[0], Rule: rule, Alternatives: ids}
	if len(ids) > 1 {
		res.Ambiguous = true
		r.log.Warn().
			Str("name", name).
			Str("rule", string(rule)).
			Str("chosen", ids[0]).
			Strs("alternatives", ids).
			Msg("resolution_ambiguous")
	}
	return res
}

func normalize(fold cases.Caser, s string) string {
	return fold.String(strings.Join(strings.Fields(s), " "))
}

// EntityCandidates converts entities to candidates, keeping only active ones.
func EntityCandidates(entities []domain.Entity) []Candidate {
	active := domain.ActiveEntities(entities)
	out := make([]Candidate, 0, len(active))
	for _, e := range active {
		out = append(out, Candidate{ID: e.ID, Name: e.Name})
	}
	return out
}

// CategoryCandidates converts categories compatible with typ to candidates.
func CategoryCandidates(categories []domain.Category, typ domain.TransactionType) []Candidate {
	compatible := domain.FilterCategories(categories, typ)
	out := make([]Candidate, 0, len(compatible))
	for _, c := range compatible {
		out = append(out, Candidate{ID: c.ID, Name: c.Name})
	}
	return out
}

// ResolveDraft replaces the free-text names of draft with resolved ids.
// Unresolved names leave the corresponding id empty; this never fails.
func (r *Resolver) ResolveDraft(draft *domain.TransactionDraft, entities []domain.Entity, categories []domain.Category) *domain.ResolvedDraft {
	entityCands := EntityCandidates(entities)

	resolved := &domain.ResolvedDraft{
		Type:          draft.Type,
		Amount:        draft.Amount,
		Description:   draft.Description,
		OriginID:      r.Resolve(draft.OriginName, entityCands),
		DestinationID: r.Resolve(draft.DestinationName, entityCands),
		CategoryID:    r.Resolve(draft.SuggestedCategoryName, CategoryCandidates(categories, draft.Type)),
		Date:          draft.Date,
		Confidence:    draft.Confidence,
		OriginalText:  draft.OriginalText,
	}

	r.log.Debug().
		Bool("origin_resolved", resolved.OriginID != "").
		Bool("destination_resolved", resolved.DestinationID != "").
		Bool("category_resolved", resolved.CategoryID != "").
		Msg("Draft resolved")

	return resolved
}
