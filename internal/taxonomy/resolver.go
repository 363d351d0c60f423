// Package taxonomy maps normalized category labels to stable taxonomy terms
// in the document store, creating missing terms lazily.
package taxonomy

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/hirepath/jobsync-server/internal/model"
	"github.com/hirepath/jobsync-server/internal/store"
)

// Resolver resolves (kind, label) pairs to taxonomy term references. The
// cache is run-scoped: a fresh Resolver is created for every sync run so
// external term edits between runs are picked up.
type Resolver struct {
	store store.TaxonomyStore
	cache map[cacheKey]model.TermRef
}

type cacheKey struct {
	kind model.TaxonomyKind
	slug string
}

// NewResolver creates a Resolver with an empty cache.
func NewResolver(taxonomyStore store.TaxonomyStore) *Resolver {
	return &Resolver{
		store: taxonomyStore,
		cache: make(map[cacheKey]model.TermRef),
	}
}

// Resolve returns the term reference for the given kind and label, creating
// the term if it does not exist. Two records introducing the same new term
// within one run resolve to a single term via the cache.
func (r *Resolver) Resolve(ctx context.Context, kind model.TaxonomyKind, label string) (model.TermRef, error) {
	slug := Slugify(label)
	if slug == "" {
		return model.TermRef{}, fmt.Errorf("label %q yields an empty slug", label)
	}

	key := cacheKey{kind: kind, slug: slug}
	if ref, ok := r.cache[key]; ok {
		return ref, nil
	}

	ref, err := r.store.UpsertTaxonomyTerm(ctx, kind, slug, strings.TrimSpace(label))
	if err != nil {
		return model.TermRef{}, fmt.Errorf("failed to resolve term (%s, %s): %w", kind, slug, err)
	}

	r.cache[key] = ref
	return ref, nil
}

// ResolveRecord resolves every classifiable field of a job record. Empty
// fields contribute no term. The remote taxonomy gets a fixed on-site/remote
// term so listings can be filtered on either value.
func (r *Resolver) ResolveRecord(ctx context.Context, rec *model.JobRecord) ([]model.TermRef, error) {
	labels := []struct {
		kind  model.TaxonomyKind
		label string
	}{
		{model.KindDepartment, rec.Department},
		{model.KindLocation, rec.Location},
		{model.KindEmploymentType, rec.EmploymentType},
		{model.KindExperienceLevel, rec.ExperienceLevel},
		{model.KindRemote, remoteLabel(rec.Remote)},
	}

	refs := make([]model.TermRef, 0, len(labels))
	for _, l := range labels {
		if strings.TrimSpace(l.label) == "" {
			continue
		}
		ref, err := r.Resolve(ctx, l.kind, l.label)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}

	return refs, nil
}

func remoteLabel(remote bool) string {
	if remote {
		return "Remote"
	}
	return "On-site"
}

// Slugify converts a label to its canonical slug: lower case, runs of
// non-alphanumeric characters collapsed to single hyphens, trimmed.
func Slugify(label string) string {
	var b strings.Builder
	lastHyphen := true // suppress leading hyphen

	for _, r := range strings.ToLower(strings.TrimSpace(label)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
	}

	return strings.TrimRight(b.String(), "-")
}
