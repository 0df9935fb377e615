package tags

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
)

// Applier reconciles computed tag memberships into the store
type Applier struct {
	repo *Repository
	log  zerolog.Logger
}

// NewApplier creates a new tag applier
func NewApplier(repo *Repository, log zerolog.Logger) *Applier {
	return &Applier{
		repo: repo,
		log:  log.With().Str("service", "tag_applier").Logger(),
	}
}

// Apply makes one tag's associations match the qualifying tickers, inside
// the caller's transaction. For dynamic families the association set is
// replaced wholesale; for static families it only accumulates. An empty
// ticker list still creates the tag row, leaving a visible "computed and
// currently empty" tag rather than deleting it.
func (a *Applier) Apply(tx *sql.Tx, name string, family Family, tickers []string) (int, error) {
	tagID, err := a.repo.EnsureTag(tx, name, family.Name)
	if err != nil {
		return 0, fmt.Errorf("failed to ensure tag %s: %w", name, err)
	}

	var applied int
	if family.Dynamic {
		applied, err = a.repo.ReplaceAssociations(tx, tagID, tickers)
	} else {
		applied, err = a.repo.AddAssociations(tx, tagID, tickers)
	}
	if err != nil {
		return applied, fmt.Errorf("failed to apply tag %s: %w", name, err)
	}

	a.log.Debug().
		Str("tag", name).
		Str("family", family.Name).
		Int("applied", applied).
		Msg("Tag applied")

	return applied, nil
}

// ApplyFamily applies one family's computed memberships. A failure on one
// tag is logged and counted but does not abort the remaining tags: families
// and tags are independent of each other within a run.
func (a *Applier) ApplyFamily(tx *sql.Tx, family Family, computed map[string][]string) (applied int, errs []error) {
	for name, tickers := range computed {
		n, err := a.Apply(tx, name, family, tickers)
		if err != nil {
			a.log.Warn().Err(err).Str("tag", name).Msg("Failed to apply tag, continuing with next")
			errs = append(errs, fmt.Errorf("tag %s: %w", name, err))
			continue
		}
		applied += n
	}
	return applied, errs
}
