// Package chain provides the approval-route policies used at request
// submission. A configured per-system route wins when one exists, otherwise
// the directory-based fallback builds the default manager-plus-security-
// officer route.
package chain

import (
	"context"
	"fmt"
	"sort"

	dErrors "entitle/pkg/domain-errors"

	"entitle/internal/directory"
	"entitle/internal/request"
)

// Configured resolves stages from per-system chain configuration rows.
type Configured struct {
	store request.ChainConfigStore
}

// NewConfigured builds a Configured policy over the given store.
func NewConfigured(store request.ChainConfigStore) *Configured {
	return &Configured{store: store}
}

// Resolve loads the system's configured route, ordered by step number.
func (c *Configured) Resolve(ctx context.Context, req request.AccessRequest) ([]request.ChainStage, error) {
	rows, err := c.store.ListBySystem(ctx, req.SystemID)
	if err != nil {
		return nil, fmt.Errorf("list chain config: %w", err)
	}
	stages := make([]request.ChainStage, 0, len(rows))
	for _, row := range rows {
		stages = append(stages, request.ChainStage{
			StepNumber:   row.StepNumber,
			ApproverID:   row.ApproverID,
			ApproverRole: row.ApproverRole,
		})
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i].StepNumber < stages[j].StepNumber })
	return stages, nil
}

// Fallback builds the default route from the directory: the target user's
// manager first, then the first active administrator as security officer.
type Fallback struct {
	dir directory.Directory
}

// NewFallback builds a Fallback policy over the given directory.
func NewFallback(dir directory.Directory) *Fallback {
	return &Fallback{dir: dir}
}

// Resolve returns up to two stages: Manager (step 1) and Security Officer
// (step 2). The manager stage is omitted only when the target has no linked
// manager, the officer stage only when no active administrator exists; a
// missing security officer is tolerated rather than failing the submission.
func (f *Fallback) Resolve(ctx context.Context, req request.AccessRequest) ([]request.ChainStage, error) {
	var stages []request.ChainStage

	target, err := f.dir.LookupUser(ctx, req.TargetUserID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "target user not found")
	}
	if !target.ManagerID.IsNil() {
		stages = append(stages, request.ChainStage{
			StepNumber:   1,
			ApproverID:   target.ManagerID,
			ApproverRole: "Manager",
		})
	}

	officer, err := f.dir.FirstActiveAdmin(ctx)
	if err == nil {
		stages = append(stages, request.ChainStage{
			StepNumber:   2,
			ApproverID:   officer.ID,
			ApproverRole: "Security Officer",
		})
	}
	return stages, nil
}

// Resolver selects between a configured route and the fallback: when the
// system has at least one configured stage that route is used verbatim,
// otherwise the fallback applies.
type Resolver struct {
	configured request.ChainPolicy
	fallback   request.ChainPolicy
}

// NewResolver wires the two policies together.
func NewResolver(configured, fallback request.ChainPolicy) *Resolver {
	return &Resolver{configured: configured, fallback: fallback}
}

// Resolve implements request.ChainPolicy.
func (r *Resolver) Resolve(ctx context.Context, req request.AccessRequest) ([]request.ChainStage, error) {
	stages, err := r.configured.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(stages) > 0 {
		return stages, nil
	}
	return r.fallback.Resolve(ctx, req)
}
