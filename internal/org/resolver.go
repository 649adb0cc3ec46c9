package org

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/AI-codelabs/leadloopr-integrations/internal/domain"
	"github.com/AI-codelabs/leadloopr-integrations/internal/repository"
)

// Context stores resolved org metadata used throughout the request lifecycle.
type Context struct {
	Org domain.Org
}

// Resolver loads org metadata from the repository.
type Resolver struct {
	repo repository.OrgRepository
}

// NewResolver creates an org resolver.
func NewResolver(repo repository.OrgRepository) *Resolver {
	return &Resolver{repo: repo}
}

// ResolveBySlug loads org information from the org slug header.
func (r *Resolver) ResolveBySlug(ctx context.Context, slug string) (*Context, error) {
	cleaned := strings.ToLower(strings.TrimSpace(slug))
	if cleaned == "" {
		zap.L().Warn("org resolver received empty slug")
		return nil, fmt.Errorf("resolve org: empty slug")
	}

	orgRow, err := r.repo.GetOrgBySlug(ctx, cleaned)
	if err != nil {
		zap.L().Error("failed to resolve org by slug", zap.String("slug", cleaned), zap.Error(err))
		return nil, fmt.Errorf("resolve org by slug: %w", err)
	}
	if orgRow.Status != "" && orgRow.Status != "active" {
		return nil, fmt.Errorf("resolve org: org %s is %s", cleaned, orgRow.Status)
	}

	zap.L().Debug("org context resolved", zap.String("slug", cleaned), zap.Int64("org_id", orgRow.ID))
	return &Context{Org: orgRow}, nil
}
