package cache

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	projectdomain "github.com/tracklane/tracklane/internal/project/domain"
)

const (
	defaultProjectTTL  = 10 * time.Minute
	defaultProjectSize = 4096
)

// ProjectResolverCache stores hot-path project key lookups. Every request
// under a project path resolves the key before touching task rows, so a miss
// here is a per-request query.
type ProjectResolverCache interface {
	GetProject(orgID snowflake.ID, key string) (*projectdomain.Project, bool)
	SetProject(orgID snowflake.ID, key string, project *projectdomain.Project)
}

type projectResolverCache struct {
	projects *lru.LRU[string, projectdomain.Project]
}

// NewProjectResolverCache returns an in-memory cache for key resolution.
// Project keys are immutable after creation, so entries age out only to
// bound memory, never to pick up renames. Misses are not cached; a freshly
// created project resolves on its first request.
func NewProjectResolverCache() ProjectResolverCache {
	return &projectResolverCache{
		projects: lru.NewLRU[string, projectdomain.Project](defaultProjectSize, nil, defaultProjectTTL),
	}
}

func (c *projectResolverCache) GetProject(orgID snowflake.ID, key string) (*projectdomain.Project, bool) {
	project, ok := c.projects.Get(cacheKey(orgID.String(), key))
	if !ok {
		return nil, false
	}
	return &project, true
}

func (c *projectResolverCache) SetProject(orgID snowflake.ID, key string, project *projectdomain.Project) {
	if project == nil || project.ID == 0 {
		return
	}
	c.projects.Add(cacheKey(orgID.String(), key), *project)
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
