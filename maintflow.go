/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package maintflow

import (
	"embed"
	"time"

	"github.com/maintflow/maintflow/config"
	"github.com/maintflow/maintflow/database"
	"github.com/maintflow/maintflow/internal/cache"
	redis_db "github.com/maintflow/maintflow/internal/redis-db"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("maintflow.approvals")

//go:embed sql/*.sql
var SQLFiles embed.FS

// Maintflow is the approval service: the engine, the outbox monitoring
// operations and the webhook receiver all hang off it.
type Maintflow struct {
	datasource  database.IDataSource
	redis       redis.UniversalClient
	cache       cache.Cache
	refHandlers *RefHandlerRegistry
	hmacSecret  string
	markerTTL   time.Duration
	now         func() time.Time
}

// NewMaintflow builds the service on db. Redis is optional: without it the
// receiver deduplicates against the database only and the dispatcher runs
// without a cross-instance lease.
func NewMaintflow(db database.IDataSource) (*Maintflow, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	m := &Maintflow{
		datasource:  db,
		refHandlers: DefaultRefHandlers(),
		hmacSecret:  configuration.Approval.HmacSecret,
		markerTTL:   configuration.Approval.IdempotencyCacheTTL(),
		now:         time.Now,
	}

	if configuration.Redis.Dns != "" {
		r, err := redis_db.NewRedisClient(redis_db.SplitAddresses(configuration.Redis.Dns), configuration.Redis.SkipTLSVerify)
		if err != nil {
			return nil, err
		}
		m.redis = r.Client()
		m.cache = cache.NewRedisCache(r.Client())
	}
	return m, nil
}

// RefHandlers exposes the registry so callers can register extra handlers.
func (m *Maintflow) RefHandlers() *RefHandlerRegistry {
	return m.refHandlers
}

// Redis returns the configured Redis client, or nil.
func (m *Maintflow) Redis() redis.UniversalClient {
	return m.redis
}

func (m *Maintflow) clock() time.Time {
	return m.now().UTC()
}
