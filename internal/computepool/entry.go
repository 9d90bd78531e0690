package computepool

import (
	"time"

	"github.com/google/uuid"

	"github.com/outpostdb/outpost/internal/domain"
)

// Closer is the minimal capability every pooled payload type must
// offer. The two concrete payloads (connectmech.NativeConn, wrapping a
// native *pgconn.PgConn, and connectmech.HTTP2Conn, wrapping an HTTP/2
// client connection) both satisfy it.
type Closer interface {
	Close() error
}

// Pinger is implemented by payload types that can cheaply report
// whether the underlying connection is still usable. The reaper uses
// this, when present, to evict idle entries whose driver has already
// observed a terminal error — payloads that don't implement it are
// only ever evicted by idle-timeout.
type Pinger interface {
	Ping() error
}

// PooledEntry wraps a backend connection with the bookkeeping the pool
// needs: its lookup key, a UUIDv4 identity (spec: "monotonically
// assigned conn_id"), and the telemetry blob carried alongside it.
type PooledEntry[C Closer] struct {
	ConnID    uuid.UUID
	Conn      C
	Aux       domain.MetricsAuxInfo
	key       domain.ConnInfo
	createdAt time.Time
	lastUsed  time.Time
}

func newEntry[C Closer](key domain.ConnInfo, conn C, aux domain.MetricsAuxInfo) *PooledEntry[C] {
	now := time.Now()
	return &PooledEntry[C]{
		ConnID:    uuid.New(),
		Conn:      conn,
		Aux:       aux,
		key:       key,
		createdAt: now,
		lastUsed:  now,
	}
}

// CreatedAt reports when the entry was installed into its pool.
func (e *PooledEntry[C]) CreatedAt() time.Time { return e.createdAt }

// LastUsed reports when the entry was last checked out.
func (e *PooledEntry[C]) LastUsed() time.Time { return e.lastUsed }
