package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"rolectl/internal/database/migrations"
	"rolectl/internal/settings"
)

// roleChangesChannel is the NOTIFY channel the roles trigger writes
// "<server_id>/<role_id>" to.
const roleChangesChannel = "role_changes"

// NewPostgresDatabase opens a PostgreSQL connection pool and starts the
// role change feed.
func NewPostgresDatabase(dsn string, clock settings.Clock, ids settings.IDGenerator) (*SQLDatabase, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := newSQLDatabase(db, migrations.Postgres, "", clock, ids)

	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, nil)
	if err := listener.Listen(roleChangesChannel); err != nil {
		listener.Close()
		db.Close()
		return nil, fmt.Errorf("listening for role changes: %w", err)
	}

	feed := &notifyFeed{listener: listener, done: make(chan struct{})}
	feed.wg.Add(1)
	go feed.run(s)
	s.stop = feed.close

	return s, nil
}

// notifyFeed turns NOTIFY messages into store refreshes.
type notifyFeed struct {
	listener *pq.Listener
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

func (f *notifyFeed) run(s *SQLDatabase) {
	defer f.wg.Done()
	for {
		select {
		case <-f.done:
			return
		case n, ok := <-f.listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				// The connection was re-established; notifications may have been lost.
				if err := s.Refresh(context.Background()); err != nil {
					s.hub.logger().Error("failed to refresh roles after reconnect", "error", err)
				}
				continue
			}
			serverID, roleID, found := strings.Cut(n.Extra, "/")
			if !found {
				continue
			}
			if err := s.refreshRole(context.Background(), serverID, roleID); err != nil {
				s.hub.logger().Error("failed to refresh changed role", "server", serverID, "role", roleID, "error", err)
			}
		case <-time.After(90 * time.Second):
			go f.listener.Ping()
		}
	}
}

func (f *notifyFeed) close() error {
	var err error
	f.once.Do(func() {
		close(f.done)
		f.wg.Wait()
		err = f.listener.Close()
	})
	return err
}
