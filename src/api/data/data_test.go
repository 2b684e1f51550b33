package data_test

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/A-I-dle-Mod/aidle-mod-backend/src/api/data"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/api/types"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/logging"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// newTestDB opens a private in-memory database with the full schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logging.Gorm(zaptest.NewLogger(t)),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, data.Migrate(db))
	return db
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// seedOwner creates an owner on a plan of limit with the given guilds.
func seedOwner(t *testing.T, db *gorm.DB, ownerID string, limit int64, guildIDs ...string) types.Plan {
	t.Helper()

	plan := types.Plan{MaxRequests: limit}
	require.NoError(t, db.Create(&plan).Error)
	require.NoError(t, db.Create(&types.Owner{OwnerID: ownerID, PlanID: &plan.ID}).Error)
	for _, id := range guildIDs {
		require.NoError(t, db.Create(&types.Guild{
			GuildID:   id,
			GuildName: "guild " + id,
			Moderate:  true,
			OwnerID:   ownerID,
		}).Error)
	}
	return plan
}

func strPtr(s string) *string { return &s }
