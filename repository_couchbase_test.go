package tcc

import (
	"context"
	"testing"
	"time"

	"github.com/couchbase/gocbcore/v9"
	"github.com/couchbase/gocbcore/v9/memd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCouchbaseRepository(t *testing.T) {
	_, err := NewCouchbaseRepository(CouchbaseRepositoryOptions{BucketName: "default"})
	assert.Error(t, err, "agent is required")

	_, err = NewCouchbaseRepository(CouchbaseRepositoryOptions{Agent: &gocbcore.Agent{}})
	assert.Error(t, err, "bucket is required")

	repo, err := NewCouchbaseRepository(CouchbaseRepositoryOptions{
		Agent:      &gocbcore.Agent{},
		BucketName: "default",
	})
	require.NoError(t, err)
	assert.Equal(t, DurabilityLevelMajority, repo.durabilityLevel)
	assert.Equal(t, 2500*time.Millisecond, repo.opTimeout)
	assert.Equal(t, "`default`", repo.keyspace())

	xid := NewXid()
	assert.Equal(t, "tcc::"+xid.String(), string(repo.key(xid)))
}

func TestCouchbaseKeyspace(t *testing.T) {
	repo := &CouchbaseRepository{bucketName: "travel", collectionName: "tcc"}
	assert.Equal(t, "`travel`.`_default`.`tcc`", repo.keyspace())

	repo = &CouchbaseRepository{bucketName: "travel", scopeName: "inventory", collectionName: "tcc"}
	assert.Equal(t, "`travel`.`inventory`.`tcc`", repo.keyspace())
}

func TestCouchbaseTimeouts(t *testing.T) {
	repo := &CouchbaseRepository{opTimeout: time.Minute, durabilityLevel: DurabilityLevelMajority}

	deadline, duraTimeout := repo.timeouts(context.Background())
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, time.Second)
	assert.Equal(t, time.Minute, duraTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ctxDeadline, _ := ctx.Deadline()
	deadline, duraTimeout = repo.timeouts(ctx)
	assert.Equal(t, ctxDeadline, deadline, "a sooner context deadline wins")
	assert.LessOrEqual(t, duraTimeout, time.Second)

	repo.durabilityLevel = DurabilityLevelNone
	_, duraTimeout = repo.timeouts(context.Background())
	assert.Zero(t, duraTimeout)
}

func TestDurabilityLevels(t *testing.T) {
	for _, shorthand := range []string{"n", "m", "pa", "pm"} {
		level, err := ParseDurabilityLevel(shorthand)
		require.NoError(t, err)
		assert.Equal(t, shorthand, level.String())
	}

	level, err := ParseDurabilityLevel("")
	require.NoError(t, err)
	assert.Equal(t, DurabilityLevelMajority, level)

	_, err = ParseDurabilityLevel("all")
	assert.Error(t, err)

	assert.Equal(t, memd.DurabilityLevelPersistToMajority, durabilityLevelToMemd(DurabilityLevelPersistToMajority))
	assert.Equal(t, memd.DurabilityLevel(0), durabilityLevelToMemd(DurabilityLevelNone))
}
