package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"CharChat/data/database/mgo/mongoutil"

	"github.com/stretchr/testify/require"
)

// The Mongo and Postgres stores run against real servers only:
//
//	CHAT_IT_MONGO_URI=mongodb://localhost:27017 CHAT_IT_POSTGRES_DSN=postgres://... go test ./service/storage

func TestMongoMessagesIntegration(t *testing.T) {
	uri := os.Getenv("CHAT_IT_MONGO_URI")
	if uri == "" {
		t.Skip("CHAT_IT_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cli, err := mongoutil.NewMongoDB(ctx, &mongoutil.Config{Uri: uri, Database: "charchat_it"})
	require.NoError(t, err)
	defer cli.Close(ctx)

	name := "it_messages_" + time.Now().Format("150405.000000")
	s, err := NewMongoMessages(ctx, cli.GetDB(), name)
	require.NoError(t, err)
	defer s.Collection().Drop(ctx)
	require.Equal(t, name, s.GetTableName())

	historyContract(t, s)
}

func TestPgMessagesIntegration(t *testing.T) {
	dsn := os.Getenv("CHAT_IT_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CHAT_IT_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := NewPgPool(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()
	_, err = pool.Exec(ctx, `DROP TABLE IF EXISTS chat_messages`)
	require.NoError(t, err)

	s, err := NewPgMessages(ctx, pool)
	require.NoError(t, err)
	historyContract(t, s)
}
