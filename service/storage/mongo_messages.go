package storage

import (
	"context"
	"time"

	"CharChat/data/database"
	"CharChat/service/chatclient"
	"CharChat/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const MongoMessagesCollection = "chat_messages"

type mongoMessage struct {
	ID          string    `bson:"_id"`
	ChatID      string    `bson:"chat_id"`
	CharacterID string    `bson:"character_id,omitempty"`
	Sender      string    `bson:"sender"`
	Content     string    `bson:"content"`
	Type        string    `bson:"type"`
	Timestamp   time.Time `bson:"ts"`
}

func toMongo(m chatclient.Message) mongoMessage {
	return mongoMessage{
		ID:          m.ID,
		ChatID:      m.ChatID,
		CharacterID: m.CharacterID,
		Sender:      string(m.Sender),
		Content:     m.Content,
		Type:        string(m.Type),
		Timestamp:   m.Timestamp.UTC(),
	}
}

func (d mongoMessage) message() chatclient.Message {
	return chatclient.Message{
		ID:          d.ID,
		ChatID:      d.ChatID,
		CharacterID: d.CharacterID,
		Sender:      chatclient.Sender(d.Sender),
		Content:     d.Content,
		Type:        chatclient.MessageType(d.Type),
		Timestamp:   d.Timestamp,
	}
}

// MongoMessages stores one document per message, keyed by message id.
type MongoMessages struct {
	coll *mongo.Collection
}

var _ database.Table = (*MongoMessages)(nil)

// NewMongoMessages binds the collection and makes sure the (chat_id, ts) index exists.
func NewMongoMessages(ctx context.Context, db *mongo.Database, collection string) (*MongoMessages, error) {
	if collection == "" {
		collection = MongoMessagesCollection
	}
	coll := db.Collection(collection)
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "chat_id", Value: 1}, {Key: "ts", Value: -1}},
		Options: options.Index().SetName("chat_ts"),
	})
	if err != nil {
		return nil, errs.WrapMsg(err, "create index", "collection", collection)
	}
	return &MongoMessages{coll: coll}, nil
}

func (s *MongoMessages) GetTableName() string { return s.coll.Name() }
func (s *MongoMessages) Collection() *mongo.Collection { return s.coll }

// Append is idempotent: a message id already stored is left untouched.
func (s *MongoMessages) Append(ctx context.Context, m chatclient.Message) error {
	doc := toMongo(m)
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": doc.ID},
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return errs.WrapMsg(err, "upsert message", "chatId", m.ChatID, "id", m.ID)
	}
	return nil
}

func (s *MongoMessages) List(ctx context.Context, chatID string, limit int) ([]chatclient.Message, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "ts", Value: -1}}).
		SetLimit(int64(normLimit(limit)))
	cur, err := s.coll.Find(ctx, bson.M{"chat_id": chatID}, opts)
	if err != nil {
		return nil, errs.WrapMsg(err, "find messages", "chatId", chatID)
	}
	var docs []mongoMessage
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errs.WrapMsg(err, "decode messages", "chatId", chatID)
	}
	out := make([]chatclient.Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.message())
	}
	reverse(out)
	return out, nil
}
