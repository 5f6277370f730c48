package database

import "go.mongodb.org/mongo-driver/mongo"

// Table is a store backed by a single Mongo collection.
type Table interface {
	GetTableName() string
	Collection() *mongo.Collection
}
