package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/ricart/storefront/internal/model"
)

const usersCollection = "users"

// identityDoc is the BSON shape of a user document.  Field names follow the
// storefront's existing collection so records created by older deployments
// stay readable.
type identityDoc struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	Name         string             `bson:"name"`
	Email        string             `bson:"email"`
	Password     string             `bson:"password"`
	Role         string             `bson:"role"`
	RefreshToken *string            `bson:"refreshToken"`
	CreatedAt    time.Time          `bson:"createdAt"`
	UpdatedAt    time.Time          `bson:"updatedAt"`
}

func (d identityDoc) toModel() model.Identity {
	u := model.Identity{
		ID:           d.ID.Hex(),
		Email:        d.Email,
		PasswordHash: d.Password,
		Name:         d.Name,
		Role:         model.Role(d.Role),
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
	if d.RefreshToken != nil {
		u.RefreshTokenHash = *d.RefreshToken
	}
	if !u.Role.Valid() {
		u.Role = model.RoleCustomer
	}
	return u
}

// MongoIdentityStore keeps identities in the "users" collection.
type MongoIdentityStore struct {
	client *mongo.Client
	users  *mongo.Collection
}

// NewMongoIdentityStore binds the store to db.users.
func NewMongoIdentityStore(client *mongo.Client, db string) *MongoIdentityStore {
	return &MongoIdentityStore{
		client: client,
		users:  client.Database(db).Collection(usersCollection),
	}
}

// EnsureIndexes creates the unique email index.
func (m *MongoIdentityStore) EnsureIndexes(ctx context.Context) error {
	_, err := m.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetName("uniq_email").SetUnique(true),
	})
	if err != nil {
		return classify("repository.mongo.EnsureIndexes", err)
	}
	return nil
}

func (m *MongoIdentityStore) Create(ctx context.Context, id *model.Identity) error {
	const op = "repository.mongo.Create"

	// MongoDB DateTime keeps milliseconds.
	now := time.Now().UTC().Truncate(time.Millisecond)
	doc := identityDoc{
		ID:        primitive.NewObjectID(),
		Name:      id.Name,
		Email:     NormalizeEmail(id.Email),
		Password:  id.PasswordHash,
		Role:      string(id.Role),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := m.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrEmailExists
		}
		return classify(op, err)
	}
	id.ID = doc.ID.Hex()
	id.Email = doc.Email
	id.CreatedAt = now
	id.UpdatedAt = now
	return nil
}

func (m *MongoIdentityStore) FindByID(ctx context.Context, id string) (model.Identity, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return model.Identity{}, ErrNotFound
	}
	return m.findOne(ctx, "repository.mongo.FindByID", bson.D{{Key: "_id", Value: oid}})
}

func (m *MongoIdentityStore) FindByEmail(ctx context.Context, email string) (model.Identity, error) {
	return m.findOne(ctx, "repository.mongo.FindByEmail", bson.D{{Key: "email", Value: NormalizeEmail(email)}})
}

func (m *MongoIdentityStore) SetRefreshTokenHash(ctx context.Context, id, hash string) error {
	const op = "repository.mongo.SetRefreshTokenHash"

	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	var value interface{}
	if hash != "" {
		value = hash
	}
	res, err := m.users.UpdateByID(ctx, oid, bson.D{{Key: "$set", Value: bson.D{
		{Key: "refreshToken", Value: value},
		{Key: "updatedAt", Value: time.Now().UTC().Truncate(time.Millisecond)},
	}}})
	if err != nil {
		return classify(op, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *MongoIdentityStore) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return classify("repository.mongo.Ping", err)
	}
	return nil
}

func (m *MongoIdentityStore) findOne(ctx context.Context, op string, filter bson.D) (model.Identity, error) {
	var doc identityDoc
	if err := m.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.Identity{}, ErrNotFound
		}
		return model.Identity{}, classify(op, err)
	}
	return doc.toModel(), nil
}

// Close disconnects the underlying client.
func (m *MongoIdentityStore) Close(ctx context.Context) error {
	if err := m.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("repository.mongo.Close: %w", err)
	}
	return nil
}
