package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	infraMongo "github.com/davicafu/usersync/internal/infra/db/mongodb"
	sharedDomain "github.com/davicafu/usersync/internal/shared/domain"
	userDomain "github.com/davicafu/usersync/internal/user/domain"
)

// UserRepoMongoDB implementa UserStore y OutboxStore para MongoDB. Los IDs
// int64 salen de un contador atómico en la colección "counters".
type UserRepoMongoDB struct {
	client       *mongo.Client
	usersColl    *mongo.Collection
	countersColl *mongo.Collection
	outboxColl   *mongo.Collection
}

// NewUserRepoMongoDB es el constructor del repositorio. Crea el índice único
// de email si no existe.
func NewUserRepoMongoDB(ctx context.Context, client *mongo.Client, dbName string) (*UserRepoMongoDB, error) {
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("could not ping mongoDB: %w", err)
	}

	db := client.Database(dbName)
	r := &UserRepoMongoDB{
		client:       client,
		usersColl:    db.Collection("users"),
		countersColl: db.Collection("counters"),
		outboxColl:   db.Collection(infraMongo.OutboxCollection),
	}

	_, err := r.usersColl.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_email"),
	})
	if err != nil {
		return nil, fmt.Errorf("create email index: %w", err)
	}
	return r, nil
}

// --- Structs de BSON para el mapeo ---
// Se definen localmente para no "contaminar" el dominio con tags de BSON.

type mongoUser struct {
	ID        int64     `bson:"_id"`
	Name      string    `bson:"name"`
	Email     string    `bson:"email"`
	Age       *int      `bson:"age,omitempty"`
	CreatedAt time.Time `bson:"createdAt"`
}

func toMongoUser(u *userDomain.User) mongoUser {
	return mongoUser{ID: u.ID, Name: u.Name, Email: u.Email, Age: u.Age, CreatedAt: u.CreatedAt}
}

func (m mongoUser) toDomain() *userDomain.User {
	return &userDomain.User{ID: m.ID, Name: m.Name, Email: m.Email, Age: m.Age, CreatedAt: m.CreatedAt.UTC()}
}

func mapWriteErr(err error, email string) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: email %s", userDomain.ErrDuplicateResource, email)
	}
	return err
}

func (r *UserRepoMongoDB) nextID(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := r.countersColl.FindOneAndUpdate(ctx,
		bson.M{"_id": "users"},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		opts,
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("next user id: %w", err)
	}
	return counter.Seq, nil
}

func (r *UserRepoMongoDB) Save(ctx context.Context, u *userDomain.User) error {
	if u.ID == 0 {
		id, err := r.nextID(ctx)
		if err != nil {
			return err
		}
		mu := toMongoUser(u)
		mu.ID = id
		if _, err := r.usersColl.InsertOne(ctx, mu); err != nil {
			return mapWriteErr(err, u.Email)
		}
		u.ID = id
		return nil
	}

	mu := toMongoUser(u)
	res, err := r.usersColl.ReplaceOne(ctx, bson.M{"_id": u.ID}, mu)
	if err != nil {
		return mapWriteErr(err, u.Email)
	}
	if res.MatchedCount == 0 {
		return userDomain.ErrNotFound
	}
	return nil
}

// SaveWithEvent guarda usuario y evento en una transacción (requiere replica set).
func (r *UserRepoMongoDB) SaveWithEvent(ctx context.Context, u *userDomain.User, evt sharedDomain.OutboxEvent) error {
	session, err := r.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	wasNew := u.ID == 0
	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		if wasNew {
			u.ID = 0
		}
		if err := r.Save(sessCtx, u); err != nil {
			return nil, err
		}
		if evt.AggregateID == "" {
			evt.AggregateID = strconv.FormatInt(u.ID, 10)
		}
		if _, err := r.outboxColl.InsertOne(sessCtx, infraMongo.ToOutboxDocument(evt)); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil && wasNew {
		u.ID = 0
	}
	return err
}

func (r *UserRepoMongoDB) GetByID(ctx context.Context, id int64) (*userDomain.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *UserRepoMongoDB) FindByEmail(ctx context.Context, email string) (*userDomain.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *UserRepoMongoDB) findOne(ctx context.Context, filter bson.M) (*userDomain.User, error) {
	var mu mongoUser
	if err := r.usersColl.FindOne(ctx, filter).Decode(&mu); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, userDomain.ErrNotFound
		}
		return nil, err
	}
	return mu.toDomain(), nil
}

func (r *UserRepoMongoDB) List(ctx context.Context) ([]*userDomain.User, error) {
	cursor, err := r.usersColl.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	users := []*userDomain.User{}
	for cursor.Next(ctx) {
		var mu mongoUser
		if err := cursor.Decode(&mu); err != nil {
			return nil, err
		}
		users = append(users, mu.toDomain())
	}
	return users, cursor.Err()
}

func (r *UserRepoMongoDB) DeleteByID(ctx context.Context, id int64) error {
	res, err := r.usersColl.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return userDomain.ErrNotFound
	}
	return nil
}

// DeleteWithEvent borra usuario y escribe el evento en la misma transacción.
func (r *UserRepoMongoDB) DeleteWithEvent(ctx context.Context, id int64, evt sharedDomain.OutboxEvent) error {
	session, err := r.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		if err := r.DeleteByID(sessCtx, id); err != nil {
			return nil, err
		}
		if _, err := r.outboxColl.InsertOne(sessCtx, infraMongo.ToOutboxDocument(evt)); err != nil {
			return nil, err
		}
		return nil, nil
	})
	return err
}

// Verificación estática
var (
	_ userDomain.UserStore   = (*UserRepoMongoDB)(nil)
	_ userDomain.OutboxStore = (*UserRepoMongoDB)(nil)
)
