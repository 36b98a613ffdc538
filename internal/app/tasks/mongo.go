package tasks

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const tasksCollection = "tasks"

// taskDocument uses the field names of the legacy collection, where the
// owner lives in userId and old records have no userId at all.
type taskDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Title     string             `bson:"title"`
	Completed bool               `bson:"completed"`
	Priority  string             `bson:"priority"`
	DueDate   *time.Time         `bson:"dueDate"`
	UserID    string             `bson:"userId,omitempty"`
	CreatedAt time.Time          `bson:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt"`
}

func (d taskDocument) task() Task {
	t := Task{
		ID:        d.ID.Hex(),
		Title:     d.Title,
		Completed: d.Completed,
		Priority:  Priority(d.Priority),
		OwnerID:   d.UserID,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
	if !t.Priority.Valid() {
		t.Priority = PriorityLow
	}
	if d.DueDate != nil {
		due := d.DueDate.UTC()
		t.DueDate = &due
	}
	return t
}

type MongoRepository struct {
	Collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{Collection: db.Collection(tasksCollection)}
}

func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.Collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}},
		Options: options.Index().SetName("userId_createdAt"),
	})
	return err
}

func (r *MongoRepository) Ping(ctx context.Context) error {
	return r.Collection.Database().Client().Ping(ctx, nil)
}

func (r *MongoRepository) Insert(ctx context.Context, task Task) (Task, error) {
	doc := taskDocument{
		ID:        primitive.NewObjectID(),
		Title:     task.Title,
		Completed: task.Completed,
		Priority:  string(task.Priority),
		DueDate:   task.DueDate,
		UserID:    task.OwnerID,
		CreatedAt: task.CreatedAt,
		UpdatedAt: task.UpdatedAt,
	}
	if _, err := r.Collection.InsertOne(ctx, doc); err != nil {
		return Task{}, err
	}
	return doc.task(), nil
}

func (r *MongoRepository) List(ctx context.Context, f Filter) ([]Task, error) {
	if f.Empty() {
		return []Task{}, nil
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	cursor, err := r.Collection.Find(ctx, ownerFilter(f), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []taskDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	result := make([]Task, 0, len(docs))
	for _, d := range docs {
		result = append(result, d.task())
	}
	return result, nil
}

func (r *MongoRepository) Find(ctx context.Context, id string, f Filter) (Task, error) {
	query, ok := byIDFilter(id, f)
	if !ok {
		return Task{}, ErrNotFound
	}
	var doc taskDocument
	if err := r.Collection.FindOne(ctx, query).Decode(&doc); err != nil {
		return Task{}, mapMongoErr(err)
	}
	return doc.task(), nil
}

func (r *MongoRepository) Update(ctx context.Context, id string, f Filter, c Changes) (Task, error) {
	query, ok := byIDFilter(id, f)
	if !ok {
		return Task{}, ErrNotFound
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc taskDocument
	if err := r.Collection.FindOneAndUpdate(ctx, query, updateDocument(c), opts).Decode(&doc); err != nil {
		return Task{}, mapMongoErr(err)
	}
	return doc.task(), nil
}

func (r *MongoRepository) Delete(ctx context.Context, id string, f Filter) error {
	query, ok := byIDFilter(id, f)
	if !ok {
		return ErrNotFound
	}
	res, err := r.Collection.DeleteOne(ctx, query)
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ownerFilter matches the caller's tasks and tasks without an owner. A null
// comparison also matches documents where userId is missing. Legacy documents
// store userId as an ObjectID, so a hex caller id matches that form too.
func ownerFilter(f Filter) bson.M {
	owner := any(f.CallerID)
	if oid, err := primitive.ObjectIDFromHex(f.CallerID); err == nil {
		owner = bson.M{"$in": bson.A{f.CallerID, oid}}
	}
	return bson.M{"$or": []bson.M{
		{"userId": owner},
		{"userId": nil},
	}}
}

func byIDFilter(id string, f Filter) (bson.M, bool) {
	if f.Empty() {
		return nil, false
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, false
	}
	query := ownerFilter(f)
	query["_id"] = oid
	return query, true
}

func updateDocument(c Changes) bson.M {
	updatedAt := c.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	set := bson.M{"updatedAt": updatedAt}
	if c.Title != nil {
		set["title"] = *c.Title
	}
	if c.Priority != nil {
		set["priority"] = string(*c.Priority)
	}
	if c.ClearDueDate {
		set["dueDate"] = nil
	} else if c.DueDate != nil {
		set["dueDate"] = *c.DueDate
	}
	if c.Completed != nil {
		set["completed"] = *c.Completed
	}
	if c.OwnerID != "" {
		set["userId"] = c.OwnerID
	}
	return bson.M{"$set": set}
}

func mapMongoErr(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}
