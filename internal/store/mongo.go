package store

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/Tyrowin/roomchat/internal/domain"
)

type userDoc struct {
	ID             string    `bson:"_id"`
	Name           string    `bson:"name"`
	NameKey        string    `bson:"name_key"`
	Email          string    `bson:"email"`
	PasswordHash   string    `bson:"password_hash"`
	ProfilePicture string    `bson:"profile_picture,omitempty"`
	Friends        []string  `bson:"friends,omitempty"`
	LastSeen       time.Time `bson:"last_seen,omitempty"`
	CreatedAt      time.Time `bson:"created_at"`
}

type roomDoc struct {
	ID              string    `bson:"_id"`
	Name            string    `bson:"name,omitempty"`
	IsGroup         bool      `bson:"is_group"`
	PairKey         string    `bson:"pair_key,omitempty"`
	Participants    []string  `bson:"participants"`
	LatestMessageID string    `bson:"latest_message_id,omitempty"`
	CreatedAt       time.Time `bson:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

type messageDoc struct {
	ID        string    `bson:"_id"`
	RoomID    string    `bson:"room_id"`
	SenderID  string    `bson:"sender_id"`
	Content   string    `bson:"content"`
	CreatedAt time.Time `bson:"created_at"`
}

// Mongo is a Store backed by MongoDB. Ids are ObjectID hex strings so that
// sorting by _id breaks creation-time ties in insertion order.
type Mongo struct {
	users    *mongo.Collection
	rooms    *mongo.Collection
	messages *mongo.Collection
	log      *zap.SugaredLogger

	// touchRoom records a room's latest message after the message itself
	// was stored.
	touchRoom func(ctx context.Context, roomID, messageID string, at time.Time) error
}

// NewMongoClient connects to uri with a bounded timeout.
func NewMongoClient(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connect mongo")
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, errors.Wrap(err, "ping mongo")
	}
	return client, nil
}

// NewMongo opens the collections of database and ensures their indexes.
func NewMongo(ctx context.Context, db *mongo.Database, log *zap.SugaredLogger) (*Mongo, error) {
	m := &Mongo{
		users:    db.Collection("users"),
		rooms:    db.Collection("rooms"),
		messages: db.Collection("messages"),
		log:      log,
	}
	m.touchRoom = m.recordLatest

	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{m.users, mongo.IndexModel{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("email_unique"),
		}},
		{m.users, mongo.IndexModel{
			Keys:    bson.D{{Key: "name_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("name_unique"),
		}},
		{m.rooms, mongo.IndexModel{
			Keys:    bson.D{{Key: "pair_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true).SetName("direct_pair_unique"),
		}},
		{m.rooms, mongo.IndexModel{
			Keys:    bson.D{{Key: "participants", Value: 1}, {Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("participant_activity_idx"),
		}},
		{m.messages, mongo.IndexModel{
			Keys:    bson.D{{Key: "room_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}},
			Options: options.Index().SetName("room_created_idx"),
		}},
	}
	for _, ix := range indexes {
		if _, err := ix.coll.Indexes().CreateOne(ctx, ix.model); err != nil {
			return nil, errors.Wrapf(err, "create index on %s", ix.coll.Name())
		}
	}
	return m, nil
}

func newID() string {
	return primitive.NewObjectID().Hex()
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// CreateUser implements Users.
func (m *Mongo) CreateUser(ctx context.Context, name, email, passwordHash string) (domain.User, error) {
	doc := userDoc{
		ID:           newID(),
		Name:         strings.TrimSpace(name),
		NameKey:      strings.ToLower(strings.TrimSpace(name)),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: passwordHash,
		CreatedAt:    now(),
	}
	if _, err := m.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.User{}, ErrDuplicateUser
		}
		return domain.User{}, errors.Wrap(err, "insert user")
	}
	return doc.user(), nil
}

// UserByID implements Users.
func (m *Mongo) UserByID(ctx context.Context, id string) (domain.User, error) {
	return m.findUser(ctx, bson.M{"_id": id})
}

// UserByEmail implements Users.
func (m *Mongo) UserByEmail(ctx context.Context, email string) (domain.User, error) {
	return m.findUser(ctx, bson.M{"email": strings.ToLower(strings.TrimSpace(email))})
}

func (m *Mongo) findUser(ctx context.Context, filter bson.M) (domain.User, error) {
	var doc userDoc
	if err := m.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, errors.Wrap(err, "find user")
	}
	return doc.user(), nil
}

// UserByName implements Users.
func (m *Mongo) UserByName(ctx context.Context, name string) (domain.User, error) {
	return m.findUser(ctx, bson.M{"name_key": strings.ToLower(strings.TrimSpace(name))})
}

// UpdateUser implements Users. The unique email and name indexes reject
// values held by another account.
func (m *Mongo) UpdateUser(ctx context.Context, id string, update UserUpdate) (domain.User, error) {
	set := bson.M{}
	if v := strings.TrimSpace(update.Name); v != "" {
		set["name"] = v
		set["name_key"] = strings.ToLower(v)
	}
	if v := strings.ToLower(strings.TrimSpace(update.Email)); v != "" {
		set["email"] = v
	}
	if update.PasswordHash != "" {
		set["password_hash"] = update.PasswordHash
	}
	if v := strings.TrimSpace(update.ProfilePicture); v != "" {
		set["profile_picture"] = v
	}
	if len(set) == 0 {
		return m.UserByID(ctx, id)
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc userDoc
	if err := m.users.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&doc); err != nil {
		switch {
		case errors.Is(err, mongo.ErrNoDocuments):
			return domain.User{}, ErrUserNotFound
		case mongo.IsDuplicateKeyError(err):
			return domain.User{}, ErrDuplicateUser
		}
		return domain.User{}, errors.Wrap(err, "update user")
	}
	return doc.user(), nil
}

// AddFriend implements Users.
func (m *Mongo) AddFriend(ctx context.Context, userID, friendID string) error {
	if userID == friendID {
		return ErrSelfFriend
	}
	if err := m.requireUsers(ctx, []string{userID, friendID}); err != nil {
		return err
	}

	res, err := m.users.UpdateOne(ctx,
		bson.M{"_id": userID, "friends": bson.M{"$ne": friendID}},
		bson.M{"$addToSet": bson.M{"friends": friendID}})
	if err != nil {
		return errors.Wrap(err, "add friend")
	}
	if res.MatchedCount == 0 {
		return ErrAlreadyFriends
	}
	if _, err := m.users.UpdateByID(ctx, friendID, bson.M{"$addToSet": bson.M{"friends": userID}}); err != nil {
		return errors.Wrap(err, "add reverse friend")
	}
	return nil
}

// SearchUsers implements Users.
func (m *Mongo) SearchUsers(ctx context.Context, query, excludeID string) ([]domain.User, error) {
	filter := bson.M{"_id": bson.M{"$ne": excludeID}}
	if q := strings.TrimSpace(query); q != "" {
		pattern := primitive.Regex{Pattern: regexp.QuoteMeta(q), Options: "i"}
		filter["$or"] = bson.A{bson.M{"name": pattern}, bson.M{"email": pattern}}
	}
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}}).SetLimit(searchLimit)

	cur, err := m.users.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "search users")
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode users")
	}
	out := make([]domain.User, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.user())
	}
	return out, nil
}

// Touch implements LastSeen.
func (m *Mongo) Touch(ctx context.Context, userID string, at time.Time) error {
	res, err := m.users.UpdateByID(ctx, userID, bson.M{"$set": bson.M{"last_seen": at.UTC()}})
	if err != nil {
		return errors.Wrap(err, "touch user")
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

// CreateOrFetchRoom implements Rooms. The unique pair_key index makes
// concurrent requests for the same pair converge on one room.
func (m *Mongo) CreateOrFetchRoom(ctx context.Context, a, b string) (domain.Room, bool, error) {
	if a == b {
		return domain.Room{}, false, errors.Wrap(ErrInvalidRoom, "cannot open a chat with yourself")
	}
	if err := m.requireUsers(ctx, []string{a, b}); err != nil {
		return domain.Room{}, false, err
	}

	ts := now()
	id := newID()
	filter := bson.M{"pair_key": pairKey(a, b)}
	update := bson.M{"$setOnInsert": roomDoc{
		ID:           id,
		IsGroup:      false,
		PairKey:      pairKey(a, b),
		Participants: []string{a, b},
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc roomDoc
	if err := m.rooms.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		return domain.Room{}, false, errors.Wrap(err, "upsert direct room")
	}
	room, err := m.view(ctx, doc)
	if err != nil {
		return domain.Room{}, false, err
	}
	return room, doc.ID == id, nil
}

// CreateGroupRoom implements Rooms.
func (m *Mongo) CreateGroupRoom(ctx context.Context, name, creatorID string, participantIDs []string) (domain.Room, error) {
	if strings.TrimSpace(name) == "" {
		return domain.Room{}, errors.Wrap(ErrInvalidRoom, "group name is required")
	}
	members, err := groupMembers(creatorID, participantIDs)
	if err != nil {
		return domain.Room{}, err
	}
	if err := m.requireUsers(ctx, members); err != nil {
		return domain.Room{}, err
	}

	ts := now()
	doc := roomDoc{
		ID:           newID(),
		Name:         strings.TrimSpace(name),
		IsGroup:      true,
		Participants: members,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
	if _, err := m.rooms.InsertOne(ctx, doc); err != nil {
		return domain.Room{}, errors.Wrap(err, "insert group room")
	}
	return m.view(ctx, doc)
}

func (m *Mongo) requireUsers(ctx context.Context, ids []string) error {
	n, err := m.users.CountDocuments(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return errors.Wrap(err, "count users")
	}
	if int(n) != len(ids) {
		return ErrUserNotFound
	}
	return nil
}

// ListRoomsFor implements Rooms.
func (m *Mongo) ListRoomsFor(ctx context.Context, userID string) ([]domain.Room, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := m.rooms.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "list rooms")
	}
	var docs []roomDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode rooms")
	}

	out := make([]domain.Room, 0, len(docs))
	for _, d := range docs {
		room, err := m.view(ctx, d)
		if err != nil {
			return nil, err
		}
		out = append(out, room)
	}
	return out, nil
}

// RoomFor implements Rooms.
func (m *Mongo) RoomFor(ctx context.Context, roomID, userID string) (domain.Room, error) {
	doc, err := m.findRoom(ctx, bson.M{"_id": roomID, "participants": userID})
	if err != nil {
		return domain.Room{}, err
	}
	return m.view(ctx, doc)
}

func (m *Mongo) findRoom(ctx context.Context, filter bson.M) (roomDoc, error) {
	var doc roomDoc
	if err := m.rooms.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return roomDoc{}, ErrRoomNotFound
		}
		return roomDoc{}, errors.Wrap(err, "find room")
	}
	return doc, nil
}

// LeaveRoom implements Rooms.
func (m *Mongo) LeaveRoom(ctx context.Context, roomID, userID string) (bool, error) {
	doc, err := m.findRoom(ctx, bson.M{"_id": roomID, "participants": userID})
	if err != nil {
		return false, err
	}

	if doc.IsGroup && len(doc.Participants) > 1 {
		if _, err := m.rooms.UpdateByID(ctx, roomID, bson.M{"$pull": bson.M{"participants": userID}}); err != nil {
			return false, errors.Wrap(err, "leave group")
		}
		return false, nil
	}

	if _, err := m.rooms.DeleteOne(ctx, bson.M{"_id": roomID}); err != nil {
		return false, errors.Wrap(err, "delete room")
	}
	if _, err := m.messages.DeleteMany(ctx, bson.M{"room_id": roomID}); err != nil {
		return true, errors.Wrap(err, "delete room messages")
	}
	return true, nil
}

// RoomParticipants implements Rooms.
func (m *Mongo) RoomParticipants(ctx context.Context, roomID string) ([]domain.Identity, error) {
	doc, err := m.findRoom(ctx, bson.M{"_id": roomID})
	if err != nil {
		return nil, err
	}
	return m.identities(ctx, doc.Participants)
}

// CreateMessage implements Messages.
func (m *Mongo) CreateMessage(ctx context.Context, senderID, roomID, content string) (domain.Message, error) {
	if strings.TrimSpace(content) == "" {
		return domain.Message{}, ErrEmptyMessage
	}
	if _, err := m.findRoom(ctx, bson.M{"_id": roomID, "participants": senderID}); err != nil {
		return domain.Message{}, err
	}
	sender, err := m.findUser(ctx, bson.M{"_id": senderID})
	if err != nil {
		return domain.Message{}, err
	}

	doc := messageDoc{
		ID:        newID(),
		RoomID:    roomID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: now(),
	}
	if _, err := m.messages.InsertOne(ctx, doc); err != nil {
		return domain.Message{}, errors.Wrap(err, "insert message")
	}

	// The message is durable from here on; room activity is bookkeeping.
	if err := m.touchRoom(ctx, roomID, doc.ID, doc.CreatedAt); err != nil {
		m.log.Warnf("Message %s stored but activity of room %s not updated: %v", doc.ID, roomID, err)
	}

	return domain.Message{
		ID:        doc.ID,
		RoomID:    doc.RoomID,
		Sender:    sender.Identity(),
		Content:   doc.Content,
		CreatedAt: doc.CreatedAt,
	}, nil
}

func (m *Mongo) recordLatest(ctx context.Context, roomID, messageID string, at time.Time) error {
	update := bson.M{"$set": bson.M{"latest_message_id": messageID, "updated_at": at}}
	if _, err := m.rooms.UpdateByID(ctx, roomID, update); err != nil {
		return errors.Wrap(err, "update room activity")
	}
	return nil
}

// ListMessages implements Messages.
func (m *Mongo) ListMessages(ctx context.Context, roomID, userID string) ([]domain.Message, error) {
	if _, err := m.findRoom(ctx, bson.M{"_id": roomID, "participants": userID}); err != nil {
		return nil, err
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := m.messages.Find(ctx, bson.M{"room_id": roomID}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "list messages")
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode messages")
	}
	return m.resolve(ctx, docs)
}

// DeleteMessage implements Messages.
func (m *Mongo) DeleteMessage(ctx context.Context, messageID, userID string) (domain.Message, error) {
	var doc messageDoc
	if err := m.messages.FindOne(ctx, bson.M{"_id": messageID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Message{}, ErrMessageNotFound
		}
		return domain.Message{}, errors.Wrap(err, "find message")
	}
	if doc.SenderID != userID {
		return domain.Message{}, ErrForbidden
	}
	if _, err := m.messages.DeleteOne(ctx, bson.M{"_id": messageID}); err != nil {
		return domain.Message{}, errors.Wrap(err, "delete message")
	}

	room, err := m.findRoom(ctx, bson.M{"_id": doc.RoomID})
	if err == nil && room.LatestMessageID == messageID {
		var latest messageDoc
		opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
		update := bson.M{"$unset": bson.M{"latest_message_id": ""}}
		if err := m.messages.FindOne(ctx, bson.M{"room_id": doc.RoomID}, opts).Decode(&latest); err == nil {
			update = bson.M{"$set": bson.M{"latest_message_id": latest.ID}}
		}
		if _, err := m.rooms.UpdateByID(ctx, doc.RoomID, update); err != nil {
			m.log.Warnf("Message %s deleted but latest message of room %s not updated: %v", messageID, doc.RoomID, err)
		}
	}

	msgs, err := m.resolve(ctx, []messageDoc{doc})
	if err != nil {
		return domain.Message{}, err
	}
	return msgs[0], nil
}

func (m *Mongo) view(ctx context.Context, doc roomDoc) (domain.Room, error) {
	participants, err := m.identities(ctx, doc.Participants)
	if err != nil {
		return domain.Room{}, err
	}
	room := domain.Room{
		ID:           doc.ID,
		Name:         doc.Name,
		IsGroup:      doc.IsGroup,
		Participants: participants,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}
	if doc.LatestMessageID != "" {
		var latest messageDoc
		err := m.messages.FindOne(ctx, bson.M{"_id": doc.LatestMessageID}).Decode(&latest)
		switch {
		case err == nil:
			msgs, err := m.resolve(ctx, []messageDoc{latest})
			if err != nil {
				return domain.Room{}, err
			}
			room.LatestMessage = &msgs[0]
		case !errors.Is(err, mongo.ErrNoDocuments):
			return domain.Room{}, errors.Wrap(err, "find latest message")
		}
	}
	return room, nil
}

// identities resolves user ids to identities, keeping the input order.
func (m *Mongo) identities(ctx context.Context, ids []string) ([]domain.Identity, error) {
	names, err := m.names(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Identity, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Identity{ID: id, Name: names[id]})
	}
	return out, nil
}

func (m *Mongo) names(ctx context.Context, ids []string) (map[string]string, error) {
	opts := options.Find().SetProjection(bson.M{"name": 1})
	cur, err := m.users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "resolve names")
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode names")
	}
	names := make(map[string]string, len(docs))
	for _, d := range docs {
		names[d.ID] = d.Name
	}
	return names, nil
}

func (m *Mongo) resolve(ctx context.Context, docs []messageDoc) ([]domain.Message, error) {
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.SenderID)
	}
	names, err := m.names(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, domain.Message{
			ID:        d.ID,
			RoomID:    d.RoomID,
			Sender:    domain.Identity{ID: d.SenderID, Name: names[d.SenderID]},
			Content:   d.Content,
			CreatedAt: d.CreatedAt,
		})
	}
	return out, nil
}

func (d userDoc) user() domain.User {
	return domain.User{
		ID:             d.ID,
		Name:           d.Name,
		Email:          d.Email,
		PasswordHash:   d.PasswordHash,
		ProfilePicture: d.ProfilePicture,
		Friends:        append([]string{}, d.Friends...),
		LastSeen:       d.LastSeen,
		CreatedAt:      d.CreatedAt,
	}
}
