package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"leave-bot/internal/leave"
	"leave-bot/internal/model"
)

// LeaveStore implements leave.Store on MongoDB.
type LeaveStore struct {
	leaves   *mongo.Collection
	notes    *mongo.Collection
	history  *mongo.Collection
	settings *mongo.Collection
	roles    *mongo.Collection
	counters *mongo.Collection

	prefix string
	now    func() time.Time
	logger *zap.Logger
}

type settingDoc struct {
	Key   string `bson:"_id"`
	Value string `bson:"value"`
}

func NewLeaveStore(ctx context.Context, db *MongoDB, prefix string, logger ...*zap.Logger) (*LeaveStore, error) {
	l := zap.L().Named("store.leave")
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0].Named("store.leave")
	}
	if prefix == "" {
		prefix = "PL"
	}
	s := &LeaveStore{
		leaves:   db.Collection("leave_requests"),
		notes:    db.Collection("leave_notes"),
		history:  db.Collection("leave_status_history"),
		settings: db.Collection("settings"),
		roles:    db.Collection("role_mappings"),
		counters: db.Collection("counters"),
		prefix:   prefix,
		now:      time.Now,
		logger:   l,
	}

	if _, err := s.leaves.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "request_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "message_id", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "end_date", Value: 1}}},
	}); err != nil {
		return nil, fmt.Errorf("create leave_requests indexes: %w", err)
	}
	if _, err := s.notes.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "request_id", Value: 1}, {Key: "created_at", Value: -1}},
	}); err != nil {
		return nil, fmt.Errorf("create leave_notes indexes: %w", err)
	}
	if _, err := s.history.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "request_id", Value: 1}, {Key: "changed_at", Value: -1}},
	}); err != nil {
		return nil, fmt.Errorf("create leave_status_history indexes: %w", err)
	}
	if _, err := s.roles.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "duration", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return nil, fmt.Errorf("create role_mappings indexes: %w", err)
	}

	return s, nil
}

// GetSetting returns ok=false when the key was never written.
func (s *LeaveStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var doc settingDoc
	err := s.settings.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find setting %s: %w", key, err)
	}
	return doc.Value, true, nil
}

func (s *LeaveStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.settings.UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$set": bson.M{"value": value}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

func (s *LeaveStore) RoleMapping(ctx context.Context, duration int) (*model.RoleMapping, error) {
	var m model.RoleMapping
	err := s.roles.FindOne(ctx, bson.M{"duration": duration}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find role mapping: %w", err)
	}
	return &m, nil
}

func (s *LeaveStore) SaveRoleMapping(ctx context.Context, m *model.RoleMapping) error {
	_, err := s.roles.UpdateOne(ctx,
		bson.M{"duration": m.Duration},
		bson.M{
			"$set":         bson.M{"role_id": m.RoleID},
			"$setOnInsert": bson.M{"created_at": m.CreatedAt},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save role mapping: %w", err)
	}
	return nil
}

// nextSequence atomically increments the request counter. A failed insert
// after this call leaves a gap; ids are never reused.
func (s *LeaveStore) nextSequence(ctx context.Context) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": model.SettingRequestCounter},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("increment request counter: %w", err)
	}
	return doc.Seq, nil
}

// CreateLeaveRequest assigns the next request id and inserts req as pending.
func (s *LeaveStore) CreateLeaveRequest(ctx context.Context, req *model.LeaveRequest) error {
	n, err := s.nextSequence(ctx)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	req.RequestID = leave.FormatRequestID(s.prefix, n)
	req.Status = model.LeaveStatusPending
	req.CreatedAt = now
	req.UpdatedAt = now

	res, err := s.leaves.InsertOne(ctx, req)
	if err != nil {
		s.logger.Error("insert leave request failed", zap.String("request_id", req.RequestID), zap.Error(err))
		return fmt.Errorf("insert leave request: %w", err)
	}
	req.ID = res.InsertedID.(bson.ObjectID)
	return nil
}

func (s *LeaveStore) GetLeaveRequest(ctx context.Context, requestID string) (*model.LeaveRequest, error) {
	return s.findOne(ctx, bson.M{"request_id": requestID})
}

func (s *LeaveStore) GetLeaveRequestByMessage(ctx context.Context, messageID string) (*model.LeaveRequest, error) {
	if messageID == "" {
		return nil, nil
	}
	return s.findOne(ctx, bson.M{"message_id": messageID})
}

func (s *LeaveStore) UpdateLeaveMessage(ctx context.Context, requestID, messageID, channelID string) error {
	_, err := s.leaves.UpdateOne(ctx,
		bson.M{"request_id": requestID},
		bson.M{"$set": bson.M{"message_id": messageID, "channel_id": channelID, "updated_at": s.now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("update leave message: %w", err)
	}
	return nil
}

// UpdateLeaveStatus filters on the current status so only one of two
// concurrent writers can win.
func (s *LeaveStore) UpdateLeaveStatus(ctx context.Context, c model.StatusChange) (*model.LeaveRequest, error) {
	update := bson.M{
		"$set": bson.M{
			"status":       c.To,
			"processed_by": c.ChangedBy,
			"processed_at": c.At,
			"updated_at":   c.At,
		},
	}
	if c.RoleID != "" {
		update["$set"].(bson.M)["role_id"] = c.RoleID
	}
	if c.RejectionReason != "" {
		update["$set"].(bson.M)["rejection_reason"] = c.RejectionReason
	} else {
		update["$unset"] = bson.M{"rejection_reason": ""}
	}

	var updated model.LeaveRequest
	err := s.leaves.FindOneAndUpdate(ctx,
		bson.M{"request_id": c.RequestID, "status": c.From},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update leave status: %w", err)
	}

	if _, err := s.history.InsertOne(ctx, &model.StatusHistoryEntry{
		RequestID: c.RequestID,
		OldStatus: c.From,
		NewStatus: c.To,
		ChangedBy: c.ChangedBy,
		ChangedAt: c.At,
	}); err != nil {
		return nil, fmt.Errorf("insert status history: %w", err)
	}
	return &updated, nil
}

func (s *LeaveStore) FindOverlappingApproved(ctx context.Context, userID string, r leave.DateRange) (*model.LeaveRequest, error) {
	filter := bson.M{
		"user_id": userID,
		"status":  model.LeaveStatusApproved,
		"$or": bson.A{
			bson.M{"start_date": bson.M{"$lte": r.Start}, "end_date": bson.M{"$gte": r.Start}},
			bson.M{"start_date": bson.M{"$lte": r.End}, "end_date": bson.M{"$gte": r.End}},
			bson.M{"start_date": bson.M{"$gte": r.Start, "$lte": r.End}},
		},
	}
	var req model.LeaveRequest
	err := s.leaves.FindOne(ctx, filter, options.FindOne().SetSort(bson.D{{Key: "start_date", Value: 1}})).Decode(&req)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find overlapping leave: %w", err)
	}
	return &req, nil
}

func (s *LeaveStore) CountRequestsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	n, err := s.leaves.CountDocuments(ctx, bson.M{
		"user_id":    userID,
		"created_at": bson.M{"$gte": since.UTC()},
	})
	if err != nil {
		return 0, fmt.Errorf("count recent requests: %w", err)
	}
	return int(n), nil
}

func (s *LeaveStore) UserLeaves(ctx context.Context, userID string, page, perPage int) (*model.LeavePage, error) {
	filter := bson.M{"user_id": userID}
	total, err := s.leaves.CountDocuments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count user leaves: %w", err)
	}
	leaves, err := s.findMany(ctx, filter, options.Find().
		SetSort(newestFirst).
		SetSkip(int64((page-1)*perPage)).
		SetLimit(int64(perPage)))
	if err != nil {
		return nil, err
	}
	return &model.LeavePage{
		Leaves:      leaves,
		Total:       int(total),
		Pages:       (int(total) + perPage - 1) / perPage,
		CurrentPage: page,
	}, nil
}

func (s *LeaveStore) PendingLeaves(ctx context.Context) ([]*model.LeaveRequest, error) {
	return s.findMany(ctx, bson.M{"status": model.LeaveStatusPending},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
}

func (s *LeaveStore) ApprovedEndingBetween(ctx context.Context, from, to string) ([]*model.LeaveRequest, error) {
	return s.findMany(ctx, bson.M{
		"status":   model.LeaveStatusApproved,
		"end_date": bson.M{"$gte": from, "$lte": to},
	}, options.Find().SetSort(bson.D{{Key: "end_date", Value: 1}}))
}

func (s *LeaveStore) AddNote(ctx context.Context, note *model.Note) error {
	res, err := s.notes.InsertOne(ctx, note)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	note.ID = res.InsertedID.(bson.ObjectID)
	return nil
}

func (s *LeaveStore) Notes(ctx context.Context, requestID string) ([]*model.Note, error) {
	cursor, err := s.notes.Find(ctx, bson.M{"request_id": requestID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("find notes: %w", err)
	}
	var notes []*model.Note
	if err := cursor.All(ctx, &notes); err != nil {
		return nil, fmt.Errorf("decode notes: %w", err)
	}
	return notes, nil
}

func (s *LeaveStore) StatusHistory(ctx context.Context, requestID string) ([]*model.StatusHistoryEntry, error) {
	cursor, err := s.history.Find(ctx, bson.M{"request_id": requestID},
		options.Find().SetSort(bson.D{{Key: "changed_at", Value: -1}, {Key: "_id", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("find status history: %w", err)
	}
	var entries []*model.StatusHistoryEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("decode status history: %w", err)
	}
	return entries, nil
}

func (s *LeaveStore) Search(ctx context.Context, f model.SearchFilter) ([]*model.LeaveRequest, error) {
	filter := bson.M{}
	if f.RequestID != "" {
		filter["request_id"] = f.RequestID
	}
	if f.UserID != "" {
		filter["user_id"] = f.UserID
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if f.DateFrom != "" || f.DateTo != "" {
		r := bson.M{}
		if f.DateFrom != "" {
			r["$gte"] = f.DateFrom
		}
		if f.DateTo != "" {
			r["$lte"] = f.DateTo
		}
		filter["start_date"] = r
	}

	opts := options.Find().SetSort(newestFirst)
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	if f.Offset > 0 {
		opts.SetSkip(int64(f.Offset))
	}
	return s.findMany(ctx, filter, opts)
}

func (s *LeaveStore) ListLeaves(ctx context.Context, from, to *time.Time) ([]*model.LeaveRequest, error) {
	return s.findMany(ctx, createdRange(from, to), options.Find().SetSort(newestFirst))
}

func (s *LeaveStore) Statistics(ctx context.Context, from, to *time.Time) (*model.Statistics, error) {
	match := createdRange(from, to)
	st := &model.Statistics{}

	var byStatus []struct {
		Status model.LeaveStatus `bson:"_id"`
		Count  int               `bson:"count"`
	}
	if err := s.aggregate(ctx, &byStatus, mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	}); err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	for _, row := range byStatus {
		st.Total += row.Count
		switch row.Status {
		case model.LeaveStatusApproved:
			st.Approved = row.Count
		case model.LeaveStatusRejected:
			st.Rejected = row.Count
		case model.LeaveStatusPending:
			st.Pending = row.Count
		case model.LeaveStatusCancelled:
			st.Cancelled = row.Count
		}
	}

	approved := bson.M{"status": model.LeaveStatusApproved}
	for k, v := range match {
		approved[k] = v
	}

	var avg []struct {
		Avg float64 `bson:"avg"`
	}
	if err := s.aggregate(ctx, &avg, mongo.Pipeline{
		{{Key: "$match", Value: approved}},
		{{Key: "$group", Value: bson.M{"_id": nil, "avg": bson.M{"$avg": "$duration"}}}},
	}); err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	if len(avg) > 0 {
		st.AverageDuration = avg[0].Avg
	}

	if err := s.aggregate(ctx, &st.TopRequesters, mongo.Pipeline{
		{{Key: "$match", Value: approved}},
		{{Key: "$group", Value: bson.M{
			"_id":      "$user_id",
			"username": bson.M{"$last": "$username"},
			"count":    bson.M{"$sum": 1},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}}},
		{{Key: "$limit", Value: 5}},
	}); err != nil {
		return nil, fmt.Errorf("top requesters: %w", err)
	}
	return st, nil
}

var newestFirst = bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}

func createdRange(from, to *time.Time) bson.M {
	filter := bson.M{}
	if from == nil && to == nil {
		return filter
	}
	r := bson.M{}
	if from != nil {
		r["$gte"] = from.UTC()
	}
	if to != nil {
		r["$lte"] = to.UTC()
	}
	filter["created_at"] = r
	return filter
}

func (s *LeaveStore) aggregate(ctx context.Context, out any, pipeline mongo.Pipeline) error {
	cursor, err := s.leaves.Aggregate(ctx, pipeline)
	if err != nil {
		return err
	}
	return cursor.All(ctx, out)
}

func (s *LeaveStore) findOne(ctx context.Context, filter bson.M) (*model.LeaveRequest, error) {
	var req model.LeaveRequest
	err := s.leaves.FindOne(ctx, filter).Decode(&req)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find leave request: %w", err)
	}
	return &req, nil
}

func (s *LeaveStore) findMany(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder) ([]*model.LeaveRequest, error) {
	cursor, err := s.leaves.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find leave requests: %w", err)
	}
	var results []*model.LeaveRequest
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("decode leave requests: %w", err)
	}
	return results, nil
}
