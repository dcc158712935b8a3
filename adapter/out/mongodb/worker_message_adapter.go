// Package mongodb implements MongoDB adapters for the application.
package mongodb

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"mailsort_server/core/domain"
	"mailsort_server/core/port/out"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// =============================================================================
// MongoDB Message Adapter
// =============================================================================

const (
	collectionMessages = "messages"

	// Compression threshold - only compress if content is larger than this
	compressionThreshold = 1024 // 1KB
)

// MessageAdapter implements out.MessageRepository using MongoDB.
type MessageAdapter struct {
	collection *mongo.Collection
}

// NewMessageAdapter creates a new MongoDB message adapter.
func NewMessageAdapter(db *mongo.Database) *MessageAdapter {
	return &MessageAdapter{collection: db.Collection(collectionMessages)}
}

// EnsureIndexes creates necessary indexes for the collection.
func (a *MessageAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "provider", Value: 1}, {Key: "providerMessageId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "userId", Value: 1}, {Key: "label", Value: 1}, {Key: "_id", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "userId", Value: 1}, {Key: "analysisDepth", Value: 1}, {Key: "refinementStatus", Value: 1}, {Key: "_id", Value: 1}},
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// =============================================================================
// Document Model
// =============================================================================

// messageDocument represents the MongoDB document structure.
type messageDocument struct {
	ID                string          `bson:"_id"`
	UserID            string          `bson:"userId"`
	Provider          domain.Provider `bson:"provider"`
	ProviderMessageID string          `bson:"providerMessageId"`
	ThreadID          string          `bson:"threadId,omitempty"`

	Subject    string    `bson:"subject"`
	Sender     string    `bson:"sender"`
	SenderName string    `bson:"senderName,omitempty"`
	Recipient  string    `bson:"recipient"`
	Timestamp  time.Time `bson:"timestamp"`
	Snippet    string    `bson:"snippet"`

	// Content (potentially compressed)
	Body            []byte          `bson:"body"`
	IsCompressed    bool            `bson:"isCompressed"`
	BodyType        domain.BodyType `bson:"bodyType,omitempty"`
	ContentLoaded   bool            `bson:"contentLoaded"`
	ContentLoadedAt *time.Time      `bson:"contentLoadedAt,omitempty"`

	Label            string                  `bson:"label"`
	Classification   *domain.Classification  `bson:"classification,omitempty"`
	RefinementStatus domain.RefinementStatus `bson:"refinementStatus"`
	AnalysisDepth    domain.AnalysisDepth    `bson:"analysisDepth"`
	PreviousLabel    string                  `bson:"previousLabel,omitempty"`

	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// =============================================================================
// Writes
// =============================================================================

// Upsert writes provider fields on every call; classification state is only
// set when the document is created.
func (a *MessageAdapter) Upsert(ctx context.Context, msg *domain.Message) (bool, error) {
	body, compressed, err := encodeBody(msg.Body)
	if err != nil {
		return false, fmt.Errorf("failed to encode body: %w", err)
	}

	now := time.Now()
	newID := msg.ID
	if newID == "" {
		newID = uuid.NewString()
	}
	refinement := msg.RefinementStatus
	if refinement == "" {
		refinement = domain.RefinementPending
	}
	depth := msg.AnalysisDepth
	if depth == "" {
		depth = domain.AnalysisBasic
	}

	filter := bson.M{
		"userId":            msg.UserID,
		"provider":          msg.Provider,
		"providerMessageId": msg.ProviderMessageID,
	}
	set := bson.M{
		"threadId":        msg.ThreadID,
		"subject":         msg.Subject,
		"sender":          msg.Sender,
		"senderName":      msg.SenderName,
		"recipient":       msg.Recipient,
		"timestamp":       msg.Timestamp,
		"snippet":         msg.Snippet,
		"body":            body,
		"isCompressed":    compressed,
		"bodyType":        msg.BodyType,
		"contentLoaded":   msg.ContentLoaded,
		"contentLoadedAt": msg.ContentLoadedAt,
		"updatedAt":       now,
	}
	setOnInsert := bson.M{
		"_id":              newID,
		"label":            msg.Label,
		"refinementStatus": refinement,
		"analysisDepth":    depth,
		"createdAt":        now,
	}
	if msg.Classification != nil {
		setOnInsert["classification"] = msg.Classification
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After).
		SetProjection(bson.M{"_id": 1})

	var res struct {
		ID string `bson:"_id"`
	}
	update := bson.M{"$set": set, "$setOnInsert": setOnInsert}
	err = a.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&res)
	if mongo.IsDuplicateKeyError(err) {
		// 동시 upsert 경합: 한 번 더 시도하면 기존 문서를 갱신한다
		err = a.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&res)
	}
	if err != nil {
		return false, fmt.Errorf("failed to upsert message: %w", err)
	}

	msg.ID = res.ID
	return res.ID == newID, nil
}

func (a *MessageAdapter) UpdateClassification(ctx context.Context, userID, id string, upd *domain.ClassificationUpdate) (bool, error) {
	set := bson.M{
		"label":     upd.Label,
		"updatedAt": time.Now(),
	}
	if upd.Classification != nil {
		set["classification"] = upd.Classification
	}
	if upd.PreviousLabel != "" {
		set["previousLabel"] = upd.PreviousLabel
	}
	if upd.RefinementStatus != "" {
		set["refinementStatus"] = upd.RefinementStatus
	}
	if upd.AnalysisDepth != "" {
		set["analysisDepth"] = upd.AnalysisDepth
	}
	update := bson.M{"$set": set}
	if upd.ClearBody {
		set["body"] = []byte{}
		set["isCompressed"] = false
		set["contentLoaded"] = false
		update["$unset"] = bson.M{"bodyType": "", "contentLoadedAt": ""}
	}

	filter := bson.M{"_id": id, "userId": userID, "label": upd.ExpectedLabel}
	res, err := a.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to update classification: %w", err)
	}
	if res.MatchedCount > 0 {
		return true, nil
	}

	n, err := a.collection.CountDocuments(ctx, bson.M{"_id": id, "userId": userID}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check message existence: %w", err)
	}
	if n == 0 {
		return false, out.ErrNotFound
	}
	return false, nil
}

func (a *MessageAdapter) DeleteByProvider(ctx context.Context, userID string, provider domain.Provider) (int64, error) {
	result, err := a.collection.DeleteMany(ctx, bson.M{"userId": userID, "provider": provider})
	if err != nil {
		return 0, fmt.Errorf("failed to delete messages by provider: %w", err)
	}
	return result.DeletedCount, nil
}

func (a *MessageAdapter) DeleteByProviderIDs(ctx context.Context, userID string, provider domain.Provider, providerIDs []string) (int64, error) {
	if len(providerIDs) == 0 {
		return 0, nil
	}
	filter := bson.M{"userId": userID, "provider": provider, "providerMessageId": bson.M{"$in": providerIDs}}

	result, err := a.collection.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to delete messages: %w", err)
	}
	return result.DeletedCount, nil
}

// =============================================================================
// Reads
// =============================================================================

func (a *MessageAdapter) GetByID(ctx context.Context, userID, id string) (*domain.Message, error) {
	var doc messageDocument
	err := a.collection.FindOne(ctx, bson.M{"_id": id, "userId": userID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, out.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return toMessage(&doc)
}

func (a *MessageAdapter) FindSettled(ctx context.Context, userID string, provider domain.Provider, providerIDs []string) (map[string]bool, error) {
	settled := make(map[string]bool)
	if len(providerIDs) == 0 {
		return settled, nil
	}

	filter := bson.M{
		"userId":            userID,
		"provider":          provider,
		"providerMessageId": bson.M{"$in": providerIDs},
		"$or": bson.A{
			bson.M{"contentLoaded": true},
			bson.M{"analysisDepth": domain.AnalysisComprehensive},
		},
	}
	cursor, err := a.collection.Find(ctx, filter, options.Find().SetProjection(bson.M{"providerMessageId": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to find settled messages: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var row struct {
			ProviderMessageID string `bson:"providerMessageId"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode message id: %w", err)
		}
		settled[row.ProviderMessageID] = true
	}
	return settled, cursor.Err()
}

func messageFilter(f *domain.MessageFilter) bson.M {
	filter := bson.M{"userId": f.UserID}
	if f.Label != "" {
		filter["label"] = f.Label
	}
	if f.Provider != "" {
		filter["provider"] = f.Provider
	}
	return filter
}

func (a *MessageAdapter) Count(ctx context.Context, f *domain.MessageFilter) (int64, error) {
	n, err := a.collection.CountDocuments(ctx, messageFilter(f))
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

func (a *MessageAdapter) ListBatch(ctx context.Context, f *domain.MessageFilter, afterID string, limit int) ([]*domain.Message, error) {
	filter := messageFilter(f)
	if afterID != "" {
		filter["_id"] = bson.M{"$gt": afterID}
	}
	return a.find(ctx, filter, limit)
}

func (a *MessageAdapter) ListForRefinement(ctx context.Context, userID string, exclude []string, limit int) ([]*domain.Message, error) {
	filter := bson.M{
		"userId":           userID,
		"analysisDepth":    domain.AnalysisBasic,
		"refinementStatus": bson.M{"$ne": domain.RefinementRefined},
	}
	if len(exclude) > 0 {
		filter["_id"] = bson.M{"$nin": exclude}
	}
	return a.find(ctx, filter, limit)
}

func (a *MessageAdapter) find(ctx context.Context, filter bson.M, limit int) ([]*domain.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := a.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer cursor.Close(ctx)

	var result []*domain.Message
	for cursor.Next(ctx) {
		var doc messageDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		m, err := toMessage(&doc)
		if err != nil {
			return nil, fmt.Errorf("failed to convert message %s: %w", doc.ID, err)
		}
		result = append(result, m)
	}
	return result, cursor.Err()
}

func (a *MessageAdapter) CountByLabel(ctx context.Context, userID string) (map[string]int64, error) {
	pipeline := []bson.M{
		{"$match": bson.M{"userId": userID}},
		{"$group": bson.M{"_id": "$label", "count": bson.M{"$sum": 1}}},
	}

	cursor, err := a.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to count labels: %w", err)
	}
	defer cursor.Close(ctx)

	counts := make(map[string]int64)
	for cursor.Next(ctx) {
		var row struct {
			Label string `bson:"_id"`
			Count int64  `bson:"count"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode label count: %w", err)
		}
		counts[row.Label] = row.Count
	}
	return counts, cursor.Err()
}

// =============================================================================
// Conversion Helpers
// =============================================================================

func toMessage(doc *messageDocument) (*domain.Message, error) {
	body, err := decodeBody(doc.Body, doc.IsCompressed)
	if err != nil {
		return nil, err
	}
	return &domain.Message{
		ID:                doc.ID,
		UserID:            doc.UserID,
		Provider:          doc.Provider,
		ProviderMessageID: doc.ProviderMessageID,
		ThreadID:          doc.ThreadID,
		Subject:           doc.Subject,
		Sender:            doc.Sender,
		SenderName:        doc.SenderName,
		Recipient:         doc.Recipient,
		Timestamp:         doc.Timestamp,
		Snippet:           doc.Snippet,
		Body:              body,
		BodyType:          doc.BodyType,
		ContentLoaded:     doc.ContentLoaded,
		ContentLoadedAt:   doc.ContentLoadedAt,
		Label:             doc.Label,
		Classification:    doc.Classification,
		RefinementStatus:  doc.RefinementStatus,
		AnalysisDepth:     doc.AnalysisDepth,
		PreviousLabel:     doc.PreviousLabel,
		CreatedAt:         doc.CreatedAt,
		UpdatedAt:         doc.UpdatedAt,
	}, nil
}

// encodeBody gzips bodies above the compression threshold.
func encodeBody(body string) ([]byte, bool, error) {
	raw := []byte(body)
	if len(raw) <= compressionThreshold {
		return raw, false, nil
	}
	compressed, err := compress(raw)
	if err != nil {
		return nil, false, err
	}
	return compressed, true, nil
}

func decodeBody(data []byte, compressed bool) (string, error) {
	if !compressed {
		return string(data), nil
	}
	raw, err := decompress(data)
	if err != nil {
		return "", fmt.Errorf("failed to decompress body: %w", err)
	}
	return string(raw), nil
}

// =============================================================================
// Compression Helpers
// =============================================================================

func compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)

	if _, err := writer.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

// =============================================================================
// Interface Compliance
// =============================================================================

var _ out.MessageRepository = (*MessageAdapter)(nil)
