package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	recordKeyPrefix = "ver:"
	queueKey        = "jobs"
)

// ErrNotFound is returned by Get for an unknown job id.
var ErrNotFound = errors.New("job not found")

// ErrMissingObjectKey is returned by Create when a required image part is
// absent. Jobs without a front and a selfie are never enqueued.
var ErrMissingObjectKey = errors.New("object_keys must include front and selfie")

// Store is the redis-backed job record store plus FIFO work queue. Records
// live at hash "ver:<id>"; pending ids at list "jobs". All coordination
// between workers goes through its atomic primitives. A worker crash between
// claim and final write leaves a job in processing forever; there is no
// lease or requeue sweep.
type Store struct {
	client         *redis.Client
	dequeueTimeout time.Duration
	logger         *zap.Logger
}

// New constructs a Store around an established redis client.
func New(client *redis.Client, dequeueTimeout time.Duration, logger *zap.Logger) *Store {
	return &Store{
		client:         client,
		dequeueTimeout: dequeueTimeout,
		logger:         logger.Named("jobstore"),
	}
}

// Create persists a pending record and enqueues its id in one transaction,
// so a created job is always visible to exactly one future dequeue.
func (s *Store) Create(ctx context.Context, documentType string, objectKeys map[string]string) (string, error) {
	if objectKeys["front"] == "" || objectKeys["selfie"] == "" {
		return "", ErrMissingObjectKey
	}

	id := "ver_" + uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	record := map[string]interface{}{
		"status":        string(StatusPending),
		"score":         "",
		"document_type": documentType,
		"front":         objectKeys["front"],
		"back":          objectKeys["back"],
		"selfie":        objectKeys["selfie"],
		"created_at":    now,
		"updated_at":    now,
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, recordKey(id), record)
	pipe.RPush(ctx, queueKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	s.logger.Info("job created", zap.String("job_id", id), zap.String("document_type", documentType))
	return id, nil
}

// Get reads the full record. Never blocks beyond the redis round trip.
func (s *Store) Get(ctx context.Context, id string) (Job, error) {
	data, err := s.client.HGetAll(ctx, recordKey(id)).Result()
	if err != nil {
		return Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	if len(data) == 0 {
		return Job{}, ErrNotFound
	}
	return jobFromHash(id, data)
}

// Update merges the given fields into the record.
func (s *Store) Update(ctx context.Context, id string, upd JobUpdate) error {
	fields, err := hashFromUpdate(upd)
	if err != nil {
		return err
	}
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.client.HSet(ctx, recordKey(id), fields).Err(); err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	return nil
}

// Dequeue claims the next pending job id. It blocks up to the configured
// timeout and returns an empty id when no work arrived, so callers can check
// for shutdown and re-poll. BLPOP is atomic: no two concurrent dequeues ever
// receive the same id.
func (s *Store) Dequeue(ctx context.Context) (string, error) {
	res, err := s.client.BLPop(ctx, s.dequeueTimeout, queueKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("dequeue: %w", err)
	}
	// BLPOP returns [key, value].
	return res[1], nil
}

func recordKey(id string) string {
	return recordKeyPrefix + id
}

// jobFromHash decodes the string-valued wire form into a typed Job.
func jobFromHash(id string, data map[string]string) (Job, error) {
	job := Job{
		ID:           id,
		Status:       Status(data["status"]),
		DocumentType: data["document_type"],
		Error:        data["error"],
		ObjectKeys: map[string]string{
			"front":  data["front"],
			"back":   data["back"],
			"selfie": data["selfie"],
		},
	}

	if raw := data["score"]; raw != "" {
		score, err := strconv.Atoi(raw)
		if err != nil {
			return Job{}, fmt.Errorf("decode score for job %s: %w", id, err)
		}
		job.Score = &score
	}
	if raw := data["fields"]; raw != "" {
		var fields IDFields
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			return Job{}, fmt.Errorf("decode fields for job %s: %w", id, err)
		}
		job.Fields = &fields
	}
	if raw := data["face_present"]; raw != "" {
		face, err := strconv.ParseBool(raw)
		if err != nil {
			return Job{}, fmt.Errorf("decode face_present for job %s: %w", id, err)
		}
		job.FacePresent = &face
	}
	if raw := data["created_at"]; raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			job.CreatedAt = ts
		}
	}
	if raw := data["updated_at"]; raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			job.UpdatedAt = ts
		}
	}
	return job, nil
}

// hashFromUpdate encodes a partial update into the string-valued wire form.
func hashFromUpdate(upd JobUpdate) (map[string]interface{}, error) {
	fields := make(map[string]interface{})
	if upd.Status != nil {
		fields["status"] = string(*upd.Status)
	}
	if upd.Score != nil {
		fields["score"] = strconv.Itoa(*upd.Score)
	}
	if upd.Fields != nil {
		raw, err := json.Marshal(upd.Fields)
		if err != nil {
			return nil, fmt.Errorf("encode fields: %w", err)
		}
		fields["fields"] = string(raw)
	}
	if upd.FacePresent != nil {
		fields["face_present"] = strconv.FormatBool(*upd.FacePresent)
	}
	if upd.Error != nil {
		fields["error"] = *upd.Error
	}
	return fields, nil
}
