// Package store is the persistence collaborator: postgres behind the narrow
// room.Store surface. Sessions carry their slide deck as a jsonb document;
// responses and grade overrides are relational rows so duplicate submissions
// can be rejected by a unique index.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"slidelive/internal/room"
)

type SessionRecord struct {
	ID               string `gorm:"primaryKey"`
	RoomCode         string `gorm:"size:8;index:idx_room_code"`
	Active           bool   `gorm:"index"`
	CurrentSlide     int
	ActiveQuestionID string
	FocusMode        bool
	ScoreMode        string
	BasePoints       int
	SlidesJSON       []byte `gorm:"type:jsonb"`
}

func (SessionRecord) TableName() string { return "sessions" }

type ResponseRecord struct {
	ID          string `gorm:"primaryKey"`
	SessionID   string `gorm:"index;uniqueIndex:idx_one_response,priority:1"`
	QuestionID  string `gorm:"uniqueIndex:idx_one_response,priority:2"`
	Name        string `gorm:"uniqueIndex:idx_one_response,priority:3"`
	Class       string
	AnswerJSON  []byte `gorm:"type:jsonb"`
	SubmittedAt int64
}

func (ResponseRecord) TableName() string { return "responses" }

type GradeOverrideRecord struct {
	SessionID  string `gorm:"uniqueIndex:idx_one_override,priority:1"`
	QuestionID string `gorm:"uniqueIndex:idx_one_override,priority:2"`
	Name       string `gorm:"uniqueIndex:idx_one_override,priority:3"`
	Correct    bool
}

func (GradeOverrideRecord) TableName() string { return "grade_overrides" }

// DB wraps the gorm handle.
type DB struct {
	*gorm.DB
}

func NewPostgres(host, user, password, dbname string, port int) (*DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		host, user, password, dbname, port)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &DB{DB: db}, nil
}

func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (db *DB) AutoMigrate() error {
	return db.DB.AutoMigrate(&SessionRecord{}, &ResponseRecord{}, &GradeOverrideRecord{})
}

var _ room.Store = (*DB)(nil)

func (db *DB) CreateSession(ctx context.Context, s *room.Session) error {
	rec, err := toSessionRecord(s)
	if err != nil {
		return err
	}
	// Exactly one active session per room code: retire any stale row first.
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&SessionRecord{}).
			Where("room_code = ? AND active", s.RoomCode).
			Update("active", false).Error; err != nil {
			return err
		}
		return tx.Create(rec).Error
	})
}

func (db *DB) FetchSessionByRoomCode(ctx context.Context, code string) (*room.Session, error) {
	var rec SessionRecord
	err := db.WithContext(ctx).
		Where("room_code = ? AND active", room.NormalizeCode(code)).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return fromSessionRecord(&rec)
}

func (db *DB) UpdateSessionFields(ctx context.Context, id string, fields map[string]any) error {
	return db.WithContext(ctx).
		Model(&SessionRecord{}).
		Where("id = ?", id).
		Updates(fields).Error
}

// PersistResponse appends a response. A second row for the same
// (session, question, participant) is dropped by the unique index; the store
// is the final authority on duplicates, so a conflict is not an error.
func (db *DB) PersistResponse(ctx context.Context, r *room.Response) error {
	answer, err := json.Marshal(r.Answer)
	if err != nil {
		return fmt.Errorf("failed to encode answer: %w", err)
	}
	rec := ResponseRecord{
		ID:          r.ID,
		SessionID:   r.SessionID,
		QuestionID:  r.QuestionID,
		Name:        r.Name,
		Class:       r.Class,
		AnswerJSON:  answer,
		SubmittedAt: r.SubmittedAt,
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec).Error
}

func (db *DB) FetchResponses(ctx context.Context, sessionID string) ([]room.Response, error) {
	var recs []ResponseRecord
	if err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("submitted_at").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]room.Response, 0, len(recs))
	for _, rec := range recs {
		var answer room.Answer
		if err := json.Unmarshal(rec.AnswerJSON, &answer); err != nil {
			return nil, fmt.Errorf("failed to decode answer %s: %w", rec.ID, err)
		}
		out = append(out, room.Response{
			ID:          rec.ID,
			SessionID:   rec.SessionID,
			Name:        rec.Name,
			Class:       rec.Class,
			QuestionID:  rec.QuestionID,
			Answer:      answer,
			SubmittedAt: rec.SubmittedAt,
		})
	}
	return out, nil
}

func (db *DB) SaveGradeOverride(ctx context.Context, sessionID string, key room.OverrideKey, correct bool) error {
	rec := GradeOverrideRecord{
		SessionID:  sessionID,
		QuestionID: key.QuestionID,
		Name:       key.Name,
		Correct:    correct,
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "question_id"}, {Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"correct"}),
		}).
		Create(&rec).Error
}

func (db *DB) FetchGradeOverrides(ctx context.Context, sessionID string) (map[room.OverrideKey]bool, error) {
	var recs []GradeOverrideRecord
	if err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make(map[room.OverrideKey]bool, len(recs))
	for _, rec := range recs {
		out[room.OverrideKey{QuestionID: rec.QuestionID, Name: rec.Name}] = rec.Correct
	}
	return out, nil
}

func toSessionRecord(s *room.Session) (*SessionRecord, error) {
	slides, err := json.Marshal(s.Slides)
	if err != nil {
		return nil, fmt.Errorf("failed to encode slides: %w", err)
	}
	return &SessionRecord{
		ID:               s.ID,
		RoomCode:         s.RoomCode,
		Active:           s.Active,
		CurrentSlide:     s.CurrentSlide,
		ActiveQuestionID: s.ActiveQuestionID,
		FocusMode:        s.FocusMode,
		ScoreMode:        string(s.ScoreMode),
		BasePoints:       s.BasePoints,
		SlidesJSON:       slides,
	}, nil
}

func fromSessionRecord(rec *SessionRecord) (*room.Session, error) {
	var slides []room.Slide
	if len(rec.SlidesJSON) > 0 {
		if err := json.Unmarshal(rec.SlidesJSON, &slides); err != nil {
			return nil, fmt.Errorf("failed to decode slides: %w", err)
		}
	}
	return &room.Session{
		ID:               rec.ID,
		RoomCode:         rec.RoomCode,
		Slides:           slides,
		CurrentSlide:     rec.CurrentSlide,
		ActiveQuestionID: rec.ActiveQuestionID,
		FocusMode:        rec.FocusMode,
		ScoreMode:        room.ScoreMode(rec.ScoreMode),
		BasePoints:       rec.BasePoints,
		Active:           rec.Active,
	}, nil
}
