// Package gradebook reports solved activities to the external grade book.
//
// The wire contract is a single unary gRPC method carrying a
// google.protobuf.Struct, so no generated code is needed on either side.
package gradebook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// Service and method names of the grade-book contract.
const (
	ServiceName       = "cluehunt.gradebook.v1.GradeBook"
	MethodRecordGrade = "/" + ServiceName + "/RecordGrade"
)

// MaxScore is the raw score of a correct answer.
const MaxScore = 100

var errInvalidGrade = errors.New("invalid grade")

// Grade is one grade-book update.
type Grade struct {
	UserID     int64
	ActivityID int64
	RawScore   float64
	GradedAt   time.Time
}

// Recorder writes grades to the grade book.
type Recorder interface {
	RecordGrade(ctx context.Context, grade Grade) error
}

// ClampScore limits a raw score to 0..MaxScore.
func ClampScore(score float64) float64 {
	return max(0, min(score, MaxScore))
}

// ids travel as strings; structpb numbers are float64.
func (g Grade) toStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"user_id":     strconv.FormatInt(g.UserID, 10),
		"activity_id": strconv.FormatInt(g.ActivityID, 10),
		"raw_score":   ClampScore(g.RawScore),
		"graded_at":   g.GradedAt.UTC().Format(time.RFC3339Nano),
	})
}

func gradeFromStruct(s *structpb.Struct) (Grade, error) {
	fields := s.GetFields()

	userID, err := strconv.ParseInt(fields["user_id"].GetStringValue(), 10, 64)
	if err != nil || userID <= 0 {
		return Grade{}, fmt.Errorf("%w: user_id", errInvalidGrade)
	}
	activityID, err := strconv.ParseInt(fields["activity_id"].GetStringValue(), 10, 64)
	if err != nil || activityID <= 0 {
		return Grade{}, fmt.Errorf("%w: activity_id", errInvalidGrade)
	}
	score, ok := fields["raw_score"].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return Grade{}, fmt.Errorf("%w: raw_score", errInvalidGrade)
	}
	gradedAt, err := time.Parse(time.RFC3339Nano, fields["graded_at"].GetStringValue())
	if err != nil {
		return Grade{}, fmt.Errorf("%w: graded_at", errInvalidGrade)
	}

	return Grade{
		UserID:     userID,
		ActivityID: activityID,
		RawScore:   ClampScore(score.NumberValue),
		GradedAt:   gradedAt,
	}, nil
}

// LogRecorder logs grades instead of sending them anywhere. It is used when
// no grade-book address is configured.
type LogRecorder struct {
	Logger *slog.Logger
}

// RecordGrade logs the grade.
func (r LogRecorder) RecordGrade(_ context.Context, grade Grade) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Grade recorded",
		"user_id", grade.UserID,
		"activity_id", grade.ActivityID,
		"raw_score", ClampScore(grade.RawScore))
	return nil
}
