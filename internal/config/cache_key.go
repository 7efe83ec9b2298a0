package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// AttemptAnswersKey returns the cache key for a student's autosaved answers
// during one attempt at a test.
func (r *CacheKeyStruct) AttemptAnswersKey(testID string, studentID string) string {
	return fmt.Sprintf("student:%s:test:%s:answers", studentID, testID)
}

// AttemptStartKey returns the cache key for a student's attempt start time.
func (r *CacheKeyStruct) AttemptStartKey(testID string, studentID string) string {
	return fmt.Sprintf("student:%s:test:%s:attempt_start", studentID, testID)
}

// AttemptIDKey returns the cache key holding the client-generated attempt ID
// for a student's in-flight attempt. Used by the deadline worker to submit
// idempotently on the student's behalf.
func (r *CacheKeyStruct) AttemptIDKey(testID string, studentID string) string {
	return fmt.Sprintf("student:%s:test:%s:attempt_id", studentID, testID)
}

// TestPayloadKey returns the cache key for a test's cached paper payload.
func (r *CacheKeyStruct) TestPayloadKey(testID string) string {
	return fmt.Sprintf("test:%s:payload", testID)
}

// TestDurationKey returns the cache key for a test's duration in minutes.
func (r *CacheKeyStruct) TestDurationKey(testID string) string {
	return fmt.Sprintf("test:%s:duration", testID)
}

// TestAnswerKeyKey returns the cache key for a test's answer key hash.
func (r *CacheKeyStruct) TestAnswerKeyKey(testID string) string {
	return fmt.Sprintf("test:%s:key", testID)
}

// AttemptDeadlineIndex is the sorted set of in-flight timed attempts,
// scored by deadline unix time. Members are "<test_id>|<student_id>".
func (r *CacheKeyStruct) AttemptDeadlineIndex() string {
	return "attempt_deadlines"
}

// DeadlineMember builds a member value for the deadline index.
func (r *CacheKeyStruct) DeadlineMember(testID string, studentID string) string {
	return testID + "|" + studentID
}

var CacheKey = NewCacheKeyStruct()
