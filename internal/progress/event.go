package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage names a lifecycle milestone of a logical request.
type Stage string

// Supported stages.
const (
	StageQueued     Stage = "REQUEST_QUEUED"
	StageSkipped    Stage = "REQUEST_SKIPPED"
	StageFetchStart Stage = "FETCH_START"
	StageFetchDone  Stage = "FETCH_DONE"
	StageRetry      Stage = "FETCH_RETRY"
	StageDone       Stage = "REQUEST_DONE"
	StageError      Stage = "REQUEST_ERROR"
	// StageDrain is engine-wide and carries no request ID.
	StageDrain Stage = "ENGINE_DRAIN"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event is one lifecycle milestone.
type Event struct {
	// RequestID is the 16-byte form of the logical request UUID.
	RequestID [16]byte `json:"request_id"`
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time `json:"ts"`
	Stage Stage     `json:"stage"`
	// Limiter is the limiter key the request was queued on.
	Limiter string `json:"limiter,omitempty"`
	// Site is the host of URL.
	Site string `json:"site,omitempty"`
	// URL should not contain credentials.
	URL string `json:"url,omitempty"`
	// Attempt counts transport attempts made so far.
	Attempt     int           `json:"attempt"`
	Bytes       int64         `json:"bytes,omitempty"`
	StatusClass StatusClass   `json:"status_class,omitempty"`
	Dur         time.Duration `json:"dur,omitempty"`
	// Note carries low-volume context such as error text.
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageDrain:
		return nil
	case StageQueued, StageSkipped, StageRetry, StageDone, StageError, StageFetchStart:
	case StageFetchDone:
		if e.StatusClass == "" {
			return errors.New("fetch done requires status class")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.RequestID == [16]byte{} {
		return errors.New("request id is required")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RequestUUID converts the binary request ID to uuid.UUID for repositories.
func (e Event) RequestUUID() uuid.UUID {
	return uuid.UUID(e.RequestID)
}

// ParseRequestID converts a request ID to the Event form. IDs that are not
// UUIDs map to a stable name-based UUID so their events stay distinct. An
// empty ID yields the zero ID, which Validate rejects.
func ParseRequestID(id string) [16]byte {
	if id == "" {
		return [16]byte{}
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return [16]byte(uuid.NewSHA1(requestNamespace, []byte(id)))
	}
	return [16]byte(parsed)
}

// requestNamespace scopes name-based request IDs.
var requestNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("fetchqueue:request"))

// ClassifyStatus groups HTTP status codes.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
