package eventbus

import "fmt"

// ReplayPreset selects where a Subscribe stream starts.
type ReplayPreset int32

const (
	ReplayLatest ReplayPreset = iota
	ReplayEarliest
	ReplayCustom
)

func (p ReplayPreset) String() string {
	switch p {
	case ReplayLatest:
		return "LATEST"
	case ReplayEarliest:
		return "EARLIEST"
	case ReplayCustom:
		return "CUSTOM"
	default:
		return fmt.Sprintf("ReplayPreset(%d)", int32(p))
	}
}

// ErrorCode classifies a per-event error reported inside a response.
type ErrorCode int32

const (
	ErrorCodeUnknown ErrorCode = iota
	ErrorCodePublish
	ErrorCodeCommit
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorCodePublish:
		return "PUBLISH"
	case ErrorCodeCommit:
		return "COMMIT"
	default:
		return "UNKNOWN"
	}
}

// Error is an in-band error attached to a publish result or commit response.
type Error struct {
	Code ErrorCode
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

type TopicInfo struct {
	TopicName    string
	TenantGUID   string
	CanPublish   bool
	CanSubscribe bool
	SchemaID     string
	RPCID        string
	// PartitionCount is not reported by the service and stays 0.
	PartitionCount int
}

type SchemaInfo struct {
	SchemaJSON string
	SchemaID   string
	RPCID      string
}

type EventHeader struct {
	Key   string
	Value []byte
}

// ProducerEvent is an Avro-encoded event as published or delivered.
type ProducerEvent struct {
	ID       string
	SchemaID string
	Payload  []byte
	Headers  []EventHeader
}

type ConsumerEvent struct {
	Event    ProducerEvent
	ReplayID []byte
}

type PublishResult struct {
	ReplayID       []byte
	Error          *Error
	CorrelationKey string
}

type PublishRequest struct {
	TopicName   string
	Events      []ProducerEvent
	AuthRefresh string
}

type PublishResponse struct {
	Results  []PublishResult
	SchemaID string
	RPCID    string
}

type FetchRequest struct {
	TopicName    string
	ReplayPreset ReplayPreset
	ReplayID     []byte
	NumRequested int32
	AuthRefresh  string
}

type FetchResponse struct {
	Events              []ConsumerEvent
	LatestReplayID      []byte
	RPCID               string
	PendingNumRequested int32
}

type CommitReplayRequest struct {
	CommitRequestID string
	ReplayID        []byte
}

type CommitReplayResponse struct {
	CommitRequestID string
	ReplayID        []byte
	Error           *Error
	// ProcessTime is the server commit time in unix milliseconds.
	ProcessTime int64
}

type ManagedFetchRequest struct {
	SubscriptionID        string
	DeveloperName         string
	NumRequested          int32
	AuthRefresh           string
	CommitReplayIDRequest *CommitReplayRequest
}

type ManagedFetchResponse struct {
	Events              []ConsumerEvent
	LatestReplayID      []byte
	RPCID               string
	PendingNumRequested int32
	CommitResponse      *CommitReplayResponse
}
