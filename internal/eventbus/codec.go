package eventbus

import (
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Conversions between the Go wire types and dynamic eventbus.v1 messages.
// Both directions are kept so tests can play the server side.

func field(m protoreflect.Message, name string) protoreflect.FieldDescriptor {
	fd := m.Descriptor().Fields().ByName(protoreflect.Name(name))
	if fd == nil {
		panic("eventbus: " + string(m.Descriptor().Name()) + " has no field " + name)
	}
	return fd
}

func setString(m protoreflect.Message, name, v string) {
	if v != "" {
		m.Set(field(m, name), protoreflect.ValueOfString(v))
	}
}

func setBytes(m protoreflect.Message, name string, v []byte) {
	if len(v) > 0 {
		m.Set(field(m, name), protoreflect.ValueOfBytes(v))
	}
}

func setBool(m protoreflect.Message, name string, v bool) {
	if v {
		m.Set(field(m, name), protoreflect.ValueOfBool(v))
	}
}

func setInt32(m protoreflect.Message, name string, v int32) {
	if v != 0 {
		m.Set(field(m, name), protoreflect.ValueOfInt32(v))
	}
}

func setInt64(m protoreflect.Message, name string, v int64) {
	if v != 0 {
		m.Set(field(m, name), protoreflect.ValueOfInt64(v))
	}
}

func setEnum(m protoreflect.Message, name string, v int32) {
	if v != 0 {
		m.Set(field(m, name), protoreflect.ValueOfEnum(protoreflect.EnumNumber(v)))
	}
}

func getString(m protoreflect.Message, name string) string { return m.Get(field(m, name)).String() }
func getBool(m protoreflect.Message, name string) bool     { return m.Get(field(m, name)).Bool() }
func getInt32(m protoreflect.Message, name string) int32   { return int32(m.Get(field(m, name)).Int()) }
func getInt64(m protoreflect.Message, name string) int64   { return m.Get(field(m, name)).Int() }
func getEnum(m protoreflect.Message, name string) int32    { return int32(m.Get(field(m, name)).Enum()) }

func getBytes(m protoreflect.Message, name string) []byte {
	b := m.Get(field(m, name)).Bytes()
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}

// child returns the sub-message of a singular message field, or nil if unset.
func child(m protoreflect.Message, name string) protoreflect.Message {
	fd := field(m, name)
	if !m.Has(fd) {
		return nil
	}
	return m.Get(fd).Message()
}

func setChild(m protoreflect.Message, name string, fill func(protoreflect.Message)) {
	fd := field(m, name)
	v := m.NewField(fd)
	fill(v.Message())
	m.Set(fd, v)
}

func appendChild(m protoreflect.Message, name string, fill func(protoreflect.Message)) {
	list := m.Mutable(field(m, name)).List()
	v := list.NewElement()
	fill(v.Message())
	list.Append(v)
}

func eachChild(m protoreflect.Message, name string, fn func(protoreflect.Message)) {
	list := m.Get(field(m, name)).List()
	for i := 0; i < list.Len(); i++ {
		fn(list.Get(i).Message())
	}
}

// error

func encodeError(m protoreflect.Message, e *Error) {
	setEnum(m, "code", int32(e.Code))
	setString(m, "msg", e.Msg)
}

func decodeError(m protoreflect.Message) *Error {
	if m == nil {
		return nil
	}
	return &Error{Code: ErrorCode(getEnum(m, "code")), Msg: getString(m, "msg")}
}

// topics and schemas

func encodeTopicRequest(name string) *dynamicpb.Message {
	m := desc.newMessage(msgTopicRequest)
	setString(m, "topic_name", name)
	return m
}

func decodeTopicRequest(m protoreflect.Message) string { return getString(m, "topic_name") }

func encodeTopicInfo(t TopicInfo) *dynamicpb.Message {
	m := desc.newMessage(msgTopicInfo)
	setString(m, "topic_name", t.TopicName)
	setString(m, "tenant_guid", t.TenantGUID)
	setBool(m, "can_publish", t.CanPublish)
	setBool(m, "can_subscribe", t.CanSubscribe)
	setString(m, "schema_id", t.SchemaID)
	setString(m, "rpc_id", t.RPCID)
	return m
}

func decodeTopicInfo(m protoreflect.Message) TopicInfo {
	return TopicInfo{
		TopicName:    getString(m, "topic_name"),
		TenantGUID:   getString(m, "tenant_guid"),
		CanPublish:   getBool(m, "can_publish"),
		CanSubscribe: getBool(m, "can_subscribe"),
		SchemaID:     getString(m, "schema_id"),
		RPCID:        getString(m, "rpc_id"),
	}
}

func encodeSchemaRequest(id string) *dynamicpb.Message {
	m := desc.newMessage(msgSchemaRequest)
	setString(m, "schema_id", id)
	return m
}

func decodeSchemaRequest(m protoreflect.Message) string { return getString(m, "schema_id") }

func encodeSchemaInfo(s SchemaInfo) *dynamicpb.Message {
	m := desc.newMessage(msgSchemaInfo)
	setString(m, "schema_json", s.SchemaJSON)
	setString(m, "schema_id", s.SchemaID)
	setString(m, "rpc_id", s.RPCID)
	return m
}

func decodeSchemaInfo(m protoreflect.Message) SchemaInfo {
	return SchemaInfo{
		SchemaJSON: getString(m, "schema_json"),
		SchemaID:   getString(m, "schema_id"),
		RPCID:      getString(m, "rpc_id"),
	}
}

// events

func encodeProducerEvent(m protoreflect.Message, e ProducerEvent) {
	setString(m, "id", e.ID)
	setString(m, "schema_id", e.SchemaID)
	setBytes(m, "payload", e.Payload)
	for _, h := range e.Headers {
		appendChild(m, "headers", func(hm protoreflect.Message) {
			setString(hm, "key", h.Key)
			setBytes(hm, "value", h.Value)
		})
	}
}

func decodeProducerEvent(m protoreflect.Message) ProducerEvent {
	e := ProducerEvent{
		ID:       getString(m, "id"),
		SchemaID: getString(m, "schema_id"),
		Payload:  getBytes(m, "payload"),
	}
	eachChild(m, "headers", func(hm protoreflect.Message) {
		e.Headers = append(e.Headers, EventHeader{Key: getString(hm, "key"), Value: getBytes(hm, "value")})
	})
	return e
}

func encodeConsumerEvents(m protoreflect.Message, events []ConsumerEvent) {
	for _, ce := range events {
		appendChild(m, "events", func(cm protoreflect.Message) {
			setChild(cm, "event", func(em protoreflect.Message) { encodeProducerEvent(em, ce.Event) })
			setBytes(cm, "replay_id", ce.ReplayID)
		})
	}
}

func decodeConsumerEvents(m protoreflect.Message) []ConsumerEvent {
	var out []ConsumerEvent
	eachChild(m, "events", func(cm protoreflect.Message) {
		ce := ConsumerEvent{ReplayID: getBytes(cm, "replay_id")}
		if em := child(cm, "event"); em != nil {
			ce.Event = decodeProducerEvent(em)
		}
		out = append(out, ce)
	})
	return out
}

// publish

func encodePublishRequest(r *PublishRequest) *dynamicpb.Message {
	m := desc.newMessage(msgPublishRequest)
	setString(m, "topic_name", r.TopicName)
	for _, e := range r.Events {
		appendChild(m, "events", func(em protoreflect.Message) { encodeProducerEvent(em, e) })
	}
	setString(m, "auth_refresh", r.AuthRefresh)
	return m
}

func decodePublishRequest(m protoreflect.Message) *PublishRequest {
	r := &PublishRequest{
		TopicName:   getString(m, "topic_name"),
		AuthRefresh: getString(m, "auth_refresh"),
	}
	eachChild(m, "events", func(em protoreflect.Message) {
		r.Events = append(r.Events, decodeProducerEvent(em))
	})
	return r
}

func encodePublishResponse(r *PublishResponse) *dynamicpb.Message {
	m := desc.newMessage(msgPublishResponse)
	for _, res := range r.Results {
		appendChild(m, "results", func(rm protoreflect.Message) {
			setBytes(rm, "replay_id", res.ReplayID)
			if res.Error != nil {
				setChild(rm, "error", func(em protoreflect.Message) { encodeError(em, res.Error) })
			}
			setString(rm, "correlation_key", res.CorrelationKey)
		})
	}
	setString(m, "schema_id", r.SchemaID)
	setString(m, "rpc_id", r.RPCID)
	return m
}

func decodePublishResponse(m protoreflect.Message) *PublishResponse {
	r := &PublishResponse{
		SchemaID: getString(m, "schema_id"),
		RPCID:    getString(m, "rpc_id"),
	}
	eachChild(m, "results", func(rm protoreflect.Message) {
		r.Results = append(r.Results, PublishResult{
			ReplayID:       getBytes(rm, "replay_id"),
			Error:          decodeError(child(rm, "error")),
			CorrelationKey: getString(rm, "correlation_key"),
		})
	})
	return r
}

// subscribe

func encodeFetchRequest(r *FetchRequest) *dynamicpb.Message {
	m := desc.newMessage(msgFetchRequest)
	setString(m, "topic_name", r.TopicName)
	setEnum(m, "replay_preset", int32(r.ReplayPreset))
	setBytes(m, "replay_id", r.ReplayID)
	setInt32(m, "num_requested", r.NumRequested)
	setString(m, "auth_refresh", r.AuthRefresh)
	return m
}

func decodeFetchRequest(m protoreflect.Message) *FetchRequest {
	return &FetchRequest{
		TopicName:    getString(m, "topic_name"),
		ReplayPreset: ReplayPreset(getEnum(m, "replay_preset")),
		ReplayID:     getBytes(m, "replay_id"),
		NumRequested: getInt32(m, "num_requested"),
		AuthRefresh:  getString(m, "auth_refresh"),
	}
}

func encodeFetchResponse(r *FetchResponse) *dynamicpb.Message {
	m := desc.newMessage(msgFetchResponse)
	encodeConsumerEvents(m, r.Events)
	setBytes(m, "latest_replay_id", r.LatestReplayID)
	setString(m, "rpc_id", r.RPCID)
	setInt32(m, "pending_num_requested", r.PendingNumRequested)
	return m
}

func decodeFetchResponse(m protoreflect.Message) *FetchResponse {
	return &FetchResponse{
		Events:              decodeConsumerEvents(m),
		LatestReplayID:      getBytes(m, "latest_replay_id"),
		RPCID:               getString(m, "rpc_id"),
		PendingNumRequested: getInt32(m, "pending_num_requested"),
	}
}

// managed subscribe

func encodeManagedFetchRequest(r *ManagedFetchRequest) *dynamicpb.Message {
	m := desc.newMessage(msgManagedFetchRequest)
	setString(m, "subscription_id", r.SubscriptionID)
	setString(m, "developer_name", r.DeveloperName)
	setInt32(m, "num_requested", r.NumRequested)
	setString(m, "auth_refresh", r.AuthRefresh)
	if c := r.CommitReplayIDRequest; c != nil {
		setChild(m, "commit_replay_id_request", func(cm protoreflect.Message) {
			setString(cm, "commit_request_id", c.CommitRequestID)
			setBytes(cm, "replay_id", c.ReplayID)
		})
	}
	return m
}

func decodeManagedFetchRequest(m protoreflect.Message) *ManagedFetchRequest {
	r := &ManagedFetchRequest{
		SubscriptionID: getString(m, "subscription_id"),
		DeveloperName:  getString(m, "developer_name"),
		NumRequested:   getInt32(m, "num_requested"),
		AuthRefresh:    getString(m, "auth_refresh"),
	}
	if cm := child(m, "commit_replay_id_request"); cm != nil {
		r.CommitReplayIDRequest = &CommitReplayRequest{
			CommitRequestID: getString(cm, "commit_request_id"),
			ReplayID:        getBytes(cm, "replay_id"),
		}
	}
	return r
}

func encodeManagedFetchResponse(r *ManagedFetchResponse) *dynamicpb.Message {
	m := desc.newMessage(msgManagedFetchResponse)
	encodeConsumerEvents(m, r.Events)
	setBytes(m, "latest_replay_id", r.LatestReplayID)
	setString(m, "rpc_id", r.RPCID)
	setInt32(m, "pending_num_requested", r.PendingNumRequested)
	if c := r.CommitResponse; c != nil {
		setChild(m, "commit_response", func(cm protoreflect.Message) {
			setString(cm, "commit_request_id", c.CommitRequestID)
			setBytes(cm, "replay_id", c.ReplayID)
			if c.Error != nil {
				setChild(cm, "error", func(em protoreflect.Message) { encodeError(em, c.Error) })
			}
			setInt64(cm, "process_time", c.ProcessTime)
		})
	}
	return m
}

func decodeManagedFetchResponse(m protoreflect.Message) *ManagedFetchResponse {
	r := &ManagedFetchResponse{
		Events:              decodeConsumerEvents(m),
		LatestReplayID:      getBytes(m, "latest_replay_id"),
		RPCID:               getString(m, "rpc_id"),
		PendingNumRequested: getInt32(m, "pending_num_requested"),
	}
	if cm := child(m, "commit_response"); cm != nil {
		r.CommitResponse = &CommitReplayResponse{
			CommitRequestID: getString(cm, "commit_request_id"),
			ReplayID:        getBytes(cm, "replay_id"),
			Error:           decodeError(child(cm, "error")),
			ProcessTime:     getInt64(cm, "process_time"),
		}
	}
	return r
}
