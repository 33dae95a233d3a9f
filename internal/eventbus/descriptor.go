package eventbus

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

const (
	protoPackage = "eventbus.v1"
	serviceName  = "PubSub"
)

// Message names of the eventbus.v1 contract.
const (
	msgTopicRequest         = "TopicRequest"
	msgTopicInfo            = "TopicInfo"
	msgSchemaRequest        = "SchemaRequest"
	msgSchemaInfo           = "SchemaInfo"
	msgEventHeader          = "EventHeader"
	msgProducerEvent        = "ProducerEvent"
	msgConsumerEvent        = "ConsumerEvent"
	msgError                = "Error"
	msgPublishResult        = "PublishResult"
	msgPublishRequest       = "PublishRequest"
	msgPublishResponse      = "PublishResponse"
	msgFetchRequest         = "FetchRequest"
	msgFetchResponse        = "FetchResponse"
	msgCommitReplayRequest  = "CommitReplayRequest"
	msgCommitReplayResponse = "CommitReplayResponse"
	msgManagedFetchRequest  = "ManagedFetchRequest"
	msgManagedFetchResponse = "ManagedFetchResponse"
	enumReplayPreset        = "ReplayPreset"
	enumErrorCode           = "ErrorCode"
	methodGetTopic          = "GetTopic"
	methodGetSchema         = "GetSchema"
	methodPublish           = "Publish"
	methodSubscribe         = "Subscribe"
	methodManagedSubscribe  = "ManagedSubscribe"
	methodPublishStream     = "PublishStream"
)

var (
	tString  = descriptorpb.FieldDescriptorProto_TYPE_STRING
	tBytes   = descriptorpb.FieldDescriptorProto_TYPE_BYTES
	tBool    = descriptorpb.FieldDescriptorProto_TYPE_BOOL
	tInt32   = descriptorpb.FieldDescriptorProto_TYPE_INT32
	tInt64   = descriptorpb.FieldDescriptorProto_TYPE_INT64
	tEnum    = descriptorpb.FieldDescriptorProto_TYPE_ENUM
	tMessage = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
)

func scalar(name string, num int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(num),
		Type:   typ.Enum(),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
	}
}

func ref(name string, num int32, typ descriptorpb.FieldDescriptorProto_Type, typeName string) *descriptorpb.FieldDescriptorProto {
	f := scalar(name, num, typ)
	f.TypeName = proto.String("." + protoPackage + "." + typeName)
	return f
}

func repeated(f *descriptorpb.FieldDescriptorProto) *descriptorpb.FieldDescriptorProto {
	f.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	return f
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

func enum(name string, values ...string) *descriptorpb.EnumDescriptorProto {
	e := &descriptorpb.EnumDescriptorProto{Name: proto.String(name)}
	for i, v := range values {
		e.Value = append(e.Value, &descriptorpb.EnumValueDescriptorProto{
			Name:   proto.String(v),
			Number: proto.Int32(int32(i)),
		})
	}
	return e
}

func method(name, in, out string, clientStreaming, serverStreaming bool) *descriptorpb.MethodDescriptorProto {
	return &descriptorpb.MethodDescriptorProto{
		Name:            proto.String(name),
		InputType:       proto.String("." + protoPackage + "." + in),
		OutputType:      proto.String("." + protoPackage + "." + out),
		ClientStreaming: proto.Bool(clientStreaming),
		ServerStreaming: proto.Bool(serverStreaming),
	}
}

func fileDescriptorProto() *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("eventbus/v1/pubsub_api.proto"),
		Package: proto.String(protoPackage),
		Syntax:  proto.String("proto3"),
		EnumType: []*descriptorpb.EnumDescriptorProto{
			enum(enumErrorCode, "UNKNOWN", "PUBLISH", "COMMIT"),
			enum(enumReplayPreset, "LATEST", "EARLIEST", "CUSTOM"),
		},
		MessageType: []*descriptorpb.DescriptorProto{
			message(msgTopicInfo,
				scalar("topic_name", 1, tString),
				scalar("tenant_guid", 2, tString),
				scalar("can_publish", 3, tBool),
				scalar("can_subscribe", 4, tBool),
				scalar("schema_id", 5, tString),
				scalar("rpc_id", 6, tString),
			),
			message(msgTopicRequest, scalar("topic_name", 1, tString)),
			message(msgEventHeader,
				scalar("key", 1, tString),
				scalar("value", 2, tBytes),
			),
			message(msgProducerEvent,
				scalar("id", 1, tString),
				scalar("schema_id", 2, tString),
				scalar("payload", 3, tBytes),
				repeated(ref("headers", 4, tMessage, msgEventHeader)),
			),
			message(msgConsumerEvent,
				ref("event", 1, tMessage, msgProducerEvent),
				scalar("replay_id", 2, tBytes),
			),
			message(msgPublishResult,
				scalar("replay_id", 1, tBytes),
				ref("error", 2, tMessage, msgError),
				scalar("correlation_key", 3, tString),
			),
			message(msgError,
				ref("code", 1, tEnum, enumErrorCode),
				scalar("msg", 2, tString),
			),
			message(msgFetchRequest,
				scalar("topic_name", 1, tString),
				ref("replay_preset", 2, tEnum, enumReplayPreset),
				scalar("replay_id", 3, tBytes),
				scalar("num_requested", 4, tInt32),
				scalar("auth_refresh", 5, tString),
			),
			message(msgFetchResponse,
				repeated(ref("events", 1, tMessage, msgConsumerEvent)),
				scalar("latest_replay_id", 2, tBytes),
				scalar("rpc_id", 3, tString),
				scalar("pending_num_requested", 4, tInt32),
			),
			message(msgSchemaRequest, scalar("schema_id", 1, tString)),
			message(msgSchemaInfo,
				scalar("schema_json", 1, tString),
				scalar("schema_id", 2, tString),
				scalar("rpc_id", 3, tString),
			),
			message(msgPublishRequest,
				scalar("topic_name", 1, tString),
				repeated(ref("events", 2, tMessage, msgProducerEvent)),
				scalar("auth_refresh", 3, tString),
			),
			message(msgPublishResponse,
				repeated(ref("results", 1, tMessage, msgPublishResult)),
				scalar("schema_id", 2, tString),
				scalar("rpc_id", 3, tString),
			),
			message(msgManagedFetchRequest,
				scalar("subscription_id", 1, tString),
				scalar("developer_name", 2, tString),
				scalar("num_requested", 3, tInt32),
				scalar("auth_refresh", 4, tString),
				ref("commit_replay_id_request", 5, tMessage, msgCommitReplayRequest),
			),
			message(msgManagedFetchResponse,
				repeated(ref("events", 1, tMessage, msgConsumerEvent)),
				scalar("latest_replay_id", 2, tBytes),
				scalar("rpc_id", 3, tString),
				scalar("pending_num_requested", 4, tInt32),
				ref("commit_response", 5, tMessage, msgCommitReplayResponse),
			),
			message(msgCommitReplayRequest,
				scalar("commit_request_id", 1, tString),
				scalar("replay_id", 2, tBytes),
			),
			message(msgCommitReplayResponse,
				scalar("commit_request_id", 1, tString),
				scalar("replay_id", 2, tBytes),
				ref("error", 3, tMessage, msgError),
				scalar("process_time", 4, tInt64),
			),
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String(serviceName),
			Method: []*descriptorpb.MethodDescriptorProto{
				method(methodSubscribe, msgFetchRequest, msgFetchResponse, true, true),
				method(methodGetSchema, msgSchemaRequest, msgSchemaInfo, false, false),
				method(methodGetTopic, msgTopicRequest, msgTopicInfo, false, false),
				method(methodPublish, msgPublishRequest, msgPublishResponse, false, false),
				method(methodPublishStream, msgPublishRequest, msgPublishResponse, true, true),
				method(methodManagedSubscribe, msgManagedFetchRequest, msgManagedFetchResponse, true, true),
			},
		}},
	}
}

// registry is the compiled eventbus.v1 file. It is built once at init and
// read-only afterwards.
type registry struct {
	file    protoreflect.FileDescriptor
	service protoreflect.ServiceDescriptor
}

var desc = mustBuild()

func mustBuild() *registry {
	fd, err := protodesc.NewFile(fileDescriptorProto(), new(protoregistry.Files))
	if err != nil {
		panic(fmt.Sprintf("eventbus: invalid descriptor: %v", err))
	}
	return &registry{
		file:    fd,
		service: fd.Services().ByName(serviceName),
	}
}

func (r *registry) newMessage(name string) *dynamicpb.Message {
	md := r.file.Messages().ByName(protoreflect.Name(name))
	if md == nil {
		panic("eventbus: unknown message " + name)
	}
	return dynamicpb.NewMessage(md)
}

// fullMethod returns the gRPC path of a PubSub method, e.g.
// "/eventbus.v1.PubSub/GetTopic".
func (r *registry) fullMethod(name string) string {
	m := r.service.Methods().ByName(protoreflect.Name(name))
	if m == nil {
		panic("eventbus: unknown method " + name)
	}
	return "/" + string(r.service.FullName()) + "/" + string(m.Name())
}

// FileDescriptor exposes the compiled eventbus.v1 contract, e.g. for
// reflection-based tooling.
func FileDescriptor() protoreflect.FileDescriptor { return desc.file }
