package runtime

import (
	"google.golang.org/protobuf/proto"

	handlerspkg "github.com/drblury/handlerflow/internal/runtime/handlers"
)

// NewProtoMessage instantiates an empty protobuf message of type T.
func NewProtoMessage[T proto.Message]() (T, error) {
	var zero T
	return handlerspkg.EnsureProtoPrototype(zero)
}

// MustProtoMessage is NewProtoMessage panicking when T cannot be created.
func MustProtoMessage[T proto.Message]() T {
	msg, err := NewProtoMessage[T]()
	if err != nil {
		panic(err)
	}
	return msg
}
