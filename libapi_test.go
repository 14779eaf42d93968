package handlerflow

import (
	"context"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/drblury/handlerflow/metadatastore/memory"
)

func TestHandlerExportsPropagateErrors(t *testing.T) {
	err := RegisterJSONHandler(nil, JSONHandlerRegistration[*structpb.Struct, *structpb.Struct]{})
	assert.ErrorIs(t, err, ErrServiceRequired)

	err = RegisterProtoHandler(nil, ProtoHandlerRegistration[*structpb.Struct]{})
	assert.ErrorIs(t, err, ErrServiceRequired)
}

func TestProtoMessageHelpers(t *testing.T) {
	msg, err := NewProtoMessage[*structpb.Struct]()
	require.NoError(t, err)
	assert.NotNil(t, msg)
	assert.NotNil(t, MustProtoMessage[*structpb.Struct]())
}

func TestEncodingExportAliases(t *testing.T) {
	payload := map[string]string{"hello": "world"}
	_, err := Marshal(payload)
	require.NoError(t, err)
	_, err = MarshalIndent(payload, "", "  ")
	require.NoError(t, err)
	require.NoError(t, Unmarshal([]byte(`{"hello":"there"}`), &payload))
	assert.Equal(t, "there", payload["hello"])
}

func TestMetadataExport(t *testing.T) {
	md := NewMetadata("key", "value")
	assert.Equal(t, "value", md["key"])
}

func TestNullArgumentErrorsExported(t *testing.T) {
	assert.EqualError(t, ErrKeyNull, "'key' must not be null.")
	assert.EqualError(t, ErrValueNull, "'value' must not be null.")
}

func TestErrorCategoryConstants(t *testing.T) {
	assert.Equal(t, ErrorCategory("none"), ErrorCategoryNone)
	assert.Equal(t, ErrorCategory("validation"), ErrorCategoryValidation)
	assert.Equal(t, ErrorCategory("duplicate"), ErrorCategoryDuplicate)
	assert.Equal(t, ErrorCategoryValidation, DefaultErrorClassifier(&InvalidMessageError{Reason: "nil"}))
}

func TestMetricsRegistryExport(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.RecordStart()
	assert.EqualValues(t, 1, registry.Snapshot().ActiveCount)
	registry.RecordSuccess(0)
	assert.EqualValues(t, 1, registry.Snapshot().HandleCount)
	assert.Zero(t, registry.Snapshot().ActiveCount)
}

func TestIdempotencyExports(t *testing.T) {
	store, err := NewMetadataStore(memory.New(), nil)
	require.NoError(t, err)

	guard, err := NewIdempotencyGuard("orders", store)
	require.NoError(t, err)
	t.Cleanup(guard.Close)

	ctx := context.Background()
	admission, err := guard.Admit(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, Admitted, admission)

	admission, err = guard.Admit(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, Duplicate, admission)

	policy, err := ParseDuplicatePolicy("reject")
	require.NoError(t, err)
	assert.Equal(t, DuplicateReject, policy)
}

func TestHandlerCoreExport(t *testing.T) {
	core, err := NewHandlerCore("raw", func(*message.Message) ([]*message.Message, error) { return nil, nil },
		WithHandlerLogger(NewNopServiceLogger()))
	require.NoError(t, err)
	t.Cleanup(core.Destroy)

	_, err = core.Handle(message.NewMessage(CreateULID(), []byte("{}")))
	require.NoError(t, err)
	assert.EqualValues(t, 1, core.Snapshot().HandleCount)
}
