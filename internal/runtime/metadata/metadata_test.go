package metadata

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
)

func TestCloneDoesNotAlias(t *testing.T) {
	original := Metadata{"a": "1"}
	clone := original.Clone()
	clone["a"] = "changed"

	assert.Equal(t, "1", original["a"])
	assert.NotNil(t, Metadata(nil).Clone())
}

func TestWithAndWithAll(t *testing.T) {
	base := Metadata{"foo": "bar"}

	enriched := base.With("baz", "qux")
	assert.Equal(t, Metadata{"foo": "bar", "baz": "qux"}, enriched)
	assert.NotContains(t, base, "baz")

	merged := base.WithAll(Metadata{"foo": "override", "x": "y"})
	assert.Equal(t, Metadata{"foo": "override", "x": "y"}, merged)
	assert.Equal(t, "bar", base["foo"])
}

func TestNew(t *testing.T) {
	assert.Equal(t, Metadata{"a": "1", "b": "2"}, New("a", "1", "b", "2", "dangling"))
	assert.Empty(t, New())
}

func TestReservedAccessors(t *testing.T) {
	md := New(KeyCorrelationID, "c-1", KeyIdempotency, "")
	assert.Equal(t, "c-1", md.CorrelationID())

	key, ok := md.IdempotencyKey()
	assert.True(t, ok, "an empty header is still a key")
	assert.Empty(t, key)

	_, ok = Metadata{}.IdempotencyKey()
	assert.False(t, ok)
}

func TestWatermillConversion(t *testing.T) {
	wm := message.Metadata{"k": "v"}
	md := FromWatermill(wm)
	md["k"] = "changed"
	assert.Equal(t, "v", wm["k"])

	back := ToWatermill(Metadata{"x": "y"})
	assert.Equal(t, "y", back.Get("x"))
	assert.NotNil(t, ToWatermill(nil))
}
