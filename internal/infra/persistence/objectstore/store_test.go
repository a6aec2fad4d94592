package objectstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "records/abc.json", ObjectKey("records", "abc"))
	assert.Equal(t, "state/a_b.json", ObjectKey("/state/", "a/b"))
}
