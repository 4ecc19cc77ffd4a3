package idgen

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_Format(t *testing.T) {
	re := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	assert.Regexp(t, re, New())
}

func TestTransaction(t *testing.T) {
	id := Transaction()
	assert.True(t, strings.HasPrefix(id, TransactionPrefix))
	assert.Len(t, id, len(TransactionPrefix)+24)
}

func TestRequest_Unique(t *testing.T) {
	seen := make(map[string]bool, 1000)
	for i := 0; i < 1000; i++ {
		id := Request()
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}
