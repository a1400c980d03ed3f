package blobkey_test

import (
	"strings"
	"testing"

	"github.com/artifact-vault/artifact-engine/pkg/artifact_engine/helpers/blobkey"
	"github.com/stretchr/testify/assert"
)

func TestResolve_Namespacing(t *testing.T) {
	key := blobkey.Resolve("acme", "project", "123", "contract.pdf")

	assert.True(t, strings.HasPrefix(key, "acme/project/123/"), key)
	assert.True(t, strings.HasSuffix(key, "/contract.pdf"), key)
}

func TestResolve_UniquePerCall(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key := blobkey.Resolve("acme", "project", "123", "contract.pdf")
		assert.False(t, seen[key], "duplicate key %s", key)
		seen[key] = true
	}
}

func TestResolve_SanitizesInput(t *testing.T) {
	key := blobkey.Resolve("ac me", "pro/ject", "1 2", "../../etc/passwd")

	assert.NotContains(t, key, " ")
	assert.NotContains(t, key, "..")
	assert.True(t, strings.HasPrefix(key, "ac_me/pro_ject/1_2/"), key)
	assert.True(t, strings.HasSuffix(key, "/passwd"), key)
}

func TestResolve_EmptyFileName(t *testing.T) {
	key := blobkey.Resolve("acme", "project", "123", "")
	assert.True(t, strings.HasSuffix(key, "/blob"), key)
}
