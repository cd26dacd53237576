package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "", NormalizePath("/"))
	assert.Equal(t, "", NormalizePath(""))
	assert.Equal(t, "a/b", NormalizePath("/a/b/"))
	assert.Equal(t, "a/b", NormalizePath("a//b"))
	assert.Equal(t, "b", NormalizePath("a/../b"))
}

func TestProtocolPath(t *testing.T) {
	assert.Equal(t, "/", ProtocolPath(""))
	assert.Equal(t, "/", ProtocolPath("/"))
	assert.Equal(t, "/a/b", ProtocolPath("a/b/"))
}

func TestParentAndBase(t *testing.T) {
	assert.Equal(t, "", ParentPath(""))
	assert.Equal(t, "", ParentPath("top"))
	assert.Equal(t, "a/b", ParentPath("a/b/c"))

	assert.Equal(t, "", BaseName(""))
	assert.Equal(t, "c", BaseName("/a/b/c"))
	assert.Equal(t, "top", BaseName("top/"))
}
