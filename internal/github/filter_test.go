package github

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalyzable(t *testing.T) {
	assert.True(t, Analyzable("main.py"))
	assert.True(t, Analyzable("src/server/handler.go"))
	assert.True(t, Analyzable("web/app.tsx"))

	assert.False(t, Analyzable("logo.png"))
	assert.False(t, Analyzable("README"))
	assert.False(t, Analyzable("node_modules/lodash/index.js"))
	assert.False(t, Analyzable("vendor/pkg/lib.go"))
}

func TestLanguage(t *testing.T) {
	assert.Equal(t, "python", Language("main.py"))
	assert.Equal(t, "go", Language("cmd/root.go"))
	assert.Equal(t, "typescript", Language("app.ts"))
	assert.Equal(t, "text", Language("strange.weird"))
}
