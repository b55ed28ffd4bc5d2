package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel(" warning "))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("bogus"))
}

func TestFromFallsBackToGlobal(t *testing.T) {
	l := zap.NewNop()
	ctx := ToContext(context.Background(), l)
	assert.Same(t, l, From(ctx))
	assert.NotNil(t, From(context.Background()))
}

func TestHashPrefixTruncates(t *testing.T) {
	f := HashPrefix("0123456789abcdef")
	assert.Equal(t, "0123456789ab", f.String)
	assert.Equal(t, "abc", HashPrefix("abc").String)
}
