package detect

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestQuantifiedGroupNesting(t *testing.T) {
	tests := []struct {
		pattern string
		want    int
	}{
		{"^flow-[0-9]+$", 0},
		{"^(db|cache)$", 0},
		{"(ab)+", 1},
		{"(a+)+", 2},
		{`(\d+)*`, 2},
		{"([a-z]+)+", 2},
		{"((a+)+)+", 3},
		{`\(a+\)+`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, quantifiedGroupNesting(tt.pattern))
		})
	}
}

func TestRegexIssues(t *testing.T) {
	assert.Empty(t, regexIssues("^web-[a-z]{2,8}$"))
	assert.Len(t, regexIssues("^(a+)+$"), 1)
	assert.Len(t, regexIssues("a{1,5000}"), 1)
	assert.Len(t, regexIssues(strings.Repeat("a|", 60)+"a"), 1)
}

func TestCompileTimedRegex(t *testing.T) {
	obsCore, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(obsCore).Sugar()

	re, err := compileTimedRegex("^db-[0-9]+$", 0, logger)
	require.NoError(t, err)
	assert.Equal(t, DefaultRegexTimeout, re.re.MatchTimeout)

	ok, err := re.MatchString("db-12")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, logs.Len())

	_, err = compileTimedRegex("^(a+)+$", time.Millisecond, logger)
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("Regex pattern may backtrack heavily").Len())
}

func TestCompileTimedRegex_Rejects(t *testing.T) {
	_, err := compileTimedRegex("", time.Second, nil)
	assert.Error(t, err)

	_, err = compileTimedRegex(strings.Repeat("a", MaxRegexLength+1), time.Second, nil)
	assert.Error(t, err)

	_, err = compileTimedRegex("(unclosed", time.Second, nil)
	assert.Error(t, err)
}
