package grounding

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"no citations", "Pin your images.", []string{}},
		{"single", "Pin images [ev:finding:unpinned-images].", []string{"finding:unpinned-images"}},
		{"dedupes in order", "[ev:b] then [ev:a] then [ev:b]", []string{"b", "a"}},
		{"graph ids", "See [ev:run-7/node.42_x].", []string{"run-7/node.42_x"}},
		{"ignores malformed", "[ev:] [ev:  ] [evidence:x] [ev:split\nline]", []string{}},
		{"any characters up to the bracket", "[ev:finding:GHA 001] [ev:node:job#build] [ev:a@b+c]", []string{"finding:GHA 001", "node:job#build", "a@b+c"}},
		{"trims surrounding space", "[ev: node:job ] and [ev:node:job]", []string{"node:job"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(tt.text))
		})
	}
}

func TestVerify(t *testing.T) {
	allowed := []string{"finding:no-timeout", "finding:unpinned-images", "node:job", "node:step"}

	t.Run("grounded text", func(t *testing.T) {
		r := Verify(allowed, "Add timeouts [ev:finding:no-timeout].", "Jobs [ev:node:job]")
		assert.True(t, r.Grounded)
		assert.Empty(t, r.Unknown)
		assert.Equal(t, []string{"finding:no-timeout", "node:job"}, r.Citations)
		assert.Equal(t, 0.5, r.Coverage)
	})

	t.Run("unknown citations are flagged", func(t *testing.T) {
		r := Verify(allowed, "Fix [ev:node:deploy] and [ev:finding:no-timeout]")
		assert.False(t, r.Grounded)
		assert.Equal(t, []string{"node:deploy"}, r.Unknown)
		assert.Equal(t, 0.25, r.Coverage)
	})

	t.Run("no citations", func(t *testing.T) {
		r := Verify(allowed, "Nothing cited.")
		assert.True(t, r.Grounded)
		assert.Equal(t, 0.0, r.Coverage)
	})

	t.Run("empty allowed set", func(t *testing.T) {
		r := Verify(nil, "Nothing cited.")
		assert.Equal(t, 1.0, r.Coverage)
		assert.True(t, r.Grounded)

		r = Verify(nil, "[ev:x]")
		assert.False(t, r.Grounded)
		assert.Equal(t, []string{"x"}, r.Unknown)
	})

	t.Run("ids outside the usual charset", func(t *testing.T) {
		r := Verify([]string{"finding:GHA 001", "node:job#build"},
			"Fix [ev:finding:GHA 001] and [ev:node:job#build].",
			"Also [ev:invented id] and [ev:fake#1].")
		assert.False(t, r.Grounded)
		assert.Equal(t, []string{"finding:GHA 001", "node:job#build", "invented id", "fake#1"}, r.Citations)
		assert.Equal(t, []string{"invented id", "fake#1"}, r.Unknown)
		assert.Equal(t, 1.0, r.Coverage)
		assert.ErrorIs(t, PolicyReject.Enforce(r), ErrUngrounded)
	})

	t.Run("dedupes across texts", func(t *testing.T) {
		r := Verify(allowed, "[ev:node:job]", "[ev:node:job]")
		assert.Equal(t, []string{"node:job"}, r.Citations)
	})
}

func TestNormalizeID(t *testing.T) {
	assert.Equal(t, "finding:GHA 001", NormalizeID("  finding:GHA 001 "))
	assert.Equal(t, "node:a_b__c", NormalizeID("node:a]b\r\nc"))

	id := NormalizeID("graph:x]y")
	assert.Equal(t, []string{id}, Extract("[ev:"+id+"]"))
}

func TestPolicy(t *testing.T) {
	t.Run("parse", func(t *testing.T) {
		p, err := ParsePolicy("reject")
		require.NoError(t, err)
		assert.Equal(t, PolicyReject, p)

		_, err = ParsePolicy("ignore")
		assert.Error(t, err)
	})

	ungrounded := Report{Unknown: []string{"node:b", "node:a"}}

	t.Run("flag never fails", func(t *testing.T) {
		assert.NoError(t, PolicyFlag.Enforce(ungrounded))
	})

	t.Run("reject fails ungrounded", func(t *testing.T) {
		err := PolicyReject.Enforce(ungrounded)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUngrounded))
		assert.Contains(t, err.Error(), "[node:a node:b]")
	})

	t.Run("reject passes grounded", func(t *testing.T) {
		assert.NoError(t, PolicyReject.Enforce(Report{Grounded: true}))
	})
}
