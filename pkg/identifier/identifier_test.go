package identifier_test

import (
	"testing"

	"github.com/absmach/fedlet/pkg/identifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParse(t *testing.T) {
	cases := []struct {
		desc  string
		input string
		want  identifier.ModelIdentifier
		ok    bool
	}{
		{
			desc:  "canonical bundle id",
			input: "tio:///models/mnist/hyperparameters/hp-1/checkpoints/c42",
			want:  identifier.ModelIdentifier{ModelID: "mnist", HyperparametersID: "hp-1", CheckpointID: "c42"},
			ok:    true,
		},
		{
			desc:  "only one part",
			input: "tio:///models/onlyOnePart",
		},
		{
			desc:  "wrong scheme",
			input: "http:///models/m/hyperparameters/h/checkpoints/c",
		},
		{
			desc:  "misspelled namespace",
			input: "tio:///models/m/hyperparameter/h/checkpoints/c",
		},
		{
			desc:  "empty checkpoint",
			input: "tio:///models/m/hyperparameters/h/checkpoints/",
		},
		{
			desc:  "trailing segment",
			input: "tio:///models/m/hyperparameters/h/checkpoints/c/extra",
		},
		{
			desc:  "arbitrary bundle id",
			input: "com.example.mnist",
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			got, ok := identifier.Parse(tc.input)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNewRejectsEmptyParts(t *testing.T) {
	_, err := identifier.New("m", "", "c")
	require.Error(t, err)

	id, err := identifier.New("m", "h", "c")
	require.NoError(t, err)
	assert.Equal(t, "tio:///models/m/hyperparameters/h/checkpoints/c", id.String())
}

func TestRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		part := rapid.StringMatching(`[A-Za-z0-9._-]{1,24}`)
		s := "tio:///models/" + part.Draw(rt, "model") +
			"/hyperparameters/" + part.Draw(rt, "hyperparameters") +
			"/checkpoints/" + part.Draw(rt, "checkpoint")

		id, ok := identifier.Parse(s)
		if !ok {
			rt.Fatalf("well-formed id %q did not parse", s)
		}
		if id.String() != s {
			rt.Fatalf("round trip mismatch: %q != %q", id.String(), s)
		}
	})
}

func TestMalformedNeverPartial(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := rapid.StringMatching(`tio:///models(/[a-z]{0,3}){0,4}`).Draw(rt, "bundle_id")

		id, ok := identifier.Parse(s)
		if !ok && !id.IsZero() {
			rt.Fatalf("partial identifier returned for %q: %+v", s, id)
		}
	})
}
