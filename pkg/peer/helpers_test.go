package peer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tomaslejdung/rigcast/pkg/capture"
	"github.com/tomaslejdung/rigcast/pkg/track"
)

func sharedTrack(t *testing.T, source string) *track.SharedTrack {
	t.Helper()
	r := track.NewRegistrar(capture.NewStatic([]string{source}, ""), nil, track.Options{Width: 16, Height: 16})
	st, err := r.Resolve(source)
	require.NoError(t, err)
	return st
}
