package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/meetscribe/internal/utils"
)

func TestLoadDefaults(t *testing.T) {
	tm, err := Load()
	require.NoError(t, err)

	got := tm.Render(KindJoin, map[string]string{"participant": "alice"})
	assert.Equal(t, "alice joined the meeting.", got)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("MEETING_JOIN_MESSAGE", "welcome {participant}!")

	tm, err := Load()
	require.NoError(t, err)

	got := tm.Render(KindJoin, map[string]string{"participant": "bob"})
	assert.Equal(t, "welcome bob!", got)
}

func TestLoadRejectsUnknownPlaceholder(t *testing.T) {
	t.Setenv("MEETING_JOIN_MESSAGE", "welcome {user_name}!")

	_, err := Load()
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
	assert.Contains(t, err.Error(), "user_name")
}

func TestRenderMissingValuesAsEmpty(t *testing.T) {
	tm, err := Load()
	require.NoError(t, err)

	got := tm.Render(KindEnded, map[string]string{"duration": "5m 0s"})
	assert.Contains(t, got, "**Duration**: 5m 0s")
	assert.Contains(t, got, "**Participants**: \n")
}

func TestRenderIgnoresExtraValues(t *testing.T) {
	tm, err := Load()
	require.NoError(t, err)

	got := tm.Render(KindLeave, map[string]string{"participant": "carol", "unused": "x"})
	assert.Equal(t, "carol left the meeting.", got)
}

func TestRenderUnknownKind(t *testing.T) {
	tm, err := Load()
	require.NoError(t, err)
	assert.Empty(t, tm.Render(Kind("bogus"), nil))
}
