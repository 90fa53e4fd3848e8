package indicator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessagesForEnglish(t *testing.T) {
	msg := MessagesFor("en")
	require.Equal(t, "Listening… speak whenever you're ready.", msg.Listening)
	require.Equal(t, "Recording your message…", msg.Recording)
	require.Equal(t, "Processing your message…", msg.Processing)
	require.Equal(t, "Speech recognition error", msg.Error)
}

func TestMessagesForUnknownLocaleFallsBackToEnglish(t *testing.T) {
	require.Equal(t, MessagesFor("en"), MessagesFor("fr"))
	require.Equal(t, MessagesFor("en"), MessagesFor(""))
}

func TestMessagesForMalayalam(t *testing.T) {
	ml := MessagesFor(" ML ")
	en := MessagesFor("en")
	require.NotEqual(t, en.Listening, ml.Listening)
	require.NotEmpty(t, ml.Recording)
	require.NotEmpty(t, ml.Processing)
	require.NotEmpty(t, ml.MicrophoneDenied)
}
