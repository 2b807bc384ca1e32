package platform

import "context"

// VoicePlatform is the narrow contract the orchestrator has with the chat/voice
// service: ephemeral channel management, notification posting, and nothing else.
type VoicePlatform interface {
	CreateVoiceChannel(ctx context.Context, name string) (channelID string, err error)
	RemoveVoiceChannel(ctx context.Context, channelID, reason string) error
	MoveParticipant(ctx context.Context, participant, channelID string) error

	CreateThread(ctx context.Context, title, content string) (threadID string, err error)
	PostMessage(ctx context.Context, threadID, content string) error
	PostFile(ctx context.Context, threadID, message, fileName string, content []byte) error
}

// EventHandler receives inbound platform events. Join/leave arrive in event
// order per channel; frames carry decoded per-participant audio.
type EventHandler interface {
	HandleJoin(channelID, channelName, participant string)
	HandleLeave(channelID, participant string)
	HandleFrame(channelID, participant string, frame []byte)
	HandleEndCommand(channelID string)
}
