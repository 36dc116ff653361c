package whatsapp

import (
	"fmt"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

func parseJID(raw string) (types.JID, error) {
	jid, err := types.ParseJID(raw)
	if err != nil {
		return types.JID{}, fmt.Errorf("invalid whatsapp jid %q: %w", raw, err)
	}
	return jid, nil
}

func textMessage(content string) *waE2E.Message {
	return &waE2E.Message{Conversation: proto.String(content)}
}
