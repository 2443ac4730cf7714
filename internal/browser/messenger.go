package browser

import (
	"context"

	"go.uber.org/zap"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/api/schemas"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/bridge"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/config"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/dom"
)

// PageSource yields the page behind a tab id.
type PageSource interface {
	Page(ctx context.Context, tabID string) (dom.Page, error)
}

// Messenger delivers bridge messages to tabs. Message and reply are copied
// structurally on the way in and out, as they would be across a page boundary.
type Messenger struct {
	pages  PageSource
	cfg    config.InteractionConfig
	logger *zap.Logger
}

// NewMessenger creates a Messenger over pages.
func NewMessenger(pages PageSource, cfg config.InteractionConfig, logger *zap.Logger) *Messenger {
	return &Messenger{pages: pages, cfg: cfg, logger: logger.Named("messenger")}
}

// Send runs msg against the tab's bridge. The error is reserved for delivery
// failures; action failures come back in the reply.
func (m *Messenger) Send(ctx context.Context, tabID string, msg schemas.BridgeMessage) (schemas.BridgeReply, error) {
	page, err := m.pages.Page(ctx, tabID)
	if err != nil {
		return schemas.BridgeReply{}, err
	}
	var in schemas.BridgeMessage
	if err := bridge.Copy(msg, &in); err != nil {
		return schemas.BridgeReply{}, err
	}

	reply := bridge.New(page, m.cfg, m.logger).Handle(ctx, in)

	var out schemas.BridgeReply
	if err := bridge.Copy(reply, &out); err != nil {
		return schemas.BridgeReply{}, err
	}
	return out, nil
}
