// Package bridge is the page-side endpoint of a tab. It receives action
// messages, runs them through the resolver, simulator and extractor bound to
// that tab, and answers with a serializable reply.
package bridge

import (
	"context"
	"sort"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/api/schemas"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/config"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/dom"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/extract"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/failure"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/interact"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/params"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// actionFunc runs one bridge action. The returned map becomes the reply's Data.
type actionFunc func(ctx context.Context, p params.Params) (map[string]interface{}, error)

// Bridge dispatches action messages for a single page.
type Bridge struct {
	page      dom.Page
	resolver  *dom.Resolver
	sim       *interact.Simulator
	extractor *extract.Extractor
	cfg       config.InteractionConfig
	logger    *zap.Logger
	actions   map[string]actionFunc
}

// New binds a Bridge to page.
func New(page dom.Page, cfg config.InteractionConfig, logger *zap.Logger) *Bridge {
	return NewWithSimulator(page, interact.New(page, cfg, logger), cfg, logger)
}

// NewWithSimulator is New with a caller-supplied simulator.
func NewWithSimulator(page dom.Page, sim *interact.Simulator, cfg config.InteractionConfig, logger *zap.Logger) *Bridge {
	resolver := dom.NewResolver(page, logger)
	b := &Bridge{
		page:      page,
		resolver:  resolver,
		sim:       sim,
		extractor: extract.New(page, resolver),
		cfg:       cfg,
		logger:    logger.Named("bridge"),
		actions:   make(map[string]actionFunc),
	}
	b.registerActions()
	return b
}

func (b *Bridge) registerActions() {
	b.actions[string(schemas.CommandClick)] = b.click
	b.actions[string(schemas.CommandTypeText)] = b.typeText
	b.actions[string(schemas.CommandFillForm)] = b.fillForm
	b.actions[string(schemas.CommandAutoFillForm)] = b.autoFillForm
	b.actions[string(schemas.CommandGetContent)] = b.getContent
	b.actions[string(schemas.CommandGetPageState)] = b.getPageState
	b.actions[string(schemas.CommandDetectForms)] = b.detectForms
	b.actions[string(schemas.CommandWaitForElement)] = b.probeElement
	b.actions[string(schemas.CommandFillSelect)] = b.fillSelect
	b.actions[string(schemas.CommandFillCheckbox)] = b.fillCheckbox
	b.actions[string(schemas.CommandFillRadio)] = b.fillRadio
	b.actions[string(schemas.CommandFillDate)] = b.fillDate
	b.actions[string(schemas.CommandSubmitForm)] = b.submitForm
	b.actions[string(schemas.CommandHandleFileUpload)] = b.fileUpload
}

// Actions lists the supported action names, sorted.
func (b *Bridge) Actions() []string {
	names := make([]string, 0, len(b.actions))
	for name := range b.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handle runs msg and never returns an error: failures are carried in the reply.
func (b *Bridge) Handle(ctx context.Context, msg schemas.BridgeMessage) schemas.BridgeReply {
	fn, ok := b.actions[msg.Action]
	if !ok {
		return Failed(failure.Validation("Unknown action: %s", msg.Action))
	}
	data, err := fn(ctx, params.Params(msg.Params))
	if err != nil {
		b.logger.Debug("Bridge action failed.", zap.String("action", msg.Action), zap.Error(err))
		return Failed(err)
	}
	return schemas.BridgeReply{Success: true, Data: data}
}

// Failed converts err into a failed reply that keeps its kind.
func Failed(err error) schemas.BridgeReply {
	return schemas.BridgeReply{Success: false, Error: err.Error(), Kind: string(failure.KindOf(err))}
}

// ReplyError rebuilds the classified error carried by a failed reply, or nil.
func ReplyError(r schemas.BridgeReply) error {
	if r.Success {
		return nil
	}
	kind := failure.Kind(r.Kind)
	if kind == "" {
		kind = failure.KindHandler
	}
	msg := r.Error
	if msg == "" {
		msg = "bridge action failed"
	}
	return &failure.Error{Kind: kind, Message: msg}
}

// Copy replaces dst with a structural copy of src made through JSON. Messages
// and replies cross the page boundary this way, so nothing but plain data survives.
func Copy(src, dst interface{}) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return failure.Wrap(failure.KindHandler, err, "")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return failure.Wrap(failure.KindHandler, err, "")
	}
	return nil
}

// toMap converts v into the plain JSON object shape a reply carries.
func toMap(v interface{}) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := Copy(v, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Bridge) humanLike(p params.Params) (bool, error) {
	return p.Bool("human_like", b.cfg.HumanLike)
}

func (b *Bridge) require(ctx context.Context, p params.Params, key string) (dom.Element, error) {
	sel, err := p.RequireString(key)
	if err != nil {
		return dom.Element{}, err
	}
	return b.resolver.Require(ctx, sel)
}
