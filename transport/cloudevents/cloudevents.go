// Package cloudevents carries message contexts as CloudEvents extension
// attributes.
//
// The serialized context travels in the "messagecontext" extension and the
// textual correlation id in "correlationid". Both names are valid extension
// attribute names, so they survive every protocol binding of the SDK.
package cloudevents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/cloudevents/sdk-go/v2/binding"
	"github.com/cloudevents/sdk-go/v2/protocol"
	"github.com/cloudevents/sdk-go/v2/types"
	"github.com/google/uuid"

	"github.com/fxsml/msgctx"
	"github.com/fxsml/msgctx/pipeline"
)

// Extension attribute names.
const (
	ExtensionMessageContext = pipeline.AttrMessageContext
	ExtensionCorrelationID  = pipeline.AttrCorrelationID
)

// HeaderFrom returns the context header of e, or nil.
func HeaderFrom(e *cloudevents.Event) []byte {
	if e == nil {
		return nil
	}
	v, ok := e.Extensions()[ExtensionMessageContext]
	if !ok {
		return nil
	}
	s, err := types.ToString(v)
	if err != nil || s == "" {
		return nil
	}
	return []byte(s)
}

// Extract registers the context carried by e and returns ctx carrying it.
func Extract[C msgctx.MessageContext](ctx context.Context, p *msgctx.Provider[C], e *cloudevents.Event) (context.Context, C, error) {
	return p.Extract(ctx, HeaderFrom(e))
}

// Stamp sets the context extensions of e from the ambient correlation of
// ctx, unless e already carries a context.
func Stamp[C msgctx.MessageContext](ctx context.Context, p *msgctx.Provider[C], e *cloudevents.Event) error {
	if HeaderFrom(e) != nil {
		return nil
	}
	header, id, err := p.OutboundHeaderWithID(ctx)
	if err != nil {
		return err
	}
	e.SetExtension(ExtensionMessageContext, string(header))
	e.SetExtension(ExtensionCorrelationID, id.String())
	return nil
}

// FromEvent converts e into a pipeline message. Extensions, including the
// context extensions, become attributes.
func FromEvent(e *cloudevents.Event, acking *pipeline.Acking) (*pipeline.Message, error) {
	if e == nil {
		return nil, fmt.Errorf("nil event")
	}

	attrs := pipeline.Attributes{
		pipeline.AttrID:   e.ID(),
		pipeline.AttrType: e.Type(),
		"specversion":     e.SpecVersion(),
		"source":          e.Source(),
	}
	if dct := e.DataContentType(); dct != "" {
		attrs["datacontenttype"] = dct
	}
	if subj := e.Subject(); subj != "" {
		attrs["subject"] = subj
	}
	if t := e.Time(); !t.IsZero() {
		attrs["time"] = t.UTC().Format(time.RFC3339)
	}
	for k, v := range e.Extensions() {
		attrs[k] = v
	}
	if header := HeaderFrom(e); header != nil {
		attrs[pipeline.AttrMessageContext] = header
	}
	if id, ok := attrs[pipeline.AttrCorrelationID]; ok {
		if s, err := types.ToString(id); err == nil {
			attrs[pipeline.AttrCorrelationID] = s
		}
	}

	var data []byte
	if b := e.Data(); len(b) > 0 {
		data = append([]byte(nil), b...)
	}
	return pipeline.New(data, attrs, acking), nil
}

// ToEvent converts msg into an event. Non-standard attributes become
// extensions and the context header is written as a string extension.
// A message without id attribute gets a random event id.
func ToEvent(msg *pipeline.Message) (*cloudevents.Event, error) {
	if msg == nil {
		return nil, fmt.Errorf("nil message")
	}

	e := cloudevents.NewEvent()
	var ct string
	for k, v := range msg.Attributes {
		s, _ := v.(string)
		switch k {
		case pipeline.AttrID:
			e.SetID(s)
		case pipeline.AttrType:
			e.SetType(s)
		case "source":
			e.SetSource(s)
		case "subject":
			e.SetSubject(s)
		case "specversion":
			if s != "" {
				e.SetSpecVersion(s)
			}
		case "datacontenttype":
			ct = s
			e.SetDataContentType(s)
		case "time":
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				e.SetTime(t)
			}
		case pipeline.AttrMessageContext:
			e.SetExtension(ExtensionMessageContext, string(msg.ContextHeader()))
		default:
			e.SetExtension(k, v)
		}
	}

	if e.ID() == "" {
		e.SetID(uuid.NewString())
	}

	if msg.Data != nil {
		var err error
		if ct == cloudevents.ApplicationJSON && json.Valid(msg.Data) {
			err = e.SetData(ct, json.RawMessage(msg.Data))
		} else {
			err = e.SetData(ct, msg.Data)
		}
		if err != nil {
			return nil, fmt.Errorf("set data: %w", err)
		}
	}
	return &e, nil
}

// Publisher sends pipeline messages as events stamped with their context.
type Publisher[C msgctx.MessageContext] struct {
	sender   protocol.Sender
	provider *msgctx.Provider[C]
	logger   *slog.Logger
}

// NewPublisher creates a publisher on sender. If logger is nil, uses
// slog.Default().
func NewPublisher[C msgctx.MessageContext](sender protocol.Sender, provider *msgctx.Provider[C], logger *slog.Logger) *Publisher[C] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher[C]{sender: sender, provider: provider, logger: logger}
}

// Publish stamps msg, converts it to an event and sends it. msg is acked
// on success and nacked on failure.
func (p *Publisher[C]) Publish(ctx context.Context, msg *pipeline.Message) error {
	id, err := pipeline.Stamp(ctx, p.provider, msg)
	if err != nil {
		msg.Nack(err)
		return err
	}

	event, err := ToEvent(msg)
	if err != nil {
		msg.Nack(err)
		return err
	}

	result := p.sender.Send(ctx, binding.ToMessage(event))
	if !protocol.IsACK(result) {
		p.logger.ErrorContext(msgctx.WithCorrelationID(ctx, id), "Event send failed",
			"id", event.ID(),
			"type", event.Type(),
			"error", result,
		)
		msg.Nack(result)
		return result
	}
	msg.Ack()
	return nil
}

// Receiver adapts fn into a receiver function for cloudevents.Client
// StartReceiver. The context of each event becomes the ambient correlation
// of the ctx passed to fn; a malformed or missing context NACKs the event.
func Receiver[C msgctx.MessageContext](p *msgctx.Provider[C], fn pipeline.ProcessFunc) func(context.Context, cloudevents.Event) protocol.Result {
	return func(ctx context.Context, e cloudevents.Event) protocol.Result {
		ctx, _, err := Extract(ctx, p, &e)
		if err != nil {
			return protocol.NewReceipt(false, "%s", err.Error())
		}
		msg, err := FromEvent(&e, nil)
		if err != nil {
			return protocol.NewReceipt(false, "%s", err.Error())
		}
		if _, err := fn(ctx, msg); err != nil {
			return protocol.NewReceipt(false, "%s", err.Error())
		}
		return protocol.ResultACK
	}
}
