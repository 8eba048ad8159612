package http

import (
	"encoding/json"
	"time"

	"github.com/ychat20/ychat-server/internal/core"
	"github.com/ychat20/ychat-server/internal/proto"
)

var (
	errMalformed     = core.NewError(core.KindValidation, core.ErrCodeBadRequest, "malformed message data")
	errUnknownType   = core.NewError(core.KindValidation, "invalid_message", "unknown message type")
	errAlreadyAuthed = core.NewError(core.KindValidation, core.ErrCodeBadRequest, "already connected")
	errRateLimited   = core.NewError(core.KindValidation, "rate_limited", "too many messages")
)

func inboundToCommand(inbound proto.Inbound) (*core.Command, *core.CoreError) {
	switch inbound.Type {
	case proto.InboundTypeSendDirect:
		var data proto.SendDirectData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, errMalformed
		}
		return &core.Command{Kind: core.CommandSendDirect, ReceiverID: data.ReceiverID, Content: data.Content}, nil
	case proto.InboundTypeSendRoom:
		var data proto.SendRoomData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, errMalformed
		}
		return &core.Command{Kind: core.CommandSendRoom, RoomID: data.RoomID, Content: data.Content}, nil
	case proto.InboundTypeEdit:
		var data proto.EditData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, errMalformed
		}
		return &core.Command{Kind: core.CommandEdit, MessageID: data.MessageID, Content: data.Content}, nil
	case proto.InboundTypeDelete:
		var data proto.DeleteData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, errMalformed
		}
		return &core.Command{Kind: core.CommandDelete, MessageID: data.MessageID}, nil
	case proto.InboundTypeSubscribe:
		var data proto.SubscribeData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, errMalformed
		}
		return &core.Command{Kind: core.CommandSubscribe, RoomID: data.RoomID}, nil
	case proto.InboundTypePing:
		return &core.Command{Kind: core.CommandPing}, nil
	case proto.InboundTypeConnect:
		return nil, errAlreadyAuthed
	default:
		return nil, errUnknownType
	}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventConnected:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventConnected,
			Data:  proto.EventConnectedData{UserID: event.UserID},
		}
	case core.EventMessageAck:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventMessageAck,
			Data: proto.EventAckData{
				Action:  string(event.Action),
				Message: proto.NewMessage(event.Message),
			},
		}
	case core.EventMessageDelivered:
		return messageOutbound(proto.EventMessageDelivered, event)
	case core.EventMessageEdited:
		return messageOutbound(proto.EventMessageEdited, event)
	case core.EventMessageDeleted:
		return messageOutbound(proto.EventMessageDeleted, event)
	case core.EventSubscribed:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventSubscribed,
			Data:  proto.EventSubscribedData{RoomID: event.RoomID},
		}
	case core.EventPong:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventPong,
			Data:  proto.EventPongData{Timestamp: time.Now().UTC()},
		}
	case core.EventAuthError:
		return errorOutbound(proto.EventAuthError, event.Error)
	case core.EventError:
		return errorOutbound(proto.OutboundTypeError, event.Error)
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}

func messageOutbound(name string, event *core.Event) proto.Outbound {
	return proto.Outbound{
		Type:  proto.OutboundTypeEvent,
		Event: name,
		Data:  proto.NewMessage(event.Message),
	}
}

func errorOutbound(name string, ce *core.CoreError) proto.Outbound {
	if ce == nil {
		return proto.Outbound{Type: proto.OutboundTypeError, Event: name, Error: &proto.Error{Code: "unknown", Msg: "unknown error"}}
	}
	return proto.Outbound{
		Type:  proto.OutboundTypeError,
		Event: name,
		Error: &proto.Error{Kind: string(ce.Kind), Code: ce.Code, Msg: ce.Message},
	}
}
