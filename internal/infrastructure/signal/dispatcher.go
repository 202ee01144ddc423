package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"voxsfu/internal/core/domain"
	"voxsfu/internal/core/ports"
	"voxsfu/internal/core/services"
	apperrors "voxsfu/pkg/errors"
	rlog "voxsfu/pkg/logger"
	"voxsfu/pkg/tracing"
	"voxsfu/pkg/utils"
	"voxsfu/pkg/validation"

	"github.com/gorilla/websocket"
)

type opHandler func(ctx context.Context, c *Client, user domain.UserID, d json.RawMessage) (interface{}, error)

func (s *WebSocketServer) handlers() map[string]opHandler {
	return map[string]opHandler{
		OpJoin:             s.handleJoin,
		OpLeave:            s.handleLeave,
		OpCreateTransport:  s.handleCreateTransport,
		OpConnectTransport: s.handleConnectTransport,
		OpProduce:          s.handleProduce,
		OpConsume:          s.handleConsume,
		OpResumeConsumer:   s.consumerOp(s.service.ResumeConsumer),
		OpPauseConsumer:    s.consumerOp(s.service.PauseConsumer),
		OpPauseProducer:    s.producerOp(s.service.PauseProducer),
		OpResumeProducer:   s.producerOp(s.service.ResumeProducer),
		OpCloseProducer:    s.producerOp(s.service.CloseProducer),
	}
}

// dispatch decodes one frame and answers it with a reply or an error.
func (s *WebSocketServer) dispatch(c *Client, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Op == "" {
		s.metrics.RecordSignalOp("invalid", string(apperrors.ErrCodeInvalidRequest), 0)
		c.sendError(msg.Seq, msg.Op, apperrors.NewInvalidRequestError("malformed message"))
		return
	}
	if !c.limiter.Allow() {
		s.metrics.RecordSignalOp(msg.Op, string(apperrors.ErrCodeRateLimited), 0)
		c.sendError(msg.Seq, msg.Op, apperrors.NewRateLimitError())
		return
	}

	switch msg.Op {
	case OpPing:
		c.reply(TypePong, msg.Seq, struct{}{})
		return
	case OpIdentify:
		s.run(c, msg, "", s.handleIdentify)
		return
	}

	handler, ok := s.ops[msg.Op]
	if !ok {
		s.metrics.RecordSignalOp("unknown", string(apperrors.ErrCodeInvalidRequest), 0)
		c.sendError(msg.Seq, msg.Op, apperrors.NewInvalidRequestError(fmt.Sprintf("unknown op %q", msg.Op)))
		return
	}
	identity, ok := c.Identity()
	if !ok {
		s.metrics.RecordSignalOp(msg.Op, string(apperrors.ErrCodeAuthenticationFailed), 0)
		c.sendError(msg.Seq, msg.Op, apperrors.NewAuthenticationError("identify first"))
		return
	}
	s.run(c, msg, identity.UserID, handler)
}

func (s *WebSocketServer) run(c *Client, msg ClientMessage, user domain.UserID, handler opHandler) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(c.ctx, s.opts.OpTimeout)
	defer cancel()
	ctx = rlog.WithTraceID(rlog.WithConnID(rlog.WithUserID(ctx, string(user)), c.id), utils.GenerateTraceID())
	ctx, span := tracing.TraceSignalOp(ctx, msg.Op, string(user))
	defer span.End()

	result, err := handler(ctx, c, user, msg.D)
	if err != nil {
		tracing.RecordError(ctx, err)
		appErr := services.ToAppError(err)
		log := s.ctxLogger.Sugar(ctx)
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			log.Errorw("signal op failed", "op", msg.Op, "code", appErr.Code, "error", err)
		} else {
			log.Debugw("signal op rejected", "op", msg.Op, "code", appErr.Code, "error", err)
		}
		s.metrics.RecordSignalOp(msg.Op, string(appErr.Code), time.Since(start))
		c.sendError(msg.Seq, msg.Op, appErr)
		if msg.Op == OpIdentify && appErr.Code == apperrors.ErrCodeAuthenticationFailed {
			c.closeAfterFlush(websocket.ClosePolicyViolation, "authentication failed")
		}
		return
	}
	s.metrics.RecordSignalOp(msg.Op, "ok", time.Since(start))
	c.reply(msg.Op, msg.Seq, result)
}

func decode(d json.RawMessage, v interface{}) error {
	if len(d) == 0 {
		d = json.RawMessage("{}")
	}
	if err := json.Unmarshal(d, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return nil
}

func invalid(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
}

// requireRoom checks that this connection speaks for user in room.
func (s *WebSocketServer) requireRoom(c *Client, room domain.RoomID, user domain.UserID) error {
	if err := validation.ValidateRoomID(string(room)); err != nil {
		return invalid(err)
	}
	if s.hub.owns(room, user, c) {
		return nil
	}
	if !s.service.RoomExists(room) {
		return fmt.Errorf("%w: %s", domain.ErrRoomNotFound, room)
	}
	return fmt.Errorf("%w: not joined to room %s", domain.ErrPeerNotFound, room)
}

func (s *WebSocketServer) handleIdentify(ctx context.Context, c *Client, _ domain.UserID, d json.RawMessage) (interface{}, error) {
	var req identifyRequest
	if err := decode(d, &req); err != nil {
		return nil, err
	}
	identity, err := s.verifier.Verify(ctx, req.Token)
	if err != nil {
		return nil, err
	}
	if !c.setIdentity(identity) {
		return nil, fmt.Errorf("%w: connection already identified as another user", domain.ErrInvalidRequest)
	}
	s.logger.Infow("connection identified", "conn_id", c.id, "user_id", identity.UserID)
	return identifyResponse{UserID: identity.UserID}, nil
}

func (s *WebSocketServer) handleJoin(ctx context.Context, c *Client, user domain.UserID, d json.RawMessage) (interface{}, error) {
	var req joinRequest
	if err := decode(d, &req); err != nil {
		return nil, err
	}
	identity, _ := c.Identity()

	// Bind first so that events raised right after the join reach this
	// connection.
	previous, ok := s.hub.bind(req.RoomID, user, c)
	if !ok {
		return nil, fmt.Errorf("%w: connection closed", domain.ErrPeerNotFound)
	}
	res, err := s.service.Join(ctx, ports.JoinRequest{
		RoomID:          req.RoomID,
		Identity:        identity,
		RtpCapabilities: req.RtpCapabilities,
		SessionID:       c.id,
	})
	if err != nil {
		s.hub.restore(req.RoomID, user, c, previous)
		return nil, err
	}
	// The connection may have dropped while the join ran. Its disconnect
	// handling has then already left, so undo the join here.
	if !s.hub.registered(c) {
		leaveCtx, cancel := context.WithTimeout(context.Background(), leaveOnDisconnectTimeout)
		defer cancel()
		if err := s.service.LeaveSession(leaveCtx, req.RoomID, user, c.id); err != nil {
			s.logger.Debugw("undo join after disconnect", "conn_id", c.id, "room_id", req.RoomID, "error", err)
		}
		return nil, fmt.Errorf("%w: connection closed during join", domain.ErrPeerNotFound)
	}
	if previous != nil {
		s.logger.Infow("session replaced", "room_id", req.RoomID, "user_id", user, "old_conn_id", previous.id, "conn_id", c.id)
		previous.reply(EventSessionReplace, nil, roomResponse{RoomID: req.RoomID})
	}

	producers := res.Producers
	if producers == nil {
		producers = []domain.ProducerInfo{}
	}
	return joinResponse{
		RouterRtpCapabilities: res.RouterRtpCapabilities,
		Producers:             producers,
		DisplayName:           res.DisplayName,
	}, nil
}

func (s *WebSocketServer) handleLeave(ctx context.Context, c *Client, user domain.UserID, d json.RawMessage) (interface{}, error) {
	var req roomRequest
	if err := decode(d, &req); err != nil {
		return nil, err
	}
	if err := s.requireRoom(c, req.RoomID, user); err != nil {
		return nil, err
	}
	err := s.service.LeaveSession(ctx, req.RoomID, user, c.id)
	s.hub.unbind(req.RoomID, user, c)
	if err != nil {
		return nil, err
	}
	return roomResponse{RoomID: req.RoomID}, nil
}

func (s *WebSocketServer) handleCreateTransport(ctx context.Context, c *Client, user domain.UserID, d json.RawMessage) (interface{}, error) {
	var req createTransportRequest
	if err := decode(d, &req); err != nil {
		return nil, err
	}
	if err := s.requireRoom(c, req.RoomID, user); err != nil {
		return nil, err
	}
	return s.service.CreateTransport(ctx, req.RoomID, user, req.Direction)
}

func (s *WebSocketServer) handleConnectTransport(ctx context.Context, c *Client, user domain.UserID, d json.RawMessage) (interface{}, error) {
	var req connectTransportRequest
	if err := decode(d, &req); err != nil {
		return nil, err
	}
	if err := s.requireRoom(c, req.RoomID, user); err != nil {
		return nil, err
	}
	if err := validation.ValidateObjectID("transportId", string(req.TransportID)); err != nil {
		return nil, invalid(err)
	}
	err := s.service.ConnectTransport(ctx, req.RoomID, user, req.TransportID, domain.RemoteTransportParams{
		DtlsParameters: req.DtlsParameters,
		IceParameters:  req.IceParameters,
		IceCandidates:  req.IceCandidates,
	})
	if err != nil {
		return nil, err
	}
	return transportResponse{TransportID: req.TransportID}, nil
}

func (s *WebSocketServer) handleProduce(ctx context.Context, c *Client, user domain.UserID, d json.RawMessage) (interface{}, error) {
	var req produceRequest
	if err := decode(d, &req); err != nil {
		return nil, err
	}
	if err := s.requireRoom(c, req.RoomID, user); err != nil {
		return nil, err
	}
	if err := validation.ValidateObjectID("transportId", string(req.TransportID)); err != nil {
		return nil, invalid(err)
	}
	id, err := s.service.Produce(ctx, ports.ProduceRequest{
		RoomID:        req.RoomID,
		UserID:        user,
		TransportID:   req.TransportID,
		Kind:          req.Kind,
		RtpParameters: req.RtpParameters,
	})
	if err != nil {
		return nil, err
	}
	return idResponse{ID: id}, nil
}

func (s *WebSocketServer) handleConsume(ctx context.Context, c *Client, user domain.UserID, d json.RawMessage) (interface{}, error) {
	var req consumeRequest
	if err := decode(d, &req); err != nil {
		return nil, err
	}
	if err := s.requireRoom(c, req.RoomID, user); err != nil {
		return nil, err
	}
	if err := validation.ValidateObjectID("transportId", string(req.TransportID)); err != nil {
		return nil, invalid(err)
	}
	if err := validation.ValidateObjectID("producerId", string(req.ProducerID)); err != nil {
		return nil, invalid(err)
	}
	return s.service.Consume(ctx, ports.ConsumeRequest{
		RoomID:          req.RoomID,
		UserID:          user,
		TransportID:     req.TransportID,
		ProducerID:      req.ProducerID,
		RtpCapabilities: req.RtpCapabilities,
	})
}

type consumerFunc func(ctx context.Context, roomID domain.RoomID, userID domain.UserID, id domain.ConsumerID) error

func (s *WebSocketServer) consumerOp(fn consumerFunc) opHandler {
	return func(ctx context.Context, c *Client, user domain.UserID, d json.RawMessage) (interface{}, error) {
		var req consumerRequest
		if err := decode(d, &req); err != nil {
			return nil, err
		}
		if err := s.requireRoom(c, req.RoomID, user); err != nil {
			return nil, err
		}
		if err := validation.ValidateObjectID("consumerId", string(req.ConsumerID)); err != nil {
			return nil, invalid(err)
		}
		if err := fn(ctx, req.RoomID, user, req.ConsumerID); err != nil {
			return nil, err
		}
		return consumerResponse{ConsumerID: req.ConsumerID}, nil
	}
}

type producerFunc func(ctx context.Context, roomID domain.RoomID, userID domain.UserID, id domain.ProducerID) error

func (s *WebSocketServer) producerOp(fn producerFunc) opHandler {
	return func(ctx context.Context, c *Client, user domain.UserID, d json.RawMessage) (interface{}, error) {
		var req producerRequest
		if err := decode(d, &req); err != nil {
			return nil, err
		}
		if err := s.requireRoom(c, req.RoomID, user); err != nil {
			return nil, err
		}
		if err := validation.ValidateObjectID("producerId", string(req.ProducerID)); err != nil {
			return nil, invalid(err)
		}
		if err := fn(ctx, req.RoomID, user, req.ProducerID); err != nil {
			return nil, err
		}
		return producerResponse{ProducerID: req.ProducerID}, nil
	}
}
