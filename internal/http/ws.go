package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/partner-dispatch/internal/errs"
	"github.com/example/partner-dispatch/internal/models"
	"github.com/example/partner-dispatch/internal/push"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// clientFrame defers payload decoding until the event name is known.
type clientFrame struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	sess := push.NewSession(conn)
	go s.readLoop(conn, sess)
}

func (s *Server) readLoop(conn *websocket.Conn, sess *push.Session) {
	defer s.disconnect(sess)
	for {
		var frame clientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		s.handleClientEvent(sess, frame)
	}
}

func (s *Server) disconnect(sess *push.Session) {
	s.deps.Hub.Drop(sess)
	sess.Close()
	if sess.PartnerID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.deps.Profiles.UpdateLastOnline(ctx, sess.PartnerID); err != nil {
			s.logger.Warn("recording last online on disconnect", "partner_id", sess.PartnerID, "error", err)
		}
		s.logger.Info("partner disconnected", "partner_id", sess.PartnerID)
	}
}

func (s *Server) handleClientEvent(sess *push.Session, frame clientFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch frame.Name {
	case push.EventAuthenticate:
		s.wsAuthenticate(ctx, sess, frame.Data)
	case push.EventJoinOrderRoom:
		s.wsJoinOrderRoom(sess, frame.Data)
	case push.EventUpdateLocation:
		s.wsUpdateLocation(ctx, sess, frame.Data)
	case push.EventSetAvailability:
		s.wsSetAvailability(ctx, sess, frame.Data)
	case push.EventRespondToOrder:
		s.wsRespondToOrder(ctx, sess, frame.Data)
	case push.EventOrderStatusUpdate:
		s.wsOrderStatusUpdate(sess, frame.Data)
	default:
		s.logger.Debug("unknown client event", "event", frame.Name)
	}
}

func (s *Server) wsAuthenticate(ctx context.Context, sess *push.Session, data json.RawMessage) {
	var req struct {
		PartnerID string `json:"partner_id"`
		Token     string `json:"token"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.PartnerID == "" {
		sess.Send(push.Event{Name: push.EventAuthError, Data: map[string]string{"error": "malformed authenticate payload"}})
		return
	}
	if err := s.deps.Verifier.Verify(req.Token, req.PartnerID); err != nil {
		s.logger.Warn("websocket authentication failed", "partner_id", req.PartnerID, "error", err)
		sess.Send(push.Event{Name: push.EventAuthError, Data: map[string]string{"error": "invalid token"}})
		return
	}
	sess.PartnerID = req.PartnerID
	s.deps.Hub.Join(sess, push.PartnerRoom(req.PartnerID))
	if err := s.deps.Profiles.UpdateLastOnline(ctx, req.PartnerID); err != nil {
		s.logger.Warn("recording last online", "partner_id", req.PartnerID, "error", err)
	}
	sess.Send(push.Event{Name: push.EventAuthenticated, Data: map[string]any{"partner_id": req.PartnerID}})
	s.logger.Info("partner authenticated", "partner_id", req.PartnerID)
}

func (s *Server) wsJoinOrderRoom(sess *push.Session, data json.RawMessage) {
	var req struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.OrderID == "" {
		return
	}
	s.deps.Hub.Join(sess, push.OrderRoom(req.OrderID))
	sess.Send(push.Event{Name: push.EventRoomJoined, Data: map[string]string{"room": push.OrderRoom(req.OrderID)}})
}

func (s *Server) wsUpdateLocation(ctx context.Context, sess *push.Session, data json.RawMessage) {
	if sess.PartnerID == "" {
		sess.Send(push.Event{Name: push.EventLocationError, Data: map[string]string{"error": "authenticate first"}})
		return
	}
	var req struct {
		Loc     models.Coord `json:"location"`
		OrderID string       `json:"order_id"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		sess.Send(push.Event{Name: push.EventLocationError, Data: map[string]string{"error": "malformed location payload"}})
		return
	}
	registered, err := s.recordLocation(ctx, sess.PartnerID, req.Loc, req.OrderID)
	if err != nil {
		sess.Send(push.Event{Name: push.EventLocationError, Data: map[string]string{"error": err.Error()}})
		return
	}
	sess.Send(push.Event{Name: push.EventLocationUpdated, Data: map[string]any{
		"registered": registered,
		"timestamp":  time.Now().UnixMilli(),
	}})
}

func (s *Server) wsSetAvailability(ctx context.Context, sess *push.Session, data json.RawMessage) {
	if sess.PartnerID == "" {
		sess.Send(push.Event{Name: push.EventAvailabilityError, Data: map[string]string{"error": "authenticate first"}})
		return
	}
	var req availabilityRequest
	if err := json.Unmarshal(data, &req); err != nil {
		sess.Send(push.Event{Name: push.EventAvailabilityError, Data: map[string]string{"error": "malformed availability payload"}})
		return
	}
	if err := s.setAvailability(ctx, sess.PartnerID, req); err != nil {
		sess.Send(push.Event{Name: push.EventAvailabilityError, Data: map[string]string{"error": err.Error()}})
		return
	}
	sess.Send(push.Event{Name: push.EventAvailabilityUpdated, Data: map[string]any{"available": req.Available}})
}

func (s *Server) wsRespondToOrder(ctx context.Context, sess *push.Session, data json.RawMessage) {
	if sess.PartnerID == "" {
		return
	}
	var req struct {
		OrderID string `json:"order_id"`
		Accept  bool   `json:"accept"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.OrderID == "" {
		return
	}
	err := s.deps.Coordinator.Respond(ctx, req.OrderID, sess.PartnerID, req.Accept)
	result := "ok"
	switch {
	case errors.Is(err, errs.ErrStale):
		result = "stale_offer"
	case errors.Is(err, errs.ErrNotFound):
		result = "unknown_order"
	case err != nil:
		s.logger.Warn("order response failed", "order_id", req.OrderID, "partner_id", sess.PartnerID, "error", err)
		result = "error"
	}
	sess.Send(push.Event{Name: push.EventOrderResponseAck, Data: map[string]any{
		"order_id": req.OrderID,
		"accepted": req.Accept,
		"result":   result,
	}})
}

// wsOrderStatusUpdate relays partner-reported progress to order watchers.
// Code-gated transitions (picked_up, delivered) go through the verify
// endpoints, not here.
func (s *Server) wsOrderStatusUpdate(sess *push.Session, data json.RawMessage) {
	if sess.PartnerID == "" {
		return
	}
	var req struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.OrderID == "" || req.Status == "" {
		return
	}
	payload := map[string]any{
		"order_id":   req.OrderID,
		"status":     req.Status,
		"partner_id": sess.PartnerID,
		"timestamp":  time.Now().UnixMilli(),
	}
	s.deps.Hub.ToOrder(req.OrderID, push.EventOrderStatusUpdated, payload)
	if req.Status == "arrived_pickup" {
		s.deps.Hub.ToOrder(req.OrderID, push.EventDriverArrivedPickup, payload)
	}
}
