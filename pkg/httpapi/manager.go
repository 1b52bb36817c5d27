package httpapi

import (
	"context"
	"net/http"

	"hardwarestore/pkg/ledger"
	"hardwarestore/pkg/logging"
	"hardwarestore/pkg/session"
)

type orderPayload struct {
	OrderID         int64  `json:"order_id"`
	NewStatus       string `json:"new_status"`
	NewRefundStatus string `json:"new_refund_status"`
	DiscountID      *int64 `json:"discount_id"`
}

// ownOrder fails unless the manager handles the order.
func (s *Server) ownOrder(ctx context.Context, sess *session.Session, op string, orderID int64) error {
	ok, err := s.ledger.CanManageOrder(ctx, sess.SubjectID, orderID)
	if err != nil {
		return err
	}
	if !ok {
		return ledger.Errorf(ledger.KindUnauthorized, op, "order %d is not handled by you", orderID)
	}
	return nil
}

func (s *Server) managerClients(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	ctx, cancel := s.context(r)
	defer cancel()

	clients, err := s.ledger.ManagerClients(ctx, sess.SubjectID)
	if err != nil {
		s.respondError(w, "manager clients", err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"clients": clients})
}

// managerClientOrders lists every order of a client the manager handles at
// least one order for, plus the discounts that can be applied.
func (s *Server) managerClientOrders(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	const op = "manager client orders"
	clientID, err := pathID(r, op)
	if err != nil {
		s.respondError(w, op, err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()

	ok, err := s.ledger.CanManage(ctx, sess.SubjectID, clientID)
	if err != nil {
		s.respondError(w, op, err)
		return
	}
	if !ok {
		s.respondError(w, op, ledger.Errorf(ledger.KindUnauthorized, op, "no access to orders of client %d", clientID))
		return
	}
	orders, err := s.ledger.OrderSummaries(ctx, ledger.OrderFilter{ClientID: clientID})
	if err != nil {
		s.respondError(w, op, err)
		return
	}
	discounts, err := s.ledger.Discounts(ctx)
	if err != nil {
		s.respondError(w, op, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"orders": orders, "discounts": discounts})
}

func (s *Server) managerOrderStatus(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	const op = "update order status"
	var payload orderPayload
	if err := decode(w, r, op, &payload); err != nil {
		s.respondError(w, op, err)
		return
	}
	status, err := ledger.ParseStatus(payload.NewStatus)
	if err != nil {
		s.respondError(w, op, err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()

	if err := s.ownOrder(ctx, sess, op, payload.OrderID); err != nil {
		s.respondError(w, op, err)
		return
	}
	if err := s.ledger.UpdateStatus(ctx, payload.OrderID, status); err != nil {
		s.respondError(w, op, err)
		return
	}
	s.respond(w, http.StatusOK, nil)
}

func (s *Server) managerRefund(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	const op = "process refund"
	var payload orderPayload
	if err := decode(w, r, op, &payload); err != nil {
		s.respondError(w, op, err)
		return
	}
	if payload.OrderID <= 0 {
		s.respondError(w, op, ledger.Errorf(ledger.KindInvalidInput, op, "order_id is required"))
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()

	if err := s.ownOrder(ctx, sess, op, payload.OrderID); err != nil {
		s.respondError(w, op, err)
		return
	}
	if err := s.ledger.ProcessRefund(ctx, payload.OrderID); err != nil {
		s.respondError(w, op, err)
		return
	}
	s.logger.Info().Int64(logging.FieldOrderID, payload.OrderID).Int64(logging.FieldEmployeeID, sess.SubjectID).Msg("order refunded")
	s.respond(w, http.StatusOK, map[string]any{"message": "order removed and stock released"})
}

func (s *Server) managerRefundStatus(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	const op = "update refund status"
	var payload orderPayload
	if err := decode(w, r, op, &payload); err != nil {
		s.respondError(w, op, err)
		return
	}
	status, err := ledger.ParseRefundStatus(payload.NewRefundStatus)
	if err != nil {
		s.respondError(w, op, err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()

	if err := s.ownOrder(ctx, sess, op, payload.OrderID); err != nil {
		s.respondError(w, op, err)
		return
	}
	if err := s.ledger.UpdateRefundStatus(ctx, payload.OrderID, status); err != nil {
		s.respondError(w, op, err)
		return
	}
	s.respond(w, http.StatusOK, nil)
}

// managerDiscount sets or clears (discount_id null) the order's discount.
func (s *Server) managerDiscount(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	const op = "apply discount"
	var payload orderPayload
	if err := decode(w, r, op, &payload); err != nil {
		s.respondError(w, op, err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()

	if err := s.ownOrder(ctx, sess, op, payload.OrderID); err != nil {
		s.respondError(w, op, err)
		return
	}
	if err := s.ledger.ApplyDiscount(ctx, payload.OrderID, payload.DiscountID); err != nil {
		s.respondError(w, op, err)
		return
	}
	payable, err := s.ledger.Payable(ctx, payload.OrderID)
	if err != nil {
		s.respondError(w, op, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"final_amount": payable})
}
