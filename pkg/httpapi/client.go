package httpapi

import (
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"hardwarestore/pkg/ledger"
	"hardwarestore/pkg/logging"
	"hardwarestore/pkg/session"
)

type cartPayload struct {
	ProductID int64 `json:"product_id"`
	Quantity  *int  `json:"quantity"`
}

// quantity defaults to one, as the storefront's "add" button sends none.
func (p cartPayload) quantity() int {
	if p.Quantity == nil {
		return 1
	}
	return *p.Quantity
}

type cartLine struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"product_name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Available int             `json:"available_quantity"`
}

// pathID parses the {id} wildcard of the route.
func pathID(r *http.Request, op string) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, ledger.Errorf(ledger.KindInvalidInput, op, "invalid id %q", raw)
	}
	return id, nil
}

func (s *Server) availableProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r)
	defer cancel()

	lots, err := s.ledger.AvailableLots(ctx)
	if err != nil {
		s.respondError(w, "available products", err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"products": lots})
}

// cartView prices the cart with current sale prices and availability.
func (s *Server) cartView(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	ctx, cancel := s.context(r)
	defer cancel()

	cart, err := sess.LedgerCart()
	if err != nil {
		s.respondError(w, "cart", &ledger.Error{Kind: ledger.KindInvalidInput, Op: "cart", Msg: "session cart is unreadable", Err: err})
		return
	}
	products, err := s.ledger.Products(ctx)
	if err != nil {
		s.respondError(w, "cart", err)
		return
	}
	byID := make(map[int64]ledger.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	lines := make([]cartLine, 0, len(cart))
	total := decimal.Zero
	for _, id := range cart.ProductIDs() {
		p, ok := byID[id]
		if !ok {
			continue
		}
		available, err := s.ledger.AvailableQuantity(ctx, id)
		if err != nil {
			s.respondError(w, "cart", err)
			return
		}
		subtotal := p.Price.Mul(decimal.NewFromInt(int64(cart[id])))
		total = total.Add(subtotal)
		lines = append(lines, cartLine{
			ProductID: id,
			Name:      p.Name,
			Price:     p.Price,
			Quantity:  cart[id],
			Subtotal:  subtotal,
			Available: available,
		})
	}
	s.respond(w, http.StatusOK, map[string]any{"items": lines, "total_price": total})
}

func (s *Server) cartAdd(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var payload cartPayload
	if err := decode(w, r, "add to cart", &payload); err != nil {
		s.respondError(w, "add to cart", err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()

	if err := s.carts.Add(ctx, sess, payload.ProductID, payload.quantity()); err != nil {
		s.respondError(w, "add to cart", err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"cart": sess.Cart})
}

func (s *Server) cartUpdate(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var payload cartPayload
	if err := decode(w, r, "update cart", &payload); err != nil {
		s.respondError(w, "update cart", err)
		return
	}
	if sess.Token == "" {
		s.respondError(w, "update cart", ledger.Errorf(ledger.KindNotFound, "update cart", "product %d is not in the cart", payload.ProductID))
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()

	if err := s.carts.Update(ctx, sess, payload.ProductID, payload.quantity()); err != nil {
		s.respondError(w, "update cart", err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"cart": sess.Cart})
}

func (s *Server) cartRemove(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var payload cartPayload
	if err := decode(w, r, "remove from cart", &payload); err != nil {
		s.respondError(w, "remove from cart", err)
		return
	}
	// Nothing to remove from a session that does not exist.
	if sess.Token != "" {
		if err := s.carts.Remove(sess, payload.ProductID); err != nil {
			s.respondError(w, "remove from cart", err)
			return
		}
	}
	s.respond(w, http.StatusOK, map[string]any{"cart": sess.Cart})
}

func (s *Server) checkout(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	cart, err := sess.LedgerCart()
	if err != nil {
		s.respondError(w, "checkout", &ledger.Error{Kind: ledger.KindInvalidInput, Op: "checkout", Msg: "session cart is unreadable", Err: err})
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()

	orderID, err := s.ledger.Checkout(ctx, sess.SubjectID, cart)
	if err != nil {
		s.respondError(w, "checkout", err)
		return
	}
	if err := s.carts.Clear(sess); err != nil {
		// The order exists; a stale cart is only an inconvenience.
		s.logger.Warn().Err(err).Int64(logging.FieldOrderID, orderID).Msg("unable to clear cart after checkout")
	}
	s.logger.Info().Int64(logging.FieldOrderID, orderID).Int64(logging.FieldClientID, sess.SubjectID).Int("lines", len(cart)).Msg("checkout completed")
	s.respond(w, http.StatusCreated, map[string]any{"order_id": orderID, "message": "order placed"})
}

// clientOrders lists the caller's orders with items and review/refund flags.
func (s *Server) clientOrders(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	ctx, cancel := s.context(r)
	defer cancel()

	summaries, err := s.ledger.OrderSummaries(ctx, ledger.OrderFilter{ClientID: sess.SubjectID})
	if err != nil {
		s.respondError(w, "client orders", err)
		return
	}
	orders := make([]ledger.OrderDetail, 0, len(summaries))
	for _, sum := range summaries {
		d, err := s.ledger.Order(ctx, sum.OrderID)
		if err != nil {
			s.respondError(w, "client orders", err)
			return
		}
		orders = append(orders, d)
	}
	s.respond(w, http.StatusOK, map[string]any{"orders": orders})
}

func (s *Server) submitFeedback(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	const op = "submit feedback"
	orderID, err := pathID(r, op)
	if err != nil {
		s.respondError(w, op, err)
		return
	}
	var payload struct {
		Feedback string `json:"feedback"`
	}
	if err := decode(w, r, op, &payload); err != nil {
		s.respondError(w, op, err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()

	order, err := s.ledger.Order(ctx, orderID)
	if err == nil && order.ClientID != sess.SubjectID {
		err = ledger.Errorf(ledger.KindNotFound, op, "order %d not found", orderID)
	}
	if err == nil {
		err = s.ledger.SubmitFeedback(ctx, orderID, payload.Feedback)
	}
	if err != nil {
		s.respondError(w, op, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"message": "feedback added"})
}
