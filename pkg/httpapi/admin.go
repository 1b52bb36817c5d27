package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"hardwarestore/pkg/ledger"
	"hardwarestore/pkg/logging"
)

func (s *Server) adminRoutes(mux *http.ServeMux) {
	admin := func(pattern, name string, h http.HandlerFunc) {
		s.route(mux, pattern, "admin_"+name, s.requireAdmin(h))
	}

	admin("GET /api/admin/clients", "clients", s.adminClients)
	admin("POST /api/admin/clients", "create_client", s.adminCreateClient)
	admin("POST /api/admin/clients/update", "update_client", s.adminUpdateClient)
	admin("POST /api/admin/clients/delete", "delete_client", s.adminDeleteClient)
	admin("POST /api/admin/assign-client", "assign_client", s.adminAssignClient)

	admin("GET /api/admin/managers", "managers", s.adminManagers)
	admin("POST /api/admin/managers", "create_manager", s.adminCreateManager)
	admin("POST /api/admin/managers/update", "update_manager", s.adminUpdateManager)

	admin("GET /api/admin/categories", "categories", s.adminCategories)
	admin("POST /api/admin/categories", "create_category", s.adminCreateCategory)

	admin("GET /api/admin/products", "products", s.adminProducts)
	admin("POST /api/admin/products", "create_product", s.adminCreateProduct)
	admin("POST /api/admin/products/update", "update_product", s.adminUpdateProduct)

	admin("GET /api/admin/discounts", "discounts", s.adminDiscounts)
	admin("POST /api/admin/discounts", "create_discount", s.adminCreateDiscount)
	admin("POST /api/admin/discounts/update", "update_discount", s.adminUpdateDiscount)

	admin("GET /api/admin/inventory", "inventory", s.adminInventory)
	admin("POST /api/admin/inventory/shipment", "add_shipment", s.adminAddShipment)
	admin("POST /api/admin/inventory/update", "update_inventory", s.adminUpdateInventory)

	admin("GET /api/admin/orders", "orders", s.adminOrders)
	admin("POST /api/admin/orders", "create_order", s.adminCreateOrder)
	admin("GET /api/admin/orders/{id}", "order", s.adminOrder)
	admin("POST /api/admin/orders/{id}/items", "add_item", s.adminAddItem)
	admin("POST /api/admin/orders/{id}/refund", "refund", s.adminRefund)
	admin("POST /api/admin/orders/status", "order_status", s.adminOrderStatus)
	admin("POST /api/admin/orders/discount", "order_discount", s.adminOrderDiscount)
	admin("POST /api/admin/items/{id}/delete", "remove_item", s.adminRemoveItem)

	admin("GET /api/admin/reports/category-revenue", "category_revenue", s.adminCategoryRevenue)
	admin("GET /api/admin/reports/monthly-sales", "monthly_sales", s.adminMonthlySales)
}

// refundFlag accepts the "yes"/"no" values of the product form.
func refundFlag(op, raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes":
		return true, nil
	case "", "no":
		return false, nil
	default:
		return false, ledger.Errorf(ledger.KindInvalidInput, op, "refund_possibility must be yes or no")
	}
}

// --- clients and managers ---

func (s *Server) adminClients(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r)
	defer cancel()

	clients, err := s.ledger.Clients(ctx)
	if err != nil {
		s.respondError(w, "clients", err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"clients": clients})
}

func (s *Server) adminCreateClient(w http.ResponseWriter, r *http.Request) {
	const op = "create client"
	var payload struct {
		Name     string `json:"client_fio"`
		Phone    string `json:"client_phone"`
		Login    string `json:"login"`
		Password string `json:"password"`
	}
	if err := decode(w, r, op, &payload); err != nil {
		s.respondError(w, op, err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()

	id, err := s.ledger.CreateClient(ctx, ledger.NewClient{
		Name:     payload.Name,
		Phone:    payload.Phone,
		Login:    payload.Login,
		Password: payload.Password,
	})
	if err != nil {
		s.respondError(w, op, err)
		return
	}
	s.logger.Info().Int64(logging.FieldClientID, id).Str("login", payload.Login).Msg("client created")
	s.respond(w, http.StatusCreated, map[string]any{"client_id": id})
}

func (s *Server) adminUpdateClient(w http.ResponseWriter, r *http.Request) {
	const op = "update client"
	var payload struct {
		ClientID int64  `json:"client_id"`
		Name     string `json:"new_fio"`
		Phone    string `json:"new_phone"`
	}
	if err := decode(w, r, op, &payload); err != nil {
		s.respondError(w, op, err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()

	if err := s.ledger.UpdateClient(ctx, payload.ClientID, payload.Name, payload.Phone); err != nil {
		s.respondError(w, op, err)
		return
	}
	s.respond(w, http.StatusOK, nil)
}

func (s *Server) adminDeleteClient(w http.ResponseWriter, r *http.Request) {
	const op = "delete client"
	var payload struct {
		ClientID int64 `json:"client_id"`
	}
	if err := decode(w, r, op, &payload); err != nil {
		s.respondError(w, op, err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()

	if err := s.ledger.DeleteClient(ctx, payload.ClientID); err != nil {
		s.respondError(w, op, err)
		return
	}
	s.logger.Info().Int64(logging.FieldClientID, payload.ClientID).Msg("client deleted")
	s.respond(w, http.StatusOK, nil)
}

// adminAssignClient hands every order of a client to a manager; a null
// employee_id unassigns them.
func (s *Server) adminAssignClient(w http.ResponseWriter, r *http.Request) {
	const op = "assign client"
	var payload struct {
		ClientID   int64  `json:"client_id"`
		EmployeeID *int64 `json:"employee_id"`
	}
	if err := decode(w, r, op, &payload); err != nil {
		s.respondError(w, op, err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()

	n, err := s.ledger.AssignHandler(ctx, payload.ClientID, payload.EmployeeID)
	if err != nil {
		s.respondError(w, op, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"updated_orders": n})
}

func (s *Server) adminManagers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r)
	defer cancel()

	employees, err := s.ledger.Employees(ctx)
	if err != nil {
		s.respondError(w, "managers", err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"managers": employees})
}

func (s *Server) adminCreateManager(w http.ResponseWriter, r *http.Request) {
	const op = "create manager"
	var payload struct {
		Name     string `json:"employee_name"`
		Phone    string `json:"employee_phone"`
		Login    string `json:"login"`
		Password string `json:"password"`
	}
	if err := decode(w, r, op, &payload); err != nil {
		s.respondError(w, op, err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()

	id, err := s.ledger.CreateEmployee(ctx, ledger.NewEmployee{
		Name:     payload.Name,
		Phone:    payload.Phone,
		Login:    payload.Login,
		Password: payload.Password,
	})
	if err != nil {
		s.respondError(w, op, err)
		return
	}
	s.logger.Info().Int64(logging.FieldEmployeeID, id).Str("login", payload.Login).Msg("manager created")
	s.respond(w, http.StatusCreated, map[string]any{"employee_id": id})
}

func (s *Server) adminUpdateManager(w http.ResponseWriter, r *http.Request) {
	const op = "update manager"
	var payload struct {
		EmployeeID int64  `json:"employee_id"`
		Name       string `json:"employee_name"`
		Login      string `json:"login"`
	}
	if err := decode(w, r, op, &payload); err != nil {
		s.respondError(w, op, err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()

	if err := s.ledger.UpdateEmployee(ctx, payload.EmployeeID, payload.Name, payload.Login); err != nil {
		s.respondError(w, op, err)
		return
	}
	s.respond(w, http.StatusOK, nil)
}

// --- catalog ---

func (s *Server) adminCategories(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r)
	defer cancel()

	categories, err := s.ledger.Categories(ctx)
	if err != nil {
		s.respondError(w, "categories", err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"categories": categories})
}

func (s *Server) adminCreateCategory(w http.ResponseWriter, r *http.Request) {
	const op = "create category"
	var payload struct {
		Name string `json:"category_name"`
	}
	if err := decode(w, r, op, &payload); err != nil {
		s.respondError(w, op, err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()

	id, err := s.ledger.CreateCategory(ctx, payload.Name)
	if err != nil {
		s.respondError(w, op, err)
		return
	}
	s.respond(w, http.StatusCreated, map[string]any{"category_id": id})
}

type productPayload struct {
	ProductID  int64           `json:"product_id"`
	Name       string          `json:"product_name"`
	Price      decimal.Decimal `json:"price"`
	CategoryID int64           `json:"category_id"`
	Refund     string          `json:"refund_possibility"`
}

func (p productPayload) product(op string) (ledger.Product, error) {
	refundable, err := refundFlag(op, p.Refund)
	if err != nil {
		return ledger.Product{}, err
	}
	return ledger.Product{
		ID:         p.ProductID,
		Name:       p.Name,
		Price:      p.Price,
		Refundable: refundable,
		CategoryID: p.CategoryID,
	}, nil
}

func (s *Server) adminProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r)
	defer cancel()

	products, err := s.ledger.Products(ctx)
	if err != nil {
		s.respondError(w, "products", err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"products": products})
}

func (s *Server) adminCreateProduct(w http.ResponseWriter, r *http.Request) {
	const op = "create product"
	var payload productPayload
	if err := decode(w, r, op, &payload); err != nil {
		s.respondError(w, op, err)
		return
	}
	p, err := payload.product(op)
	if err != nil {
		s.respondError(w, op, err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()

	id, err := s.ledger.CreateProduct(ctx, p)
	if err != nil {
		s.respondError(w, op, err)
		return
	}
	s.respond(w, http.StatusCreated, map[string]any{"product_id": id})
}

func (s *Server) adminUpdateProduct(w http.ResponseWriter, r *http.Request) {
	const op = "update product"
	var payload productPayload
	if err := decode(w, r, op, &payload); err != nil {
		s.respondError(w, op, err)
		return
	}
	p, err := payload.product(op)
	if err != nil {
		s.respondError(w, op, err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()

	if err := s.ledger.UpdateProduct(ctx, p); err != nil {
		s.respondError(w, op, err)
		return
	}
	s.respond(w, http.StatusOK, nil)
}

type discountPayload struct {
	DiscountID int64           `json:"discount_id"`
	Name       string          `json:"discount_name"`
	Percent    decimal.Decimal `json:"discount_percent"`
}

func (s *Server) adminDiscounts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r)
	defer cancel()

	discounts, err := s.ledger.Discounts(ctx)
	if err != nil {
		s.respondError(w, "discounts", err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"discounts": discounts})
}

func (s *Server) adminCreateDiscount(w http.ResponseWriter, r *http.Request) {
	const op = "create discount"
	var payload discountPayload
	if err := decode(w, r, op, &payload); err != nil {
		s.respondError(w, op, err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()

	id, err := s.ledger.CreateDiscount(ctx, payload.Name, payload.Percent)
	if err != nil {
		s.respondError(w, op, err)
		return
	}
	s.respond(w, http.StatusCreated, map[string]any{"discount_id": id})
}

func (s *Server) adminUpdateDiscount(w http.ResponseWriter, r *http.Request) {
	const op = "update discount"
	var payload discountPayload
	if err := decode(w, r, op, &payload); err != nil {
		s.respondError(w, op, err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()

	err := s.ledger.UpdateDiscount(ctx, ledger.Discount{ID: payload.DiscountID, Name: payload.Name, Percent: payload.Percent})
	if err != nil {
		s.respondError(w, op, err)
		return
	}
	s.respond(w, http.StatusOK, nil)
}

// --- inventory ---

type lotPayload struct {
	LotID         int64           `json:"lot_id"`
	ProductID     int64           `json:"product_id"`
	OnHand        int             `json:"quantity_current"`
	Reserved      int             `json:"quantity_in_transit"`
	ReceivedAt    string          `json:"product_date_of_receipt"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
}

func (s *Server) adminInventory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r)
	defer cancel()

	lots, err := s.ledger.Lots(ctx)
	if err != nil {
		s.respondError(w, "inventory", err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"lots": lots})
}

// adminAddShipment records a new lot. A missing receipt date means today.
func (s *Server) adminAddShipment(w http.ResponseWriter, r *http.Request) {
	const op = "add shipment"
	var payload lotPayload
	if err := decode(w, r, op, &payload); err != nil {
		s.respondError(w, op, err)
		return
	}
	var received time.Time
	if raw := strings.TrimSpace(payload.ReceivedAt); raw != "" {
		t, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			s.respondError(w, op, ledger.Errorf(ledger.KindInvalidInput, op, "invalid product_date_of_receipt %q", raw))
			return
		}
		received = t
	}
	ctx, cancel := s.context(r)
	defer cancel()

	id, err := s.ledger.AddShipment(ctx, ledger.Lot{
		ProductID:     payload.ProductID,
		OnHand:        payload.OnHand,
		Reserved:      payload.Reserved,
		ReceivedAt:    received,
		PurchasePrice: payload.PurchasePrice,
	})
	if err != nil {
		s.respondError(w, op, err)
		return
	}
	s.logger.Info().Int64("lot_id", id).Int64("product_id", payload.ProductID).Int("quantity", payload.OnHand).Msg("shipment received")
	s.respond(w, http.StatusCreated, map[string]any{"lot_id": id})
}

func (s *Server) adminUpdateInventory(w http.ResponseWriter, r *http.Request) {
	const op = "update inventory"
	var payload lotPayload
	if err := decode(w, r, op, &payload); err != nil {
		s.respondError(w, op, err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()

	if err := s.ledger.UpdateLot(ctx, payload.LotID, payload.OnHand, payload.Reserved, payload.PurchasePrice); err != nil {
		s.respondError(w, op, err)
		return
	}
	s.respond(w, http.StatusOK, nil)
}

// --- orders ---

func (s *Server) adminOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r)
	defer cancel()

	orders, err := s.ledger.OrderSummaries(ctx, ledger.OrderFilter{})
	if err != nil {
		s.respondError(w, "orders", err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"orders": orders})
}

func (s *Server) adminCreateOrder(w http.ResponseWriter, r *http.Request) {
	const op = "create order"
	var payload struct {
		ClientID int64  `json:"client_id"`
		Channel  string `json:"order_channel"`
	}
	if err := decode(w, r, op, &payload); err != nil {
		s.respondError(w, op, err)
		return
	}
	if payload.Channel == "" {
		payload.Channel = string(ledger.ChannelAdmin)
	}
	ctx, cancel := s.context(r)
	defer cancel()

	id, err := s.ledger.CreateOrder(ctx, payload.ClientID, ledger.Channel(payload.Channel))
	if err != nil {
		s.respondError(w, op, err)
		return
	}
	s.respond(w, http.StatusCreated, map[string]any{"order_id": id})
}

func (s *Server) adminOrder(w http.ResponseWriter, r *http.Request) {
	const op = "order"
	id, err := pathID(r, op)
	if err != nil {
		s.respondError(w, op, err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()

	order, err := s.ledger.Order(ctx, id)
	if err != nil {
		s.respondError(w, op, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"order": order})
}

func (s *Server) adminAddItem(w http.ResponseWriter, r *http.Request) {
	const op = "add item"
	orderID, err := pathID(r, op)
	if err != nil {
		s.respondError(w, op, err)
		return
	}
	var payload struct {
		ProductID int64 `json:"product_id"`
		Quantity  int   `json:"quantity"`
	}
	if err := decode(w, r, op, &payload); err != nil {
		s.respondError(w, op, err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()

	itemID, err := s.ledger.AddItem(ctx, orderID, payload.ProductID, payload.Quantity)
	if err != nil {
		s.respondError(w, op, err)
		return
	}
	s.respond(w, http.StatusCreated, map[string]any{"order_item_id": itemID})
}

func (s *Server) adminRemoveItem(w http.ResponseWriter, r *http.Request) {
	const op = "remove item"
	itemID, err := pathID(r, op)
	if err != nil {
		s.respondError(w, op, err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()

	if err := s.ledger.RemoveItem(ctx, itemID); err != nil {
		s.respondError(w, op, err)
		return
	}
	s.respond(w, http.StatusOK, nil)
}

func (s *Server) adminRefund(w http.ResponseWriter, r *http.Request) {
	const op = "process refund"
	orderID, err := pathID(r, op)
	if err != nil {
		s.respondError(w, op, err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()

	if err := s.ledger.ProcessRefund(ctx, orderID); err != nil {
		s.respondError(w, op, err)
		return
	}
	s.logger.Info().Int64(logging.FieldOrderID, orderID).Msg("order refunded by admin")
	s.respond(w, http.StatusOK, nil)
}

func (s *Server) adminOrderStatus(w http.ResponseWriter, r *http.Request) {
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

	if err := s.ledger.UpdateStatus(ctx, payload.OrderID, status); err != nil {
		s.respondError(w, op, err)
		return
	}
	s.respond(w, http.StatusOK, nil)
}

func (s *Server) adminOrderDiscount(w http.ResponseWriter, r *http.Request) {
	const op = "apply discount"
	var payload orderPayload
	if err := decode(w, r, op, &payload); err != nil {
		s.respondError(w, op, err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()

	if err := s.ledger.ApplyDiscount(ctx, payload.OrderID, payload.DiscountID); err != nil {
		s.respondError(w, op, err)
		return
	}
	s.respond(w, http.StatusOK, nil)
}

// --- reports ---

func (s *Server) adminCategoryRevenue(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r)
	defer cancel()

	rows, err := s.ledger.CategoryRevenue(ctx)
	if err != nil {
		s.respondError(w, "category revenue", err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"categories": rows})
}

func (s *Server) adminMonthlySales(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r)
	defer cancel()

	rows, err := s.ledger.MonthlySales(ctx)
	if err != nil {
		s.respondError(w, "monthly sales", err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"months": rows})
}
