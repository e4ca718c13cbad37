// Package server exposes the storefront over HTTP.
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"storefront/internal/adapter/index"
	"storefront/internal/adapter/store"
	"storefront/internal/auth"
	"storefront/internal/domain"
	"storefront/internal/usecase"
)

const userKey = "currentUser"

// Server wires the HTTP API to the use cases.
type Server struct {
	store    *store.BoltStore
	indexMgr *usecase.IndexManager
	orders   *usecase.OrderUseCase
	auth     *auth.Manager
	logger   *slog.Logger
	defaultK int
}

// New creates a Server.
func New(st *store.BoltStore, indexMgr *usecase.IndexManager, orders *usecase.OrderUseCase, authMgr *auth.Manager, logger *slog.Logger, defaultK int) *Server {
	if defaultK < 1 {
		defaultK = 5
	}
	return &Server{
		store:    st,
		indexMgr: indexMgr,
		orders:   orders,
		auth:     authMgr,
		logger:   logger,
		defaultK: defaultK,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/", s.handleRoot)
	r.GET("/products", s.handleListProducts)
	r.GET("/products/:id", s.handleGetProduct)
	r.GET("/search", s.handleSearch)
	r.POST("/register", s.handleRegister)
	r.POST("/token", s.handleToken)

	authed := r.Group("/", s.requireUser)
	authed.GET("/users/me", s.handleMe)
	authed.POST("/products", s.handleCreateProduct)
	authed.DELETE("/products/:id", s.handleDeleteProduct)
	authed.POST("/orders", s.handleCreateOrder)
	authed.GET("/orders", s.handleListOrders)
	authed.GET("/orders/:id", s.handleGetOrder)

	return r
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Welcome to the Storefront API"})
}

func (s *Server) handleListProducts(c *gin.Context) {
	products, err := s.store.ListProducts()
	if err != nil {
		s.serverError(c, err)
		return
	}
	if products == nil {
		products = []domain.Product{}
	}
	c.JSON(http.StatusOK, products)
}

func (s *Server) handleGetProduct(c *gin.Context) {
	product, err := s.store.GetProduct(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Product not found"})
			return
		}
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

type createProductRequest struct {
	Name        string  `json:"name" binding:"required"`
	Description string  `json:"description"`
	Price       float64 `json:"price" binding:"required,gt=0"`
	Category    string  `json:"category" binding:"required"`
	Stock       int     `json:"stock"`
}

func (s *Server) handleCreateProduct(c *gin.Context) {
	var req createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	id, err := s.store.NextProductID()
	if err != nil {
		s.serverError(c, err)
		return
	}

	product := domain.Product{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Category:    req.Category,
		Stock:       req.Stock,
	}
	if err := s.store.PutProduct(product); err != nil {
		s.serverError(c, err)
		return
	}

	// Catalog mutation flows into the search index. Embedding failure does
	// not undo the stored product; a later reindex picks it up.
	if _, err := s.indexMgr.Ingest(c.Request.Context(), []domain.Product{product}); err != nil {
		s.logger.Error("failed to index new product", "product", product.ID, "error", err)
	}

	c.JSON(http.StatusOK, product)
}

func (s *Server) handleDeleteProduct(c *gin.Context) {
	id := c.Param("id")

	if _, err := s.store.GetProduct(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Product not found"})
			return
		}
		s.serverError(c, err)
		return
	}

	if err := s.store.DeleteProduct(id); err != nil {
		s.serverError(c, err)
		return
	}
	if err := s.indexMgr.Delete(c.Request.Context(), id); err != nil {
		s.logger.Warn("failed to tombstone product in search index", "product", id, "error", err)
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) handleSearch(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "query parameter q is required"})
		return
	}

	k := s.defaultK
	if raw := c.Query("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "k must be a positive integer"})
			return
		}
		k = parsed
	}

	hits, err := s.indexMgr.Search(c.Request.Context(), query, k)
	if err != nil {
		if errors.Is(err, index.ErrInvalidK) {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		s.serverError(c, err)
		return
	}
	if hits == nil {
		hits = []domain.SearchHit{}
	}
	c.JSON(http.StatusOK, hits)
}

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	if _, err := s.store.GetUserByEmail(req.Email); err == nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Email already registered"})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.serverError(c, err)
		return
	}

	id, err := s.store.NextUserID()
	if err != nil {
		s.serverError(c, err)
		return
	}

	user := domain.User{ID: id, Email: req.Email, HashedPassword: hash, Active: true}
	if err := s.store.PutUser(user); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Email already registered"})
			return
		}
		s.serverError(c, err)
		return
	}

	c.JSON(http.StatusOK, user)
}

func (s *Server) handleToken(c *gin.Context) {
	email := c.PostForm("username")
	password := c.PostForm("password")
	if email == "" || password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "username and password are required"})
		return
	}

	user, err := s.store.GetUserByEmail(email)
	if err != nil || !auth.VerifyPassword(password, user.HashedPassword) {
		c.Header("WWW-Authenticate", "Bearer")
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Incorrect email or password"})
		return
	}

	token, err := s.auth.CreateAccessToken(user.Email)
	if err != nil {
		s.serverError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "bearer"})
}

func (s *Server) handleMe(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

type createOrderRequest struct {
	Items []struct {
		ProductID string `json:"product_id" binding:"required"`
		Quantity  int    `json:"quantity" binding:"required,gt=0"`
	} `json:"items" binding:"required"`
}

func (s *Server) handleCreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	items := make([]usecase.OrderItemRequest, len(req.Items))
	for i, item := range req.Items {
		items[i] = usecase.OrderItemRequest{ProductID: item.ProductID, Quantity: item.Quantity}
	}

	order, err := s.orders.Place(currentUser(c).ID, items)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"detail": err.Error()})
		case errors.Is(err, usecase.ErrEmptyOrder), errors.Is(err, usecase.ErrInvalidQuantity):
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		default:
			s.serverError(c, err)
		}
		return
	}

	c.JSON(http.StatusOK, order)
}

func (s *Server) handleListOrders(c *gin.Context) {
	orders, err := s.orders.ListForUser(currentUser(c).ID)
	if err != nil {
		s.serverError(c, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	c.JSON(http.StatusOK, orders)
}

func (s *Server) handleGetOrder(c *gin.Context) {
	order, err := s.orders.GetForUser(currentUser(c).ID, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Order not found"})
		return
	}
	c.JSON(http.StatusOK, order)
}

// requireUser validates the bearer token and loads the user it was issued
// for.
func (s *Server) requireUser(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		s.unauthorized(c)
		return
	}

	email, err := s.auth.ParseAccessToken(token)
	if err != nil {
		s.unauthorized(c)
		return
	}

	user, err := s.store.GetUserByEmail(email)
	if err != nil || !user.Active {
		s.unauthorized(c)
		return
	}

	c.Set(userKey, user)
	c.Next()
}

func (s *Server) unauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Could not validate credentials"})
}

func (s *Server) serverError(c *gin.Context, err error) {
	s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
}

func currentUser(c *gin.Context) domain.User {
	u, _ := c.Get(userKey)
	user, _ := u.(domain.User)
	return user
}
