package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hmos/marketplace/internal/models"
	"github.com/hmos/marketplace/internal/services"
)

// EscrowEngine is the subset of the escrow service the HTTP layer drives.
type EscrowEngine interface {
	Open(ctx context.Context, p services.OpenParams) (*models.EscrowTransaction, error)
	SubmitWork(ctx context.Context, escrowID, sellerID uuid.UUID, work services.WorkSubmission) (*models.EscrowTransaction, error)
	RequestRevision(ctx context.Context, escrowID, buyerID uuid.UUID, feedback string) (*models.EscrowTransaction, error)
	Approve(ctx context.Context, escrowID, buyerID uuid.UUID) (*models.EscrowTransaction, error)
	FileDispute(ctx context.Context, escrowID, userID uuid.UUID, reason string) (*models.EscrowTransaction, error)
	Cancel(ctx context.Context, escrowID, buyerID uuid.UUID) (*models.EscrowTransaction, error)
	Get(ctx context.Context, actor models.Actor, escrowID uuid.UUID) (*models.EscrowTransaction, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.EscrowTransaction, error)
	ListRevisions(ctx context.Context, actor models.Actor, escrowID uuid.UUID) ([]*models.WorkRevision, error)
}

// EscrowHandler serves /escrows endpoints.
type EscrowHandler struct {
	Escrow EscrowEngine
	Logger *slog.Logger
}

func NewEscrowHandler(escrow EscrowEngine, log *slog.Logger) *EscrowHandler {
	if log == nil {
		log = slog.Default()
	}
	return &EscrowHandler{Escrow: escrow, Logger: log}
}

// --- POST /escrows ---

type createEscrowRequest struct {
	SellerID      uuid.UUID       `json:"seller_id" validate:"required"`
	ReferenceType string          `json:"reference_type" validate:"required,oneof=product asset"`
	ReferenceID   uuid.UUID       `json:"reference_id" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description" validate:"max=500"`
}

// Create opens a direct-purchase escrow with the caller as buyer.
func (h *EscrowHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := Actor(w, r)
	if !ok {
		return
	}
	var req createEscrowRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteError(w, h.Logger, "create escrow", err)
		return
	}
	seller := req.SellerID
	e, err := h.Escrow.Open(r.Context(), services.OpenParams{
		BuyerID:       actor.UserID,
		SellerID:      &seller,
		ReferenceType: models.EscrowReference(req.ReferenceType),
		ReferenceID:   req.ReferenceID,
		Amount:        req.Amount,
		Description:   req.Description,
	})
	if err != nil {
		WriteError(w, h.Logger, "create escrow", err)
		return
	}
	WriteJSON(w, http.StatusCreated, e)
}

// --- GET /escrows ---

func (h *EscrowHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := Actor(w, r)
	if !ok {
		return
	}
	list, err := h.Escrow.ListForUser(r.Context(), actor.UserID)
	if err != nil {
		WriteError(w, h.Logger, "list escrows", err)
		return
	}
	if list == nil {
		list = []*models.EscrowTransaction{}
	}
	WriteJSON(w, http.StatusOK, list)
}

// --- GET /escrows/{id} ---

func (h *EscrowHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.withEscrow(w, r, "get escrow", func(ctx context.Context, actor models.Actor, id uuid.UUID) (any, error) {
		return h.Escrow.Get(ctx, actor, id)
	})
}

// --- GET /escrows/{id}/revisions ---

func (h *EscrowHandler) ListRevisions(w http.ResponseWriter, r *http.Request) {
	h.withEscrow(w, r, "list revisions", func(ctx context.Context, actor models.Actor, id uuid.UUID) (any, error) {
		revs, err := h.Escrow.ListRevisions(ctx, actor, id)
		if revs == nil {
			revs = []*models.WorkRevision{}
		}
		return revs, err
	})
}

// --- POST /escrows/{id}/work ---

type submitWorkRequest struct {
	Text   string   `json:"text" validate:"max=10000"`
	Images []string `json:"images" validate:"max=20,dive,url"`
}

func (h *EscrowHandler) SubmitWork(w http.ResponseWriter, r *http.Request) {
	var req submitWorkRequest
	h.withEscrowBody(w, r, "submit work", &req, func(ctx context.Context, actor models.Actor, id uuid.UUID) (any, error) {
		return h.Escrow.SubmitWork(ctx, id, actor.UserID, services.WorkSubmission{Text: req.Text, Images: req.Images})
	})
}

// --- POST /escrows/{id}/revision ---

type feedbackRequest struct {
	Feedback string `json:"feedback" validate:"required,max=5000"`
}

func (h *EscrowHandler) RequestRevision(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	h.withEscrowBody(w, r, "request revision", &req, func(ctx context.Context, actor models.Actor, id uuid.UUID) (any, error) {
		return h.Escrow.RequestRevision(ctx, id, actor.UserID, req.Feedback)
	})
}

// --- POST /escrows/{id}/approve ---

func (h *EscrowHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.withEscrow(w, r, "approve escrow", func(ctx context.Context, actor models.Actor, id uuid.UUID) (any, error) {
		return h.Escrow.Approve(ctx, id, actor.UserID)
	})
}

// --- POST /escrows/{id}/dispute ---

type disputeRequest struct {
	Reason string `json:"reason" validate:"required,max=5000"`
}

func (h *EscrowHandler) FileDispute(w http.ResponseWriter, r *http.Request) {
	var req disputeRequest
	h.withEscrowBody(w, r, "file dispute", &req, func(ctx context.Context, actor models.Actor, id uuid.UUID) (any, error) {
		return h.Escrow.FileDispute(ctx, id, actor.UserID, req.Reason)
	})
}

// --- POST /escrows/{id}/cancel ---

func (h *EscrowHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.withEscrow(w, r, "cancel escrow", func(ctx context.Context, actor models.Actor, id uuid.UUID) (any, error) {
		return h.Escrow.Cancel(ctx, id, actor.UserID)
	})
}

type escrowOp func(ctx context.Context, actor models.Actor, id uuid.UUID) (any, error)

func (h *EscrowHandler) withEscrow(w http.ResponseWriter, r *http.Request, op string, fn escrowOp) {
	actor, ok := Actor(w, r)
	if !ok {
		return
	}
	id, err := URLParamUUID(r, "id")
	if err != nil {
		WriteError(w, h.Logger, op, err)
		return
	}
	out, err := fn(r.Context(), actor, id)
	if err != nil {
		WriteError(w, h.Logger, op, err)
		return
	}
	WriteJSON(w, http.StatusOK, out)
}

func (h *EscrowHandler) withEscrowBody(w http.ResponseWriter, r *http.Request, op string, body any, fn escrowOp) {
	if _, ok := Actor(w, r); !ok {
		return
	}
	if err := DecodeJSON(w, r, body); err != nil {
		WriteError(w, h.Logger, op, err)
		return
	}
	h.withEscrow(w, r, op, fn)
}
