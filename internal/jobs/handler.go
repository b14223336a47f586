package jobs

import (
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/hmos/marketplace/internal/handlers"
	"github.com/hmos/marketplace/internal/models"
	"github.com/hmos/marketplace/internal/services"
)

// Request structs use snake_case JSON like the rest of the API.

type CreateJobRequest struct {
	Title       string          `json:"title" validate:"required,max=200"`
	Description string          `json:"description" validate:"required,max=10000"`
	Category    string          `json:"category" validate:"max=100"`
	Budget      decimal.Decimal `json:"budget"`
	MaxBids     int             `json:"max_bids" validate:"gte=0,lte=100"`
}

type PlaceBidRequest struct {
	Amount   decimal.Decimal `json:"bid_amount"`
	Proposal string          `json:"proposal" validate:"required,max=5000"`
}

type SubmitWorkRequest struct {
	Text   string   `json:"text" validate:"max=10000"`
	Images []string `json:"images" validate:"max=20,dive,url"`
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// POST /jobs
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	actor, ok := handlers.Actor(w, r)
	if !ok {
		return
	}
	var req CreateJobRequest
	if err := handlers.DecodeJSON(w, r, &req); err != nil {
		handlers.WriteError(w, h.log, "create job", err)
		return
	}
	job, err := h.svc.PostJob(r.Context(), PostJobInput{
		BuyerID:     actor.UserID,
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Budget:      req.Budget,
		MaxBids:     req.MaxBids,
	})
	if err != nil {
		handlers.WriteError(w, h.log, "create job", err)
		return
	}
	h.log.Info("job posted", "job_id", job.ID, "buyer_id", job.BuyerID, "budget", job.Budget.StringFixed(2))
	handlers.WriteJSON(w, http.StatusCreated, job)
}

// GET /jobs lists open jobs.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	if _, ok := handlers.Actor(w, r); !ok {
		return
	}
	list, err := h.svc.ListOpenJobs(r.Context())
	if err != nil {
		handlers.WriteError(w, h.log, "list jobs", err)
		return
	}
	if list == nil {
		list = []*models.JobPosting{}
	}
	handlers.WriteJSON(w, http.StatusOK, list)
}

// GET /jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	if _, ok := handlers.Actor(w, r); !ok {
		return
	}
	id, err := handlers.URLParamUUID(r, "id")
	if err != nil {
		handlers.WriteError(w, h.log, "get job", err)
		return
	}
	job, err := h.svc.GetJob(r.Context(), id)
	if err != nil {
		handlers.WriteError(w, h.log, "get job", err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, job)
}

// POST /jobs/{id}/bids
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	actor, ok := handlers.Actor(w, r)
	if !ok {
		return
	}
	id, err := handlers.URLParamUUID(r, "id")
	if err != nil {
		handlers.WriteError(w, h.log, "place bid", err)
		return
	}
	var req PlaceBidRequest
	if err := handlers.DecodeJSON(w, r, &req); err != nil {
		handlers.WriteError(w, h.log, "place bid", err)
		return
	}
	bid, err := h.svc.PlaceBid(r.Context(), BidInput{JobID: id, SellerID: actor.UserID, Amount: req.Amount, Proposal: req.Proposal})
	if err != nil {
		handlers.WriteError(w, h.log, "place bid", err)
		return
	}
	handlers.WriteJSON(w, http.StatusCreated, bid)
}

// GET /jobs/{id}/bids
func (h *Handler) ListBids(w http.ResponseWriter, r *http.Request) {
	actor, ok := handlers.Actor(w, r)
	if !ok {
		return
	}
	id, err := handlers.URLParamUUID(r, "id")
	if err != nil {
		handlers.WriteError(w, h.log, "list bids", err)
		return
	}
	bids, err := h.svc.ListBids(r.Context(), actor, id)
	if err != nil {
		handlers.WriteError(w, h.log, "list bids", err)
		return
	}
	if bids == nil {
		bids = []*models.JobBid{}
	}
	handlers.WriteJSON(w, http.StatusOK, bids)
}

// POST /jobs/{id}/bids/{bidID}/accept
func (h *Handler) AcceptBid(w http.ResponseWriter, r *http.Request) {
	actor, ok := handlers.Actor(w, r)
	if !ok {
		return
	}
	id, err := handlers.URLParamUUID(r, "id")
	if err != nil {
		handlers.WriteError(w, h.log, "accept bid", err)
		return
	}
	bidID, err := handlers.URLParamUUID(r, "bidID")
	if err != nil {
		handlers.WriteError(w, h.log, "accept bid", err)
		return
	}
	job, err := h.svc.AcceptBid(r.Context(), id, actor.UserID, bidID)
	if err != nil {
		handlers.WriteError(w, h.log, "accept bid", err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, job)
}

// POST /jobs/{id}/work
func (h *Handler) SubmitWork(w http.ResponseWriter, r *http.Request) {
	actor, ok := handlers.Actor(w, r)
	if !ok {
		return
	}
	id, err := handlers.URLParamUUID(r, "id")
	if err != nil {
		handlers.WriteError(w, h.log, "submit work", err)
		return
	}
	var req SubmitWorkRequest
	if err := handlers.DecodeJSON(w, r, &req); err != nil {
		handlers.WriteError(w, h.log, "submit work", err)
		return
	}
	e, err := h.svc.SubmitWork(r.Context(), id, actor.UserID, services.WorkSubmission{Text: req.Text, Images: req.Images})
	if err != nil {
		handlers.WriteError(w, h.log, "submit work", err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, e)
}

// POST /jobs/{id}/approve
func (h *Handler) ApproveWork(w http.ResponseWriter, r *http.Request) {
	actor, ok := handlers.Actor(w, r)
	if !ok {
		return
	}
	id, err := handlers.URLParamUUID(r, "id")
	if err != nil {
		handlers.WriteError(w, h.log, "approve work", err)
		return
	}
	e, err := h.svc.ApproveWork(r.Context(), id, actor.UserID)
	if err != nil {
		handlers.WriteError(w, h.log, "approve work", err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, e)
}

// POST /jobs/{id}/cancel
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	actor, ok := handlers.Actor(w, r)
	if !ok {
		return
	}
	id, err := handlers.URLParamUUID(r, "id")
	if err != nil {
		handlers.WriteError(w, h.log, "cancel job", err)
		return
	}
	job, err := h.svc.CancelJob(r.Context(), id, actor.UserID)
	if err != nil {
		handlers.WriteError(w, h.log, "cancel job", err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, job)
}
