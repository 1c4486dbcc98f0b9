package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/wificontrol/wificontrol-pro/internal/domain"
	"github.com/wificontrol/wificontrol-pro/internal/ws"
)

const simulatedPaymentMethod = "Stripe (Simulado)"

// TransactionStore records ledger rows
type TransactionStore interface {
	Create(ctx context.Context, tx *domain.FinancialTransaction) error
}

// ClientStats updates client credits and fidelity points
type ClientStats interface {
	IncrementStats(ctx context.Context, id uuid.UUID, credits, points int) error
	AddStats(ctx context.Context, id uuid.UUID, credits, points int) error
}

// RechargeRequest is the body of a credit recharge
type RechargeRequest struct {
	PlanID     string    `json:"planId"`
	ClientID   uuid.UUID `json:"clientId"`
	ClientName string    `json:"clientName"`
}

// RechargeResult is returned to the dashboard
type RechargeResult struct {
	Success       bool      `json:"success"`
	Message       string    `json:"message"`
	TransactionID uuid.UUID `json:"transactionId"`
	PointsEarned  int       `json:"pointsEarned"`
	Credits       int       `json:"credits"`
}

// ErrRechargeFailed means neither the ledger row nor the client totals were written
var ErrRechargeFailed = errors.New("recharge failed")

// BillingService is the credit recharge hook. Payment is simulated.
type BillingService struct {
	transactions TransactionStore
	clients      ClientStats
	hub          Broadcaster
}

func NewBillingService(transactions TransactionStore, clients ClientStats, hub Broadcaster) *BillingService {
	return &BillingService{transactions: transactions, clients: clients, hub: hub}
}

// Recharge records the purchase and credits the client. Unknown plans fall back to basic.
func (s *BillingService) Recharge(ctx context.Context, req RechargeRequest) (*RechargeResult, error) {
	plan := domain.PlanByID(req.PlanID)
	points := plan.Points()
	log.Printf("[Billing] Recharge requested for plan %s, client %s (%s)", plan.ID, req.ClientID, req.ClientName)

	clientID := req.ClientID
	tx := &domain.FinancialTransaction{
		Amount:        plan.Price,
		Type:          domain.TransactionIncome,
		Description:   "Recarga de Créditos - " + plan.Name,
		PaymentMethod: simulatedPaymentMethod,
		ClientName:    req.ClientName,
		ClientID:      &clientID,
	}
	txErr := s.transactions.Create(ctx, tx)
	if txErr != nil {
		log.Printf("[Billing] Error recording transaction for %s: %v", req.ClientID, txErr)
	}

	statsErr := s.clients.IncrementStats(ctx, req.ClientID, plan.Credits, points)
	if statsErr != nil {
		log.Printf("[Billing] increment_client_stats failed for %s, attempting manual update: %v", req.ClientID, statsErr)
		statsErr = s.clients.AddStats(ctx, req.ClientID, plan.Credits, points)
		if statsErr != nil {
			log.Printf("[Billing] Manual stats update failed for %s: %v", req.ClientID, statsErr)
		}
	}

	if txErr != nil && statsErr != nil {
		return nil, fmt.Errorf("%w: transaction: %v; stats: %v", ErrRechargeFailed, txErr, statsErr)
	}

	result := &RechargeResult{
		Success:       true,
		Message:       fmt.Sprintf("Recarga de R$ %.2f processada com sucesso para %s!", plan.Price, req.ClientName),
		TransactionID: tx.ID,
		PointsEarned:  points,
		Credits:       plan.Credits,
	}
	if result.TransactionID == uuid.Nil {
		result.TransactionID = uuid.New()
	}

	if s.hub != nil {
		s.hub.Broadcast(ws.EventCreditRecharged, map[string]interface{}{
			"client_id":     req.ClientID,
			"plan":          plan.ID,
			"credits":       plan.Credits,
			"points_earned": points,
		})
	}
	return result, nil
}
