package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Domenick1991/farmrent/internal/domain"
	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
	"go.uber.org/zap"
)

// chargeAPI is the slice of the Omise API the gateway uses.
type chargeAPI interface {
	CreateSource(sourceType string, amount int64, currency string) (*omise.Source, error)
	CreateCharge(bookingID string, amount int64, currency, sourceID string) (*omise.Charge, error)
	RetrieveCharge(chargeID string) (*omise.Charge, error)
}

type omiseAPI struct {
	client *omise.Client
}

func (a omiseAPI) CreateSource(sourceType string, amount int64, currency string) (*omise.Source, error) {
	src := &omise.Source{}
	err := a.client.Do(src, &operations.CreateSource{Type: sourceType, Amount: amount, Currency: currency})
	return src, err
}

func (a omiseAPI) CreateCharge(bookingID string, amount int64, currency, sourceID string) (*omise.Charge, error) {
	ch := &omise.Charge{}
	err := a.client.Do(ch, &operations.CreateCharge{
		Amount:   amount,
		Currency: currency,
		Source:   sourceID,
		Metadata: map[string]any{"booking_id": bookingID},
	})
	return ch, err
}

func (a omiseAPI) RetrieveCharge(chargeID string) (*omise.Charge, error) {
	ch := &omise.Charge{}
	err := a.client.Do(ch, &operations.RetrieveCharge{ChargeID: chargeID})
	return ch, err
}

// Omise creates a charge against a fresh payment source and reports its
// outcome. The charge id is the order reference handed back to the farmer.
type Omise struct {
	api        chargeAPI
	currency   string
	sourceType string
	log        *zap.Logger
}

func NewOmise(publicKey, secretKey, currency, sourceType string, log *zap.Logger) (*Omise, error) {
	client, err := omise.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, fmt.Errorf("omise client: %w", err)
	}
	client.SetDebug(false)
	return newOmise(omiseAPI{client: client}, currency, sourceType, log), nil
}

func newOmise(api chargeAPI, currency, sourceType string, log *zap.Logger) *Omise {
	if log == nil {
		log = zap.NewNop()
	}
	if currency == "" {
		currency = "thb"
	}
	if sourceType == "" {
		sourceType = "promptpay"
	}
	return &Omise{api: api, currency: strings.ToLower(currency), sourceType: sourceType, log: log.Named("gateway.omise")}
}

func (g *Omise) Initiate(ctx context.Context, bookingID string, amount int64) (string, error) {
	if amount <= 0 {
		return "", errors.New("amount must be positive")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	src, err := g.api.CreateSource(g.sourceType, amount, g.currency)
	if err != nil {
		return "", fmt.Errorf("create source: %w", err)
	}
	ch, err := g.api.CreateCharge(bookingID, amount, g.currency, src.ID)
	if err != nil {
		return "", fmt.Errorf("create charge: %w", err)
	}

	g.log.Info("charge created",
		zap.String("booking_id", bookingID),
		zap.String("charge_id", ch.ID),
		zap.String("status", string(ch.Status)))
	return ch.ID, nil
}

func (g *Omise) Confirm(ctx context.Context, orderRef string) (domain.PaymentOutcome, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ch, err := g.api.RetrieveCharge(orderRef)
	if err != nil {
		return "", fmt.Errorf("retrieve charge %s: %w", orderRef, err)
	}

	switch string(ch.Status) {
	case "successful":
		return domain.PaymentOutcomeSuccess, nil
	case "failed", "expired", "reversed":
		fields := []zap.Field{zap.String("charge_id", ch.ID), zap.String("status", string(ch.Status))}
		if ch.FailureCode != nil {
			fields = append(fields, zap.String("failure_code", *ch.FailureCode))
		}
		g.log.Warn("charge not paid", fields...)
		return domain.PaymentOutcomeFailure, nil
	default:
		return domain.PaymentOutcomePending, nil
	}
}
